package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Sender is the SMS transport. Implementations are configured once at startup
// and injected into the Dispatcher.
type Sender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// HTTPSender posts messages to a JSON SMS gateway API.
type HTTPSender struct {
	apiURL   string
	apiKey   string
	senderID string
	client   *http.Client
}

// NewHTTPSender builds an HTTPSender for the configured gateway endpoint.
func NewHTTPSender(apiURL, apiKey, senderID string) *HTTPSender {
	return &HTTPSender{
		apiURL:   apiURL,
		apiKey:   apiKey,
		senderID: senderID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSender) SendSMS(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(map[string]string{
		"to":      to,
		"message": body,
		"sender":  s.senderID,
	})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post sms: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}
	return nil
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// FakeSender is a recording test double for Sender.
type FakeSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (f *FakeSender) SendSMS(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, SMSCall{To: to, Body: body})
	if f.ShouldFail {
		return errors.New(f.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (f *FakeSender) Calls() []SMSCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SMSCall, len(f.calls))
	copy(out, f.calls)
	return out
}
