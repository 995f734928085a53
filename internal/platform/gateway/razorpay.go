// Package gateway wraps the Razorpay client behind a small interface so the
// payment service can be exercised against a fake in tests. All calls carry a
// bounded timeout; the SDK itself does not accept a context.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// Order is a gateway order minted for a booking.
type Order struct {
	ID       string
	Amount   int64 // paise
	Currency string
}

// Refund is the gateway's record of an executed refund.
type Refund struct {
	ID     string
	Amount int64 // paise
}

// Gateway is the payment-gateway surface the payment service depends on.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]interface{}) (*Order, error)
	Refund(ctx context.Context, paymentID string, amount int64, notes map[string]interface{}) (*Refund, error)
}

// Razorpay implements Gateway against the live Razorpay API.
type Razorpay struct {
	client  *razorpay.Client
	timeout time.Duration
}

// NewRazorpay constructs a Razorpay gateway from the key pair. Calls that
// exceed timeout fail with ErrUpstreamFailure instead of hanging the request.
func NewRazorpay(keyID, keySecret string, timeout time.Duration) *Razorpay {
	return &Razorpay{
		client:  razorpay.NewClient(keyID, keySecret),
		timeout: timeout,
	}
}

func (g *Razorpay) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]interface{}) (*Order, error) {
	data := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	body, err := g.call(ctx, func() (map[string]interface{}, error) {
		return g.client.Order.Create(data, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w: %v", apperr.ErrUpstreamFailure, err)
	}

	id, _ := body["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("create order: %w: response missing order id", apperr.ErrUpstreamFailure)
	}
	return &Order{ID: id, Amount: amount, Currency: currency}, nil
}

func (g *Razorpay) Refund(ctx context.Context, paymentID string, amount int64, notes map[string]interface{}) (*Refund, error) {
	data := map[string]interface{}{}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	body, err := g.call(ctx, func() (map[string]interface{}, error) {
		return g.client.Payment.Refund(paymentID, int(amount), data, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("refund %s: %w: %v", paymentID, apperr.ErrUpstreamFailure, err)
	}

	id, _ := body["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("refund %s: %w: response missing refund id", paymentID, apperr.ErrUpstreamFailure)
	}
	return &Refund{ID: id, Amount: amount}, nil
}

type callResult struct {
	body map[string]interface{}
	err  error
}

// call runs fn in a goroutine so the caller's deadline is honored even though
// the SDK blocks. A timed-out SDK call is abandoned; its write, if it ever
// lands, is picked up by the reconciliation sweep.
func (g *Razorpay) call(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		body, err := fn()
		done <- callResult{body: body, err: err}
	}()

	select {
	case res := <-done:
		return res.body, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sign computes the checkout signature Razorpay generates for a completed
// payment: hex-encoded HMAC-SHA256 over "orderID|paymentID" keyed with the
// key secret.
func Sign(keySecret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the expected HMAC for the
// order/payment pair. The comparison is constant time; this check is the sole
// authentication that the payment really happened.
func VerifySignature(keySecret, orderID, paymentID, signature string) bool {
	expected := Sign(keySecret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
