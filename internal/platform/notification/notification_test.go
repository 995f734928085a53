package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRender(t *testing.T) {
	body := Render(KindConfirmed, Args{
		Name:        "Asha",
		Counterpart: "Dr. Rao",
		Date:        "2026-09-12",
		Time:        "10:30",
		Reference:   "APT-42",
	})
	want := "Dear Asha, your appointment with Dr. Rao on 2026-09-12 at 10:30 is confirmed. Ref: APT-42."
	if body != want {
		t.Errorf("Render = %q, want %q", body, want)
	}
}

func TestRender_AllKindsHaveTemplates(t *testing.T) {
	kinds := []Kind{
		KindBooked, KindConfirmed, KindCancelled,
		KindTestBooked, KindTestConfirmed, KindReportReady, KindPaymentSuccess,
	}
	for _, k := range kinds {
		if Render(k, Args{Name: "x"}) == "" {
			t.Errorf("no template for kind %q", k)
		}
	}
}

func TestRender_UnknownKind(t *testing.T) {
	if Render(Kind("nonsense"), Args{}) != "" {
		t.Error("expected empty render for unknown kind")
	}
}

func TestDispatcher_DeliversInBackground(t *testing.T) {
	sender := &FakeSender{}
	d := NewDispatcher(sender, zerolog.Nop(), 8)

	d.Notify(KindBooked, "+911234567890", Args{Name: "Asha", Reference: "APT-1"})
	d.Notify(KindPaymentSuccess, "+911234567890", Args{Name: "Asha", Reference: "APT-1"})
	d.Close()

	calls := sender.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].To != "+911234567890" {
		t.Errorf("calls[0].To = %q", calls[0].To)
	}
	if !strings.Contains(calls[0].Body, "APT-1") {
		t.Errorf("body missing reference: %q", calls[0].Body)
	}
}

func TestDispatcher_SwallowsSenderFailure(t *testing.T) {
	sender := &FakeSender{ShouldFail: true, FailError: "gateway down"}
	d := NewDispatcher(sender, zerolog.Nop(), 8)

	// Must not panic or propagate anything.
	d.Notify(KindCancelled, "+911111111111", Args{Name: "Asha", Reference: "APT-2"})
	d.Close()

	if len(sender.Calls()) != 1 {
		t.Fatalf("expected the send to have been attempted")
	}
}

func TestDispatcher_SkipsEmptyPhone(t *testing.T) {
	sender := &FakeSender{}
	d := NewDispatcher(sender, zerolog.Nop(), 8)
	d.Notify(KindBooked, "", Args{Name: "Asha"})
	d.Close()

	if len(sender.Calls()) != 0 {
		t.Fatal("expected no send for empty phone")
	}
}

func TestHTTPSender(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "key123", "CLINIC")
	if err := s.SendSMS(context.Background(), "+919999999999", "hello"); err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if gotAuth != "Bearer key123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["to"] != "+919999999999" || gotBody["message"] != "hello" || gotBody["sender"] != "CLINIC" {
		t.Errorf("payload = %v", gotBody)
	}
}

func TestHTTPSender_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "key", "CLINIC")
	if err := s.SendSMS(context.Background(), "+91", "hello"); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
