package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/gateway"
	"github.com/clinic/clinic/internal/platform/notification"
)

const (
	testKeyID     = "rzp_test_key"
	testKeySecret = "rzp_test_secret"
)

// -- Mock Repository --

type mockRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*Payment
}

func newMockRepo() *mockRepo {
	return &mockRepo{payments: make(map[uuid.UUID]*Payment)}
}

func (m *mockRepo) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment: %w", apperr.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetByOrderID(_ context.Context, orderID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.RazorpayOrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("payment: %w", apperr.ErrNotFound)
}

func (m *mockRepo) UpdateStatus(_ context.Context, p *Payment, expected Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok || stored.Status != expected {
		return fmt.Errorf("payment %s: status changed concurrently: %w", p.ID, apperr.ErrInvalidTransition)
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *mockRepo) Search(_ context.Context, params SearchParams) ([]*Payment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*Payment
	for _, p := range m.payments {
		if params.UserID != nil && (p.UserID == nil || *p.UserID != *params.UserID) {
			continue
		}
		if params.Status != nil && p.Status != *params.Status {
			continue
		}
		cp := *p
		items = append(items, &cp)
	}
	return items, len(items), nil
}

func (m *mockRepo) CompletedSince(_ context.Context, cutoff time.Time) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*Payment
	for _, p := range m.payments {
		if p.Status == StatusCompleted && p.PaidAt != nil && !p.PaidAt.Before(cutoff) {
			cp := *p
			items = append(items, &cp)
		}
	}
	return items, nil
}

// -- Fake Gateway --

type fakeGateway struct {
	mu         sync.Mutex
	orderSeq   int
	refundSeq  int
	failOrders bool
	failRefund bool
	refunds    []string // payment ids refunded
}

func (g *fakeGateway) CreateOrder(_ context.Context, amount int64, currency, receipt string, _ map[string]interface{}) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failOrders {
		return nil, fmt.Errorf("create order: %w", apperr.ErrUpstreamFailure)
	}
	g.orderSeq++
	return &gateway.Order{
		ID:       fmt.Sprintf("order_%03d", g.orderSeq),
		Amount:   amount,
		Currency: currency,
	}, nil
}

func (g *fakeGateway) Refund(_ context.Context, paymentID string, amount int64, _ map[string]interface{}) (*gateway.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failRefund {
		return nil, fmt.Errorf("refund: %w", apperr.ErrUpstreamFailure)
	}
	g.refundSeq++
	g.refunds = append(g.refunds, paymentID)
	return &gateway.Refund{ID: fmt.Sprintf("rfnd_%03d", g.refundSeq), Amount: amount}, nil
}

// -- Fake Booking Source --

type fakeSource struct {
	mu       sync.Mutex
	info     *BookingInfo
	infoErr  error
	attached map[uuid.UUID]uuid.UUID // booking id -> payment id
	missing  bool
}

func newFakeSource(info *BookingInfo) *fakeSource {
	return &fakeSource{info: info, attached: make(map[uuid.UUID]uuid.UUID)}
}

func (f *fakeSource) PaymentInfo(_ context.Context, _ uuid.UUID) (*BookingInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeSource) AttachPayment(_ context.Context, bookingID, paymentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing {
		return fmt.Errorf("booking: %w", apperr.ErrNotFound)
	}
	f.attached[bookingID] = paymentID
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification.Kind
}

func (f *fakeNotifier) Notify(kind notification.Kind, _ string, _ notification.Args) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, kind)
}

// -- Fixtures --

func passTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc      *Service
	repo     *mockRepo
	gw       *fakeGateway
	source   *fakeSource
	notifier *fakeNotifier
	patient  uuid.UUID
	booking  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	patientID := uuid.New()
	f := &fixture{
		repo:     newMockRepo(),
		gw:       &fakeGateway{},
		notifier: &fakeNotifier{},
		patient:  patientID,
		booking:  uuid.New(),
	}
	f.source = newFakeSource(&BookingInfo{
		Amount:    800,
		PatientID: &patientID,
		Name:      "Asha",
		Phone:     "+919800000001",
		Reference: "APT-deadbeef",
	})
	f.svc = NewService(f.repo, f.gw, passTx,
		map[BookingKind]BookingSource{KindAppointment: f.source},
		testKeyID, testKeySecret, f.notifier)
	return f
}

func (f *fixture) patientActor() auth.Actor {
	return auth.Actor{ID: f.patient, Role: auth.RolePatient}
}

func (f *fixture) createOrder(t *testing.T) *OrderResponse {
	t.Helper()
	resp, err := f.svc.CreateOrder(context.Background(), KindAppointment, f.booking, 800, f.patientActor(), "")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return resp
}

// -- CreateOrder --

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)

	if resp.Amount != 80000 {
		t.Errorf("amount = %d paise, want 80000", resp.Amount)
	}
	if resp.KeyID != testKeyID {
		t.Errorf("key_id = %s", resp.KeyID)
	}
	if resp.OrderID == "" {
		t.Error("order_id empty")
	}

	p, err := f.repo.GetByID(context.Background(), resp.PaymentID)
	if err != nil {
		t.Fatalf("payment not persisted: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("status = %s, want pending", p.Status)
	}
	if p.Amount != 800 {
		t.Errorf("stored amount = %d rupees, want 800", p.Amount)
	}
	if p.UserID == nil || *p.UserID != f.patient {
		t.Error("payment not attributed to patient")
	}
}

func TestCreateOrderAmountMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), KindAppointment, f.booking, 801, f.patientActor(), "")
	if !errors.Is(err, apperr.ErrAmountMismatch) {
		t.Errorf("err = %v, want ErrAmountMismatch", err)
	}
}

func TestCreateOrderForeignPatient(t *testing.T) {
	f := newFixture(t)
	other := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
	_, err := f.svc.CreateOrder(context.Background(), KindAppointment, f.booking, 800, other, "")
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestCreateOrderGuestPhone(t *testing.T) {
	f := newFixture(t)
	f.source.info.PatientID = nil

	if _, err := f.svc.CreateOrder(context.Background(), KindAppointment, f.booking, 800, auth.Actor{}, "+919800000001"); err != nil {
		t.Errorf("matching guest phone: %v", err)
	}
	_, err := f.svc.CreateOrder(context.Background(), KindAppointment, f.booking, 800, auth.Actor{}, "+919999999999")
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("mismatched guest phone err = %v, want ErrForbidden", err)
	}
}

func TestCreateOrderStaffBypassesOwnership(t *testing.T) {
	f := newFixture(t)
	staff := auth.Actor{ID: uuid.New(), Role: auth.RoleReceptionist}
	if _, err := f.svc.CreateOrder(context.Background(), KindAppointment, f.booking, 800, staff, ""); err != nil {
		t.Errorf("receptionist should create orders for any booking: %v", err)
	}
}

func TestCreateOrderBookingNotFound(t *testing.T) {
	f := newFixture(t)
	f.source.infoErr = fmt.Errorf("appointment: %w", apperr.ErrNotFound)
	_, err := f.svc.CreateOrder(context.Background(), KindAppointment, f.booking, 800, f.patientActor(), "")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateOrderGatewayDown(t *testing.T) {
	f := newFixture(t)
	f.gw.failOrders = true
	_, err := f.svc.CreateOrder(context.Background(), KindAppointment, f.booking, 800, f.patientActor(), "")
	if !errors.Is(err, apperr.ErrUpstreamFailure) {
		t.Errorf("err = %v, want ErrUpstreamFailure", err)
	}
	if len(f.repo.payments) != 0 {
		t.Error("no payment row should exist after a gateway failure")
	}
}

// -- VerifyPayment --

func TestVerifyPayment(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)
	sig := gateway.Sign(testKeySecret, resp.OrderID, "pay_001")

	p, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_001", sig)
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if p.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", p.Status)
	}
	if p.PaidAt == nil {
		t.Error("paid_at not stamped")
	}
	if p.RazorpayPaymentID == nil || *p.RazorpayPaymentID != "pay_001" {
		t.Error("gateway payment id not recorded")
	}
	if got := f.source.attached[f.booking]; got != p.ID {
		t.Errorf("booking link = %s, want %s", got, p.ID)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0] != notification.KindPaymentSuccess {
		t.Errorf("notifications = %v, want one payment-success", f.notifier.sent)
	}
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)

	_, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_001", "forged")
	if !errors.Is(err, apperr.ErrSignatureInvalid) {
		t.Errorf("err = %v, want ErrSignatureInvalid", err)
	}
	p, _ := f.repo.GetByID(context.Background(), resp.PaymentID)
	if p.Status != StatusPending {
		t.Errorf("status = %s, a failed verification must not complete the payment", p.Status)
	}
	if len(f.source.attached) != 0 {
		t.Error("booking must not be linked on signature mismatch")
	}
}

func TestVerifyPaymentTamperedPaymentID(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)
	sig := gateway.Sign(testKeySecret, resp.OrderID, "pay_001")

	_, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_002", sig)
	if !errors.Is(err, apperr.ErrSignatureInvalid) {
		t.Errorf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestVerifyPaymentUnknownOrder(t *testing.T) {
	f := newFixture(t)
	sig := gateway.Sign(testKeySecret, "order_missing", "pay_001")
	_, err := f.svc.VerifyPayment(context.Background(), "order_missing", "pay_001", sig)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestVerifyPaymentForgedSignatureLeaksNothing(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)
	sig := gateway.Sign(testKeySecret, resp.OrderID, "pay_001")
	if _, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_001", sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// A caller without the key secret must get the same error for a
	// completed order as for a pending or unknown one.
	_, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_001", "forged")
	if !errors.Is(err, apperr.ErrSignatureInvalid) {
		t.Errorf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestVerifyPaymentTwice(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)
	sig := gateway.Sign(testKeySecret, resp.OrderID, "pay_001")

	if _, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_001", sig); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	_, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_001", sig)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("second verify err = %v, want ErrInvalidState", err)
	}
}

func TestVerifyPaymentBookingMissing(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)
	f.source.missing = true
	sig := gateway.Sign(testKeySecret, resp.OrderID, "pay_001")

	p, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_001", sig)
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if p.Status != StatusCompleted {
		t.Errorf("status = %s, captured money must be recorded even without the booking", p.Status)
	}
}

// -- RefundPayment --

func TestRefundPayment(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)
	sig := gateway.Sign(testKeySecret, resp.OrderID, "pay_001")
	if _, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_001", sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	p, err := f.svc.RefundPayment(context.Background(), resp.PaymentID, "appointment cancelled")
	if err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if p.Status != StatusRefunded {
		t.Errorf("status = %s, want refunded", p.Status)
	}
	if p.RefundAmount == nil || *p.RefundAmount != 800 {
		t.Errorf("refund amount = %v, want 800 rupees", p.RefundAmount)
	}
	if p.RefundReason == nil || *p.RefundReason != "appointment cancelled" {
		t.Error("refund reason not recorded")
	}
	if len(f.gw.refunds) != 1 || f.gw.refunds[0] != "pay_001" {
		t.Errorf("gateway refunds = %v", f.gw.refunds)
	}
}

func TestRefundPendingPayment(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)

	_, err := f.svc.RefundPayment(context.Background(), resp.PaymentID, "")
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
	if len(f.gw.refunds) != 0 {
		t.Error("gateway must not be called for a pending payment")
	}
}

func TestRefundTwice(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)
	sig := gateway.Sign(testKeySecret, resp.OrderID, "pay_001")
	if _, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_001", sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := f.svc.RefundPayment(context.Background(), resp.PaymentID, ""); err != nil {
		t.Fatalf("first refund: %v", err)
	}

	_, err := f.svc.RefundPayment(context.Background(), resp.PaymentID, "")
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("second refund err = %v, want ErrInvalidState", err)
	}
	if len(f.gw.refunds) != 1 {
		t.Errorf("gateway refunds = %d, want exactly 1", len(f.gw.refunds))
	}
}

func TestRefundGatewayDown(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)
	sig := gateway.Sign(testKeySecret, resp.OrderID, "pay_001")
	if _, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_001", sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	f.gw.failRefund = true

	_, err := f.svc.RefundPayment(context.Background(), resp.PaymentID, "")
	if !errors.Is(err, apperr.ErrUpstreamFailure) {
		t.Errorf("err = %v, want ErrUpstreamFailure", err)
	}
	p, _ := f.repo.GetByID(context.Background(), resp.PaymentID)
	if p.Status != StatusCompleted {
		t.Errorf("status = %s, a failed gateway refund must not change local state", p.Status)
	}
}

// -- Reconcile --

func TestReconcileRelinksOrphans(t *testing.T) {
	f := newFixture(t)
	resp := f.createOrder(t)
	f.source.missing = true
	sig := gateway.Sign(testKeySecret, resp.OrderID, "pay_001")
	if _, err := f.svc.VerifyPayment(context.Background(), resp.OrderID, "pay_001", sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(f.source.attached) != 0 {
		t.Fatal("precondition: booking unlinked")
	}

	// Booking row shows up again; the sweep must repair the link.
	f.source.missing = false
	if err := f.svc.Reconcile(context.Background(), time.Hour); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := f.source.attached[f.booking]; got != resp.PaymentID {
		t.Errorf("reconciled link = %s, want %s", got, resp.PaymentID)
	}
}
