package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/gateway"
	"github.com/clinic/clinic/internal/platform/notification"
)

// BookingInfo is the payment-relevant view of a booking. Amount is the
// authoritative price in rupees; PatientID is nil for guest bookings.
type BookingInfo struct {
	Amount    int64
	PatientID *uuid.UUID
	Name      string
	Phone     string
	Reference string
}

// BookingSource adapts one booking domain (appointments, test bookings) to
// the payment flow. AttachPayment is idempotent so the reconciliation sweep
// can replay it.
type BookingSource interface {
	PaymentInfo(ctx context.Context, bookingID uuid.UUID) (*BookingInfo, error)
	AttachPayment(ctx context.Context, bookingID, paymentID uuid.UUID) error
}

// TxRunner runs fn atomically. The production runner wraps db.InTx over the
// pgx pool; tests substitute a pass-through.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// OrderResponse is what the checkout page needs to open the gateway widget.
// Only the publishable key id leaves the server.
type OrderResponse struct {
	PaymentID uuid.UUID `json:"payment_id"`
	OrderID   string    `json:"order_id"`
	Amount    int64     `json:"amount"` // paise, as the widget expects
	Currency  string    `json:"currency"`
	KeyID     string    `json:"key_id"`
}

type Service struct {
	repo      Repository
	gw        gateway.Gateway
	inTx      TxRunner
	sources   map[BookingKind]BookingSource
	keyID     string
	keySecret string
	notifier  notification.Notifier
}

func NewService(repo Repository, gw gateway.Gateway, inTx TxRunner, sources map[BookingKind]BookingSource, keyID, keySecret string, notifier notification.Notifier) *Service {
	return &Service{
		repo:      repo,
		gw:        gw,
		inTx:      inTx,
		sources:   sources,
		keyID:     keyID,
		keySecret: keySecret,
		notifier:  notifier,
	}
}

func (s *Service) source(kind BookingKind) (BookingSource, error) {
	src, ok := s.sources[kind]
	if !ok {
		return nil, fmt.Errorf("unknown booking kind %q: %w", kind, apperr.ErrInvalidState)
	}
	return src, nil
}

// CreateOrder mints a gateway order for a booking and records a pending
// payment. The client-quoted amount must match the authoritative price, and
// the caller must own the booking: registered patients by id, guests by the
// phone the booking was made with.
func (s *Service) CreateOrder(ctx context.Context, kind BookingKind, bookingID uuid.UUID, amount int64, actor auth.Actor, guestPhone string) (*OrderResponse, error) {
	src, err := s.source(kind)
	if err != nil {
		return nil, err
	}
	info, err := src.PaymentInfo(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if err := checkOwnership(info, actor, guestPhone); err != nil {
		return nil, err
	}
	if amount != info.Amount {
		return nil, fmt.Errorf("quoted %d, booking is %d: %w", amount, info.Amount, apperr.ErrAmountMismatch)
	}

	order, err := s.gw.CreateOrder(ctx, info.Amount*100, "INR", info.Reference, map[string]interface{}{
		"booking_kind": string(kind),
		"booking_id":   bookingID.String(),
	})
	if err != nil {
		return nil, err
	}

	p := &Payment{
		UserID:          info.PatientID,
		BookingKind:     kind,
		BookingID:       bookingID,
		Amount:          info.Amount,
		Currency:        order.Currency,
		RazorpayOrderID: order.ID,
		Status:          StatusPending,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	return &OrderResponse{
		PaymentID: p.ID,
		OrderID:   order.ID,
		Amount:    order.Amount,
		Currency:  order.Currency,
		KeyID:     s.keyID,
	}, nil
}

func checkOwnership(info *BookingInfo, actor auth.Actor, guestPhone string) error {
	if actor.Role != "" && actor.Role != auth.RolePatient {
		return nil
	}
	if info.PatientID != nil {
		if actor.ID == uuid.Nil || *info.PatientID != actor.ID {
			return fmt.Errorf("booking belongs to another patient: %w", apperr.ErrForbidden)
		}
		return nil
	}
	if guestPhone == "" || guestPhone != info.Phone {
		return fmt.Errorf("guest phone does not match booking: %w", apperr.ErrForbidden)
	}
	return nil
}

// VerifyPayment checks the gateway's capture signature and, on success,
// completes the payment and links it onto the booking in one transaction.
// A booking row that disappeared mid-flight does not fail the capture; the
// reconciliation sweep re-links it.
func (s *Service) VerifyPayment(ctx context.Context, orderID, razorpayPaymentID, signature string) (*Payment, error) {
	// Signature first: callers without the key secret learn nothing about
	// local order state.
	if !gateway.VerifySignature(s.keySecret, orderID, razorpayPaymentID, signature) {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrSignatureInvalid)
	}
	p, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(p.Status, StatusCompleted) {
		return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, apperr.ErrInvalidState)
	}

	now := time.Now()
	p.Status = StatusCompleted
	p.RazorpayPaymentID = &razorpayPaymentID
	p.RazorpaySignature = &signature
	p.PaidAt = &now

	src, err := s.source(p.BookingKind)
	if err != nil {
		return nil, err
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateStatus(ctx, p, StatusPending); err != nil {
			return err
		}
		if err := src.AttachPayment(ctx, p.BookingID, p.ID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				log.Warn().Stringer("payment_id", p.ID).Stringer("booking_id", p.BookingID).
					Msg("booking missing at capture time, leaving link to reconciliation")
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifySuccess(ctx, p)
	return p, nil
}

// RefundPayment refunds a completed payment in full. The gateway call runs
// first; local state only changes once the gateway confirms.
func (s *Service) RefundPayment(ctx context.Context, id uuid.UUID, reason string) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(p.Status, StatusRefunded) {
		return nil, fmt.Errorf("payment %s is %s, only completed payments refund: %w", p.ID, p.Status, apperr.ErrInvalidState)
	}
	if p.RazorpayPaymentID == nil {
		return nil, fmt.Errorf("payment %s has no gateway capture: %w", p.ID, apperr.ErrInvalidState)
	}

	refund, err := s.gw.Refund(ctx, *p.RazorpayPaymentID, p.Amount*100, map[string]interface{}{
		"reason": reason,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	amount := refund.Amount / 100
	p.Status = StatusRefunded
	p.RefundID = &refund.ID
	p.RefundAmount = &amount
	p.RefundedAt = &now
	if reason != "" {
		p.RefundReason = &reason
	}
	if err := s.repo.UpdateStatus(ctx, p, StatusCompleted); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Search(ctx context.Context, params SearchParams) ([]*Payment, int, error) {
	return s.repo.Search(ctx, params)
}

// Reconcile replays link-backs for recently completed payments. AttachPayment
// is idempotent, so payments that were linked correctly are untouched and
// orphans from a mid-verify crash get their booking stamped.
func (s *Service) Reconcile(ctx context.Context, window time.Duration) error {
	payments, err := s.repo.CompletedSince(ctx, time.Now().Add(-window))
	if err != nil {
		return err
	}
	for _, p := range payments {
		src, err := s.source(p.BookingKind)
		if err != nil {
			log.Error().Err(err).Stringer("payment_id", p.ID).Msg("reconcile: unknown booking kind")
			continue
		}
		if err := src.AttachPayment(ctx, p.BookingID, p.ID); err != nil {
			log.Warn().Err(err).Stringer("payment_id", p.ID).Msg("reconcile: link-back failed")
		}
	}
	return nil
}

func (s *Service) notifySuccess(ctx context.Context, p *Payment) {
	src, err := s.source(p.BookingKind)
	if err != nil {
		return
	}
	info, err := src.PaymentInfo(ctx, p.BookingID)
	if err != nil || info.Phone == "" {
		return
	}
	s.notifier.Notify(notification.KindPaymentSuccess, info.Phone, notification.Args{
		Name:      info.Name,
		Reference: info.Reference,
	})
}
