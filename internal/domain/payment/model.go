package payment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the payment lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusRefunded},
	StatusFailed:    {},
	StatusRefunded:  {},
}

func CanTransition(from, to Status) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// BookingKind tags which table BookingID points into.
type BookingKind string

const (
	KindAppointment BookingKind = "appointment"
	KindTest        BookingKind = "test"
)

func (k BookingKind) Valid() bool {
	return k == KindAppointment || k == KindTest
}

// Payment maps to the payment table. Amount is in rupees; the gateway sees
// paise. UserID is nil for guest bookings.
type Payment struct {
	ID                uuid.UUID   `db:"id" json:"id"`
	UserID            *uuid.UUID  `db:"user_id" json:"user_id,omitempty"`
	BookingKind       BookingKind `db:"booking_kind" json:"booking_kind"`
	BookingID         uuid.UUID   `db:"booking_id" json:"booking_id"`
	Amount            int64       `db:"amount" json:"amount"`
	Currency          string      `db:"currency" json:"currency"`
	RazorpayOrderID   string      `db:"razorpay_order_id" json:"razorpay_order_id"`
	RazorpayPaymentID *string     `db:"razorpay_payment_id" json:"razorpay_payment_id,omitempty"`
	RazorpaySignature *string     `db:"razorpay_signature" json:"-"`
	Status            Status      `db:"status" json:"status"`
	PaidAt            *time.Time  `db:"paid_at" json:"paid_at,omitempty"`
	RefundID          *string     `db:"refund_id" json:"refund_id,omitempty"`
	RefundAmount      *int64      `db:"refund_amount" json:"refund_amount,omitempty"`
	RefundReason      *string     `db:"refund_reason" json:"refund_reason,omitempty"`
	RefundedAt        *time.Time  `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}
