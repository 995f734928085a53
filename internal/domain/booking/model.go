package booking

import (
	"time"

	"github.com/google/uuid"
)

// Status is the appointment lifecycle state. The string values are the stored
// schema contract and must not change.
type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// allowedTransitions defines the legal status transitions. The key is the
// current status, the value the set of permitted targets. Completed and
// cancelled are terminal.
var allowedTransitions = map[Status][]Status{
	StatusPending:     {StatusConfirmed, StatusCancelled, StatusRescheduled},
	StatusConfirmed:   {StatusCompleted, StatusCancelled, StatusRescheduled},
	StatusRescheduled: {StatusConfirmed, StatusCancelled},
	StatusCompleted:   {},
	StatusCancelled:   {},
}

// Valid reports whether s is a known appointment status.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether no further transition is permitted out of s.
func (s Status) Terminal() bool {
	return len(allowedTransitions[s]) == 0 && s.Valid()
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Appointment maps to the appointment table. Either PatientID or the guest
// fields identify the patient; guest bookings carry no user reference.
type Appointment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	PatientID          *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	GuestName          *string    `db:"guest_name" json:"guest_name,omitempty"`
	GuestPhone         *string    `db:"guest_phone" json:"guest_phone,omitempty"`
	GuestEmail         *string    `db:"guest_email" json:"guest_email,omitempty"`
	DoctorID           uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Date               time.Time  `db:"date" json:"date"`
	TimeSlot           string     `db:"time_slot" json:"time_slot"`
	Reason             *string    `db:"reason" json:"reason,omitempty"`
	Notes              *string    `db:"notes" json:"notes,omitempty"`
	Status             Status     `db:"status" json:"status"`
	ConfirmedBy        *uuid.UUID `db:"confirmed_by" json:"confirmed_by,omitempty"`
	ConfirmedAt        *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CancelledBy        *uuid.UUID `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	PaymentID          *uuid.UUID `db:"payment_id" json:"payment_id,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// IsGuest reports whether the appointment was booked without a registered
// patient account.
func (a *Appointment) IsGuest() bool {
	return a.PatientID == nil
}

// Reference is the short booking reference quoted in notifications.
func (a *Appointment) Reference() string {
	return "APT-" + a.ID.String()[:8]
}
