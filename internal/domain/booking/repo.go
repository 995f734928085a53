package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/pagination"
)

// SearchParams filters appointment listings.
type SearchParams struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
	From      *time.Time
	To        *time.Time
	Page      pagination.Params
}

// Repository is the persistence contract for appointments.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus persists a status change with an expected-current-status
	// precondition. It fails with apperr.ErrInvalidTransition when the row
	// no longer holds the expected status.
	UpdateStatus(ctx context.Context, a *Appointment, expected Status) error
	// Amend persists the mutable scheduling fields (date, time slot, notes).
	Amend(ctx context.Context, a *Appointment) error
	AttachPayment(ctx context.Context, id, paymentID uuid.UUID) error
	Search(ctx context.Context, p SearchParams) ([]*Appointment, int, error)
}
