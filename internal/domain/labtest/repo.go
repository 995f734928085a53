package labtest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/pagination"
)

// CatalogRepository is the persistence contract for the lab test catalog.
type CatalogRepository interface {
	Create(ctx context.Context, t *LabTest) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error)
	Update(ctx context.Context, t *LabTest) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*LabTest, int, error)
}

// BookingSearchParams filters test booking listings.
type BookingSearchParams struct {
	PatientID *uuid.UUID
	Status    *Status
	From      *time.Time
	To        *time.Time
	Page      pagination.Params
}

// BookingRepository is the persistence contract for test bookings. Writes of
// the booking row and its items happen inside the caller's transaction when
// one is carried on the context.
type BookingRepository interface {
	Create(ctx context.Context, b *TestBooking) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestBooking, error)
	// UpdateStatus persists a status change (stamps and report link included)
	// guarded by the previously read status, failing with
	// apperr.ErrInvalidTransition on a lost race.
	UpdateStatus(ctx context.Context, b *TestBooking, expected Status) error
	AttachPayment(ctx context.Context, id, paymentID uuid.UUID) error
	Search(ctx context.Context, p BookingSearchParams) ([]*TestBooking, int, error)
}
