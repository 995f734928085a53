package report

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence contract for reports.
type Repository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*Report, error)
	// MarkViewed stamps viewed/viewed_at if not already set.
	MarkViewed(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error)
}
