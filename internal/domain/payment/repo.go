package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/pagination"
)

// SearchParams filters payment listings.
type SearchParams struct {
	UserID      *uuid.UUID
	BookingKind *BookingKind
	BookingID   *uuid.UUID
	Status      *Status
	Page        pagination.Params
}

// Repository is the persistence contract for payments.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	// UpdateStatus persists a status change guarded by the previously read
	// status, failing with apperr.ErrInvalidTransition on a lost race.
	UpdateStatus(ctx context.Context, p *Payment, expected Status) error
	Search(ctx context.Context, params SearchParams) ([]*Payment, int, error)
	// CompletedSince lists payments completed after the cutoff, for the
	// reconciliation sweep.
	CompletedSince(ctx context.Context, cutoff time.Time) ([]*Payment, error)
}
