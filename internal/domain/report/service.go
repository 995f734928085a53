package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
)

// BookingDirectory adapts the lab test domain: resolving who a booking
// belongs to and completing it when its report lands.
type BookingDirectory interface {
	BookingPatient(ctx context.Context, bookingID uuid.UUID) (*uuid.UUID, error)
	CompleteWithReport(ctx context.Context, bookingID, reportID uuid.UUID) error
}

// TxRunner runs fn atomically. The production runner wraps db.InTx over the
// pgx pool; tests substitute a pass-through.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// UploadRequest is the service-level input for publishing a report.
type UploadRequest struct {
	TestBookingID uuid.UUID
	FileURL       string
	FileKey       string
	UploadedBy    uuid.UUID
}

type Service struct {
	repo     Repository
	bookings BookingDirectory
	inTx     TxRunner
}

func NewService(repo Repository, bookings BookingDirectory, inTx TxRunner) *Service {
	return &Service{repo: repo, bookings: bookings, inTx: inTx}
}

// Upload stores the report and completes the booking in one transaction, so
// a booking can never point at a report row that failed to land (or the
// reverse).
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Report, error) {
	if req.FileURL == "" {
		return nil, fmt.Errorf("file_url is required")
	}
	if req.FileKey == "" {
		return nil, fmt.Errorf("file_key is required")
	}
	patientID, err := s.bookings.BookingPatient(ctx, req.TestBookingID)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetByBookingID(ctx, req.TestBookingID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("booking %s already has report %s: %w", req.TestBookingID, existing.ID, apperr.ErrInvalidState)
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	rep := &Report{
		PatientID:     patientID,
		TestBookingID: req.TestBookingID,
		FileURL:       req.FileURL,
		FileKey:       req.FileKey,
		UploadedBy:    req.UploadedBy,
	}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, rep); err != nil {
			return err
		}
		return s.bookings.CompleteWithReport(ctx, req.TestBookingID, rep.ID)
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// Get returns the report, stamping the viewed flag the first time the owning
// patient opens it.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Report, error) {
	rep, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RolePatient {
		if rep.PatientID == nil || *rep.PatientID != actor.ID {
			return nil, fmt.Errorf("report %s: %w", id, apperr.ErrForbidden)
		}
		if !rep.Viewed {
			if err := s.repo.MarkViewed(ctx, id); err != nil {
				return nil, err
			}
			rep, err = s.repo.GetByID(ctx, id)
			if err != nil {
				return nil, err
			}
		}
	}
	return rep, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
