package labtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/notification"
)

// PatientDirectory resolves patients for validation and notification.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

// PaymentInfo is what the payment flow needs to price and attribute a test
// booking. Amount is in rupees.
type PaymentInfo struct {
	Amount    int64
	PatientID *uuid.UUID
	Name      string
	Phone     string
	Reference string
}

// TxRunner runs fn atomically. The production runner wraps db.InTx over the
// pgx pool; tests substitute a pass-through.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// BookingRequest is the service-level input for creating a test booking.
type BookingRequest struct {
	PatientID         *uuid.UUID
	GuestName         *string
	GuestPhone        *string
	GuestEmail        *string
	TestIDs           []uuid.UUID
	CollectionType    CollectionType
	CollectionAddress *string
	ScheduledDate     time.Time
	TimeSlot          string
}

type Service struct {
	catalog  CatalogRepository
	bookings BookingRepository
	patients PatientDirectory
	inTx     TxRunner
	notifier notification.Notifier
}

func NewService(catalog CatalogRepository, bookings BookingRepository, patients PatientDirectory, inTx TxRunner, notifier notification.Notifier) *Service {
	return &Service{catalog: catalog, bookings: bookings, patients: patients, inTx: inTx, notifier: notifier}
}

// -- Catalog --

func (s *Service) CreateTest(ctx context.Context, t *LabTest) error {
	if err := validateTest(t); err != nil {
		return err
	}
	return s.catalog.Create(ctx, t)
}

func (s *Service) GetTest(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	return s.catalog.GetByID(ctx, id)
}

func (s *Service) UpdateTest(ctx context.Context, t *LabTest) error {
	if err := validateTest(t); err != nil {
		return err
	}
	return s.catalog.Update(ctx, t)
}

func (s *Service) ListTests(ctx context.Context, activeOnly bool, limit, offset int) ([]*LabTest, int, error) {
	return s.catalog.List(ctx, activeOnly, limit, offset)
}

func validateTest(t *LabTest) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.Code == "" {
		return fmt.Errorf("code is required")
	}
	if t.Price < 0 {
		return fmt.Errorf("price must not be negative")
	}
	if t.HomeCollectionFee < 0 {
		return fmt.Errorf("home_collection_fee must not be negative")
	}
	return nil
}

// -- Bookings --

// CreateBooking books the named tests, freezing each test's current price
// onto the line item. For home collection the per-item home collection fee is
// folded into the frozen price, and every test must support home collection.
func (s *Service) CreateBooking(ctx context.Context, req BookingRequest) (*TestBooking, error) {
	if req.PatientID == nil {
		if req.GuestName == nil || *req.GuestName == "" {
			return nil, fmt.Errorf("guest_name is required for guest bookings")
		}
		if req.GuestPhone == nil || *req.GuestPhone == "" {
			return nil, fmt.Errorf("guest_phone is required for guest bookings")
		}
	} else {
		if _, err := s.patients.GetPatient(ctx, *req.PatientID); err != nil {
			return nil, err
		}
	}
	if len(req.TestIDs) == 0 {
		return nil, fmt.Errorf("at least one test is required")
	}
	if req.ScheduledDate.IsZero() {
		return nil, fmt.Errorf("scheduled_date is required")
	}
	if req.TimeSlot == "" {
		return nil, fmt.Errorf("time_slot is required")
	}
	home := req.CollectionType == CollectionHome
	if !home && req.CollectionType != CollectionWalkIn {
		return nil, fmt.Errorf("collection_type must be home or walk_in")
	}
	if home && (req.CollectionAddress == nil || *req.CollectionAddress == "") {
		return nil, fmt.Errorf("collection_address is required for home collection")
	}

	var items []BookingItem
	var total int64
	for _, id := range req.TestIDs {
		test, err := s.catalog.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !test.Active {
			return nil, fmt.Errorf("test %s is not available: %w", test.Code, apperr.ErrInvalidState)
		}
		price := test.Price
		if home {
			if !test.HomeCollectionAvailable {
				return nil, fmt.Errorf("test %s does not support home collection: %w", test.Code, apperr.ErrInvalidState)
			}
			price += test.HomeCollectionFee
		}
		items = append(items, BookingItem{TestID: test.ID, TestName: test.Name, Price: price})
		total += price
	}

	b := &TestBooking{
		PatientID:         req.PatientID,
		GuestName:         req.GuestName,
		GuestPhone:        req.GuestPhone,
		GuestEmail:        req.GuestEmail,
		CollectionType:    req.CollectionType,
		CollectionAddress: req.CollectionAddress,
		ScheduledDate:     req.ScheduledDate,
		TimeSlot:          req.TimeSlot,
		TotalAmount:       total,
		Status:            StatusPending,
		Items:             items,
	}
	// Header and line items land together or not at all.
	err := s.inTx(ctx, func(ctx context.Context) error {
		return s.bookings.Create(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, b, notification.KindTestBooked)
	return b, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*TestBooking, error) {
	return s.bookings.GetByID(ctx, id)
}

func (s *Service) SearchBookings(ctx context.Context, p BookingSearchParams) ([]*TestBooking, int, error) {
	return s.bookings.Search(ctx, p)
}

// Transition moves a test booking to a new status under the transition table,
// stamping the acting user and the collection time where relevant.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, actor auth.Actor, reason string) (*TestBooking, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", target, apperr.ErrInvalidTransition)
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(b.Status, target) {
		return nil, fmt.Errorf("test booking %s: %s -> %s: %w", id, b.Status, target, apperr.ErrInvalidTransition)
	}

	from := b.Status
	now := time.Now()
	b.Status = target
	switch target {
	case StatusConfirmed:
		b.ConfirmedBy = &actor.ID
		b.ConfirmedAt = &now
	case StatusSampleCollected:
		b.SampleCollectedAt = &now
	case StatusCancelled:
		b.CancelledBy = &actor.ID
		b.CancelledAt = &now
		if reason != "" {
			b.CancellationReason = &reason
		}
	}

	if err := s.bookings.UpdateStatus(ctx, b, from); err != nil {
		return nil, err
	}

	switch target {
	case StatusConfirmed:
		s.notify(ctx, b, notification.KindTestConfirmed)
	case StatusCancelled:
		s.notify(ctx, b, notification.KindCancelled)
	}
	return b, nil
}

// CompleteWithReport finishes a booking off the back of a report upload. Only
// bookings whose sample is already in the lab can complete.
func (s *Service) CompleteWithReport(ctx context.Context, id, reportID uuid.UUID) error {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != StatusSampleCollected && b.Status != StatusInProgress {
		return fmt.Errorf("test booking %s: %s -> %s: %w", id, b.Status, StatusCompleted, apperr.ErrInvalidTransition)
	}

	from := b.Status
	b.Status = StatusCompleted
	b.ReportID = &reportID
	if err := s.bookings.UpdateStatus(ctx, b, from); err != nil {
		return err
	}
	s.notify(ctx, b, notification.KindReportReady)
	return nil
}

// PaymentInfo prices the booking off its frozen total and identifies who the
// payment belongs to.
func (s *Service) PaymentInfo(ctx context.Context, id uuid.UUID) (*PaymentInfo, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() && b.Status != StatusCompleted {
		return nil, fmt.Errorf("test booking %s is %s: %w", id, b.Status, apperr.ErrInvalidState)
	}
	name, phone := s.recipient(ctx, b)
	return &PaymentInfo{
		Amount:    b.TotalAmount,
		PatientID: b.PatientID,
		Name:      name,
		Phone:     phone,
		Reference: b.Reference(),
	}, nil
}

// AttachPayment records the completed payment on the booking row.
func (s *Service) AttachPayment(ctx context.Context, id, paymentID uuid.UUID) error {
	return s.bookings.AttachPayment(ctx, id, paymentID)
}

func (s *Service) recipient(ctx context.Context, b *TestBooking) (name, phone string) {
	if b.PatientID != nil {
		p, err := s.patients.GetPatient(ctx, *b.PatientID)
		if err != nil {
			log.Warn().Err(err).Stringer("booking_id", b.ID).Msg("recipient lookup failed")
			return "", ""
		}
		return p.Name, p.Phone
	}
	if b.GuestName != nil {
		name = *b.GuestName
	}
	if b.GuestPhone != nil {
		phone = *b.GuestPhone
	}
	return name, phone
}

func (s *Service) notify(ctx context.Context, b *TestBooking, kind notification.Kind) {
	name, phone := s.recipient(ctx, b)
	if phone == "" {
		return
	}
	s.notifier.Notify(kind, phone, notification.Args{
		Name:      name,
		Date:      b.ScheduledDate.Format("02 Jan 2006"),
		Time:      b.TimeSlot,
		Reference: b.Reference(),
	})
}
