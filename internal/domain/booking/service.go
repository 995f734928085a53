package booking

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

// DoctorDirectory resolves doctors for validation and pricing.
type DoctorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
}

// PaymentInfo is what the payment flow needs to price and attribute an
// appointment. Amount is in rupees.
type PaymentInfo struct {
	Amount    int64
	PatientID *uuid.UUID
	Name      string
	Phone     string
	Reference string
}

type Service struct {
	repo     Repository
	patients PatientDirectory
	doctors  DoctorDirectory
	notifier notification.Notifier
}

func NewService(repo Repository, patients PatientDirectory, doctors DoctorDirectory, notifier notification.Notifier) *Service {
	return &Service{repo: repo, patients: patients, doctors: doctors, notifier: notifier}
}

// Create books a new appointment in pending status. The caller has already
// resolved who the patient is: a registered PatientID or the guest fields.
func (s *Service) Create(ctx context.Context, a *Appointment) error {
	if a.PatientID == nil {
		if a.GuestName == nil || *a.GuestName == "" {
			return fmt.Errorf("guest_name is required for guest bookings")
		}
		if a.GuestPhone == nil || *a.GuestPhone == "" {
			return fmt.Errorf("guest_phone is required for guest bookings")
		}
	} else {
		if _, err := s.patients.GetPatient(ctx, *a.PatientID); err != nil {
			return err
		}
	}
	if a.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if a.TimeSlot == "" {
		return fmt.Errorf("time_slot is required")
	}
	doctor, err := s.doctors.GetDoctor(ctx, a.DoctorID)
	if err != nil {
		return err
	}
	if !doctor.Active {
		return fmt.Errorf("doctor %s is not accepting appointments: %w", doctor.ID, apperr.ErrInvalidState)
	}

	a.Status = StatusPending
	if err := s.repo.Create(ctx, a); err != nil {
		return err
	}
	s.notify(ctx, a, notification.KindBooked)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Search(ctx context.Context, p SearchParams) ([]*Appointment, int, error) {
	return s.repo.Search(ctx, p)
}

// Transition moves an appointment to a new status, enforcing the transition
// table and stamping who acted. The repository write carries the status the
// caller observed, so a concurrent transition loses cleanly.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, actor auth.Actor, reason string) (*Appointment, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", target, apperr.ErrInvalidTransition)
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, target) {
		return nil, fmt.Errorf("appointment %s: %s -> %s: %w", id, a.Status, target, apperr.ErrInvalidTransition)
	}

	from := a.Status
	now := time.Now()
	a.Status = target
	switch target {
	case StatusConfirmed:
		a.ConfirmedBy = &actor.ID
		a.ConfirmedAt = &now
	case StatusCancelled:
		a.CancelledBy = &actor.ID
		a.CancelledAt = &now
		if reason != "" {
			a.CancellationReason = &reason
		}
	case StatusCompleted:
		a.CompletedAt = &now
	}

	if err := s.repo.UpdateStatus(ctx, a, from); err != nil {
		return nil, err
	}

	switch target {
	case StatusConfirmed:
		s.notify(ctx, a, notification.KindConfirmed)
	case StatusCancelled:
		s.notify(ctx, a, notification.KindCancelled)
	}
	return a, nil
}

// Amend updates the scheduling details of a non-terminal appointment and
// marks it rescheduled when the slot actually moved.
func (s *Service) Amend(ctx context.Context, id uuid.UUID, date *time.Time, timeSlot, notes *string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, fmt.Errorf("appointment %s is %s: %w", id, a.Status, apperr.ErrInvalidState)
	}

	moved := false
	if date != nil && !date.Equal(a.Date) {
		a.Date = *date
		moved = true
	}
	if timeSlot != nil && *timeSlot != a.TimeSlot {
		a.TimeSlot = *timeSlot
		moved = true
	}
	if notes != nil {
		a.Notes = notes
	}
	if moved && CanTransition(a.Status, StatusRescheduled) {
		a.Status = StatusRescheduled
	}
	if err := s.repo.Amend(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// PaymentInfo prices the appointment off the doctor's current consultation
// fee and identifies who the payment belongs to.
func (s *Service) PaymentInfo(ctx context.Context, id uuid.UUID) (*PaymentInfo, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, fmt.Errorf("appointment %s is %s: %w", id, a.Status, apperr.ErrInvalidState)
	}
	doctor, err := s.doctors.GetDoctor(ctx, a.DoctorID)
	if err != nil {
		return nil, err
	}
	name, phone := s.recipient(ctx, a)
	return &PaymentInfo{
		Amount:    doctor.ConsultationFee,
		PatientID: a.PatientID,
		Name:      name,
		Phone:     phone,
		Reference: a.Reference(),
	}, nil
}

// AttachPayment records the completed payment on the appointment row.
func (s *Service) AttachPayment(ctx context.Context, id, paymentID uuid.UUID) error {
	return s.repo.AttachPayment(ctx, id, paymentID)
}

func (s *Service) recipient(ctx context.Context, a *Appointment) (name, phone string) {
	if a.PatientID != nil {
		p, err := s.patients.GetPatient(ctx, *a.PatientID)
		if err != nil {
			log.Warn().Err(err).Stringer("appointment_id", a.ID).Msg("recipient lookup failed")
			return "", ""
		}
		return p.Name, p.Phone
	}
	if a.GuestName != nil {
		name = *a.GuestName
	}
	if a.GuestPhone != nil {
		phone = *a.GuestPhone
	}
	return name, phone
}

// notify is best effort. A missing phone or failed lookup drops the message.
func (s *Service) notify(ctx context.Context, a *Appointment, kind notification.Kind) {
	name, phone := s.recipient(ctx, a)
	if phone == "" {
		return
	}
	counterpart := ""
	if doctor, err := s.doctors.GetDoctor(ctx, a.DoctorID); err == nil {
		counterpart = "Dr. " + doctor.Name
	}
	s.notifier.Notify(kind, phone, notification.Args{
		Name:        name,
		Counterpart: counterpart,
		Date:        a.Date.Format("02 Jan 2006"),
		Time:        a.TimeSlot,
		Reference:   a.Reference(),
	})
}
