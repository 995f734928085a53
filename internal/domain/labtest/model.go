package labtest

import (
	"time"

	"github.com/google/uuid"
)

// LabTest is a catalog entry. Price and HomeCollectionFee are in rupees and
// are copied onto bookings at booking time.
type LabTest struct {
	ID                      uuid.UUID `db:"id" json:"id"`
	Name                    string    `db:"name" json:"name"`
	Code                    string    `db:"code" json:"code"`
	Description             *string   `db:"description" json:"description,omitempty"`
	Price                   int64     `db:"price" json:"price"`
	HomeCollectionAvailable bool      `db:"home_collection_available" json:"home_collection_available"`
	HomeCollectionFee       int64     `db:"home_collection_fee" json:"home_collection_fee"`
	Active                  bool      `db:"active" json:"active"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time `db:"updated_at" json:"updated_at"`
}

// CollectionType says where the sample is taken.
type CollectionType string

const (
	CollectionWalkIn CollectionType = "walk_in"
	CollectionHome   CollectionType = "home"
)

// Status is the test booking lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusConfirmed       Status = "confirmed"
	StatusSampleCollected Status = "sample_collected"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

var allowedTransitions = map[Status][]Status{
	StatusPending:         {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusSampleCollected, StatusCancelled},
	StatusSampleCollected: {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress:      {StatusCompleted, StatusCancelled},
	StatusCompleted:       {},
	StatusCancelled:       {},
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return len(allowedTransitions[s]) == 0 && s.Valid()
}

func CanTransition(from, to Status) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// BookingItem is one test on a booking. Name and Price are frozen copies of
// the catalog entry at booking time; Price already includes the home
// collection fee when the booking is a home collection.
type BookingItem struct {
	ID        uuid.UUID `db:"id" json:"id"`
	BookingID uuid.UUID `db:"booking_id" json:"-"`
	TestID    uuid.UUID `db:"test_id" json:"test_id"`
	TestName  string    `db:"test_name" json:"test_name"`
	Price     int64     `db:"price" json:"price"`
}

// TestBooking maps to the test_booking table plus its line items.
type TestBooking struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	PatientID          *uuid.UUID     `db:"patient_id" json:"patient_id,omitempty"`
	GuestName          *string        `db:"guest_name" json:"guest_name,omitempty"`
	GuestPhone         *string        `db:"guest_phone" json:"guest_phone,omitempty"`
	GuestEmail         *string        `db:"guest_email" json:"guest_email,omitempty"`
	CollectionType     CollectionType `db:"collection_type" json:"collection_type"`
	CollectionAddress  *string        `db:"collection_address" json:"collection_address,omitempty"`
	ScheduledDate      time.Time      `db:"scheduled_date" json:"scheduled_date"`
	TimeSlot           string         `db:"time_slot" json:"time_slot"`
	TotalAmount        int64          `db:"total_amount" json:"total_amount"`
	Status             Status         `db:"status" json:"status"`
	SampleCollectedAt  *time.Time     `db:"sample_collected_at" json:"sample_collected_at,omitempty"`
	ConfirmedBy        *uuid.UUID     `db:"confirmed_by" json:"confirmed_by,omitempty"`
	ConfirmedAt        *time.Time     `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CancelledBy        *uuid.UUID     `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason *string        `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	PaymentID          *uuid.UUID     `db:"payment_id" json:"payment_id,omitempty"`
	ReportID           *uuid.UUID     `db:"report_id" json:"report_id,omitempty"`
	Items              []BookingItem  `db:"-" json:"items"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

func (b *TestBooking) IsGuest() bool {
	return b.PatientID == nil
}

// Reference is the short booking reference quoted in notifications.
func (b *TestBooking) Reference() string {
	return "LAB-" + b.ID.String()[:8]
}
