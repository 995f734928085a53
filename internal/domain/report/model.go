package report

import (
	"time"

	"github.com/google/uuid"
)

// Report maps to the report table. PatientID is nil when the underlying test
// booking was made by a guest. Viewed flips once, on the first time the
// owning patient opens the report.
type Report struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	TestBookingID uuid.UUID  `db:"test_booking_id" json:"test_booking_id"`
	FileURL       string     `db:"file_url" json:"file_url"`
	FileKey       string     `db:"file_key" json:"file_key"`
	UploadedBy    uuid.UUID  `db:"uploaded_by" json:"uploaded_by"`
	Viewed        bool       `db:"viewed" json:"viewed"`
	ViewedAt      *time.Time `db:"viewed_at" json:"viewed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}
