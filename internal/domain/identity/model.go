package identity

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. A patient's id doubles as their user id
// for ownership checks on bookings and payments.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Phone       string     `db:"phone" json:"phone"`
	Email       *string    `db:"email" json:"email,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender      *string    `db:"gender" json:"gender,omitempty"`
	Address     *string    `db:"address" json:"address,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Doctor maps to the doctor table. ConsultationFee is the authoritative price
// for appointment payments, in rupees.
type Doctor struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Phone           string    `db:"phone" json:"phone"`
	Email           *string   `db:"email" json:"email,omitempty"`
	Specialty       string    `db:"specialty" json:"specialty"`
	ConsultationFee int64     `db:"consultation_fee" json:"consultation_fee"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
