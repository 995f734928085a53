package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the postgres-backed appointment repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const appointmentCols = `id, patient_id, guest_name, guest_phone, guest_email, doctor_id,
	date, time_slot, reason, notes, status, confirmed_by, confirmed_at,
	cancelled_by, cancelled_at, cancellation_reason, completed_at, payment_id,
	created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.GuestName, &a.GuestPhone, &a.GuestEmail,
		&a.DoctorID, &a.Date, &a.TimeSlot, &a.Reason, &a.Notes, &a.Status,
		&a.ConfirmedBy, &a.ConfirmedAt, &a.CancelledBy, &a.CancelledAt,
		&a.CancellationReason, &a.CompletedAt, &a.PaymentID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("appointment: %w", apperr.ErrNotFound)
	}
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, patient_id, guest_name, guest_phone, guest_email,
			doctor_id, date, time_slot, reason, notes, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.PatientID, a.GuestName, a.GuestPhone, a.GuestEmail,
		a.DoctorID, a.Date, a.TimeSlot, a.Reason, a.Notes, a.Status)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointment WHERE id = $1`, id))
}

// UpdateStatus writes the transition outcome guarded by the status the caller
// read. A zero row count means another writer got there first.
func (r *repoPG) UpdateStatus(ctx context.Context, a *Appointment, expected Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status=$3, confirmed_by=$4, confirmed_at=$5,
			cancelled_by=$6, cancelled_at=$7, cancellation_reason=$8,
			completed_at=$9, updated_at=NOW()
		WHERE id = $1 AND status = $2`,
		a.ID, expected, a.Status, a.ConfirmedBy, a.ConfirmedAt,
		a.CancelledBy, a.CancelledAt, a.CancellationReason, a.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment %s: status changed concurrently: %w", a.ID, apperr.ErrInvalidTransition)
	}
	return nil
}

func (r *repoPG) Amend(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET date=$2, time_slot=$3, notes=$4, status=$5, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Date, a.TimeSlot, a.Notes, a.Status)
	return err
}

func (r *repoPG) AttachPayment(ctx context.Context, id, paymentID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET payment_id=$2, updated_at=NOW() WHERE id = $1`,
		id, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, p SearchParams) ([]*Appointment, int, error) {
	where := "TRUE"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if p.PatientID != nil {
		where += " AND patient_id = " + arg(*p.PatientID)
	}
	if p.DoctorID != nil {
		where += " AND doctor_id = " + arg(*p.DoctorID)
	}
	if p.Status != nil {
		where += " AND status = " + arg(*p.Status)
	}
	if p.From != nil {
		where += " AND date >= " + arg(*p.From)
	}
	if p.To != nil {
		where += " AND date <= " + arg(*p.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + appointmentCols + ` FROM appointment WHERE ` + where +
		` ORDER BY date DESC, created_at DESC LIMIT ` + arg(p.Page.Limit) + ` OFFSET ` + arg(p.Page.Offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
