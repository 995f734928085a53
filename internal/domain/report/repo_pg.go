package report

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

// NewRepoPG returns the postgres-backed report repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const reportCols = `id, patient_id, test_booking_id, file_url, file_key, uploaded_by,
	viewed, viewed_at, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Report, error) {
	var rep Report
	err := row.Scan(&rep.ID, &rep.PatientID, &rep.TestBookingID, &rep.FileURL, &rep.FileKey,
		&rep.UploadedBy, &rep.Viewed, &rep.ViewedAt, &rep.CreatedAt, &rep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report: %w", apperr.ErrNotFound)
	}
	return &rep, err
}

func (r *repoPG) Create(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO report (id, patient_id, test_booking_id, file_url, file_key, uploaded_by)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rep.ID, rep.PatientID, rep.TestBookingID, rep.FileURL, rep.FileKey, rep.UploadedBy)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM report WHERE id = $1`, id))
}

func (r *repoPG) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*Report, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM report WHERE test_booking_id = $1`, bookingID))
}

func (r *repoPG) MarkViewed(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE report SET viewed = TRUE, viewed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND NOT viewed`, id)
	return err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM report WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reportCols+` FROM report WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rep, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rep)
	}
	return items, total, rows.Err()
}
