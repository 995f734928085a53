package labtest

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

// =========== Catalog Repository ===========

type catalogRepoPG struct{ pool *pgxpool.Pool }

func NewCatalogRepoPG(pool *pgxpool.Pool) CatalogRepository { return &catalogRepoPG{pool: pool} }

func (r *catalogRepoPG) conn(ctx context.Context) db.Querier {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const labTestCols = `id, name, code, description, price, home_collection_available,
	home_collection_fee, active, created_at, updated_at`

func (r *catalogRepoPG) scan(row pgx.Row) (*LabTest, error) {
	var t LabTest
	err := row.Scan(&t.ID, &t.Name, &t.Code, &t.Description, &t.Price,
		&t.HomeCollectionAvailable, &t.HomeCollectionFee, &t.Active,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lab test: %w", apperr.ErrNotFound)
	}
	return &t, err
}

func (r *catalogRepoPG) Create(ctx context.Context, t *LabTest) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_test (id, name, code, description, price,
			home_collection_available, home_collection_fee, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.Name, t.Code, t.Description, t.Price,
		t.HomeCollectionAvailable, t.HomeCollectionFee, t.Active)
	return err
}

func (r *catalogRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+labTestCols+` FROM lab_test WHERE id = $1`, id))
}

func (r *catalogRepoPG) Update(ctx context.Context, t *LabTest) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_test SET name=$2, code=$3, description=$4, price=$5,
			home_collection_available=$6, home_collection_fee=$7, active=$8, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Name, t.Code, t.Description, t.Price,
		t.HomeCollectionAvailable, t.HomeCollectionFee, t.Active)
	return err
}

func (r *catalogRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*LabTest, int, error) {
	where := "TRUE"
	if activeOnly {
		where = "active"
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_test WHERE `+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+labTestCols+` FROM lab_test WHERE `+where+` ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*LabTest
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// =========== Booking Repository ===========

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository { return &bookingRepoPG{pool: pool} }

func (r *bookingRepoPG) conn(ctx context.Context) db.Querier {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const bookingCols = `id, patient_id, guest_name, guest_phone, guest_email, collection_type,
	collection_address, scheduled_date, time_slot, total_amount, status,
	sample_collected_at, confirmed_by, confirmed_at, cancelled_by, cancelled_at,
	cancellation_reason, payment_id, report_id, created_at, updated_at`

func (r *bookingRepoPG) scan(row pgx.Row) (*TestBooking, error) {
	var b TestBooking
	err := row.Scan(&b.ID, &b.PatientID, &b.GuestName, &b.GuestPhone, &b.GuestEmail,
		&b.CollectionType, &b.CollectionAddress, &b.ScheduledDate, &b.TimeSlot,
		&b.TotalAmount, &b.Status, &b.SampleCollectedAt, &b.ConfirmedBy, &b.ConfirmedAt,
		&b.CancelledBy, &b.CancelledAt, &b.CancellationReason, &b.PaymentID, &b.ReportID,
		&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("test booking: %w", apperr.ErrNotFound)
	}
	return &b, err
}

func (r *bookingRepoPG) Create(ctx context.Context, b *TestBooking) error {
	b.ID = uuid.New()
	q := r.conn(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO test_booking (id, patient_id, guest_name, guest_phone, guest_email,
			collection_type, collection_address, scheduled_date, time_slot,
			total_amount, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		b.ID, b.PatientID, b.GuestName, b.GuestPhone, b.GuestEmail,
		b.CollectionType, b.CollectionAddress, b.ScheduledDate, b.TimeSlot,
		b.TotalAmount, b.Status)
	if err != nil {
		return err
	}
	for i := range b.Items {
		item := &b.Items[i]
		item.ID = uuid.New()
		item.BookingID = b.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO test_booking_item (id, booking_id, test_id, test_name, price)
			VALUES ($1,$2,$3,$4,$5)`,
			item.ID, item.BookingID, item.TestID, item.TestName, item.Price); err != nil {
			return err
		}
	}
	return nil
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestBooking, error) {
	b, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM test_booking WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	b.Items, err = r.items(ctx, id)
	return b, err
}

func (r *bookingRepoPG) items(ctx context.Context, bookingID uuid.UUID) ([]BookingItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, booking_id, test_id, test_name, price
		FROM test_booking_item WHERE booking_id = $1 ORDER BY test_name`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BookingItem
	for rows.Next() {
		var it BookingItem
		if err := rows.Scan(&it.ID, &it.BookingID, &it.TestID, &it.TestName, &it.Price); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *bookingRepoPG) UpdateStatus(ctx context.Context, b *TestBooking, expected Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_booking SET status=$3, sample_collected_at=$4, confirmed_by=$5,
			confirmed_at=$6, cancelled_by=$7, cancelled_at=$8, cancellation_reason=$9,
			report_id=$10, updated_at=NOW()
		WHERE id = $1 AND status = $2`,
		b.ID, expected, b.Status, b.SampleCollectedAt, b.ConfirmedBy, b.ConfirmedAt,
		b.CancelledBy, b.CancelledAt, b.CancellationReason, b.ReportID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("test booking %s: status changed concurrently: %w", b.ID, apperr.ErrInvalidTransition)
	}
	return nil
}

func (r *bookingRepoPG) AttachPayment(ctx context.Context, id, paymentID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_booking SET payment_id=$2, updated_at=NOW() WHERE id = $1`,
		id, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("test booking %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *bookingRepoPG) Search(ctx context.Context, p BookingSearchParams) ([]*TestBooking, int, error) {
	where := "TRUE"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if p.PatientID != nil {
		where += " AND patient_id = " + arg(*p.PatientID)
	}
	if p.Status != nil {
		where += " AND status = " + arg(*p.Status)
	}
	if p.From != nil {
		where += " AND scheduled_date >= " + arg(*p.From)
	}
	if p.To != nil {
		where += " AND scheduled_date <= " + arg(*p.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_booking WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + bookingCols + ` FROM test_booking WHERE ` + where +
		` ORDER BY scheduled_date DESC, created_at DESC LIMIT ` + arg(p.Page.Limit) + ` OFFSET ` + arg(p.Page.Offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TestBooking
	for rows.Next() {
		b, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, b := range items {
		if b.Items, err = r.items(ctx, b.ID); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}
