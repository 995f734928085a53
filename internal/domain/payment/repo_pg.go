package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the postgres-backed payment repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const paymentCols = `id, user_id, booking_kind, booking_id, amount, currency,
	razorpay_order_id, razorpay_payment_id, razorpay_signature, status, paid_at,
	refund_id, refund_amount, refund_reason, refunded_at, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.UserID, &p.BookingKind, &p.BookingID, &p.Amount, &p.Currency,
		&p.RazorpayOrderID, &p.RazorpayPaymentID, &p.RazorpaySignature, &p.Status, &p.PaidAt,
		&p.RefundID, &p.RefundAmount, &p.RefundReason, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment: %w", apperr.ErrNotFound)
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payment (id, user_id, booking_kind, booking_id, amount, currency,
			razorpay_order_id, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.UserID, p.BookingKind, p.BookingID, p.Amount, p.Currency,
		p.RazorpayOrderID, p.Status)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM payment WHERE id = $1`, id))
}

func (r *repoPG) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM payment WHERE razorpay_order_id = $1`, orderID))
}

func (r *repoPG) UpdateStatus(ctx context.Context, p *Payment, expected Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payment SET status=$3, razorpay_payment_id=$4, razorpay_signature=$5,
			paid_at=$6, refund_id=$7, refund_amount=$8, refund_reason=$9, refunded_at=$10,
			updated_at=NOW()
		WHERE id = $1 AND status = $2`,
		p.ID, expected, p.Status, p.RazorpayPaymentID, p.RazorpaySignature,
		p.PaidAt, p.RefundID, p.RefundAmount, p.RefundReason, p.RefundedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s: status changed concurrently: %w", p.ID, apperr.ErrInvalidTransition)
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params SearchParams) ([]*Payment, int, error) {
	where := "TRUE"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if params.UserID != nil {
		where += " AND user_id = " + arg(*params.UserID)
	}
	if params.BookingKind != nil {
		where += " AND booking_kind = " + arg(*params.BookingKind)
	}
	if params.BookingID != nil {
		where += " AND booking_id = " + arg(*params.BookingID)
	}
	if params.Status != nil {
		where += " AND status = " + arg(*params.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payment WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + paymentCols + ` FROM payment WHERE ` + where +
		` ORDER BY created_at DESC LIMIT ` + arg(params.Page.Limit) + ` OFFSET ` + arg(params.Page.Offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CompletedSince(ctx context.Context, cutoff time.Time) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+paymentCols+` FROM payment
		WHERE status = $1 AND paid_at >= $2
		ORDER BY paid_at`, StatusCompleted, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
