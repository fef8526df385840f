package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sungwon/guest-messenger/internal/deliverylog"
)

// DeliveryLogRepo implements deliverylog.Log on PostgreSQL.
type DeliveryLogRepo struct {
	pool *pgxpool.Pool
}

// NewDeliveryLogRepo creates a DeliveryLogRepo.
func NewDeliveryLogRepo(pool *pgxpool.Pool) *DeliveryLogRepo {
	return &DeliveryLogRepo{pool: pool}
}

func (r *DeliveryLogRepo) Append(ctx context.Context, e deliverylog.Entry) error {
	var errText *string
	if e.Error != "" {
		errText = &e.Error
	}

	tag, err := r.pool.Exec(ctx, `
INSERT INTO message_logs (message_id, booking_id, status, attempts, error, logged_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (message_id) DO NOTHING`,
		e.MessageID, e.BookingRef, string(e.Status), e.Attempts, errText, e.Timestamp)
	if err != nil {
		return fmt.Errorf("append delivery log %s: %w", e.MessageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", e.MessageID, deliverylog.ErrAlreadyLogged)
	}
	return nil
}

func (r *DeliveryLogRepo) History(ctx context.Context, bookingRef string) ([]deliverylog.Entry, error) {
	rows, err := r.pool.Query(ctx, `
SELECT message_id, booking_id, status, attempts, COALESCE(error, ''), logged_at
FROM message_logs
WHERE booking_id = $1
ORDER BY logged_at DESC, message_id`, bookingRef)
	if err != nil {
		return nil, fmt.Errorf("query delivery history: %w", err)
	}
	defer rows.Close()

	var out []deliverylog.Entry
	for rows.Next() {
		var (
			e      deliverylog.Entry
			status string
		)
		if err := rows.Scan(&e.MessageID, &e.BookingRef, &status, &e.Attempts, &e.Error, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		e.Status = deliverylog.Status(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery log: %w", err)
	}
	return out, nil
}

func (r *DeliveryLogRepo) CountSince(ctx context.Context, status deliverylog.Status, since time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
SELECT count(*) FROM message_logs WHERE status = $1 AND logged_at >= $2`,
		string(status), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count delivery log: %w", err)
	}
	return n, nil
}
