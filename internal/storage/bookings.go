package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sungwon/guest-messenger/internal/booking"
)

const bookingSelect = `
SELECT b.vrbo_booking_id, b.guest_name, b.property_id, p.name, p.address,
       b.check_in_date, b.check_out_date, b.status
FROM bookings b
JOIN properties p ON p.id = b.property_id`

// BookingRepo implements booking.Lookup on PostgreSQL.
type BookingRepo struct {
	pool *pgxpool.Pool
}

// NewBookingRepo creates a BookingRepo.
func NewBookingRepo(pool *pgxpool.Pool) *BookingRepo {
	return &BookingRepo{pool: pool}
}

func (r *BookingRepo) GetBookingDetails(ctx context.Context, ref string) (*booking.Booking, error) {
	row := r.pool.QueryRow(ctx, bookingSelect+`
WHERE b.vrbo_booking_id = $1`, ref)

	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("booking %s: %w", ref, booking.ErrNotFound)
		}
		return nil, fmt.Errorf("get booking %s: %w", ref, err)
	}
	return &b, nil
}

func (r *BookingRepo) ListForBulk(ctx context.Context, filter booking.BulkFilter) ([]booking.Booking, error) {
	rows, err := r.pool.Query(ctx, bookingSelect+`
WHERE b.status = $1
  AND b.property_id = ANY($2)
  AND ($3::date IS NULL OR b.check_in_date >= $3::date)
  AND ($4::date IS NULL OR b.check_in_date <= $4::date)
ORDER BY b.check_in_date, b.vrbo_booking_id`,
		booking.StatusConfirmed, filter.PropertyIDs, nullTime(filter.CheckInFrom), nullTime(filter.CheckInUntil))
	if err != nil {
		return nil, fmt.Errorf("query bulk bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}

// UpsertProperty creates or updates a property. Used by tests and seeding.
func (r *BookingRepo) UpsertProperty(ctx context.Context, id, name, address string) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO properties (id, name, address) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address`,
		id, name, address)
	if err != nil {
		return fmt.Errorf("upsert property %s: %w", id, err)
	}
	return nil
}

// UpsertBooking creates or updates a booking. Its property must exist.
func (r *BookingRepo) UpsertBooking(ctx context.Context, b booking.Booking) error {
	status := b.Status
	if status == "" {
		status = booking.StatusConfirmed
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO bookings (vrbo_booking_id, property_id, guest_name, check_in_date, check_out_date, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (vrbo_booking_id) DO UPDATE SET
    property_id    = EXCLUDED.property_id,
    guest_name     = EXCLUDED.guest_name,
    check_in_date  = EXCLUDED.check_in_date,
    check_out_date = EXCLUDED.check_out_date,
    status         = EXCLUDED.status`,
		b.Ref, b.PropertyID, b.GuestName, b.CheckIn, b.CheckOut, status)
	if err != nil {
		return fmt.Errorf("upsert booking %s: %w", b.Ref, err)
	}
	return nil
}

func scanBooking(row pgx.Row) (booking.Booking, error) {
	var b booking.Booking
	err := row.Scan(&b.Ref, &b.GuestName, &b.PropertyID, &b.PropertyName, &b.PropertyAddress,
		&b.CheckIn, &b.CheckOut, &b.Status)
	return b, err
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
