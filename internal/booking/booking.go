// Package booking resolves reservations into template variables.
package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/sungwon/guest-messenger/internal/templates"
)

// ErrNotFound is returned when no booking matches the reference.
var ErrNotFound = errors.New("booking: not found")

// StatusConfirmed marks bookings eligible for bulk messaging.
const StatusConfirmed = "confirmed"

const dateLayout = "2006-01-02"

// Booking is a reservation joined with its property.
type Booking struct {
	Ref             string    `json:"booking_ref"`
	GuestName       string    `json:"guest_name"`
	PropertyID      string    `json:"property_id"`
	PropertyName    string    `json:"property_name"`
	PropertyAddress string    `json:"property_address"`
	CheckIn         time.Time `json:"check_in"`
	CheckOut        time.Time `json:"check_out"`
	Status          string    `json:"status"`
}

// Variables returns the template variables the booking provides.
func (b Booking) Variables() templates.Variables {
	return templates.Variables{
		"booking_id":       b.Ref,
		"guest_name":       b.GuestName,
		"property_name":    b.PropertyName,
		"property_address": b.PropertyAddress,
		"check_in_date":    b.CheckIn.Format(dateLayout),
		"check_out_date":   b.CheckOut.Format(dateLayout),
	}
}

// BulkFilter selects bookings for a bulk send. Zero times leave that end of
// the check-in range open.
type BulkFilter struct {
	PropertyIDs  []string
	CheckInFrom  time.Time
	CheckInUntil time.Time
}

// Matches reports whether b is a confirmed booking selected by f.
func (f BulkFilter) Matches(b Booking) bool {
	if b.Status != StatusConfirmed || !slices.Contains(f.PropertyIDs, b.PropertyID) {
		return false
	}
	if !f.CheckInFrom.IsZero() && b.CheckIn.Before(f.CheckInFrom) {
		return false
	}
	if !f.CheckInUntil.IsZero() && b.CheckIn.After(f.CheckInUntil) {
		return false
	}
	return true
}

// Lookup finds bookings.
type Lookup interface {
	GetBookingDetails(ctx context.Context, ref string) (*Booking, error)
	ListForBulk(ctx context.Context, filter BulkFilter) ([]Booking, error)
}

// MemoryLookup is a process-local Lookup.
type MemoryLookup struct {
	mu       sync.RWMutex
	bookings map[string]Booking
}

// NewMemoryLookup creates a MemoryLookup holding the given bookings.
func NewMemoryLookup(bookings ...Booking) *MemoryLookup {
	l := &MemoryLookup{bookings: make(map[string]Booking)}
	for _, b := range bookings {
		l.bookings[b.Ref] = b
	}
	return l
}

// Put adds or replaces a booking.
func (l *MemoryLookup) Put(b Booking) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bookings[b.Ref] = b
}

func (l *MemoryLookup) GetBookingDetails(_ context.Context, ref string) (*Booking, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bookings[ref]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", ref, ErrNotFound)
	}
	return &b, nil
}

func (l *MemoryLookup) ListForBulk(_ context.Context, filter BulkFilter) ([]Booking, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Booking
	for _, b := range l.bookings {
		if filter.Matches(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.Before(out[j].CheckIn) })
	return out, nil
}
