// Package deliverylog records the terminal outcome of every message.
package deliverylog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is a terminal delivery outcome.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// ErrAlreadyLogged is returned when an outcome for the message id exists.
var ErrAlreadyLogged = errors.New("deliverylog: outcome already recorded")

// Entry is an immutable record of one terminal outcome.
type Entry struct {
	MessageID  string    `json:"message_id"`
	BookingRef string    `json:"booking_ref"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
}

// Log is append-only storage for delivery outcomes.
type Log interface {
	// Append records e. Each message id is recorded at most once.
	Append(ctx context.Context, e Entry) error
	// History returns the entries for a booking, newest first.
	History(ctx context.Context, bookingRef string) ([]Entry, error)
	// CountSince counts entries with the given status at or after since.
	CountSince(ctx context.Context, status Status, since time.Time) (int64, error)
}

// MemoryLog is a process-local Log.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	ids     map[string]struct{}
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{ids: make(map[string]struct{})}
}

func (l *MemoryLog) Append(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[e.MessageID]; ok {
		return fmt.Errorf("message %s: %w", e.MessageID, ErrAlreadyLogged)
	}
	l.ids[e.MessageID] = struct{}{}
	l.entries = append(l.entries, e)
	return nil
}

func (l *MemoryLog) History(_ context.Context, bookingRef string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if e.BookingRef == bookingRef {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (l *MemoryLog) CountSince(_ context.Context, status Status, since time.Time) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var n int64
	for _, e := range l.entries {
		if e.Status == status && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// Entries returns every recorded entry in append order.
func (l *MemoryLog) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}
