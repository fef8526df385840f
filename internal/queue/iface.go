package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateMessage is returned by Enqueue when the message id is
	// already held by the store.
	ErrDuplicateMessage = errors.New("queue: duplicate message")
	// ErrEmpty is returned by ClaimNext when no message is ready.
	ErrEmpty = errors.New("queue: empty")
	// ErrClaimLost is returned by Remove when the message was recovered and
	// claimed again by another worker.
	ErrClaimLost = errors.New("queue: claim lost")
)

// QueueCorruptionError reports a stored entry that could not be decoded.
// The entry has already been removed from the pending set when this is
// returned, so the caller owns its disposal.
type QueueCorruptionError struct {
	ID  string
	Err error
}

func (e *QueueCorruptionError) Error() string {
	return fmt.Sprintf("queue: corrupt entry %s: %v", e.ID, e.Err)
}

func (e *QueueCorruptionError) Unwrap() error { return e.Err }

// Enqueuer inserts ready messages.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *Message) error
}

// Store is the priority-ordered set of ready messages. All methods are safe
// for concurrent use by several workers, including across processes for
// shared backends: a message is held in flight by at most one claimer.
type Store interface {
	Enqueuer
	// ClaimNext removes and returns the lowest-score message, marking it in
	// flight. It returns ErrEmpty without blocking when nothing is ready.
	ClaimNext(ctx context.Context) (*Message, error)
	// Remove drops a claimed message that reached a terminal outcome or was
	// handed to another store. It fails with ErrClaimLost when another worker
	// holds a newer claim on the same id.
	Remove(ctx context.Context, msg *Message) error
	// RequeueWithPenalty increments the attempt count, recomputes the score
	// and reinserts the message.
	RequeueWithPenalty(ctx context.Context, msg *Message) error
	// DeadLetter removes the message from the live store and parks it with
	// the given reason.
	DeadLetter(ctx context.Context, msg *Message, reason string) error
	// RecoverStale returns claims made before olderThan to the pending set.
	RecoverStale(ctx context.Context, olderThan time.Time) (int, error)
	// Reprocess moves dead letters back to the pending set with their
	// attempt count reset. It returns how many were moved.
	Reprocess(ctx context.Context, ids []string) (int, error)
	// Stats reports current store sizes.
	Stats(ctx context.Context) (Stats, error)
}

// Stats is a snapshot of store sizes.
type Stats struct {
	Pending  int64 `json:"pending"`
	InFlight int64 `json:"in_flight"`
	Dead     int64 `json:"dead"`
}

// DeadLetterEntry wraps a failed message with failure metadata.
type DeadLetterEntry struct {
	Message  *Message  `json:"message"`
	Reason   string    `json:"reason"`
	MovedAt  time.Time `json:"moved_at"`
	Attempts int       `json:"attempts"`
}
