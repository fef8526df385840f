package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/guest-messenger/internal/queue"
)

var testStart = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"redis":  NewRedisStore(client, "test", zerolog.Nop()),
		"memory": NewMemoryStore(),
	}
}

func newMessage(id string) *queue.Message {
	return &queue.Message{
		ID:         id,
		BookingRef: "BK-" + id,
		Subject:    "s",
		Body:       "b",
		Priority:   queue.PriorityNormal,
		CreatedAt:  testStart,
	}
}

func TestSweep_NotDueStaysScheduled(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := clockwork.NewFakeClockAt(testStart)
			q := queue.NewMemoryStore(clock)
			s := New(DefaultConfig(), store, q, clock, zerolog.Nop())

			if err := s.Schedule(ctx, newMessage("later"), testStart.Add(time.Hour)); err != nil {
				t.Fatalf("Schedule() error = %v", err)
			}

			n, err := s.Sweep(ctx)
			if err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}
			if n != 0 {
				t.Errorf("Sweep() = %d before due time, want 0", n)
			}
			if _, err := q.ClaimNext(ctx); !errors.Is(err, queue.ErrEmpty) {
				t.Errorf("queue should be empty before due time, got %v", err)
			}

			clock.Advance(time.Hour)
			n, err = s.Sweep(ctx)
			if err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}
			if n != 1 {
				t.Errorf("Sweep() at due time = %d, want 1", n)
			}
			msg, err := q.ClaimNext(ctx)
			if err != nil {
				t.Fatalf("ClaimNext() error = %v", err)
			}
			if msg.ID != "later" {
				t.Errorf("ClaimNext() = %s, want later", msg.ID)
			}
		})
	}
}

func TestSweep_Idempotent(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := clockwork.NewFakeClockAt(testStart)
			q := queue.NewMemoryStore(clock)
			s := New(DefaultConfig(), store, q, clock, zerolog.Nop())

			if err := s.Schedule(ctx, newMessage("due"), testStart.Add(-time.Minute)); err != nil {
				t.Fatalf("Schedule() error = %v", err)
			}

			first, _ := s.Sweep(ctx)
			second, _ := s.Sweep(ctx)
			if first != 1 || second != 0 {
				t.Errorf("Sweep() counts = %d, %d, want 1, 0", first, second)
			}

			stats, _ := q.Stats(ctx)
			if stats.Pending != 1 {
				t.Errorf("queue pending = %d, want 1", stats.Pending)
			}
			if n, _ := s.Len(ctx); n != 0 {
				t.Errorf("Len() = %d after sweep, want 0", n)
			}
		})
	}
}

func TestSweep_BatchesAndDuplicates(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := clockwork.NewFakeClockAt(testStart)
			q := queue.NewMemoryStore(clock)
			s := New(Config{Interval: time.Minute, BatchSize: 2}, store, q, clock, zerolog.Nop())

			if err := q.Enqueue(ctx, newMessage("m0")); err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}
			for _, id := range []string{"m0", "m1", "m2", "m3", "m4"} {
				if err := s.Schedule(ctx, newMessage(id), testStart); err != nil {
					t.Fatalf("Schedule(%s) error = %v", id, err)
				}
			}

			n, err := s.Sweep(ctx)
			if err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}
			if n != 4 {
				t.Errorf("Sweep() = %d, want 4 (duplicate dropped)", n)
			}
			stats, _ := q.Stats(ctx)
			if stats.Pending != 5 {
				t.Errorf("queue pending = %d, want 5", stats.Pending)
			}
		})
	}
}

type failingEnqueuer struct{ err error }

func (f failingEnqueuer) Enqueue(context.Context, *queue.Message) error { return f.err }

func TestSweep_EnqueueFailureRestoresEntries(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(testStart)
	store := NewMemoryStore()
	s := New(DefaultConfig(), store, failingEnqueuer{err: errors.New("redis down")}, clock, zerolog.Nop())

	for _, id := range []string{"a", "b"} {
		if err := s.Schedule(ctx, newMessage(id), testStart); err != nil {
			t.Fatalf("Schedule() error = %v", err)
		}
	}

	if _, err := s.Sweep(ctx); err == nil {
		t.Fatal("Sweep() error = nil, want enqueue failure")
	}
	if n, _ := store.Len(ctx); n != 2 {
		t.Errorf("Len() = %d after failed sweep, want 2", n)
	}
}

func TestRun_SweepsOnTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(testStart)
	q := queue.NewMemoryStore(clock)
	s := New(Config{Interval: time.Minute, BatchSize: 10}, NewMemoryStore(), q, clock, zerolog.Nop())

	if err := s.Schedule(ctx, newMessage("tick"), testStart.Add(30*time.Second)); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext() error = %v", err)
	}
	clock.Advance(time.Minute)

	deadline := time.After(2 * time.Second)
	for {
		stats, _ := q.Stats(ctx)
		if stats.Pending == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scheduled message was not promoted after tick")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
