package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/guest-messenger/internal/channel"
	"github.com/sungwon/guest-messenger/internal/delivery"
	"github.com/sungwon/guest-messenger/internal/deliverylog"
	"github.com/sungwon/guest-messenger/internal/queue"
)

// ---------------------------------------------------------------------------
// Mock: channel.Sender
// ---------------------------------------------------------------------------

type mockSender struct {
	mu    sync.Mutex
	calls []channel.Delivery
	errs  []error // returned in order; nil once exhausted
}

func (m *mockSender) Send(_ context.Context, d channel.Delivery) (*channel.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, d)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &channel.Result{StatusCode: 200, ChannelMessageID: "ch-" + d.MessageID}, nil
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ---------------------------------------------------------------------------
// Mock: Composer
// ---------------------------------------------------------------------------

type mockComposer struct {
	err   error
	calls int
}

func (m *mockComposer) Compose(_ context.Context, msg *queue.Message) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	msg.Subject = "rendered subject"
	msg.Body = "rendered body"
	return true, nil
}

// ---------------------------------------------------------------------------
// Mock: Rescheduler
// ---------------------------------------------------------------------------

type mockRescheduler struct {
	msgs []queue.Message
	at   []time.Time
}

func (m *mockRescheduler) Schedule(_ context.Context, msg *queue.Message, sendAt time.Time) error {
	m.msgs = append(m.msgs, *msg)
	m.at = append(m.at, sendAt)
	return nil
}

var start = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	pool   *Pool
	store  *queue.MemoryStore
	sender *mockSender
	comp   *mockComposer
	dlog   *deliverylog.MemoryLog
	clock  *clockwork.FakeClock
}

func newHarness(t *testing.T, cfg Config, retry *queue.RetryStrategy, resched Rescheduler, errs ...error) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(start)
	h := &harness{
		store:  queue.NewMemoryStore(clock),
		sender: &mockSender{errs: errs},
		comp:   &mockComposer{},
		dlog:   deliverylog.NewMemoryLog(),
		clock:  clock,
	}
	h.pool = NewPool(cfg, h.store, h.sender, h.comp, h.dlog, retry, resched, clock, zerolog.Nop())
	return h
}

func readyMessage(id string) *queue.Message {
	return &queue.Message{
		ID:          id,
		BookingRef:  "BK-" + id,
		TargetID:    "BK-" + id,
		MessageType: "custom",
		Subject:     "hello",
		Body:        "world",
		Priority:    queue.PriorityNormal,
		CreatedAt:   start,
	}
}

func transient() error {
	return fmt.Errorf("send request: %w", channel.ErrTransient)
}

func TestPool_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), queue.NewRetryStrategy(3, nil), nil)
	if err := h.store.Enqueue(ctx, readyMessage("m1")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if n := h.pool.RunOnce(ctx); n != 1 {
		t.Fatalf("RunOnce() = %d, want 1", n)
	}

	entries := h.dlog.Entries()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Status != deliverylog.StatusSent || e.Attempts != 1 || e.MessageID != "m1" || e.BookingRef != "BK-m1" {
		t.Errorf("log entry = %+v, want sent with 1 attempt", e)
	}
	if !e.Timestamp.Equal(start) {
		t.Errorf("log timestamp = %v, want %v", e.Timestamp, start)
	}

	stats, _ := h.store.Stats(ctx)
	if stats != (queue.Stats{}) {
		t.Errorf("store stats = %+v, want empty", stats)
	}
	if h.comp.calls != 0 {
		t.Errorf("composer called %d times for ready message, want 0", h.comp.calls)
	}
}

func TestPool_ThreeTransientFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), queue.NewRetryStrategy(3, nil), nil, transient(), transient(), transient())
	if err := h.store.Enqueue(ctx, readyMessage("m1")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if n := h.pool.RunOnce(ctx); n != 1 {
			t.Fatalf("RunOnce() #%d = %d, want 1", i+1, n)
		}
		if i < 2 && len(h.dlog.Entries()) != 0 {
			t.Fatalf("log written after retryable failure #%d", i+1)
		}
	}

	entries := h.dlog.Entries()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want exactly 1", len(entries))
	}
	if entries[0].Status != deliverylog.StatusFailed || entries[0].Attempts != 3 {
		t.Errorf("log entry = %+v, want failed with 3 attempts", entries[0])
	}
	if entries[0].Error == "" {
		t.Error("failed entry has no error text")
	}

	if _, err := h.store.ClaimNext(ctx); !errors.Is(err, queue.ErrEmpty) {
		t.Errorf("message still claimable after failure: %v", err)
	}
	stats, _ := h.store.Stats(ctx)
	if stats.Dead != 1 {
		t.Errorf("dead letters = %d, want 1", stats.Dead)
	}
	if h.sender.callCount() != 3 {
		t.Errorf("send attempts = %d, want 3", h.sender.callCount())
	}
}

func TestPool_RetryThenSuccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), queue.NewRetryStrategy(3, nil), nil, transient())
	h.store.Enqueue(ctx, readyMessage("m1"))

	h.pool.RunOnce(ctx)
	h.pool.RunOnce(ctx)

	entries := h.dlog.Entries()
	if len(entries) != 1 || entries[0].Status != deliverylog.StatusSent || entries[0].Attempts != 2 {
		t.Errorf("log = %+v, want one sent entry with 2 attempts", entries)
	}
}

func TestPool_PermanentFailures(t *testing.T) {
	tests := []struct {
		name       string
		sendErr    error
		composeErr error
		needRender bool
	}{
		{name: "channel rejects request", sendErr: fmt.Errorf("x: %w", channel.ErrPermanent)},
		{name: "deferred render fails", composeErr: &delivery.ValidationError{Reason: "render template"}, needRender: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, DefaultConfig(), queue.NewRetryStrategy(3, nil), nil, tt.sendErr)
			h.comp.err = tt.composeErr

			msg := readyMessage("m1")
			if tt.needRender {
				msg.MessageType = "welcome"
				msg.Subject, msg.Body = "", ""
			}
			h.store.Enqueue(ctx, msg)

			h.pool.RunOnce(ctx)

			entries := h.dlog.Entries()
			if len(entries) != 1 || entries[0].Status != deliverylog.StatusFailed || entries[0].Attempts != 1 {
				t.Errorf("log = %+v, want one failed entry with 1 attempt", entries)
			}
			stats, _ := h.store.Stats(ctx)
			if stats.Pending != 0 || stats.Dead != 1 {
				t.Errorf("stats = %+v, want only a dead letter", stats)
			}
		})
	}
}

func TestPool_DeferredRender(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), queue.NewRetryStrategy(3, nil), nil)
	msg := readyMessage("m1")
	msg.MessageType = "welcome"
	msg.Subject, msg.Body = "", ""
	h.store.Enqueue(ctx, msg)

	h.pool.RunOnce(ctx)

	if h.comp.calls != 1 {
		t.Errorf("composer calls = %d, want 1", h.comp.calls)
	}
	if got := h.sender.calls[0]; got.Subject != "rendered subject" || got.Body != "rendered body" {
		t.Errorf("sent %+v, want rendered content", got)
	}
}

func TestPool_PriorityOrder(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.BatchSize = 3
	h := newHarness(t, cfg, queue.NewRetryStrategy(3, nil), nil)

	low := readyMessage("low")
	low.Priority = queue.PriorityLow
	high := readyMessage("high")
	high.Priority = queue.PriorityHigh
	h.store.Enqueue(ctx, low)
	h.store.Enqueue(ctx, readyMessage("normal"))
	h.store.Enqueue(ctx, high)

	if n := h.pool.RunOnce(ctx); n != 3 {
		t.Fatalf("RunOnce() = %d, want 3", n)
	}
	for i, want := range []string{"high", "normal", "low"} {
		if h.sender.calls[i].MessageID != want {
			t.Errorf("send #%d = %s, want %s", i, h.sender.calls[i].MessageID, want)
		}
	}
}

func TestPool_RetryBackoffUsesScheduler(t *testing.T) {
	ctx := context.Background()
	resched := &mockRescheduler{}
	retry := queue.NewRetryStrategy(3, []time.Duration{time.Minute})
	h := newHarness(t, DefaultConfig(), retry, resched, transient())
	h.store.Enqueue(ctx, readyMessage("m1"))

	h.pool.RunOnce(ctx)

	if len(resched.msgs) != 1 {
		t.Fatalf("rescheduled = %d, want 1", len(resched.msgs))
	}
	if resched.msgs[0].Attempts != 1 {
		t.Errorf("rescheduled attempts = %d, want 1", resched.msgs[0].Attempts)
	}
	delay := resched.at[0].Sub(start)
	if delay < 30*time.Second || delay > time.Minute {
		t.Errorf("retry delay = %v, want within [30s, 1m]", delay)
	}
	stats, _ := h.store.Stats(ctx)
	if stats != (queue.Stats{}) {
		t.Errorf("store stats = %+v, want message released to the scheduler", stats)
	}

	if err := h.store.Enqueue(ctx, &resched.msgs[0]); err != nil {
		t.Errorf("re-enqueue of rescheduled message error = %v", err)
	}
}

func TestPool_CorruptEntryDoesNotStopLoop(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	clock := clockwork.NewFakeClockAt(start)
	store := queue.NewRedisStore(client, "test", clock)
	sender := &mockSender{}
	dlog := deliverylog.NewMemoryLog()
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	pool := NewPool(cfg, store, sender, &mockComposer{}, dlog, queue.NewRetryStrategy(3, nil), nil, clock, zerolog.Nop())

	mr.ZAdd("test:queue", 0, "broken")
	mr.HSet("test:messages", "broken", "not json")
	if err := store.Enqueue(ctx, readyMessage("good")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if n := pool.RunOnce(ctx); n != 1 {
		t.Errorf("RunOnce() = %d, want 1", n)
	}
	if sender.callCount() != 1 || sender.calls[0].MessageID != "good" {
		t.Errorf("sends = %+v, want only the good message", sender.calls)
	}
	stats, _ := store.Stats(ctx)
	if stats.Dead != 1 || stats.Pending != 0 || stats.InFlight != 0 {
		t.Errorf("stats = %+v, want the corrupt entry dead-lettered", stats)
	}
}

func TestPool_RecoverOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), queue.NewRetryStrategy(3, nil), nil)
	h.store.Enqueue(ctx, readyMessage("m1"))
	if _, err := h.store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}

	if n := h.pool.RecoverOnce(ctx); n != 0 {
		t.Errorf("RecoverOnce() on fresh claim = %d, want 0", n)
	}
	h.clock.Advance(6 * time.Minute)
	if n := h.pool.RecoverOnce(ctx); n != 1 {
		t.Errorf("RecoverOnce() = %d, want 1", n)
	}
	if n := h.pool.RunOnce(ctx); n != 1 {
		t.Errorf("RunOnce() after recovery = %d, want 1", n)
	}
}

func TestPool_StartStop(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Count = 2
	h := newHarness(t, cfg, queue.NewRetryStrategy(3, nil), nil)

	h.pool.Start(ctx)

	h.store.Enqueue(ctx, readyMessage("m1"))
	// Two worker tickers plus the recovery ticker.
	if err := h.clock.BlockUntilContext(ctx, 3); err != nil {
		t.Fatalf("BlockUntilContext() error = %v", err)
	}
	h.clock.Advance(cfg.PollInterval)

	deadline := time.After(2 * time.Second)
	for len(h.dlog.Entries()) == 0 {
		select {
		case <-deadline:
			t.Fatal("message was not delivered by the running pool")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := h.pool.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
