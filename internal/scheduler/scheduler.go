package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/sungwon/guest-messenger/internal/queue"
)

var (
	MessagesScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guest_scheduler_messages_scheduled_total",
			Help: "Total number of messages stored for a future send time",
		},
	)

	MessagesPromotedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guest_scheduler_messages_promoted_total",
			Help: "Total number of due messages moved into the queue",
		},
	)
)

// Config holds scheduler settings.
type Config struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:  60 * time.Second,
		BatchSize: 100,
	}
}

// Scheduler holds future-dated messages and promotes them to the queue once
// due.
type Scheduler struct {
	store  Store
	queue  queue.Enqueuer
	clock  clockwork.Clock
	config Config
	log    zerolog.Logger
}

// New creates a Scheduler.
func New(cfg Config, store Store, q queue.Enqueuer, clock clockwork.Clock, log zerolog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Scheduler{
		store:  store,
		queue:  q,
		clock:  clock,
		config: cfg,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Schedule stores msg for delivery at sendAt.
func (s *Scheduler) Schedule(ctx context.Context, msg *queue.Message, sendAt time.Time) error {
	msg.State = queue.StatePending
	if err := s.store.Add(ctx, Entry{Message: msg, SendAt: sendAt}); err != nil {
		return err
	}

	MessagesScheduledTotal.Inc()
	s.log.Debug().
		Str("message_id", msg.ID).
		Time("send_at", sendAt).
		Msg("message scheduled")
	return nil
}

// Len reports how many messages are waiting for their send time.
func (s *Scheduler) Len(ctx context.Context) (int64, error) {
	return s.store.Len(ctx)
}

// Sweep moves every entry due at the current time into the queue and
// returns how many were enqueued. An entry whose id is already queued is
// dropped. If enqueueing fails, the undelivered entries of the batch are
// put back and the error is returned.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	promoted := 0

	for {
		due, err := s.store.PopDue(ctx, now, s.config.BatchSize)
		if err != nil {
			return promoted, err
		}

		for i, e := range due {
			err := s.queue.Enqueue(ctx, e.Message)
			if err == nil {
				promoted++
				MessagesPromotedTotal.Inc()
				continue
			}
			if errors.Is(err, queue.ErrDuplicateMessage) {
				s.log.Warn().Str("message_id", e.Message.ID).Msg("scheduled message already queued, dropping")
				continue
			}

			for _, rest := range due[i:] {
				if addErr := s.store.Add(ctx, rest); addErr != nil {
					s.log.Error().Err(addErr).Str("message_id", rest.Message.ID).Msg("failed to restore scheduled entry")
				}
			}
			return promoted, fmt.Errorf("promote message %s: %w", e.Message.ID, err)
		}

		if len(due) < s.config.BatchSize {
			break
		}
	}

	if promoted > 0 {
		s.log.Info().Int("count", promoted).Msg("promoted scheduled messages")
	}
	return promoted, nil
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.config.Interval).Msg("scheduler started")

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("scheduler sweep failed")
		}

		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.Chan():
		}
	}
}
