// Package worker claims queued messages and delivers them through the
// channel, resolving each to sent, retried or failed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/sungwon/guest-messenger/internal/channel"
	"github.com/sungwon/guest-messenger/internal/delivery"
	"github.com/sungwon/guest-messenger/internal/deliverylog"
	"github.com/sungwon/guest-messenger/internal/queue"
)

// Config holds worker pool settings.
type Config struct {
	Count            int           `mapstructure:"count"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	ProcessTimeout   time.Duration `mapstructure:"process_timeout"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Count:            1,
		PollInterval:     5 * time.Second,
		BatchSize:        1,
		ProcessTimeout:   30 * time.Second,
		RecoveryInterval: time.Minute,
		StaleAfter:       5 * time.Minute,
		ShutdownTimeout:  30 * time.Second,
	}
}

// Composer fills in content for messages whose rendering was deferred.
type Composer interface {
	Compose(ctx context.Context, msg *queue.Message) (bool, error)
}

// Rescheduler holds a message until a later send time.
type Rescheduler interface {
	Schedule(ctx context.Context, msg *queue.Message, sendAt time.Time) error
}

// Pool manages worker goroutines that poll the queue, plus one goroutine
// that returns stale claims to the queue.
type Pool struct {
	store    queue.Store
	sender   channel.Sender
	composer Composer
	dlog     deliverylog.Log
	retry    *queue.RetryStrategy
	resched  Rescheduler
	clock    clockwork.Clock
	config   Config
	log      zerolog.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewPool creates a Pool. resched may be nil when no retry schedule is
// configured.
func NewPool(
	cfg Config,
	store queue.Store,
	sender channel.Sender,
	composer Composer,
	dlog deliverylog.Log,
	retry *queue.RetryStrategy,
	resched Rescheduler,
	clock clockwork.Clock,
	log zerolog.Logger,
) *Pool {
	def := DefaultConfig()
	if cfg.Count <= 0 {
		cfg.Count = def.Count
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = def.ProcessTimeout
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = def.RecoveryInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	return &Pool{
		store:    store,
		sender:   sender,
		composer: composer,
		dlog:     dlog,
		retry:    retry,
		resched:  resched,
		clock:    clock,
		config:   cfg,
		log:      log.With().Str("component", "worker").Logger(),
	}
}

// Start launches the configured number of worker goroutines and the
// recovery loop.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := range p.config.Count {
		p.wg.Add(1)
		go p.runWorker(ctx, fmt.Sprintf("worker-%d", i))
	}

	p.wg.Add(1)
	go p.runRecovery(ctx)

	p.log.Info().
		Int("worker_count", p.config.Count).
		Dur("poll_interval", p.config.PollInterval).
		Int("batch_size", p.config.BatchSize).
		Msg("worker pool started")
}

// Stop signals all workers to stop and waits up to the configured shutdown
// timeout for in-flight deliveries to finish.
func (p *Pool) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("worker pool stopped gracefully")
		return nil
	case <-p.clock.After(p.config.ShutdownTimeout):
		p.log.Warn().Msg("worker pool shutdown timed out")
		return fmt.Errorf("shutdown timed out after %s", p.config.ShutdownTimeout)
	}
}

func (p *Pool) runWorker(ctx context.Context, name string) {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.log.Info().Str("worker", name).Msg("worker started")

	for {
		p.RunOnce(ctx)

		select {
		case <-ctx.Done():
			p.log.Info().Str("worker", name).Msg("worker stopping")
			return
		case <-ticker.Chan():
		}
	}
}

func (p *Pool) runRecovery(ctx context.Context) {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.config.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.RecoverOnce(ctx)
		}
	}
}

// RecoverOnce returns claims older than the stale threshold to the queue.
func (p *Pool) RecoverOnce(ctx context.Context) int {
	n, err := p.store.RecoverStale(ctx, p.clock.Now().Add(-p.config.StaleAfter))
	if err != nil {
		if ctx.Err() == nil {
			p.log.Error().Err(err).Msg("stale claim recovery failed")
		}
		return n
	}
	if n > 0 {
		p.log.Warn().Int("count", n).Msg("recovered stale in-flight messages")
	}
	return n
}

// RunOnce claims and processes up to one batch of messages. It returns how
// many messages reached a resolution.
func (p *Pool) RunOnce(ctx context.Context) int {
	processed := 0

	for range p.config.BatchSize {
		if ctx.Err() != nil {
			return processed
		}

		msg, err := p.store.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				return processed
			}
			var corrupt *queue.QueueCorruptionError
			if errors.As(err, &corrupt) {
				p.discardCorrupt(ctx, corrupt)
				continue
			}
			if ctx.Err() == nil {
				p.log.Error().Err(err).Msg("claim failed")
			}
			return processed
		}

		p.process(ctx, msg)
		processed++
	}
	return processed
}

func (p *Pool) discardCorrupt(ctx context.Context, corrupt *queue.QueueCorruptionError) {
	p.log.Error().Err(corrupt).Str("message_id", corrupt.ID).Msg("corrupt queue entry, moving to dead letters")
	MessagesProcessedTotal.WithLabelValues("corrupt").Inc()

	if err := p.store.DeadLetter(context.WithoutCancel(ctx), &queue.Message{ID: corrupt.ID}, corrupt.Error()); err != nil {
		p.log.Error().Err(err).Str("message_id", corrupt.ID).Msg("failed to dead-letter corrupt entry")
	}
}

// process delivers one claimed message and resolves its outcome. Delivery
// and resolution are detached from ctx so a stopping pool lets them finish.
func (p *Pool) process(ctx context.Context, msg *queue.Message) {
	start := p.clock.Now()
	ctx = context.WithoutCancel(ctx)

	processCtx, cancel := context.WithTimeout(ctx, p.config.ProcessTimeout)
	err := p.deliver(processCtx, msg)
	cancel()

	MessageProcessingDuration.Observe(p.clock.Since(start).Seconds())

	p.resolve(ctx, msg, err)
}

func (p *Pool) deliver(ctx context.Context, msg *queue.Message) error {
	if msg.NeedsRender() {
		if _, err := p.composer.Compose(ctx, msg); err != nil {
			return fmt.Errorf("compose: %w", err)
		}
	}

	result, err := p.sender.Send(ctx, channel.Delivery{
		MessageID: msg.ID,
		TargetID:  msg.Target(),
		Subject:   msg.Subject,
		Body:      msg.Body,
	})
	if err != nil {
		return err
	}

	p.log.Info().
		Str("message_id", msg.ID).
		Str("booking_ref", msg.BookingRef).
		Str("channel_message_id", result.ChannelMessageID).
		Msg("message delivered")
	return nil
}

func isPermanent(err error) bool {
	return channel.IsPermanent(err) || delivery.IsValidation(err)
}

func (p *Pool) resolve(ctx context.Context, msg *queue.Message, err error) {
	switch {
	case err == nil:
		msg.State = queue.StateSent
		if rmErr := p.store.Remove(ctx, msg); rmErr != nil {
			if errors.Is(rmErr, queue.ErrClaimLost) {
				p.log.Warn().Str("message_id", msg.ID).Msg("claim was recovered while sending, message may be delivered twice")
			} else {
				p.log.Error().Err(rmErr).Str("message_id", msg.ID).Msg("failed to remove delivered message")
			}
		}
		p.record(ctx, msg, deliverylog.StatusSent, msg.Attempts+1, "")
		MessagesProcessedTotal.WithLabelValues("sent").Inc()

	case isPermanent(err):
		p.log.Error().Err(err).Str("message_id", msg.ID).Int("attempts", msg.Attempts+1).Msg("permanent delivery failure")
		p.fail(ctx, msg, err)

	case p.retry.ShouldRetry(msg.Attempts + 1):
		p.log.Warn().Err(err).Str("message_id", msg.ID).Int("attempts", msg.Attempts+1).Msg("delivery failed, retrying")
		msg.LastError = err.Error()
		msg.State = queue.StateRetrying
		p.requeue(ctx, msg, err)
		MessagesProcessedTotal.WithLabelValues("retried").Inc()

	default:
		p.log.Error().Err(err).Str("message_id", msg.ID).Int("attempts", msg.Attempts+1).Msg("max attempts exhausted")
		p.fail(ctx, msg, err)
	}
}

// requeue puts a failed message back in the queue, or parks it with the
// scheduler when a retry backoff is configured.
func (p *Pool) requeue(ctx context.Context, msg *queue.Message, cause error) {
	backoff := p.retry.NextBackoff(msg.Attempts + 1)
	if backoff <= 0 || p.resched == nil {
		if err := p.store.RequeueWithPenalty(ctx, msg); err != nil {
			p.log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to requeue message")
		}
		return
	}

	// Release the claim first so the scheduler can enqueue the id again.
	if err := p.store.Remove(ctx, msg); err != nil {
		p.log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to release message for retry")
		return
	}
	queue.Penalize(msg, cause)

	sendAt := p.clock.Now().Add(backoff)
	if err := p.resched.Schedule(ctx, msg, sendAt); err != nil {
		p.log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to schedule retry, requeueing now")
		if err := p.store.Enqueue(ctx, msg); err != nil {
			p.log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to requeue message")
		}
		return
	}

	p.log.Info().
		Str("message_id", msg.ID).
		Int("attempts", msg.Attempts).
		Dur("backoff", backoff).
		Msg("retry scheduled")
}

func (p *Pool) fail(ctx context.Context, msg *queue.Message, cause error) {
	msg.Attempts++
	msg.LastError = cause.Error()
	if err := p.store.DeadLetter(ctx, msg, cause.Error()); err != nil {
		p.log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to dead-letter message")
	}
	p.record(ctx, msg, deliverylog.StatusFailed, msg.Attempts, cause.Error())
	MessagesProcessedTotal.WithLabelValues("failed").Inc()
}

func (p *Pool) record(ctx context.Context, msg *queue.Message, status deliverylog.Status, attempts int, errText string) {
	err := p.dlog.Append(ctx, deliverylog.Entry{
		MessageID:  msg.ID,
		BookingRef: msg.BookingRef,
		Status:     status,
		Attempts:   attempts,
		Timestamp:  p.clock.Now(),
		Error:      errText,
	})
	if err != nil {
		if errors.Is(err, deliverylog.ErrAlreadyLogged) {
			p.log.Warn().Str("message_id", msg.ID).Msg("outcome already logged")
			return
		}
		p.log.Error().Err(err).Str("message_id", msg.ID).Str("status", string(status)).Msg("failed to write delivery log")
	}
}
