// Package app builds the shared clients and stores once at startup and
// hands them to the binaries.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/guest-messenger/internal/api"
	"github.com/sungwon/guest-messenger/internal/auth"
	"github.com/sungwon/guest-messenger/internal/booking"
	"github.com/sungwon/guest-messenger/internal/channel"
	"github.com/sungwon/guest-messenger/internal/config"
	"github.com/sungwon/guest-messenger/internal/delivery"
	"github.com/sungwon/guest-messenger/internal/deliverylog"
	"github.com/sungwon/guest-messenger/internal/queue"
	"github.com/sungwon/guest-messenger/internal/scheduler"
	"github.com/sungwon/guest-messenger/internal/storage"
	"github.com/sungwon/guest-messenger/internal/templates"
	"github.com/sungwon/guest-messenger/internal/worker"
)

// Services is the explicit service context shared by the API server and
// the queue worker.
type Services struct {
	Config *config.Config
	Log    zerolog.Logger
	Clock  clockwork.Clock

	// DB and Redis are nil when the matching backend runs in memory.
	DB    *storage.DB
	Redis *redis.Client

	Templates   templates.Store
	Bookings    booking.Lookup
	DeliveryLog deliverylog.Log
	Queue       queue.Store
	Retry       *queue.RetryStrategy
	Scheduler   *scheduler.Scheduler
	Delivery    *delivery.Service
}

// Options overrides pieces of the service context, mainly for tests.
type Options struct {
	Clock clockwork.Clock
	Redis *redis.Client
}

// New connects to PostgreSQL and Redis as configured, migrates the schema,
// seeds the default templates and wires the stores together. An empty
// database URL keeps templates, bookings and the delivery log in memory;
// queue.type "memory" does the same for the queue and schedule.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (_ *Services, err error) {
	s := &Services{Config: cfg, Log: log, Clock: opts.Clock}
	if s.Clock == nil {
		s.Clock = clockwork.NewRealClock()
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if err := s.openDatabase(ctx); err != nil {
		return nil, err
	}
	if err := s.openRedis(ctx, opts.Redis); err != nil {
		return nil, err
	}

	if err := templates.SeedDefaults(ctx, s.Templates, log); err != nil {
		return nil, err
	}

	s.Queue, err = queue.NewStore(cfg.Queue, s.Redis, s.Clock)
	if err != nil {
		return nil, err
	}
	schedStore, err := scheduler.NewStore(cfg.Queue.Type, s.Redis, cfg.Queue.KeyPrefix, log)
	if err != nil {
		return nil, err
	}
	s.Scheduler = scheduler.New(cfg.Scheduler, schedStore, s.Queue, s.Clock, log)
	s.Retry = queue.NewRetryStrategy(cfg.Queue.MaxAttempts, cfg.Queue.RetrySchedule)
	s.Delivery = delivery.NewService(s.Templates, s.Bookings, s.Queue, s.Scheduler, s.DeliveryLog, s.Clock, log)

	log.Info().
		Str("queue", cfg.Queue.Type).
		Bool("database", s.DB != nil).
		Int("max_attempts", cfg.Queue.MaxAttempts).
		Msg("services initialized")
	return s, nil
}

func (s *Services) openDatabase(ctx context.Context) error {
	if s.Config.Database.URL == "" {
		s.Log.Warn().Msg("database url not set; templates, bookings and delivery log are kept in memory")
		s.Templates = templates.NewMemoryStore()
		s.Bookings = booking.NewMemoryLookup()
		s.DeliveryLog = deliverylog.NewMemoryLog()
		return nil
	}

	db, err := storage.NewDB(ctx, s.Config.Database)
	if err != nil {
		return err
	}
	s.DB = db
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	s.Log.Info().Msg("database connection established")

	s.Templates = storage.NewTemplateRepo(db.Pool)
	s.Bookings = storage.NewBookingRepo(db.Pool)
	s.DeliveryLog = storage.NewDeliveryLogRepo(db.Pool)
	return nil
}

func (s *Services) openRedis(ctx context.Context, client *redis.Client) error {
	if s.Config.Queue.Type == "memory" {
		return nil
	}
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     s.Config.Redis.Addr,
			Password: s.Config.Redis.Password,
			DB:       s.Config.Redis.DB,
		})
	}
	s.Redis = client
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	s.Log.Info().Str("addr", s.Config.Redis.Addr).Msg("redis connection established")
	return nil
}

// NewWorkerPool builds the channel adapter and the delivery worker pool.
// The channel credentials are only required here.
func (s *Services) NewWorkerPool() (*worker.Pool, error) {
	chCfg := s.Config.Channel
	if err := chCfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := channel.NewHTTPClient(chCfg.Timeout)
	tokens := channel.NewTokenCache(chCfg, httpClient, s.Clock, s.Log)
	adapter := channel.NewAdapter(chCfg, httpClient, tokens, s.Clock, s.Log)

	return worker.NewPool(
		s.Config.Worker,
		s.Queue,
		adapter,
		s.Delivery.Composer(),
		s.DeliveryLog,
		s.Retry,
		s.Scheduler,
		s.Clock,
		s.Log,
	), nil
}

// HealthChecks returns the readiness probes for the configured backends.
func (s *Services) HealthChecks() []api.HealthCheck {
	var checks []api.HealthCheck
	if s.DB != nil {
		checks = append(checks, api.HealthCheck{Name: "database", Ping: s.DB.Ping})
	}
	if s.Redis != nil {
		checks = append(checks, api.HealthCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return s.Redis.Ping(ctx).Err()
		}})
	}
	return checks
}

// Router builds the HTTP API, with bearer auth when it is enabled.
func (s *Services) Router() http.Handler {
	var validator auth.TokenValidator
	if s.Config.Auth.Enabled {
		validator = auth.NewJWTService(auth.JWTConfig{
			SigningKey: s.Config.Auth.SigningKey,
			Issuer:     s.Config.Auth.Issuer,
			Audience:   s.Config.Auth.Audience,
		})
	} else {
		s.Log.Warn().Msg("API authentication is disabled")
	}

	return api.NewRouter(api.RouterConfig{
		Service: s.Delivery,
		Log:     s.Log,
		Auth:    validator,
		Checks:  s.HealthChecks(),
	})
}

// Close releases the database pool and the Redis client.
func (s *Services) Close() {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Log.Warn().Err(err).Msg("close redis")
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
