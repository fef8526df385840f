package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/guest-messenger/internal/booking"
	"github.com/sungwon/guest-messenger/internal/channel"
	"github.com/sungwon/guest-messenger/internal/config"
	"github.com/sungwon/guest-messenger/internal/deliverylog"
	"github.com/sungwon/guest-messenger/internal/queue"
	"github.com/sungwon/guest-messenger/internal/scheduler"
	"github.com/sungwon/guest-messenger/internal/worker"
)

func testConfig(queueType string) *config.Config {
	return &config.Config{
		Queue:     queue.Config{Type: queueType, KeyPrefix: "test", MaxAttempts: 3},
		Scheduler: scheduler.DefaultConfig(),
		Worker:    worker.DefaultConfig(),
		Channel:   channel.DefaultConfig(),
	}
}

func TestNew_InMemory(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, err := New(context.Background(), testConfig("memory"), zerolog.Nop(), Options{Clock: clock})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if s.DB != nil || s.Redis != nil {
		t.Error("expected no external connections in memory mode")
	}
	if len(s.HealthChecks()) != 0 {
		t.Errorf("expected no health checks, got %d", len(s.HealthChecks()))
	}

	list, err := s.Templates.List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) == 0 {
		t.Error("expected default templates to be seeded")
	}
}

func TestNew_RedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig("redis")
	cfg.Redis.Addr = mr.Addr()
	s, err := New(context.Background(), cfg, zerolog.Nop(), Options{Redis: client})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if _, ok := s.Queue.(*queue.RedisStore); !ok {
		t.Errorf("expected RedisStore, got %T", s.Queue)
	}
	if len(s.HealthChecks()) != 1 {
		t.Errorf("expected redis health check, got %d", len(s.HealthChecks()))
	}
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig("redis")
	cfg.Redis.Addr = "127.0.0.1:1"
	if _, err := New(context.Background(), cfg, zerolog.Nop(), Options{}); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestNewWorkerPool_RequiresChannelCredentials(t *testing.T) {
	s, err := New(context.Background(), testConfig("memory"), zerolog.Nop(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.NewWorkerPool(); err == nil {
		t.Fatal("expected error without channel credentials")
	}
}

// TestEndToEnd sends a welcome message through the API and delivers it to
// a fake channel with the worker pool.
func TestEndToEnd(t *testing.T) {
	var got atomic.Value
	channelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/authentication/v1/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
		case "/messaging/v1/messages":
			var p struct {
				TargetID string `json:"targetId"`
				Subject  string `json:"subject"`
				Message  string `json:"message"`
			}
			_ = json.NewDecoder(r.Body).Decode(&p)
			got.Store(p.TargetID + "|" + p.Subject + "|" + p.Message)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"messageId":"ch-1"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer channelSrv.Close()

	cfg := testConfig("memory")
	cfg.Channel.BaseURL = channelSrv.URL
	cfg.Channel.ClientID = "id"
	cfg.Channel.ClientSecret = "secret"

	s, err := New(context.Background(), cfg, zerolog.Nop(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.Bookings.(*booking.MemoryLookup).Put(booking.Booking{
		Ref: "BK-9", GuestName: "Jane", PropertyID: "p1", PropertyName: "Beach House",
		CheckIn: time.Now().AddDate(0, 0, 3), CheckOut: time.Now().AddDate(0, 0, 5), Status: booking.StatusConfirmed,
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/send-message", strings.NewReader(`{"booking_id":"BK-9","message_type":"welcome"}`))
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("send-message: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	pool, err := s.NewWorkerPool()
	if err != nil {
		t.Fatal(err)
	}
	if n := pool.RunOnce(context.Background()); n != 1 {
		t.Fatalf("RunOnce() = %d, want 1", n)
	}

	payload, _ := got.Load().(string)
	if !strings.HasPrefix(payload, "BK-9|Welcome to Beach House!|Hi Jane,") {
		t.Errorf("unexpected channel payload: %q", payload)
	}

	history, err := s.Delivery.GetMessageHistory(context.Background(), "BK-9")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != deliverylog.StatusSent || history[0].Attempts != 1 {
		t.Errorf("unexpected history: %+v", history)
	}

	stats, err := s.Delivery.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.QueueSize != 0 || stats.Last24hSent != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
