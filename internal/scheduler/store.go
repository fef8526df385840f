package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/guest-messenger/internal/queue"
)

// Entry is a message waiting for its send time.
type Entry struct {
	Message *queue.Message `json:"message"`
	SendAt  time.Time      `json:"send_at"`
}

// Store holds scheduled entries keyed by send time.
type Store interface {
	// Add stores the entry, replacing any entry with the same message id.
	Add(ctx context.Context, entry Entry) error
	// PopDue atomically removes and returns up to limit entries whose send
	// time is at or before now, earliest first.
	PopDue(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	// Len reports how many entries are waiting.
	Len(ctx context.Context) (int64, error)
}

var (
	addScript = redis.NewScript(`
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

	popDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local payload = redis.call('HGET', KEYS[2], id)
  redis.call('HDEL', KEYS[2], id)
  if payload then
    table.insert(out, payload)
  end
end
return out
`)
)

func scheduledKey(prefix string) string {
	return prefix + ":scheduled"
}

func payloadKey(prefix string) string {
	return prefix + ":scheduled:payload"
}

// RedisStore keeps scheduled entries in a sorted set scored by send time in
// milliseconds, with payloads in a companion hash.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

// NewRedisStore creates a RedisStore using keys under the given prefix.
func NewRedisStore(client *redis.Client, prefix string, log zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, log: log}
}

func (s *RedisStore) Add(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal scheduled entry: %w", err)
	}

	err = addScript.Run(ctx, s.client,
		[]string{scheduledKey(s.prefix), payloadKey(s.prefix)},
		entry.Message.ID, string(data), entry.SendAt.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("schedule message %s: %w", entry.Message.ID, err)
	}
	return nil
}

func (s *RedisStore) PopDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	raw, err := popDueScript.Run(ctx, s.client,
		[]string{scheduledKey(s.prefix), payloadKey(s.prefix)},
		strconv.FormatInt(now.UnixMilli(), 10), limit,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("pop due entries: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, payload := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil || e.Message == nil {
			s.log.Error().Err(err).Msg("dropping undecodable scheduled entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, scheduledKey(s.prefix)).Result()
	if err != nil {
		return 0, fmt.Errorf("count scheduled entries: %w", err)
	}
	return n, nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Add(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry.Message
	s.entries[cp.ID] = Entry{Message: &cp, SendAt: entry.SendAt}
	return nil
}

func (s *MemoryStore) PopDue(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Entry
	for _, e := range s.entries {
		if !e.SendAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].SendAt.Before(due[j].SendAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, e := range due {
		delete(s.entries, e.Message.ID)
	}
	return due, nil
}

func (s *MemoryStore) Len(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

// NewStore creates the Store matching the queue backend type.
func NewStore(kind string, client *redis.Client, prefix string, log zerolog.Logger) (Store, error) {
	switch kind {
	case "redis", "":
		if client == nil {
			return nil, fmt.Errorf("redis scheduler requires a redis client")
		}
		return NewRedisStore(client, prefix, log), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown scheduler store type: %s", kind)
	}
}
