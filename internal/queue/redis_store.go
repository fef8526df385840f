package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Every mutation that touches more than one key runs as a Lua script so
// that concurrent workers, possibly in different processes, observe it
// atomically.
var (
	enqueueScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

	claimScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
  return false
end
local id = popped[1]
redis.call('ZADD', KEYS[3], ARGV[1], id)
local payload = redis.call('HGET', KEYS[2], id)
if not payload then
  payload = ''
end
return {id, payload}
`)

	removeScript = redis.NewScript(`
local claimed = redis.call('ZSCORE', KEYS[1], ARGV[1])
if claimed then
  if tonumber(claimed) ~= tonumber(ARGV[2]) then
    return -1
  end
  redis.call('ZREM', KEYS[1], ARGV[1])
  redis.call('HDEL', KEYS[2], ARGV[1])
  return 1
end
if redis.call('ZREM', KEYS[3], ARGV[1]) == 1 then
  redis.call('HDEL', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

	requeueScript = redis.NewScript(`
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

	deadLetterScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[2])
return 1
`)

	reclaimScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

	reprocessScript = redis.NewScript(`
if redis.call('HDEL', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)
)

// RedisStore keeps the priority queue in Redis: a sorted set of ids scored
// by priority, a hash of payloads, a sorted set of in-flight claims scored
// by claim time, and a hash of dead letters.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  clockwork.Clock
}

// NewRedisStore creates a RedisStore using keys under the given prefix.
func NewRedisStore(client *redis.Client, prefix string, clock clockwork.Clock) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, clock: clock}
}

// Enqueue adds a message at its current score.
func (s *RedisStore) Enqueue(ctx context.Context, msg *Message) error {
	msg.State = StatePending
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	added, err := enqueueScript.Run(ctx, s.client,
		[]string{queueKey(s.prefix), messagesKey(s.prefix)},
		msg.ID, string(data), msg.Score(),
	).Int()
	if err != nil {
		return fmt.Errorf("enqueue message %s: %w", msg.ID, err)
	}
	if added == 0 {
		return fmt.Errorf("enqueue message %s: %w", msg.ID, ErrDuplicateMessage)
	}

	MessagesEnqueuedTotal.Inc()
	return nil
}

// ClaimNext pops the lowest-score id and records the claim in one step.
func (s *RedisStore) ClaimNext(ctx context.Context) (*Message, error) {
	now := s.clock.Now()

	res, err := claimScript.Run(ctx, s.client,
		[]string{queueKey(s.prefix), messagesKey(s.prefix), inflightKey(s.prefix)},
		now.UnixMilli(),
	).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("claim next message: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("claim next message: unexpected reply of %d elements", len(res))
	}

	id, _ := res[0].(string)
	payload, _ := res[1].(string)
	if payload == "" {
		return nil, &QueueCorruptionError{ID: id, Err: errors.New("missing payload")}
	}

	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, &QueueCorruptionError{ID: id, Err: err}
	}
	msg.State = StateInFlight
	msg.ClaimedAt = now

	return &msg, nil
}

// Remove drops a finished message. The claim must still be the one
// recorded by ClaimNext; if recovery already returned the id to the pending
// set it is taken out of there too, and if another worker has claimed it
// since, ErrClaimLost is returned and nothing changes.
func (s *RedisStore) Remove(ctx context.Context, msg *Message) error {
	n, err := removeScript.Run(ctx, s.client,
		[]string{inflightKey(s.prefix), messagesKey(s.prefix), queueKey(s.prefix)},
		msg.ID, msg.ClaimedAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("remove message %s: %w", msg.ID, err)
	}
	if n < 0 {
		return fmt.Errorf("remove message %s: %w", msg.ID, ErrClaimLost)
	}
	return nil
}

// RequeueWithPenalty increments the attempt count and reinserts the message
// at its demoted score.
func (s *RedisStore) RequeueWithPenalty(ctx context.Context, msg *Message) error {
	Penalize(msg, nil)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = requeueScript.Run(ctx, s.client,
		[]string{queueKey(s.prefix), messagesKey(s.prefix), inflightKey(s.prefix)},
		msg.ID, string(data), msg.Score(),
	).Err()
	if err != nil {
		return fmt.Errorf("requeue message %s: %w", msg.ID, err)
	}

	MessagesRequeuedTotal.Inc()
	return nil
}

// DeadLetter moves the message out of the live store into the dead letter hash.
func (s *RedisStore) DeadLetter(ctx context.Context, msg *Message, reason string) error {
	msg.State = StateFailed
	entry := DeadLetterEntry{
		Message:  msg,
		Reason:   reason,
		MovedAt:  s.clock.Now(),
		Attempts: msg.Attempts,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	err = deadLetterScript.Run(ctx, s.client,
		[]string{queueKey(s.prefix), messagesKey(s.prefix), inflightKey(s.prefix), dlqKey(s.prefix)},
		msg.ID, string(data),
	).Err()
	if err != nil {
		return fmt.Errorf("dead letter message %s: %w", msg.ID, err)
	}

	DLQMessagesTotal.Inc()
	return nil
}

// RecoverStale returns claims older than the threshold to the pending set.
// A claim is reclaimed only if it is still in flight when the script runs,
// so a worker finishing concurrently wins.
func (s *RedisStore) RecoverStale(ctx context.Context, olderThan time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, inflightKey(s.prefix), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(olderThan.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list stale claims: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		payload, err := s.client.HGet(ctx, messagesKey(s.prefix), id).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return recovered, fmt.Errorf("read stale message %s: %w", id, err)
		}

		var msg Message
		if payload == "" || json.Unmarshal([]byte(payload), &msg) != nil {
			if err := s.DeadLetter(ctx, &Message{ID: id}, "corrupt entry found during recovery"); err != nil {
				return recovered, err
			}
			continue
		}

		n, err := reclaimScript.Run(ctx, s.client,
			[]string{inflightKey(s.prefix), queueKey(s.prefix)},
			id, msg.Score(),
		).Int()
		if err != nil {
			return recovered, fmt.Errorf("reclaim message %s: %w", id, err)
		}
		recovered += n
	}

	RecoveredClaimsTotal.Add(float64(recovered))
	return recovered, nil
}

// Reprocess moves dead letters back into the queue with attempts reset.
// Entries parked as corrupt carry no deliverable message and stay put.
func (s *RedisStore) Reprocess(ctx context.Context, ids []string) (int, error) {
	reprocessed := 0

	for _, id := range ids {
		data, err := s.client.HGet(ctx, dlqKey(s.prefix), id).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return reprocessed, fmt.Errorf("read dead letter %s: %w", id, err)
		}

		var entry DeadLetterEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil || entry.Message == nil || !entry.Message.Deliverable() {
			continue
		}

		msg := entry.Message
		msg.Attempts = 0
		msg.State = StatePending
		msg.LastError = ""
		msg.ClaimedAt = time.Time{}

		payload, err := json.Marshal(msg)
		if err != nil {
			return reprocessed, fmt.Errorf("marshal message: %w", err)
		}

		n, err := reprocessScript.Run(ctx, s.client,
			[]string{dlqKey(s.prefix), messagesKey(s.prefix), queueKey(s.prefix)},
			id, string(payload), msg.Score(),
		).Int()
		if err != nil {
			return reprocessed, fmt.Errorf("reprocess message %s: %w", id, err)
		}
		reprocessed += n
	}

	return reprocessed, nil
}

// Stats reports the sizes of the pending, in-flight and dead letter sets.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	pipe := s.client.Pipeline()
	pending := pipe.ZCard(ctx, queueKey(s.prefix))
	inflight := pipe.ZCard(ctx, inflightKey(s.prefix))
	dead := pipe.HLen(ctx, dlqKey(s.prefix))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}

	return Stats{
		Pending:  pending.Val(),
		InFlight: inflight.Val(),
		Dead:     dead.Val(),
	}, nil
}
