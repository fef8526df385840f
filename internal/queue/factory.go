package queue

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// NewStore creates the Store selected by cfg.Type. The Redis client is
// only required for the "redis" backend.
func NewStore(cfg Config, client *redis.Client, clock clockwork.Clock) (Store, error) {
	switch cfg.Type {
	case "redis", "":
		if client == nil {
			return nil, fmt.Errorf("redis queue requires a redis client")
		}
		return NewRedisStore(client, cfg.KeyPrefix, clock), nil

	case "memory":
		return NewMemoryStore(clock), nil

	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
