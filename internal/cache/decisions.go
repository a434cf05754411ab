package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hetulpatel/updown/internal/models"
)

// DecisionCache stores recent scorer votes keyed by market context so
// that slow scorers (the reasoning one in particular) are not re-queried
// on every scan tick while conditions are unchanged.
type DecisionCache interface {
	Get(ctx context.Context, key string) (*models.Vote, bool, error)
	Set(ctx context.Context, key string, vote models.Vote) error
	Close() error
}

type redisDecisionCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDecisionCache builds a cache with a short TTL; stale votes are
// worse than no votes on a 15-minute market.
func NewRedisDecisionCache(addr, password string, db int, ttl time.Duration, prefix string) (DecisionCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if prefix == "" {
		prefix = "scorer_vote"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &redisDecisionCache{client: client, ttl: ttl, prefix: prefix}, nil
}

func (c *redisDecisionCache) key(k string) string {
	return fmt.Sprintf("%s:%s", c.prefix, k)
}

func (c *redisDecisionCache) Get(ctx context.Context, key string) (*models.Vote, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var vote models.Vote
	if err := json.Unmarshal(raw, &vote); err != nil {
		return nil, false, err
	}
	return &vote, true, nil
}

func (c *redisDecisionCache) Set(ctx context.Context, key string, vote models.Vote) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(vote)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), payload, c.ttl).Err()
}

func (c *redisDecisionCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// NoopCache satisfies DecisionCache when redis is not configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*models.Vote, bool, error) { return nil, false, nil }
func (NoopCache) Set(context.Context, string, models.Vote) error          { return nil }
func (NoopCache) Close() error                                            { return nil }
