package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"reportinsight/internal/engine"
)

// Redis publishes every event as JSON on one pub/sub channel, for
// dashboards that want live updates.
type Redis struct {
	rdb     *goredis.Client
	channel string
}

func NewRedis(ctx context.Context, addr, channel string) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisWithClient(rdb, channel), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *goredis.Client, channel string) *Redis {
	return &Redis{rdb: rdb, channel: channel}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Notify(ctx context.Context, ev engine.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}

func (r *Redis) Close() error { return r.rdb.Close() }
