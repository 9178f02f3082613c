package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type RedisBackend struct {
	rdb *goredis.Client
}

func NewRedisBackend(addr string) (*RedisBackend, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("history: redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBackend{rdb: rdb}, nil
}

func (b *RedisBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (b *RedisBackend) Save(ctx context.Context, key string, value []byte) error {
	return b.rdb.Set(ctx, key, value, 0).Err()
}

func (b *RedisBackend) Close() error { return b.rdb.Close() }
