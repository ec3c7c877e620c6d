package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

// DefaultRedisTTL bounds how long an abandoned snapshot stays visible.
const DefaultRedisTTL = 24 * time.Hour

// RedisStore keeps the latest snapshot under a single key, for observers that
// do not share a filesystem with the worker.
type RedisStore struct {
	rdb *goredis.Client
	key string
	ttl time.Duration
}

func NewRedisStore(rdb *goredis.Client, key string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{rdb: rdb, key: key, ttl: ttl}
}

// DialRedis connects and pings, failing fast on a bad address.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
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
	return rdb, nil
}

func (s *RedisStore) Write(ctx context.Context, snapshot domain.ProgressSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set progress: %w", err)
	}
	return nil
}

func (s *RedisStore) Read(ctx context.Context) (domain.ProgressSnapshot, error) {
	raw, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.ProgressSnapshot{}, domain.ErrNoProgress
		}
		return domain.ProgressSnapshot{}, fmt.Errorf("redis get progress: %w", err)
	}
	return decode(raw)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del progress: %w", err)
	}
	return nil
}
