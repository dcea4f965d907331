package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/offline-sync/internal/status"
)

// RedisHistory wraps a Store and keeps the sync history log in a capped Redis list.
// Every other method is served by the wrapped store.
type RedisHistory struct {
	Store

	client *redis.Client
	key    string
	maxLen int64
}

var _ Store = (*RedisHistory)(nil)

// NewRedisHistory decorates inner with a Redis-backed history log. maxLen caps the
// list; zero or less keeps every record.
func NewRedisHistory(inner Store, client *redis.Client, key string, maxLen int64) *RedisHistory {
	return &RedisHistory{
		Store:  inner,
		client: client,
		key:    key,
		maxLen: maxLen,
	}
}

// NewRedisClient connects to Redis. addr may be a host:port pair or a redis:// URL.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("error parsing redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr, DB: db}
	}
	if password != "" {
		opts.Password = password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("error pinging redis: %w", err)
	}
	return client, nil
}

// AppendHistory pushes the record onto the head of the list and trims the tail
func (r *RedisHistory) AppendHistory(ctx context.Context, record *status.SyncRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal sync record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	if r.maxLen > 0 {
		pipe.LTrim(ctx, r.key, 0, r.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append sync record: %w", err)
	}
	return nil
}

// ListHistory returns records newest first
func (r *RedisHistory) ListHistory(ctx context.Context, limit int) ([]*status.SyncRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	values, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sync history: %w", err)
	}

	records := make([]*status.SyncRecord, 0, len(values))
	for _, v := range values {
		var record status.SyncRecord
		if err := json.Unmarshal([]byte(v), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sync record: %w", err)
		}
		records = append(records, &record)
	}
	return records, nil
}

// Close closes the Redis client and the wrapped store
func (r *RedisHistory) Close() error {
	return errors.Join(r.client.Close(), r.Store.Close())
}
