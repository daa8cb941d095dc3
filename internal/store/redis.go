package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding sessions when no key is configured.
const DefaultRedisKey = "feedcast:sessions"

// redisClient is the subset of the go-redis API used by [RedisStore].
type redisClient interface {
	HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *goredis.IntCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	Close() error
}

// RedisStore keeps sessions in a single Redis hash, one JSON value per
// connection ID. It lets operators inspect live connections from outside
// the process.
type RedisStore struct {
	rdb redisClient
	key string
}

// OpenRedis connects to the Redis server at redisURL and verifies the
// connection with a PING. An empty key uses [DefaultRedisKey].
func OpenRedis(ctx context.Context, redisURL, key string) (*RedisStore, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisStore(rdb, key), nil
}

func newRedisStore(rdb redisClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

func (r *RedisStore) Put(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.rdb.HSet(ctx, r.key, s.ID, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to store session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	raw, err := r.rdb.HGet(ctx, r.key, id).Result()
	if errors.Is(err, goredis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Session{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return s, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.rdb.HDel(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// List skips entries that cannot be decoded rather than failing the listing.
func (r *RedisStore) List(ctx context.Context) ([]Session, error) {
	all, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]Session, 0, len(all))
	for _, raw := range all {
		var s Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
