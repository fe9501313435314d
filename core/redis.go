package core

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClientRaw exposes the subset of go-redis used by the pending code stash.
type RedisClientRaw interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

const pendingCodePrefix = "portal:pending_code:"

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// RedisCodeStash keeps pending codes server side, namespaced by a per-session
// scratch id, with a TTL so unread codes do not outlive ttl.
type RedisCodeStash struct {
	client RedisClientRaw
	scope  string
	ttl    time.Duration
}

func NewRedisCodeStash(client RedisClientRaw, scope string, ttl time.Duration) *RedisCodeStash {
	return &RedisCodeStash{client: client, scope: scope, ttl: ttl}
}

func (s *RedisCodeStash) key(username string) string {
	return pendingCodePrefix + s.scope + ":" + username
}

func (s *RedisCodeStash) Put(ctx context.Context, username, code string) error {
	return s.client.Set(ctx, s.key(username), code, s.ttl).Err()
}

// Take reads and deletes in one GETDEL so two concurrent reads cannot both see the code.
func (s *RedisCodeStash) Take(ctx context.Context, username string) (string, bool, error) {
	code, err := s.client.GetDel(ctx, s.key(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return code, true, nil
}
