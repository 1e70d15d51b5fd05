package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// RedisStorage keeps one viewer's anonymous identity in Redis, for
// deployments where identities must survive across server nodes.
type RedisStorage struct {
	client *redis.Client
	key    string
}

// NewRedisStorage creates a storage scoped to one viewer.
func NewRedisStorage(client *redis.Client, viewerID string) *RedisStorage {
	return &RedisStorage{
		client: client,
		key:    "roomcast:anon:" + viewerID,
	}
}

// Load returns the stored identity, or nil when the key is absent.
func (s *RedisStorage) Load(ctx context.Context) (*AnonymousUser, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read anonymous identity: %w", err)
	}

	var user AnonymousUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode anonymous identity: %w", err)
	}
	return &user, nil
}

// Save stores the identity, replacing any previous one.
func (s *RedisStorage) Save(ctx context.Context, user *AnonymousUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode anonymous identity: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("write anonymous identity: %w", err)
	}
	return nil
}

// Clear removes the stored identity.
func (s *RedisStorage) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("remove anonymous identity: %w", err)
	}
	return nil
}
