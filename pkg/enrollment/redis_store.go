package enrollment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

// RedisConfig describes the Redis connection used for shared challenge state.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string // Default: "realitycam:challenge:"
}

// RedisChallengeStore keeps challenges in Redis so several ingest instances
// can redeem challenges issued by any of them. Keys expire with the
// challenge; a short-lived marker remembers redeemed ids so that reuse is
// reported as consumed rather than unknown.
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
}

type redisChallenge struct {
	Nonce     []byte `json:"nonce"`
	DeviceID  string `json:"device_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// NewRedisChallengeStore connects to Redis and verifies the connection.
func NewRedisChallengeStore(ctx context.Context, cfg RedisConfig) (*RedisChallengeStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisChallengeStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisChallengeStoreFromClient wraps an existing client.
func NewRedisChallengeStoreFromClient(client *redis.Client, prefix string) *RedisChallengeStore {
	if prefix == "" {
		prefix = "realitycam:challenge:"
	}
	return &RedisChallengeStore{client: client, prefix: prefix}
}

func (r *RedisChallengeStore) key(id string) string     { return r.prefix + id }
func (r *RedisChallengeStore) usedKey(id string) string { return r.prefix + "used:" + id }

// CreateChallenge stores c with a TTL matching its expiry.
func (r *RedisChallengeStore) CreateChallenge(ctx context.Context, c *store.Challenge) error {
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("challenge %s already expired", c.ID)
	}
	data, err := json.Marshal(redisChallenge{
		Nonce:     c.Nonce,
		DeviceID:  c.DeviceID,
		CreatedAt: c.CreatedAt.UnixMilli(),
		ExpiresAt: c.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(c.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	if !ok {
		return fmt.Errorf("challenge %s already exists", c.ID)
	}
	return nil
}

// ConsumeChallenge atomically removes and returns the challenge.
func (r *RedisChallengeStore) ConsumeChallenge(ctx context.Context, id string, now time.Time) (*store.Challenge, error) {
	data, err := r.client.GetDel(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		used, existsErr := r.client.Exists(ctx, r.usedKey(id)).Result()
		if existsErr == nil && used > 0 {
			return nil, store.ErrChallengeConsumed
		}
		return nil, store.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}

	var rc redisChallenge
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}

	expiresAt := time.UnixMilli(rc.ExpiresAt)
	if ttl := time.Until(expiresAt); ttl > 0 {
		r.client.Set(ctx, r.usedKey(id), 1, ttl)
	}
	if now.After(expiresAt) {
		return nil, store.ErrChallengeExpired
	}

	consumedAt := now
	return &store.Challenge{
		ID:         id,
		Nonce:      rc.Nonce,
		DeviceID:   rc.DeviceID,
		CreatedAt:  time.UnixMilli(rc.CreatedAt),
		ExpiresAt:  expiresAt,
		ConsumedAt: &consumedAt,
	}, nil
}

// Close closes the Redis connection.
func (r *RedisChallengeStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
