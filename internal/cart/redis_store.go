package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_checkout/domain"
)

const defaultTTL = 24 * time.Hour

// RedisStore keeps each cart as a JSON blob under a session-scoped key.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    defaultTTL,
	}
}

func (r *RedisStore) GetCurrentCart(ctx context.Context, sessionID string) (*domain.CartSnapshot, error) {
	data, err := r.client.Get(ctx, cartKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var snapshot domain.CartSnapshot
	if err2 := json.Unmarshal(data, &snapshot); err2 != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err2)
	}
	snapshot.SessionID = sessionID

	return &snapshot, nil
}

// SaveCart stores the snapshot blob; used by the storefront when the cart
// changes and by seeding code.
func (r *RedisStore) SaveCart(ctx context.Context, sessionID string, snapshot *domain.CartSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	if err := r.client.Set(ctx, cartKey(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) ClearCart(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func cartKey(sessionID string) string {
	return "cart:" + sessionID
}
