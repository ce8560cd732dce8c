package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"referral_service/internal/models"

	"github.com/redis/go-redis/v9"
)

const emailKeyPrefix = "referral:email:"

// CodeCache keeps the active referral code of an owner keyed by the owner's email.
type CodeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(ctx context.Context, addr, pass string, db int, ttl time.Duration) (*CodeCache, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     pass,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewWithClient(client, ttl), nil
}

func NewWithClient(client *redis.Client, ttl time.Duration) *CodeCache {
	return &CodeCache{
		client: client,
		ttl:    ttl,
	}
}

func key(email string) string {
	return emailKeyPrefix + email
}

// * Get возвращает закешированный код владельца, found=false если записи нет
func (c *CodeCache) Get(ctx context.Context, email string) (models.ReferralCode, bool, error) {
	const op = "storage.redis.Get"

	data, err := c.client.Get(ctx, key(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.ReferralCode{}, false, nil
		}

		return models.ReferralCode{}, false, fmt.Errorf("%s: %w", op, err)
	}

	var rc models.ReferralCode
	if err := json.Unmarshal(data, &rc); err != nil {
		return models.ReferralCode{}, false, fmt.Errorf("%s: %w", op, err)
	}

	return rc, true, nil
}

// Set stores the code until the cache ttl or the code's own expiry, whichever comes first.
// Codes that are already expired are not stored.
func (c *CodeCache) Set(ctx context.Context, email string, rc models.ReferralCode, now time.Time) error {
	const op = "storage.redis.Set"

	ttl := c.ttl
	if left := rc.ExpiresAt.Sub(now); left < ttl {
		ttl = left
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := c.client.Set(ctx, key(email), data, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * Invalidate удаляет запись владельца после создания или удаления кода
func (c *CodeCache) Invalidate(ctx context.Context, email string) error {
	const op = "storage.redis.Invalidate"

	if err := c.client.Del(ctx, key(email)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (c *CodeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// * Close закрывает соединение с redis.
func (c *CodeCache) Close() {
	_ = c.client.Close()
}
