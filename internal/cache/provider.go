// Package cache remembers processed webhook deliveries.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WebhookTTL is how long a processed delivery is remembered.
const WebhookTTL = 24 * time.Hour

// Provider defines the interface for caching webhook delivery keys
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
}

func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		return NewRedisProvider(ctx, cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

func WebhookKey(source, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", source, eventID)
}

// Seen reports whether key was marked and has not expired. Only a miss counts as unseen;
// other lookup errors are returned so callers can decide to process anyway.
func Seen(ctx context.Context, p Provider, key string) (bool, error) {
	if p == nil {
		return false, nil
	}
	if _, err := p.Get(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func MarkSeen(ctx context.Context, p Provider, key string) error {
	if p == nil {
		return nil
	}
	return p.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), WebhookTTL)
}
