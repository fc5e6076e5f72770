package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingProvider struct{ Provider }

func (failingProvider) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func TestWebhookKey(t *testing.T) {
	t.Parallel()

	if got := WebhookKey("wompi", "abc123"); got != "webhook:wompi:abc123" {
		t.Fatalf("WebhookKey() = %q", got)
	}
}

func TestSeenAndMarkSeen(t *testing.T) {
	t.Parallel()

	provider, err := NewMemoryProvider()
	if err != nil {
		t.Fatalf("NewMemoryProvider() error = %v", err)
	}
	ctx := context.Background()
	key := WebhookKey("wompi", "checksum")

	seen, err := Seen(ctx, provider, key)
	if err != nil || seen {
		t.Fatalf("Seen() before mark = %v, %v; want false, nil", seen, err)
	}
	if err := MarkSeen(ctx, provider, key); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	seen, err = Seen(ctx, provider, key)
	if err != nil || !seen {
		t.Fatalf("Seen() after mark = %v, %v; want true, nil", seen, err)
	}
}

func TestSeenPropagatesProviderErrors(t *testing.T) {
	t.Parallel()

	if _, err := Seen(context.Background(), failingProvider{}, "k"); err == nil {
		t.Fatal("Seen() error = nil, want provider error")
	}
	if seen, err := Seen(context.Background(), nil, "k"); seen || err != nil {
		t.Fatalf("Seen(nil) = %v, %v; want false, nil", seen, err)
	}
}

func TestMemoryProviderExpiresEntries(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)
	provider, err := newMemoryProvider(8, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newMemoryProvider() error = %v", err)
	}
	ctx := context.Background()
	key := WebhookKey("wompi", "tx-1:APPROVED:1771934400")
	if err := MarkSeen(ctx, provider, key); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}

	now = now.Add(WebhookTTL - time.Second)
	if seen, _ := Seen(ctx, provider, key); !seen {
		t.Fatal("expected delivery to be remembered within the TTL")
	}
	now = now.Add(time.Second)
	if _, err := provider.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryProviderEvictsOldestDelivery(t *testing.T) {
	t.Parallel()

	provider, err := newMemoryProvider(2, time.Now)
	if err != nil {
		t.Fatalf("newMemoryProvider() error = %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := MarkSeen(ctx, provider, WebhookKey("wompi", id)); err != nil {
			t.Fatalf("MarkSeen(%s) error = %v", id, err)
		}
	}
	if seen, _ := Seen(ctx, provider, WebhookKey("wompi", "a")); seen {
		t.Fatal("expected the oldest delivery to be evicted")
	}
	if seen, _ := Seen(ctx, provider, WebhookKey("wompi", "c")); !seen {
		t.Fatal("expected the newest delivery to be remembered")
	}
}

func TestRedisCacheKeyIsNamespaced(t *testing.T) {
	t.Parallel()

	if got := redisCacheKey(WebhookKey("wompi", "abc")); got != "checkout:webhook:wompi:abc" {
		t.Fatalf("redisCacheKey() = %q", got)
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, err := NewProvider(ctx, Config{Provider: "memcached"}); err == nil {
		t.Fatal("NewProvider() error = nil, want unsupported provider error")
	}
	provider, err := NewProvider(ctx, Config{})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if err := provider.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
