package session

import (
	"context"
	"strings"
	"testing"
)

func TestNewStore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      Config
		wantErr  string
		wantType string
	}{
		{name: "default is memory", cfg: Config{}, wantType: "memory"},
		{name: "memory", cfg: Config{Provider: "memory"}, wantType: "memory"},
		{name: "redis with malformed url", cfg: Config{Provider: "redis", RedisConnectionString: "localhost:6379"}, wantErr: "failed to parse redis connection string"},
		{name: "redis with unknown scheme", cfg: Config{Provider: "redis", RedisConnectionString: "http://localhost:6379/0"}, wantErr: "failed to parse redis connection string"},
		{name: "unsupported provider", cfg: Config{Provider: "memcached"}, wantErr: "unsupported session store provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, err := NewStore(context.Background(), tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if _, ok := store.(*MemoryStore); !ok && tt.wantType == "memory" {
				t.Fatalf("store = %T, want *MemoryStore", store)
			}
			if err := store.Close(); err != nil {
				t.Fatalf("expected close without error, got %v", err)
			}
		})
	}
}

func TestRedisStoreRequiresContext(t *testing.T) {
	t.Parallel()

	//nolint:staticcheck // a nil context is the case under test
	if _, err := NewRedisStore(nil, "redis://localhost:6379/0"); err == nil {
		t.Fatal("expected error for nil context")
	}
}

func TestRedisSessionKeyIsNamespaced(t *testing.T) {
	t.Parallel()

	if got := redisSessionKey("3f1c"); got != "checkout:session:3f1c" {
		t.Fatalf("redisSessionKey() = %q", got)
	}
}
