package store

import (
	"context"
	"testing"
	"time"
)

func TestRedisSessionStore(t *testing.T) {
	addr := getenvOrSkip(t, "REDIS_ADDR")
	ctx := context.Background()

	client, err := ConnectRedis(ctx, addr, "", 0)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	s := NewRedisSessionStore(client, time.Minute)
	defer s.Close()

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	if data, err := s.GetSession(ctx, key); err != nil || data != nil {
		t.Fatalf("expected miss, got %q, %v", data, err)
	}
	if err := s.SaveSession(ctx, key, []byte(`{"step":"WELCOME"}`)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if ttl := client.TTL(ctx, redisSessionPrefix+key).Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected TTL within a minute, got %v", ttl)
	}
	data, err := s.GetSession(ctx, key)
	if err != nil || string(data) != `{"step":"WELCOME"}` {
		t.Fatalf("unexpected session %q, %v", data, err)
	}
	if err := s.DeleteSession(ctx, key); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if data, _ := s.GetSession(ctx, key); data != nil {
		t.Errorf("expected session to be deleted, got %q", data)
	}
}

func TestNewRedisSessionStoreDefaultTTL(t *testing.T) {
	if s := NewRedisSessionStore(nil, 0); s.ttl != DefaultSessionTTL {
		t.Errorf("expected default TTL, got %v", s.ttl)
	}
}

func TestFirebaseKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+5511999998888", "+5511999998888"},
		{"signup:+5511999998888", "signup:+5511999998888"},
		{"a.b", "a%2Eb"},
		{"x/y#z", "x%2Fy%23z"},
		{"50%", "50%25"},
	}
	for _, tt := range tests {
		if got := firebaseKey(tt.in); got != tt.want {
			t.Errorf("firebaseKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFirebaseStore(t *testing.T) {
	// Runs against an empty database or the emulator (FIREBASE_DATABASE_EMULATOR_HOST).
	url := getenvOrSkip(t, "FIREBASE_DATABASE_URL")
	s, err := NewFirebaseStore(context.Background(), WithFirebaseURL(url))
	if err != nil {
		t.Skipf("Firebase not available: %v", err)
	}
	runStoreContract(t, s)
}

func TestNewFirebaseStoreRequiresURL(t *testing.T) {
	if _, err := NewFirebaseStore(context.Background()); err != ErrDSNNotSet {
		t.Errorf("expected ErrDSNNotSet, got %v", err)
	}
}
