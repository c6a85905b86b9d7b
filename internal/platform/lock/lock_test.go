package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	ok, token, err := l.TryLock(ctx, "sweep", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("expected lock, got %v %q %v", ok, token, err)
	}
	if ok, _, _ := l.TryLock(ctx, "sweep", time.Minute); ok {
		t.Fatal("expected second TryLock to fail while held")
	}
	if ok, _, _ := l.TryLock(ctx, "other", time.Minute); !ok {
		t.Error("expected an unrelated key to be free")
	}

	if err := l.Unlock(ctx, "sweep", "wrong"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if err := l.Unlock(ctx, "sweep", token); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if ok, _, _ := l.TryLock(ctx, "sweep", time.Minute); !ok {
		t.Error("expected lock to be free after unlock")
	}
}

func TestLocalLocker_Expiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, stale, _ := l.TryLock(ctx, "sweep", time.Minute)
	now = now.Add(2 * time.Minute)

	ok, fresh, _ := l.TryLock(ctx, "sweep", time.Minute)
	if !ok {
		t.Fatal("expected expired lock to be taken over")
	}
	if err := l.Unlock(ctx, "sweep", stale); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected the previous owner to be rejected, got %v", err)
	}
	if err := l.Unlock(ctx, "sweep", fresh); err != nil {
		t.Errorf("unlock: %v", err)
	}
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "http://not-redis"); err == nil {
		t.Error("expected an error for a non-redis url")
	}
}
