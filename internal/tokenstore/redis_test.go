package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisStore(rdb), mr
}

func TestRedisStore_Blacklist(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	blacklisted, err := store.IsBlacklisted(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if blacklisted {
		t.Error("fresh jti reported blacklisted")
	}

	if err := store.Blacklist(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}
	blacklisted, err = store.IsBlacklisted(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if !blacklisted {
		t.Error("blacklisted jti reported clean")
	}

	// Entries expire with the token, keeping the blacklist bounded.
	mr.FastForward(2 * time.Minute)
	blacklisted, err = store.IsBlacklisted(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if blacklisted {
		t.Error("expired blacklist entry still reported")
	}
}

func TestRedisStore_Blacklist_NonPositiveTTL(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if err := store.Blacklist(ctx, "jti-1", 0); err != nil {
		t.Fatalf("Blacklist with zero ttl: %v", err)
	}
	blacklisted, err := store.IsBlacklisted(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if blacklisted {
		t.Error("zero-ttl blacklist call should be a no-op")
	}
}

func TestRedisStore_FamilyLifecycle(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if _, err := store.CurrentTokenID(ctx, "fam-1"); !errors.Is(err, ErrFamilyNotFound) {
		t.Fatalf("CurrentTokenID on missing family = %v, want ErrFamilyNotFound", err)
	}

	if err := store.PutFamily(ctx, "user-1", "fam-1", "tok-a", time.Hour); err != nil {
		t.Fatalf("PutFamily: %v", err)
	}
	current, err := store.CurrentTokenID(ctx, "fam-1")
	if err != nil {
		t.Fatalf("CurrentTokenID: %v", err)
	}
	if current != "tok-a" {
		t.Errorf("CurrentTokenID = %q, want tok-a", current)
	}

	if err := store.DeleteFamily(ctx, "user-1", "fam-1"); err != nil {
		t.Fatalf("DeleteFamily: %v", err)
	}
	if _, err := store.CurrentTokenID(ctx, "fam-1"); !errors.Is(err, ErrFamilyNotFound) {
		t.Errorf("CurrentTokenID after delete = %v, want ErrFamilyNotFound", err)
	}

	// Idempotent.
	if err := store.DeleteFamily(ctx, "user-1", "fam-1"); err != nil {
		t.Errorf("DeleteFamily of absent family: %v", err)
	}
}

func TestRedisStore_FamilyExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if err := store.PutFamily(ctx, "user-1", "fam-1", "tok-a", time.Minute); err != nil {
		t.Fatalf("PutFamily: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.CurrentTokenID(ctx, "fam-1"); !errors.Is(err, ErrFamilyNotFound) {
		t.Errorf("CurrentTokenID after expiry = %v, want ErrFamilyNotFound", err)
	}
}

func TestRedisStore_Rotate(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if err := store.Rotate(ctx, "fam-1", "tok-a", "tok-b", time.Hour); !errors.Is(err, ErrFamilyNotFound) {
		t.Fatalf("Rotate on missing family = %v, want ErrFamilyNotFound", err)
	}

	if err := store.PutFamily(ctx, "user-1", "fam-1", "tok-a", time.Hour); err != nil {
		t.Fatalf("PutFamily: %v", err)
	}

	if err := store.Rotate(ctx, "fam-1", "tok-a", "tok-b", time.Hour); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	current, err := store.CurrentTokenID(ctx, "fam-1")
	if err != nil {
		t.Fatalf("CurrentTokenID: %v", err)
	}
	if current != "tok-b" {
		t.Errorf("CurrentTokenID after rotate = %q, want tok-b", current)
	}

	// Replaying the consumed token must not move the pointer again.
	if err := store.Rotate(ctx, "fam-1", "tok-a", "tok-c", time.Hour); !errors.Is(err, ErrTokenMismatch) {
		t.Errorf("Rotate with stale token = %v, want ErrTokenMismatch", err)
	}
	current, err = store.CurrentTokenID(ctx, "fam-1")
	if err != nil {
		t.Fatalf("CurrentTokenID: %v", err)
	}
	if current != "tok-b" {
		t.Errorf("pointer moved on failed rotate: %q", current)
	}
}

func TestRedisStore_Rotate_SingleWinner(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if err := store.PutFamily(ctx, "user-1", "fam-1", "tok-a", time.Hour); err != nil {
		t.Fatalf("PutFamily: %v", err)
	}

	// Two refreshes racing with the same current token: exactly one rotates.
	const racers = 8
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		go func() {
			results <- store.Rotate(ctx, "fam-1", "tok-a", "tok-new", time.Hour)
		}()
	}

	wins, mismatches := 0, 0
	for i := 0; i < racers; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenMismatch):
			mismatches++
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if mismatches != racers-1 {
		t.Errorf("mismatches = %d, want %d", mismatches, racers-1)
	}
}

func TestRedisStore_DeleteAllFamilies(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	for _, fam := range []string{"fam-1", "fam-2", "fam-3"} {
		if err := store.PutFamily(ctx, "user-1", fam, "tok", time.Hour); err != nil {
			t.Fatalf("PutFamily(%s): %v", fam, err)
		}
	}
	if err := store.PutFamily(ctx, "user-2", "fam-other", "tok", time.Hour); err != nil {
		t.Fatalf("PutFamily: %v", err)
	}

	n, err := store.DeleteAllFamilies(ctx, "user-1")
	if err != nil {
		t.Fatalf("DeleteAllFamilies: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	for _, fam := range []string{"fam-1", "fam-2", "fam-3"} {
		if _, err := store.CurrentTokenID(ctx, fam); !errors.Is(err, ErrFamilyNotFound) {
			t.Errorf("family %s survived DeleteAllFamilies", fam)
		}
	}

	// Other users' families untouched.
	if _, err := store.CurrentTokenID(ctx, "fam-other"); err != nil {
		t.Errorf("unrelated family deleted: %v", err)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(rdb)
	mr.Close()

	ctx := context.Background()
	if _, err := store.IsBlacklisted(ctx, "jti"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("IsBlacklisted with dead redis = %v, want ErrUnavailable", err)
	}
	if err := store.Rotate(ctx, "fam", "a", "b", time.Hour); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Rotate with dead redis = %v, want ErrUnavailable", err)
	}
}
