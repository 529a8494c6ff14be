package tokenstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_BlacklistExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	store.SetClock(func() time.Time { return base })

	if err := store.Blacklist(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}
	blacklisted, err := store.IsBlacklisted(ctx, "jti-1")
	if err != nil || !blacklisted {
		t.Fatalf("IsBlacklisted = %v, %v; want true, nil", blacklisted, err)
	}

	store.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	blacklisted, err = store.IsBlacklisted(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if blacklisted {
		t.Error("entry survived past its TTL")
	}
}

func TestMemoryStore_RotateSemantics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Rotate(ctx, "fam-1", "a", "b", time.Hour); !errors.Is(err, ErrFamilyNotFound) {
		t.Fatalf("Rotate on missing family = %v", err)
	}

	if err := store.PutFamily(ctx, "user-1", "fam-1", "a", time.Hour); err != nil {
		t.Fatalf("PutFamily: %v", err)
	}
	if err := store.Rotate(ctx, "fam-1", "a", "b", time.Hour); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := store.Rotate(ctx, "fam-1", "a", "c", time.Hour); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("stale rotate = %v, want ErrTokenMismatch", err)
	}
	current, err := store.CurrentTokenID(ctx, "fam-1")
	if err != nil || current != "b" {
		t.Fatalf("CurrentTokenID = %q, %v; want b, nil", current, err)
	}
}

func TestMemoryStore_RotateSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.PutFamily(ctx, "user-1", "fam-1", "a", time.Hour); err != nil {
		t.Fatalf("PutFamily: %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Rotate(ctx, "fam-1", "a", "b", time.Hour)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrTokenMismatch) {
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}

func TestMemoryStore_DeleteAllFamilies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, fam := range []string{"fam-1", "fam-2"} {
		if err := store.PutFamily(ctx, "user-1", fam, "tok", time.Hour); err != nil {
			t.Fatalf("PutFamily: %v", err)
		}
	}
	if err := store.PutFamily(ctx, "user-2", "fam-3", "tok", time.Hour); err != nil {
		t.Fatalf("PutFamily: %v", err)
	}

	n, err := store.DeleteAllFamilies(ctx, "user-1")
	if err != nil {
		t.Fatalf("DeleteAllFamilies: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if _, err := store.CurrentTokenID(ctx, "fam-3"); err != nil {
		t.Errorf("unrelated family deleted: %v", err)
	}
}

func TestMemoryStore_FamilyExpires(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	store.SetClock(func() time.Time { return base })
	if err := store.PutFamily(ctx, "user-1", "fam-1", "a", time.Minute); err != nil {
		t.Fatalf("PutFamily: %v", err)
	}

	store.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	if _, err := store.CurrentTokenID(ctx, "fam-1"); !errors.Is(err, ErrFamilyNotFound) {
		t.Errorf("CurrentTokenID after expiry = %v, want ErrFamilyNotFound", err)
	}
	if err := store.Rotate(ctx, "fam-1", "a", "b", time.Hour); !errors.Is(err, ErrFamilyNotFound) {
		t.Errorf("Rotate after expiry = %v, want ErrFamilyNotFound", err)
	}
}
