package tokenstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore implements Store with in-process maps. The mutex gives it the
// same single-winner rotation guarantee as the Redis CAS script, so the token
// service's concurrency behavior can be exercised without Redis.
type MemoryStore struct {
	mu        sync.Mutex
	blacklist map[string]memoryEntry
	families  map[string]memoryEntry
	byUser    map[string]map[string]struct{}
	now       func() time.Time
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blacklist: make(map[string]memoryEntry),
		families:  make(map[string]memoryEntry),
		byUser:    make(map[string]map[string]struct{}),
		now:       time.Now,
	}
}

// SetClock overrides the time source, letting tests advance past TTLs.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Blacklist(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[jti] = memoryEntry{value: "1", expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.blacklist[jti]
	if !ok {
		return false, nil
	}
	if entry.expired(s.now()) {
		delete(s.blacklist, jti)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) PutFamily(_ context.Context, userID, familyID, tokenID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.families[familyID] = memoryEntry{value: tokenID, expiresAt: s.now().Add(ttl)}
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]struct{})
	}
	s.byUser[userID][familyID] = struct{}{}
	return nil
}

func (s *MemoryStore) CurrentTokenID(_ context.Context, familyID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.families[familyID]
	if !ok || entry.expired(s.now()) {
		delete(s.families, familyID)
		return "", ErrFamilyNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) Rotate(_ context.Context, familyID, expectedTokenID, newTokenID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.families[familyID]
	if !ok || entry.expired(s.now()) {
		delete(s.families, familyID)
		return ErrFamilyNotFound
	}
	if entry.value != expectedTokenID {
		return ErrTokenMismatch
	}
	s.families[familyID] = memoryEntry{value: newTokenID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) DeleteFamily(_ context.Context, userID, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.families, familyID)
	delete(s.byUser[userID], familyID)
	return nil
}

func (s *MemoryStore) DeleteAllFamilies(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for familyID := range s.byUser[userID] {
		if _, ok := s.families[familyID]; ok {
			n++
		}
		delete(s.families, familyID)
	}
	delete(s.byUser, userID)
	return n, nil
}
