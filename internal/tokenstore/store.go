// Package tokenstore provides fast expiring state for token verification and
// rotation: a jti blacklist and per-family current-token pointers. Redis is
// the production backend; an in-memory implementation backs unit tests.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFamilyNotFound is returned when a rotation family has no pointer in
	// the store, either because it expired or because it was revoked.
	ErrFamilyNotFound = errors.New("token family not found")

	// ErrTokenMismatch is returned by Rotate when the presented token ID is
	// not the family's current one. This is the reuse signal.
	ErrTokenMismatch = errors.New("token id mismatch")

	// ErrUnavailable is returned when the backing store cannot be reached.
	// Callers must treat it as a verification failure, never as a pass.
	ErrUnavailable = errors.New("token store unavailable")
)

// Store holds the expiring state consulted on every token operation.
//
// Family pointers are the source of truth for refresh rotation: at most one
// token ID is current per family, and Rotate swaps it atomically so that two
// concurrent refreshes with the same token can never both succeed.
type Store interface {
	// Blacklist marks a jti as revoked for ttl. Entries expire on their own,
	// so the blacklist never outgrows the set of still-live tokens.
	Blacklist(ctx context.Context, jti string, ttl time.Duration) error

	// IsBlacklisted reports whether jti has been revoked.
	IsBlacklisted(ctx context.Context, jti string) (bool, error)

	// PutFamily records tokenID as the current token of a new rotation family
	// owned by userID, expiring after ttl.
	PutFamily(ctx context.Context, userID, familyID, tokenID string, ttl time.Duration) error

	// CurrentTokenID returns the family's current token ID, or
	// ErrFamilyNotFound if the family does not exist.
	CurrentTokenID(ctx context.Context, familyID string) (string, error)

	// Rotate atomically replaces the family's current token ID with newTokenID
	// if and only if it currently equals expectedTokenID, resetting the expiry
	// to ttl. Returns ErrFamilyNotFound if the family does not exist and
	// ErrTokenMismatch if the pointer has already moved on.
	Rotate(ctx context.Context, familyID, expectedTokenID, newTokenID string, ttl time.Duration) error

	// DeleteFamily removes a family pointer, invalidating every refresh token
	// ever issued for it. Deleting an absent family is not an error.
	DeleteFamily(ctx context.Context, userID, familyID string) error

	// DeleteAllFamilies removes every family pointer owned by userID and
	// returns how many were deleted.
	DeleteAllFamilies(ctx context.Context, userID string) (int, error)
}
