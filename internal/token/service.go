// Package token implements issuance, single-use rotation, verification, and
// revocation of access/refresh token pairs, including the reuse/theft
// response that revokes a whole rotation family.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mentormesh/backend/internal/security"
	sessiondomain "mentormesh/backend/internal/session/domain"
	"mentormesh/backend/internal/tokenstore"
	userdomain "mentormesh/backend/internal/user/domain"
)

// Sentinel errors for the token service; callers map them to transport codes.
var (
	// ErrInvalidToken covers malformed, expired, and unknown-family tokens.
	// Safe to ask the caller to re-authenticate silently.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenReuseDetected marks replay of an already-rotated refresh token.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	// ErrTokenTheftSuspected is raised after reuse triggers full-family and
	// all-sessions revocation. Surface to the user as "please log in again,
	// all devices signed out".
	ErrTokenTheftSuspected = fmt.Errorf("token theft suspected: %w", ErrTokenReuseDetected)

	// ErrUnauthorized means the token belongs to a different subject than the
	// one the caller asserted.
	ErrUnauthorized = errors.New("unauthorized")
)

// Pair is a freshly issued access + refresh token pair.
type Pair struct {
	AccessToken      string
	AccessTokenID    string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshTokenID   string
	RefreshExpiresAt time.Time
	FamilyID         string
	UserID           string
	SessionID        string
}

// SessionLedger is the minimal session persistence needed by the token service.
type SessionLedger interface {
	UpdateCurrentToken(ctx context.Context, id, tokenID string) error
	End(ctx context.Context, id, reason string, at time.Time) error
	EndAllByUser(ctx context.Context, userID, reason string, at time.Time) (int, error)
}

// UserDirectory is the minimal user lookup needed to rebuild access claims on
// rotation.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Metrics receives token lifecycle events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	TokenIssued(ctx context.Context)
	TokenRotated(ctx context.Context)
	TheftDetected(ctx context.Context)
}

type nopMetrics struct{}

func (nopMetrics) TokenIssued(context.Context)   {}
func (nopMetrics) TokenRotated(context.Context)  {}
func (nopMetrics) TheftDetected(context.Context) {}

// Service issues and rotates token pairs. All cross-call state lives in the
// token store and the session ledger, so a Service is safe for concurrent use.
type Service struct {
	codec    *security.TokenCodec
	store    tokenstore.Store
	sessions SessionLedger
	users    UserDirectory
	metrics  Metrics
	now      func() time.Time
}

// NewService returns a token Service with the given collaborators.
// metrics may be nil.
func NewService(
	codec *security.TokenCodec,
	store tokenstore.Store,
	sessions SessionLedger,
	users UserDirectory,
	metrics Metrics,
) *Service {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Service{
		codec:    codec,
		store:    store,
		sessions: sessions,
		users:    users,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Issue mints a token pair for a fresh login: a new rotation family whose
// current-token pointer is recorded in the store with TTL equal to the
// refresh lifetime. Device and IP are not embedded in tokens; they belong to
// the session ledger.
func (s *Service) Issue(ctx context.Context, user *userdomain.User, sessionID, deviceID string) (*Pair, error) {
	familyID, err := security.NewTokenID()
	if err != nil {
		return nil, err
	}
	refreshJti, err := security.NewTokenID()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	// Record the pointer before handing out the token: a signed refresh token
	// whose family the store does not know is just an invalid token.
	if err := s.store.PutFamily(ctx, user.ID, familyID, refreshJti, s.codec.RefreshTTL()); err != nil {
		return nil, err
	}

	refreshToken, refreshExp, err := s.codec.IssueRefresh(user.ID, familyID, sessionID, refreshJti, now)
	if err != nil {
		return nil, err
	}
	accessToken, accessJti, accessExp, err := s.codec.IssueAccess(user.ID, user.Email, string(user.Role), sessionID, deviceID, now)
	if err != nil {
		return nil, err
	}

	s.metrics.TokenIssued(ctx)
	return &Pair{
		AccessToken:      accessToken,
		AccessTokenID:    accessJti,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshTokenID:   refreshJti,
		RefreshExpiresAt: refreshExp,
		FamilyID:         familyID,
		UserID:           user.ID,
		SessionID:        sessionID,
	}, nil
}

// Rotate exchanges a valid refresh token for a fresh pair bound to the same
// family. Rotation is single-use: presenting an already-rotated token revokes
// the family, ends every session of its owner with SECURITY_ISSUE, and
// returns ErrTokenTheftSuspected. The revocation completes before the error
// propagates, so a caller never observes theft while stale sessions remain
// active.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (*Pair, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	newJti, err := security.NewTokenID()
	if err != nil {
		return nil, err
	}

	// Compare-and-swap on the family pointer. Two refreshes racing with the
	// same token resolve here: one wins, the loser sees a mismatch and takes
	// the theft path.
	switch err := s.store.Rotate(ctx, claims.FamilyID, claims.ID, newJti, s.codec.RefreshTTL()); {
	case err == nil:
	case errors.Is(err, tokenstore.ErrFamilyNotFound):
		// Family already revoked by a prior theft event or logout-everywhere.
		return nil, ErrInvalidToken
	case errors.Is(err, tokenstore.ErrTokenMismatch):
		if err := s.respondToTheft(ctx, claims.Subject, claims.FamilyID); err != nil {
			// Fail closed: never report theft while cleanup is incomplete.
			return nil, err
		}
		return nil, ErrTokenTheftSuspected
	default:
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrInvalidToken
	}

	now := s.now().UTC()
	newRefresh, refreshExp, err := s.codec.IssueRefresh(claims.Subject, claims.FamilyID, claims.SessionID, newJti, now)
	if err != nil {
		return nil, err
	}
	accessToken, accessJti, accessExp, err := s.codec.IssueAccess(claims.Subject, user.Email, string(user.Role), claims.SessionID, "", now)
	if err != nil {
		return nil, err
	}

	// Move the ledger's current-token pointer forward so the session can be
	// located by its latest token.
	if err := s.sessions.UpdateCurrentToken(ctx, claims.SessionID, newJti); err != nil {
		return nil, err
	}

	s.metrics.TokenRotated(ctx)
	return &Pair{
		AccessToken:      accessToken,
		AccessTokenID:    accessJti,
		AccessExpiresAt:  accessExp,
		RefreshToken:     newRefresh,
		RefreshTokenID:   newJti,
		RefreshExpiresAt: refreshExp,
		FamilyID:         claims.FamilyID,
		UserID:           claims.Subject,
		SessionID:        claims.SessionID,
	}, nil
}

// respondToTheft revokes the reused family and ends every session of its
// owner. Reuse of one stale token kills the whole family, not just the token.
func (s *Service) respondToTheft(ctx context.Context, userID, familyID string) error {
	if err := s.store.DeleteFamily(ctx, userID, familyID); err != nil {
		return err
	}
	if _, err := s.sessions.EndAllByUser(ctx, userID, sessiondomain.EndReasonSecurityIssue, s.now().UTC()); err != nil {
		return err
	}
	s.metrics.TheftDetected(ctx)
	return nil
}

// Claims verifies a refresh token's signature and expiry and returns its
// claims without consulting the store. Used by callers that need the token's
// identity after a failed rotation.
func (s *Service) Claims(refreshToken string) (*security.RefreshClaims, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Validate verifies an access token: signature and expiry via the codec, then
// the jti blacklist. No family-pointer check is made for access tokens; they
// are stateless and short-lived. If assertSubject is non-empty, the token
// must belong to that subject or ErrUnauthorized is returned.
func (s *Service) Validate(ctx context.Context, accessToken, assertSubject string) (*security.AccessClaims, error) {
	claims, err := s.codec.VerifyAccess(accessToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	blacklisted, err := s.store.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		// Store unavailability is a verification failure, never a pass.
		return nil, err
	}
	if blacklisted {
		return nil, ErrInvalidToken
	}
	if assertSubject != "" && claims.Subject != assertSubject {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Logout revokes one session: the access token's jti is blacklisted for its
// remaining lifetime and the owning ledger entry is ended with LOGOUT. The
// refresh family survives; other device sessions stay live.
func (s *Service) Logout(ctx context.Context, accessToken string) (*security.AccessClaims, error) {
	claims, err := s.Validate(ctx, accessToken, "")
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	remaining := claims.ExpiresAt.Time.Sub(now)
	if err := s.store.Blacklist(ctx, claims.ID, remaining); err != nil {
		return nil, err
	}
	if err := s.sessions.End(ctx, claims.SessionID, sessiondomain.EndReasonLogout, now); err != nil {
		return nil, err
	}
	return claims, nil
}

// RevokeAll signs the user out everywhere: every rotation family is deleted
// and every live session is ended with LOGOUT. Returns how many sessions were
// ended.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int, error) {
	if _, err := s.store.DeleteAllFamilies(ctx, userID); err != nil {
		return 0, err
	}
	return s.sessions.EndAllByUser(ctx, userID, sessiondomain.EndReasonLogout, s.now().UTC())
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }
