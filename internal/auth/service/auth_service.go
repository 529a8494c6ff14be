// Package service implements the login, refresh, logout, and validate use
// cases, orchestrating the token service, the session ledger, and the audit
// trail.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	auditdomain "mentormesh/backend/internal/audit/domain"
	"mentormesh/backend/internal/security"
	sessiondomain "mentormesh/backend/internal/session/domain"
	"mentormesh/backend/internal/token"
	userdomain "mentormesh/backend/internal/user/domain"
)

// Sentinel errors for the auth service; handlers map them to transport codes.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	Create(ctx context.Context, s *sessiondomain.Session) error
	ListActiveByUser(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
}

// Recorder receives audit events; a nil Recorder disables auditing.
type Recorder interface {
	Record(ctx context.Context, userID, sessionID, familyID, action string, metadata map[string]string)
}

// SessionMeta carries per-request client context recorded on the ledger,
// never inside tokens.
type SessionMeta struct {
	IPAddress string
	UserAgent string
	DeviceID  string
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	User      *userdomain.User
	SessionID string
	Tokens    *token.Pair
}

// AuthService implements password login, refresh rotation, logout, and
// access-token validation.
type AuthService struct {
	users    UserRepo
	sessions SessionRepo
	tokens   *token.Service
	hasher   *security.Hasher
	trail    Recorder
	now      func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
// trail may be nil.
func NewAuthService(
	users UserRepo,
	sessions SessionRepo,
	tokens *token.Service,
	hasher *security.Hasher,
	trail Recorder,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		trail:    trail,
		now:      time.Now,
	}
}

// Login authenticates with email/password, opens a ledger session, and
// returns a fresh token pair bound to a new rotation family.
func (s *AuthService) Login(ctx context.Context, email, password string, meta SessionMeta) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		s.record(ctx, user.ID, "", "", auditdomain.ActionLoginFailure, nil)
		return nil, ErrInvalidCredentials
	}

	sessionID := uuid.New().String()
	pair, err := s.tokens.Issue(ctx, user, sessionID, meta.DeviceID)
	if err != nil {
		return nil, err
	}
	sess := &sessiondomain.Session{
		ID:           sessionID,
		UserID:       user.ID,
		FamilyID:     pair.FamilyID,
		CurrentToken: pair.RefreshTokenID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		ExpiresAt:    pair.RefreshExpiresAt,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	s.record(ctx, user.ID, sessionID, pair.FamilyID, auditdomain.ActionLogin, map[string]string{
		"user_agent": meta.UserAgent,
	})
	return &LoginResult{User: user, SessionID: sessionID, Tokens: pair}, nil
}

// Refresh rotates a refresh token into a fresh pair. Replay of a consumed
// token revokes the family and every session of its owner before
// ErrTokenTheftSuspected is returned.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	pair, err := s.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrTokenTheftSuspected) {
			// The token service has already completed the revocation;
			// Subject/family are recoverable from the (verified) claims.
			if claims, verr := s.tokens.Claims(refreshToken); verr == nil {
				s.record(ctx, claims.Subject, claims.SessionID, claims.FamilyID, auditdomain.ActionTheftDetected, nil)
			}
		}
		return nil, err
	}
	s.record(ctx, pair.UserID, pair.SessionID, pair.FamilyID, auditdomain.ActionRefresh, nil)
	return pair, nil
}

// Logout revokes the presented access token and ends its session. Other
// device sessions and the refresh family stay live.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.Logout(ctx, accessToken)
	if err != nil {
		return err
	}
	s.record(ctx, claims.Subject, claims.SessionID, "", auditdomain.ActionLogout, nil)
	return nil
}

// LogoutEverywhere revokes the presented access token, every rotation family,
// and every live session of the token's owner. Returns how many sessions were
// ended (including the presented one).
func (s *AuthService) LogoutEverywhere(ctx context.Context, accessToken string) (int, error) {
	claims, err := s.tokens.Logout(ctx, accessToken)
	if err != nil {
		return 0, err
	}
	n, err := s.tokens.RevokeAll(ctx, claims.Subject)
	if err != nil {
		return 0, err
	}
	// The presented session was ended by Logout above.
	n++
	s.record(ctx, claims.Subject, claims.SessionID, "", auditdomain.ActionLogoutEverywhere, nil)
	return n, nil
}

// Validate verifies an access token, optionally asserting it belongs to
// subject. Blacklisted and malformed tokens fail with token.ErrInvalidToken;
// a subject mismatch fails with token.ErrUnauthorized.
func (s *AuthService) Validate(ctx context.Context, accessToken, subject string) (*security.AccessClaims, error) {
	return s.tokens.Validate(ctx, accessToken, subject)
}

// Sessions lists the user's currently active ledger sessions.
func (s *AuthService) Sessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	return s.sessions.ListActiveByUser(ctx, userID)
}

func (s *AuthService) record(ctx context.Context, userID, sessionID, familyID, action string, metadata map[string]string) {
	if s.trail == nil {
		return
	}
	s.trail.Record(ctx, userID, sessionID, familyID, action, metadata)
}
