package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Token-use claim values; guard against an access token being presented as a
// refresh token (or vice versa) when both classes share a verification path.
const (
	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

// AccessClaims holds JWT claims for the access token. The payload authorizes a
// single request and is never persisted.
type AccessClaims struct {
	jwt.RegisteredClaims
	TokenUse  string `json:"token_use"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	DeviceID  string `json:"device_id,omitempty"`
}

// RefreshClaims holds JWT claims for the refresh token. FamilyID is stable
// across all rotations of one continuous login; the jti changes on every rotation.
type RefreshClaims struct {
	jwt.RegisteredClaims
	TokenUse  string `json:"token_use"`
	FamilyID  string `json:"family_id"`
	SessionID string `json:"sid"`
}

// clockSkewLeeway tolerates small clock drift between issuing and verifying hosts.
const clockSkewLeeway = 5 * time.Second

// TokenCodec signs and verifies access and refresh JWTs with RS256 or ES256.
// Access and refresh tokens use independent key pairs and TTLs so that
// compromising one class does not compromise the other.
type TokenCodec struct {
	accessKey     crypto.Signer
	accessPublic  crypto.PublicKey
	refreshKey    crypto.Signer
	refreshPublic crypto.PublicKey
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenCodec returns a TokenCodec signing access tokens with accessKey and
// refresh tokens with refreshKey (RS256 or ES256, chosen by key type).
// issuer and audience are set on claims and validated on verification.
func NewTokenCodec(
	accessKey crypto.Signer, accessPublic crypto.PublicKey,
	refreshKey crypto.Signer, refreshPublic crypto.PublicKey,
	issuer, audience string,
	accessTTL, refreshTTL time.Duration,
) *TokenCodec {
	return &TokenCodec{
		accessKey:     accessKey,
		accessPublic:  accessPublic,
		refreshKey:    refreshKey,
		refreshPublic: refreshPublic,
		issuer:        issuer,
		audience:      audience,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs a short-lived access JWT for the given user and session.
// deviceID may be empty. Returns the token string, its jti, and expiration time.
func (c *TokenCodec) IssueAccess(userID, email, role, sessionID, deviceID string, now time.Time) (token, jti string, expiresAt time.Time, err error) {
	jti, err = NewTokenID()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now = now.UTC()
	expiresAt = now.Add(c.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenUse:  TokenUseAccess,
		Email:     email,
		Role:      role,
		SessionID: sessionID,
		DeviceID:  deviceID,
	}
	token, err = sign(c.accessKey, claims)
	return token, jti, expiresAt, err
}

// IssueRefresh signs a long-lived refresh JWT bound to the given rotation family.
// jti must be the pre-generated token ID recorded as the family's current pointer
// before signing, so the signed token and the store never disagree.
func (c *TokenCodec) IssueRefresh(userID, familyID, sessionID, jti string, now time.Time) (token string, expiresAt time.Time, err error) {
	now = now.UTC()
	expiresAt = now.Add(c.refreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenUse:  TokenUseRefresh,
		FamilyID:  familyID,
		SessionID: sessionID,
	}
	token, err = sign(c.refreshKey, claims)
	return token, expiresAt, err
}

// VerifyAccess parses and validates an access token (signature, exp, iss, aud,
// token_use). It does not consult external state; blacklist checks are the
// token service's responsibility.
func (c *TokenCodec) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(tokenString, c.accessPublic, claims); err != nil {
		return nil, err
	}
	if claims.TokenUse != TokenUseAccess || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token (signature, exp, iss, aud,
// token_use, family binding).
func (c *TokenCodec) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(tokenString, c.refreshPublic, claims); err != nil {
		return nil, err
	}
	if claims.TokenUse != TokenUseRefresh || claims.FamilyID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *TokenCodec) parse(tokenString string, key crypto.PublicKey, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
				return key, nil
			}
			if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
				return key, nil
			}
			return nil, ErrInvalidToken
		},
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithLeeway(clockSkewLeeway),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func sign(key crypto.Signer, claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch key.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(key)
}

// NewTokenID returns a fresh random token ID (jti). Also used for family IDs
// recorded in the token store.
func NewTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
