package domain

import "time"

// Reasons a session ends. EndReason is set exactly once; the first writer wins.
const (
	EndReasonLogout        = "LOGOUT"
	EndReasonExpired       = "EXPIRED"
	EndReasonSecurityIssue = "SECURITY_ISSUE"
)

// ValidEndReason reports whether reason is one of the known end reasons.
func ValidEndReason(reason string) bool {
	switch reason {
	case EndReasonLogout, EndReasonExpired, EndReasonSecurityIssue:
		return true
	}
	return false
}

// Session is one row of the durable login ledger: a continuous login on one
// device, from login until logout, expiry, or revocation. FamilyID ties the
// session to its refresh-token rotation family; CurrentToken tracks the jti
// of the latest refresh token issued for it.
type Session struct {
	ID           string
	UserID       string
	FamilyID     string
	CurrentToken string
	IPAddress    string
	UserAgent    string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	EndedAt      *time.Time // nil while the session is live
	EndReason    string     // empty while the session is live
}

// IsActive reports whether the session is still live at the given time.
func (s *Session) IsActive(now time.Time) bool {
	return s.EndedAt == nil && now.Before(s.ExpiresAt)
}

// End closes the session with the given reason. Ending an already-ended
// session is a no-op: the original reason and timestamp are kept.
func (s *Session) End(reason string, at time.Time) {
	if s.EndedAt != nil {
		return
	}
	t := at
	s.EndedAt = &t
	s.EndReason = reason
}
