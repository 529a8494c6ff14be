package domain

import "time"

// Actions recorded on the audit trail.
const (
	ActionLogin            = "auth.login"
	ActionLoginFailure     = "auth.login_failure"
	ActionRefresh          = "auth.refresh"
	ActionLogout           = "auth.logout"
	ActionLogoutEverywhere = "auth.logout_everywhere"
	ActionTheftDetected    = "auth.theft_detected"
)

// Event is one audit trail entry (user/session/family scoped).
type Event struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id,omitempty"`
	FamilyID  string            `json:"family_id,omitempty"`
	Action    string            `json:"action"`
	IPAddress string            `json:"ip_address,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
