// Package audit records security-relevant auth events (logins, refreshes,
// logouts, theft detections) onto an async Kafka trail. A worker consumes the
// topic and persists events to Postgres.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mentormesh/backend/internal/audit/domain"
	"mentormesh/backend/internal/audit/producer"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// Recorder writes a single audit event. Used by auth code paths.
// Record is best-effort: failures are logged and do not affect the caller.
type Recorder interface {
	Record(ctx context.Context, userID, sessionID, familyID, action string, metadata map[string]string)
}

// Trail implements Recorder by emitting events to a Producer asynchronously.
type Trail struct {
	producer    producer.Producer
	ipExtractor IPExtractor
}

// NewTrail returns a Recorder that emits to p and uses ipExtractor for client IP.
// p and ipExtractor may be nil; a nil producer makes Record a no-op.
func NewTrail(p producer.Producer, ipExtractor IPExtractor) *Trail {
	return &Trail{producer: p, ipExtractor: ipExtractor}
}

// Record builds one audit event and emits it without blocking the caller.
func (t *Trail) Record(ctx context.Context, userID, sessionID, familyID, action string, metadata map[string]string) {
	if t == nil || t.producer == nil {
		return
	}
	ip := ""
	if t.ipExtractor != nil {
		ip = t.ipExtractor(ctx)
	}
	event := &domain.Event{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		FamilyID:  familyID,
		Action:    action,
		IPAddress: ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	EmitAsync(t.producer, event)
}
