package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mentormesh/backend/internal/audit/domain"
)

// mockProducer implements producer.Producer for tests.
type mockProducer struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	done    chan struct{}
}

func newMockProducer(expect int) *mockProducer {
	return &mockProducer{done: make(chan struct{}, expect)}
}

func (m *mockProducer) Emit(ctx context.Context, e *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emitErr != nil {
		m.done <- struct{}{}
		return m.emitErr
	}
	m.events = append(m.events, e)
	m.done <- struct{}{}
	return nil
}

func (m *mockProducer) Close() error { return nil }

func (m *mockProducer) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emit")
	}
}

func TestTrail_Record(t *testing.T) {
	p := newMockProducer(1)
	trail := NewTrail(p, func(ctx context.Context) string { return "192.168.1.1" })

	trail.Record(context.Background(), "user-1", "sess-1", "fam-1", domain.ActionLogin, map[string]string{"ua": "cli"})
	p.wait(t)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(p.events))
	}
	e := p.events[0]
	if e.ID == "" {
		t.Error("event ID not set")
	}
	if e.UserID != "user-1" || e.SessionID != "sess-1" || e.FamilyID != "fam-1" {
		t.Errorf("event scope = %s/%s/%s", e.UserID, e.SessionID, e.FamilyID)
	}
	if e.Action != domain.ActionLogin {
		t.Errorf("action = %q", e.Action)
	}
	if e.IPAddress != "192.168.1.1" {
		t.Errorf("ip = %q", e.IPAddress)
	}
	if e.Metadata["ua"] != "cli" {
		t.Errorf("metadata = %v", e.Metadata)
	}
	if e.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestTrail_Record_NilProducer(t *testing.T) {
	trail := NewTrail(nil, nil)
	// Must not panic and must not block.
	trail.Record(context.Background(), "user-1", "", "", domain.ActionLogout, nil)
}

func TestTrail_Record_EmitFailureIsSwallowed(t *testing.T) {
	p := newMockProducer(1)
	p.emitErr = errors.New("broker down")
	trail := NewTrail(p, nil)

	// Best-effort: the caller never sees producer failures.
	trail.Record(context.Background(), "user-1", "", "", domain.ActionRefresh, nil)
	p.wait(t)
}

func TestEmitAsync_NilArgs(t *testing.T) {
	EmitAsync(nil, &domain.Event{})
	EmitAsync(newMockProducer(0), nil)
}
