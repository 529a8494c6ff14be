package interceptors

import (
	"context"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

type recordedCall struct {
	userID, sessionID, action string
	metadata                  map[string]string
}

type memRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *memRecorder) Record(ctx context.Context, userID, sessionID, familyID, action string, metadata map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{userID, sessionID, action, metadata})
}

func TestAuditUnary_RecordsAuthenticatedRPC(t *testing.T) {
	trail := &memRecorder{}
	interceptor := AuditUnary(trail, nil)

	ctx := WithIdentity(context.Background(), "user-1", "mentor", "sess-1")
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}
	if _, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{
		FullMethod: "/mentormesh.Auth/LogoutEverywhere",
	}, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}

	if len(trail.calls) != 1 {
		t.Fatalf("recorded %d calls, want 1", len(trail.calls))
	}
	call := trail.calls[0]
	if call.userID != "user-1" || call.sessionID != "sess-1" {
		t.Errorf("scope = %s/%s", call.userID, call.sessionID)
	}
	if call.action != "rpc.mentormesh.Auth.LogoutEverywhere" {
		t.Errorf("action = %q", call.action)
	}
	if call.metadata["status_code"] != "OK" {
		t.Errorf("status_code = %q", call.metadata["status_code"])
	}
}

func TestAuditUnary_SkipsAnonymousAndSkipped(t *testing.T) {
	trail := &memRecorder{}
	skip := map[string]bool{"/grpc.health.v1.Health/Check": true}
	interceptor := AuditUnary(trail, skip)

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}

	// Anonymous context: not recorded.
	if _, err := interceptor(context.Background(), "request", &grpc.UnaryServerInfo{
		FullMethod: "/mentormesh.Auth/Login",
	}, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}

	// Skipped method: not recorded even when authenticated.
	ctx := WithIdentity(context.Background(), "user-1", "mentor", "sess-1")
	if _, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{
		FullMethod: "/grpc.health.v1.Health/Check",
	}, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}

	if len(trail.calls) != 0 {
		t.Errorf("recorded %d calls, want 0", len(trail.calls))
	}
}

func TestAuditUnary_NilRecorder(t *testing.T) {
	interceptor := AuditUnary(nil, nil)
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}
	if _, err := interceptor(context.Background(), "request", &grpc.UnaryServerInfo{
		FullMethod: "/mentormesh.Auth/Login",
	}, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
}

func TestClientIP_XForwardedFor(t *testing.T) {
	md := metadata.Pairs("x-forwarded-for", "203.0.113.5, 10.0.0.1")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	if ip := ClientIP(ctx); ip != "203.0.113.5" {
		t.Errorf("ClientIP = %q, want 203.0.113.5", ip)
	}
}

func TestClientIP_XRealIP(t *testing.T) {
	md := metadata.Pairs("x-real-ip", "203.0.113.9")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	if ip := ClientIP(ctx); ip != "203.0.113.9" {
		t.Errorf("ClientIP = %q, want 203.0.113.9", ip)
	}
}

func TestClientIP_Peer(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.7"), Port: 50051}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: addr})
	if ip := ClientIP(ctx); ip != "192.0.2.7" {
		t.Errorf("ClientIP = %q, want 192.0.2.7", ip)
	}
}

func TestClientIP_Unknown(t *testing.T) {
	if ip := ClientIP(context.Background()); ip != "unknown" {
		t.Errorf("ClientIP = %q, want unknown", ip)
	}
}
