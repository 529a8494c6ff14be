package server

import (
	"testing"

	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestNew_RegistersHealthService(t *testing.T) {
	srv, healthSrv := New(Deps{})
	defer srv.Stop()

	if healthSrv == nil {
		t.Fatal("New returned nil health server")
	}
	info := srv.GetServiceInfo()
	if _, ok := info["grpc.health.v1.Health"]; !ok {
		t.Errorf("health service not registered, got services: %v", info)
	}
}

func TestNew_HealthDrain(t *testing.T) {
	srv, healthSrv := New(Deps{})
	defer srv.Stop()

	// Shutdown path: flipping to NOT_SERVING must not panic and must stick.
	healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthSrv.Shutdown()
}

func TestNew_MergesMethodSets(t *testing.T) {
	srv, _ := New(Deps{
		PublicMethods:    map[string]bool{"/mentormesh.Auth/Login": true},
		SkipAuditMethods: map[string]bool{"/mentormesh.Auth/Validate": true},
	})
	defer srv.Stop()
}
