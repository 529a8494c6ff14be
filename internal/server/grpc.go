// Package server assembles the gRPC server: interceptor chain, telemetry
// stats handler, and standard health service registration.
package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"

	"mentormesh/backend/internal/server/interceptors"
	"mentormesh/backend/internal/token"
)

// Deps holds the dependencies the server wiring needs.
type Deps struct {
	// Tokens validates bearer tokens in the auth interceptor. Required.
	Tokens *token.Service
	// Audit receives per-RPC audit records. If nil, RPCs are not audited.
	Audit interceptors.Recorder
	// PublicMethods lists full method names reachable without a bearer token.
	PublicMethods map[string]bool
	// SkipAuditMethods lists full method names excluded from the audit trail.
	SkipAuditMethods map[string]bool
}

// healthMethods are always public and never audited.
var healthMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
}

// New builds a *grpc.Server with the auth and audit interceptors chained in
// that order and the standard health service registered. The returned
// *health.Server starts in SERVING state; callers flip it to NOT_SERVING
// during shutdown so load balancers drain before the listener closes.
func New(deps Deps, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	public := make(map[string]bool, len(deps.PublicMethods)+len(healthMethods))
	skipAudit := make(map[string]bool, len(deps.SkipAuditMethods)+len(healthMethods))
	for m := range healthMethods {
		public[m] = true
		skipAudit[m] = true
	}
	for m := range deps.PublicMethods {
		public[m] = true
	}
	for m := range deps.SkipAuditMethods {
		skipAudit[m] = true
	}

	opts = append(opts,
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.AuthUnary(deps.Tokens, public),
			interceptors.AuditUnary(deps.Audit, skipAudit),
		),
	)
	srv := grpc.NewServer(opts...)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(srv, healthSrv)

	return srv, healthSrv
}
