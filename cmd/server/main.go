package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health/grpc_health_v1"

	"mentormesh/backend/internal/audit"
	"mentormesh/backend/internal/audit/producer"
	authhandler "mentormesh/backend/internal/auth/handler"
	authservice "mentormesh/backend/internal/auth/service"
	"mentormesh/backend/internal/config"
	"mentormesh/backend/internal/db"
	"mentormesh/backend/internal/security"
	"mentormesh/backend/internal/server"
	"mentormesh/backend/internal/server/interceptors"
	sessionrepo "mentormesh/backend/internal/session/repository"
	otelx "mentormesh/backend/internal/telemetry/otel"
	"mentormesh/backend/internal/token"
	"mentormesh/backend/internal/tokenstore"
	userrepo "mentormesh/backend/internal/user/repository"
)

const sessionSweepInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("config: DATABASE_URL must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis: %v", err)
	}
	cancel()

	codec, err := buildCodec(cfg)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	providers, err := otelx.NewProviders(ctx, cfg.OTLPEndpoint, "mentormesh-auth", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	metrics, err := otelx.NewAuthMetrics(providers.MeterProvider)
	if err != nil {
		log.Fatalf("otel metrics: %v", err)
	}

	var trail *audit.Trail
	if kp := producer.NewKafkaProducer(cfg.AuditKafkaBrokersList(), cfg.AuditKafkaTopic); kp != nil {
		trail = audit.NewTrail(kp, interceptors.ClientIP)
		defer func() {
			time.Sleep(audit.ShutdownDrainDuration)
			if err := kp.Close(); err != nil {
				log.Printf("kafka close: %v", err)
			}
		}()
		log.Printf("audit trail enabled (topic %s)", cfg.AuditKafkaTopic)
	}

	sessions := sessionrepo.NewPostgresRepository(database)
	users := userrepo.NewPostgresRepository(database)
	store := tokenstore.NewRedisStore(rdb)
	tokens := token.NewService(codec, store, sessions, users, metrics)
	auth := authservice.NewAuthService(users, sessions, tokens, security.NewHasher(cfg.BcryptCost), trail)

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		authhandler.NewHandler(auth).Register(mux)
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Printf("HTTP auth API listening on %s", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("http serve: %v", err)
			}
		}()
	}

	srv, healthSrv := server.New(server.Deps{
		Tokens: tokens,
		Audit:  trail,
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	go sweepExpiredSessions(ctx, sessions)

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := srv.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("shutting down...")
	healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}
	srv.GracefulStop()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("stopped")
}

// buildCodec parses the four configured PEM keys and assembles the token codec.
func buildCodec(cfg *config.Config) (*security.TokenCodec, error) {
	accessKey, accessPub, err := security.LoadKeyPair(cfg.AccessPrivateKey, cfg.AccessPublicKey)
	if err != nil {
		return nil, fmt.Errorf("access %w", err)
	}
	refreshKey, refreshPub, err := security.LoadKeyPair(cfg.RefreshPrivateKey, cfg.RefreshPublicKey)
	if err != nil {
		return nil, fmt.Errorf("refresh %w", err)
	}
	return security.NewTokenCodec(
		accessKey, accessPub,
		refreshKey, refreshPub,
		cfg.JWTIssuer, cfg.JWTAudience,
		cfg.AccessTTL(), cfg.RefreshTTL(),
	), nil
}

// sweepExpiredSessions periodically marks ledger sessions past their expiry as
// EXPIRED so active-session listings reflect reality without waiting for a
// logout.
func sweepExpiredSessions(ctx context.Context, sessions *sessionrepo.PostgresRepository) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.EndExpired(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("session sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("session sweep: ended %d expired sessions", n)
			}
		}
	}
}
