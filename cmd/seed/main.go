// seed inserts development sample users for local testing.
// Idempotent: skips any user whose email already exists.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"mentormesh/backend/internal/config"
	"mentormesh/backend/internal/db"
	"mentormesh/backend/internal/security"
	"mentormesh/backend/internal/user/domain"
	userrepo "mentormesh/backend/internal/user/repository"
)

const devPassword = "password123"

var seedUsers = []struct {
	email string
	name  string
	role  domain.Role
}{
	{"mentor@example.com", "Dev Mentor", domain.RoleMentor},
	{"mentee@example.com", "Dev Mentee", domain.RoleMentee},
	{"admin@example.com", "Dev Admin", domain.RoleAdmin},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if cfg.Env == "production" {
		log.Fatal("seed: refusing to run in production")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost)
	ctx := context.Background()

	passwordHash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash: %v", err)
	}

	created := 0
	for _, su := range seedUsers {
		existing, err := users.GetByEmail(ctx, su.email)
		if err != nil {
			log.Fatalf("seed check %s: %v", su.email, err)
		}
		if existing != nil {
			log.Printf("seed: %s already exists, skipping", su.email)
			continue
		}
		now := time.Now().UTC()
		u := &domain.User{
			ID:           uuid.New().String(),
			Email:        su.email,
			Name:         su.name,
			Role:         su.role,
			PasswordHash: passwordHash,
			Status:       domain.UserStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := u.Validate(); err != nil {
			log.Fatalf("seed %s: %v", su.email, err)
		}
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("seed %s: %v", su.email, err)
		}
		created++
		log.Printf("seed: created %s (%s)", su.email, su.role)
	}

	log.Printf("seed: done, %d users created (password %q)", created, devPassword)
}
