package repository

import (
	"context"
	"time"

	"mentormesh/backend/internal/session/domain"
)

// Repository defines persistence for the login-session ledger.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByFamilyID(ctx context.Context, familyID string) (*domain.Session, error)
	GetByCurrentToken(ctx context.Context, tokenID string) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	UpdateCurrentToken(ctx context.Context, id, tokenID string) error
	End(ctx context.Context, id, reason string, at time.Time) error
	EndAllByUser(ctx context.Context, userID, reason string, at time.Time) (int, error)
	EndExpired(ctx context.Context, at time.Time) (int, error)
}
