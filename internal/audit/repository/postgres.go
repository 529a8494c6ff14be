package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"mentormesh/backend/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists one audit event. Metadata is stored as JSONB.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Event) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, user_id, session_id, family_id, action, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID,
		sql.NullString{String: e.SessionID, Valid: e.SessionID != ""},
		sql.NullString{String: e.FamilyID, Valid: e.FamilyID != ""},
		e.Action,
		sql.NullString{String: e.IPAddress, Valid: e.IPAddress != ""},
		metadata, e.CreatedAt,
	)
	return err
}

// ListByUser returns the user's audit events, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, family_id, action, ip_address, metadata, created_at
		FROM audit_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		var (
			e                   domain.Event
			sessionID, familyID sql.NullString
			ipAddress           sql.NullString
			metadata            []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &sessionID, &familyID, &e.Action, &ipAddress, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SessionID = sessionID.String
		e.FamilyID = familyID.String
		e.IPAddress = ipAddress.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
