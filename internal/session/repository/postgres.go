package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mentormesh/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, family_id, current_token, ip_address, user_agent,
	expires_at, created_at, ended_at, end_reason`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session to the ledger. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.UserID, s.FamilyID, s.CurrentToken,
		nullString(s.IPAddress), nullString(s.UserAgent),
		s.ExpiresAt, s.CreatedAt, timeToNullTime(s.EndedAt), nullString(s.EndReason),
	)
	return err
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM login_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetByFamilyID returns the session owning the given rotation family, or nil
// if not found. Families map one-to-one to sessions.
func (r *PostgresRepository) GetByFamilyID(ctx context.Context, familyID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM login_sessions WHERE family_id = $1`, familyID)
	return scanSession(row)
}

// GetByCurrentToken returns the session whose latest refresh token has the
// given jti, or nil if none.
func (r *PostgresRepository) GetByCurrentToken(ctx context.Context, tokenID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM login_sessions WHERE current_token = $1`, tokenID)
	return scanSession(row)
}

// ListActiveByUser returns the user's sessions that have not ended or expired,
// newest first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	return r.listByUser(ctx, userID, true)
}

// ListByUser returns all of the user's sessions, ended or not, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	return r.listByUser(ctx, userID, false)
}

func (r *PostgresRepository) listByUser(ctx context.Context, userID string, activeOnly bool) ([]*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM login_sessions
		WHERE user_id = $1`
	if activeOnly {
		query += ` AND ended_at IS NULL AND expires_at > NOW()`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateCurrentToken records the jti of the latest refresh token issued for
// the session.
func (r *PostgresRepository) UpdateCurrentToken(ctx context.Context, id, tokenID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE login_sessions SET current_token = $2 WHERE id = $1`, id, tokenID)
	return err
}

// End closes the session with the given reason. The first End wins: a session
// that already ended keeps its original reason and timestamp.
func (r *PostgresRepository) End(ctx context.Context, id, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE login_sessions
		SET ended_at = $2, end_reason = $3
		WHERE id = $1 AND ended_at IS NULL`, id, at, reason)
	return err
}

// EndAllByUser closes every live session of the user with the given reason and
// returns how many sessions were closed.
func (r *PostgresRepository) EndAllByUser(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE login_sessions
		SET ended_at = $2, end_reason = $3
		WHERE user_id = $1 AND ended_at IS NULL`, userID, at, reason)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// EndExpired closes every session whose expiry has passed without an explicit
// end, marking it EXPIRED. Run periodically; returns how many sessions closed.
func (r *PostgresRepository) EndExpired(ctx context.Context, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE login_sessions
		SET ended_at = $1, end_reason = $2
		WHERE ended_at IS NULL AND expires_at <= $1`, at, domain.EndReasonExpired)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s         domain.Session
		ip, ua    sql.NullString
		endedAt   sql.NullTime
		endReason sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.FamilyID, &s.CurrentToken,
		&ip, &ua, &s.ExpiresAt, &s.CreatedAt, &endedAt, &endReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.IPAddress = ip.String
	s.UserAgent = ua.String
	s.EndedAt = nullTimeToPtr(endedAt)
	s.EndReason = endReason.String
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
