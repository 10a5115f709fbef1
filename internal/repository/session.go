package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"hazard-wager/internal/model"
)

const sessionColumns = `id, user_id, stake, server_seed, commitment_hash, client_seed, nonce,
	hazard_second, hazard_schedule, status, duration, payout, created_at, completed_at`

// SessionRepository persists wager sessions.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row pgx.Row) (*model.WagerSession, error) {
	var s model.WagerSession
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Stake,
		&s.ServerSeed,
		&s.CommitmentHash,
		&s.ClientSeed,
		&s.Nonce,
		&s.HazardSecond,
		&s.HazardSchedule,
		&s.Status,
		&s.Duration,
		&s.Payout,
		&s.CreatedAt,
		&s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Insert stores a new ACTIVE session. The partial unique index on
// (user_id) WHERE status = 'ACTIVE' turns a concurrent second start into
// ErrActiveSessionExists.
func (r *SessionRepository) Insert(ctx context.Context, s *model.WagerSession) error {
	const query = `
		INSERT INTO wager_sessions (id, user_id, stake, server_seed, commitment_hash, client_seed,
			nonce, hazard_second, hazard_schedule, status, duration, payout, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, 0, $11)
	`

	_, err := r.db.Exec(ctx, query,
		s.ID, s.UserID, s.Stake, s.ServerSeed, s.CommitmentHash, s.ClientSeed,
		s.Nonce, s.HazardSecond, s.HazardSchedule, model.StatusActive, s.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintOneActive) {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("failed to insert wager session: %w", err)
	}
	return nil
}

// GetByID retrieves a session.
// Returns ErrSessionNotFound if it does not exist.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.WagerSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM wager_sessions WHERE id = $1`

	s, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get wager session: %w", err)
	}
	return s, nil
}

// ActiveIDsByUser returns the ids of the user's ACTIVE sessions.
func (r *SessionRepository) ActiveIDsByUser(ctx context.Context, userID int64) ([]string, error) {
	const query = `SELECT id FROM wager_sessions WHERE user_id = $1 AND status = 'ACTIVE'`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active sessions: %w", err)
	}

	return ids, nil
}

// ListStale returns up to limit ACTIVE sessions created before the cutoff,
// oldest first.
func (r *SessionRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*model.WagerSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM wager_sessions
		WHERE status = 'ACTIVE' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.WagerSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale sessions: %w", err)
	}

	return sessions, nil
}

// MarkSettled moves a session from ACTIVE to a terminal status. Only the
// first caller succeeds; later callers get ErrSessionSettled.
func (r *SessionRepository) MarkSettled(ctx context.Context, st model.Settlement) (*model.WagerSession, error) {
	query := `
		UPDATE wager_sessions
		SET status = $2, duration = $3, payout = $4, completed_at = $5
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING ` + sessionColumns

	s, err := scanSession(r.db.QueryRow(ctx, query, st.SessionID, st.Status, st.Duration, st.Payout, st.CompletedAt))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to settle wager session: %w", err)
	}

	if _, err := r.Status(ctx, st.SessionID); err != nil {
		return nil, err
	}
	return nil, ErrSessionSettled
}

// Status returns the current status of a session.
func (r *SessionRepository) Status(ctx context.Context, id string) (model.SessionStatus, error) {
	const query = `SELECT status FROM wager_sessions WHERE id = $1`

	var status model.SessionStatus
	if err := r.db.QueryRow(ctx, query, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to get session status: %w", err)
	}
	return status, nil
}
