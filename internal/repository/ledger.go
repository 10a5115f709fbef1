package repository

import (
	"context"
	"fmt"

	"hazard-wager/internal/model"
)

const ledgerColumns = `id, user_id, session_id, kind, amount, status, description, created_at`

// LedgerRepository appends and reads ledger entries. Entries are never
// updated or deleted.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append records a balance change. A second STAKE or PAYOUT for the same
// session returns ErrDuplicateEntry.
func (r *LedgerRepository) Append(ctx context.Context, userID int64, sessionID *string, kind model.EntryKind, amount int64, description *string) (*model.LedgerEntry, error) {
	query := `
		INSERT INTO ledger_entries (user_id, session_id, kind, amount, status, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING ` + ledgerColumns

	var e model.LedgerEntry
	err := r.db.QueryRow(ctx, query, userID, sessionID, kind, amount, model.EntryStatusCompleted, description).Scan(
		&e.ID,
		&e.UserID,
		&e.SessionID,
		&e.Kind,
		&e.Amount,
		&e.Status,
		&e.Description,
		&e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintSessionKind) {
			return nil, ErrDuplicateEntry
		}
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return &e, nil
}

// ListByUser returns a user's entries, newest first.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return r.list(ctx, query, userID, limit)
}

// ListBySession returns the entries tied to one session in insertion order.
func (r *LedgerRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE session_id = $1
		ORDER BY id
	`
	return r.list(ctx, query, sessionID)
}

func (r *LedgerRepository) list(ctx context.Context, query string, args ...any) ([]*model.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.SessionID,
			&e.Kind,
			&e.Amount,
			&e.Status,
			&e.Description,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}
