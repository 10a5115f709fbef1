package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Common errors for repository operations.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrSessionNotFound     = errors.New("wager session not found")
	ErrActiveSessionExists = errors.New("user already has an active wager session")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSessionSettled      = errors.New("wager session already settled")
	ErrDuplicateEntry      = errors.New("ledger entry already recorded for session")
)

// PostgreSQL error codes and constraint names the repositories translate.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"

	constraintOneActive   = "ux_wager_sessions_one_active"
	constraintSessionKind = "ux_ledger_entries_session_kind"
)

func pgCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func isUniqueViolation(err error, constraint string) bool {
	code, name := pgCode(err)
	return code == codeUniqueViolation && name == constraint
}

func isCheckViolation(err error) bool {
	code, _ := pgCode(err)
	return code == codeCheckViolation
}
