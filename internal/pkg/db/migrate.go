package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is the subset of pgxpool.Pool needed to apply the schema.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "users table",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id BIGINT PRIMARY KEY,
				balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
				nonce BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "wager_sessions table",
		sql: `
			CREATE TABLE IF NOT EXISTS wager_sessions (
				id VARCHAR(36) PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id),
				stake BIGINT NOT NULL CHECK (stake > 0),
				server_seed VARCHAR(128) NOT NULL,
				commitment_hash VARCHAR(64) NOT NULL,
				client_seed VARCHAR(128) NOT NULL,
				nonce BIGINT NOT NULL,
				hazard_second INT NOT NULL CHECK (hazard_second >= 0),
				hazard_schedule TEXT NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
				duration INT NOT NULL DEFAULT 0,
				payout BIGINT NOT NULL DEFAULT 0 CHECK (payout >= 0),
				created_at TIMESTAMPTZ NOT NULL,
				completed_at TIMESTAMPTZ
			);
			CREATE UNIQUE INDEX IF NOT EXISTS ux_wager_sessions_one_active
				ON wager_sessions(user_id) WHERE status = 'ACTIVE';
			CREATE UNIQUE INDEX IF NOT EXISTS ux_wager_sessions_user_nonce
				ON wager_sessions(user_id, nonce);
			CREATE INDEX IF NOT EXISTS idx_wager_sessions_active_created
				ON wager_sessions(created_at) WHERE status = 'ACTIVE';
		`,
	},
	{
		name: "wager_sessions hazard_schedule column",
		sql: `
			ALTER TABLE wager_sessions ADD COLUMN IF NOT EXISTS hazard_schedule TEXT NOT NULL DEFAULT '';
		`,
	},
	{
		name: "ledger_entries table",
		sql: `
			CREATE TABLE IF NOT EXISTS ledger_entries (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id),
				session_id VARCHAR(36) REFERENCES wager_sessions(id),
				kind VARCHAR(20) NOT NULL,
				amount BIGINT NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'COMPLETED',
				description TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_entries_session_kind
				ON ledger_entries(session_id, kind) WHERE session_id IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_time
				ON ledger_entries(user_id, created_at DESC);
		`,
	},
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool Execer) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Msgf("Migration %d: %s created", i+1, m.name)
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
