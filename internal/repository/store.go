package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hazard-wager/internal/model"
)

// BuildSession constructs the session row for the nonce reserved by
// OpenSession. It runs inside the opening transaction.
type BuildSession func(nonce int64) (*model.WagerSession, error)

// Store is the durable source of truth. Each method is one transaction that
// keeps balances, sessions and the ledger consistent.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store on top of the pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// OpenSession debits the stake, stores the new ACTIVE session and records
// the STAKE entry atomically. The user row is locked for the duration so
// the balance check, nonce increment and debit cannot interleave.
func (s *Store) OpenSession(ctx context.Context, userID, stake int64, build BuildSession) (*model.WagerSession, error) {
	var session *model.WagerSession

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		users := NewUserRepository(tx)
		sessions := NewSessionRepository(tx)
		ledger := NewLedgerRepository(tx)

		user, err := users.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		active, err := sessions.ActiveIDsByUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return ErrActiveSessionExists
		}

		if user.Balance < stake {
			return ErrInsufficientBalance
		}

		nonce := user.Nonce + 1
		session, err = build(nonce)
		if err != nil {
			return err
		}

		if _, err := users.DebitStake(ctx, userID, stake, nonce); err != nil {
			return err
		}
		if err := sessions.Insert(ctx, session); err != nil {
			return err
		}

		desc := "wager stake"
		if _, err := ledger.Append(ctx, userID, &session.ID, model.EntryStake, -stake, &desc); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	session.Status = model.StatusActive
	return session, nil
}

// SettleSession applies a settlement exactly once. The session is moved out
// of ACTIVE, the payout is credited and a PAYOUT entry is written when the
// payout is positive. A losing caller gets ErrSessionSettled and nothing is
// changed.
func (s *Store) SettleSession(ctx context.Context, st model.Settlement) (*model.WagerSession, error) {
	var settled *model.WagerSession

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		sessions := NewSessionRepository(tx)

		var err error
		settled, err = sessions.MarkSettled(ctx, st)
		if err != nil {
			return err
		}

		if st.Payout <= 0 {
			return nil
		}

		if _, err := NewUserRepository(tx).AdjustBalance(ctx, settled.UserID, st.Payout); err != nil {
			return err
		}

		desc := fmt.Sprintf("wager payout at second %d", st.Duration)
		if _, err := NewLedgerRepository(tx).Append(ctx, settled.UserID, &settled.ID, model.EntryPayout, st.Payout, &desc); err != nil {
			if errors.Is(err, ErrDuplicateEntry) {
				return ErrSessionSettled
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// GetSession reads a session from the durable store.
func (s *Store) GetSession(ctx context.Context, id string) (*model.WagerSession, error) {
	return NewSessionRepository(s.pool).GetByID(ctx, id)
}

// ActiveSessionIDs returns the user's ACTIVE session ids.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID int64) ([]string, error) {
	return NewSessionRepository(s.pool).ActiveIDsByUser(ctx, userID)
}

// StaleSessions returns ACTIVE sessions started before the cutoff.
func (s *Store) StaleSessions(ctx context.Context, before time.Time, limit int) ([]*model.WagerSession, error) {
	return NewSessionRepository(s.pool).ListStale(ctx, before, limit)
}

// CreateUser creates an account funded with initial, recording a DEPOSIT
// entry for the grant. An existing account is returned unchanged.
func (s *Store) CreateUser(ctx context.Context, userID, initial int64) (*model.User, bool, error) {
	var (
		user    *model.User
		created bool
	)

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		users := NewUserRepository(tx)

		var err error
		user, created, err = users.Create(ctx, userID)
		if err != nil {
			return err
		}
		if !created || initial <= 0 {
			return nil
		}

		user, err = users.AdjustBalance(ctx, userID, initial)
		if err != nil {
			return err
		}

		desc := "initial balance"
		_, err = NewLedgerRepository(tx).Append(ctx, userID, nil, model.EntryDeposit, initial, &desc)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// GetUser reads an account.
func (s *Store) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return NewUserRepository(s.pool).GetByID(ctx, userID)
}

// Deposit credits amount and records a DEPOSIT entry.
func (s *Store) Deposit(ctx context.Context, userID, amount int64) (*model.User, error) {
	return s.moveFunds(ctx, userID, amount, model.EntryDeposit, "deposit")
}

// Withdraw debits amount and records a WITHDRAWAL entry. The balance may not
// go negative.
func (s *Store) Withdraw(ctx context.Context, userID, amount int64) (*model.User, error) {
	return s.moveFunds(ctx, userID, -amount, model.EntryWithdrawal, "withdrawal")
}

func (s *Store) moveFunds(ctx context.Context, userID, delta int64, kind model.EntryKind, desc string) (*model.User, error) {
	var user *model.User

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		user, err = NewUserRepository(tx).AdjustBalance(ctx, userID, delta)
		if err != nil {
			return err
		}
		_, err = NewLedgerRepository(tx).Append(ctx, userID, nil, kind, delta, &desc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// LedgerHistory returns the user's most recent entries.
func (s *Store) LedgerHistory(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	return NewLedgerRepository(s.pool).ListByUser(ctx, userID, limit)
}

// SessionLedger returns the entries tied to one session.
func (s *Store) SessionLedger(ctx context.Context, sessionID string) ([]*model.LedgerEntry, error) {
	return NewLedgerRepository(s.pool).ListBySession(ctx, sessionID)
}
