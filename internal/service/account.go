// Package service provides account operations on top of the durable store.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"hazard-wager/internal/model"
	"hazard-wager/internal/pkg/db"
	"hazard-wager/internal/pkg/lock"
)

// Common errors for account operations.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
)

// History page bounds.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// AccountStore is the subset of repository.Store the service needs.
type AccountStore interface {
	CreateUser(ctx context.Context, userID, initial int64) (*model.User, bool, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	Deposit(ctx context.Context, userID, amount int64) (*model.User, error)
	Withdraw(ctx context.Context, userID, amount int64) (*model.User, error)
	LedgerHistory(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error)
	SessionLedger(ctx context.Context, sessionID string) ([]*model.LedgerEntry, error)
}

// AccountService handles user account operations.
type AccountService struct {
	store          AccountStore
	locks          *lock.KeyedLock[int64]
	initialBalance int64
	opTimeout      time.Duration
	lockTimeout    time.Duration
}

// NewAccountService creates a new AccountService instance. locks should be
// the same table the wager engine uses so balance moves for one user are
// serialized in-process.
func NewAccountService(
	store AccountStore,
	locks *lock.KeyedLock[int64],
	initialBalance int64,
	opTimeout time.Duration,
	lockTimeout time.Duration,
) *AccountService {
	if locks == nil {
		locks = lock.New[int64]()
	}
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &AccountService{
		store:          store,
		locks:          locks,
		initialBalance: initialBalance,
		opTimeout:      opTimeout,
		lockTimeout:    lockTimeout,
	}
}

// EnsureUser ensures a user exists, creating one with the initial balance if
// necessary. Returns the user and whether it was newly created.
func (s *AccountService) EnsureUser(ctx context.Context, userID int64) (*model.User, bool, error) {
	ctx, cancel := db.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	user, created, err := s.store.CreateUser(ctx, userID, s.initialBalance)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}

	if created {
		log.Info().Int64("user_id", userID).Int64("balance", user.Balance).Msg("Account created")
	}
	return user, created, nil
}

// GetBalance retrieves a user's current balance.
func (s *AccountService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := db.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return user.Balance, nil
}

// GetUser retrieves a user by id.
func (s *AccountService) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	ctx, cancel := db.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	return s.store.GetUser(ctx, userID)
}

// Deposit credits amount to the user's balance.
func (s *AccountService) Deposit(ctx context.Context, userID, amount int64) (*model.User, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.move(ctx, userID, amount, "deposit", s.store.Deposit)
}

// Withdraw debits amount from the user's balance. The store rejects
// withdrawals that would take the balance below zero.
func (s *AccountService) Withdraw(ctx context.Context, userID, amount int64) (*model.User, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.move(ctx, userID, amount, "withdrawal", s.store.Withdraw)
}

func (s *AccountService) move(
	ctx context.Context,
	userID, amount int64,
	action string,
	apply func(ctx context.Context, userID, amount int64) (*model.User, error),
) (*model.User, error) {
	var user *model.User

	err := s.locks.WithLockContext(ctx, userID, s.lockTimeout, func() error {
		opCtx, cancel := db.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		var err error
		user, err = apply(opCtx, userID, amount)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", action, err)
	}

	log.Info().
		Int64("user_id", userID).
		Int64("amount", amount).
		Int64("balance", user.Balance).
		Msgf("Account %s applied", action)

	return user, nil
}

// History returns the user's most recent ledger entries. The limit is
// clamped to [1, MaxHistoryLimit]; zero selects DefaultHistoryLimit.
func (s *AccountService) History(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	ctx, cancel := db.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	entries, err := s.store.LedgerHistory(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger history: %w", err)
	}
	return entries, nil
}

// SessionLedger returns the stake and payout entries of one wager session.
func (s *AccountService) SessionLedger(ctx context.Context, sessionID string) ([]*model.LedgerEntry, error) {
	ctx, cancel := db.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	entries, err := s.store.SessionLedger(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session ledger: %w", err)
	}
	return entries, nil
}
