// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"hazard-wager/internal/model"
	"hazard-wager/internal/pkg/db"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a migrated pool.
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

func buildSession(userID, stake int64, hazard int, createdAt time.Time) BuildSession {
	return func(nonce int64) (*model.WagerSession, error) {
		return &model.WagerSession{
			ID:             uuid.NewString(),
			UserID:         userID,
			Stake:          stake,
			ServerSeed:     "server-seed",
			CommitmentHash: "commitment",
			ClientSeed:     "client-seed",
			Nonce:          nonce,
			HazardSecond:   hazard,
			HazardSchedule: "5:0.01,10:0.03,15:0.05,20:0.07,30:0.1/30",
			CreatedAt:      createdAt,
		}, nil
	}
}

func settlement(id string, status model.SessionStatus, duration int, payout int64) model.Settlement {
	return model.Settlement{
		SessionID:   id,
		Status:      status,
		Duration:    duration,
		Payout:      payout,
		CompletedAt: time.Now().UTC(),
	}
}

// ============================================================================
// Account Tests
// ============================================================================

func TestStore_CreateUser(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	user, created, err := store.CreateUser(ctx, 1001, 5000)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5000), user.Balance)
	assert.Equal(t, int64(0), user.Nonce)

	// Second call returns the existing account without another grant
	user, created, err = store.CreateUser(ctx, 1001, 5000)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(5000), user.Balance)

	entries, err := store.LedgerHistory(ctx, 1001, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryDeposit, entries[0].Kind)
	assert.Equal(t, int64(5000), entries[0].Amount)
	assert.Nil(t, entries[0].SessionID)
}

func TestStore_GetUser_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewStore(pool).GetUser(context.Background(), 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestStore_DepositWithdraw(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	_, _, err := store.CreateUser(ctx, 1002, 100)
	require.NoError(t, err)

	user, err := store.Deposit(ctx, 1002, 400)
	require.NoError(t, err)
	assert.Equal(t, int64(500), user.Balance)

	user, err = store.Withdraw(ctx, 1002, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(300), user.Balance)

	_, err = store.Withdraw(ctx, 1002, 301)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	user, err = store.GetUser(ctx, 1002)
	require.NoError(t, err)
	assert.Equal(t, int64(300), user.Balance, "failed withdrawal must not change the balance")

	entries, err := store.LedgerHistory(ctx, 1002, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, model.EntryWithdrawal, entries[0].Kind)
	assert.Equal(t, int64(-200), entries[0].Amount)
	assert.Equal(t, model.EntryDeposit, entries[1].Kind)

	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	assert.Equal(t, user.Balance, sum)
}

// ============================================================================
// Session Tests
// ============================================================================

func TestStore_OpenSession(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	_, _, err := store.CreateUser(ctx, 2001, 1000)
	require.NoError(t, err)

	started := time.Now().UTC().Truncate(time.Microsecond)
	session, err := store.OpenSession(ctx, 2001, 300, buildSession(2001, 300, 7, started))
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, session.Status)
	assert.Equal(t, int64(1), session.Nonce)

	user, err := store.GetUser(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, int64(700), user.Balance)
	assert.Equal(t, int64(1), user.Nonce)

	stored, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.HazardSecond)
	assert.Equal(t, "5:0.01,10:0.03,15:0.05,20:0.07,30:0.1/30", stored.HazardSchedule)
	assert.Equal(t, int64(300), stored.Stake)
	assert.True(t, stored.CreatedAt.Equal(started))
	assert.Nil(t, stored.CompletedAt)

	entries, err := store.SessionLedger(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryStake, entries[0].Kind)
	assert.Equal(t, int64(-300), entries[0].Amount)

	ids, err := store.ActiveSessionIDs(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, []string{session.ID}, ids)
}

func TestStore_OpenSession_AlreadyActive(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	_, _, err := store.CreateUser(ctx, 2002, 1000)
	require.NoError(t, err)

	_, err = store.OpenSession(ctx, 2002, 100, buildSession(2002, 100, 0, time.Now()))
	require.NoError(t, err)

	_, err = store.OpenSession(ctx, 2002, 100, buildSession(2002, 100, 0, time.Now()))
	assert.ErrorIs(t, err, ErrActiveSessionExists)

	user, err := store.GetUser(ctx, 2002)
	require.NoError(t, err)
	assert.Equal(t, int64(900), user.Balance)
	assert.Equal(t, int64(1), user.Nonce)
}

func TestStore_OpenSession_InsufficientBalance(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	_, _, err := store.CreateUser(ctx, 2003, 50)
	require.NoError(t, err)

	_, err = store.OpenSession(ctx, 2003, 51, buildSession(2003, 51, 0, time.Now()))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = store.OpenSession(ctx, 4040, 10, buildSession(4040, 10, 0, time.Now()))
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestStore_OpenSession_ConcurrentStarts(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	_, _, err := store.CreateUser(ctx, 2004, 10000)
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.OpenSession(ctx, 2004, 100, buildSession(2004, 100, 0, time.Now()))
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrActiveSessionExists)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)

	user, err := store.GetUser(ctx, 2004)
	require.NoError(t, err)
	assert.Equal(t, int64(9900), user.Balance)
}

func TestStore_SettleSession_Win(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	_, _, err := store.CreateUser(ctx, 3001, 1000)
	require.NoError(t, err)

	session, err := store.OpenSession(ctx, 3001, 1000, buildSession(3001, 1000, 12, time.Now()))
	require.NoError(t, err)

	settled, err := store.SettleSession(ctx, settlement(session.ID, model.StatusCompletedWin, 10, 1130))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompletedWin, settled.Status)
	assert.Equal(t, 10, settled.Duration)
	assert.Equal(t, int64(1130), settled.Payout)
	assert.NotNil(t, settled.CompletedAt)

	user, err := store.GetUser(ctx, 3001)
	require.NoError(t, err)
	assert.Equal(t, int64(1130), user.Balance)

	entries, err := store.SessionLedger(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.EntryStake, entries[0].Kind)
	assert.Equal(t, model.EntryPayout, entries[1].Kind)
	assert.Equal(t, int64(1130), entries[1].Amount)

	ids, err := store.ActiveSessionIDs(ctx, 3001)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_SettleSession_LossWritesNoPayout(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	_, _, err := store.CreateUser(ctx, 3002, 1000)
	require.NoError(t, err)

	session, err := store.OpenSession(ctx, 3002, 400, buildSession(3002, 400, 3, time.Now()))
	require.NoError(t, err)

	_, err = store.SettleSession(ctx, settlement(session.ID, model.StatusCompletedLoss, 5, 0))
	require.NoError(t, err)

	user, err := store.GetUser(ctx, 3002)
	require.NoError(t, err)
	assert.Equal(t, int64(600), user.Balance)

	entries, err := store.SessionLedger(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryStake, entries[0].Kind)
}

func TestStore_SettleSession_Twice(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	_, _, err := store.CreateUser(ctx, 3003, 1000)
	require.NoError(t, err)

	session, err := store.OpenSession(ctx, 3003, 100, buildSession(3003, 100, 0, time.Now()))
	require.NoError(t, err)

	_, err = store.SettleSession(ctx, settlement(session.ID, model.StatusCompletedWin, 2, 95))
	require.NoError(t, err)

	_, err = store.SettleSession(ctx, settlement(session.ID, model.StatusAbandonedWin, 30, 200))
	assert.ErrorIs(t, err, ErrSessionSettled)

	_, err = store.SettleSession(ctx, settlement(uuid.NewString(), model.StatusCompletedWin, 2, 95))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	user, err := store.GetUser(ctx, 3003)
	require.NoError(t, err)
	assert.Equal(t, int64(995), user.Balance)

	stored, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompletedWin, stored.Status)
	assert.Equal(t, int64(95), stored.Payout)
}

func TestStore_SettleSession_ConcurrentRace(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	_, _, err := store.CreateUser(ctx, 3004, 1000)
	require.NoError(t, err)

	session, err := store.OpenSession(ctx, 3004, 500, buildSession(3004, 500, 0, time.Now()))
	require.NoError(t, err)

	const racers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < racers; i++ {
		status := model.StatusCompletedWin
		if i%2 == 1 {
			status = model.StatusAbandonedWin
		}
		wg.Add(1)
		go func(st model.SessionStatus) {
			defer wg.Done()
			_, err := store.SettleSession(ctx, settlement(session.ID, st, 5, 485))
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrSessionSettled)
		}(status)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)

	user, err := store.GetUser(ctx, 3004)
	require.NoError(t, err)
	assert.Equal(t, int64(985), user.Balance)

	entries, err := store.SessionLedger(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStore_StaleSessions(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []int64{4001, 4002, 4003} {
		_, _, err := store.CreateUser(ctx, id, 1000)
		require.NoError(t, err)
	}

	old, err := store.OpenSession(ctx, 4001, 100, buildSession(4001, 100, 0, now.Add(-10*time.Minute)))
	require.NoError(t, err)
	older, err := store.OpenSession(ctx, 4002, 100, buildSession(4002, 100, 0, now.Add(-20*time.Minute)))
	require.NoError(t, err)
	_, err = store.OpenSession(ctx, 4003, 100, buildSession(4003, 100, 0, now))
	require.NoError(t, err)

	stale, err := store.StaleSessions(ctx, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, older.ID, stale[0].ID)
	assert.Equal(t, old.ID, stale[1].ID)

	limited, err := store.StaleSessions(ctx, now.Add(-5*time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, older.ID, limited[0].ID)

	_, err = store.SettleSession(ctx, settlement(older.ID, model.StatusAbandonedLoss, 30, 0))
	require.NoError(t, err)

	stale, err = store.StaleSessions(ctx, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

// ============================================================================
// Schema Tests
// ============================================================================

func TestMigrate_Idempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, db.Migrate(context.Background(), pool))
}

func TestSessionRepository_InsertRejectsSecondActive(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	_, _, err := NewUserRepository(pool).Create(ctx, 5001)
	require.NoError(t, err)

	repo := NewSessionRepository(pool)
	first, _ := buildSession(5001, 10, 0, time.Now())(1)
	second, _ := buildSession(5001, 10, 0, time.Now())(2)

	require.NoError(t, repo.Insert(ctx, first))
	assert.ErrorIs(t, repo.Insert(ctx, second), ErrActiveSessionExists)

	status, err := repo.Status(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, status)

	_, err = repo.Status(ctx, second.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
