// Package engine runs the wager session lifecycle: start, cashout,
// abandonment and the live tick stream. PostgreSQL is the source of truth;
// the Redis mirror only serves the tick loop and is re-checked before use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"hazard-wager/internal/config"
	"hazard-wager/internal/fairness"
	"hazard-wager/internal/model"
	"hazard-wager/internal/payout"
	"hazard-wager/internal/pkg/cache"
	"hazard-wager/internal/pkg/db"
	"hazard-wager/internal/pkg/lock"
	"hazard-wager/internal/repository"
)

// SessionStore is the durable store. Implemented by *repository.Store.
type SessionStore interface {
	OpenSession(ctx context.Context, userID, stake int64, build repository.BuildSession) (*model.WagerSession, error)
	SettleSession(ctx context.Context, st model.Settlement) (*model.WagerSession, error)
	GetSession(ctx context.Context, id string) (*model.WagerSession, error)
	ActiveSessionIDs(ctx context.Context, userID int64) ([]string, error)
	StaleSessions(ctx context.Context, before time.Time, limit int) ([]*model.WagerSession, error)
}

// Mirror is the ephemeral session copy. Implemented by *cache.SessionMirror.
// Get returns cache.ErrMiss for absent entries.
type Mirror interface {
	Put(ctx context.Context, v *model.SessionView) error
	Get(ctx context.Context, sessionID string) (*model.SessionView, error)
	Delete(ctx context.Context, sessionID string, userID int64) error
	ActiveSessionIDs(ctx context.Context, userID int64) ([]string, error)
}

// Config holds the engine tunables.
type Config struct {
	MinStake         int64
	MaxStake         int64
	CashoutTolerance int
	OpTimeout        time.Duration
	LockTimeout      time.Duration
	StaleAfter       time.Duration
	ReapBatchSize    int
	TickInterval     time.Duration
	DurableRecheck   int
}

// ConfigFrom extracts the engine settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MinStake:         cfg.Wager.MinStake,
		MaxStake:         cfg.Wager.MaxStake,
		CashoutTolerance: cfg.Wager.CashoutTolerance,
		OpTimeout:        cfg.Wager.OpTimeout,
		LockTimeout:      cfg.Wager.LockTimeout,
		StaleAfter:       cfg.Reaper.StaleAfter,
		ReapBatchSize:    cfg.Reaper.BatchSize,
		TickInterval:     cfg.Tick.Interval,
		DurableRecheck:   cfg.Tick.DurableRecheck,
	}
}

func (c Config) withDefaults() Config {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 2 * time.Second
	}
	if c.ReapBatchSize <= 0 {
		c.ReapBatchSize = 100
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// SeedSource produces a fresh server seed and client seed.
type SeedSource func() (serverSeed, clientSeed string, err error)

func randomSeeds() (string, string, error) {
	server, err := fairness.GenerateServerSeed()
	if err != nil {
		return "", "", err
	}
	client, err := fairness.GenerateClientSeed()
	if err != nil {
		return "", "", err
	}
	return server, client, nil
}

// SettleHook observes every session that leaves ACTIVE.
type SettleHook func(s *model.WagerSession)

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocks shares a per-user lock table with other components.
func WithLocks(l *lock.KeyedLock[int64]) Option {
	return func(e *Engine) { e.locks = l }
}

// WithSeedSource replaces the crypto/rand seed generator.
func WithSeedSource(src SeedSource) Option {
	return func(e *Engine) { e.seeds = src }
}

// WithIDGenerator replaces the UUID session id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// Engine owns the session lifecycle.
type Engine struct {
	curve  *payout.Curve
	store  SessionStore
	mirror Mirror
	cfg    Config

	locks *lock.KeyedLock[int64]
	now   func() time.Time
	seeds SeedSource
	newID func() string

	hooksMu sync.RWMutex
	hooks   []SettleHook
}

// New creates an Engine.
func New(curve *payout.Curve, store SessionStore, mirror Mirror, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		curve:  curve,
		store:  store,
		mirror: mirror,
		cfg:    cfg.withDefaults(),
		locks:  lock.New[int64](),
		now:    time.Now,
		seeds:  randomSeeds,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Curve returns the payout curve in use.
func (e *Engine) Curve() *payout.Curve {
	return e.curve
}

// AddSettleHook registers fn to run after every settlement.
func (e *Engine) AddSettleHook(fn SettleHook) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, fn)
}

// Commitment is returned by Start. The server seed stays secret.
type Commitment struct {
	SessionID      string `json:"session_id"`
	CommitmentHash string `json:"commitment_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          int64  `json:"nonce"`
	MaxDuration    int    `json:"max_duration"`
	HazardSchedule string `json:"hazard_schedule"`
}

// CashoutResult is returned by CashOut and reveals the server seed.
type CashoutResult struct {
	SessionID      string              `json:"session_id"`
	Win            bool                `json:"win"`
	Status         model.SessionStatus `json:"status"`
	Duration       int                 `json:"duration"`
	Multiplier     decimal.Decimal     `json:"multiplier"`
	Payout         int64               `json:"payout"`
	HazardSecond   int                 `json:"hazard_second"`
	ServerSeed     string              `json:"server_seed"`
	CommitmentHash string              `json:"commitment_hash"`
	ClientSeed     string              `json:"client_seed"`
	Nonce          int64               `json:"nonce"`
}

// Verification is returned by Verify. ServerSeed and HazardSecond are zero
// while the session is ACTIVE.
type Verification struct {
	SessionID      string              `json:"session_id"`
	Status         model.SessionStatus `json:"status"`
	IsValid        bool                `json:"is_valid"`
	ServerSeed     string              `json:"server_seed"`
	CommitmentHash string              `json:"commitment_hash"`
	ClientSeed     string              `json:"client_seed"`
	Nonce          int64               `json:"nonce"`
	HazardSchedule string              `json:"hazard_schedule"`
	HazardSecond   int                 `json:"hazard_second"`
	Duration       int                 `json:"duration"`
	Payout         int64               `json:"payout"`
}

// Start opens a session for userID. The stake is debited and the hazard
// second fixed before the commitment is returned.
func (e *Engine) Start(ctx context.Context, userID, stake int64) (*Commitment, error) {
	if stake < e.cfg.MinStake || stake > e.cfg.MaxStake {
		return nil, newError(KindInvalidStake, "",
			fmt.Errorf("stake %d outside [%d, %d]", stake, e.cfg.MinStake, e.cfg.MaxStake))
	}

	var session *model.WagerSession
	err := e.locks.WithLockContext(ctx, userID, e.cfg.LockTimeout, func() error {
		opCtx, cancel := db.WithTimeout(ctx, e.cfg.OpTimeout)
		defer cancel()

		s, err := e.store.OpenSession(opCtx, userID, stake, func(nonce int64) (*model.WagerSession, error) {
			return e.newSession(userID, stake, nonce)
		})
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, startError(err)
	}

	e.mirrorPut(ctx, session)

	log.Info().
		Str("session_id", session.ID).
		Int64("user_id", userID).
		Int64("stake", stake).
		Int64("nonce", session.Nonce).
		Msg("Wager session started")

	return &Commitment{
		SessionID:      session.ID,
		CommitmentHash: session.CommitmentHash,
		ClientSeed:     session.ClientSeed,
		Nonce:          session.Nonce,
		MaxDuration:    e.curve.MaxDuration(),
		HazardSchedule: session.HazardSchedule,
	}, nil
}

func (e *Engine) newSession(userID, stake, nonce int64) (*model.WagerSession, error) {
	serverSeed, clientSeed, err := e.seeds()
	if err != nil {
		return nil, fmt.Errorf("failed to generate seeds: %w", err)
	}

	hazard, err := fairness.DeriveHazardSecond(e.curve, serverSeed, clientSeed, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to derive hazard second: %w", err)
	}

	return &model.WagerSession{
		ID:             e.newID(),
		UserID:         userID,
		Stake:          stake,
		ServerSeed:     serverSeed,
		CommitmentHash: fairness.CommitmentHash(serverSeed),
		ClientSeed:     clientSeed,
		Nonce:          nonce,
		HazardSecond:   hazard,
		HazardSchedule: e.curve.Schedule(),
		Status:         model.StatusActive,
		CreatedAt:      e.now().UTC().Truncate(time.Microsecond),
	}, nil
}

func startError(err error) error {
	switch {
	case errors.Is(err, repository.ErrActiveSessionExists):
		return newError(KindAlreadyActive, "", err)
	case errors.Is(err, repository.ErrInsufficientBalance),
		errors.Is(err, repository.ErrUserNotFound):
		return newError(KindInsufficientBalance, "", err)
	default:
		return newError(KindInternal, "", err)
	}
}

// CashOut settles the caller's session at claimedSecond.
func (e *Engine) CashOut(ctx context.Context, userID int64, sessionID string, claimedSecond int) (*CashoutResult, error) {
	maxDuration := e.curve.MaxDuration()
	if claimedSecond < 1 || claimedSecond > maxDuration {
		return nil, newError(KindInvalidCashoutTime, sessionID,
			fmt.Errorf("second %d outside [1, %d]", claimedSecond, maxDuration))
	}

	session, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, newError(KindSessionNotFound, sessionID, nil)
	}
	if session.Status != model.StatusActive {
		return nil, newError(KindAlreadyCompleted, sessionID, nil)
	}

	elapsed := e.elapsed(session, e.now())
	if claimedSecond > elapsed+e.cfg.CashoutTolerance {
		return nil, newError(KindInvalidCashoutTime, sessionID,
			fmt.Errorf("second %d is ahead of elapsed %d", claimedSecond, elapsed))
	}

	if err := e.checkMirror(ctx, session); err != nil {
		return nil, err
	}

	settled, out, err := e.settle(ctx, session, claimedSecond, false)
	if err != nil {
		return nil, err
	}

	return &CashoutResult{
		SessionID:      settled.ID,
		Win:            out.Win,
		Status:         settled.Status,
		Duration:       settled.Duration,
		Multiplier:     out.Multiplier,
		Payout:         settled.Payout,
		HazardSecond:   settled.HazardSecond,
		ServerSeed:     settled.ServerSeed,
		CommitmentHash: settled.CommitmentHash,
		ClientSeed:     settled.ClientSeed,
		Nonce:          settled.Nonce,
	}, nil
}

// ActiveSessions returns the ids of the user's live sessions. Mirror-only
// ids are confirmed against the durable store first.
func (e *Engine) ActiveSessions(ctx context.Context, userID int64) ([]string, error) {
	opCtx, cancel := db.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	durable, err := e.store.ActiveSessionIDs(opCtx, userID)
	if err != nil {
		return nil, newError(KindInternal, "", err)
	}

	ids := make([]string, 0, len(durable))
	seen := make(map[string]struct{}, len(durable))
	for _, id := range durable {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	mirrored, err := e.mirror.ActiveSessionIDs(opCtx, userID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("Mirror unavailable, using durable sessions only")
		return ids, nil
	}

	for _, id := range mirrored {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		s, err := e.store.GetSession(opCtx, id)
		switch {
		case errors.Is(err, repository.ErrSessionNotFound):
			e.mirrorDelete(ctx, id, userID)
			continue
		case err != nil:
			return nil, newError(KindInternal, id, err)
		}

		if s.UserID != userID || s.Status != model.StatusActive {
			e.mirrorDelete(ctx, id, userID)
			continue
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// Verify reports the fairness data of a session. The server seed is only
// revealed once the session is settled.
func (e *Engine) Verify(ctx context.Context, sessionID string) (*Verification, error) {
	session, err := e.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	v := &Verification{
		SessionID:      session.ID,
		Status:         session.Status,
		CommitmentHash: session.CommitmentHash,
		ClientSeed:     session.ClientSeed,
		Nonce:          session.Nonce,
		HazardSchedule: session.HazardSchedule,
	}
	if session.Status == model.StatusActive {
		return v, nil
	}

	v.ServerSeed = session.ServerSeed
	v.HazardSecond = session.HazardSecond
	v.Duration = session.Duration
	v.Payout = session.Payout

	table, err := e.scheduleOf(session)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("Stored hazard schedule is unreadable")
		return nil, newError(KindInconsistentState, session.ID, err)
	}
	v.IsValid = fairness.Verify(table, session.ServerSeed, session.ClientSeed, session.Nonce,
		session.CommitmentHash, session.HazardSecond)
	return v, nil
}

// scheduleOf returns the hazard table a session was derived from. Rows
// written before schedules were recorded fall back to the current curve.
func (e *Engine) scheduleOf(session *model.WagerSession) (fairness.HazardTable, error) {
	if session.HazardSchedule == "" {
		return e.curve, nil
	}
	return payout.ParseSchedule(session.HazardSchedule)
}

// settle is the only path out of ACTIVE. The outcome is computed with the
// shared curve rule, then applied with a compare-and-set so that racing
// settlers produce exactly one result.
func (e *Engine) settle(ctx context.Context, session *model.WagerSession, second int, abandoned bool) (*model.WagerSession, payout.Outcome, error) {
	if session.HazardSecond < 0 || session.HazardSecond > e.curve.MaxDuration() {
		log.Error().
			Str("session_id", session.ID).
			Int("hazard_second", session.HazardSecond).
			Msg("Stored hazard second outside horizon")
		return nil, payout.Outcome{}, newError(KindInconsistentState, session.ID,
			fmt.Errorf("hazard second %d outside [0, %d]", session.HazardSecond, e.curve.MaxDuration()))
	}

	out := e.curve.Resolve(session.Stake, session.HazardSecond, second)
	st := model.Settlement{
		SessionID:   session.ID,
		Status:      model.SettledStatus(out.Win, abandoned),
		Duration:    second,
		Payout:      out.Payout,
		CompletedAt: e.now().UTC().Truncate(time.Microsecond),
	}

	opCtx, cancel := db.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	settled, err := e.store.SettleSession(opCtx, st)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSessionSettled):
			return nil, out, newError(KindAlreadyCompleted, session.ID, err)
		case errors.Is(err, repository.ErrSessionNotFound):
			return nil, out, newError(KindSessionNotFound, session.ID, err)
		default:
			return nil, out, newError(KindInternal, session.ID, err)
		}
	}

	e.mirrorDelete(ctx, settled.ID, settled.UserID)
	e.runHooks(settled)

	log.Info().
		Str("session_id", settled.ID).
		Int64("user_id", settled.UserID).
		Str("status", string(settled.Status)).
		Int("duration", settled.Duration).
		Int64("payout", settled.Payout).
		Msg("Wager session settled")

	return settled, out, nil
}

func (e *Engine) runHooks(s *model.WagerSession) {
	e.hooksMu.RLock()
	hooks := make([]SettleHook, len(e.hooks))
	copy(hooks, e.hooks)
	e.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(s)
	}
}

func (e *Engine) loadSession(ctx context.Context, sessionID string) (*model.WagerSession, error) {
	opCtx, cancel := db.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	session, err := e.store.GetSession(opCtx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, newError(KindSessionNotFound, sessionID, nil)
		}
		return nil, newError(KindInternal, sessionID, err)
	}
	return session, nil
}

// checkMirror compares the mirror with the durable row. A missing or
// unreadable mirror is tolerated; a mirror that disagrees is not.
func (e *Engine) checkMirror(ctx context.Context, session *model.WagerSession) error {
	opCtx, cancel := db.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	view, err := e.mirror.Get(opCtx, session.ID)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("Mirror read failed, using durable session")
		}
		return nil
	}

	if view.UserID != session.UserID ||
		view.Stake != session.Stake ||
		view.HazardSecond != session.HazardSecond ||
		!sameInstant(view.StartedAt, session.CreatedAt) {
		log.Error().
			Str("session_id", session.ID).
			Int64("durable_user_id", session.UserID).
			Int64("mirror_user_id", view.UserID).
			Int64("durable_stake", session.Stake).
			Int64("mirror_stake", view.Stake).
			Msg("Mirror disagrees with durable session")
		return newError(KindInconsistentState, session.ID, errors.New("mirror disagrees with durable session"))
	}
	return nil
}

func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

// elapsed returns whole seconds since the session started, never negative.
func (e *Engine) elapsed(s *model.WagerSession, now time.Time) int {
	d := now.Sub(s.CreatedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

func (e *Engine) mirrorPut(ctx context.Context, s *model.WagerSession) {
	opCtx, cancel := db.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	if err := e.mirror.Put(opCtx, model.ViewOf(s)); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to mirror session")
	}
}

func (e *Engine) mirrorDelete(ctx context.Context, sessionID string, userID int64) {
	opCtx, cancel := db.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	if err := e.mirror.Delete(opCtx, sessionID, userID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to remove mirrored session")
	}
}
