package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"hazard-wager/internal/pkg/db"
)

// ReapReport summarizes one abandonment sweep.
type ReapReport struct {
	Scanned int
	Wins    int
	Losses  int
	Skipped int
	Failed  int
}

// Reaped is the number of sessions this sweep settled.
func (r ReapReport) Reaped() int {
	return r.Wins + r.Losses
}

// ReapAbandoned settles ACTIVE sessions older than the stale threshold as
// if the player had cashed out at the elapsed second, capped at the horizon.
// One session failing does not stop the sweep.
func (e *Engine) ReapAbandoned(ctx context.Context, now time.Time) (ReapReport, error) {
	var report ReapReport

	opCtx, cancel := db.WithTimeout(ctx, e.cfg.OpTimeout)
	sessions, err := e.store.StaleSessions(opCtx, now.Add(-e.cfg.StaleAfter), e.cfg.ReapBatchSize)
	cancel()
	if err != nil {
		return report, newError(KindInternal, "", err)
	}
	report.Scanned = len(sessions)

	for _, s := range sessions {
		second := e.elapsed(s, now)
		if second < 1 {
			second = 1
		}
		if second > e.curve.MaxDuration() {
			second = e.curve.MaxDuration()
		}

		settled, _, err := e.settle(ctx, s, second, true)
		switch {
		case err == nil && settled.Status.IsWin():
			report.Wins++
		case err == nil:
			report.Losses++
		case KindOf(err) == KindAlreadyCompleted:
			report.Skipped++
		default:
			report.Failed++
			log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to reap abandoned session")
		}
	}

	return report, nil
}

// Reaper runs ReapAbandoned on a fixed interval.
type Reaper struct {
	engine   *Engine
	interval time.Duration
}

// NewReaper creates a Reaper.
func NewReaper(engine *Engine, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{engine: engine, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.interval).Msg("Abandonment reaper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Abandonment reaper stopped")
			return
		case <-ticker.C:
			_, _ = r.Sweep(ctx)
		}
	}
}

// Sweep runs a single pass. A panic inside the pass is recovered and
// reported as an error so the next tick still runs.
func (r *Reaper) Sweep(ctx context.Context) (report ReapReport, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("Recovered from panic in reaper sweep")
			err = fmt.Errorf("reaper sweep panicked: %v", p)
		}
	}()

	report, err = r.engine.ReapAbandoned(ctx, r.engine.now())
	if err != nil {
		log.Error().Err(err).Msg("Abandonment sweep failed")
		return report, err
	}

	if report.Scanned > 0 {
		log.Info().
			Int("scanned", report.Scanned).
			Int("wins", report.Wins).
			Int("losses", report.Losses).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Msg("Abandonment sweep completed")
	}
	return report, nil
}
