package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"hazard-wager/internal/model"
	"hazard-wager/internal/pkg/cache"
	"hazard-wager/internal/pkg/db"
	"hazard-wager/internal/repository"
)

// TickEvent is the per-second preview pushed to observers of a session.
type TickEvent struct {
	SessionID            string          `json:"session_id"`
	Second               int             `json:"second"`
	PreviewPayout        int64           `json:"preview_payout"`
	NextSecondHazardRisk decimal.Decimal `json:"next_second_hazard_risk"`
}

const subscriberBuffer = 4

type tickLoop struct {
	session *model.WagerSession
	subs    map[chan TickEvent]struct{}
	cancel  context.CancelFunc
}

// TickHub runs one tick loop per observed session and fans its events out
// to every subscriber. Loops end when the last subscriber leaves, when the
// session is settled or when the horizon is passed.
type TickHub struct {
	engine   *Engine
	interval time.Duration
	recheck  int

	base   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	loops map[string]*tickLoop
	wg    sync.WaitGroup
}

// NewTickHub creates a hub and registers it to stop loops on settlement.
func NewTickHub(engine *Engine) *TickHub {
	base, cancel := context.WithCancel(context.Background())
	h := &TickHub{
		engine:   engine,
		interval: engine.cfg.TickInterval,
		recheck:  engine.cfg.DurableRecheck,
		base:     base,
		cancel:   cancel,
		loops:    make(map[string]*tickLoop),
	}
	engine.AddSettleHook(func(s *model.WagerSession) {
		h.stop(s.ID)
	})
	return h
}

// Subscribe attaches to the tick stream of the caller's ACTIVE session. The
// channel is closed when the stream ends; the returned func detaches early.
func (h *TickHub) Subscribe(ctx context.Context, userID int64, sessionID string) (<-chan TickEvent, func(), error) {
	session, err := h.engine.loadSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.UserID != userID {
		return nil, nil, newError(KindSessionNotFound, sessionID, nil)
	}
	if session.Status != model.StatusActive {
		return nil, nil, newError(KindAlreadyCompleted, sessionID, nil)
	}

	ch := make(chan TickEvent, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.base.Err() != nil {
		return nil, nil, newError(KindInternal, sessionID, errors.New("tick hub closed"))
	}

	loop, ok := h.loops[sessionID]
	if !ok {
		loopCtx, cancel := context.WithCancel(h.base)
		loop = &tickLoop{
			session: session,
			subs:    make(map[chan TickEvent]struct{}),
			cancel:  cancel,
		}
		h.loops[sessionID] = loop
		h.wg.Add(1)
		go h.run(loopCtx, loop)
	}
	loop.subs[ch] = struct{}{}

	return ch, func() { h.unsubscribe(loop, ch) }, nil
}

func (h *TickHub) unsubscribe(loop *tickLoop, ch chan TickEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := loop.subs[ch]; !ok {
		return
	}
	delete(loop.subs, ch)
	close(ch)

	// An emptied loop leaves the map at once so a reconnect starts afresh
	// instead of joining a loop that is shutting down.
	if len(loop.subs) == 0 {
		if h.loops[loop.session.ID] == loop {
			delete(h.loops, loop.session.ID)
		}
		loop.cancel()
	}
}

func (h *TickHub) stop(sessionID string) {
	h.mu.Lock()
	loop, ok := h.loops[sessionID]
	h.mu.Unlock()

	if ok {
		loop.cancel()
	}
}

// Close stops every loop and waits for them to exit.
func (h *TickHub) Close() {
	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()

	h.wg.Wait()
}

// observed reports how many sessions currently have subscribed observers.
func (h *TickHub) observed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.loops)
}

func (h *TickHub) finish(loop *tickLoop) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loops[loop.session.ID] == loop {
		delete(h.loops, loop.session.ID)
	}
	for ch := range loop.subs {
		close(ch)
	}
	loop.subs = nil
}

func (h *TickHub) broadcast(loop *tickLoop, ev TickEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range loop.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Str("session_id", ev.SessionID).Int("second", ev.Second).Msg("Dropped tick for slow observer")
		}
	}
}

func (h *TickHub) run(ctx context.Context, loop *tickLoop) {
	defer h.wg.Done()
	defer loop.cancel()
	defer h.finish(loop)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	session := loop.session
	curve := h.engine.curve
	last, ticks := 0, 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		second := h.engine.elapsed(session, h.engine.now())
		if second > curve.MaxDuration() {
			return
		}
		if second < 1 || second <= last {
			continue
		}
		ticks++

		emit, alive := h.check(ctx, session.ID, ticks)
		if !alive {
			return
		}
		if !emit {
			continue
		}

		risk := decimal.Zero
		if second < curve.MaxDuration() {
			risk = curve.HazardProbability(second + 1)
		}
		ev := TickEvent{
			SessionID:            session.ID,
			Second:               second,
			PreviewPayout:        curve.Payout(session.Stake, second),
			NextSecondHazardRisk: risk,
		}
		h.broadcast(loop, ev)
		last = second

		log.Debug().Str("session_id", session.ID).Int("second", second).Msg("Tick")
	}
}

// check reads the mirror every tick and confirms against the durable status
// on the first tick, on a mirror miss, and every recheck ticks. A failed
// durable read skips the tick without ending the loop.
//
// Between durable checks a mirror hit is trusted, so a session settled by
// another process whose mirror delete failed can still get up to recheck-1
// preview ticks before the next durable read ends the loop.
func (h *TickHub) check(ctx context.Context, sessionID string, ticks int) (emit, alive bool) {
	opCtx, cancel := db.WithTimeout(ctx, h.engine.cfg.OpTimeout)
	defer cancel()

	view, err := h.engine.mirror.Get(opCtx, sessionID)
	if err == nil && view.Status.IsTerminal() {
		return false, false
	}
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Mirror read failed during tick")
	}

	needDurable := ticks == 1 || err != nil || (h.recheck > 0 && ticks%h.recheck == 0)
	if !needDurable {
		return true, true
	}

	session, err := h.engine.store.GetSession(opCtx, sessionID)
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		return false, false
	case err != nil:
		if ctx.Err() != nil {
			return false, false
		}
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Durable status check failed during tick")
		return false, true
	}

	active := session.Status == model.StatusActive
	return active, active
}
