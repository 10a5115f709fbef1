package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"hazard-wager/internal/model"
	"hazard-wager/internal/pkg/cache"
	"hazard-wager/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeStore mirrors the transactional guarantees of repository.Store with a
// single mutex.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]*model.User
	sessions map[string]*model.WagerSession
	ledger   []model.LedgerEntry

	errGet    error
	errActive error
	errStale  error
	errSettle map[string]error
	panicOn   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[int64]*model.User),
		sessions:  make(map[string]*model.WagerSession),
		errSettle: make(map[string]error),
	}
}

func (f *fakeStore) addUser(id, balance int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &model.User{ID: id, Balance: balance}
}

func (f *fakeStore) balance(id int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id].Balance
}

func (f *fakeStore) put(s *model.WagerSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
}

func (f *fakeStore) setStatus(id string, status model.SessionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id].Status = status
}

func (f *fakeStore) entries(sessionID string, kind model.EntryKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.ledger {
		if e.SessionID != nil && *e.SessionID == sessionID && e.Kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeStore) OpenSession(_ context.Context, userID, stake int64, build repository.BuildSession) (*model.WagerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	for _, s := range f.sessions {
		if s.UserID == userID && s.Status == model.StatusActive {
			return nil, repository.ErrActiveSessionExists
		}
	}
	if user.Balance < stake {
		return nil, repository.ErrInsufficientBalance
	}

	nonce := user.Nonce + 1
	s, err := build(nonce)
	if err != nil {
		return nil, err
	}

	user.Balance -= stake
	user.Nonce = nonce
	cp := *s
	f.sessions[s.ID] = &cp

	id := s.ID
	f.ledger = append(f.ledger, model.LedgerEntry{UserID: userID, SessionID: &id, Kind: model.EntryStake, Amount: -stake})
	return s, nil
}

func (f *fakeStore) SettleSession(_ context.Context, st model.Settlement) (*model.WagerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errSettle[st.SessionID]; err != nil {
		return nil, err
	}

	s, ok := f.sessions[st.SessionID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	if s.Status != model.StatusActive {
		return nil, repository.ErrSessionSettled
	}

	s.Status = st.Status
	s.Duration = st.Duration
	s.Payout = st.Payout
	completed := st.CompletedAt
	s.CompletedAt = &completed

	if st.Payout > 0 {
		f.users[s.UserID].Balance += st.Payout
		id := s.ID
		f.ledger = append(f.ledger, model.LedgerEntry{UserID: s.UserID, SessionID: &id, Kind: model.EntryPayout, Amount: st.Payout})
	}

	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*model.WagerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.errGet != nil {
		return nil, f.errGet
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) ActiveSessionIDs(_ context.Context, userID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.errActive != nil {
		return nil, f.errActive
	}
	var ids []string
	for _, s := range f.sessions {
		if s.UserID == userID && s.Status == model.StatusActive {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) StaleSessions(_ context.Context, before time.Time, limit int) ([]*model.WagerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.panicOn == "stale" {
		panic("stale sessions exploded")
	}
	if f.errStale != nil {
		return nil, f.errStale
	}

	var out []*model.WagerSession
	for _, s := range f.sessions {
		if s.Status == model.StatusActive && s.CreatedAt.Before(before) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeMirror struct {
	mu      sync.Mutex
	views   map[string]model.SessionView
	active  map[int64]map[string]struct{}
	err     error
	deletes int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		views:  make(map[string]model.SessionView),
		active: make(map[int64]map[string]struct{}),
	}
}

var errMirrorDown = errors.New("mirror down")

func (m *fakeMirror) Put(_ context.Context, v *model.SessionView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.views[v.SessionID] = *v
	if m.active[v.UserID] == nil {
		m.active[v.UserID] = make(map[string]struct{})
	}
	m.active[v.UserID][v.SessionID] = struct{}{}
	return nil
}

func (m *fakeMirror) Get(_ context.Context, id string) (*model.SessionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.views[id]
	if !ok {
		return nil, cache.ErrMiss
	}
	return &v, nil
}

func (m *fakeMirror) Delete(_ context.Context, id string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.deletes++
	delete(m.views, id)
	delete(m.active[userID], id)
	return nil
}

func (m *fakeMirror) ActiveSessionIDs(_ context.Context, userID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	var ids []string
	for id := range m.active[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *fakeMirror) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.views[id]
	return ok
}

func (m *fakeMirror) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
