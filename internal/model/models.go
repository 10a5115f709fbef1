// Package model defines the data models for the hazard wager engine.
package model

import "time"

// User represents a player account. Balance is held in integer minor units.
type User struct {
	ID        int64     `db:"id"`
	Balance   int64     `db:"balance"`
	Nonce     int64     `db:"nonce"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SessionStatus is the lifecycle state of a wager session.
type SessionStatus string

// Session statuses. Every status except StatusActive is terminal.
const (
	StatusActive        SessionStatus = "ACTIVE"
	StatusCompletedWin  SessionStatus = "COMPLETED_WIN"
	StatusCompletedLoss SessionStatus = "COMPLETED_LOSS"
	StatusAbandonedWin  SessionStatus = "ABANDONED_WIN"
	StatusAbandonedLoss SessionStatus = "ABANDONED_LOSS"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s SessionStatus) IsTerminal() bool {
	return s != StatusActive
}

// IsWin reports whether s is one of the winning terminal statuses.
func (s SessionStatus) IsWin() bool {
	return s == StatusCompletedWin || s == StatusAbandonedWin
}

// SettledStatus picks the terminal status for a resolution.
func SettledStatus(win, abandoned bool) SessionStatus {
	switch {
	case win && abandoned:
		return StatusAbandonedWin
	case win:
		return StatusCompletedWin
	case abandoned:
		return StatusAbandonedLoss
	default:
		return StatusCompletedLoss
	}
}

// NoHazard marks a session whose hash chain never tripped within the horizon.
const NoHazard = 0

// WagerSession is a single staked game. ServerSeed stays secret while the
// session is ACTIVE; HazardSecond is fixed at creation. HazardSchedule is the
// encoded band table the hazard was derived from, so the game can be
// replayed after the configured schedule changes.
type WagerSession struct {
	ID             string        `db:"id"`
	UserID         int64         `db:"user_id"`
	Stake          int64         `db:"stake"`
	ServerSeed     string        `db:"server_seed"`
	CommitmentHash string        `db:"commitment_hash"`
	ClientSeed     string        `db:"client_seed"`
	Nonce          int64         `db:"nonce"`
	HazardSecond   int           `db:"hazard_second"`
	HazardSchedule string        `db:"hazard_schedule"`
	Status         SessionStatus `db:"status"`
	Duration       int           `db:"duration"`
	Payout         int64         `db:"payout"`
	CreatedAt      time.Time     `db:"created_at"`
	CompletedAt    *time.Time    `db:"completed_at"`
}

// Settlement is the write command that moves a session out of ACTIVE.
type Settlement struct {
	SessionID   string
	Status      SessionStatus
	Duration    int
	Payout      int64
	CompletedAt time.Time
}

// EntryKind categorizes ledger entries.
type EntryKind string

// Ledger entry kinds.
const (
	EntryStake      EntryKind = "STAKE"      // stake debited at session start
	EntryPayout     EntryKind = "PAYOUT"     // winnings credited at resolution
	EntryDeposit    EntryKind = "DEPOSIT"    // funds added to the account
	EntryWithdrawal EntryKind = "WITHDRAWAL" // funds removed from the account
)

// EntryStatusCompleted is the status of every entry written by this service.
const EntryStatusCompleted = "COMPLETED"

// LedgerEntry is an immutable record of a balance change. Amount is signed.
type LedgerEntry struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	SessionID   *string   `db:"session_id"`
	Kind        EntryKind `db:"kind"`
	Amount      int64     `db:"amount"`
	Status      string    `db:"status"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// SessionView is the ephemeral mirror of the fields the tick loop reads.
type SessionView struct {
	SessionID    string
	UserID       int64
	Stake        int64
	StartedAt    time.Time
	HazardSecond int
	Status       SessionStatus
}

// ViewOf builds the mirror view of a durable session.
func ViewOf(s *WagerSession) *SessionView {
	return &SessionView{
		SessionID:    s.ID,
		UserID:       s.UserID,
		Stake:        s.Stake,
		StartedAt:    s.CreatedAt,
		HazardSecond: s.HazardSecond,
		Status:       s.Status,
	}
}
