package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"hazard-wager/internal/model"
)

// Hash fields of a mirrored session.
const (
	fieldUserID    = "user_id"
	fieldStake     = "stake"
	fieldStartedAt = "started_at"
	fieldHazard    = "hazard_second"
	fieldStatus    = "status"
)

// SessionMirror keeps a short-lived copy of each ACTIVE session so the tick
// loop can run without hitting PostgreSQL every second.
type SessionMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionMirror creates a mirror whose entries expire after ttl.
func NewSessionMirror(client *redis.Client, ttl time.Duration) *SessionMirror {
	return &SessionMirror{client: client, ttl: ttl}
}

// Put writes the session hash and adds it to the owner's active set in one
// MULTI/EXEC.
func (m *SessionMirror) Put(ctx context.Context, v *model.SessionView) error {
	sKey := sessionKey(v.SessionID)
	uKey := userActiveKey(v.UserID)

	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, sKey,
		fieldUserID, v.UserID,
		fieldStake, v.Stake,
		fieldStartedAt, v.StartedAt.UnixNano(),
		fieldHazard, v.HazardSecond,
		fieldStatus, string(v.Status),
	)
	pipe.Expire(ctx, sKey, m.ttl)
	pipe.SAdd(ctx, uKey, v.SessionID)
	pipe.Expire(ctx, uKey, m.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror session: %w", err)
	}
	return nil
}

// Get reads a mirrored session. Returns ErrMiss if it is not present.
func (m *SessionMirror) Get(ctx context.Context, sessionID string) (*model.SessionView, error) {
	fields, err := m.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read mirrored session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrMiss
	}

	v := &model.SessionView{
		SessionID: sessionID,
		Status:    model.SessionStatus(fields[fieldStatus]),
	}

	if v.UserID, err = strconv.ParseInt(fields[fieldUserID], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt mirrored %s: %w", fieldUserID, err)
	}
	if v.Stake, err = strconv.ParseInt(fields[fieldStake], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt mirrored %s: %w", fieldStake, err)
	}
	started, err := strconv.ParseInt(fields[fieldStartedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt mirrored %s: %w", fieldStartedAt, err)
	}
	v.StartedAt = time.Unix(0, started).UTC()
	if v.HazardSecond, err = strconv.Atoi(fields[fieldHazard]); err != nil {
		return nil, fmt.Errorf("corrupt mirrored %s: %w", fieldHazard, err)
	}

	return v, nil
}

// Delete removes the session hash and its membership in the owner's set.
func (m *SessionMirror) Delete(ctx context.Context, sessionID string, userID int64) error {
	pipe := m.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.SRem(ctx, userActiveKey(userID), sessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete mirrored session: %w", err)
	}
	return nil
}

// ActiveSessionIDs lists the session ids in the owner's active set.
func (m *SessionMirror) ActiveSessionIDs(ctx context.Context, userID int64) ([]string, error) {
	ids, err := m.client.SMembers(ctx, userActiveKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list mirrored sessions: %w", err)
	}
	return ids, nil
}

// HealthCheck pings Redis within the given timeout.
func (m *SessionMirror) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return m.client.Ping(ctx).Err()
}
