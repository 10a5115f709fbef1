// Package handler exposes the wager engine and accounts over HTTP with gin,
// and relays tick streams over WebSocket.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"hazard-wager/internal/engine"
)

// WagerEngine is the session lifecycle. Implemented by *engine.Engine.
type WagerEngine interface {
	Start(ctx context.Context, userID, stake int64) (*engine.Commitment, error)
	CashOut(ctx context.Context, userID int64, sessionID string, claimedSecond int) (*engine.CashoutResult, error)
	ActiveSessions(ctx context.Context, userID int64) ([]string, error)
	Verify(ctx context.Context, sessionID string) (*engine.Verification, error)
}

// TickSource streams tick events. Implemented by *engine.TickHub.
type TickSource interface {
	Subscribe(ctx context.Context, userID int64, sessionID string) (<-chan engine.TickEvent, func(), error)
}

// StartRequest is the body of POST /api/wagers.
type StartRequest struct {
	Stake int64 `json:"stake"`
}

// CashoutRequest is the body of POST /api/wagers/:id/cashout.
type CashoutRequest struct {
	Second int `json:"second"`
}

const tickWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WagerHandler serves the wager routes.
type WagerHandler struct {
	engine WagerEngine
	ticks  TickSource
}

// NewWagerHandler creates a new WagerHandler.
func NewWagerHandler(engine WagerEngine, ticks TickSource) *WagerHandler {
	return &WagerHandler{engine: engine, ticks: ticks}
}

// Start opens a session and returns its commitment.
func (h *WagerHandler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	commitment, err := h.engine.Start(c.Request.Context(), c.GetInt64(ctxUserID), req.Stake)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, commitment)
}

// CashOut settles the session at the claimed second.
func (h *WagerHandler) CashOut(c *gin.Context) {
	var req CashoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	result, err := h.engine.CashOut(c.Request.Context(), c.GetInt64(ctxUserID), c.Param("id"), req.Second)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Active lists the caller's live session ids.
func (h *WagerHandler) Active(c *gin.Context) {
	ids, err := h.engine.ActiveSessions(c.Request.Context(), c.GetInt64(ctxUserID))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	c.JSON(http.StatusOK, gin.H{"session_ids": ids})
}

// Verify returns the fairness data of a session.
func (h *WagerHandler) Verify(c *gin.Context) {
	v, err := h.engine.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, v)
}

// Ticks upgrades to a WebSocket and relays the session's tick events until
// the stream ends or the client goes away.
func (h *WagerHandler) Ticks(c *gin.Context) {
	userID := c.GetInt64(ctxUserID)
	sessionID := c.Param("id")

	events, unsubscribe, err := h.ticks.Subscribe(c.Request.Context(), userID, sessionID)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(tickWriteWait))
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Debug().Err(err).Str("session_id", sessionID).Msg("WebSocket write failed")
				}
				return
			}
		}
	}
}
