package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hazard-wager/internal/model"
)

// Accounts is the player-facing account surface. Implemented by
// *service.AccountService.
type Accounts interface {
	AccountEnsurer
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	Withdraw(ctx context.Context, userID, amount int64) (*model.User, error)
	History(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error)
}

// AmountRequest is the body of the withdraw and admin deposit routes.
type AmountRequest struct {
	Amount int64 `json:"amount"`
}

// AccountResponse describes a player's balance.
type AccountResponse struct {
	UserID    int64     `json:"user_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntryResponse is one row of the ledger history.
type LedgerEntryResponse struct {
	ID          int64     `json:"id"`
	SessionID   *string   `json:"session_id,omitempty"`
	Kind        string    `json:"kind"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func accountResponse(u *model.User) AccountResponse {
	return AccountResponse{UserID: u.ID, Balance: u.Balance, CreatedAt: u.CreatedAt}
}

// AccountHandler serves the account routes.
type AccountHandler struct {
	accounts Accounts
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts Accounts) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Get returns the caller's balance.
func (h *AccountHandler) Get(c *gin.Context) {
	user, err := h.accounts.GetUser(c.Request.Context(), c.GetInt64(ctxUserID))
	if err != nil {
		respondAccountError(c, err)
		return
	}
	c.JSON(http.StatusOK, accountResponse(user))
}

// Ledger returns the caller's most recent ledger entries, newest first.
func (h *AccountHandler) Ledger(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be an integer"})
			return
		}
		limit = n
	}

	entries, err := h.accounts.History(c.Request.Context(), c.GetInt64(ctxUserID), limit)
	if err != nil {
		respondAccountError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": ledgerResponse(entries)})
}

// Withdraw debits the caller's account.
func (h *AccountHandler) Withdraw(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	user, err := h.accounts.Withdraw(c.Request.Context(), c.GetInt64(ctxUserID), req.Amount)
	if err != nil {
		respondAccountError(c, err)
		return
	}
	c.JSON(http.StatusOK, accountResponse(user))
}

func ledgerResponse(entries []*model.LedgerEntry) []LedgerEntryResponse {
	out := make([]LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerEntryResponse{
			ID:          e.ID,
			SessionID:   e.SessionID,
			Kind:        string(e.Kind),
			Amount:      e.Amount,
			Status:      e.Status,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		})
	}
	return out
}
