package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"hazard-wager/internal/model"
)

// AdminAccounts is the operator surface over accounts. Implemented by
// *service.AccountService.
type AdminAccounts interface {
	Deposit(ctx context.Context, userID, amount int64) (*model.User, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	SessionLedger(ctx context.Context, sessionID string) ([]*model.LedgerEntry, error)
}

// AdminHandler serves the operator-only routes. Players cannot credit their
// own balance; every deposit goes through here.
type AdminHandler struct {
	accounts AdminAccounts
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(accounts AdminAccounts) *AdminHandler {
	return &AdminHandler{accounts: accounts}
}

// Deposit credits the account named in the path.
func (h *AdminHandler) Deposit(c *gin.Context) {
	targetID, ok := targetUser(c)
	if !ok {
		return
	}

	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	user, err := h.accounts.Deposit(c.Request.Context(), targetID, req.Amount)
	if err != nil {
		respondAccountError(c, err)
		return
	}

	log.Info().
		Int64("admin_id", c.GetInt64(ctxUserID)).
		Int64("user_id", targetID).
		Int64("amount", req.Amount).
		Msg("Admin deposit applied")

	c.JSON(http.StatusOK, accountResponse(user))
}

// Balance returns the balance of the account named in the path.
func (h *AdminHandler) Balance(c *gin.Context) {
	targetID, ok := targetUser(c)
	if !ok {
		return
	}

	balance, err := h.accounts.GetBalance(c.Request.Context(), targetID)
	if err != nil {
		respondAccountError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": targetID, "balance": balance})
}

// SessionLedger returns the ledger entries of one wager session.
func (h *AdminHandler) SessionLedger(c *gin.Context) {
	entries, err := h.accounts.SessionLedger(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondAccountError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": ledgerResponse(entries)})
}

func targetUser(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "user id must be a positive integer"})
		return 0, false
	}
	return id, true
}
