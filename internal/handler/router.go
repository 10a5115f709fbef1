package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// AccountService is the full account surface the router needs.
type AccountService interface {
	Accounts
	AdminAccounts
}

// Deps are the collaborators the router wires into its handlers. Limiter,
// IsAdmin and the health checkers are optional; without IsAdmin the admin
// routes refuse every caller.
type Deps struct {
	Engine   WagerEngine
	Ticks    TickSource
	Accounts AccountService
	Tokens   TokenParser
	Limiter  Limiter
	IsAdmin  func(userID int64) bool
	Health   map[string]HealthChecker
}

const healthTimeout = 2 * time.Second

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(RecoveryMiddleware(), LoggingMiddleware())

	r.GET("/healthz", healthHandler(deps.Health))

	wagers := NewWagerHandler(deps.Engine, deps.Ticks)
	accounts := NewAccountHandler(deps.Accounts)
	admin := NewAdminHandler(deps.Accounts)

	api := r.Group("/api")
	api.Use(AuthMiddleware(deps.Tokens), EnsureAccountMiddleware(deps.Accounts))
	{
		limited := func(action string, h gin.HandlerFunc) []gin.HandlerFunc {
			if deps.Limiter == nil {
				return []gin.HandlerFunc{h}
			}
			return []gin.HandlerFunc{RateLimitMiddleware(deps.Limiter, action), h}
		}

		api.POST("/wagers", limited("start", wagers.Start)...)
		api.POST("/wagers/:id/cashout", limited("cashout", wagers.CashOut)...)
		api.GET("/wagers/active", wagers.Active)
		api.GET("/wagers/:id/verify", wagers.Verify)
		api.GET("/wagers/:id/ticks", wagers.Ticks)

		api.GET("/account", accounts.Get)
		api.GET("/account/ledger", accounts.Ledger)
		api.POST("/account/withdraw", limited("withdraw", accounts.Withdraw)...)

		ops := api.Group("/admin", AdminMiddleware(deps.IsAdmin))
		ops.POST("/accounts/:id/deposit", admin.Deposit)
		ops.GET("/accounts/:id/balance", admin.Balance)
		ops.GET("/sessions/:id/ledger", admin.SessionLedger)
	}

	return r
}

func healthHandler(checks map[string]HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		report := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check.HealthCheck(c.Request.Context(), healthTimeout); err != nil {
				log.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
				report[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": report})
	}
}
