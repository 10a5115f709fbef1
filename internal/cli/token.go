package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"hazard-wager/internal/auth"
)

// TokenResult is a freshly issued API token.
type TokenResult struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
}

func (r *TokenResult) String() string {
	return r.Token
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API token for a player",
		Long: `Sign a bearer token for the given player id with the configured
secret, issuer and lifetime.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(rootOpts, args[0], cmd)
		},
	}
}

func runToken(opts *RootOptions, rawID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || userID <= 0 {
		return NewExitError(ExitCommandError, "user id must be a positive integer")
	}

	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot issue token", err)
	}

	token, err := tokens.Issue(userID)
	if err != nil {
		return WrapExitError(ExitFailure, "cannot issue token", err)
	}
	formatter.VerboseLog("Issued token valid for %s", cfg.Auth.TokenTTL)

	return formatter.Success(&TokenResult{UserID: userID, Token: token})
}
