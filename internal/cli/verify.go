package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hazard-wager/internal/fairness"
	"hazard-wager/internal/payout"
)

// VerifyOptions are the published values of a finished game.
type VerifyOptions struct {
	ServerSeed   string
	ClientSeed   string
	Nonce        int64
	Commitment   string
	HazardSecond int
	Schedule     string
}

// VerifyResult reports what an independent replay found.
type VerifyResult struct {
	CommitmentHash    string `json:"commitment_hash"`
	CommitmentMatches *bool  `json:"commitment_matches,omitempty"`
	HazardSecond      int    `json:"hazard_second"`
	RecordedMatches   *bool  `json:"recorded_matches,omitempty"`
	Valid             bool   `json:"valid"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay a finished game from its revealed seeds",
		Long: `Recompute the commitment hash and the hazard second from the revealed
server seed, the client seed and the nonce. When --commitment or --hazard
are given the replay is checked against them and a mismatch exits 1.
A hazard second of 0 means the hazard never fired within the horizon.

Pass the hazard schedule recorded with the game via --schedule to replay
it against that table. Without it the configured curve is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ServerSeed, "server-seed", "", "revealed server seed (required)")
	cmd.Flags().StringVar(&opts.ClientSeed, "client-seed", "", "client seed (required)")
	cmd.Flags().Int64Var(&opts.Nonce, "nonce", 0, "game nonce")
	cmd.Flags().StringVar(&opts.Commitment, "commitment", "", "commitment hash published at start")
	cmd.Flags().IntVar(&opts.HazardSecond, "hazard", -1, "recorded hazard second")
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "hazard schedule recorded with the game")
	_ = cmd.MarkFlagRequired("server-seed")
	_ = cmd.MarkFlagRequired("client-seed")

	return cmd
}

func runVerify(rootOpts *RootOptions, opts *VerifyOptions, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)

	curve, err := verifyCurve(rootOpts, opts)
	if err != nil {
		return err
	}

	derived, err := fairness.DeriveHazardSecond(curve, opts.ServerSeed, opts.ClientSeed, opts.Nonce)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot replay game", err)
	}

	res := &VerifyResult{
		CommitmentHash: fairness.CommitmentHash(opts.ServerSeed),
		HazardSecond:   derived,
		Valid:          true,
	}
	if opts.Commitment != "" {
		ok := res.CommitmentHash == opts.Commitment
		res.CommitmentMatches = &ok
		res.Valid = res.Valid && ok
	}
	if opts.HazardSecond >= 0 {
		ok := derived == opts.HazardSecond
		res.RecordedMatches = &ok
		res.Valid = res.Valid && ok
	}
	formatter.VerboseLog("Replayed %d-second horizon", curve.MaxDuration())

	if !res.Valid {
		return formatter.Failure(ExitFailure, "game did not verify", res)
	}
	return formatter.Success(res)
}

// verifyCurve picks the recorded schedule when one is given, otherwise the
// configured curve.
func verifyCurve(rootOpts *RootOptions, opts *VerifyOptions) (*payout.Curve, error) {
	if opts.Schedule != "" {
		curve, err := payout.ParseSchedule(opts.Schedule)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid hazard schedule", err)
		}
		return curve, nil
	}

	cfg, err := rootOpts.LoadConfig()
	if err != nil {
		return nil, err
	}
	curve, err := cfg.Wager.Curve()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid hazard schedule", err)
	}
	return curve, nil
}

// RenderText writes one labelled line per field.
func (r *VerifyResult) RenderText(w io.Writer) error {
	lines := [][2]string{
		{"commitment", r.CommitmentHash},
		{"hazard second", fmt.Sprint(r.HazardSecond)},
	}
	if r.CommitmentMatches != nil {
		lines = append(lines, [2]string{"commitment ok", fmt.Sprint(*r.CommitmentMatches)})
	}
	if r.RecordedMatches != nil {
		lines = append(lines, [2]string{"hazard ok", fmt.Sprint(*r.RecordedMatches)})
	}
	lines = append(lines, [2]string{"valid", fmt.Sprint(r.Valid)})

	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%-14s %s\n", l[0], l[1]); err != nil {
			return err
		}
	}
	return nil
}
