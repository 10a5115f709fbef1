package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hazard-wager/internal/payout"
)

// CurveRow is one second of the published schedule.
type CurveRow struct {
	Second     int    `json:"second"`
	Hazard     string `json:"hazard"`
	Survival   string `json:"survival"`
	Multiplier string `json:"multiplier"`
}

// CurveResult is the full payout table.
type CurveResult struct {
	HouseEdge   string     `json:"house_edge"`
	MaxDuration int        `json:"max_duration"`
	Rows        []CurveRow `json:"rows"`
}

// NewCurveCommand creates the curve command.
func NewCurveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "curve",
		Short: "Print the payout curve",
		Long: `Print the per-second hazard risk, survival probability and payout
multiplier for the configured hazard schedule and house edge.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCurve(rootOpts, cmd)
		},
	}
}

func runCurve(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	curve, err := cfg.Wager.Curve()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid hazard schedule", err)
	}
	formatter.VerboseLog("Loaded %d hazard bands", len(cfg.Wager.HazardBands))

	return formatter.Success(curveResult(curve))
}

func curveResult(curve *payout.Curve) *CurveResult {
	table := curve.Table()
	res := &CurveResult{
		HouseEdge:   curve.HouseEdge().String(),
		MaxDuration: curve.MaxDuration(),
		Rows:        make([]CurveRow, 0, len(table)),
	}
	for _, r := range table {
		res.Rows = append(res.Rows, CurveRow{
			Second:     r.Second,
			Hazard:     r.Hazard.StringFixed(2),
			Survival:   r.Survival.StringFixed(6),
			Multiplier: r.Multiplier.StringFixed(2),
		})
	}
	return res
}

// RenderText writes the table with one row per second.
func (r *CurveResult) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "house edge %s, horizon %ds\n", r.HouseEdge, r.MaxDuration); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%-6s  %-6s  %-8s  %s\n", "SECOND", "HAZARD", "SURVIVAL", "MULTIPLIER"); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if _, err := fmt.Fprintf(w, "%-6d  %-6s  %-8s  %s\n", row.Second, row.Hazard, row.Survival, row.Multiplier); err != nil {
			return err
		}
	}
	return nil
}
