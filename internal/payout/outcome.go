package payout

import (
	"github.com/shopspring/decimal"

	"hazard-wager/internal/model"
)

// Outcome is the result of applying the cashout rule at one second.
type Outcome struct {
	Win        bool
	Second     int
	Multiplier decimal.Decimal
	Payout     int64
}

// Resolve applies the outcome rule: the player wins when there is no hazard
// or the claimed second is strictly before it, and is paid
// floor(stake * Multiplier(claimed)). Otherwise the payout is zero.
func (c *Curve) Resolve(stake int64, hazardSecond, claimedSecond int) Outcome {
	out := Outcome{
		Second:     claimedSecond,
		Multiplier: c.Multiplier(claimedSecond),
	}
	if hazardSecond == model.NoHazard || claimedSecond < hazardSecond {
		out.Win = true
		out.Payout = c.Payout(stake, claimedSecond)
	}
	return out
}

// Row is one line of the published payout table.
type Row struct {
	Second     int
	Hazard     decimal.Decimal
	Survival   decimal.Decimal
	Multiplier decimal.Decimal
}

// Table returns the per-second schedule for seconds 1..MaxDuration.
func (c *Curve) Table() []Row {
	rows := make([]Row, 0, c.maxDuration)
	for s := 1; s <= c.maxDuration; s++ {
		rows = append(rows, Row{
			Second:     s,
			Hazard:     c.HazardProbability(s),
			Survival:   c.SurvivalProbability(s),
			Multiplier: c.Multiplier(s),
		})
	}
	return rows
}
