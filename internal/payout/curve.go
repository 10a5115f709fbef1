// Package payout implements the house-edge-preserving payout curve.
// Every caller that previews, settles or reaps a session goes through Curve.
package payout

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxDuration is the game horizon in seconds.
	DefaultMaxDuration = 30
)

// Errors returned by NewCurve.
var (
	ErrNoBands          = errors.New("hazard schedule needs at least one band")
	ErrBandOrder        = errors.New("hazard band boundaries must be strictly increasing")
	ErrBandProbability  = errors.New("hazard probability must be in [0, 1)")
	ErrBandMonotonic    = errors.New("hazard probabilities must be non-decreasing")
	ErrInvalidHouseEdge = errors.New("house edge must be in [0, 1)")
	ErrInvalidHorizon   = errors.New("max duration must be at least 1 second")
	ErrInvalidSchedule  = errors.New("malformed hazard schedule")
)

var one = decimal.NewFromInt(1)

// Band assigns Probability to every second up to and including UpTo.
// Seconds past the last band use the last band's probability.
type Band struct {
	UpTo        int
	Probability decimal.Decimal
}

// DefaultBands returns the 1%/3%/5%/7%/10% schedule.
func DefaultBands() []Band {
	return []Band{
		{UpTo: 5, Probability: decimal.RequireFromString("0.01")},
		{UpTo: 10, Probability: decimal.RequireFromString("0.03")},
		{UpTo: 15, Probability: decimal.RequireFromString("0.05")},
		{UpTo: 20, Probability: decimal.RequireFromString("0.07")},
		{UpTo: DefaultMaxDuration, Probability: decimal.RequireFromString("0.10")},
	}
}

// Curve holds a validated hazard schedule and precomputed per-second tables.
// A Curve is immutable and safe for concurrent use.
type Curve struct {
	bands       []Band
	houseEdge   decimal.Decimal
	maxDuration int

	survival    []decimal.Decimal // index = second, survival[0] = 1
	multipliers []decimal.Decimal // index = second, multipliers[0] unused
}

// NewCurve validates the schedule and precomputes survival and multipliers
// for seconds 1..maxDuration.
func NewCurve(bands []Band, houseEdge decimal.Decimal, maxDuration int) (*Curve, error) {
	if len(bands) == 0 {
		return nil, ErrNoBands
	}
	if maxDuration < 1 {
		return nil, ErrInvalidHorizon
	}
	if houseEdge.IsNegative() || houseEdge.GreaterThanOrEqual(one) {
		return nil, ErrInvalidHouseEdge
	}

	prevUpTo := 0
	prevProb := decimal.Zero
	for i, b := range bands {
		if b.UpTo <= prevUpTo {
			return nil, fmt.Errorf("band %d: %w", i, ErrBandOrder)
		}
		if b.Probability.IsNegative() || b.Probability.GreaterThanOrEqual(one) {
			return nil, fmt.Errorf("band %d: %w", i, ErrBandProbability)
		}
		if b.Probability.LessThan(prevProb) {
			return nil, fmt.Errorf("band %d: %w", i, ErrBandMonotonic)
		}
		prevUpTo, prevProb = b.UpTo, b.Probability
	}

	c := &Curve{
		bands:       append([]Band(nil), bands...),
		houseEdge:   houseEdge,
		maxDuration: maxDuration,
		survival:    make([]decimal.Decimal, maxDuration+1),
		multipliers: make([]decimal.Decimal, maxDuration+1),
	}

	retained := one.Sub(houseEdge)
	c.survival[0] = one
	for s := 1; s <= maxDuration; s++ {
		c.survival[s] = c.survival[s-1].Mul(one.Sub(c.HazardProbability(s)))
		c.multipliers[s] = retained.Div(c.survival[s]).Round(2)
	}

	return c, nil
}

// DefaultCurve returns the default schedule with an 8% house edge over 30 seconds.
func DefaultCurve() *Curve {
	c, err := NewCurve(DefaultBands(), decimal.RequireFromString("0.08"), DefaultMaxDuration)
	if err != nil {
		panic(fmt.Sprintf("payout: default curve is invalid: %v", err))
	}
	return c
}

// MaxDuration returns the horizon in seconds.
func (c *Curve) MaxDuration() int {
	return c.maxDuration
}

// HouseEdge returns the configured edge.
func (c *Curve) HouseEdge() decimal.Decimal {
	return c.houseEdge
}

// HazardProbability returns the chance the hazard fires at second, given
// it has not fired earlier. Seconds below 1 have zero risk.
func (c *Curve) HazardProbability(second int) decimal.Decimal {
	if second < 1 {
		return decimal.Zero
	}
	for _, b := range c.bands {
		if second <= b.UpTo {
			return b.Probability
		}
	}
	return c.bands[len(c.bands)-1].Probability
}

// SurvivalProbability is the product of (1 - p_i) for i in 1..second.
// Seconds are clamped to [0, MaxDuration].
func (c *Curve) SurvivalProbability(second int) decimal.Decimal {
	return c.survival[c.clamp(second, 0)]
}

// Multiplier returns round2((1 - houseEdge) / SurvivalProbability(second)).
// Seconds are clamped to [1, MaxDuration].
func (c *Curve) Multiplier(second int) decimal.Decimal {
	return c.multipliers[c.clamp(second, 1)]
}

// Payout returns floor(stake * Multiplier(second)).
func (c *Curve) Payout(stake int64, second int) int64 {
	return decimal.NewFromInt(stake).Mul(c.Multiplier(second)).Floor().IntPart()
}

func (c *Curve) clamp(second, lo int) int {
	if second < lo {
		return lo
	}
	if second > c.maxDuration {
		return c.maxDuration
	}
	return second
}

// Schedule encodes the band table and horizon as "upTo:p,upTo:p/max", for
// example "5:0.01,10:0.03/30". The house edge is not part of it: the hazard
// derivation never reads it.
func (c *Curve) Schedule() string {
	parts := make([]string, 0, len(c.bands))
	for _, b := range c.bands {
		parts = append(parts, strconv.Itoa(b.UpTo)+":"+b.Probability.String())
	}
	return strings.Join(parts, ",") + "/" + strconv.Itoa(c.maxDuration)
}

// ParseSchedule rebuilds a zero-edge curve from Schedule output. It is enough
// to replay a hazard derivation but not to price a payout.
func ParseSchedule(s string) (*Curve, error) {
	bandsPart, maxPart, ok := strings.Cut(s, "/")
	if !ok || bandsPart == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
	}
	maxDuration, err := strconv.Atoi(maxPart)
	if err != nil {
		return nil, fmt.Errorf("%w: horizon %q", ErrInvalidSchedule, maxPart)
	}

	var bands []Band
	for _, field := range strings.Split(bandsPart, ",") {
		upTo, prob, ok := strings.Cut(field, ":")
		if !ok {
			return nil, fmt.Errorf("%w: band %q", ErrInvalidSchedule, field)
		}
		n, err := strconv.Atoi(upTo)
		if err != nil {
			return nil, fmt.Errorf("%w: band %q", ErrInvalidSchedule, field)
		}
		p, err := decimal.NewFromString(prob)
		if err != nil {
			return nil, fmt.Errorf("%w: band %q", ErrInvalidSchedule, field)
		}
		bands = append(bands, Band{UpTo: n, Probability: p})
	}

	return NewCurve(bands, decimal.Zero, maxDuration)
}
