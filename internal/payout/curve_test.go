package payout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"hazard-wager/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDefaultCurve_HazardProbability(t *testing.T) {
	c := DefaultCurve()

	tests := []struct {
		second   int
		expected string
	}{
		{0, "0"},
		{1, "0.01"},
		{5, "0.01"},
		{6, "0.03"},
		{10, "0.03"},
		{11, "0.05"},
		{15, "0.05"},
		{16, "0.07"},
		{20, "0.07"},
		{21, "0.10"},
		{30, "0.10"},
		{31, "0.10"},
	}

	for _, tt := range tests {
		got := c.HazardProbability(tt.second)
		assert.True(t, dec(tt.expected).Equal(got), "second %d: expected %s, got %s", tt.second, tt.expected, got)
	}
}

func TestDefaultCurve_Multiplier(t *testing.T) {
	c := DefaultCurve()

	tests := []struct {
		second   int
		expected string
	}{
		{1, "0.93"},  // 0.92 / 0.99
		{5, "0.97"},  // 0.92 / 0.99^5
		{10, "1.13"}, // 0.92 / (0.99^5 * 0.97^5)
	}

	for _, tt := range tests {
		got := c.Multiplier(tt.second)
		assert.True(t, dec(tt.expected).Equal(got), "second %d: expected %s, got %s", tt.second, tt.expected, got)
	}

	assert.Equal(t, 30, c.MaxDuration())
	assert.True(t, dec("0.08").Equal(c.HouseEdge()))
}

// A flat 5% first band reproduces the published example: 0.95^5 = 0.7737809375,
// 0.92 / 0.7738 rounds to 1.19 and a 1000 stake pays 1190.
func TestCurve_WorkedExample(t *testing.T) {
	bands := DefaultBands()
	bands[0].Probability = dec("0.05")
	c, err := NewCurve(bands, dec("0.08"), 30)
	require.NoError(t, err)

	assert.True(t, dec("0.7737809375").Equal(c.SurvivalProbability(5)))
	assert.True(t, dec("1.19").Equal(c.Multiplier(5)))
	assert.Equal(t, int64(1190), c.Payout(1000, 5))

	out := c.Resolve(1000, 12, 5)
	assert.True(t, out.Win)
	assert.Equal(t, int64(1190), out.Payout)
}

func TestCurve_Resolve(t *testing.T) {
	c := DefaultCurve()

	tests := []struct {
		name    string
		hazard  int
		claimed int
		win     bool
		payout  int64
	}{
		{"before hazard wins", 10, 9, true, c.Payout(1000, 9)},
		{"at hazard loses", 10, 10, false, 0},
		{"after hazard loses", 10, 20, false, 0},
		{"no hazard wins at horizon", model.NoHazard, 30, true, c.Payout(1000, 30)},
		{"hazard at first second", 1, 1, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := c.Resolve(1000, tt.hazard, tt.claimed)
			assert.Equal(t, tt.win, out.Win)
			assert.Equal(t, tt.payout, out.Payout)
			assert.Equal(t, tt.claimed, out.Second)
		})
	}
}

func TestNewCurve_Validation(t *testing.T) {
	tests := []struct {
		name    string
		bands   []Band
		edge    string
		max     int
		wantErr error
	}{
		{"no bands", nil, "0.08", 30, ErrNoBands},
		{"zero horizon", DefaultBands(), "0.08", 0, ErrInvalidHorizon},
		{"edge of one", DefaultBands(), "1", 30, ErrInvalidHouseEdge},
		{"negative edge", DefaultBands(), "-0.01", 30, ErrInvalidHouseEdge},
		{"unordered bands", []Band{{UpTo: 5, Probability: dec("0.01")}, {UpTo: 5, Probability: dec("0.02")}}, "0.08", 30, ErrBandOrder},
		{"certain hazard", []Band{{UpTo: 5, Probability: dec("1")}}, "0.08", 30, ErrBandProbability},
		{"decreasing risk", []Band{{UpTo: 5, Probability: dec("0.05")}, {UpTo: 10, Probability: dec("0.01")}}, "0.08", 30, ErrBandMonotonic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCurve(tt.bands, dec(tt.edge), tt.max)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCurve_Table(t *testing.T) {
	c := DefaultCurve()
	rows := c.Table()
	require.Len(t, rows, 30)
	assert.Equal(t, 1, rows[0].Second)
	assert.Equal(t, 30, rows[29].Second)
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i].Survival.LessThan(rows[i-1].Survival))
		assert.True(t, rows[i].Multiplier.GreaterThanOrEqual(rows[i-1].Multiplier))
	}
}

// genCurve draws an arbitrary valid schedule.
func genCurve(t *rapid.T) *Curve {
	numBands := rapid.IntRange(1, 6).Draw(t, "numBands")
	bands := make([]Band, numBands)
	upTo := 0
	bp := int64(0)
	for i := range bands {
		upTo += rapid.IntRange(1, 10).Draw(t, "width")
		bp = rapid.Int64Range(bp, 3000).Draw(t, "basisPoints")
		bands[i] = Band{UpTo: upTo, Probability: decimal.New(bp, -4)}
	}
	edge := decimal.New(rapid.Int64Range(0, 2000).Draw(t, "edgeBasisPoints"), -4)
	maxDuration := rapid.IntRange(1, 60).Draw(t, "maxDuration")

	c, err := NewCurve(bands, edge, maxDuration)
	if err != nil {
		t.Fatalf("generated schedule rejected: %v", err)
	}
	return c
}

// TestMultiplierPreservesHouseEdgeProperty checks that the expected return of
// a cashout at any second is (1 - edge) up to the 2-decimal rounding.
func TestMultiplierPreservesHouseEdgeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := genCurve(t)
		retained := one.Sub(c.HouseEdge())
		epsilon := dec("0.005")

		for s := 1; s <= c.MaxDuration(); s++ {
			survival := c.SurvivalProbability(s)
			product := c.Multiplier(s).Mul(survival)
			diff := product.Sub(retained).Abs()
			bound := epsilon.Mul(survival).Add(dec("0.000000000001"))
			if diff.GreaterThan(bound) {
				t.Fatalf("second %d: multiplier %s * survival %s = %s, want %s +/- %s",
					s, c.Multiplier(s), survival, product, retained, bound)
			}
		}
	})
}

// TestPayoutIsFloorProperty checks Payout = floor(stake * multiplier).
func TestPayoutIsFloorProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := genCurve(t)
		stake := rapid.Int64Range(1, 10_000_000).Draw(t, "stake")
		second := rapid.IntRange(1, c.MaxDuration()).Draw(t, "second")

		exact := decimal.NewFromInt(stake).Mul(c.Multiplier(second))
		got := decimal.NewFromInt(c.Payout(stake, second))

		if got.GreaterThan(exact) || exact.Sub(got).GreaterThanOrEqual(one) {
			t.Fatalf("payout %s is not floor(%s)", got, exact)
		}
	})
}

// TestResolveRuleProperty checks the WIN/LOSS rule for any hazard and claim.
func TestResolveRuleProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := genCurve(t)
		stake := rapid.Int64Range(1, 1_000_000).Draw(t, "stake")
		hazard := rapid.IntRange(0, c.MaxDuration()).Draw(t, "hazard")
		claimed := rapid.IntRange(1, c.MaxDuration()).Draw(t, "claimed")

		out := c.Resolve(stake, hazard, claimed)

		wantWin := hazard == model.NoHazard || claimed < hazard
		if out.Win != wantWin {
			t.Fatalf("hazard=%d claimed=%d: win=%v, want %v", hazard, claimed, out.Win, wantWin)
		}
		if wantWin && out.Payout != c.Payout(stake, claimed) {
			t.Fatalf("win payout %d, want %d", out.Payout, c.Payout(stake, claimed))
		}
		if !wantWin && out.Payout != 0 {
			t.Fatalf("loss paid %d", out.Payout)
		}
	})
}

func TestCurve_Schedule(t *testing.T) {
	assert.Equal(t, "5:0.01,10:0.03,15:0.05,20:0.07,30:0.1/30", DefaultCurve().Schedule())
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, s := range []string{"", "5:0.01", "/30", "5:0.01/x", "5-0.01/30", "x:0.01/30", "5:abc/30"} {
		t.Run(s, func(t *testing.T) {
			_, err := ParseSchedule(s)
			assert.ErrorIs(t, err, ErrInvalidSchedule)
		})
	}

	_, err := ParseSchedule("10:0.05,5:0.01/30")
	assert.ErrorIs(t, err, ErrBandOrder)
}

// TestScheduleRoundTripProperty checks that a parsed schedule reproduces the
// hazard table the derivation reads.
func TestScheduleRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := genCurve(t)

		parsed, err := ParseSchedule(c.Schedule())
		if err != nil {
			t.Fatalf("schedule %q rejected: %v", c.Schedule(), err)
		}
		if parsed.MaxDuration() != c.MaxDuration() {
			t.Fatalf("horizon %d, want %d", parsed.MaxDuration(), c.MaxDuration())
		}
		for s := 0; s <= c.MaxDuration()+1; s++ {
			if !parsed.HazardProbability(s).Equal(c.HazardProbability(s)) {
				t.Fatalf("second %d: %s, want %s", s, parsed.HazardProbability(s), c.HazardProbability(s))
			}
		}
	})
}
