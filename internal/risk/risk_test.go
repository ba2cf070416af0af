package risk_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir-lob/internal/clock"
	"fenrir-lob/internal/models"
	"fenrir-lob/internal/risk"
)

func defaultLimits() risk.Limits {
	return risk.Limits{
		MaxPosition:       10,
		MaxDailyLoss:      decimal.NewFromInt(1000),
		MaxOrderRate:      100,
		MaxOrderSize:      50,
		PriceDeviationPct: decimal.NewFromFloat(0.05),
	}
}

func newGate(limits risk.Limits) *risk.Gate {
	return risk.New(limits, clock.Fixed{At: time.Unix(1000, 0)})
}

// Scenario 6: risk rejection precedes book — position limit trips.
func TestPositionLimitRejects(t *testing.T) {
	g := newGate(defaultLimits())
	g.OnFill("c1", models.Buy, 8, decimal.NewFromInt(100))

	err := g.Validate("c1", models.Buy, 5, nil, nil)

	require.NotNil(t, err)
	assert.Equal(t, risk.PositionRisk, err.Kind)
}

func TestSizeLimitRejectsZeroAndNegative(t *testing.T) {
	g := newGate(defaultLimits())

	err := g.Validate("c1", models.Buy, 0, nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, risk.SizeLimit, err.Kind)

	errNeg := g.Validate("c1", models.Buy, -1, nil, nil)
	require.NotNil(t, errNeg)
	assert.Equal(t, risk.SizeLimit, errNeg.Kind)
}

func TestSizeLimitRejectsOversize(t *testing.T) {
	g := newGate(defaultLimits())

	err := g.Validate("c1", models.Buy, 51, nil, nil)

	require.NotNil(t, err)
	assert.Equal(t, risk.SizeLimit, err.Kind)
}

func TestPriceBoundsRejectsFarFromMid(t *testing.T) {
	g := newGate(defaultLimits())
	mid := decimal.NewFromInt(100)
	price := decimal.NewFromInt(110)

	err := g.Validate("c1", models.Buy, 1, &price, &mid)

	require.NotNil(t, err)
	assert.Equal(t, risk.PriceBounds, err.Kind)
}

func TestPriceBoundsPassesWithinDeviation(t *testing.T) {
	g := newGate(defaultLimits())
	mid := decimal.NewFromInt(100)
	price := decimal.NewFromFloat(102)

	err := g.Validate("c1", models.Buy, 1, &price, &mid)

	assert.Nil(t, err)
}

func TestBlockedStaysBlockedAfterDailyLoss(t *testing.T) {
	limits := defaultLimits()
	limits.MaxDailyLoss = decimal.NewFromInt(10)
	g := newGate(limits)

	g.OnFill("c1", models.Buy, 5, decimal.NewFromInt(100))
	g.OnFill("c1", models.Sell, 5, decimal.NewFromInt(80))

	err := g.Validate("c1", models.Buy, 1, nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, risk.DailyLoss, err.Kind)

	// Once blocked, it stays blocked even if state would otherwise pass.
	err2 := g.Validate("c1", models.Buy, 1, nil, nil)
	require.NotNil(t, err2)
	assert.Equal(t, risk.Blocked, err2.Kind)
}

func TestRateLimitExceeded(t *testing.T) {
	limits := defaultLimits()
	limits.MaxOrderRate = 2
	g := newGate(limits)

	require.Nil(t, g.Validate("c1", models.Buy, 1, nil, nil))
	require.Nil(t, g.Validate("c1", models.Buy, 1, nil, nil))

	err := g.Validate("c1", models.Buy, 1, nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, risk.RateLimit, err.Kind)
}

// A client spamming oversized orders still consumes its rate window, so
// it eventually trips rate_limit instead of size_limit forever.
func TestRateLimitCountsOrdersRejectedByLaterChecks(t *testing.T) {
	limits := defaultLimits()
	limits.MaxOrderRate = 2
	g := newGate(limits)

	err1 := g.Validate("c1", models.Buy, 51, nil, nil)
	require.NotNil(t, err1)
	assert.Equal(t, risk.SizeLimit, err1.Kind)

	err2 := g.Validate("c1", models.Buy, 51, nil, nil)
	require.NotNil(t, err2)
	assert.Equal(t, risk.SizeLimit, err2.Kind)

	err3 := g.Validate("c1", models.Buy, 51, nil, nil)
	require.NotNil(t, err3)
	assert.Equal(t, risk.RateLimit, err3.Kind)
}

func TestOnFillAveragesEntryPriceThenRealizesPnLOnClose(t *testing.T) {
	g := newGate(defaultLimits())

	g.OnFill("c1", models.Buy, 5, decimal.NewFromInt(100))
	g.OnFill("c1", models.Buy, 5, decimal.NewFromInt(110))
	snap := g.State("c1", nil)
	assert.Equal(t, int64(10), snap.Position)

	g.OnFill("c1", models.Sell, 10, decimal.NewFromInt(120))
	closed := g.State("c1", nil)
	assert.Equal(t, int64(0), closed.Position)
	assert.True(t, closed.RealizedPnL.Equal(decimal.NewFromInt(150)))
}

func TestResetDailyClearsBlockedAndRate(t *testing.T) {
	limits := defaultLimits()
	limits.MaxDailyLoss = decimal.NewFromInt(10)
	g := newGate(limits)
	g.OnFill("c1", models.Buy, 5, decimal.NewFromInt(100))
	g.OnFill("c1", models.Sell, 5, decimal.NewFromInt(80))
	_ = g.Validate("c1", models.Buy, 1, nil, nil)

	g.ResetDaily()

	snap := g.State("c1", nil)
	assert.False(t, snap.Blocked)
}
