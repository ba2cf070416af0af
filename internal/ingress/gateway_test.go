package ingress_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir-lob/internal/book"
	"fenrir-lob/internal/clock"
	"fenrir-lob/internal/ingress"
	"fenrir-lob/internal/metrics"
	"fenrir-lob/internal/models"
	"fenrir-lob/internal/risk"
)

func newTestGateway(t *testing.T) (*ingress.Gateway, context.Context) {
	t.Helper()
	c := clock.NewStepping(time.Unix(0, 0), time.Millisecond)
	b := book.New("TEST", decimal.NewFromFloat(0.01), c)
	limits := risk.Limits{
		MaxPosition:       1000,
		MaxDailyLoss:      decimal.NewFromInt(1000000),
		MaxOrderRate:      1000,
		MaxOrderSize:      1000,
		PriceDeviationPct: decimal.NewFromFloat(0.5),
	}
	r := risk.New(limits, c)
	m := metrics.NewMetrics()
	g := ingress.New("TEST", 10, b, r, c, m, nil, nil, zeroLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go g.Run(ctx)
	return g, ctx
}

func price(s string) *decimal.Decimal {
	p := decimal.RequireFromString(s)
	return &p
}

func TestSubmitRestsThenCrosses(t *testing.T) {
	g, ctx := newTestGateway(t)

	buy, err := g.Submit(ctx, ingress.SubmitRequest{
		ClientID: "c1", Side: models.Buy, Type: models.Limit, Size: 10, LimitPrice: price("100.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.Active, buy.Status)
	assert.Empty(t, buy.Fills)

	sell, err := g.Submit(ctx, ingress.SubmitRequest{
		ClientID: "c2", Side: models.Sell, Type: models.Limit, Size: 3, LimitPrice: price("99.95"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.Filled, sell.Status)
	require.Len(t, sell.Fills, 2)

	order, err := g.GetOrder(ctx, buy.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), order.RemainingSize)
}

func TestSubmitRejectedByRiskLeavesBookUnchanged(t *testing.T) {
	g, ctx := newTestGateway(t)

	_, err := g.Submit(ctx, ingress.SubmitRequest{
		ClientID: "c1", Side: models.Buy, Type: models.Limit, Size: 2000, LimitPrice: price("100.00"),
	})

	require.Error(t, err)
	snap, err := g.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
}

func TestCancelThroughGateway(t *testing.T) {
	g, ctx := newTestGateway(t)

	result, err := g.Submit(ctx, ingress.SubmitRequest{
		ClientID: "c1", Side: models.Buy, Type: models.Limit, Size: 10, LimitPrice: price("100.00"),
	})
	require.NoError(t, err)

	canceled, err := g.Cancel(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.Canceled, canceled.Status)

	snap, err := g.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
}

func TestGetFillsReturnsGenerationOrder(t *testing.T) {
	g, ctx := newTestGateway(t)

	_, err := g.Submit(ctx, ingress.SubmitRequest{
		ClientID: "c1", Side: models.Buy, Type: models.Limit, Size: 10, LimitPrice: price("100.00"),
	})
	require.NoError(t, err)
	_, err = g.Submit(ctx, ingress.SubmitRequest{
		ClientID: "c2", Side: models.Sell, Type: models.Limit, Size: 4, LimitPrice: price("100.00"),
	})
	require.NoError(t, err)

	fills, err := g.GetFills(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(4), fills[0].Size)
}

func TestBadRequestRejectsMarketOrderWithPrice(t *testing.T) {
	g, ctx := newTestGateway(t)

	_, err := g.Submit(ctx, ingress.SubmitRequest{
		ClientID: "c1", Side: models.Buy, Type: models.Market, Size: 10, LimitPrice: price("100.00"),
	})

	require.Error(t, err)
	var verr *ingress.ValidationError
	require.ErrorAs(t, err, &verr)
}
