package book_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir-lob/internal/book"
	"fenrir-lob/internal/clock"
	"fenrir-lob/internal/models"
)

func newTestBook() *book.Book {
	tick := decimal.NewFromFloat(0.01)
	c := clock.NewStepping(time.Unix(0, 0), time.Millisecond)
	return book.New("TEST", tick, c)
}

func limitOrder(id, clientID string, side models.Side, price string, size int64, seq uint64) *models.Order {
	return &models.Order{
		ID:            id,
		ClientID:      clientID,
		Symbol:        "TEST",
		Side:          side,
		Type:          models.Limit,
		LimitPrice:    decimal.RequireFromString(price),
		OriginalSize:  size,
		RemainingSize: size,
		ArrivalSeq:    seq,
	}
}

func marketOrder(id, clientID string, side models.Side, size int64, seq uint64) *models.Order {
	return &models.Order{
		ID:            id,
		ClientID:      clientID,
		Symbol:        "TEST",
		Side:          side,
		Type:          models.Market,
		OriginalSize:  size,
		RemainingSize: size,
		ArrivalSeq:    seq,
	}
}

// Scenario 1: empty-book limit rests.
func TestEmptyBookLimitRests(t *testing.T) {
	b := newTestBook()
	o1 := limitOrder("o1", "c1", models.Buy, "100.00", 10, 1)

	fills := b.Submit(o1)

	assert.Empty(t, fills)
	assert.Equal(t, models.Active, o1.Status)
	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("100.00").Equal(bid))
}

// Scenario 2: cross a limit.
func TestCrossALimit(t *testing.T) {
	b := newTestBook()
	buyer := limitOrder("o1", "c1", models.Buy, "100.00", 10, 1)
	b.Submit(buyer)

	seller := limitOrder("o2", "c2", models.Sell, "99.95", 3, 2)
	fills := b.Submit(seller)

	require.Len(t, fills, 2)
	assert.True(t, fills[0].Price.Equal(decimal.RequireFromString("100.00")))
	assert.Equal(t, int64(3), fills[0].Size)
	assert.Equal(t, fills[0].OrderID, seller.ID)
	assert.Equal(t, fills[1].OrderID, buyer.ID)

	assert.Equal(t, models.Filled, seller.Status)
	assert.Equal(t, models.PartiallyFilled, buyer.Status)
	assert.Equal(t, int64(7), buyer.RemainingSize)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("100.00").Equal(bid))
}

// Scenario 3: market sweep with residual.
func TestMarketSweepWithResidual(t *testing.T) {
	b := newTestBook()
	b.Submit(limitOrder("a1", "mm", models.Sell, "100.01", 5, 1))
	b.Submit(limitOrder("a2", "mm", models.Sell, "100.02", 4, 2))

	taker := marketOrder("t1", "c1", models.Buy, 12, 3)
	fills := b.Submit(taker)

	require.Len(t, fills, 4)
	assert.Equal(t, models.PartiallyFilled, taker.Status)
	assert.Equal(t, int64(3), taker.RemainingSize)

	_, ok := b.BestAsk()
	assert.False(t, ok)

	price, size, ok := b.LastTrade()
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("100.02")))
	assert.Equal(t, int64(4), size)
}

// Scenario 4: market into empty opposite.
func TestMarketIntoEmptyOpposite(t *testing.T) {
	b := newTestBook()
	taker := marketOrder("t1", "c1", models.Buy, 5, 1)

	fills := b.Submit(taker)

	assert.Empty(t, fills)
	assert.Equal(t, models.Rejected, taker.Status)
	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
}

// Scenario 5: price-time priority.
func TestPriceTimePriority(t *testing.T) {
	b := newTestBook()
	o1 := limitOrder("o1", "c1", models.Buy, "100.00", 5, 1)
	o2 := limitOrder("o2", "c2", models.Buy, "100.00", 5, 2)
	b.Submit(o1)
	b.Submit(o2)

	taker := marketOrder("t1", "c3", models.Sell, 7, 3)
	fills := b.Submit(taker)

	require.Len(t, fills, 4)
	assert.Equal(t, models.Filled, o1.Status)
	assert.Equal(t, int64(0), o1.RemainingSize)
	assert.Equal(t, models.PartiallyFilled, o2.Status)
	assert.Equal(t, int64(3), o2.RemainingSize)
}

// Round-trip law: a crossing buy/sell pair of equal size fully fills both
// and leaves no residual level behind.
func TestRoundTrip(t *testing.T) {
	b := newTestBook()
	buyer := limitOrder("o1", "c1", models.Buy, "100.00", 10, 1)
	b.Submit(buyer)

	seller := limitOrder("o2", "c2", models.Sell, "100.00", 10, 2)
	fills := b.Submit(seller)

	require.Len(t, fills, 2)
	assert.Equal(t, int64(0), buyer.RemainingSize)
	assert.Equal(t, int64(0), seller.RemainingSize)
	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
}

// Cancel-after-fill idempotence: canceling a filled order is not_cancelable.
func TestCancelAfterFillIdempotence(t *testing.T) {
	b := newTestBook()
	buyer := limitOrder("o1", "c1", models.Buy, "100.00", 5, 1)
	b.Submit(buyer)
	seller := limitOrder("o2", "c2", models.Sell, "100.00", 5, 2)
	b.Submit(seller)

	_, err := b.Cancel(seller.ID)

	require.Error(t, err)
	var bookErr *book.Error
	require.ErrorAs(t, err, &bookErr)
	assert.Equal(t, book.NotCancelable, bookErr.Kind)
}

// Cancel-after-fill idempotence must also hold for the maker side: a
// resting order that gets fully filled by an incoming taker stays in the
// order index as a terminal record, so canceling it afterward is
// not_cancelable rather than not_found.
func TestCancelFilledMakerNotCancelable(t *testing.T) {
	b := newTestBook()
	maker := limitOrder("o1", "c1", models.Buy, "100.00", 5, 1)
	b.Submit(maker)
	taker := limitOrder("o2", "c2", models.Sell, "100.00", 5, 2)
	b.Submit(taker)
	require.Equal(t, models.Filled, maker.Status)

	got, ok := b.GetOrder(maker.ID)
	require.True(t, ok)
	assert.Equal(t, models.Filled, got.Status)

	_, err := b.Cancel(maker.ID)

	require.Error(t, err)
	var bookErr *book.Error
	require.ErrorAs(t, err, &bookErr)
	assert.Equal(t, book.NotCancelable, bookErr.Kind)
}

func TestCancelRestingOrder(t *testing.T) {
	b := newTestBook()
	o1 := limitOrder("o1", "c1", models.Buy, "100.00", 5, 1)
	b.Submit(o1)

	canceled, err := b.Cancel(o1.ID)

	require.NoError(t, err)
	assert.Equal(t, models.Canceled, canceled.Status)
	_, ok := b.BestBid()
	assert.False(t, ok)
}

func TestCancelUnknownOrder(t *testing.T) {
	b := newTestBook()

	_, err := b.Cancel("missing")

	require.Error(t, err)
	var bookErr *book.Error
	require.ErrorAs(t, err, &bookErr)
	assert.Equal(t, book.NotFound, bookErr.Kind)
}

func TestSelfMatchNotPrevented(t *testing.T) {
	b := newTestBook()
	resting := limitOrder("o1", "same-client", models.Buy, "100.00", 5, 1)
	b.Submit(resting)

	taker := limitOrder("o2", "same-client", models.Sell, "100.00", 5, 2)
	fills := b.Submit(taker)

	require.Len(t, fills, 2)
	assert.Equal(t, models.Filled, resting.Status)
	assert.Equal(t, models.Filled, taker.Status)
}

func TestCancelMarketOrderNotCancelable(t *testing.T) {
	b := newTestBook()
	b.Submit(limitOrder("a1", "mm", models.Sell, "100.01", 5, 1))
	taker := marketOrder("t1", "c1", models.Buy, 12, 2)
	b.Submit(taker)
	require.Equal(t, models.PartiallyFilled, taker.Status)

	_, err := b.Cancel(taker.ID)

	require.Error(t, err)
	var bookErr *book.Error
	require.ErrorAs(t, err, &bookErr)
	assert.Equal(t, book.NotCancelable, bookErr.Kind)
}

func TestQuantizeTickHalfUp(t *testing.T) {
	b := newTestBook()

	got := b.QuantizeTick(decimal.RequireFromString("100.005"))

	assert.True(t, decimal.RequireFromString("100.01").Equal(got))
}
