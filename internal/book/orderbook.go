// Package book owns the order book's price-indexed data structures and the
// matching algorithm that mutates them. State and algorithm are kept in one
// package rather than split across two: the FIFO queues the algorithm
// walks are the same queues the state type exposes to readers.
package book

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/shopspring/decimal"

	"fenrir-lob/internal/clock"
	"fenrir-lob/internal/models"
)

// priceLevel is a FIFO of resting orders at one quantized price. Orders are
// appended at the tail and matched from the head, preserving arrival order.
type priceLevel struct {
	orders []*models.Order
}

func (pl *priceLevel) totalSize() int64 {
	var total int64
	for _, o := range pl.orders {
		total += o.RemainingSize
	}
	return total
}

func (pl *priceLevel) head() *models.Order {
	if len(pl.orders) == 0 {
		return nil
	}
	return pl.orders[0]
}

func (pl *priceLevel) popHead() {
	pl.orders = pl.orders[1:]
}

func (pl *priceLevel) remove(orderID string) bool {
	for i, o := range pl.orders {
		if o.ID == orderID {
			pl.orders = append(pl.orders[:i], pl.orders[i+1:]...)
			return true
		}
	}
	return false
}

// Level is a single aggregated (price, size) point in a depth view.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  int64           `json:"size"`
}

// Snapshot is a consistent, point-in-time view of both sides of the book,
// bundled with the bests, mid, spread, and the moment it was taken.
type Snapshot struct {
	Symbol    string          `json:"symbol"`
	Bids      []Level         `json:"bids"`
	Asks      []Level         `json:"asks"`
	BestBid   decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk   decimal.Decimal `json:"best_ask,omitempty"`
	Mid       decimal.Decimal `json:"mid,omitempty"`
	HasMid    bool            `json:"-"`
	Spread    decimal.Decimal `json:"spread,omitempty"`
	HasSpread bool            `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
}

// Book is the order book for a single symbol: two price-sorted trees of
// FIFOs, an order index for O(1) lookup and cancel, and the last-trade
// cache used as a mid fallback when one side is empty.
type Book struct {
	Symbol   string
	TickSize decimal.Decimal

	bids   *redblacktree.Tree // decimal.Decimal -> *priceLevel, descending
	asks   *redblacktree.Tree // decimal.Decimal -> *priceLevel, ascending
	orders map[string]*models.Order

	lastTradePrice decimal.Decimal
	lastTradeSize  int64
	hasLastTrade   bool

	clock clock.Clock
	mu    sync.RWMutex
}

func decimalComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

func reverseDecimalComparator(a, b interface{}) int {
	return b.(decimal.Decimal).Cmp(a.(decimal.Decimal))
}

// New creates an empty book for symbol, quantizing all admitted prices to
// tickSize.
func New(symbol string, tickSize decimal.Decimal, c clock.Clock) *Book {
	return &Book{
		Symbol:   symbol,
		TickSize: tickSize,
		bids:     redblacktree.NewWith(reverseDecimalComparator),
		asks:     redblacktree.NewWith(decimalComparator),
		orders:   make(map[string]*models.Order),
		clock:    c,
	}
}

// QuantizeTick rounds price to the nearest multiple of TickSize, half away
// from zero, matching the book's admission-time quantization contract.
func (b *Book) QuantizeTick(price decimal.Decimal) decimal.Decimal {
	if b.TickSize.IsZero() {
		return price
	}
	ticks := price.DivRound(b.TickSize, 0)
	return ticks.Mul(b.TickSize)
}

func (b *Book) treeFor(side models.Side) *redblacktree.Tree {
	if side == models.Buy {
		return b.bids
	}
	return b.asks
}

// Lock acquires the book's write lock. The ingress writer holds this for
// the duration of a submit/cancel; it is a safety net against out-of-band
// callers, not the primary serialization mechanism.
func (b *Book) Lock()    { b.mu.Lock() }
func (b *Book) Unlock()  { b.mu.Unlock() }
func (b *Book) RLock()   { b.mu.RLock() }
func (b *Book) RUnlock() { b.mu.RUnlock() }

// addResting inserts order into its side's tree at its (already quantized)
// limit price and into the order index. Caller holds the write lock.
func (b *Book) addResting(order *models.Order) {
	b.orders[order.ID] = order
	tree := b.treeFor(order.Side)
	if v, found := tree.Get(order.LimitPrice); found {
		v.(*priceLevel).orders = append(v.(*priceLevel).orders, order)
		return
	}
	tree.Put(order.LimitPrice, &priceLevel{orders: []*models.Order{order}})
}

// removeResting deletes order from its side's tree, pruning the price level
// if it becomes empty. The order record stays in the order index for
// post-trade queries. Caller holds the write lock.
func (b *Book) removeResting(order *models.Order) {
	tree := b.treeFor(order.Side)
	v, found := tree.Get(order.LimitPrice)
	if !found {
		return
	}
	level := v.(*priceLevel)
	level.remove(order.ID)
	if len(level.orders) == 0 {
		tree.Remove(order.LimitPrice)
	}
}

// bestLevel returns the best price level for side, or nil if that side is
// empty. Caller holds at least a read lock.
func (b *Book) bestLevel(side models.Side) *priceLevel {
	tree := b.treeFor(side)
	node := tree.Left()
	if node == nil {
		return nil
	}
	return node.Value.(*priceLevel)
}

// BestBid returns the highest resting bid price, if any.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	b.RLock()
	defer b.RUnlock()
	level := b.bestLevel(models.Buy)
	if level == nil {
		return decimal.Zero, false
	}
	return level.head().LimitPrice, true
}

// BestAsk returns the lowest resting ask price, if any.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	b.RLock()
	defer b.RUnlock()
	level := b.bestLevel(models.Sell)
	if level == nil {
		return decimal.Zero, false
	}
	return level.head().LimitPrice, true
}

// Mid returns the average of the best bid and ask; if either side is
// empty, the last trade price; with neither, no mid (false).
func (b *Book) Mid() (decimal.Decimal, bool) {
	b.RLock()
	defer b.RUnlock()
	return b.midLocked()
}

func (b *Book) midLocked() (decimal.Decimal, bool) {
	bidLevel := b.bestLevel(models.Buy)
	askLevel := b.bestLevel(models.Sell)
	switch {
	case bidLevel != nil && askLevel != nil:
		two := decimal.NewFromInt(2)
		sum := bidLevel.head().LimitPrice.Add(askLevel.head().LimitPrice)
		return sum.Div(two), true
	case b.hasLastTrade:
		return b.lastTradePrice, true
	default:
		return decimal.Zero, false
	}
}

// Spread returns BestAsk - BestBid when both sides have resting orders.
func (b *Book) Spread() (decimal.Decimal, bool) {
	b.RLock()
	defer b.RUnlock()
	bidLevel := b.bestLevel(models.Buy)
	askLevel := b.bestLevel(models.Sell)
	if bidLevel == nil || askLevel == nil {
		return decimal.Zero, false
	}
	return askLevel.head().LimitPrice.Sub(bidLevel.head().LimitPrice), true
}

// Depth returns up to n aggregated price levels for side in priority order.
// n <= 0 means no limit.
func (b *Book) Depth(side models.Side, n int) []Level {
	b.RLock()
	defer b.RUnlock()
	return b.depthLocked(side, n)
}

func (b *Book) depthLocked(side models.Side, n int) []Level {
	tree := b.treeFor(side)
	levels := make([]Level, 0, tree.Size())
	it := tree.Iterator()
	it.Begin()
	for it.Next() {
		if n > 0 && len(levels) >= n {
			break
		}
		price := it.Key().(decimal.Decimal)
		level := it.Value().(*priceLevel)
		levels = append(levels, Level{Price: price, Size: level.totalSize()})
	}
	return levels
}

// Snapshot bundles both sides (up to n levels each), the bests, mid,
// spread, and a monotonic timestamp into one consistent read.
func (b *Book) Snapshot(n int) Snapshot {
	b.RLock()
	defer b.RUnlock()

	snap := Snapshot{
		Symbol:    b.Symbol,
		Bids:      b.depthLocked(models.Buy, n),
		Asks:      b.depthLocked(models.Sell, n),
		Timestamp: b.clock.Now(),
	}
	if bidLevel := b.bestLevel(models.Buy); bidLevel != nil {
		snap.BestBid = bidLevel.head().LimitPrice
	}
	if askLevel := b.bestLevel(models.Sell); askLevel != nil {
		snap.BestAsk = askLevel.head().LimitPrice
	}
	if mid, ok := b.midLocked(); ok {
		snap.Mid = mid
		snap.HasMid = ok
	}
	if bidLevel, askLevel := b.bestLevel(models.Buy), b.bestLevel(models.Sell); bidLevel != nil && askLevel != nil {
		snap.Spread = askLevel.head().LimitPrice.Sub(bidLevel.head().LimitPrice)
		snap.HasSpread = true
	}
	return snap
}

// GetOrder returns the order record for orderID, terminal or resting.
func (b *Book) GetOrder(orderID string) (*models.Order, bool) {
	b.RLock()
	defer b.RUnlock()
	o, ok := b.orders[orderID]
	return o, ok
}

// LastTrade returns the cached last trade price and size.
func (b *Book) LastTrade() (decimal.Decimal, int64, bool) {
	b.RLock()
	defer b.RUnlock()
	return b.lastTradePrice, b.lastTradeSize, b.hasLastTrade
}

func (b *Book) recordTrade(price decimal.Decimal, size int64) {
	b.lastTradePrice = price
	b.lastTradeSize = size
	b.hasLastTrade = true
}

// availableLiquidity sums remaining size on side up to (and stopping once
// it reaches) maxNeeded. Caller holds the write lock.
func (b *Book) availableLiquidity(side models.Side, maxNeeded int64) int64 {
	tree := b.treeFor(side)
	it := tree.Iterator()
	it.Begin()
	var available int64
	for it.Next() {
		level := it.Value().(*priceLevel)
		available += level.totalSize()
		if available >= maxNeeded {
			return available
		}
	}
	return available
}
