// Package risk is the pre-trade risk gate: a per-client position, PnL, and
// rate tracker consulted before every order reaches the book and updated
// after every fill. It runs on the same single-writer goroutine as the
// book; its mutex is a safety net for concurrent reads of /risk/{client_id},
// not the primary serialization mechanism.
package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"fenrir-lob/internal/clock"
	"fenrir-lob/internal/models"
)

// ErrorKind identifies which check rejected an order.
type ErrorKind string

const (
	Blocked      ErrorKind = "blocked"
	RateLimit    ErrorKind = "rate_limit"
	SizeLimit    ErrorKind = "size_limit"
	PositionRisk ErrorKind = "position_limit"
	PriceBounds  ErrorKind = "price_bounds"
	DailyLoss    ErrorKind = "daily_loss"
)

// Error is a typed, structured refusal from the risk gate.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Limits is the static risk-limit configuration applied to every client.
type Limits struct {
	MaxPosition       int64
	MaxDailyLoss      decimal.Decimal
	MaxOrderRate      int
	MaxOrderSize      int64
	PriceDeviationPct decimal.Decimal
}

// ClientState is one client's mutable risk state: position, average entry
// price (for mark-to-market), realized PnL, and the rolling order-rate
// window.
type ClientState struct {
	Position        int64
	AvgEntryPrice   decimal.Decimal
	RealizedPnL     decimal.Decimal
	OrderCount      int
	LastOrderSecond int64
	Blocked         bool
}

// Snapshot is the read-only view returned by State, with unrealized PnL
// marked to the book's current mid.
type Snapshot struct {
	Position      int64           `json:"position"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`
	Blocked       bool            `json:"blocked"`
}

// Gate enforces Limits against per-client ClientState.
type Gate struct {
	Limits Limits

	// ExemptClientID, when non-empty, names a client (the synthetic
	// market-data producer) exempt from the position and daily-loss
	// checks. Rate and size limits still apply to it.
	ExemptClientID string

	mu     sync.Mutex
	states map[string]*ClientState
	clock  clock.Clock
}

// New creates a risk gate with the given limits.
func New(limits Limits, c clock.Clock) *Gate {
	return &Gate{
		Limits: limits,
		states: make(map[string]*ClientState),
		clock:  c,
	}
}

func (g *Gate) stateLocked(clientID string) *ClientState {
	st, ok := g.states[clientID]
	if !ok {
		st = &ClientState{}
		g.states[clientID] = st
	}
	return st
}

func signedDelta(side models.Side, size int64) int64 {
	if side == models.Sell {
		return -size
	}
	return size
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Validate runs the ordered pre-trade checks and returns the first
// violation, or nil if the order passes every check. mid is nil when no
// mid price is yet known (empty book); limitPrice is nil for market
// orders, which skip the price-bounds check.
func (g *Gate) Validate(clientID string, side models.Side, size int64, limitPrice *decimal.Decimal, mid *decimal.Decimal) *Error {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.stateLocked(clientID)

	if st.Blocked {
		return newError(Blocked, "client %s is blocked due to a prior risk violation", clientID)
	}

	now := g.clock.Now().Unix()
	if now-st.LastOrderSecond >= 1 {
		st.OrderCount = 0
		st.LastOrderSecond = now
	}
	if st.OrderCount >= g.Limits.MaxOrderRate {
		return newError(RateLimit, "order rate limit of %d/s exceeded", g.Limits.MaxOrderRate)
	}
	// Counts against the rate window as soon as the rate check itself is
	// passed, so an order later rejected for size/position/price/daily-loss
	// still consumes a slot — a client spamming bad orders still trips
	// rate_limit.
	st.OrderCount++

	if size <= 0 {
		return newError(SizeLimit, "order size must be positive")
	}
	if size > g.Limits.MaxOrderSize {
		return newError(SizeLimit, "order size %d exceeds limit %d", size, g.Limits.MaxOrderSize)
	}

	exempt := g.ExemptClientID != "" && clientID == g.ExemptClientID

	if !exempt {
		newPosition := st.Position + signedDelta(side, size)
		if abs64(newPosition) > g.Limits.MaxPosition {
			return newError(PositionRisk, "position limit exceeded: %d > %d", newPosition, g.Limits.MaxPosition)
		}
	}

	if limitPrice != nil && mid != nil && !mid.IsZero() {
		deviation := limitPrice.Sub(*mid).Abs().Div(*mid)
		if deviation.GreaterThan(g.Limits.PriceDeviationPct) {
			return newError(PriceBounds, "price deviation %s exceeds limit %s", deviation.String(), g.Limits.PriceDeviationPct.String())
		}
	}

	if !exempt {
		unrealized := g.unrealizedLocked(st, mid)
		total := st.RealizedPnL.Add(unrealized)
		if total.LessThan(g.Limits.MaxDailyLoss.Neg()) {
			st.Blocked = true
			return newError(DailyLoss, "daily loss limit exceeded: %s", total.String())
		}
	}

	return nil
}

func (g *Gate) unrealizedLocked(st *ClientState, mid *decimal.Decimal) decimal.Decimal {
	if mid == nil || st.Position == 0 {
		return decimal.Zero
	}
	diff := mid.Sub(st.AvgEntryPrice)
	return diff.Mul(decimal.NewFromInt(st.Position))
}

// OnFill applies a completed fill to clientID's position and realized
// PnL, using average-cost accounting: a fill that extends the position
// widens the average entry price; a fill that reduces or flips it
// realizes PnL on the closed portion.
func (g *Gate) OnFill(clientID string, side models.Side, size int64, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.stateLocked(clientID)
	delta := signedDelta(side, size)
	oldPosition := st.Position
	sameDirection := oldPosition == 0 || (oldPosition > 0) == (delta > 0)

	if sameDirection {
		oldAbs := decimal.NewFromInt(abs64(oldPosition))
		addAbs := decimal.NewFromInt(abs64(delta))
		total := oldAbs.Add(addAbs)
		if total.IsZero() {
			st.AvgEntryPrice = decimal.Zero
		} else {
			weighted := st.AvgEntryPrice.Mul(oldAbs).Add(price.Mul(addAbs))
			st.AvgEntryPrice = weighted.Div(total)
		}
	} else {
		closedQty := abs64(delta)
		if closedQty > abs64(oldPosition) {
			closedQty = abs64(oldPosition)
		}
		perUnit := price.Sub(st.AvgEntryPrice)
		if oldPosition < 0 {
			perUnit = perUnit.Neg()
		}
		st.RealizedPnL = st.RealizedPnL.Add(perUnit.Mul(decimal.NewFromInt(closedQty)))

		if abs64(delta) > closedQty {
			// position flipped sign; the open remainder starts fresh at
			// this fill's price
			st.AvgEntryPrice = price
		}
	}

	st.Position = oldPosition + delta
}

// State returns a read-only risk snapshot for clientID, marking
// unrealized PnL to mid (nil if unknown).
func (g *Gate) State(clientID string, mid *decimal.Decimal) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.stateLocked(clientID)
	unrealized := g.unrealizedLocked(st, mid)
	return Snapshot{
		Position:      st.Position,
		RealizedPnL:   st.RealizedPnL,
		UnrealizedPnL: unrealized,
		DailyPnL:      st.RealizedPnL.Add(unrealized),
		Blocked:       st.Blocked,
	}
}

// ResetDaily clears the sticky-blocked flag and order-rate counters for
// every known client, to be called at the start of a new trading day.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, st := range g.states {
		st.OrderCount = 0
		st.Blocked = false
	}
}
