// Package ingress is the single writer: every book and risk mutation,
// and every read that must observe a consistent point-in-time book,
// passes through one goroutine draining a command channel. This makes
// the "single logical writer" requirement a concrete mechanism rather
// than an implicit contract enforced only by a mutex, while the book's
// own RWMutex remains available as a safety net for out-of-band reads.
package ingress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fenrir-lob/internal/book"
	"fenrir-lob/internal/clock"
	"fenrir-lob/internal/metrics"
	"fenrir-lob/internal/models"
	"fenrir-lob/internal/risk"
)

// ValidationError is a malformed-request refusal, surfaced as bad_request.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("bad_request: %s", e.Msg) }

// FillEvent is the wire shape pushed to fill-channel subscribers.
type FillEvent struct {
	Event     string          `json:"event"`
	OrderID   string          `json:"order_id"`
	Side      models.Side     `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      int64           `json:"size"`
	Timestamp time.Time       `json:"timestamp"`
}

func newFillEvent(f *models.Fill) FillEvent {
	return FillEvent{
		Event:     "fill",
		OrderID:   f.OrderID,
		Side:      f.Side,
		Price:     f.Price,
		Size:      f.Size,
		Timestamp: f.Timestamp,
	}
}

// SubmitRequest is a fully-parsed, not-yet-validated order admission
// request. LimitPrice is nil for market orders.
type SubmitRequest struct {
	ClientID   string
	Side       models.Side
	Type       models.OrderType
	Size       int64
	LimitPrice *decimal.Decimal
}

// SubmitResult is returned to the caller after a submission is accepted
// by the risk gate and run through matching (a risk rejection instead
// returns a non-nil error and no SubmitResult).
type SubmitResult struct {
	OrderID string
	Status  models.OrderStatus
	Fills   []*models.Fill
}

type cmdKind int

const (
	cmdSubmit cmdKind = iota
	cmdCancel
	cmdSnapshot
	cmdGetOrder
	cmdGetFills
	cmdGetRisk
)

type cmdResp struct {
	submit   SubmitResult
	order    *models.Order
	fills    []*models.Fill
	snapshot book.Snapshot
	risk     risk.Snapshot
	err      error
}

type cmd struct {
	kind     cmdKind
	submit   SubmitRequest
	orderID  string
	clientID string
	levels   int
	resp     chan cmdResp
}

// MarketClientID is the reserved client id used by the synthetic
// market-data producer; the risk gate exempts it from position and
// daily-loss checks but not from rate or size limits.
const MarketClientID = "MARKET"

// Gateway is the single writer for one symbol's book and risk state.
type Gateway struct {
	symbol    string
	maxLevels int
	book      *book.Book
	risk      *risk.Gate
	clock     clock.Clock
	metrics   *metrics.Metrics
	marketHub marketPublisher
	fillHub   fillPublisher
	log       zerolog.Logger

	cmds chan cmd

	mu       sync.RWMutex
	arrival  uint64
	fillLogs map[string][]*models.Fill
}

// marketPublisher and fillPublisher are the minimal surfaces Gateway
// needs from internal/ws, kept as interfaces so this package does not
// import a websocket library it never speaks to a socket with.
type marketPublisher interface {
	Publish(snapshot interface{})
}

type fillPublisher interface {
	Publish(clientID string, fill interface{})
}

// New creates a Gateway. Run must be started in its own goroutine before
// Submit/Cancel/reads are called.
func New(symbol string, maxLevels int, b *book.Book, r *risk.Gate, c clock.Clock, m *metrics.Metrics, marketHub marketPublisher, fillHub fillPublisher, log zerolog.Logger) *Gateway {
	return &Gateway{
		symbol:    symbol,
		maxLevels: maxLevels,
		book:      b,
		risk:      r,
		clock:     c,
		metrics:   m,
		marketHub: marketHub,
		fillHub:   fillHub,
		log:       log.With().Str("component", "ingress").Logger(),
		cmds:      make(chan cmd, 256),
		fillLogs:  make(map[string][]*models.Fill),
	}
}

// Run is the writer's event loop; call it in its own goroutine.
func (g *Gateway) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-g.cmds:
			g.handle(c)
		}
	}
}

func (g *Gateway) handle(c cmd) {
	switch c.kind {
	case cmdSubmit:
		result, err := g.processSubmit(c.submit)
		c.resp <- cmdResp{submit: result, err: err}
	case cmdCancel:
		order, err := g.processCancel(c.orderID)
		c.resp <- cmdResp{order: order, err: err}
	case cmdSnapshot:
		c.resp <- cmdResp{snapshot: g.book.Snapshot(c.levels)}
	case cmdGetOrder:
		order, ok := g.book.GetOrder(c.orderID)
		if !ok {
			c.resp <- cmdResp{err: &book.Error{Kind: book.NotFound, Msg: fmt.Sprintf("order %s not found", c.orderID)}}
			return
		}
		c.resp <- cmdResp{order: order}
	case cmdGetFills:
		c.resp <- cmdResp{fills: append([]*models.Fill(nil), g.fillLogs[c.clientID]...)}
	case cmdGetRisk:
		mid, ok := g.book.Mid()
		var midPtr *decimal.Decimal
		if ok {
			midPtr = &mid
		}
		c.resp <- cmdResp{risk: g.risk.State(c.clientID, midPtr)}
	}
}

func validateSubmit(req SubmitRequest) *ValidationError {
	if req.ClientID == "" {
		return &ValidationError{Msg: "client_id is required"}
	}
	if req.Side != models.Buy && req.Side != models.Sell {
		return &ValidationError{Msg: "side must be buy or sell"}
	}
	if req.Size <= 0 {
		return &ValidationError{Msg: "size must be positive"}
	}
	switch req.Type {
	case models.Limit:
		if req.LimitPrice == nil {
			return &ValidationError{Msg: "limit orders require a price"}
		}
	case models.Market:
		if req.LimitPrice != nil {
			return &ValidationError{Msg: "market orders must not specify a price"}
		}
	default:
		return &ValidationError{Msg: "type must be limit or market"}
	}
	return nil
}

func (g *Gateway) processSubmit(req SubmitRequest) (SubmitResult, error) {
	start := time.Now()
	g.metrics.IncOrdersReceived()
	defer func() {
		g.metrics.AddLatency(time.Since(start).Microseconds())
	}()

	if verr := validateSubmit(req); verr != nil {
		return SubmitResult{}, verr
	}

	orderID := uuid.New().String()
	g.arrival++
	seq := g.arrival

	var limitPrice decimal.Decimal
	if req.LimitPrice != nil {
		limitPrice = g.book.QuantizeTick(*req.LimitPrice)
	}

	mid, hasMid := g.book.Mid()
	var midPtr *decimal.Decimal
	if hasMid {
		midPtr = &mid
	}
	var priceForRisk *decimal.Decimal
	if req.LimitPrice != nil {
		priceForRisk = &limitPrice
	}

	if rerr := g.risk.Validate(req.ClientID, req.Side, req.Size, priceForRisk, midPtr); rerr != nil {
		return SubmitResult{}, rerr
	}

	order := &models.Order{
		ID:            orderID,
		ClientID:      req.ClientID,
		Symbol:        g.symbol,
		Side:          req.Side,
		Type:          req.Type,
		LimitPrice:    limitPrice,
		OriginalSize:  req.Size,
		RemainingSize: req.Size,
		ArrivalSeq:    seq,
		Timestamp:     g.clock.Now(),
		Status:        models.Pending,
	}

	g.book.Lock()
	fills := g.book.Submit(order)
	g.book.Unlock()

	if order.Type == models.Limit && order.RemainingSize > 0 {
		g.metrics.IncOrdersInBook()
	}

	if len(fills) > 0 {
		trades := int64(len(fills) / 2)
		g.metrics.IncTradesExecuted(trades)
		g.metrics.IncOrdersMatched(trades + 1) // the taker plus every maker it traded against
		settled := make(map[string]bool)
		for _, f := range fills {
			g.risk.OnFill(f.ClientID, f.Side, f.Size, f.Price)
			g.recordFill(f)
			if g.fillHub != nil {
				g.fillHub.Publish(f.ClientID, newFillEvent(f))
			}

			if f.OrderID != order.ID && !settled[f.OrderID] {
				if resting, ok := g.book.GetOrder(f.OrderID); ok && resting.Status == models.Filled {
					g.metrics.DecOrdersInBook()
					settled[f.OrderID] = true
				}
			}
		}
	}

	g.publishSnapshot()

	return SubmitResult{OrderID: order.ID, Status: order.Status, Fills: fills}, nil
}

func (g *Gateway) recordFill(f *models.Fill) {
	g.fillLogs[f.ClientID] = append(g.fillLogs[f.ClientID], f)
}

func (g *Gateway) publishSnapshot() {
	if g.marketHub == nil {
		return
	}
	g.marketHub.Publish(g.book.Snapshot(g.maxLevels))
}

func (g *Gateway) processCancel(orderID string) (*models.Order, error) {
	g.book.Lock()
	defer g.book.Unlock()

	order, err := g.book.Cancel(orderID)
	if err != nil {
		return nil, err
	}
	g.metrics.IncOrdersCancelled()
	g.metrics.DecOrdersInBook()
	return order, nil
}

// Submit routes req through the writer and waits for the result or ctx
// cancellation.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	resp := make(chan cmdResp, 1)
	select {
	case g.cmds <- cmd{kind: cmdSubmit, submit: req, resp: resp}:
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.submit, r.err
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}
}

// Cancel routes an order cancellation through the writer.
func (g *Gateway) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	resp := make(chan cmdResp, 1)
	select {
	case g.cmds <- cmd{kind: cmdCancel, orderID: orderID, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.order, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns a consistent book snapshot with up to levels price
// levels per side.
func (g *Gateway) Snapshot(ctx context.Context, levels int) (book.Snapshot, error) {
	resp := make(chan cmdResp, 1)
	select {
	case g.cmds <- cmd{kind: cmdSnapshot, levels: levels, resp: resp}:
	case <-ctx.Done():
		return book.Snapshot{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.snapshot, nil
	case <-ctx.Done():
		return book.Snapshot{}, ctx.Err()
	}
}

// GetOrder returns the full order record for orderID.
func (g *Gateway) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	resp := make(chan cmdResp, 1)
	select {
	case g.cmds <- cmd{kind: cmdGetOrder, orderID: orderID, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.order, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetFills returns clientID's fills in generation order.
func (g *Gateway) GetFills(ctx context.Context, clientID string) ([]*models.Fill, error) {
	resp := make(chan cmdResp, 1)
	select {
	case g.cmds <- cmd{kind: cmdGetFills, clientID: clientID, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.fills, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetRisk returns clientID's risk snapshot, marked to the current mid.
func (g *Gateway) GetRisk(ctx context.Context, clientID string) (risk.Snapshot, error) {
	resp := make(chan cmdResp, 1)
	select {
	case g.cmds <- cmd{kind: cmdGetRisk, clientID: clientID, resp: resp}:
	case <-ctx.Done():
		return risk.Snapshot{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.risk, nil
	case <-ctx.Done():
		return risk.Snapshot{}, ctx.Err()
	}
}

// RecentFills returns up to n of clientID's most recent fills, oldest
// first, for use as websocket connect-time backlog. The read goes through
// the writer like GetFills, but takes no context and blocks until the
// writer answers.
func (g *Gateway) RecentFills(clientID string, n int) []*models.Fill {
	resp := make(chan cmdResp, 1)
	g.cmds <- cmd{kind: cmdGetFills, clientID: clientID, resp: resp}
	r := <-resp
	if n <= 0 || len(r.fills) <= n {
		return r.fills
	}
	return r.fills[len(r.fills)-n:]
}
