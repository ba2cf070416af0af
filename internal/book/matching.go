package book

import (
	"fmt"

	"github.com/google/uuid"

	"fenrir-lob/internal/models"
)

// ErrorKind classifies a book-level refusal so callers can map it to a
// stable HTTP status without string-matching.
type ErrorKind string

const (
	NotFound      ErrorKind = "not_found"
	NotCancelable ErrorKind = "not_cancelable"
	BadRequest    ErrorKind = "bad_request"
)

// Error is a typed refusal from the book or matching engine.
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

// Submit runs order against the opposite side of the book to completion,
// mutating both sides as needed, and returns the ordered list of fills
// generated. A limit order's unmatched residual is appended to its own
// side's FIFO; a market order never rests. The caller must hold the
// book's write lock for the duration of this call — matching has no
// suspension points.
func (b *Book) Submit(order *models.Order) []*models.Fill {
	if order.Type == models.Market {
		available := b.availableLiquidity(order.Side.Opposite(), order.OriginalSize)
		if available == 0 {
			order.Status = models.Rejected
			order.RemainingSize = order.OriginalSize
			b.orders[order.ID] = order
			return nil
		}
	}

	var fills []*models.Fill
	opposite := b.treeFor(order.Side.Opposite())

	for order.RemainingSize > 0 {
		node := opposite.Left()
		if node == nil {
			break
		}
		level := node.Value.(*priceLevel)
		maker := level.head()
		if maker == nil {
			break
		}
		if order.Type == models.Limit && !crosses(order, maker) {
			break
		}

		size := order.RemainingSize
		if maker.RemainingSize < size {
			size = maker.RemainingSize
		}
		price := maker.LimitPrice
		ts := b.clock.Now()

		takerFill := &models.Fill{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			ClientID:  order.ClientID,
			Side:      order.Side,
			Price:     price,
			Size:      size,
			Timestamp: ts,
		}
		makerFill := &models.Fill{
			ID:        uuid.New().String(),
			OrderID:   maker.ID,
			ClientID:  maker.ClientID,
			Side:      maker.Side,
			Price:     price,
			Size:      size,
			Timestamp: ts,
		}
		fills = append(fills, takerFill, makerFill)

		order.RemainingSize -= size
		maker.RemainingSize -= size
		b.recordTrade(price, size)

		if maker.RemainingSize == 0 {
			maker.Status = models.Filled
			level.popHead()
			if len(level.orders) == 0 {
				opposite.Remove(node.Key)
			}
		} else {
			maker.Status = models.PartiallyFilled
		}
	}

	switch {
	case order.RemainingSize == 0:
		order.Status = models.Filled
		b.orders[order.ID] = order
	case order.Type == models.Market:
		order.Status = models.PartiallyFilled
		b.orders[order.ID] = order
	default:
		if len(fills) > 0 {
			order.Status = models.PartiallyFilled
		} else {
			order.Status = models.Active
		}
		b.addResting(order)
	}

	return fills
}

// crosses reports whether taker's limit price crosses maker's resting
// price: a buy crosses when its price is at or above the ask; a sell
// crosses when its price is at or below the bid.
func crosses(taker, maker *models.Order) bool {
	if taker.Side == models.Buy {
		return taker.LimitPrice.Cmp(maker.LimitPrice) >= 0
	}
	return taker.LimitPrice.Cmp(maker.LimitPrice) <= 0
}

// Cancel removes a resting order from the book and marks it canceled. It
// fails with NotFound if the order is unknown and NotCancelable if the
// order has already reached a terminal status.
func (b *Book) Cancel(orderID string) (*models.Order, error) {
	order, ok := b.orders[orderID]
	if !ok {
		return nil, newError(NotFound, "order %s not found", orderID)
	}
	// Market orders never rest, even when left partially_filled; only a
	// resting limit order can be canceled.
	if order.Type == models.Market || order.Status.Terminal() {
		return nil, newError(NotCancelable, "order %s is %s", orderID, order.Status)
	}
	b.removeResting(order)
	order.Status = models.Canceled
	return order, nil
}
