// Package models holds the value types shared by the book, matching
// engine, risk gate, and ingress layer: orders, fills, and their small
// enums. Orders are owned by the book's order index (internal/book);
// callers elsewhere hold order IDs, not pointers, except where the book
// itself hands one back for a query.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the side of an order or fill.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "buy":
		*s = Buy
	case "sell":
		*s = Sell
	default:
		return fmt.Errorf("unknown side: %q", str)
	}
	return nil
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes limit orders, which rest on the book when
// unmatched, from market orders, which never rest.
type OrderType int

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return "unknown"
	}
}

func (t OrderType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *OrderType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "limit":
		*t = Limit
	case "market":
		*t = Market
	default:
		return fmt.Errorf("unknown order type: %q", str)
	}
	return nil
}

// OrderStatus is the lifecycle state of an order. canceled and rejected
// are terminal; filled is terminal and implies remaining_size == 0.
type OrderStatus int

const (
	Pending OrderStatus = iota
	Active
	PartiallyFilled
	Filled
	Canceled
	Rejected
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Canceled:
		return "canceled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "pending":
		*s = Pending
	case "active":
		*s = Active
	case "partially_filled":
		*s = PartiallyFilled
	case "filled":
		*s = Filled
	case "canceled":
		*s = Canceled
	case "rejected":
		*s = Rejected
	default:
		return fmt.Errorf("unknown order status: %q", str)
	}
	return nil
}

// Terminal reports whether the status can never change again.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Canceled || s == Rejected
}

// Order is the master record for a single order. It is mutated in place
// by the matching engine while resting and becomes immutable once its
// status is Terminal.
type Order struct {
	ID            string          `json:"order_id"`
	ClientID      string          `json:"client_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	LimitPrice    decimal.Decimal `json:"limit_price,omitempty"`
	OriginalSize  int64           `json:"original_size"`
	RemainingSize int64           `json:"remaining_size"`
	ArrivalSeq    uint64          `json:"arrival_seq"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        OrderStatus     `json:"status"`
}

// FilledSize is the quantity executed so far.
func (o *Order) FilledSize() int64 {
	return o.OriginalSize - o.RemainingSize
}

// Fill represents one counterparty's side of a single match. Every match
// produces exactly two Fills sharing Price, Size, and Timestamp.
type Fill struct {
	ID        string          `json:"fill_id"`
	OrderID   string          `json:"order_id"`
	ClientID  string          `json:"client_id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      int64           `json:"size"`
	Timestamp time.Time       `json:"timestamp"`
}
