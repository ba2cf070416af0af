// Package marketdata is the background producer that exercises the
// snapshot push channel. In synthetic mode it submits small-offset limit
// orders around the book's current mid through the same ingress pipeline
// real clients use, under the reserved market client id. An external
// mode stub is provided for reflecting a one-off external quote as maker
// orders on both sides; wiring it to a real feed is out of scope here.
package marketdata

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fenrir-lob/internal/ingress"
	"fenrir-lob/internal/models"
)

// Config controls the synthetic producer's behavior.
type Config struct {
	TickInterval     time.Duration
	BasePrice        decimal.Decimal
	OrderProbability float64 // chance per tick a new synthetic order is submitted
	MinOffset        decimal.Decimal
	MaxOffset        decimal.Decimal
	MinSize          int64
	MaxSize          int64
}

// DefaultConfig matches the default cadence of 10 synthetic updates
// per second.
func DefaultConfig(basePrice decimal.Decimal) Config {
	return Config{
		TickInterval:     100 * time.Millisecond,
		BasePrice:        basePrice,
		OrderProbability: 0.3,
		MinOffset:        decimal.NewFromFloat(0.01),
		MaxOffset:        decimal.NewFromFloat(0.10),
		MinSize:          1,
		MaxSize:          10,
	}
}

// Producer drives the synthetic flow.
type Producer struct {
	gateway *ingress.Gateway
	cfg     Config
	rng     *rand.Rand
	log     zerolog.Logger
}

// New creates a synthetic market-data producer.
func New(gw *ingress.Gateway, cfg Config, log zerolog.Logger) *Producer {
	return &Producer{
		gateway: gw,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     log.With().Str("component", "marketdata").Logger(),
	}
}

// Run submits synthetic orders at cfg.TickInterval until ctx is canceled.
func (p *Producer) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Producer) tick(ctx context.Context) {
	if p.rng.Float64() >= p.cfg.OrderProbability {
		return
	}

	mid := p.currentMid(ctx)
	side := models.Buy
	if p.rng.Float64() < 0.5 {
		side = models.Sell
	}

	offsetRange := p.cfg.MaxOffset.Sub(p.cfg.MinOffset)
	offset := p.cfg.MinOffset.Add(offsetRange.Mul(decimal.NewFromFloat(p.rng.Float64())))

	var price decimal.Decimal
	if side == models.Buy {
		price = mid.Sub(offset)
	} else {
		price = mid.Add(offset)
	}

	size := p.cfg.MinSize + p.rng.Int63n(p.cfg.MaxSize-p.cfg.MinSize+1)

	_, err := p.gateway.Submit(ctx, ingress.SubmitRequest{
		ClientID:   ingress.MarketClientID,
		Side:       side,
		Type:       models.Limit,
		Size:       size,
		LimitPrice: &price,
	})
	if err != nil {
		p.log.Debug().Err(err).Msg("synthetic order rejected")
	}
}

func (p *Producer) currentMid(ctx context.Context) decimal.Decimal {
	snap, err := p.gateway.Snapshot(ctx, 1)
	if err != nil {
		return p.cfg.BasePrice
	}
	if snap.HasMid {
		return snap.Mid
	}
	return p.cfg.BasePrice
}

// ExternalQuote is a one-off two-sided quote reflected from an external
// feed into the book as maker orders on both sides.
type ExternalQuote struct {
	Bid     decimal.Decimal
	BidSize int64
	Ask     decimal.Decimal
	AskSize int64
}

// PushExternalQuote submits ExternalQuote's two sides as resting limit
// orders under the reserved market client id. It does not cancel any
// previously posted external quote; callers that need a replace should
// cancel the prior orders themselves using their returned order ids.
func PushExternalQuote(ctx context.Context, gw *ingress.Gateway, q ExternalQuote) (bidOrderID, askOrderID string, err error) {
	bidResult, err := gw.Submit(ctx, ingress.SubmitRequest{
		ClientID:   ingress.MarketClientID,
		Side:       models.Buy,
		Type:       models.Limit,
		Size:       q.BidSize,
		LimitPrice: &q.Bid,
	})
	if err != nil {
		return "", "", err
	}

	askResult, err := gw.Submit(ctx, ingress.SubmitRequest{
		ClientID:   ingress.MarketClientID,
		Side:       models.Sell,
		Type:       models.Limit,
		Size:       q.AskSize,
		LimitPrice: &q.Ask,
	})
	if err != nil {
		return bidResult.OrderID, "", err
	}

	return bidResult.OrderID, askResult.OrderID, nil
}
