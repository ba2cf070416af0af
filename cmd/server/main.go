// Command server runs the matching engine: an in-memory limit order
// book behind a risk gate, reachable over REST and two websocket push
// channels (market-data snapshots and per-client fills), with a
// background producer driving synthetic flow so the snapshot channel
// has something to show.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fenrir-lob/internal/book"
	"fenrir-lob/internal/clock"
	"fenrir-lob/internal/config"
	"fenrir-lob/internal/httpapi"
	"fenrir-lob/internal/ingress"
	"fenrir-lob/internal/marketdata"
	"fenrir-lob/internal/metrics"
	"fenrir-lob/internal/risk"
	"fenrir-lob/internal/ws"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("FENRIR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Str("path", cfgPath).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Msg("invalid config")
	}

	log := newLogger(cfg.Logging)

	c := clock.Real{}
	b := book.New(cfg.Symbol, cfg.TickSize, c)
	riskGate := risk.New(risk.Limits{
		MaxPosition:       cfg.Risk.MaxPosition,
		MaxDailyLoss:      cfg.Risk.MaxDailyLoss,
		MaxOrderRate:      cfg.Risk.MaxOrderRate,
		MaxOrderSize:      cfg.Risk.MaxOrderSize,
		PriceDeviationPct: cfg.Risk.PriceDeviationPct,
	}, c)
	riskGate.ExemptClientID = ingress.MarketClientID
	m := metrics.NewMetrics()

	marketHub := ws.NewHub(log)
	fillHub := ws.NewFillHub(log)

	gw := ingress.New(cfg.Symbol, cfg.MaxLevels, b, riskGate, c, m, marketHub, fillHub, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go marketHub.Run()
	go fillHub.Run()
	go gw.Run(ctx)

	if cfg.MarketData.Mode == "synthetic" {
		mdCfg := marketdata.DefaultConfig(cfg.MarketData.BasePrice)
		mdCfg.TickInterval = cfg.MarketData.TickInterval
		mdCfg.OrderProbability = cfg.MarketData.OrderProbability
		producer := marketdata.New(gw, mdCfg, log)
		go producer.Run(ctx)
	}

	go dailyResetLoop(ctx, riskGate, log)

	srv := httpapi.New(gw, marketHub, fillHub, m, cfg.MaxLevels, log)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.Format == "json" {
		base = zerolog.New(os.Stdout)
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	return base.Level(level).With().Timestamp().Logger()
}

func dailyResetLoop(ctx context.Context, gate *risk.Gate, log zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gate.ResetDaily()
			log.Info().Msg("daily risk counters reset")
		}
	}
}
