// Command trader is the entry point for one trading session: it loads
// configuration, wires the full SessionRunner graph, starts the
// Prometheus metrics endpoint if enabled, and runs until SIGINT/
// SIGTERM or a terminal condition, exiting 0 on a clean shutdown and
// nonzero if the session ended on an unhandled risk exception after
// an attempted position close, per spec §6.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts the runner, waits for SIGINT/SIGTERM
//	runner/runner.go        — supervisory loop: wires exchange socket, signal socket, executor, volatility estimator
//	executor/{base,options} — portfolio state machine and Black-Scholes options pricing decision loop
//	kalshi/{client,ws,auth} — Kalshi REST client, WebSocket market-data/fill feed, RSA-PSS request signing
//	book/{book,market}      — local order book mirror fed by WebSocket snapshots/deltas
//	signal/{signal,candles} — underlying-asset tick feed and historical candle fetcher
//	volatility/estimator.go — Parkinson/Rogers-Satchell realized volatility over rolling candles
//	metrics/{metrics,server} — Prometheus counters/gauges/histograms and their HTTP endpoint
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"kalshi-binary-trader/internal/config"
	"kalshi-binary-trader/internal/metrics"
	"kalshi-binary-trader/internal/runner"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("KALSHI_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)})
	logger := slog.New(handler)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.ListenAddr, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	sess, err := runner.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to build session runner", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("trader starting",
		"ticker", cfg.Market.Ticker,
		"max_inventory", cfg.Risk.PortfolioLimits.MaxInventory,
		"min_balance", cfg.Risk.PortfolioLimits.MinimumBalance,
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := sess.Run(ctx)

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("failed to stop metrics server", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("session ended with an unhandled error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("session ended cleanly")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
