// Package runner implements the supervisory loop described in spec
// §4.7: it wires every other package together, connects and primes
// them, then runs a bounded poll cycle that watches for shutdown,
// task failure, terminal exit time, and orderbook staleness, closing
// the position safely on any terminal condition. Grounded on the
// teacher's internal/engine/engine.go Start/Stop lifecycle and
// goroutine supervision, simplified from its multi-market
// scanner-driven design to the single-ticker session spec.md
// describes, and moved onto golang.org/x/sync/errgroup for the
// two-tasks-under-one-cancellation-scope requirement in spec §9.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"kalshi-binary-trader/internal/book"
	"kalshi-binary-trader/internal/config"
	"kalshi-binary-trader/internal/errs"
	"kalshi-binary-trader/internal/executor"
	"kalshi-binary-trader/internal/kalshi"
	"kalshi-binary-trader/internal/money"
	"kalshi-binary-trader/internal/signal"
	"kalshi-binary-trader/internal/volatility"
)

// pollInterval is the "every <=1s poll cycle" period from spec §4.7.
const pollInterval = time.Second

// priceBufferCapacity bounds the Market's realized-volatility sample
// history; spec §2 describes PriceBuffer as "bounded" without naming
// a size, so this picks one hour of samples at a typical tick rate.
const priceBufferCapacity = 4096

// closeComponentTimeout is the "5s per component" close budget from
// spec §5's Timeouts section.
const closeComponentTimeout = 5 * time.Second

// closePositionTimeout is the "10s hard timeout" on close_position
// from spec §5's Cancellation section.
const closePositionTimeout = 10 * time.Second

// SessionRunner owns the full wiring graph for one trading session
// against one ticker and runs it until a terminal condition or an
// external shutdown request.
type SessionRunner struct {
	cfg    config.Config
	logger *slog.Logger

	rest   *kalshi.Client
	socket *kalshi.ExchangeSocket
	sig    signal.Socket
	mkt    *book.Market
	vol    *volatility.Estimator
	exec   *executor.OptionsExecutor

	startedAt time.Time
	taskErr   chan error
}

// New builds and wires every component per spec §9's explicit-
// callback-sink rule: each piece is constructed with its data-only
// dependencies; on_gap is bound into the Market as a callback, and the
// small {on_fill, on_market_update} sink is handed to the exchange
// socket after the executor and market already exist, so no component
// holds a reference to a not-yet-constructed peer.
func New(cfg config.Config, logger *slog.Logger) (*SessionRunner, error) {
	logger = logger.With("component", "runner")

	keyPEM, err := os.ReadFile(cfg.Auth.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("runner: read private key: %w", err)
	}
	auth, err := kalshi.NewAuth(cfg.Auth.AccessKey, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("runner: build auth: %w", err)
	}
	rest := kalshi.NewClient(cfg.Exchange.RestBaseURL, auth, cfg.DryRun, logger)

	if len(cfg.Signal.SignalChannels) == 0 {
		return nil, fmt.Errorf("runner: no signal channels configured")
	}
	sig, err := signal.NewSocket(cfg.Signal.SignalChannels[0], cfg.Signal.WSBaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("runner: build signal socket: %w", err)
	}

	fetcher := signal.NewBinanceCandleFetcher(cfg.Signal.RestBaseURL, underlyingSymbol(cfg.Signal.SignalChannels[0]), logger)
	vol := volatility.New(fetcher, cfg.Market.VolatilityWindow)

	expiry, err := cfg.Market.ExpiryTime()
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	base := executor.NewLiveExecutor(rest, executor.Config{
		Ticker:          cfg.Market.Ticker,
		StartingBalance: cfg.Market.StartingBalance,
		MaxInventory:    cfg.Risk.PortfolioLimits.MaxInventory,
		MinBalance:      cfg.Risk.PortfolioLimits.MinimumBalance,
		MaxInventoryDev: float64(cfg.Risk.PortfolioLimits.MaxInventoryDev),
		MaxBalanceDev:   cfg.Risk.PortfolioLimits.MaxBalanceDev,
		MinEdge:         money.New(cfg.Risk.TradingParameters.MinimumEdge),
		MaxTickOrder:    10,
	}, logger)

	taskErr := make(chan error, 8)

	// socket is forward-declared so Market's on_gap callback (bound at
	// construction) and the socket's own sink (bound after) can refer
	// to each other without a back-reference living on either struct,
	// per spec §9's explicit-callback-not-cyclic-reference rule.
	var socket *kalshi.ExchangeSocket
	mkt := book.New(cfg.Market.Ticker, priceBufferCapacity, base.OnMarketUpdate, func(ticker string) {
		socket.HandleGap(ticker)
	})
	oe := executor.NewOptionsExecutor(base, mkt, sig, vol, cfg.Market.Strike, expiry, logger)

	socket = kalshi.NewExchangeSocket(cfg.Exchange.WSURL, auth, kalshi.Sink{
		OnMarketUpdate: func(env book.Envelope, ticker string) { mkt.Update(env) },
		OnFill: func(msg kalshi.FillMsg) {
			if err := oe.OnFill(msg); err != nil {
				sendErr(taskErr, err)
			}
		},
	}, logger)

	return &SessionRunner{
		cfg:     cfg,
		logger:  logger,
		rest:    rest,
		socket:  socket,
		sig:     sig,
		mkt:     mkt,
		vol:     vol,
		exec:    oe,
		taskErr: taskErr,
	}, nil
}

// underlyingSymbol strips the adapter-selecting prefix ("binance:" or
// "index:") to recover the bare symbol for candle retrieval.
func underlyingSymbol(channel string) string {
	for _, prefix := range []string{"binance:", "index:"} {
		if len(channel) > len(prefix) && channel[:len(prefix)] == prefix {
			return channel[len(prefix):]
		}
	}
	return channel
}

func sendErr(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}

// errTerminalExitTime is a sentinel distinguishing a scheduled
// terminal_exit_time shutdown (normal, per spec §6's "0 normal
// shutdown" exit code) from a RiskLimitExceeded or escalated
// DataAccuracyRisk shutdown (an unhandled risk exception, nonzero
// exit).
var errTerminalExitTime = errors.New("runner: terminal_exit_time reached")

// Run executes spec §4.7's full supervisory sequence: connect,
// subscribe, prime, reconcile, spawn the two long-running tasks, poll
// until a terminal condition, then close the position and shut every
// component down.
func (r *SessionRunner) Run(ctx context.Context) error {
	if err := r.connectAndPrime(ctx); err != nil {
		return fmt.Errorf("runner: startup: %w", err)
	}

	r.startedAt = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		err := r.socket.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		sendErr(r.taskErr, err)
		return err
	})
	g.Go(func() error {
		err := r.sig.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		sendErr(r.taskErr, err)
		return err
	})

	terminalErr := r.pollLoop(gctx)
	cancel()
	_ = g.Wait()

	r.shutdown()

	if terminalErr != nil && !errors.Is(terminalErr, context.Canceled) && !errors.Is(terminalErr, errTerminalExitTime) {
		return terminalErr
	}
	return nil
}

// connectAndPrime implements step 2 of spec §4.7: subscribe the
// orderbook, prime the volatility estimator, then reconcile.
// Subscribing before the socket's read loop starts is safe: Subscribe
// registers the ticker in the socket's internal state immediately and
// the resulting WS command is retried as part of the resubscribe-on-
// connect step inside socket.Run.
func (r *SessionRunner) connectAndPrime(ctx context.Context) error {
	if err := r.socket.Subscribe(r.cfg.Market.Ticker); err != nil {
		r.logger.Warn("initial subscribe command failed, will resubscribe on connect", "error", err)
	}
	if err := r.vol.AddCandle(ctx); err != nil {
		r.logger.Warn("initial volatility prime failed", "error", err)
	}
	return r.exec.Reconcile(ctx)
}

// pollLoop runs the <=1s poll cycle from spec §4.7 step 4 until ctx is
// cancelled externally or a terminal condition is found, returning the
// terminal error (nil on a clean external cancellation).
func (r *SessionRunner) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	reconcileEvery := r.cfg.Risk.StalenessLimits.ReconciliationPeriod
	lastReconcile := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-r.taskErr:
			if err != nil && errs.Terminal(err) {
				r.logger.Error("terminal task error", "error", err)
				return err
			}
			if err != nil {
				r.logger.Warn("non-terminal task error", "error", err)
			}

		case <-ticker.C:
			if term := r.cfg.Risk.PortfolioLimits.TerminalExitTime; term > 0 && time.Since(r.startedAt) >= term {
				r.logger.Info("terminal_exit_time reached", "after", term)
				return errTerminalExitTime
			}

			if reconcileEvery > 0 && time.Since(lastReconcile) >= reconcileEvery {
				lastReconcile = time.Now()
				if err := r.exec.Reconcile(ctx); err != nil {
					if errs.Terminal(err) {
						r.logger.Error("reconcile raised a terminal error", "error", err)
						return err
					}
					r.logger.Warn("reconcile error", "error", err)
				}
			}

			maxStale := r.cfg.Risk.StalenessLimits.MaximumOrderbookStaleness
			if maxStale > 0 && r.mkt.Book.IsStale(time.Now(), maxStale) {
				err := &errs.DataAccuracyRisk{Kind: errs.StaleOrderbook, Escalate: true}
				r.logger.Error("orderbook stale beyond max_orderbook_staleness", "max_staleness", maxStale)
				return err
			}
		}
	}
}

// shutdown implements step 5 of spec §4.7: close_position with a 10s
// timeout, then gracefully stop every socket with a per-component
// timeout.
func (r *SessionRunner) shutdown() {
	closeCtx, cancel := context.WithTimeout(context.Background(), closePositionTimeout)
	defer cancel()
	if err := r.exec.ClosePosition(closeCtx); err != nil {
		r.logger.Error("close_position failed during shutdown", "error", err)
	}

	closeWithTimeout("exchange_socket", closeComponentTimeout, r.socket.Close, r.logger)
	closeWithTimeout("signal_socket", closeComponentTimeout, r.sig.Close, r.logger)

	r.logger.Info("shutdown complete")
}

func closeWithTimeout(name string, timeout time.Duration, closeFn func() error, logger *slog.Logger) {
	done := make(chan error, 1)
	go func() { done <- closeFn() }()
	select {
	case err := <-done:
		if err != nil {
			logger.Error("close failed", "component", name, "error", err)
		}
	case <-time.After(timeout):
		logger.Error("close timed out", "component", name)
	}
}

