package runner

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"kalshi-binary-trader/internal/book"
	"kalshi-binary-trader/internal/config"
	"kalshi-binary-trader/internal/executor"
	"kalshi-binary-trader/internal/kalshi"
	"kalshi-binary-trader/internal/money"
	"kalshi-binary-trader/internal/signal"
	"kalshi-binary-trader/internal/volatility"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRESTClient struct{}

func (f *fakeRESTClient) GetRestingOrders(ctx context.Context, ticker string) (*kalshi.OrdersResponse, error) {
	return &kalshi.OrdersResponse{}, nil
}
func (f *fakeRESTClient) GetPositions(ctx context.Context, ticker string) (*kalshi.PositionsResponse, error) {
	return &kalshi.PositionsResponse{Positions: []kalshi.Position{{Ticker: ticker, Position: 0}}}, nil
}
func (f *fakeRESTClient) GetBalance(ctx context.Context) (float64, error) { return 1000, nil }
func (f *fakeRESTClient) PlaceBatch(ctx context.Context, orders []kalshi.OrderRequest) (*kalshi.BatchOrderResponse, error) {
	return &kalshi.BatchOrderResponse{}, nil
}
func (f *fakeRESTClient) CancelBatch(ctx context.Context, ids []string) (*kalshi.CancelBatchResponse, error) {
	return &kalshi.CancelBatchResponse{}, nil
}

type fakeSignalSocket struct{}

func (f *fakeSignalSocket) Run(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (f *fakeSignalSocket) Close() error                  { return nil }
func (f *fakeSignalSocket) Latest() (signal.Tick, bool)   { return signal.Tick{}, false }

type fakeCandleFetcher struct{}

func (f *fakeCandleFetcher) FetchCandles(ctx context.Context, since int64) ([]volatility.Candle, error) {
	return nil, nil
}

// newTestRunner builds a SessionRunner with fakes standing in for
// every network-facing dependency, wired the same way New() wires the
// real ones, so pollLoop exercises real reconcile/close_position/
// staleness logic without touching any socket.
func newTestRunner(t *testing.T, term time.Duration) *SessionRunner {
	t.Helper()

	cfg := config.Config{
		Market: config.MarketConfig{Ticker: "KXETHD-TEST"},
		Risk: config.RiskConfig{
			PortfolioLimits: config.PortfolioLimitsConfig{
				MaxInventory:     50,
				MinimumBalance:   0,
				TerminalExitTime: term,
			},
			StalenessLimits: config.StalenessLimitsConfig{
				ReconciliationPeriod:      time.Hour,
				MaximumOrderbookStaleness: time.Hour,
			},
		},
	}

	base := executor.NewLiveExecutor(&fakeRESTClient{}, executor.Config{
		Ticker:       cfg.Market.Ticker,
		MaxInventory: cfg.Risk.PortfolioLimits.MaxInventory,
		MinBalance:   cfg.Risk.PortfolioLimits.MinimumBalance,
		MinEdge:      money.New(0.03),
		MaxTickOrder: 10,
	}, testLogger())

	b := book.NewBook()
	b.ApplySnapshot(1,
		[]book.PriceLevel{{Price: money.New(0.40), Count: 5}},
		[]book.PriceLevel{{Price: money.New(0.58), Count: 5}},
	)
	mkt := &book.Market{Ticker: cfg.Market.Ticker, Book: b}

	vol := volatility.New(&fakeCandleFetcher{}, cfg.Market.VolatilityWindow)
	oe := executor.NewOptionsExecutor(base, mkt, &fakeSignalSocket{}, vol, 3200, time.Now().Add(24*time.Hour), testLogger())

	return &SessionRunner{
		cfg:     cfg,
		logger:  testLogger(),
		sig:     &fakeSignalSocket{},
		mkt:     mkt,
		vol:     vol,
		exec:    oe,
		taskErr: make(chan error, 8),
	}
}

// TestPollLoopTerminalExitTime implements §8 scenario 5: at wall clock
// terminal_exit_time, pollLoop must return the terminal-exit sentinel
// (a normal, non-error shutdown per the exit-code policy in spec §6)
// rather than blocking forever or returning a risk error.
func TestPollLoopTerminalExitTime(t *testing.T) {
	r := newTestRunner(t, 50*time.Millisecond)
	r.startedAt = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.pollLoop(ctx)
	if !errors.Is(err, errTerminalExitTime) {
		t.Fatalf("pollLoop returned %v, want errTerminalExitTime", err)
	}
}

// TestRunTreatsTerminalExitTimeAsCleanShutdown covers the same
// scenario end to end through Run (whose shutdown path runs
// close_position), confirming Run itself returns nil (exit code 0).
func TestRunTreatsTerminalExitTimeAsCleanShutdown(t *testing.T) {
	r := newTestRunner(t, 50*time.Millisecond)
	r.socket = kalshi.NewExchangeSocket("ws://127.0.0.1:0/nonexistent", mustAuth(t), kalshi.Sink{}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned %v, want nil (clean shutdown on terminal_exit_time)", err)
	}
}

func mustAuth(t *testing.T) *kalshi.Auth {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})

	auth, err := kalshi.NewAuth("test-key", keyPEM)
	if err != nil {
		t.Fatalf("build test auth: %v", err)
	}
	return auth
}
