package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"kalshi-binary-trader/internal/errs"
	"kalshi-binary-trader/internal/kalshi"
	"kalshi-binary-trader/internal/money"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRESTClient struct {
	mu sync.Mutex

	restingOrders  []kalshi.RestingOrder
	position       int
	balanceDollars float64

	placeResp *kalshi.BatchOrderResponse
	placeErr  error
	cancelResp *kalshi.CancelBatchResponse
	cancelErr  error

	onPlaceBatch func()
	placedOrders [][]kalshi.OrderRequest

	getOrdersCalls int
}

func (f *fakeRESTClient) GetRestingOrders(ctx context.Context, ticker string) (*kalshi.OrdersResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getOrdersCalls++
	return &kalshi.OrdersResponse{Orders: f.restingOrders}, nil
}

func (f *fakeRESTClient) GetPositions(ctx context.Context, ticker string) (*kalshi.PositionsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &kalshi.PositionsResponse{Positions: []kalshi.Position{{Ticker: ticker, Position: f.position}}}, nil
}

func (f *fakeRESTClient) GetBalance(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceDollars, nil
}

func (f *fakeRESTClient) PlaceBatch(ctx context.Context, orders []kalshi.OrderRequest) (*kalshi.BatchOrderResponse, error) {
	f.placedOrders = append(f.placedOrders, orders)
	if f.onPlaceBatch != nil {
		f.onPlaceBatch()
	}
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	if f.placeResp != nil {
		return f.placeResp, nil
	}
	return &kalshi.BatchOrderResponse{}, nil
}

func (f *fakeRESTClient) CancelBatch(ctx context.Context, ids []string) (*kalshi.CancelBatchResponse, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	if f.cancelResp != nil {
		return f.cancelResp, nil
	}
	return &kalshi.CancelBatchResponse{}, nil
}

// TestFillAccountingUnderPlacementRace implements the literal scenario
// from §8: a fill for an order not yet registered in resting_orders
// arrives while place_batch is still in flight.
func TestFillAccountingUnderPlacementRace(t *testing.T) {
	rest := &fakeRESTClient{
		placeResp: &kalshi.BatchOrderResponse{Orders: []kalshi.OrderResult{{OrderID: "o1", RemainingCount: 6}}},
	}
	exec := NewLiveExecutor(rest, Config{Ticker: "KXETHD-X", MaxInventory: 50}, testLogger())
	rest.onPlaceBatch = func() {
		exec.OnFill(kalshi.FillMsg{OrderID: "o1", Count: 4, PostPosition: 4})
	}

	if err := exec.PlaceBatch(context.Background(), []OrderIntent{
		{Side: kalshi.SideYes, Action: kalshi.ActionBuy, Count: 10, Price: money.New(0.40)},
	}); err != nil {
		t.Fatalf("PlaceBatch: %v", err)
	}

	snap := exec.Snapshot()
	if snap.Inventory != 4 {
		t.Fatalf("inventory = %d, want 4", snap.Inventory)
	}
	if got := snap.RestingOrders["o1"]; got != 6 {
		t.Fatalf("resting[o1] = %d, want 6", got)
	}
	if len(snap.UnregisteredFills) != 0 {
		t.Fatalf("unregistered fills not cleared: %+v", snap.UnregisteredFills)
	}
}

// TestInventoryLimitOnFill implements §8 scenario 4: a fill that pushes
// inventory past max_inventory raises PositionLimitExceeded while still
// recording the exchange's authoritative post_position.
func TestInventoryLimitOnFill(t *testing.T) {
	exec := NewLiveExecutor(&fakeRESTClient{}, Config{Ticker: "X", MaxInventory: 50}, testLogger())

	err := exec.OnFill(kalshi.FillMsg{OrderID: "o9", Count: 4, PostPosition: 52})

	var riskErr *errs.RiskLimitExceeded
	if !errors.As(err, &riskErr) || riskErr.Kind != errs.PositionLimitExceeded {
		t.Fatalf("expected PositionLimitExceeded, got %v", err)
	}
	if got := exec.Snapshot().Inventory; got != 52 {
		t.Fatalf("inventory = %d, want 52 (post_position is authoritative)", got)
	}
}

func TestReconcileTripsBalanceLimit(t *testing.T) {
	rest := &fakeRESTClient{balanceDollars: 10}
	exec := NewLiveExecutor(rest, Config{Ticker: "X", MaxInventory: 50, MinBalance: 100}, testLogger())

	err := exec.Reconcile(context.Background())

	var riskErr *errs.RiskLimitExceeded
	if !errors.As(err, &riskErr) || riskErr.Kind != errs.BalanceLimitExceeded {
		t.Fatalf("expected BalanceLimitExceeded, got %v", err)
	}
}

func TestReconcileTripsPositionLimit(t *testing.T) {
	rest := &fakeRESTClient{position: 75}
	exec := NewLiveExecutor(rest, Config{Ticker: "X", MaxInventory: 50}, testLogger())

	err := exec.Reconcile(context.Background())

	var riskErr *errs.RiskLimitExceeded
	if !errors.As(err, &riskErr) || riskErr.Kind != errs.PositionLimitExceeded {
		t.Fatalf("expected PositionLimitExceeded, got %v", err)
	}
}

func TestCancelAllTwiceIsNoOp(t *testing.T) {
	exec := NewLiveExecutor(&fakeRESTClient{}, Config{Ticker: "X", MaxInventory: 50}, testLogger())

	if err := exec.CancelAll(context.Background()); err != nil {
		t.Fatalf("first CancelAll: %v", err)
	}
	if err := exec.CancelAll(context.Background()); err != nil {
		t.Fatalf("second CancelAll: %v", err)
	}
	if len(exec.Snapshot().RestingOrders) != 0 {
		t.Fatalf("expected empty resting_orders")
	}
}

func TestPlaceBatchClampsBeforeSubmission(t *testing.T) {
	rest := &fakeRESTClient{position: 48}
	exec := NewLiveExecutor(rest, Config{Ticker: "X", MaxInventory: 50}, testLogger())
	if err := exec.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if err := exec.PlaceBatch(context.Background(), []OrderIntent{
		{Side: kalshi.SideYes, Action: kalshi.ActionBuy, Count: 100, Price: money.New(0.50)},
	}); err != nil {
		t.Fatalf("PlaceBatch: %v", err)
	}

	if len(rest.placedOrders) != 1 || len(rest.placedOrders[0]) != 1 {
		t.Fatalf("expected exactly one submitted order, got %+v", rest.placedOrders)
	}
	if got := rest.placedOrders[0][0].Count; got != 2 {
		t.Fatalf("submitted count = %d, want 2 (clamped to max_inventory - inventory)", got)
	}
}

func TestPlaceBatchOrderRejectionTriggersReconcile(t *testing.T) {
	rest := &fakeRESTClient{
		placeResp: &kalshi.BatchOrderResponse{Orders: []kalshi.OrderResult{
			{OrderID: "", Error: &kalshi.APIError{Code: "insufficient_balance"}},
		}},
	}
	exec := NewLiveExecutor(rest, Config{Ticker: "X", MaxInventory: 50}, testLogger())

	err := exec.PlaceBatch(context.Background(), []OrderIntent{
		{Side: kalshi.SideYes, Action: kalshi.ActionBuy, Count: 5, Price: money.New(0.5)},
	})
	if err != nil {
		t.Fatalf("PlaceBatch: %v", err)
	}
	// reconcile ran as part of the rejection path: no reconcile ran before
	// PlaceBatch, so exactly one GetRestingOrders call comes from it.
	if rest.getOrdersCalls != 1 {
		t.Fatalf("GetRestingOrders calls = %d, want 1 (reconcile after rejection)", rest.getOrdersCalls)
	}
}
