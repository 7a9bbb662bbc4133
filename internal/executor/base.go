package executor

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"kalshi-binary-trader/internal/errs"
	"kalshi-binary-trader/internal/kalshi"
	"kalshi-binary-trader/internal/metrics"
)

// processorIdleTimeout is the idle window the tick/update conflator
// waits on before its processor task exits, per §5's "the processor
// exits on a 1s idle timeout so the system does not run an empty loop
// when the feed pauses."
const processorIdleTimeout = time.Second

// Base implements the full Executor contract. NewLiveExecutor and
// NewSimExecutor both return a *Base; they differ only in the
// RESTClient wired in, which is exactly the "share accounting, not
// through inheritance" design note in practice.
type Base struct {
	cfg  Config
	rest RESTClient

	// Named per spec §7's logger_list: orders/fills/prices/state each
	// get their own child logger rather than one coarse component tag.
	ordersLog *slog.Logger
	fillsLog  *slog.Logger
	pricesLog *slog.Logger
	stateLog  *slog.Logger

	// execLock serializes reconcile, place_batch, cancel_all,
	// close_position, and any injected tick/update action. Never held
	// across OnFill (synchronous single-step) or the act of signalling
	// OnMarketUpdate/OnTick (fire-and-forget).
	execLock sync.Mutex

	portMu            sync.Mutex
	inventory         int
	balance           float64
	restingOrders     map[string]int
	unregisteredFills map[string]int
	lastFillTS        int64

	// action implements the tick/update conflation described in §5: a
	// single pending-work signal collapsed to at most one processor
	// task. LiveExecutor/SimExecutor leave it nil (their on_fill/
	// reconcile cycle is driven externally by SessionRunner);
	// OptionsExecutor supplies its pricing loop here.
	action      func(ctx context.Context)
	pending     chan struct{}
	procMu      sync.Mutex
	procRunning bool
}

func newBase(rest RESTClient, cfg Config, logger *slog.Logger) *Base {
	logger = logger.With("ticker", cfg.Ticker)
	return &Base{
		cfg:               cfg,
		rest:              rest,
		ordersLog:         logger.With("component", "orders"),
		fillsLog:          logger.With("component", "fills"),
		pricesLog:         logger.With("component", "prices"),
		stateLog:          logger.With("component", "state"),
		balance:           cfg.StartingBalance,
		restingOrders:     make(map[string]int),
		unregisteredFills: make(map[string]int),
		pending:           make(chan struct{}, 1),
	}
}

// NewLiveExecutor wires a Base directly to the exchange REST client.
func NewLiveExecutor(rest RESTClient, cfg Config, logger *slog.Logger) *Base {
	return newBase(rest, cfg, logger)
}

// OnFill is the synchronous fill-accounting path from §4.4: decrement
// resting_orders[order_id], or stash the fill in unregistered_fills if
// the order hasn't been registered yet (a placement race), then set
// inventory to the exchange's authoritative post_position.
func (b *Base) OnFill(msg kalshi.FillMsg) error {
	b.portMu.Lock()
	if remaining, ok := b.restingOrders[msg.OrderID]; ok {
		remaining -= msg.Count
		if remaining > 0 {
			b.restingOrders[msg.OrderID] = remaining
		} else {
			delete(b.restingOrders, msg.OrderID)
		}
	} else {
		b.unregisteredFills[msg.OrderID] += msg.Count
	}
	b.inventory = msg.PostPosition
	b.lastFillTS = msg.TS
	inv := b.inventory
	b.portMu.Unlock()

	b.fillsLog.Info("fill received", "order_id", msg.OrderID, "count", msg.Count, "post_position", inv)
	metrics.Inventory.Set(float64(inv))

	if abs(inv) > b.cfg.MaxInventory {
		metrics.RiskTrips.WithLabelValues(errs.PositionLimitExceeded.String()).Inc()
		return &errs.RiskLimitExceeded{
			Kind:    errs.PositionLimitExceeded,
			Detail:  "fill pushed inventory past max_inventory",
			Current: float64(inv),
			Limit:   float64(b.cfg.MaxInventory),
		}
	}
	return nil
}

// OnMarketUpdate signals the conflator. A no-op when no action is
// wired (plain Live/Sim executors are driven by SessionRunner instead).
func (b *Base) OnMarketUpdate() {
	b.pricesLog.Debug("market update received")
	b.signal()
}

// OnTick signals the conflator from the signal-feed side.
func (b *Base) OnTick() { b.signal() }

// SetAction wires the single trading decision the conflator invokes
// under the execution lock once per quiescent window. OptionsExecutor
// is the only caller in this codebase.
func (b *Base) SetAction(action func(ctx context.Context)) {
	b.action = action
}

func (b *Base) signal() {
	if b.action == nil {
		return
	}
	select {
	case b.pending <- struct{}{}:
	default:
	}
	b.procMu.Lock()
	defer b.procMu.Unlock()
	if !b.procRunning {
		b.procRunning = true
		go b.runProcessor()
	}
}

func (b *Base) runProcessor() {
	defer func() {
		b.procMu.Lock()
		b.procRunning = false
		b.procMu.Unlock()
	}()
	for {
		select {
		case <-b.pending:
		case <-time.After(processorIdleTimeout):
			return
		}
		held := time.Now()
		b.execLock.Lock()
		b.action(context.Background())
		b.execLock.Unlock()
		metrics.ObserveLockHold(held)
	}
}

// Reconcile acquires the execution lock and sequentially syncs orders,
// balance, then inventory from REST, per §4.4.
func (b *Base) Reconcile(ctx context.Context) error {
	held := time.Now()
	b.execLock.Lock()
	defer func() {
		b.execLock.Unlock()
		metrics.ObserveLockHold(held)
	}()
	return b.reconcileLocked(ctx)
}

func (b *Base) reconcileLocked(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ReconcileLatency.Observe(time.Since(start).Seconds()) }()

	if err := b.syncOrdersLocked(ctx); err != nil {
		return err
	}
	balance, err := b.syncBalanceLocked(ctx)
	if err != nil {
		return err
	}
	inventory, err := b.syncInventoryLocked(ctx)
	if err != nil {
		return err
	}

	if abs(inventory) > b.cfg.MaxInventory {
		metrics.RiskTrips.WithLabelValues(errs.PositionLimitExceeded.String()).Inc()
		return &errs.RiskLimitExceeded{
			Kind:    errs.PositionLimitExceeded,
			Detail:  "reconciled inventory exceeds max_inventory",
			Current: float64(inventory),
			Limit:   float64(b.cfg.MaxInventory),
		}
	}
	if balance < b.cfg.MinBalance {
		metrics.RiskTrips.WithLabelValues(errs.BalanceLimitExceeded.String()).Inc()
		return &errs.RiskLimitExceeded{
			Kind:    errs.BalanceLimitExceeded,
			Detail:  "reconciled balance below min_balance",
			Current: balance,
			Limit:   b.cfg.MinBalance,
		}
	}
	return nil
}

func (b *Base) syncOrdersLocked(ctx context.Context) error {
	resp, err := b.rest.GetRestingOrders(ctx, b.cfg.Ticker)
	if err != nil {
		return err
	}
	resting := make(map[string]int, len(resp.Orders))
	for _, o := range resp.Orders {
		resting[o.OrderID] = o.RemainingCount
	}
	b.portMu.Lock()
	b.restingOrders = resting
	b.portMu.Unlock()
	return nil
}

func (b *Base) syncInventoryLocked(ctx context.Context) (int, error) {
	resp, err := b.rest.GetPositions(ctx, b.cfg.Ticker)
	if err != nil {
		return 0, err
	}
	var remote int
	for _, p := range resp.Positions {
		if p.Ticker == b.cfg.Ticker {
			remote = p.Position
		}
	}

	b.portMu.Lock()
	local := b.inventory
	b.inventory = remote
	b.portMu.Unlock()
	metrics.Inventory.Set(float64(remote))

	if dev := math.Abs(float64(remote - local)); dev > b.cfg.MaxInventoryDev {
		b.stateLog.Warn("position mismatch on reconcile", "local", local, "remote", remote, "dev", dev)
	}
	return remote, nil
}

func (b *Base) syncBalanceLocked(ctx context.Context) (float64, error) {
	remote, err := b.rest.GetBalance(ctx)
	if err != nil {
		return 0, err
	}

	b.portMu.Lock()
	local := b.balance
	b.balance = remote
	b.portMu.Unlock()
	metrics.Balance.Set(remote)

	if dev := math.Abs(remote - local); dev > b.cfg.MaxBalanceDev {
		b.stateLog.Warn("balance mismatch on reconcile", "local", local, "remote", remote, "dev", dev)
	}
	return remote, nil
}

// PlaceBatch clamps each order to the inventory limit, submits the
// batch, and reconciles resting_orders against unregistered_fills
// accumulated during the round trip.
func (b *Base) PlaceBatch(ctx context.Context, orders []OrderIntent) error {
	held := time.Now()
	b.execLock.Lock()
	defer func() {
		b.execLock.Unlock()
		metrics.ObserveLockHold(held)
	}()
	return b.placeBatchLocked(ctx, orders)
}

func (b *Base) placeBatchLocked(ctx context.Context, orders []OrderIntent) error {
	b.portMu.Lock()
	portfolio := Portfolio{Inventory: b.inventory, MaxInventory: b.cfg.MaxInventory}
	b.portMu.Unlock()

	clamped := make([]OrderIntent, 0, len(orders))
	for _, o := range orders {
		c := portfolio.Clamp(o)
		if c.Count > 0 {
			clamped = append(clamped, c)
		}
	}
	if len(clamped) == 0 {
		return nil
	}

	reqs := make([]kalshi.OrderRequest, len(clamped))
	for i, o := range clamped {
		reqs[i] = toOrderRequest(o, b.cfg.Ticker)
	}

	resp, err := b.rest.PlaceBatch(ctx, reqs)
	if err != nil {
		b.ordersLog.Error("place_batch failed", "error", err, "count", len(reqs))
		b.reconcileLocked(ctx)
		return err
	}
	b.ordersLog.Info("place_batch submitted", "count", len(reqs))

	hasError := false
	b.portMu.Lock()
	for _, r := range resp.Orders {
		if r.Error != nil {
			hasError = true
			continue
		}
		if r.OrderID == "" {
			continue
		}
		prior := b.unregisteredFills[r.OrderID]
		delete(b.unregisteredFills, r.OrderID)
		remaining := r.RemainingCount - prior
		if remaining > 0 {
			b.restingOrders[r.OrderID] = remaining
		}
	}
	b.portMu.Unlock()

	if hasError {
		return b.reconcileLocked(ctx)
	}
	return nil
}

// CancelAll submits a batch-cancel of every currently resting order id.
// If any remain after the call (a partial-failure response), it
// resyncs resting_orders from REST.
func (b *Base) CancelAll(ctx context.Context) error {
	held := time.Now()
	b.execLock.Lock()
	defer func() {
		b.execLock.Unlock()
		metrics.ObserveLockHold(held)
	}()
	return b.cancelAllLocked(ctx)
}

func (b *Base) cancelAllLocked(ctx context.Context) error {
	b.portMu.Lock()
	ids := make([]string, 0, len(b.restingOrders))
	for id := range b.restingOrders {
		ids = append(ids, id)
	}
	b.portMu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	resp, err := b.rest.CancelBatch(ctx, ids)
	if err != nil {
		b.ordersLog.Error("cancel_all failed", "error", err, "count", len(ids))
		return err
	}
	b.ordersLog.Info("cancel_all submitted", "count", len(ids))

	b.portMu.Lock()
	for _, c := range resp.Orders {
		if c.Error == nil {
			delete(b.restingOrders, c.OrderID)
		}
	}
	remaining := len(b.restingOrders)
	b.portMu.Unlock()

	if remaining > 0 {
		return b.syncOrdersLocked(ctx)
	}
	return nil
}

// ClosePosition syncs orders, cancels everything resting, resyncs
// inventory, then places one market order sized to unwind whatever is
// left.
func (b *Base) ClosePosition(ctx context.Context) error {
	held := time.Now()
	b.execLock.Lock()
	defer func() {
		b.execLock.Unlock()
		metrics.ObserveLockHold(held)
	}()

	if err := b.syncOrdersLocked(ctx); err != nil {
		return err
	}
	if err := b.cancelAllLocked(ctx); err != nil {
		return err
	}
	inventory, err := b.syncInventoryLocked(ctx)
	if err != nil {
		return err
	}
	if inventory == 0 {
		return nil
	}

	var intent OrderIntent
	if inventory > 0 {
		intent = OrderIntent{Side: kalshi.SideYes, Action: kalshi.ActionSell, Count: inventory, Type: kalshi.OrderTypeMarket}
	} else {
		intent = OrderIntent{Side: kalshi.SideNo, Action: kalshi.ActionSell, Count: -inventory, Type: kalshi.OrderTypeMarket}
	}
	b.ordersLog.Info("close_position unwind order", "inventory", inventory)
	_, err = b.rest.PlaceBatch(ctx, []kalshi.OrderRequest{toOrderRequest(intent, b.cfg.Ticker)})
	if err != nil {
		b.ordersLog.Error("close_position unwind order failed", "error", err)
	}
	return err
}

// GetBalance returns the last-known local balance.
func (b *Base) GetBalance() float64 {
	b.portMu.Lock()
	defer b.portMu.Unlock()
	return b.balance
}

// Snapshot returns a defensive copy of the portfolio state, for
// testing and for OptionsExecutor's tick-processor decision step.
func (b *Base) Snapshot() Snapshot {
	b.portMu.Lock()
	defer b.portMu.Unlock()
	resting := make(map[string]int, len(b.restingOrders))
	for k, v := range b.restingOrders {
		resting[k] = v
	}
	unreg := make(map[string]int, len(b.unregisteredFills))
	for k, v := range b.unregisteredFills {
		unreg[k] = v
	}
	return Snapshot{
		Inventory:         b.inventory,
		Balance:           b.balance,
		RestingOrders:     resting,
		UnregisteredFills: unreg,
		LastFillTS:        b.lastFillTS,
	}
}
