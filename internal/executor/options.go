package executor

import (
	"context"
	"log/slog"
	"time"

	"kalshi-binary-trader/internal/book"
	"kalshi-binary-trader/internal/kalshi"
	"kalshi-binary-trader/internal/pricing"
	"kalshi-binary-trader/internal/signal"
	"kalshi-binary-trader/internal/volatility"
)

// volatilityStaleAfter is the "refresh volatility if stale (>300s
// since last candle)" threshold from §4.4.
const volatilityStaleAfter = 300 * time.Second

// OptionsExecutor extends Base with the option-pricing tick-processor
// loop: on every signal tick it reprices the market as a binary option
// and trades the edge against the book's displayed best bid/ask.
type OptionsExecutor struct {
	*Base

	mkt    *book.Market
	signal signal.Socket
	vol    *volatility.Estimator

	strike float64
	expiry time.Time

	lastVolRefresh time.Time
	logger         *slog.Logger
}

// NewOptionsExecutor wires base's conflator to the pricing action
// described in §4.4: cancel outstanding quotes, refresh volatility if
// stale, price the market, and place a single order against whichever
// side shows an edge beyond min_edge.
func NewOptionsExecutor(base *Base, mkt *book.Market, sig signal.Socket, vol *volatility.Estimator, strike float64, expiry time.Time, logger *slog.Logger) *OptionsExecutor {
	oe := &OptionsExecutor{
		Base:   base,
		mkt:    mkt,
		signal: sig,
		vol:    vol,
		strike: strike,
		expiry: expiry,
		logger: logger.With("component", "options_executor"),
	}
	base.SetAction(oe.processTick)
	return oe
}

// processTick is the conflator action Base.runProcessor invokes under
// the execution lock once per quiescent window.
func (oe *OptionsExecutor) processTick(ctx context.Context) {
	if err := oe.cancelAllLocked(ctx); err != nil {
		oe.logger.Error("cancel_all failed", "error", err)
		return
	}

	if time.Since(oe.lastVolRefresh) > volatilityStaleAfter {
		if err := oe.vol.AddCandle(ctx); err != nil {
			oe.logger.Warn("volatility refresh failed", "error", err)
		} else {
			oe.lastVolRefresh = time.Now()
		}
	}
	sigma, err := oe.vol.Parkinson()
	if err != nil {
		oe.logger.Debug("skipping tick: insufficient volatility data", "error", err)
		return
	}

	tick, ok := oe.signal.Latest()
	if !ok {
		oe.logger.Debug("skipping tick: no signal data yet")
		return
	}

	tToExpiry := time.Until(oe.expiry).Hours() / (24 * 365)
	if tToExpiry <= 0 {
		oe.logger.Debug("skipping tick: past expiry")
		return
	}

	truePrice := pricing.Price(tick.Mid(), oe.strike, tToExpiry, sigma, 0)
	bestBid, _, bestAsk, _ := oe.mkt.Book.BestBidAsk()
	minEdge := oe.cfg.MinEdge.Float64()
	snap := oe.Snapshot()

	// Edge is quoted per contract, so the fee term is the per-contract
	// taker fee (count=1) rather than a size-dependent total — sizing
	// happens only after an edge beyond minEdge already clears.
	askFee := pricing.TakerFee(1, bestAsk).Float64()
	bidFee := pricing.TakerFee(1, bestBid).Float64()

	switch {
	case truePrice-bestAsk.Float64()-askFee > minEdge:
		size := minInt(oe.cfg.MaxTickOrder, oe.cfg.MaxInventory-snap.Inventory)
		if size > 0 {
			oe.placeBatchLocked(ctx, []OrderIntent{{
				Side: kalshi.SideYes, Action: kalshi.ActionBuy, Count: size, Price: bestAsk, Type: kalshi.OrderTypeLimit,
			}})
		}
	case bestBid.Float64()-truePrice-bidFee > minEdge:
		size := minInt(oe.cfg.MaxTickOrder, snap.Inventory+oe.cfg.MaxInventory)
		if size > 0 {
			oe.placeBatchLocked(ctx, []OrderIntent{{
				Side: kalshi.SideYes, Action: kalshi.ActionSell, Count: size, Price: bestBid, Type: kalshi.OrderTypeLimit,
			}})
		}
	default:
		oe.logger.Debug("no edge beyond min_edge after fees", "true_price", truePrice, "best_bid", bestBid, "best_ask", bestAsk)
	}
}
