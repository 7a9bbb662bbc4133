// Package book implements the local order book and the Market that
// owns it: a sequence-validated, incremental-delta book with
// fixed-point prices and the YES/NO complement-side invariant,
// grounded on the teacher's internal/market/book.go RWMutex-protected
// mirror, generalized to actually mutate price levels instead of only
// tracking a staleness hash.
package book

import (
	"sort"
	"sync"
	"time"

	"kalshi-binary-trader/internal/money"
)

// Side identifies which side of the binary contract a resting order
// sits on.
type Side int

const (
	Yes Side = iota
	No
)

// PriceLevel is a single resting quantity at a price. A level with
// Count <= 0 does not exist.
type PriceLevel struct {
	Price money.FixedPrice
	Count int
}

type level struct {
	price money.FixedPrice
	count int
}

// Book is a two-sided order book for one market. All NO-side prices
// live in the NO map keyed by the NO price; ask quantities are always
// read back through FixedPrice.Complement.
type Book struct {
	mu sync.RWMutex

	hasSeq bool
	seq    int64

	timestamp int64 // unix nanoseconds, 0 == unset

	yesLevels map[string]*level
	noLevels  map[string]*level

	bestBid  money.FixedPrice
	bidSize  int
	bestAsk  money.FixedPrice
	askSize  int
	midPrice money.FixedPrice
	spread   money.FixedPrice
}

// NewBook returns an empty book with the collapsed-empty-side
// defaults: best_bid=0, best_ask=1, mid=0.50.
func NewBook() *Book {
	b := &Book{
		yesLevels: make(map[string]*level),
		noLevels:  make(map[string]*level),
	}
	b.recompute()
	return b
}

// Seq returns the latest applied sequence number and whether one has
// ever been applied.
func (b *Book) Seq() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq, b.hasSeq
}

// Timestamp returns the unix-nanosecond timestamp of the last applied
// delta, or 0 if only a snapshot (or nothing) has been applied.
func (b *Book) Timestamp() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.timestamp
}

// BestBidAsk returns the cached best bid/ask and their resting sizes.
func (b *Book) BestBidAsk() (bestBid money.FixedPrice, bidSize int, bestAsk money.FixedPrice, askSize int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBid, b.bidSize, b.bestAsk, b.askSize
}

// Mid returns the cached mid price.
func (b *Book) Mid() money.FixedPrice {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.midPrice
}

// Spread returns the cached best_ask - best_bid.
func (b *Book) Spread() money.FixedPrice {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.spread
}

// ApplySnapshot replaces both sides atomically, aggregating duplicate
// prices by summation, and resets the per-delta timestamp to unset
// (snapshots do not carry a per-level time).
func (b *Book) ApplySnapshot(seq int64, yes, no []PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.yesLevels = aggregateLevels(yes)
	b.noLevels = aggregateLevels(no)
	b.seq = seq
	b.hasSeq = true
	b.timestamp = 0

	b.recomputeLocked()
}

func aggregateLevels(levels []PriceLevel) map[string]*level {
	out := make(map[string]*level, len(levels))
	for _, pl := range levels {
		if pl.Count <= 0 {
			continue
		}
		key := pl.Price.Key()
		if existing, ok := out[key]; ok {
			existing.count += pl.Count
			continue
		}
		out[key] = &level{price: pl.Price, count: pl.Count}
	}
	return out
}

// ApplyDelta adds delta (signed) to the level's resting count. If the
// resulting count is <= 0 the level is removed. A negative delta at an
// absent level is a silent no-op; a positive delta at an absent level
// inserts it. The caller (Market) is responsible for sequence-gap
// detection before calling this.
func (b *Book) ApplyDelta(seq int64, side Side, price money.FixedPrice, delta int, tsNanos int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	levels := b.yesLevels
	if side == No {
		levels = b.noLevels
	}

	key := price.Key()
	existing, ok := levels[key]
	if !ok {
		if delta <= 0 {
			// no-op: can't remove what isn't there
		} else {
			levels[key] = &level{price: price, count: delta}
		}
	} else {
		existing.count += delta
		if existing.count <= 0 {
			delete(levels, key)
		}
	}

	b.seq = seq
	b.hasSeq = true
	b.timestamp = tsNanos

	b.recomputeLocked()
}

// recompute is the locking entry point used by NewBook.
func (b *Book) recompute() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recomputeLocked()
}

// recomputeLocked rebuilds best_bid/ask, mid, and spread from the
// current level maps. Callers must hold b.mu.
func (b *Book) recomputeLocked() {
	if len(b.yesLevels) == 0 {
		b.bestBid = money.Zero
		b.bidSize = 0
	} else {
		best := maxLevel(b.yesLevels)
		b.bestBid = best.price
		b.bidSize = best.count
	}

	if len(b.noLevels) == 0 {
		b.bestAsk = money.One
		b.askSize = 0
	} else {
		best := maxLevel(b.noLevels)
		b.bestAsk = best.price.Complement()
		b.askSize = best.count
	}

	haveBid := len(b.yesLevels) > 0
	haveAsk := len(b.noLevels) > 0
	switch {
	case haveBid && haveAsk:
		b.midPrice = b.bestBid.Add(b.bestAsk).Div(2)
	case haveBid:
		b.midPrice = b.bestBid
	case haveAsk:
		b.midPrice = b.bestAsk
	default:
		b.midPrice = money.New(0.50)
	}

	b.spread = b.bestAsk.Sub(b.bestBid)
}

// maxLevel scans for the level with the highest price. The book
// depths involved in a single binary market are small enough that a
// linear scan on every mutation is simpler and fast enough than
// maintaining a sorted index; spec only requires the cached best to be
// correct after each operation, not a particular complexity.
func maxLevel(levels map[string]*level) *level {
	var best *level
	for _, lv := range levels {
		if best == nil || lv.price.GreaterThan(best.price) {
			best = lv
		}
	}
	return best
}

// Snapshot returns a defensive, sorted copy of both sides for
// inspection (logging, tests). Sorted descending by price.
func (b *Book) Snapshot() (yes, no []PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return toSortedLevels(b.yesLevels), toSortedLevels(b.noLevels)
}

func toSortedLevels(levels map[string]*level) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, lv := range levels {
		out = append(out, PriceLevel{Price: lv.price, Count: lv.count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	return out
}

// IsStale reports whether the book's last delta timestamp is older
// than maxAge relative to now. A book with no delta timestamp yet is
// considered stale.
func (b *Book) IsStale(now time.Time, maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.timestamp == 0 {
		return true
	}
	last := time.Unix(0, b.timestamp)
	return now.Sub(last) > maxAge
}
