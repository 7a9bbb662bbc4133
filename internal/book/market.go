package book

import (
	"math"
	"sync"

	"kalshi-binary-trader/internal/money"
)

// EnvelopeKind discriminates the two update shapes Market.Update
// accepts.
type EnvelopeKind int

const (
	SnapshotEnvelope EnvelopeKind = iota
	DeltaEnvelope
)

// Envelope is the update Market receives from ExchangeSocket. Only
// the fields relevant to Kind are populated.
type Envelope struct {
	Kind EnvelopeKind
	Seq  int64

	// Snapshot fields.
	Yes []PriceLevel
	No  []PriceLevel

	// Delta fields.
	Side  Side
	Price money.FixedPrice
	Delta int
	TS    int64 // unix nanoseconds
}

// nanosPerYear is used to annualize the realized-volatility sample
// deltas in Volatility.
const nanosPerYear = float64(365 * 24 * 3600 * 1e9)

// Market owns one Book and one PriceBuffer for a single ticker. It is
// created once at session start and mutated only by Update; it is
// never destroyed mid-session. Grounded on the teacher's
// internal/market/book.go, which plays the same "RWMutex-protected
// mirror with derived accessors" role but never implemented gap
// detection or a volatility estimate over its own mid-price history.
type Market struct {
	mu sync.Mutex

	Ticker string
	Book   *Book
	buffer *PriceBuffer

	onUpdate func()
	onGap    func(ticker string)
}

// New constructs a Market for ticker with a price buffer of the given
// capacity. onUpdate is invoked after every successfully applied
// snapshot or delta; onGap is invoked (with the ticker) when a delta's
// sequence number does not follow the book's current sequence.
// Either callback may be nil.
func New(ticker string, bufferCapacity int, onUpdate func(), onGap func(ticker string)) *Market {
	return &Market{
		Ticker:   ticker,
		Book:     NewBook(),
		buffer:   NewPriceBuffer(bufferCapacity),
		onUpdate: onUpdate,
		onGap:    onGap,
	}
}

// Update applies a snapshot or delta envelope, per spec: a snapshot
// clears the price buffer and replaces both sides; a delta is
// rejected (and on_gap fired) if its sequence does not immediately
// follow the book's current sequence, otherwise it is applied and a
// fresh (mid, ts) sample is pushed.
func (m *Market) Update(env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch env.Kind {
	case SnapshotEnvelope:
		m.buffer.Clear()
		m.Book.ApplySnapshot(env.Seq, env.Yes, env.No)
		if m.onUpdate != nil {
			m.onUpdate()
		}

	case DeltaEnvelope:
		prevSeq, hasPrev := m.Book.Seq()
		if hasPrev && env.Seq != prevSeq+1 {
			if m.onGap != nil {
				m.onGap(m.Ticker)
			}
			return
		}
		m.Book.ApplyDelta(env.Seq, env.Side, env.Price, env.Delta, env.TS)
		m.buffer.Push(Sample{Mid: m.Book.Mid(), TS: env.TS})
		if m.onUpdate != nil {
			m.onUpdate()
		}
	}
}

// Volatility returns the realized annualized volatility over the
// buffered mid-price samples: for each consecutive pair with a
// positive time delta, accumulate (Δp)² / Δt_years, and return the
// square root of the mean. ok is false when fewer than two usable
// samples are available.
func (m *Market) Volatility() (vol float64, ok bool) {
	m.mu.Lock()
	samples := m.buffer.All()
	m.mu.Unlock()

	if len(samples) < 2 {
		return 0, false
	}

	var sumSq float64
	var n int
	for i := 1; i < len(samples); i++ {
		dtNanos := samples[i].TS - samples[i-1].TS
		if dtNanos <= 0 {
			continue
		}
		dtYears := float64(dtNanos) / nanosPerYear
		dp := samples[i].Mid.Float64() - samples[i-1].Mid.Float64()
		sumSq += (dp * dp) / dtYears
		n++
	}
	if n == 0 {
		return 0, false
	}
	return math.Sqrt(sumSq / float64(n)), true
}
