// Package signal implements the underlying-asset tick feed (spec
// §6's "Signal feed WebSocket"), exposed behind one Socket interface
// with two concrete adapters per spec §9's open question ("two
// co-existing currency APIs... treat them as two alternative signal
// adapters behind one interface"). Connection lifecycle is grounded
// on the teacher's internal/exchange/ws.go dial/reconnect/dispatch
// skeleton; wire shapes are new, since the pack has no underlying-
// asset feed example.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Tick is the freshest observation from the underlying-asset feed.
// Only the fields relevant to the adapter that produced it are set.
type Tick struct {
	Bid  float64
	Ask  float64
	Last float64
	TS   int64 // unix nanoseconds
}

// Mid returns (bid+ask)/2 when both are present, else Last.
func (t Tick) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Last
}

// Socket is the underlying-asset tick feed contract the Executor
// consumes: connect, run the read loop, and pull the freshest tick.
type Socket interface {
	Run(ctx context.Context) error
	Close() error
	Latest() (Tick, bool)
}

// NewSocket resolves a config channel string to a concrete adapter
// per the prefix convention decided in DESIGN.md: "binance:<symbol>"
// selects BinanceAdapter, "index:<symbol>" selects IndexAdapter.
func NewSocket(channel, url string, logger *slog.Logger) (Socket, error) {
	switch {
	case strings.HasPrefix(channel, "binance:"):
		symbol := strings.TrimPrefix(channel, "binance:")
		return NewBinanceAdapter(url, symbol, logger), nil
	case strings.HasPrefix(channel, "index:"):
		symbol := strings.TrimPrefix(channel, "index:")
		return NewIndexAdapter(url, symbol, logger), nil
	default:
		return nil, fmt.Errorf("signal: unrecognized channel %q, want \"binance:<symbol>\" or \"index:<symbol>\"", channel)
	}
}

// baseSocket holds the dial/reconnect/dispatch skeleton shared by
// both adapters, matching the teacher's WSFeed in shape.
type baseSocket struct {
	url    string
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	tickMu sync.RWMutex
	latest Tick
	hasTick bool

	subscribeMsg interface{}
	handle       func([]byte) (Tick, bool)
}

func (b *baseSocket) Latest() (Tick, bool) {
	b.tickMu.RLock()
	defer b.tickMu.RUnlock()
	return b.latest, b.hasTick
}

func (b *baseSocket) setLatest(t Tick) {
	b.tickMu.Lock()
	b.latest = t
	b.hasTick = true
	b.tickMu.Unlock()
}

func (b *baseSocket) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		err := b.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("signal socket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (b *baseSocket) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	b.connMu.Lock()
	b.conn = conn
	b.connMu.Unlock()
	defer func() {
		b.connMu.Lock()
		conn.Close()
		b.conn = nil
		b.connMu.Unlock()
	}()

	if b.subscribeMsg != nil {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(b.subscribeMsg); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if tick, ok := b.handle(data); ok {
			b.setLatest(tick)
		}
	}
}

func (b *baseSocket) Close() error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// BinanceAdapter parses Binance-style ticker frames ({bid, ask, last})
// into Tick.
type BinanceAdapter struct{ *baseSocket }

type binanceTickerFrame struct {
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
	LastPrice string `json:"c"`
}

// NewBinanceAdapter constructs a Binance-style ticker feed for symbol.
func NewBinanceAdapter(url, symbol string, logger *slog.Logger) *BinanceAdapter {
	a := &BinanceAdapter{baseSocket: &baseSocket{
		url:    fmt.Sprintf("%s/ws/%s@bookTicker", url, strings.ToLower(symbol)),
		logger: logger.With("component", "signal_websocket", "adapter", "binance", "symbol", symbol),
	}}
	a.handle = a.handleFrame
	return a
}

func (a *BinanceAdapter) handleFrame(data []byte) (Tick, bool) {
	var frame binanceTickerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		a.logger.Debug("ignoring unparseable frame", "data", string(data))
		return Tick{}, false
	}
	bid := parseFloat(frame.BidPrice)
	ask := parseFloat(frame.AskPrice)
	last := parseFloat(frame.LastPrice)
	if bid == 0 && ask == 0 && last == 0 {
		return Tick{}, false
	}
	return Tick{Bid: bid, Ask: ask, Last: last, TS: time.Now().UnixNano()}, true
}

// IndexAdapter parses index-tick frames ({v, t}) into Tick, treating
// v as both bid/ask/last since an index has no spread.
type IndexAdapter struct{ *baseSocket }

type indexTickFrame struct {
	Value float64 `json:"v"`
	Time  int64   `json:"t"`
}

// NewIndexAdapter constructs an index-tick feed for symbol.
func NewIndexAdapter(url, symbol string, logger *slog.Logger) *IndexAdapter {
	a := &IndexAdapter{baseSocket: &baseSocket{
		url:    fmt.Sprintf("%s/ws/index/%s", url, symbol),
		logger: logger.With("component", "signal_websocket", "adapter", "index", "symbol", symbol),
	}}
	a.handle = a.handleFrame
	return a
}

func (a *IndexAdapter) handleFrame(data []byte) (Tick, bool) {
	var frame indexTickFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		a.logger.Debug("ignoring unparseable frame", "data", string(data))
		return Tick{}, false
	}
	return Tick{Bid: frame.Value, Ask: frame.Value, Last: frame.Value, TS: frame.Time * int64(time.Millisecond)}, true
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
