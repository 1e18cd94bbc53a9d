// Package aggregator keeps, per symbol, a bounded trailing window of price
// points and candles plus the latest value seen. Events arrive one at a time
// on a channel; readers get copies.
package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketdash/internal/model"
	"marketdash/internal/rollbuf"
)

const (
	DefaultPriceCapacity  = 50
	DefaultCandleCapacity = 100
)

// Config sizes the per-symbol buffers.
type Config struct {
	PriceCapacity  int
	CandleCapacity int
	ActiveSymbol   string
}

func (c *Config) defaults() {
	if c.PriceCapacity <= 0 {
		c.PriceCapacity = DefaultPriceCapacity
	}
	if c.CandleCapacity <= 0 {
		c.CandleCapacity = DefaultCandleCapacity
	}
}

// LatestValue is the most recent event for a symbol.
type LatestValue struct {
	Event      model.Event `json:"event"`
	Kind       string      `json:"kind"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// series holds one symbol's two trailing windows.
type series struct {
	prices  *rollbuf.Buffer[model.PriceUpdate]
	candles *rollbuf.Buffer[model.CandleUpdate]
}

// Stats is a point-in-time summary of the aggregator.
type Stats struct {
	Symbols   int    `json:"symbols"`
	Events    uint64 `json:"events"`
	Evictions uint64 `json:"evictions"`
	Anomalies uint64 `json:"orderingAnomalies"`
}

// Aggregator owns every buffer and the latest-value cache. Run is the only
// mutator besides ClearData; all reads return copies.
type Aggregator struct {
	cfg Config

	mu      sync.RWMutex
	series  map[string]*series
	latest  map[string]LatestValue
	known   []string // insertion order
	active  string
	stats   Stats
	lastAt  time.Time
	nowFunc func() time.Time

	// Optional hooks, called outside the lock.
	OnEvicted         func(kind model.Kind)
	OnOrderingAnomaly func(symbol string, kind model.Kind)
}

// New creates an empty Aggregator.
func New(cfg Config) *Aggregator {
	cfg.defaults()
	return &Aggregator{
		cfg:     cfg,
		series:  make(map[string]*series),
		latest:  make(map[string]LatestValue),
		active:  cfg.ActiveSymbol,
		nowFunc: time.Now,
	}
}

// Run consumes events one at a time until ctx is cancelled or events is closed.
func (a *Aggregator) Run(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.OnEvent(ev)
		}
	}
}

// OnEvent applies a single event: lazily creates the symbol's buffers, appends
// the event (evicting the oldest entry when full) and overwrites the latest
// value. Out-of-order events are appended and reported.
func (a *Aggregator) OnEvent(ev model.Event) {
	if ev == nil {
		return
	}
	symbol := ev.SymbolKey()
	kind := ev.Kind()
	now := a.nowFunc()

	a.mu.Lock()
	s := a.seriesFor(symbol)

	var evicted, anomaly bool
	switch e := ev.(type) {
	case model.PriceUpdate:
		if last, ok := s.prices.Last(); ok && e.WindowEnd.Before(last.WindowEnd) {
			anomaly = true
		}
		_, evicted = s.prices.Push(e)
	case model.CandleUpdate:
		if last, ok := s.candles.Last(); ok && e.WindowEnd.Before(last.WindowEnd) {
			anomaly = true
		}
		_, evicted = s.candles.Push(e)
	}

	a.latest[symbol] = LatestValue{Event: ev, Kind: kind.String(), ReceivedAt: now}
	a.lastAt = now
	a.stats.Events++
	if evicted {
		a.stats.Evictions++
	}
	if anomaly {
		a.stats.Anomalies++
	}
	onEvicted, onAnomaly := a.OnEvicted, a.OnOrderingAnomaly
	a.mu.Unlock()

	if evicted && onEvicted != nil {
		onEvicted(kind)
	}
	if anomaly && onAnomaly != nil {
		onAnomaly(symbol, kind)
	}
}

// seriesFor must be called with a.mu held for writing.
func (a *Aggregator) seriesFor(symbol string) *series {
	s, ok := a.series[symbol]
	if !ok {
		s = &series{
			prices:  rollbuf.New[model.PriceUpdate](a.cfg.PriceCapacity),
			candles: rollbuf.New[model.CandleUpdate](a.cfg.CandleCapacity),
		}
		a.series[symbol] = s
		a.known = append(a.known, symbol)
	}
	return s
}

// ClearData empties every buffer, the latest-value cache and the symbol list
// in one step. The active symbol selection is kept.
func (a *Aggregator) ClearData() {
	a.mu.Lock()
	a.series = make(map[string]*series)
	a.latest = make(map[string]LatestValue)
	a.known = nil
	a.lastAt = time.Time{}
	a.mu.Unlock()
}

// Symbols returns the known symbols sorted alphabetically.
func (a *Aggregator) Symbols() []string {
	out := a.KnownSymbols()
	sort.Strings(out)
	return out
}

// KnownSymbols returns the known symbols in first-seen order.
func (a *Aggregator) KnownSymbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.known))
	copy(out, a.known)
	return out
}

// BufferFor returns a copy of the symbol's trailing windows. Unknown symbols
// yield an empty Series.
func (a *Aggregator) BufferFor(symbol string) Series {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot(symbol)
}

// snapshot must be called with a.mu held.
func (a *Aggregator) snapshot(symbol string) Series {
	out := Series{
		Symbol:  symbol,
		Prices:  []model.PriceUpdate{},
		Candles: []model.CandleUpdate{},
	}
	if s, ok := a.series[symbol]; ok {
		out.Prices = s.prices.Snapshot()
		out.Candles = s.candles.Snapshot()
	}
	return out
}

// LatestFor returns the most recent event for symbol.
func (a *Aggregator) LatestFor(symbol string) (LatestValue, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	lv, ok := a.latest[symbol]
	return lv, ok
}

// LastEventAt returns when the most recent event was applied; zero if none.
func (a *Aggregator) LastEventAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastAt
}

// Stats returns counters and the current symbol count.
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := a.stats
	st.Symbols = len(a.known)
	return st
}
