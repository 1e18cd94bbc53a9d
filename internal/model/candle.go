package model

import (
	"encoding/json"
	"time"
)

// CandleUpdate is one OHLC summary of a symbol over [WindowStart, WindowEnd].
// Invariant: Low <= min(Open, Close) <= max(Open, Close) <= High.
type CandleUpdate struct {
	Symbol      string    `json:"symbol"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	TotalVolume uint64    `json:"totalVolume"`
	SampleCount uint32    `json:"count"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
}

func (CandleUpdate) Kind() Kind { return KindCandle }

func (c CandleUpdate) SymbolKey() string { return c.Symbol }

func (c CandleUpdate) EndTime() time.Time { return c.WindowEnd }

// Consistent reports whether the OHLC values respect the candle invariant.
func (c *CandleUpdate) Consistent() bool {
	lo, hi := c.Open, c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	return c.Low <= lo && hi <= c.High
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *CandleUpdate) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
