package model

import (
	"encoding/json"
	"time"
)

// PriceUpdate is an averaged price for one symbol over [WindowStart, WindowEnd].
// Volume is cumulative or windowed depending on the feed.
type PriceUpdate struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"averagePrice"`
	Volume      uint64    `json:"totalVolume"`
	SampleCount uint32    `json:"count"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
}

func (PriceUpdate) Kind() Kind { return KindPrice }

func (p PriceUpdate) SymbolKey() string { return p.Symbol }

func (p PriceUpdate) EndTime() time.Time { return p.WindowEnd }

// JSON returns the JSON-encoded update.
func (p *PriceUpdate) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
