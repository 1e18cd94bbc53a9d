// Package model holds the market-data types shared by the decoder, the
// aggregator and the read API.
package model

import "time"

// Kind tags the concrete type behind an Event.
type Kind int

const (
	KindPrice Kind = iota + 1
	KindCandle
)

func (k Kind) String() string {
	switch k {
	case KindPrice:
		return "price"
	case KindCandle:
		return "candle"
	default:
		return "unknown"
	}
}

// Event is a validated market-data update. Only PriceUpdate and CandleUpdate
// implement it; values are produced by the decode package.
type Event interface {
	Kind() Kind
	SymbolKey() string
	EndTime() time.Time
}

var (
	_ Event = PriceUpdate{}
	_ Event = CandleUpdate{}
)
