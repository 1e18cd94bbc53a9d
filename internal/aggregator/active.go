package aggregator

import (
	"strings"

	"marketdash/internal/model"
)

// View is what a detail panel shows for the active symbol. LastCandle carries
// the OHLC and volume even when the most recent event was a price update.
type View struct {
	Symbol     string              `json:"symbol"`
	Series     Series              `json:"series"`
	Latest     *LatestValue        `json:"latest,omitempty"`
	LastCandle *model.CandleUpdate `json:"lastCandle,omitempty"`
}

// SelectActive marks symbol as the one consumers display in detail.
func (a *Aggregator) SelectActive(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	a.mu.Lock()
	a.active = symbol
	a.mu.Unlock()
}

// Active returns the selected symbol, or "" when none is selected.
func (a *Aggregator) Active() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// ActiveView returns the active symbol with its series and latest value, read
// under one lock. Latest is nil until the symbol has data.
func (a *Aggregator) ActiveView() View {
	a.mu.RLock()
	defer a.mu.RUnlock()

	v := View{Symbol: a.active, Series: a.snapshot(a.active)}
	if lv, ok := a.latest[a.active]; ok {
		v.Latest = &lv
	}
	if s, ok := a.series[a.active]; ok {
		if c, ok := s.candles.Last(); ok {
			v.LastCandle = &c
		}
	}
	return v
}
