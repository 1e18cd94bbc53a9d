package aggregator

import (
	"time"

	"marketdash/internal/model"
)

// Series is a read-only copy of one symbol's trailing windows, oldest first.
type Series struct {
	Symbol  string               `json:"symbol"`
	Prices  []model.PriceUpdate  `json:"prices"`
	Candles []model.CandleUpdate `json:"candles"`
}

// Empty reports whether the series holds no data of either kind.
func (s Series) Empty() bool {
	return len(s.Prices) == 0 && len(s.Candles) == 0
}

// CandleArrays is the column layout candlestick charts consume. X is the
// window end in epoch milliseconds.
type CandleArrays struct {
	X      []int64   `json:"x"`
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []uint64  `json:"volume"`
}

// CandleArrays splits the candles into parallel columns.
func (s Series) CandleArrays() CandleArrays {
	n := len(s.Candles)
	out := CandleArrays{
		X:      make([]int64, n),
		Open:   make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Close:  make([]float64, n),
		Volume: make([]uint64, n),
	}
	for i, c := range s.Candles {
		out.X[i] = c.WindowEnd.UnixMilli()
		out.Open[i] = c.Open
		out.High[i] = c.High
		out.Low[i] = c.Low
		out.Close[i] = c.Close
		out.Volume[i] = c.TotalVolume
	}
	return out
}

// PricePoint is one sample of a line chart.
type PricePoint struct {
	T      time.Time `json:"t"`
	Price  float64   `json:"price"`
	Volume uint64    `json:"volume"`
}

// PricePoints returns the price updates as timestamp/price pairs.
func (s Series) PricePoints() []PricePoint {
	out := make([]PricePoint, len(s.Prices))
	for i, p := range s.Prices {
		out[i] = PricePoint{T: p.WindowEnd, Price: p.Price, Volume: p.Volume}
	}
	return out
}
