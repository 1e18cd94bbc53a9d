package main

import (
	"math"
	"math/rand"
	"time"

	"marketdash/internal/model"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64

	// candle being built
	open, high, low, close float64
	volume                 uint64
	count                  uint32
	start                  time.Time
}

// generator produces one windowed price update per symbol per step and a
// candle every candleEvery steps.
type generator struct {
	rng         *rand.Rand
	instruments []*instrument
	samples     int
	candleEvery int
	steps       int
}

var defaultPrices = map[string]float64{
	"AAPL": 187.50,
	"MSFT": 415.20,
	"GOOG": 152.80,
	"TSLA": 201.10,
	"AMZN": 178.30,
}

func newGenerator(symbols []string, samples, candleEvery int, seed int64) *generator {
	g := &generator{
		rng:         rand.New(rand.NewSource(seed)),
		samples:     max(samples, 1),
		candleEvery: max(candleEvery, 1),
	}
	for _, s := range symbols {
		p := defaultPrices[s]
		if p == 0 {
			p = 100
		}
		g.instruments = append(g.instruments, &instrument{Symbol: s, Price: p})
	}
	return g
}

// walk applies a small random walk (±0.1%) to simulate price movement.
func (g *generator) walk(price float64) float64 {
	pct := (g.rng.Float64()*0.2 - 0.1) / 100.0
	next := math.Round(price*(1+pct)*100) / 100
	if next < 0.01 {
		next = 0.01
	}
	return next
}

// step advances every instrument over [start, end).
func (g *generator) step(start, end time.Time) ([]model.PriceUpdate, []model.CandleUpdate) {
	g.steps++
	prices := make([]model.PriceUpdate, 0, len(g.instruments))
	var candles []model.CandleUpdate

	for _, in := range g.instruments {
		if in.count == 0 {
			in.start = start
			in.open, in.high, in.low = in.Price, in.Price, in.Price
		}
		var sum float64
		var vol uint64
		for i := 0; i < g.samples; i++ {
			in.Price = g.walk(in.Price)
			sum += in.Price
			vol += uint64(g.rng.Intn(100) + 1)
			in.high = math.Max(in.high, in.Price)
			in.low = math.Min(in.low, in.Price)
		}
		in.close = in.Price
		in.volume += vol
		in.count += uint32(g.samples)

		prices = append(prices, model.PriceUpdate{
			Symbol:      in.Symbol,
			Price:       math.Round(sum/float64(g.samples)*100) / 100,
			Volume:      vol,
			SampleCount: uint32(g.samples),
			WindowStart: start,
			WindowEnd:   end,
		})

		if g.steps%g.candleEvery == 0 {
			candles = append(candles, model.CandleUpdate{
				Symbol:      in.Symbol,
				Open:        in.open,
				High:        in.high,
				Low:         in.low,
				Close:       in.close,
				TotalVolume: in.volume,
				SampleCount: in.count,
				WindowStart: in.start,
				WindowEnd:   end,
			})
			in.volume, in.count = 0, 0
		}
	}
	return prices, candles
}
