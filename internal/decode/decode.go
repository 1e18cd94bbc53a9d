// Package decode turns raw broker payloads into validated model events.
//
// Payloads are JSON objects shaped like the upstream Spring feed:
//
//	{"symbol":"AAPL","averagePrice":187.2,"totalVolume":1200,"count":14,
//	 "windowStart":"2024-03-01T14:30:00","windowEnd":"2024-03-01T14:30:05"}
//
// Candle payloads replace averagePrice with open/high/low/close.
package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"marketdash/internal/model"
)

// Decoder validates payloads of one kind, or sniffs the kind when built with
// NewAuto.
type Decoder struct {
	kind model.Kind
	auto bool
}

// New returns a decoder for a single event kind.
func New(kind model.Kind) *Decoder {
	return &Decoder{kind: kind}
}

// NewAuto returns a decoder for topics carrying both kinds. A payload with an
// "open" field is a candle, anything else is a price update.
func NewAuto() *Decoder {
	return &Decoder{auto: true}
}

// Decode parses raw into a PriceUpdate or CandleUpdate. Every failure is a
// *DecodeError.
func (d *Decoder) Decode(raw []byte) (model.Event, error) {
	var obj fields
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fail(raw, fmt.Errorf("%w: %v", ErrMalformed, err), "not a JSON object")
	}
	if obj == nil {
		return nil, fail(raw, ErrMalformed, "not a JSON object")
	}

	kind := d.kind
	if d.auto {
		kind = model.KindPrice
		if _, ok := obj["open"]; ok {
			kind = model.KindCandle
		}
	}

	var (
		ev  model.Event
		err error
	)
	switch kind {
	case model.KindCandle:
		ev, err = decodeCandle(obj)
	case model.KindPrice:
		ev, err = decodePrice(obj)
	default:
		return nil, fail(raw, ErrMalformed, fmt.Sprintf("unsupported kind %v", kind))
	}
	if err != nil {
		return nil, fail(raw, err, "invalid "+kind.String())
	}
	return ev, nil
}

func decodePrice(obj fields) (model.Event, error) {
	symbol, err := obj.symbol()
	if err != nil {
		return nil, err
	}
	priceKey := "averagePrice"
	if _, ok := obj[priceKey]; !ok {
		priceKey = "price"
	}
	price, err := obj.positive(priceKey)
	if err != nil {
		return nil, err
	}
	volume, err := obj.unsigned("totalVolume", math.MaxUint64)
	if err != nil {
		return nil, err
	}
	count, err := obj.unsigned("count", math.MaxUint32)
	if err != nil {
		return nil, err
	}
	start, end, err := obj.window()
	if err != nil {
		return nil, err
	}
	return model.PriceUpdate{
		Symbol:      symbol,
		Price:       price,
		Volume:      volume,
		SampleCount: uint32(count),
		WindowStart: start,
		WindowEnd:   end,
	}, nil
}

func decodeCandle(obj fields) (model.Event, error) {
	symbol, err := obj.symbol()
	if err != nil {
		return nil, err
	}
	var ohlc [4]float64
	for i, key := range [...]string{"open", "high", "low", "close"} {
		if ohlc[i], err = obj.positive(key); err != nil {
			return nil, err
		}
	}
	volume, err := obj.unsigned("totalVolume", math.MaxUint64)
	if err != nil {
		return nil, err
	}
	count, err := obj.unsigned("count", math.MaxUint32)
	if err != nil {
		return nil, err
	}
	start, end, err := obj.window()
	if err != nil {
		return nil, err
	}

	c := model.CandleUpdate{
		Symbol:      symbol,
		Open:        ohlc[0],
		High:        ohlc[1],
		Low:         ohlc[2],
		Close:       ohlc[3],
		TotalVolume: volume,
		SampleCount: uint32(count),
		WindowStart: start,
		WindowEnd:   end,
	}
	if !c.Consistent() {
		return nil, fmt.Errorf("%w: open=%g high=%g low=%g close=%g", ErrOHLCOrder, c.Open, c.High, c.Low, c.Close)
	}
	return c, nil
}

// fields is a JSON object with values left raw so presence and type can be
// checked per key.
type fields map[string]json.RawMessage

func (f fields) raw(key string) (json.RawMessage, error) {
	v, ok := f[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return v, nil
}

func (f fields) symbol() (string, error) {
	v, err := f.raw("symbol")
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: symbol must be a string", ErrWrongType)
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("%w: symbol is empty", ErrInvalidValue)
	}
	return s, nil
}

func (f fields) number(key string) (float64, error) {
	v, err := f.raw(key)
	if err != nil {
		return 0, err
	}
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", ErrWrongType, key)
	}
	return n, nil
}

func (f fields) positive(key string) (float64, error) {
	n, err := f.number(key)
	if err != nil {
		return 0, err
	}
	if !(n > 0) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: %s must be > 0, got %g", ErrInvalidValue, key, n)
	}
	return n, nil
}

// unsigned reads an integer field from its literal text so values above 2^53
// keep full precision. Exponent forms like 1.2e3 are accepted when integral.
func (f fields) unsigned(key string, max uint64) (uint64, error) {
	if _, err := f.number(key); err != nil {
		return 0, err
	}
	lit := string(bytes.TrimSpace(f[key]))
	r, ok := new(big.Rat).SetString(lit)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", ErrWrongType, key)
	}
	if r.Sign() < 0 || !r.IsInt() {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %s", ErrInvalidValue, key, lit)
	}
	n := r.Num()
	if !n.IsUint64() || n.Uint64() > max {
		return 0, fmt.Errorf("%w: %s out of range, got %s", ErrInvalidValue, key, lit)
	}
	return n.Uint64(), nil
}

func (f fields) window() (time.Time, time.Time, error) {
	start, err := f.timestamp("windowStart")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := f.timestamp("windowEnd")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: windowEnd %s before windowStart %s",
			ErrInvalidValue, end.Format(time.RFC3339Nano), start.Format(time.RFC3339Nano))
	}
	return start, end, nil
}

// Zone-less layouts are what Jackson emits for LocalDateTime; they are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (f fields) timestamp(key string) (time.Time, error) {
	v, err := f.raw(key)
	if err != nil {
		return time.Time{}, err
	}

	var ms float64
	if err := json.Unmarshal(v, &ms); err == nil {
		if ms < 0 || ms != math.Trunc(ms) {
			return time.Time{}, fmt.Errorf("%w: %s epoch millis %g", ErrInvalidValue, key, ms)
		}
		return time.UnixMilli(int64(ms)).UTC(), nil
	}

	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be a timestamp string or epoch millis", ErrWrongType, key)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s %q is not a recognised timestamp", ErrInvalidValue, key, s)
}
