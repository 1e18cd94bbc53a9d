package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdash/internal/aggregator"
	"marketdash/internal/model"
)

type fakeConn struct {
	state      model.ConnectionState
	connects   int
	reconnects int
}

func (f *fakeConn) State() model.ConnectionState { return f.state }
func (f *fakeConn) TransportName() string        { return "stomp" }
func (f *fakeConn) Reconnects() uint64           { return uint64(f.reconnects) }
func (f *fakeConn) Connect()                     { f.connects++; f.state = model.Connecting }
func (f *fakeConn) Disconnect()                  { f.state = model.Disconnected }
func (f *fakeConn) Reconnect()                   { f.reconnects++; f.state = model.Connecting }

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func candle(sym string, close float64, minute int) model.CandleUpdate {
	return model.CandleUpdate{
		Symbol: sym, Open: close, High: close + 1, Low: close - 1, Close: close,
		TotalVolume: 10, SampleCount: 1,
		WindowStart: t0.Add(time.Duration(minute) * time.Minute),
		WindowEnd:   t0.Add(time.Duration(minute+1) * time.Minute),
	}
}

func setup(t *testing.T) (*gin.Engine, *aggregator.Aggregator, *fakeConn, *int) {
	t.Helper()
	agg := aggregator.New(aggregator.Config{ActiveSymbol: "AAPL"})
	conn := &fakeConn{state: model.Connected}
	clears := 0
	r := NewRouter(Deps{
		Store:   agg,
		Conn:    conn,
		Health:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		OnClear: func() { clears++ },
	})
	return r, agg, conn, &clears
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSymbols(t *testing.T) {
	r, agg, _, _ := setup(t)
	agg.OnEvent(candle("TSLA", 1, 0))
	agg.OnEvent(candle("AAPL", 1, 0))

	rec := do(r, http.MethodGet, "/api/symbols", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"symbols":["AAPL","TSLA"],"known":["TSLA","AAPL"]}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestBufferViews(t *testing.T) {
	r, agg, _, _ := setup(t)
	agg.OnEvent(candle("AAPL", 150, 0))
	agg.OnEvent(candle("AAPL", 151, 1))

	rec := do(r, http.MethodGet, "/api/symbols/aapl/buffer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var s aggregator.Series
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "AAPL", s.Symbol)
	require.Len(t, s.Candles, 2)
	assert.Equal(t, 151.0, s.Candles[1].Close)
	assert.Empty(t, s.Prices)

	rec = do(r, http.MethodGet, "/api/symbols/AAPL/buffer?view=arrays", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	candles := body["candles"].(map[string]any)
	assert.Equal(t, []any{150.0, 151.0}, candles["close"])

	rec = do(r, http.MethodGet, "/api/symbols/AAPL/buffer?view=pie", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodGet, "/api/symbols/NOPE/buffer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"symbol":"NOPE","prices":[],"candles":[]}`, rec.Body.String())
}

func TestLatest(t *testing.T) {
	r, agg, _, _ := setup(t)
	rec := do(r, http.MethodGet, "/api/symbols/AAPL/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	agg.OnEvent(candle("AAPL", 150, 0))
	rec = do(r, http.MethodGet, "/api/symbols/AAPL/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "candle", body["kind"])
	assert.Equal(t, 150.0, body["event"].(map[string]any)["close"])
}

func TestClear(t *testing.T) {
	r, agg, _, clears := setup(t)
	agg.OnEvent(candle("AAPL", 150, 0))

	rec := do(r, http.MethodPost, "/api/clear", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, agg.Symbols())
	assert.Equal(t, 1, *clears)
}

func TestActive(t *testing.T) {
	r, agg, _, _ := setup(t)

	body := decodeBody(t, do(r, http.MethodGet, "/api/active", ""))
	assert.Equal(t, "AAPL", body["symbol"])
	assert.Equal(t, false, body["hasData"])

	agg.OnEvent(candle("MSFT", 300, 0))
	rec := do(r, http.MethodPut, "/api/active", `{"symbol":"msft"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "MSFT", body["symbol"])
	assert.Equal(t, true, body["hasData"])
	lastCandle, ok := body["lastCandle"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 300.0, lastCandle["close"])

	rec = do(r, http.MethodPut, "/api/active", `{"symbol":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(r, http.MethodPut, "/api/active", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectionControl(t *testing.T) {
	r, _, conn, _ := setup(t)

	rec := do(r, http.MethodGet, "/api/connection", "")
	assert.JSONEq(t, `{"state":"Connected","transport":"stomp","reconnects":0}`, rec.Body.String())

	rec = do(r, http.MethodPost, "/api/connection/disconnect", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Disconnected", decodeBody(t, rec)["state"])

	rec = do(r, http.MethodPost, "/api/connection/connect", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, conn.connects)

	rec = do(r, http.MethodPost, "/api/connection/reconnect", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1.0, decodeBody(t, rec)["reconnects"])
}

func TestHealthAndCORS(t *testing.T) {
	r, _, _, _ := setup(t)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)

	rec := do(r, http.MethodOptions, "/api/symbols", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
