package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdash/internal/model"
)

func TestCollectorsRegisterOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	// A second registry must not collide.
	New(prometheus.NewRegistry())

	m.Event(model.KindCandle)
	m.Event(model.KindCandle)
	m.Evicted(model.KindPrice)
	m.DecodeError("/topic/ohlc-prices")
	m.Anomaly("AAPL", model.KindPrice)
	m.State(model.Connecting, model.Connected)
	m.QueueFill(25, 100)
	m.QueueFill(1, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("candle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvictionsTotal.WithLabelValues("price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrorsTotal.WithLabelValues("/topic/ohlc-prices")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrderingAnomalies.WithLabelValues("price")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionState))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.ChannelFill))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestHealthz(t *testing.T) {
	h := NewHealthStatus("stomp")
	now := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	h.StartedAt = now.Add(-time.Minute)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetState(model.Connecting, model.Connected)
	h.SetLastEventTime(now.Add(-1500 * time.Millisecond))
	h.SetSymbols(3)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "Connected", body["state"])
	assert.Equal(t, "1.5s", body["event_age"])
	assert.Equal(t, "1m0s", body["uptime"])
	assert.Equal(t, 3.0, body["symbols"])
}
