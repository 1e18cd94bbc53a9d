package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"marketdash/internal/model"
)

// Metrics holds all Prometheus metrics for the dashboard buffer.
type Metrics struct {
	EventsTotal       *prometheus.CounterVec // labels: kind
	DecodeErrorsTotal *prometheus.CounterVec // labels: topic
	DroppedEvents     prometheus.Counter
	EvictionsTotal    *prometheus.CounterVec // labels: kind
	OrderingAnomalies *prometheus.CounterVec // labels: kind
	Reconnects        prometheus.Counter
	Clears            prometheus.Counter

	ConnectionState prometheus.Gauge // 0=disconnected, 1=connecting, 2=connected, 3=error
	Symbols         prometheus.Gauge
	ChannelFill     prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdash_events_total",
			Help: "Decoded events applied, by kind",
		}, []string{"kind"}),
		DecodeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdash_decode_errors_total",
			Help: "Messages rejected by the decoder, by topic",
		}, []string{"topic"}),
		DroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdash_dropped_events_total",
			Help: "Events dropped because the aggregator queue was full",
		}),
		EvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdash_buffer_evictions_total",
			Help: "Entries evicted from full rolling buffers, by kind",
		}, []string{"kind"}),
		OrderingAnomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdash_ordering_anomalies_total",
			Help: "Events whose window ended before the previous entry's",
		}, []string{"kind"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdash_feed_reconnects_total",
			Help: "Reconnect attempts scheduled by the connection manager",
		}),
		Clears: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdash_clears_total",
			Help: "Times all buffered data was cleared",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdash_connection_state",
			Help: "Feed connection state (0=disconnected, 1=connecting, 2=connected, 3=error)",
		}),
		Symbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdash_symbols",
			Help: "Symbols with buffered data",
		}),
		ChannelFill: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdash_event_queue_fill_pct",
			Help: "Aggregator queue fill percentage (len/cap * 100)",
		}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.DecodeErrorsTotal,
		m.DroppedEvents,
		m.EvictionsTotal,
		m.OrderingAnomalies,
		m.Reconnects,
		m.Clears,
		m.ConnectionState,
		m.Symbols,
		m.ChannelFill,
	)
	return m
}

func (m *Metrics) Event(kind model.Kind)    { m.EventsTotal.WithLabelValues(kind.String()).Inc() }
func (m *Metrics) Evicted(kind model.Kind)  { m.EvictionsTotal.WithLabelValues(kind.String()).Inc() }
func (m *Metrics) DecodeError(topic string) { m.DecodeErrorsTotal.WithLabelValues(topic).Inc() }

func (m *Metrics) Anomaly(_ string, kind model.Kind) {
	m.OrderingAnomalies.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) State(_, to model.ConnectionState) { m.ConnectionState.Set(to.Gauge()) }

// QueueFill records how full a buffered channel is.
func (m *Metrics) QueueFill(length, capacity int) {
	if capacity == 0 {
		return
	}
	m.ChannelFill.Set(float64(length) / float64(capacity) * 100)
}
