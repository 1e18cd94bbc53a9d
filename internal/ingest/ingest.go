// Package ingest decodes raw feed messages into typed events and queues them
// for the aggregator.
package ingest

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"marketdash/internal/decode"
	"marketdash/internal/feed"
	"marketdash/internal/model"
)

// Route binds a topic to the kind of payload it carries. A zero Kind picks the
// kind per message.
type Route struct {
	Topic string
	Kind  model.Kind
}

// Ingest turns feed messages into events on out. It never blocks the
// connection: when out is full the event is dropped.
type Ingest struct {
	routes []Route
	out    chan<- model.Event
	log    *zap.SugaredLogger

	decoded      atomic.Uint64
	decodeErrors atomic.Uint64
	dropped      atomic.Uint64

	// Optional metrics hooks
	OnDecoded     func(kind model.Kind)
	OnDecodeError func(topic string)
	OnDropped     func()
}

// New creates an Ingest writing to out.
func New(routes []Route, out chan<- model.Event, log *zap.SugaredLogger) *Ingest {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ingest{routes: routes, out: out, log: log}
}

// Attach registers a handler on m for every route.
func (in *Ingest) Attach(m *feed.Manager) {
	for _, r := range in.routes {
		m.OnMessage(r.Topic, in.Handler(r))
	}
}

// Handler returns the feed handler for one route.
func (in *Ingest) Handler(r Route) feed.Handler {
	dec := decode.NewAuto()
	if r.Kind != 0 {
		dec = decode.New(r.Kind)
	}
	return func(msg feed.Message) {
		ev, err := dec.Decode(msg.Payload)
		if err != nil {
			in.decodeErrors.Add(1)
			reason := err.Error()
			var de *decode.DecodeError
			if errors.As(err, &de) {
				reason = de.Reason + ": " + de.Err.Error()
			}
			in.log.Warnw("[ingest] dropping undecodable message",
				"topic", msg.Topic, "msg_id", msg.ID, "reason", reason, "bytes", len(msg.Payload))
			if in.OnDecodeError != nil {
				in.OnDecodeError(msg.Topic)
			}
			return
		}

		select {
		case in.out <- ev:
			in.decoded.Add(1)
			if in.OnDecoded != nil {
				in.OnDecoded(ev.Kind())
			}
		default:
			in.dropped.Add(1)
			in.log.Warnw("[ingest] event channel full, dropping event", "symbol", ev.SymbolKey(), "kind", ev.Kind().String())
			if in.OnDropped != nil {
				in.OnDropped()
			}
		}
	}
}

// Stats are cumulative message counters.
type Stats struct {
	Decoded      uint64 `json:"decoded"`
	DecodeErrors uint64 `json:"decodeErrors"`
	Dropped      uint64 `json:"dropped"`
}

func (in *Ingest) Stats() Stats {
	return Stats{
		Decoded:      in.decoded.Load(),
		DecodeErrors: in.decodeErrors.Load(),
		Dropped:      in.dropped.Load(),
	}
}
