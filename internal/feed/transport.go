// Package feed manages the lifecycle of a subscription to a market-data
// broker: connecting, dispatching inbound messages by topic, and reconnecting
// with a fixed delay after the connection is lost.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HeartbeatGrace is how many heartbeat intervals may pass without inbound
// traffic before a session is considered lost.
const HeartbeatGrace = 2

var (
	// ErrHeartbeatTimeout is returned by Session.Receive when the peer went
	// silent for longer than the heartbeat grace period.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	// ErrBrokerError is returned when the broker reports an error frame.
	ErrBrokerError = errors.New("broker error")
)

// Message is one inbound payload on a topic.
type Message struct {
	Topic   string
	Payload []byte
	ID      string
}

// Handler receives every message delivered on the topic it is registered for.
type Handler func(msg Message)

// Transport opens sessions to a broker. Open dials, performs the protocol
// handshake and subscribes to topics before returning.
type Transport interface {
	Name() string
	Open(ctx context.Context, topics []string) (Session, error)
}

// Session is a live subscription. Receive is only called from one goroutine.
type Session interface {
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// TransportError describes a failed connection attempt or a lost session.
// Connected reports whether the session had been established.
type TransportError struct {
	Op        string
	Err       error
	Connected bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportError(op string, err error, connected bool) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return &TransportError{Op: op, Err: te.Err, Connected: connected}
	}
	return &TransportError{Op: op, Err: err, Connected: connected}
}

// ReadTimeout returns how long a session may wait for inbound traffic given
// the negotiated heartbeat interval. Zero means no limit.
func ReadTimeout(heartbeat time.Duration) time.Duration {
	if heartbeat <= 0 {
		return 0
	}
	return HeartbeatGrace * heartbeat
}
