package kafkafeed

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketdash/internal/feed"
)

// stubReader hands out records from ch and otherwise blocks like a reader
// whose brokers went quiet.
type stubReader struct {
	ch chan kafka.Message
}

func (r *stubReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *stubReader) Close() error { return nil }

// listenBroker accepts and drops TCP connections, enough for a liveness dial.
func listenBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().String()
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "stock-prices", TopicName("/topic/stock-prices"))
	assert.Equal(t, "ohlc-prices", TopicName("ohlc-prices"))
	assert.Equal(t, "queue.eu.prices", TopicName("/queue/eu/prices"))
}

func TestOpenRequiresBrokers(t *testing.T) {
	_, err := New(Config{}, nil).Open(context.Background(), []string{"/topic/a"})
	require.Error(t, err)
}

func TestOpenFailsWhenBrokerUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr := New(Config{Brokers: []string{"127.0.0.1:1"}}, nil)
	assert.Equal(t, "kafka", tr.Name())
	_, err := tr.Open(ctx, []string{"/topic/stock-prices"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka dial")
}

func TestToMessageRestoresDestination(t *testing.T) {
	s := &session{dest: map[string]string{"ohlc-prices": "/topic/ohlc-prices"}}
	m := s.toMessage(kafka.Message{Topic: "ohlc-prices", Partition: 2, Offset: 41, Value: []byte("{}")})
	assert.Equal(t, "/topic/ohlc-prices", m.Topic)
	assert.Equal(t, "ohlc-prices-2-41", m.ID)

	m = s.toMessage(kafka.Message{Topic: "other"})
	assert.Equal(t, "other", m.Topic)
}

func TestReceiveReportsHeartbeatTimeoutWhenBrokersGone(t *testing.T) {
	s := &session{
		r:       &stubReader{ch: make(chan kafka.Message)},
		brokers: []string{"127.0.0.1:1"},
		hb:      20 * time.Millisecond,
		log:     zap.NewNop().Sugar(),
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Receive(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, feed.ErrHeartbeatTimeout)
	case <-time.After(3 * time.Second):
		t.Fatal("Receive did not notice the brokers were gone")
	}
}

func TestReceiveKeepsWaitingOnIdleBroker(t *testing.T) {
	r := &stubReader{ch: make(chan kafka.Message, 1)}
	s := &session{
		r:       r,
		brokers: []string{listenBroker(t)},
		hb:      20 * time.Millisecond,
		dest:    map[string]string{"stock-prices": "/topic/stock-prices"},
		log:     zap.NewNop().Sugar(),
	}

	// Several read windows pass before the record shows up.
	time.AfterFunc(200*time.Millisecond, func() {
		r.ch <- kafka.Message{Topic: "stock-prices", Value: []byte("{}")}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	m, err := s.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/topic/stock-prices", m.Topic)
}

func TestReceiveStopsOnCancel(t *testing.T) {
	s := &session{
		r:       &stubReader{ch: make(chan kafka.Message)},
		brokers: []string{listenBroker(t)},
		hb:      20 * time.Millisecond,
		log:     zap.NewNop().Sugar(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
