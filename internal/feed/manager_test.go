package feed

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdash/internal/model"
)

type fakeSession struct {
	msgs   chan Message
	drop   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		msgs:   make(chan Message, 16),
		drop:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case err := <-s.drop:
		return Message{}, err
	case m := <-s.msgs:
		return m, nil
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	failures int
	opens    int
	topics   []string
	sessions chan *fakeSession
}

func newFakeTransport(failures int) *fakeTransport {
	return &fakeTransport{failures: failures, sessions: make(chan *fakeSession, 16)}
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Open(ctx context.Context, topics []string) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	t.topics = topics
	if t.failures != 0 {
		if t.failures > 0 {
			t.failures--
		}
		return nil, errors.New("connection refused")
	}
	s := newFakeSession()
	t.sessions <- s
	return s, nil
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

type transition struct{ from, to model.ConnectionState }

func record(m *Manager) <-chan transition {
	ch := make(chan transition, 64)
	m.Observe(func(from, to model.ConnectionState) { ch <- transition{from, to} })
	return ch
}

func expectStates(t *testing.T, ch <-chan transition, want ...model.ConnectionState) {
	t.Helper()
	for _, w := range want {
		select {
		case tr := <-ch:
			require.Equal(t, w, tr.to, "transition from %s", tr.from)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
}

func expectQuiet(t *testing.T, ch <-chan transition, d time.Duration) {
	t.Helper()
	select {
	case tr := <-ch:
		t.Fatalf("unexpected transition %s -> %s", tr.from, tr.to)
	case <-time.After(d):
	}
}

const testDelay = 30 * time.Millisecond

func TestConnectReachesConnected(t *testing.T) {
	tr := newFakeTransport(0)
	m := NewManager(tr, ManagerConfig{ReconnectDelay: testDelay}, nil)
	m.OnMessage("/topic/a", func(Message) {})
	m.OnMessage("/topic/b", func(Message) {})
	states := record(m)

	assert.Equal(t, model.Disconnected, m.State())
	m.Connect()
	defer m.Disconnect()

	expectStates(t, states, model.Connecting, model.Connected)
	assert.Equal(t, []string{"/topic/a", "/topic/b"}, tr.topics)
}

func TestConnectIsNoopWhileRunning(t *testing.T) {
	tr := newFakeTransport(0)
	m := NewManager(tr, ManagerConfig{ReconnectDelay: testDelay}, nil)
	states := record(m)

	m.Connect()
	defer m.Disconnect()
	expectStates(t, states, model.Connecting, model.Connected)
	m.Connect()
	expectQuiet(t, states, 3*testDelay)
	assert.Equal(t, 1, tr.openCount())
}

func TestLostSessionReconnectsAfterDelay(t *testing.T) {
	tr := newFakeTransport(0)
	m := NewManager(tr, ManagerConfig{ReconnectDelay: testDelay}, nil)
	var hooked int
	m.OnReconnect = func() { hooked++ }
	states := record(m)

	m.Connect()
	defer m.Disconnect()
	expectStates(t, states, model.Connecting, model.Connected)

	first := <-tr.sessions
	lostAt := time.Now()
	first.drop <- io.EOF

	expectStates(t, states, model.Disconnected, model.Connecting)
	assert.GreaterOrEqual(t, time.Since(lostAt), testDelay)
	expectStates(t, states, model.Connected)

	<-first.closed
	assert.Equal(t, uint64(1), m.Reconnects())
	assert.Equal(t, 1, hooked)
}

func TestOpenFailureGoesToError(t *testing.T) {
	tr := newFakeTransport(2)
	m := NewManager(tr, ManagerConfig{ReconnectDelay: testDelay}, nil)
	states := record(m)

	m.Connect()
	defer m.Disconnect()
	expectStates(t, states,
		model.Connecting, model.Error,
		model.Connecting, model.Error,
		model.Connecting, model.Connected)
	assert.Equal(t, 3, tr.openCount())
	assert.Equal(t, uint64(2), m.Reconnects())
}

func TestHeartbeatLossIsDisconnect(t *testing.T) {
	tr := newFakeTransport(0)
	m := NewManager(tr, ManagerConfig{ReconnectDelay: testDelay}, nil)
	states := record(m)

	m.Connect()
	defer m.Disconnect()
	expectStates(t, states, model.Connecting, model.Connected)
	(<-tr.sessions).drop <- ErrHeartbeatTimeout
	expectStates(t, states, model.Disconnected, model.Connecting, model.Connected)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	tr := newFakeTransport(0)
	m := NewManager(tr, ManagerConfig{ReconnectDelay: testDelay}, nil)
	states := record(m)

	m.Disconnect()
	expectQuiet(t, states, testDelay)

	m.Connect()
	expectStates(t, states, model.Connecting, model.Connected)
	sess := <-tr.sessions

	m.Disconnect()
	m.Disconnect()
	expectStates(t, states, model.Disconnected)
	<-sess.closed
	assert.Equal(t, model.Disconnected, m.State())
	expectQuiet(t, states, 3*testDelay)
	assert.Equal(t, 1, tr.openCount())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	tr := newFakeTransport(-1)
	m := NewManager(tr, ManagerConfig{ReconnectDelay: 100 * time.Millisecond}, nil)
	states := record(m)

	m.Connect()
	expectStates(t, states, model.Connecting, model.Error)
	m.Disconnect()
	expectStates(t, states, model.Disconnected)

	expectQuiet(t, states, 250*time.Millisecond)
	assert.Equal(t, 1, tr.openCount())

	m.Connect()
	defer m.Disconnect()
	expectStates(t, states, model.Connecting, model.Error)
}

func TestDispatchByTopic(t *testing.T) {
	tr := newFakeTransport(0)
	m := NewManager(tr, ManagerConfig{ReconnectDelay: testDelay}, nil)
	got := make(chan Message, 4)
	m.OnMessage("/topic/a", func(msg Message) { got <- msg })
	states := record(m)

	m.Connect()
	defer m.Disconnect()
	expectStates(t, states, model.Connecting, model.Connected)

	sess := <-tr.sessions
	sess.msgs <- Message{Topic: "/topic/other", Payload: []byte("x")}
	sess.msgs <- Message{Topic: "/topic/a", Payload: []byte(`{"a":1}`)}

	select {
	case msg := <-got:
		assert.Equal(t, "/topic/a", msg.Topic)
		assert.JSONEq(t, `{"a":1}`, string(msg.Payload))
		assert.NotEmpty(t, msg.ID)
	case <-time.After(time.Second):
		t.Fatal("message not dispatched")
	}
	assert.Empty(t, got)
}

func TestReconnectRestartsSession(t *testing.T) {
	tr := newFakeTransport(0)
	m := NewManager(tr, ManagerConfig{ReconnectDelay: time.Hour}, nil)
	states := record(m)

	m.Connect()
	defer m.Disconnect()
	expectStates(t, states, model.Connecting, model.Connected)

	m.Reconnect()
	expectStates(t, states, model.Disconnected, model.Connecting, model.Connected)
	assert.Equal(t, 2, tr.openCount())
}

func TestTransportErrorUnwraps(t *testing.T) {
	err := transportError("receive", &TransportError{Op: "read", Err: ErrHeartbeatTimeout}, true)
	assert.ErrorIs(t, err, ErrHeartbeatTimeout)
	assert.True(t, err.Connected)
	assert.Equal(t, "feed receive: heartbeat timeout", err.Error())
	assert.Equal(t, 8*time.Second, ReadTimeout(4*time.Second))
	assert.Zero(t, ReadTimeout(0))
}
