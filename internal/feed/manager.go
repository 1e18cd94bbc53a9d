package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketdash/internal/model"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultHeartbeat      = 4 * time.Second
)

// ManagerConfig controls reconnect timing. Heartbeats are negotiated by each
// Transport.
type ManagerConfig struct {
	ReconnectDelay time.Duration
}

// Manager owns one logical connection to a broker. It reconnects forever with
// a constant delay until Disconnect is called.
type Manager struct {
	transport Transport
	cfg       ManagerConfig
	log       *zap.SugaredLogger

	mu        sync.Mutex
	notifyMu  sync.Mutex // orders observer calls the same as state changes
	handlers  map[string][]Handler
	topics    []string
	observers []func(from, to model.ConnectionState)
	state     model.ConnectionState
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}

	reconnects atomic.Uint64

	// OnReconnect is called each time a reconnect is scheduled.
	OnReconnect func()
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(t Transport, cfg ManagerConfig, log *zap.SugaredLogger) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		transport: t,
		cfg:       cfg,
		log:       log,
		handlers:  make(map[string][]Handler),
		state:     model.Disconnected,
	}
}

// TransportName returns the name of the underlying transport.
func (m *Manager) TransportName() string { return m.transport.Name() }

// OnMessage registers h for topic. Topics registered before Connect form the
// subscription set of the next session.
func (m *Manager) OnMessage(topic string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handlers[topic]; !ok {
		m.topics = append(m.topics, topic)
	}
	m.handlers[topic] = append(m.handlers[topic], h)
}

// Observe registers fn to be called on every state transition. fn runs on the
// goroutine that caused the transition. It must not block or call back into
// the Manager.
func (m *Manager) Observe(fn func(from, to model.ConnectionState)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reconnects returns how many reconnects have been scheduled.
func (m *Manager) Reconnects() uint64 { return m.reconnects.Load() }

// Connect starts connecting in the background. It is a no-op while a
// connection is active or a reconnect is pending.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	topics := append([]string(nil), m.topics...)
	go m.run(ctx, m.gen, topics, m.done)
}

// Disconnect closes the session, cancels any pending reconnect and waits for
// the connection goroutine to exit. Calling it again is a no-op. It must not
// be called from a Handler.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.cancel()
	m.cancel = nil
	done := m.done
	from := m.state
	m.state = model.Disconnected
	observers := m.observers
	m.notifyMu.Lock()
	m.mu.Unlock()

	if from != model.Disconnected {
		notify(observers, from, model.Disconnected)
	}
	m.notifyMu.Unlock()
	<-done
	m.log.Infow("[feed] disconnected", "transport", m.transport.Name())
}

// Reconnect drops the current session, if any, and connects again.
func (m *Manager) Reconnect() {
	m.Disconnect()
	m.Connect()
}

func (m *Manager) run(ctx context.Context, gen uint64, topics []string, done chan struct{}) {
	defer close(done)

	op := func() error {
		if !m.setState(gen, model.Connecting) {
			return backoff.Permanent(context.Canceled)
		}
		sess, err := m.transport.Open(ctx, topics)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return transportError("open", err, false)
		}
		defer sess.Close()

		if !m.setState(gen, model.Connected) {
			return backoff.Permanent(context.Canceled)
		}
		m.log.Infow("[feed] connected", "transport", m.transport.Name(), "topics", topics)

		for {
			msg, err := sess.Receive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return transportError("receive", err, true)
			}
			m.dispatch(msg)
		}
	}

	notify := func(err error, wait time.Duration) {
		to := model.Disconnected
		var te *TransportError
		if errors.As(err, &te) && !te.Connected {
			to = model.Error
		}
		if !m.setState(gen, to) {
			return
		}
		m.reconnects.Add(1)
		m.log.Warnw("[feed] connection lost, reconnecting",
			"transport", m.transport.Name(), "error", err, "state", to.String(), "retry_in", wait)
		if m.OnReconnect != nil {
			m.OnReconnect()
		}
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(m.cfg.ReconnectDelay), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil && ctx.Err() == nil {
		m.log.Errorw("[feed] connection loop stopped", "error", err)
	}
}

// setState applies a transition on behalf of run generation gen. It reports
// false when gen is stale.
func (m *Manager) setState(gen uint64, to model.ConnectionState) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	from := m.state
	m.state = to
	observers := m.observers
	m.notifyMu.Lock()
	m.mu.Unlock()

	if from != to {
		notify(observers, from, to)
	}
	m.notifyMu.Unlock()
	return true
}

func notify(observers []func(from, to model.ConnectionState), from, to model.ConnectionState) {
	for _, fn := range observers {
		fn(from, to)
	}
}

func (m *Manager) dispatch(msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m.mu.Lock()
	hs := m.handlers[msg.Topic]
	m.mu.Unlock()

	if len(hs) == 0 {
		m.log.Debugw("[feed] message on unhandled topic", "topic", msg.Topic)
		return
	}
	for _, h := range hs {
		h(msg)
	}
}
