package stomp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketdash/internal/feed"
)

const handshakeTimeout = 10 * time.Second

// Transport dials a STOMP-over-WebSocket endpoint, e.g.
// ws://localhost:8082/ws/websocket for a Spring SockJS endpoint.
type Transport struct {
	URL       string
	Heartbeat time.Duration
	Dialer    *websocket.Dialer
	log       *zap.SugaredLogger
}

// New returns a Transport for url exchanging heartbeats every heartbeat in
// both directions.
func New(url string, heartbeat time.Duration, log *zap.SugaredLogger) *Transport {
	if heartbeat < 0 {
		heartbeat = 0
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Transport{URL: url, Heartbeat: heartbeat, Dialer: websocket.DefaultDialer, log: log}
}

func (t *Transport) Name() string { return "stomp" }

// Open dials, sends CONNECT, waits for CONNECTED and subscribes to every topic.
func (t *Transport) Open(ctx context.Context, topics []string) (feed.Session, error) {
	conn, resp, err := t.Dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stomp: dial %s: %s: %w", t.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("stomp: dial %s: %w", t.URL, err)
	}

	s := &session{conn: conn, done: make(chan struct{}), log: t.log}
	s.stop = context.AfterFunc(ctx, func() { conn.Close() })

	if err := s.handshake(t.host(), t.Heartbeat); err != nil {
		s.Close()
		return nil, err
	}
	for _, topic := range topics {
		sub := frame.New(frame.SUBSCRIBE,
			frame.Id, uuid.NewString(),
			frame.Destination, topic,
			frame.Ack, "auto")
		if err := s.write(sub); err != nil {
			s.Close()
			return nil, fmt.Errorf("stomp: subscribe %s: %w", topic, err)
		}
	}
	if s.send > 0 {
		go s.heartbeatLoop()
	}
	t.log.Debugw("[stomp] session open", "url", t.URL, "heartbeat_out", s.send, "heartbeat_in", s.recv)
	return s, nil
}

func (t *Transport) host() string {
	if u, err := url.Parse(t.URL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "localhost"
}

type session struct {
	conn *websocket.Conn
	log  *zap.SugaredLogger
	stop func() bool

	writeMu sync.Mutex
	send    time.Duration
	recv    time.Duration
	pending []*frame.Frame

	closeOnce sync.Once
	done      chan struct{}
}

func (s *session) handshake(host string, hb time.Duration) error {
	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2",
		frame.Host, host,
		frame.HeartBeat, heartbeatHeader(hb, hb))
	if err := s.write(connect); err != nil {
		return fmt.Errorf("stomp: send CONNECT: %w", err)
	}

	s.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer s.conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stomp: await CONNECTED: %w", err)
		}
		frames, err := decodeAll(data)
		if err != nil {
			return err
		}
		for i, f := range frames {
			switch f.Command {
			case frame.CONNECTED:
				sx, sy, err := frame.ParseHeartBeat(f.Header.Get(frame.HeartBeat))
				if err != nil {
					sx, sy = 0, 0
				}
				s.send, s.recv = negotiate(hb, hb, sx, sy)
				s.pending = append(s.pending, frames[i+1:]...)
				return nil
			case frame.ERROR:
				return brokerError(f)
			default:
				return fmt.Errorf("stomp: unexpected %s frame during handshake", f.Command)
			}
		}
	}
}

// Receive returns the next MESSAGE frame. Heartbeats refresh the read
// deadline; silence beyond the grace period yields feed.ErrHeartbeatTimeout.
func (s *session) Receive(ctx context.Context) (feed.Message, error) {
	for {
		for len(s.pending) > 0 {
			f := s.pending[0]
			s.pending = s.pending[1:]
			switch f.Command {
			case frame.MESSAGE:
				return feed.Message{
					Topic:   f.Header.Get(frame.Destination),
					Payload: f.Body,
					ID:      f.Header.Get(frame.MessageId),
				}, nil
			case frame.ERROR:
				return feed.Message{}, brokerError(f)
			case frame.RECEIPT:
			default:
				s.log.Debugw("[stomp] ignoring frame", "command", f.Command)
			}
		}

		if d := feed.ReadTimeout(s.recv); d > 0 {
			s.conn.SetReadDeadline(time.Now().Add(d))
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return feed.Message{}, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return feed.Message{}, feed.ErrHeartbeatTimeout
			}
			return feed.Message{}, err
		}
		frames, err := decodeAll(data)
		if err != nil {
			return feed.Message{}, err
		}
		s.pending = append(s.pending, frames...)
	}
}

func (s *session) write(f *frame.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	return writeFrame(s.conn, f)
}

func (s *session) heartbeatLoop() {
	ticker := time.NewTicker(s.send)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.send))
			err := s.conn.WriteMessage(websocket.TextMessage, heartbeatPayload)
			s.writeMu.Unlock()
			if err != nil {
				s.log.Debugw("[stomp] heartbeat write failed", "error", err)
				return
			}
		}
	}
}

// Close sends DISCONNECT best-effort and closes the socket.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.stop()
		s.write(frame.New(frame.DISCONNECT))
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func brokerError(f *frame.Frame) error {
	msg := f.Header.Get(frame.Message)
	if msg == "" {
		msg = string(f.Body)
	}
	return fmt.Errorf("%w: %s", feed.ErrBrokerError, msg)
}
