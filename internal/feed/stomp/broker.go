package stomp

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Broker is a minimal in-memory STOMP-over-WebSocket broker. It accepts
// CONNECT and SUBSCRIBE and fans out whatever Publish is given. No acks, no
// transactions, no SEND from clients.
type Broker struct {
	heartbeat time.Duration
	log       *zap.SugaredLogger
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[*brokerConn]struct{}

	// Reject, when set, makes the broker answer CONNECT with an ERROR frame
	// carrying this message.
	Reject string
}

type brokerConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]string // destination -> subscription id
	done    chan struct{}
}

// NewBroker returns a broker that offers heartbeat in both directions.
func NewBroker(heartbeat time.Duration, log *zap.SugaredLogger) *Broker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Broker{
		heartbeat: heartbeat,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*brokerConn]struct{}),
	}
}

func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warnw("[broker] upgrade failed", "error", err)
		return
	}
	bc := &brokerConn{conn: conn, subs: make(map[string]string), done: make(chan struct{})}
	defer func() {
		b.mu.Lock()
		delete(b.conns, bc)
		b.mu.Unlock()
		close(bc.done)
		conn.Close()
	}()

	if !b.accept(bc) {
		return
	}
	if b.heartbeat > 0 {
		go bc.heartbeatLoop(b.heartbeat)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames, err := decodeAll(data)
		if err != nil {
			b.log.Debugw("[broker] bad frame", "error", err)
			return
		}
		for _, f := range frames {
			switch f.Command {
			case frame.SUBSCRIBE:
				b.mu.Lock()
				bc.subs[f.Header.Get(frame.Destination)] = f.Header.Get(frame.Id)
				b.mu.Unlock()
			case frame.UNSUBSCRIBE:
				id := f.Header.Get(frame.Id)
				b.mu.Lock()
				for dest, sid := range bc.subs {
					if sid == id {
						delete(bc.subs, dest)
					}
				}
				b.mu.Unlock()
			case frame.DISCONNECT:
				return
			}
		}
	}
}

// accept handles the CONNECT exchange and registers the connection.
func (b *Broker) accept(bc *brokerConn) bool {
	bc.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := bc.conn.ReadMessage()
	if err != nil {
		return false
	}
	bc.conn.SetReadDeadline(time.Time{})
	frames, err := decodeAll(data)
	if err != nil || len(frames) == 0 {
		return false
	}
	f := frames[0]
	if f.Command != frame.CONNECT && f.Command != frame.STOMP {
		bc.write(frame.New(frame.ERROR, frame.Message, "expected CONNECT"))
		return false
	}
	if b.Reject != "" {
		bc.write(frame.New(frame.ERROR, frame.Message, b.Reject))
		return false
	}
	bc.write(frame.New(frame.CONNECTED,
		frame.Version, "1.2",
		frame.HeartBeat, heartbeatHeader(b.heartbeat, b.heartbeat)))

	b.mu.Lock()
	b.conns[bc] = struct{}{}
	b.mu.Unlock()
	return true
}

// Publish delivers body to every subscriber of destination and returns how
// many received it.
func (b *Broker) Publish(destination string, body []byte) int {
	type target struct {
		bc  *brokerConn
		sub string
	}
	b.mu.Lock()
	var targets []target
	for bc := range b.conns {
		if id, ok := bc.subs[destination]; ok {
			targets = append(targets, target{bc, id})
		}
	}
	b.mu.Unlock()

	sent := 0
	for _, t := range targets {
		f := frame.New(frame.MESSAGE,
			frame.Destination, destination,
			frame.Subscription, t.sub,
			frame.MessageId, uuid.NewString(),
			frame.ContentType, "application/json")
		f.Body = body
		if err := t.bc.write(f); err != nil {
			b.log.Debugw("[broker] deliver failed", "destination", destination, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Subscribers returns the number of connections subscribed to destination.
func (b *Broker) Subscribers(destination string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for bc := range b.conns {
		if _, ok := bc.subs[destination]; ok {
			n++
		}
	}
	return n
}

// DropAll closes every client connection without a DISCONNECT.
func (b *Broker) DropAll() {
	b.mu.Lock()
	conns := make([]*brokerConn, 0, len(b.conns))
	for bc := range b.conns {
		conns = append(conns, bc)
	}
	b.mu.Unlock()
	for _, bc := range conns {
		bc.conn.Close()
	}
}

func (bc *brokerConn) write(f *frame.Frame) error {
	bc.writeMu.Lock()
	defer bc.writeMu.Unlock()
	bc.conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	return writeFrame(bc.conn, f)
}

func (bc *brokerConn) heartbeatLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-bc.done:
			return
		case <-ticker.C:
			bc.writeMu.Lock()
			err := bc.conn.WriteMessage(websocket.TextMessage, heartbeatPayload)
			bc.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
