// Package stomp implements the feed transport for STOMP 1.2 carried over a
// WebSocket, one frame per WebSocket message, as served by Spring's
// message-broker endpoints. It also contains a small broker used by the demo
// feed and tests.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

var heartbeatPayload = []byte("\n")

// encode renders f as a single NUL-terminated STOMP frame.
func encode(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeAll parses every frame in one WebSocket message. Heartbeats are
// skipped, so an empty result means the message was a heartbeat.
func decodeAll(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var out []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("stomp: parse frame: %w", err)
		}
		if f != nil {
			out = append(out, f)
		}
	}
}

func writeFrame(conn *websocket.Conn, f *frame.Frame) error {
	b, err := encode(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// heartbeatHeader formats a heart-beat header value in milliseconds.
func heartbeatHeader(out, in time.Duration) string {
	return strconv.FormatInt(out.Milliseconds(), 10) + "," + strconv.FormatInt(in.Milliseconds(), 10)
}

// negotiate applies the STOMP heart-beat rule: each direction uses the larger
// of the two requested intervals, or none if either side declines.
func negotiate(clientOut, clientIn, serverOut, serverIn time.Duration) (send, recv time.Duration) {
	if clientOut > 0 && serverIn > 0 {
		send = max(clientOut, serverIn)
	}
	if clientIn > 0 && serverOut > 0 {
		recv = max(clientIn, serverOut)
	}
	return send, recv
}
