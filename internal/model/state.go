package model

import (
	"encoding/json"
	"fmt"
)

// ConnectionState is the lifecycle state of a feed connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// Gauge returns the numeric value exported as a metric.
func (s ConnectionState) Gauge() float64 { return float64(s) }

func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
