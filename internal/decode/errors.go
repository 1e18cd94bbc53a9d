package decode

import "errors"

var (
	ErrMalformed    = errors.New("malformed payload")
	ErrMissingField = errors.New("missing required field")
	ErrWrongType    = errors.New("wrong field type")
	ErrInvalidValue = errors.New("invalid field value")
	ErrOHLCOrder    = errors.New("ohlc values out of order")
)

// DecodeError is returned for any payload that cannot become a model.Event.
// It carries the raw payload so callers can log what was dropped.
type DecodeError struct {
	Payload []byte
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "decode: " + e.Reason
	}
	return "decode: " + e.Reason + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

func fail(payload []byte, err error, reason string) *DecodeError {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return &DecodeError{Payload: cp, Reason: reason, Err: err}
}
