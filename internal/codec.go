package internal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadFrame marks an inbound frame that could not be parsed. Callers
// drop the frame and keep reading.
var ErrBadFrame = errors.New("frame is not a valid payload")

// EncodeFrame wraps an action and its data into a wire frame. A nil data
// value produces a bare action, used for unit actions like CheckTime.
func EncodeFrame(action string, data any) ([]byte, error) {
	p := Payload{Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s data: %w", action, err)
		}
		p.Data = raw
	}
	return json.Marshal(p)
}

// DecodeFrame parses a received frame into a Payload.
func DecodeFrame(frame []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(frame, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if p.Action == "" {
		return Payload{}, fmt.Errorf("%w: missing action", ErrBadFrame)
	}
	return p, nil
}
