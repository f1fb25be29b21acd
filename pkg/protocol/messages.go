// ABOUTME: WSR2 wire envelope definitions
// ABOUTME: Encodes outgoing requests and classifies inbound frames
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotEnvelope is returned when an inbound frame is not a JSON object.
	// The frame is still valid application data and should be delivered raw.
	ErrNotEnvelope = errors.New("frame is not a json envelope")

	// ErrInvalidID is returned when an envelope carries an id that is not an integer
	ErrInvalidID = errors.New("envelope id is not an integer")
)

// Envelope is the top-level wrapper for every frame on the wire.
// Requests that expect a response carry an ID; the peer must echo it.
type Envelope struct {
	ID   *int64          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Frame is a classified inbound frame
type Frame struct {
	// HasID reports whether the envelope carried a usable correlation id
	HasID bool
	ID    int64
	Data  json.RawMessage

	// Raw holds the untouched payload when the frame is not an envelope
	Raw []byte
}

// wireEnvelope keeps the id undecoded so it can be validated once
type wireEnvelope struct {
	ID   json.RawMessage `json:"id"`
	Data json.RawMessage `json:"data"`
}

// NewRequest builds a correlated request envelope
func NewRequest(id int64, data json.RawMessage) Envelope {
	return Envelope{ID: &id, Data: data}
}

// NewResponse builds the answer to request id; the peer echoes the id unchanged
func NewResponse(id int64, data json.RawMessage) Envelope {
	return Envelope{ID: &id, Data: data}
}

// NewPush builds an envelope without a correlation id
func NewPush(data json.RawMessage) Envelope {
	return Envelope{Data: data}
}

// Encode serializes an envelope for the wire
func Encode(env Envelope) ([]byte, error) {
	if env.Data == nil {
		env.Data = json.RawMessage("null")
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return b, nil
}

// Decode classifies an inbound payload.
//
// A payload that is not a JSON object yields ErrNotEnvelope with Frame.Raw set.
// That includes valid JSON of another kind, such as "hi", 5 or [1]; callers
// deliver those raw instead of as an envelope with no id and no data.
// An object whose id is present but not an integer yields ErrInvalidID.
// A missing or null id yields a frame with HasID false.
func Decode(payload []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{Raw: payload}, ErrNotEnvelope
	}

	var wire wireEnvelope
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return Frame{Raw: payload}, ErrNotEnvelope
	}

	frame := Frame{Data: wire.Data}
	if len(wire.ID) == 0 || bytes.Equal(wire.ID, []byte("null")) {
		return frame, nil
	}

	var id int64
	if err := json.Unmarshal(wire.ID, &id); err != nil {
		return frame, fmt.Errorf("%w: %s", ErrInvalidID, string(wire.ID))
	}

	frame.HasID = true
	frame.ID = id
	return frame, nil
}
