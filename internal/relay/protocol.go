package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Action is the verb of an inbound frame.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionPublish     Action = "publish"
	ActionSlideChange Action = "slide_change"
)

// EventType tags an outbound frame.
type EventType string

const (
	EventUserJoined  EventType = "user_joined"
	EventUserLeft    EventType = "user_left"
	EventMessage     EventType = "message"
	EventSlideChange EventType = "slide_change"
)

// ErrMalformedFrame is returned by DecodeInbound for frames that are not a
// usable request.
var ErrMalformedFrame = errors.New("malformed frame")

// Inbound is a client request. Data is passed through untouched.
type Inbound struct {
	Action  Action          `json:"action"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
	Role    string          `json:"role,omitempty"`
}

// Outbound is an event delivered to subscribers.
type Outbound struct {
	Type      EventType       `json:"type"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

var emptyObject = json.RawMessage(`{}`)

// DecodeInbound parses a text frame. Both action and channel are required.
func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if in.Action == "" {
		return Inbound{}, fmt.Errorf("%w: missing action", ErrMalformedFrame)
	}
	if in.Channel == "" {
		return Inbound{}, fmt.Errorf("%w: missing channel", ErrMalformedFrame)
	}
	return in, nil
}

// payloadOrEmpty substitutes {} for an absent or null payload.
func payloadOrEmpty(data json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyObject
	}
	return data
}

// EncodeEvent serializes an outbound event stamped with at.
func EncodeEvent(typ EventType, channel string, data json.RawMessage, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(Outbound{
		Type:      typ,
		Channel:   channel,
		Data:      payloadOrEmpty(data),
		Timestamp: at.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", typ, err)
	}
	return payload, nil
}
