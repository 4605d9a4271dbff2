// Package hub fans messages out to websocket clients over channels.
package hub

import "encoding/json"

// MessageType indicates the websocket message format.
type MessageType int

const (
	// JSONMessage is a JSON-encoded text message.
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data such as a JPEG frame.
	BinaryMessage
)

// Message is one broadcast payload.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps binary data.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Event is the envelope for typed JSON events, e.g.
// {"type":"navigate","data":{"screen":"checkout"}}.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// NewEvent encodes an event envelope.
func NewEvent(eventType string, data any) (Message, error) {
	b, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(b), nil
}
