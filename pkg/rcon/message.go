package rcon

import (
	"encoding/json"
	"fmt"
)

// Message is an inbound RCON frame. Only Message is relied upon; the other
// fields are decoded when present.
type Message struct {
	Message    string `json:"Message"`
	Identifier int    `json:"Identifier"`
	Stacktrace string `json:"Stacktrace,omitempty"`
}

// ParseMessage decodes a raw inbound frame. Anything that is not a JSON
// object yields an error wrapping ErrMalformedFrame.
func ParseMessage(raw []byte) (Message, error) {
	var m *Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if m == nil {
		return Message{}, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	return *m, nil
}

// Text returns the human readable part of the frame and whether there is one.
func (m Message) Text() (string, bool) {
	return m.Message, m.Message != ""
}
