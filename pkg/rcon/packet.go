// Package rcon implements the client side of the game server's WebRcon
// protocol: JSON text frames exchanged over a websocket whose path carries
// the RCON password.
//
// The package is intentionally small. A Session sends commands without
// waiting for acknowledgement and surfaces inbound frames for callers that
// want to print the server's replies; it does not correlate requests with
// responses, authenticate beyond the URL, or reconnect.
package rcon

import (
	"bytes"
	"encoding/json"
)

const (
	// DefaultIdentifier is the Identifier sent when the caller does not
	// expect to match a reply to the command.
	DefaultIdentifier = -1

	// DefaultName is the client name reported to the server console.
	DefaultName = "WebRcon"
)

// Command is a single outbound RCON frame.
type Command struct {
	Identifier int    `json:"Identifier"`
	Message    string `json:"Message"`
	Name       string `json:"Name"`
}

// NewCommand returns a Command carrying message with the default
// identifier and client name.
func NewCommand(message string) Command {
	return Command{
		Identifier: DefaultIdentifier,
		Message:    message,
		Name:       DefaultName,
	}
}

// Encode serializes c to its wire form. HTML escaping is disabled so rich
// text tags such as <color=orange> reach the server verbatim.
func Encode(c Command) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
