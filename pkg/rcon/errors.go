package rcon

import "errors"

var (
	// ErrNotOpen is returned by Send on a session that is not open.
	ErrNotOpen = errors.New("rcon: session is not open")

	// ErrInvalidTarget is returned by Dial when the target has no host or port.
	ErrInvalidTarget = errors.New("rcon: invalid target")

	// ErrMalformedFrame marks an inbound frame that is not a JSON object.
	// It is reported but never ends a session.
	ErrMalformedFrame = errors.New("rcon: malformed frame")

	// ErrTransport wraps failures of the underlying websocket.
	ErrTransport = errors.New("rcon: transport error")
)
