package rcon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rustdocker/rustctl/pkg/logger"
)

const (
	// DefaultHandshakeTimeout bounds the websocket opening handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// inboundBuffer is the number of parsed frames held for a slow reader
	// before new ones are dropped.
	inboundBuffer = 64
)

// Target addresses a server's RCON endpoint. The password is part of the
// websocket URL path and acts as the only credential.
type Target struct {
	Host     string
	Port     int
	Password string
}

// URL returns the websocket URL for t, including the password.
func (t Target) URL() string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
		Path:   "/" + t.Password,
	}
	return u.String()
}

// String returns the URL with the password redacted, suitable for logs.
func (t Target) String() string {
	return fmt.Sprintf("ws://%s/***", net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
}

func (t Target) validate() error {
	if t.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidTarget, t.Port)
	}
	return nil
}

// Options tunes Dial. The zero value is usable.
type Options struct {
	// HandshakeTimeout bounds the opening handshake. Zero means
	// DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// HTTPClient is used for the upgrade request. Nil means http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives reports about malformed inbound frames.
	Logger logger.Logger
}

const (
	stateOpen int32 = iota + 1
	stateClosed
)

// Session is one open RCON connection. Sends are fire-and-forget: they
// return once the frame is written, without waiting for the server to
// respond.
//
// A Session only exists after the opening handshake completed, so no
// command can be sent before the server accepted the connection.
type Session struct {
	conn   *websocket.Conn
	target Target
	log    logger.Logger

	state  atomic.Int32
	cancel context.CancelFunc

	msgs chan Message
	done chan struct{}
	err  error

	closeOnce sync.Once
	closeErr  error
}

// Dial opens a session to target. It returns once the server has accepted
// the websocket upgrade; that return is the session's "opened" event.
func Dial(ctx context.Context, target Target, opts *Options) (*Session, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, timeout)
	defer cancelDial()
	conn, _, err := websocket.Dial(dialCtx, target.URL(), &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, target, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:   conn,
		target: target,
		log:    log,
		cancel: cancel,
		msgs:   make(chan Message, inboundBuffer),
		done:   make(chan struct{}),
	}
	s.state.Store(stateOpen)
	go s.readLoop(readCtx)
	return s, nil
}

// Target returns the endpoint the session is connected to.
func (s *Session) Target() Target {
	return s.target
}

// Send encodes cmd and writes it as a single text frame.
func (s *Session) Send(ctx context.Context, cmd Command) error {
	if s == nil || s.state.Load() != stateOpen {
		return ErrNotOpen
	}
	data, err := Encode(cmd)
	if err != nil {
		return err
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: send: %w", ErrTransport, err)
	}
	return nil
}

// Messages returns the parsed inbound frames. The channel is closed when
// the session ends.
func (s *Session) Messages() <-chan Message {
	return s.msgs
}

// Done is closed when the session's reader stops, either because Close was
// called or because the transport failed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the transport failure that ended the session, or nil if the
// session is still running or was closed cleanly by either side.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close sends a close frame with code and releases the connection. It is
// idempotent and safe on a nil Session; later calls return the first result.
func (s *Session) Close(code websocket.StatusCode) error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.state.Store(stateClosed)
		s.closeErr = s.conn.Close(code, "")
		s.cancel()
	})
	return s.closeErr
}

func (s *Session) readLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.msgs)
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if s.state.Load() != stateClosed && websocket.CloseStatus(err) == -1 {
				s.err = fmt.Errorf("%w: %w", ErrTransport, err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		msg, err := ParseMessage(data)
		if err != nil {
			s.log.Warning("%s: %v", s.target, err)
			continue
		}
		select {
		case s.msgs <- msg:
		default:
			s.log.Debug("%s: inbound buffer full, dropping frame", s.target)
		}
	}
}
