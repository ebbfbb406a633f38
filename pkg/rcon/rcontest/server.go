// Package rcontest provides an in-process WebRcon endpoint for tests.
package rcontest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/rustdocker/rustctl/pkg/rcon"
)

// ReplyFunc returns the raw frames the server answers a command with.
type ReplyFunc func(cmd rcon.Command) []string

// Server is a fake game server console. It accepts websocket connections on
// "/<password>", records every command it receives and optionally answers.
type Server struct {
	srv      *httptest.Server
	password string

	mu       sync.Mutex
	received []rcon.Command
	accepted int
	reply    ReplyFunc
	dropOn   string
	commands chan rcon.Command
}

// NewServer starts a fake console that accepts password.
func NewServer(password string) *Server {
	s := &Server{
		password: password,
		commands: make(chan rcon.Command, 256),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Target returns the rcon.Target pointing at the server.
func (s *Server) Target() rcon.Target {
	u, _ := url.Parse(s.srv.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return rcon.Target{Host: host, Port: port, Password: s.password}
}

// SetReply installs fn to answer every received command.
func (s *Server) SetReply(fn ReplyFunc) {
	s.mu.Lock()
	s.reply = fn
	s.mu.Unlock()
}

// DropOn makes the server abort the connection, without a close frame,
// right after receiving a command whose Message equals message.
func (s *Server) DropOn(message string) {
	s.mu.Lock()
	s.dropOn = message
	s.mu.Unlock()
}

// Commands delivers every received command in arrival order.
func (s *Server) Commands() <-chan rcon.Command {
	return s.commands
}

// Received returns a copy of all commands received so far.
func (s *Server) Received() []rcon.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rcon.Command(nil), s.received...)
}

// Accepted returns the number of websocket sessions the server accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/"+s.password {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	s.mu.Lock()
	s.accepted++
	s.mu.Unlock()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd rcon.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, cmd)
		reply, dropOn := s.reply, s.dropOn
		s.mu.Unlock()

		select {
		case s.commands <- cmd:
		default:
		}
		if reply != nil {
			for _, frame := range reply(cmd) {
				if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
					return
				}
			}
		}
		if dropOn != "" && cmd.Message == dropOn {
			return
		}
	}
}
