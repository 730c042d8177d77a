// Package client implements the feed client: a reconnecting WebSocket
// session plus a reactive cache that keeps a local snapshot of the
// community data in step with the server's broadcasts.
package client

import (
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saint-community/realtime/pkg/protocol"
)

// State is the session's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateLive
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateLive:
		return "live"
	default:
		return "disconnected"
	}
}

// DefaultReconnectDelay is the flat delay between reconnect attempts.
const DefaultReconnectDelay = 3 * time.Second

// SessionConfig configures a feed session.
type SessionConfig struct {
	// URL is the feed endpoint, e.g. "ws://host/ws".
	URL string

	// UserID and Role identify this member to the server.
	UserID string
	Role   protocol.Role

	// ReconnectDelay between attempts. Flat, no backoff: the feed is
	// low-volume and a fast, predictable retry beats a growing wait.
	// Default 3s.
	ReconnectDelay time.Duration

	// HandshakeTimeout for the WebSocket dial. Default 10s.
	HandshakeTimeout time.Duration
}

// Session is a reconnecting feed connection. It dials, authenticates,
// delivers inbound messages to subscribers, and on any failure retires
// the connection and schedules exactly one reconnect attempt.
type Session struct {
	config SessionConfig
	logger *slog.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	closed    bool
	reconnect *time.Timer // non-nil while an attempt is pending

	subMu   sync.Mutex
	subs    map[int]func(*protocol.Message)
	nextSub int

	stateSubs map[int]func(State)
}

// NewSession creates a session. Call Connect to start it.
func NewSession(config SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.Role == "" {
		config.Role = protocol.RoleMember
	}
	return &Session{
		config:    config,
		logger:    logger.With("component", "session"),
		dialer:    &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		subs:      make(map[int]func(*protocol.Message)),
		stateSubs: make(map[int]func(State)),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the feed. On failure a reconnect is scheduled; Connect
// itself returns the first dial's error.
func (s *Session) Connect() error {
	return s.dial()
}

func (s *Session) dial() error {
	s.mu.Lock()
	if s.closed || s.state != StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notifyState(StateConnecting)

	endpoint, err := s.endpoint()
	if err != nil {
		s.retire(nil)
		return err
	}

	conn, _, err := s.dialer.Dial(endpoint, nil)
	if err != nil {
		s.logger.Warn("dial failed", "error", err)
		s.retire(nil)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.state = StateAuthenticating
	s.mu.Unlock()
	s.notifyState(StateAuthenticating)

	// The server expects an auth message as the first frame.
	auth, err := protocol.New(protocol.TypeAuth, protocol.AuthData{
		UserID: s.config.UserID,
		Role:   s.config.Role,
	})
	if err == nil {
		err = s.write(auth)
	}
	if err != nil {
		s.logger.Warn("auth send failed", "error", err)
		s.retire(conn)
		return err
	}

	go s.readLoop(conn)
	return nil
}

func (s *Session) endpoint() (string, error) {
	u, err := url.Parse(s.config.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("userId", s.config.UserID)
	q.Set("role", string(s.config.Role))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop delivers inbound messages until the connection dies, then
// retires it.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("connection lost", "error", err)
			s.retire(conn)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("malformed message from server", "error", err)
			continue
		}

		if msg.Type == protocol.TypeAuthSuccess {
			s.mu.Lock()
			live := s.conn == conn && s.state == StateAuthenticating
			if live {
				s.state = StateLive
			}
			s.mu.Unlock()
			// A duplicate ack, or one from a superseded connection,
			// changed nothing and must not look like a transition.
			if live {
				s.notifyState(StateLive)
			}
		}

		s.deliver(msg)
	}
}

// retire tears down conn (if it is still current) and schedules one
// reconnect attempt. At most one attempt is ever pending: a failure
// while a timer is armed leaves the existing timer in place.
func (s *Session) retire(conn *websocket.Conn) {
	s.mu.Lock()
	if conn != nil {
		if s.conn != conn {
			// A successor connection is already up.
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = nil
		conn.Close()
	}
	s.state = StateDisconnected

	if s.closed || s.reconnect != nil {
		s.mu.Unlock()
		s.notifyState(StateDisconnected)
		return
	}
	s.reconnect = time.AfterFunc(s.config.ReconnectDelay, func() {
		s.mu.Lock()
		s.reconnect = nil
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.dial()
		}
	})
	s.mu.Unlock()

	s.notifyState(StateDisconnected)
	s.logger.Info("reconnect scheduled", "delay", s.config.ReconnectDelay)
}

// Send delivers one message to the server. Messages sent while the
// session is not live are dropped, not queued: the reconciliation that
// follows reconnect supersedes anything staged while offline.
func (s *Session) Send(m *protocol.Message) error {
	s.mu.Lock()
	if s.state != StateLive || s.conn == nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.write(m)
}

func (s *Session) write(m *protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// OnMessage registers a handler for every inbound message. The returned
// function unsubscribes it.
func (s *Session) OnMessage(fn func(*protocol.Message)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// OnStateChange registers a handler for connection state transitions.
func (s *Session) OnStateChange(fn func(State)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.stateSubs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.stateSubs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) deliver(m *protocol.Message) {
	s.subMu.Lock()
	handlers := make([]func(*protocol.Message), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.subMu.Unlock()
	for _, fn := range handlers {
		fn(m)
	}
}

func (s *Session) notifyState(st State) {
	s.subMu.Lock()
	handlers := make([]func(State), 0, len(s.stateSubs))
	for _, fn := range s.stateSubs {
		handlers = append(handlers, fn)
	}
	s.subMu.Unlock()
	for _, fn := range handlers {
		fn(st)
	}
}

// Close shuts the session down. Any pending reconnect is cancelled and
// no further attempts are made.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
