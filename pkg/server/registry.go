package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/saint-community/realtime/pkg/protocol"
)

// Transport is the write side of one live connection. Implementations
// must be safe for concurrent writes.
type Transport interface {
	// WriteMessage delivers one encoded message to the peer.
	WriteMessage(data []byte) error

	// Alive reports whether the transport is open. A transport
	// mid-close returns false and is skipped, never queued.
	Alive() bool

	Close() error
}

// Conn is one registered client connection: identity, role, and the
// live transport handle. Owned exclusively by the Registry.
type Conn struct {
	UserID      string
	Role        protocol.Role
	ConnectedAt time.Time

	transport Transport
}

// Send encodes and delivers one message to this connection. Delivery is
// best-effort: a closed transport or write error drops the message.
func (c *Conn) Send(m *protocol.Message) {
	if c == nil || !c.transport.Alive() {
		return
	}
	data, err := m.Encode()
	if err != nil {
		return
	}
	c.transport.WriteMessage(data)
}

// Alive reports whether this connection's transport is open.
func (c *Conn) Alive() bool {
	return c != nil && c.transport.Alive()
}

// Registry is the server-side map of connected identities to live
// transports. It is the sole authority on connection liveness: every
// fan-out consults it synchronously at send time. One live entry per
// identity; re-registering supersedes the previous connection.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	logger *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*Conn),
		logger: logger.With("component", "registry"),
	}
}

// Register records a live connection for the identity. An existing
// entry for the same identity is superseded: its transport is closed
// and it receives no further traffic.
func (r *Registry) Register(userID string, role protocol.Role, t Transport) *Conn {
	conn := &Conn{
		UserID:      userID,
		Role:        role,
		ConnectedAt: time.Now(),
		transport:   t,
	}

	r.mu.Lock()
	old := r.conns[userID]
	r.conns[userID] = conn
	total := len(r.conns)
	r.mu.Unlock()

	if old != nil {
		old.transport.Close()
		r.logger.Info("connection superseded", "user_id", userID)
	}
	r.logger.Info("connection registered",
		"user_id", userID,
		"role", role,
		"active", total)

	return conn
}

// Unregister removes the identity's connection. Unregistering an
// unknown identity is a no-op.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	conn, ok := r.conns[userID]
	if ok {
		delete(r.conns, userID)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if ok {
		conn.transport.Close()
		r.logger.Info("connection unregistered", "user_id", userID, "active", total)
	}
}

// Drop removes conn only if it is still the registered connection for
// its identity. Close events from a superseded transport must not evict
// the successor, so the identity-keyed Unregister is not safe there.
func (r *Registry) Drop(conn *Conn) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	current, ok := r.conns[conn.UserID]
	if ok && current == conn {
		delete(r.conns, conn.UserID)
	} else {
		ok = false
	}
	total := len(r.conns)
	r.mu.Unlock()

	conn.transport.Close()
	if ok {
		r.logger.Info("connection dropped", "user_id", conn.UserID, "active", total)
	}
}

// CloseAll closes and removes every connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.transport.Close()
	}
	if len(conns) > 0 {
		r.logger.Info("all connections closed", "count", len(conns))
	}
}

// Get returns the registered connection for the identity, or nil.
func (r *Registry) Get(userID string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[userID]
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// PrivilegedCount returns the number of registered leader connections.
func (r *Registry) PrivilegedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		if c.Role.Privileged() {
			n++
		}
	}
	return n
}

// BroadcastAll delivers the message to every registered connection
// whose transport is open. No retries, no queueing: a connection that
// misses a broadcast is corrected by the next reconciliation pass.
func (r *Registry) BroadcastAll(m *protocol.Message) int {
	return r.broadcast(m, func(*Conn) bool { return true })
}

// BroadcastPrivileged delivers the message to registered leader
// connections only.
func (r *Registry) BroadcastPrivileged(m *protocol.Message) int {
	return r.broadcast(m, func(c *Conn) bool { return c.Role.Privileged() })
}

func (r *Registry) broadcast(m *protocol.Message, keep func(*Conn) bool) int {
	data, err := m.Encode()
	if err != nil {
		r.logger.Error("broadcast encode failed", "type", m.Type, "error", err)
		return 0
	}

	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if keep(c) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if !c.transport.Alive() {
			continue
		}
		if err := c.transport.WriteMessage(data); err == nil {
			sent++
		}
	}
	return sent
}

// SendTo delivers the message to one identity, best-effort. An unknown
// or disconnected identity is a silent no-op.
func (r *Registry) SendTo(userID string, m *protocol.Message) {
	r.mu.RLock()
	conn := r.conns[userID]
	r.mu.RUnlock()

	if conn == nil {
		return
	}
	conn.Send(m)
}
