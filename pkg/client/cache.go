package client

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/saint-community/realtime/pkg/protocol"
	"github.com/saint-community/realtime/pkg/store"
)

// ReloadDelay is how long an optimistic local edit is trusted before
// the cache re-requests the authoritative snapshot.
const ReloadDelay = time.Second

// RefreshInterval is the cache's own resynchronization period. It runs
// independently of the server's reconciler broadcasts, so a client
// converges even when every incremental push to it is lost.
const RefreshInterval = 30 * time.Second

// Feed is the cache's view of the session: send a message, hear every
// inbound message. *Session satisfies it.
type Feed interface {
	Send(*protocol.Message) error
	OnMessage(func(*protocol.Message)) func()
}

// Cache holds a local snapshot of the community data and keeps it in
// step with the server. Server broadcasts patch or replace the
// snapshot; local optimistic edits patch it immediately and are
// verified against the store one ReloadDelay later. Between a dropped
// broadcast and the server's periodic refresh, staleness is bounded,
// never permanent.
type Cache struct {
	feed   Feed
	logger *slog.Logger
	unsub  func()

	mu   sync.RWMutex
	snap store.Snapshot

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int

	reloadMu    sync.Mutex
	reloadTimer *time.Timer
	closed      bool

	refreshEvery time.Duration
	reloadDelay  time.Duration
	done         chan struct{}
}

// CacheConfig adjusts the cache's timing. Zero values take the package
// defaults.
type CacheConfig struct {
	RefreshInterval time.Duration
	ReloadDelay     time.Duration
}

// NewCache creates a cache bound to the feed with default timing. It
// starts listening immediately; the snapshot fills in when
// initial_data arrives.
func NewCache(feed Feed, logger *slog.Logger) *Cache {
	return NewCacheWithConfig(feed, logger, CacheConfig{})
}

// NewCacheWithConfig is NewCache with explicit timing.
func NewCacheWithConfig(feed Feed, logger *slog.Logger, cfg CacheConfig) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = RefreshInterval
	}
	if cfg.ReloadDelay <= 0 {
		cfg.ReloadDelay = ReloadDelay
	}
	c := &Cache{
		feed:         feed,
		logger:       logger.With("component", "cache"),
		subs:         make(map[int]func()),
		refreshEvery: cfg.RefreshInterval,
		reloadDelay:  cfg.ReloadDelay,
		done:         make(chan struct{}),
	}
	c.unsub = feed.OnMessage(c.handleMessage)
	go c.refreshLoop()
	return c
}

// refreshLoop re-requests the full snapshot on a fixed interval. Send
// errors are ignored: while the session is offline the request is
// simply dropped and the next tick tries again.
func (c *Cache) refreshLoop() {
	ticker := time.NewTicker(c.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = c.Refresh()
		case <-c.done:
			return
		}
	}
}

// Snapshot returns the current local snapshot. The returned value
// shares slice storage with the cache; treat it as read-only.
func (c *Cache) Snapshot() store.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Statistics returns the current aggregates.
func (c *Cache) Statistics() store.Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Statistics
}

// Subscribe registers fn to run after every snapshot change. The
// returned function unsubscribes it.
func (c *Cache) Subscribe(fn func()) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Refresh asks the server for a fresh role-scoped snapshot.
func (c *Cache) Refresh() error {
	msg, err := protocol.New(protocol.TypeRequestInitialData, nil)
	if err != nil {
		return err
	}
	return c.feed.Send(msg)
}

// UpdateData applies an optimistic local edit: the snapshot field is
// patched immediately, the edit is mirrored to leader dashboards, and
// one ReloadDelay later the authoritative snapshot is re-requested.
// Concurrent edits share a single pending reload.
func (c *Cache) UpdateData(field string, payload any) error {
	if c.applyPatch(field, payload) {
		c.notify()
	}

	msg, err := protocol.New(protocol.TypeDataUpdate, protocol.DataUpdateData{
		Field:   field,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	if err := c.feed.Send(msg); err != nil {
		return err
	}

	c.scheduleReload()
	return nil
}

func (c *Cache) scheduleReload() {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	if c.closed || c.reloadTimer != nil {
		return
	}
	c.reloadTimer = time.AfterFunc(c.reloadDelay, func() {
		c.reloadMu.Lock()
		c.reloadTimer = nil
		closed := c.closed
		c.reloadMu.Unlock()
		if !closed {
			c.Refresh()
		}
	})
}

func (c *Cache) applyPatch(field string, payload any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch field {
	case "events":
		if v, ok := payload.([]store.Event); ok {
			c.snap.Events = v
			return true
		}
	case "birthdays":
		if v, ok := payload.([]store.Birthday); ok {
			c.snap.Birthdays = v
			return true
		}
	case "reports":
		if v, ok := payload.([]store.Report); ok {
			c.snap.Reports = v
			return true
		}
	case "members":
		if v, ok := payload.([]store.User); ok {
			c.snap.Members = v
			return true
		}
	case "statistics":
		if v, ok := payload.(store.Statistics); ok {
			c.snap.Statistics = v
			return true
		}
	}
	// Unknown shape: skip the local patch, let the reload reconcile.
	return false
}

// applyRawPatch is applyPatch for payloads that arrive as wire JSON
// rather than typed values. Statistics merge into the current value;
// the list fields replace it. Unknown fields and undecodable payloads
// leave the snapshot untouched.
func (c *Cache) applyRawPatch(field string, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch field {
	case "events":
		var v []store.Event
		if json.Unmarshal(payload, &v) == nil {
			c.snap.Events = v
			return true
		}
	case "birthdays":
		var v []store.Birthday
		if json.Unmarshal(payload, &v) == nil {
			c.snap.Birthdays = v
			return true
		}
	case "reports":
		var v []store.Report
		if json.Unmarshal(payload, &v) == nil {
			c.snap.Reports = v
			return true
		}
	case "members":
		var v []store.User
		if json.Unmarshal(payload, &v) == nil {
			c.snap.Members = v
			return true
		}
	case "statistics":
		stats := c.snap.Statistics
		if json.Unmarshal(payload, &stats) == nil {
			c.snap.Statistics = stats
			return true
		}
	}
	return false
}

// handleMessage folds one server message into the snapshot. Signals
// carrying a full snapshot replace it; narrower updates patch just
// their slice. Anything unrecognized is ignored.
func (c *Cache) handleMessage(m *protocol.Message) {
	switch m.Type {
	case protocol.TypeInitialData, protocol.TypeRefreshData,
		protocol.TypeNewReportSubmitted, protocol.TypeNewMemberJoined:
		var snap store.Snapshot
		if err := m.DecodeData(&snap); err != nil {
			c.logger.Warn("bad snapshot payload", "type", m.Type, "error", err)
			return
		}
		c.mu.Lock()
		c.snap = snap
		c.mu.Unlock()

	case protocol.TypeStatisticsUpdate:
		// Merge, don't replace: the payload may be the global stats
		// block, which omits role-scoped counters. Decoding into a
		// copy of the current value keeps every key it leaves out.
		c.mu.Lock()
		stats := c.snap.Statistics
		c.mu.Unlock()
		if err := m.DecodeData(&stats); err != nil {
			c.logger.Warn("bad statistics payload", "error", err)
			return
		}
		c.mu.Lock()
		c.snap.Statistics = stats
		c.mu.Unlock()

	case protocol.TypeNewEvent:
		var event store.Event
		if err := m.DecodeData(&event); err != nil {
			c.logger.Warn("bad event payload", "error", err)
			return
		}
		c.mu.Lock()
		c.snap.Events = append(c.snap.Events, event)
		c.mu.Unlock()

	case protocol.TypeEventUpdate:
		var events []store.Event
		if err := m.DecodeData(&events); err != nil {
			c.logger.Warn("bad event list payload", "error", err)
			return
		}
		c.mu.Lock()
		c.snap.Events = events
		c.mu.Unlock()

	case protocol.TypeBirthdayUpdate:
		var birthdays []store.Birthday
		if err := m.DecodeData(&birthdays); err != nil {
			c.logger.Warn("bad birthday payload", "error", err)
			return
		}
		c.mu.Lock()
		c.snap.Birthdays = birthdays
		c.mu.Unlock()

	case protocol.TypeDataUpdate:
		// Another member's optimistic edit, forwarded by the server for
		// live monitoring. Patch the named field so leader dashboards
		// move without waiting for the next refresh.
		var patch struct {
			Field   string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := m.DecodeData(&patch); err != nil {
			c.logger.Warn("bad data update payload", "error", err)
			return
		}
		if !c.applyRawPatch(patch.Field, patch.Payload) {
			return
		}

	default:
		// report_submitted, birthday_notification and the like carry
		// no snapshot data; UI layers hear them via OnMessage.
		return
	}

	c.notify()
}

func (c *Cache) notify() {
	c.subMu.Lock()
	handlers := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		handlers = append(handlers, fn)
	}
	c.subMu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// Close detaches the cache from the feed, stops the refresh loop and
// cancels any pending reload. Safe to call more than once.
func (c *Cache) Close() {
	c.reloadMu.Lock()
	if c.closed {
		c.reloadMu.Unlock()
		return
	}
	c.closed = true
	if c.reloadTimer != nil {
		c.reloadTimer.Stop()
		c.reloadTimer = nil
	}
	c.reloadMu.Unlock()
	close(c.done)
	if c.unsub != nil {
		c.unsub()
	}
}
