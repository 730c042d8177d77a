package server

import (
	"net/http"
	"time"
)

// Config holds configuration for the realtime server.
type Config struct {
	// Address is the address to listen on (e.g., ":8080").
	// Default: ":8080".
	Address string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin validates the upgrade request origin.
	// Default: allow all origins.
	CheckOrigin func(r *http.Request) bool

	// Timeouts

	// WriteTimeout is the maximum time to wait when delivering one
	// message to one connection.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ReadTimeout is the maximum idle time before a connection read
	// fails. The reconciler broadcasts keep healthy connections warm.
	// Default: 2 minutes.
	ReadTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an inbound message.
	// Daily reports carry full form bodies, so this is generous.
	// Default: 256KB.
	MaxMessageSize int64

	// ReconcileInterval is the period of the full-state rebroadcast.
	// This is the staleness bound: any dropped incremental update is
	// corrected within one interval.
	// Default: 30 seconds.
	ReconcileInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       func(*http.Request) bool { return true },
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		MaxMessageSize:    256 * 1024,
		ReconcileInterval: 30 * time.Second,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// withDefaults fills unset fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := c.Clone()
	defaults := DefaultConfig()
	if out.Address == "" {
		out.Address = defaults.Address
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = defaults.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = defaults.WriteBufferSize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = defaults.CheckOrigin
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = defaults.ReadTimeout
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = defaults.MaxMessageSize
	}
	if out.ReconcileInterval == 0 {
		out.ReconcileInterval = defaults.ReconcileInterval
	}
	return out
}
