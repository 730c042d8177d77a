package server

import (
	"testing"
	"time"
)

func TestWithDefaultsNil(t *testing.T) {
	cfg := (*Config)(nil).withDefaults()
	if cfg.Address != ":8080" {
		t.Errorf("Address = %q, want :8080", cfg.Address)
	}
	if cfg.ReconcileInterval != 30*time.Second {
		t.Errorf("ReconcileInterval = %v, want 30s", cfg.ReconcileInterval)
	}
	if cfg.CheckOrigin == nil {
		t.Error("CheckOrigin not defaulted")
	}
}

func TestWithDefaultsKeepsSetFields(t *testing.T) {
	cfg := (&Config{
		Address:           ":9000",
		ReconcileInterval: 5 * time.Second,
	}).withDefaults()

	if cfg.Address != ":9000" {
		t.Errorf("Address = %q, want preserved :9000", cfg.Address)
	}
	if cfg.ReconcileInterval != 5*time.Second {
		t.Errorf("ReconcileInterval = %v, want preserved 5s", cfg.ReconcileInterval)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want defaulted 10s", cfg.WriteTimeout)
	}
	if cfg.MaxMessageSize != 256*1024 {
		t.Errorf("MaxMessageSize = %d, want defaulted 256KB", cfg.MaxMessageSize)
	}
}

func TestCloneIndependent(t *testing.T) {
	orig := DefaultConfig()
	clone := orig.Clone()
	clone.Address = ":7777"
	if orig.Address == clone.Address {
		t.Error("Clone shares storage with original")
	}
}
