package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Address != ":8080" {
		t.Errorf("Address = %q, want :8080", cfg.Address)
	}
	if cfg.ReconcileInterval != 30*time.Second {
		t.Errorf("ReconcileInterval = %v, want 30s", cfg.ReconcileInterval)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want 24h", cfg.SessionTTL)
	}
	if cfg.UploadBackend != "disk" {
		t.Errorf("UploadBackend = %q, want disk", cfg.UploadBackend)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SAINTLIVE_ADDRESS", ":9999")
	t.Setenv("SAINTLIVE_RECONCILE_INTERVAL", "10s")
	t.Setenv("SAINTLIVE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Address != ":9999" {
		t.Errorf("Address = %q, want :9999", cfg.Address)
	}
	if cfg.ReconcileInterval != 10*time.Second {
		t.Errorf("ReconcileInterval = %v, want 10s", cfg.ReconcileInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadRejectsBadBackend(t *testing.T) {
	t.Setenv("SAINTLIVE_UPLOAD_BACKEND", "ftp")
	if _, err := Load(); err == nil {
		t.Error("Load accepted unknown upload backend")
	}
}

func TestLoadRequiresBucketForS3(t *testing.T) {
	t.Setenv("SAINTLIVE_UPLOAD_BACKEND", "s3")
	t.Setenv("SAINTLIVE_S3_BUCKET", "")
	if _, err := Load(); err == nil {
		t.Error("Load accepted s3 backend without a bucket")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("SAINTLIVE_LOG_LEVEL", "loud")
	if _, err := Load(); err == nil {
		t.Error("Load accepted unknown log level")
	}
}
