package config

import (
	"testing"
	"time"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without JWT_SECRET")
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("WS_SEND_QUEUE_SIZE", "8")
	t.Setenv("BROADCAST_ENABLED", "false")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WS.SendQueueSize != 8 {
		t.Fatalf("SendQueueSize = %d, want 8", cfg.WS.SendQueueSize)
	}
	if cfg.Broadcast.Enabled {
		t.Fatalf("Broadcast.Enabled = true, want false")
	}
	if cfg.WS.WriteWait != 10*time.Second {
		t.Fatalf("WriteWait = %v, want 10s", cfg.WS.WriteWait)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	tests := []struct {
		key, val string
	}{
		{"SERVER_PORT", "abc"},
		{"WS_SEND_QUEUE_SIZE", "0"},
		{"BROADCAST_ENABLED", "maybe"},
		{"MESSAGE_RATE_PER_SEC", "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}
