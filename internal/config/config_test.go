package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("expected log_level 'info', got %q", cfg.LogLevel)
	}
	if cfg.Worker.Count != 3 {
		t.Errorf("expected worker count 3, got %d", cfg.Worker.Count)
	}
	if cfg.FailureDelay.Duration() != 2*time.Second {
		t.Errorf("expected failure delay 2s, got %v", cfg.FailureDelay.Duration())
	}
	if cfg.Timeouts.InactivityTimeout() != 60*time.Second {
		t.Errorf("expected inactivity timeout 60s, got %v", cfg.Timeouts.InactivityTimeout())
	}
}

func TestValidate(t *testing.T) {
	validListeners := []ListenerConfig{{Path: "/tmp/auth-client", Kind: KindClient}}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) { c.Listeners = validListeners },
			wantErr: false,
		},
		{
			name:    "no listeners",
			modify:  func(c *Config) {},
			wantErr: true,
		},
		{
			name: "listener with empty path",
			modify: func(c *Config) {
				c.Listeners = []ListenerConfig{{Path: "", Kind: KindClient}}
			},
			wantErr: true,
		},
		{
			name: "listener with invalid kind",
			modify: func(c *Config) {
				c.Listeners = []ListenerConfig{{Path: "/tmp/x", Kind: "BOGUS"}}
			},
			wantErr: true,
		},
		{
			name: "no CLIENT listener",
			modify: func(c *Config) {
				c.Listeners = []ListenerConfig{{Path: "/tmp/x", Kind: KindMaster}}
			},
			wantErr: true,
		},
		{
			name: "worker count too high",
			modify: func(c *Config) {
				c.Listeners = validListeners
				c.Worker.Count = 31
			},
			wantErr: true,
		},
		{
			name: "zero max_pending",
			modify: func(c *Config) {
				c.Listeners = validListeners
				c.Worker.MaxPending = 0
			},
			wantErr: true,
		},
		{
			name: "invalid failure delay",
			modify: func(c *Config) {
				c.Listeners = validListeners
				c.FailureDelay.Delay = "bogus"
			},
			wantErr: true,
		},
		{
			name: "metrics enabled without address",
			modify: func(c *Config) {
				c.Listeners = validListeners
				c.Metrics.Enabled = true
				c.Metrics.Address = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorkerRequestTimeoutDefault(t *testing.T) {
	w := WorkerConfig{}
	if got := w.RequestTimeoutDuration(); got != 30*time.Second {
		t.Errorf("expected 30s, got %v", got)
	}
	w.RequestTimeout = "invalid"
	if got := w.RequestTimeoutDuration(); got != 30*time.Second {
		t.Errorf("expected fallback 30s, got %v", got)
	}
	w.RequestTimeout = "5s"
	if got := w.RequestTimeoutDuration(); got != 5*time.Second {
		t.Errorf("expected 5s, got %v", got)
	}
}
