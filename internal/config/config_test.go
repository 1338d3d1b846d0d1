package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tathienbao/trailbot/internal/types"
)

const validYAML = `
profile: main

feed:
  type: csv
  path: /tmp/instructions.csv
  sync_interval_sec: 60

trigger:
  mode: price_crossing

execution:
  order_timeout_sec: 5

gateway:
  type: ibkr
  host: 127.0.0.1
  port: 7497
  client_id: 7
  rate_limit_per_second: 40
  auto_reconnect: true

audit:
  enabled: true
  path: /tmp/audit.db

alerting:
  enabled: true
  channels:
    - type: console
    - type: telegram
      bot_token: token
      chat_id: "12345"

metrics:
  enabled: true
  port: 9191

shutdown:
  timeout_sec: 20
`

func TestLoadFromBytes_Valid(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Profile != "main" {
		t.Errorf("unexpected profile %q", cfg.Profile)
	}
	if cfg.Feed.Type != "csv" || cfg.Feed.Path != "/tmp/instructions.csv" {
		t.Errorf("unexpected feed config %+v", cfg.Feed)
	}
	if cfg.SyncInterval() != 60*time.Second {
		t.Errorf("unexpected sync interval %v", cfg.SyncInterval())
	}
	if cfg.TriggerMode() != types.TriggerPriceCrossing {
		t.Errorf("unexpected trigger mode %v", cfg.TriggerMode())
	}
	if cfg.OrderTimeout() != 5*time.Second {
		t.Errorf("unexpected order timeout %v", cfg.OrderTimeout())
	}
	if cfg.ShutdownTimeout() != 20*time.Second {
		t.Errorf("unexpected shutdown timeout %v", cfg.ShutdownTimeout())
	}
	if len(cfg.Alerting.Channels) != 2 {
		t.Errorf("expected 2 alert channels, got %d", len(cfg.Alerting.Channels))
	}
}

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
profile: main
feed:
  type: csv
  path: /tmp/instructions.csv
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.SyncInterval() != 300*time.Second {
		t.Errorf("expected default sync interval 300s, got %v", cfg.SyncInterval())
	}
	if cfg.OrderTimeout() != 10*time.Second {
		t.Errorf("expected default order timeout 10s, got %v", cfg.OrderTimeout())
	}
	if cfg.Gateway.Type != "paper" {
		t.Errorf("expected default gateway 'paper', got %q", cfg.Gateway.Type)
	}
	if cfg.TriggerMode() != types.TriggerImmediate {
		t.Errorf("expected default trigger mode immediate, got %v", cfg.TriggerMode())
	}
	if cfg.ShutdownTimeout() != 15*time.Second {
		t.Errorf("expected default shutdown timeout 15s, got %v", cfg.ShutdownTimeout())
	}
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing profile",
			yaml: "feed:\n  type: csv\n  path: /tmp/x.csv\n",
			want: "profile is required",
		},
		{
			name: "csv without path",
			yaml: "profile: main\nfeed:\n  type: csv\n",
			want: "feed.path is required",
		},
		{
			name: "http without url",
			yaml: "profile: main\nfeed:\n  type: http\n",
			want: "feed.url is required",
		},
		{
			name: "unknown feed type",
			yaml: "profile: main\nfeed:\n  type: gopher\n",
			want: "feed.type",
		},
		{
			name: "unknown trigger mode",
			yaml: "profile: main\nfeed:\n  type: csv\n  path: /tmp/x.csv\ntrigger:\n  mode: astrology\n",
			want: "trigger.mode",
		},
		{
			name: "unknown gateway type",
			yaml: "profile: main\nfeed:\n  type: csv\n  path: /tmp/x.csv\ngateway:\n  type: fax\n",
			want: "gateway.type",
		},
		{
			name: "audit without path",
			yaml: "profile: main\nfeed:\n  type: csv\n  path: /tmp/x.csv\naudit:\n  enabled: true\n",
			want: "audit.path",
		},
		{
			name: "telegram without token",
			yaml: "profile: main\nfeed:\n  type: csv\n  path: /tmp/x.csv\nalerting:\n  enabled: true\n  channels:\n    - type: telegram\n",
			want: "telegram requires",
		},
		{
			name: "email without recipients",
			yaml: "profile: main\nfeed:\n  type: csv\n  path: /tmp/x.csv\nalerting:\n  enabled: true\n  channels:\n    - type: email\n      smtp_host: smtp.example.com\n      from: bot@example.com\n",
			want: "email requires",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, types.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.ClientID != 7 {
		t.Errorf("unexpected client id %d", cfg.Gateway.ClientID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromBytes_EnvExpansion(t *testing.T) {
	t.Setenv("TRAILBOT_TEST_TOKEN", "secret-token")

	cfg, err := LoadFromBytes([]byte(`
profile: main
feed:
  type: csv
  path: /tmp/x.csv
alerting:
  enabled: true
  channels:
    - type: telegram
      bot_token: ${TRAILBOT_TEST_TOKEN}
      chat_id: "1"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Alerting.Channels[0].BotToken != "secret-token" {
		t.Errorf("expected env expansion, got %q", cfg.Alerting.Channels[0].BotToken)
	}
}

func TestToIBKRConfig(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ib := cfg.ToIBKRConfig()
	if ib.Host != "127.0.0.1" || ib.Port != 7497 || ib.ClientID != 7 {
		t.Errorf("unexpected ibkr config %+v", ib)
	}
	if ib.MaxRequestsPerSecond != 40 {
		t.Errorf("unexpected rate limit %d", ib.MaxRequestsPerSecond)
	}
	if !ib.AutoReconnect {
		t.Error("expected auto reconnect")
	}
}
