package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const minimalConfig = `
app:
  name: algo-trading
  version: 0.1.0
trading:
  mode: paper
  symbols: [AAPL, MSFT]
api:
  alpaca:
    key: test-key
    secret: test-secret
`

func TestLoadConfig_DefaultsAndValidation(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.API.Alpaca.RestURL != "https://paper-api.alpaca.markets" {
		t.Errorf("paper REST default: %s", cfg.API.Alpaca.RestURL)
	}
	if cfg.API.Alpaca.Feed != "iex" {
		t.Errorf("feed default: %s", cfg.API.Alpaca.Feed)
	}
	if cfg.API.Alpaca.DataURL != "wss://stream.data.alpaca.markets/v2/iex" {
		t.Errorf("data URL default: %s", cfg.API.Alpaca.DataURL)
	}
	if cfg.RateLimit.Capacity <= 0 || cfg.RateLimit.RefillPerSec <= 0 {
		t.Errorf("rate limit defaults missing: %+v", cfg.RateLimit)
	}
	if cfg.HeartbeatTimeout() <= 0 || cfg.PollInterval() <= 0 {
		t.Error("duration defaults missing")
	}
	if len(cfg.Trading.Symbols) != 2 {
		t.Errorf("symbols: %v", cfg.Trading.Symbols)
	}
}

func TestLoadConfig_LiveModeURLs(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: live
api:
  alpaca:
    key: k
    secret: s
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.API.Alpaca.RestURL != "https://api.alpaca.markets" {
		t.Errorf("live REST default: %s", cfg.API.Alpaca.RestURL)
	}
	if cfg.API.Alpaca.StreamURL != "wss://api.alpaca.markets/stream" {
		t.Errorf("live stream default: %s", cfg.API.Alpaca.StreamURL)
	}
}

func TestLoadConfig_EnvOverridesSecrets(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: paper
api:
  alpaca:
    key: file-key
    secret: file-secret
`)

	t.Setenv("ALPACA_API_KEY_ID", "env-key")
	t.Setenv("ALPACA_API_SECRET_KEY", "env-secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.API.Alpaca.Key != "env-key" || cfg.API.Alpaca.Secret != "env-secret" {
		t.Errorf("environment must win over file: %s/%s", cfg.API.Alpaca.Key, cfg.API.Alpaca.Secret)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"Missing credentials", "trading:\n  mode: paper\n"},
		{"Bad mode", "trading:\n  mode: demo\napi:\n  alpaca:\n    key: k\n    secret: s\n"},
		{"Bad feed", "trading:\n  mode: paper\napi:\n  alpaca:\n    key: k\n    secret: s\n    feed: premium\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfig_FileMissing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
