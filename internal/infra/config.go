package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Trading mode selects the venue environment.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Default venue endpoints per mode.
const (
	paperRestURL   = "https://paper-api.alpaca.markets"
	liveRestURL    = "https://api.alpaca.markets"
	paperStreamURL = "wss://paper-api.alpaca.markets/stream"
	liveStreamURL  = "wss://api.alpaca.markets/stream"
	dataStreamURL  = "wss://stream.data.alpaca.markets/v2"
)

// Config holds everything the adapter needs before any component starts.
// Loaded once, validated, then passed by value to constructors.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode    string   `yaml:"mode"` // "paper" or "live"
		Symbols []string `yaml:"symbols"`
	} `yaml:"trading"`

	API struct {
		Alpaca struct {
			Key       string `yaml:"key"`
			Secret    string `yaml:"secret"`
			RestURL   string `yaml:"rest_url"`   // default from mode
			StreamURL string `yaml:"stream_url"` // trading stream, default from mode
			DataURL   string `yaml:"data_url"`   // market-data stream
			Feed      string `yaml:"feed"`       // "iex" or "sip"
		} `yaml:"alpaca"`
	} `yaml:"api"`

	RateLimit struct {
		Capacity     int     `yaml:"capacity"`       // bucket size
		RefillPerSec float64 `yaml:"refill_per_sec"` // tokens/second
		OrderCost    int     `yaml:"order_cost"`     // submit weight
		CancelCost   int     `yaml:"cancel_cost"`
		QueryCost    int     `yaml:"query_cost"`
	} `yaml:"rate_limit"`

	Stream struct {
		HeartbeatTimeoutSec int `yaml:"heartbeat_timeout_sec"`
		PingIntervalSec     int `yaml:"ping_interval_sec"`
		BackoffBaseMS       int `yaml:"backoff_base_ms"`
		BackoffMaxMS        int `yaml:"backoff_max_ms"`
		StabilitySec        int `yaml:"stability_sec"` // streaming time before backoff resets
	} `yaml:"stream"`

	Reconcile struct {
		PollIntervalSec int    `yaml:"poll_interval_sec"`
		JournalPath     string `yaml:"journal_path"`
	} `yaml:"reconcile"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads the YAML file, applies environment overrides for secrets,
// fills mode-derived defaults, and validates. Any failure here is fatal at
// startup.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv lets environment variables win over file values. Secrets
// should not live in the config file at all.
func overrideWithEnv(cfg *Config) {
	if cfg.API.Alpaca.Key != "" || cfg.API.Alpaca.Secret != "" {
		fmt.Println("⚠️  SECURITY WARNING: API credentials found in config file.")
		fmt.Println("   Recommendation: use ALPACA_API_KEY_ID / ALPACA_API_SECRET_KEY instead.")
	}

	if key := os.Getenv("ALPACA_API_KEY_ID"); key != "" {
		cfg.API.Alpaca.Key = key
	}
	if secret := os.Getenv("ALPACA_API_SECRET_KEY"); secret != "" {
		cfg.API.Alpaca.Secret = secret
	}
}

func (c *Config) applyDefaults() {
	if c.Trading.Mode == "" {
		c.Trading.Mode = ModePaper
	}
	c.Trading.Mode = strings.ToLower(c.Trading.Mode)

	a := &c.API.Alpaca
	if a.Feed == "" {
		a.Feed = "iex"
	}
	if a.RestURL == "" {
		if c.Trading.Mode == ModeLive {
			a.RestURL = liveRestURL
		} else {
			a.RestURL = paperRestURL
		}
	}
	if a.StreamURL == "" {
		if c.Trading.Mode == ModeLive {
			a.StreamURL = liveStreamURL
		} else {
			a.StreamURL = paperStreamURL
		}
	}
	if a.DataURL == "" {
		a.DataURL = dataStreamURL + "/" + a.Feed
	}

	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 20
	}
	if c.RateLimit.RefillPerSec == 0 {
		// Alpaca allows 200 requests/minute; stay conservative.
		c.RateLimit.RefillPerSec = 3
	}
	if c.RateLimit.OrderCost == 0 {
		c.RateLimit.OrderCost = 3
	}
	if c.RateLimit.CancelCost == 0 {
		c.RateLimit.CancelCost = 2
	}
	if c.RateLimit.QueryCost == 0 {
		c.RateLimit.QueryCost = 1
	}

	if c.Stream.HeartbeatTimeoutSec == 0 {
		c.Stream.HeartbeatTimeoutSec = 30
	}
	if c.Stream.PingIntervalSec == 0 {
		c.Stream.PingIntervalSec = 10
	}
	if c.Stream.BackoffBaseMS == 0 {
		c.Stream.BackoffBaseMS = 1000
	}
	if c.Stream.BackoffMaxMS == 0 {
		c.Stream.BackoffMaxMS = 60000
	}
	if c.Stream.StabilitySec == 0 {
		c.Stream.StabilitySec = 60
	}

	if c.Reconcile.PollIntervalSec == 0 {
		c.Reconcile.PollIntervalSec = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity. Fail fast: nothing starts on a bad
// config.
func (c *Config) Validate() error {
	if c.Trading.Mode != ModePaper && c.Trading.Mode != ModeLive {
		return fmt.Errorf("invalid trading mode: %q", c.Trading.Mode)
	}

	a := c.API.Alpaca
	if a.Key == "" || a.Secret == "" {
		return fmt.Errorf("missing API credentials (set ALPACA_API_KEY_ID / ALPACA_API_SECRET_KEY)")
	}
	if !strings.HasPrefix(a.RestURL, "https://") && !strings.HasPrefix(a.RestURL, "http://") {
		return fmt.Errorf("invalid REST URL: %s", a.RestURL)
	}
	if !strings.HasPrefix(a.StreamURL, "ws://") && !strings.HasPrefix(a.StreamURL, "wss://") {
		return fmt.Errorf("invalid stream URL: %s", a.StreamURL)
	}
	if !strings.HasPrefix(a.DataURL, "ws://") && !strings.HasPrefix(a.DataURL, "wss://") {
		return fmt.Errorf("invalid data URL: %s", a.DataURL)
	}
	if a.Feed != "iex" && a.Feed != "sip" {
		return fmt.Errorf("invalid data feed: %q", a.Feed)
	}

	if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillPerSec <= 0 {
		return fmt.Errorf("rate limit capacity and refill must be positive")
	}
	if c.Stream.HeartbeatTimeoutSec <= 0 {
		return fmt.Errorf("heartbeat timeout must be positive")
	}
	if c.Reconcile.PollIntervalSec <= 0 {
		return fmt.Errorf("reconcile poll interval must be positive")
	}

	return nil
}

// HeartbeatTimeout returns the stream silence limit as a duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Stream.HeartbeatTimeoutSec) * time.Second
}

// PingInterval returns the client ping cadence.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Stream.PingIntervalSec) * time.Second
}

// BackoffBase returns the initial reconnect delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Stream.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the reconnect delay cap.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Stream.BackoffMaxMS) * time.Millisecond
}

// Stability returns the streaming time after which backoff resets to base.
func (c *Config) Stability() time.Duration {
	return time.Duration(c.Stream.StabilitySec) * time.Second
}

// PollInterval returns the reconciliation snapshot cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Reconcile.PollIntervalSec) * time.Second
}
