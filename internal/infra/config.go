package infra

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/dafu-zhu/trading-system-sub000/internal/risk"
	"github.com/dafu-zhu/trading-system-sub000/internal/sim"
)

// Trading modes.
const (
	ModePaper = "paper" // virtual portfolio, immediate fills
	ModeMock  = "mock"  // orders logged, nothing executes
	ModeLive  = "live"  // real venue, safety latch required
)

// Config holds every application setting. Secrets loaded from the file are
// overridden by environment variables.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode                 string   `yaml:"mode"`
		Symbols              []string `yaml:"symbols"`
		InitialCashMicros    int64    `yaml:"initial_cash_micros"`
		OrderQtySats         int64    `yaml:"order_qty_sats"`
		TwapSlices           int      `yaml:"twap_slices"`
		WindowMinutes        int      `yaml:"window_minutes"`
		EscalationTriggerBps int64    `yaml:"escalation_trigger_bps"`
	} `yaml:"trading"`

	Strategy struct {
		Name        string `yaml:"name"` // "sma_cross", or empty for plan-only execution
		ShortPeriod int    `yaml:"short_period"`
		LongPeriod  int    `yaml:"long_period"`
	} `yaml:"strategy"`

	// TargetSats holds the rebalance target per symbol, in sats. Empty means
	// no plan; the strategy alone drives orders.
	TargetSats map[string]int64 `yaml:"target_sats"`

	Risk  risk.RiskConfig     `yaml:"risk"`
	Stops risk.StopLossConfig `yaml:"stops"`
	Sim   sim.Config          `yaml:"sim"`

	Marketdata struct {
		WSURL     string `yaml:"ws_url"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"marketdata"`

	Storage struct {
		AuditDB     string `yaml:"audit_db"`
		SnapshotDir string `yaml:"snapshot_dir"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case ModePaper, ModeMock, ModeLive:
	default:
		return fmt.Errorf("unknown trading mode: %q", c.Trading.Mode)
	}

	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("at least one trading symbol is required")
	}
	if c.Trading.InitialCashMicros <= 0 {
		return fmt.Errorf("initial cash must be positive")
	}
	if c.Trading.TwapSlices <= 0 {
		return fmt.Errorf("twap_slices must be positive")
	}
	if c.Trading.WindowMinutes <= 0 {
		return fmt.Errorf("window_minutes must be positive")
	}

	if err := c.Stops.Validate(); err != nil {
		return err
	}

	if c.Trading.Mode == ModeLive {
		if !hasPrefix(c.Marketdata.WSURL, "ws://") && !hasPrefix(c.Marketdata.WSURL, "wss://") {
			return fmt.Errorf("invalid market data WS URL: %s", c.Marketdata.WSURL)
		}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment variables over file values. Env wins
// so secrets never need to live in the config file.
func overrideWithEnv(cfg *Config) {
	if cfg.Marketdata.APISecret != "" {
		// Using fmt instead of slog: logging is not configured yet at load time
		fmt.Println("SECURITY WARNING: API secret found in config file.")
		fmt.Println("  Recommendation: use TRADER_API_KEY / TRADER_API_SECRET instead.")
	}

	if mode := os.Getenv("TRADER_MODE"); mode != "" {
		cfg.Trading.Mode = mode
	}
	if key := os.Getenv("TRADER_API_KEY"); key != "" {
		cfg.Marketdata.APIKey = key
	}
	if secret := os.Getenv("TRADER_API_SECRET"); secret != "" {
		cfg.Marketdata.APISecret = secret
	}
	if db := os.Getenv("TRADER_AUDIT_DB"); db != "" {
		cfg.Storage.AuditDB = db
	}
}

// GetUserAgent generates a browser-like User-Agent string based on current OS.
// Some data vendors refuse connections with library-default agents.
func GetUserAgent() string {
	chromeVer := "120.0.0.0" // Standard stable version
	os := runtime.GOOS
	arch := runtime.GOARCH

	switch os {
	case "windows":
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	case "linux":
		linuxArch := "x86_64"
		if arch == "arm64" {
			linuxArch = "aarch64"
		}
		return fmt.Sprintf("Mozilla/5.0 (X11; Linux %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", linuxArch, chromeVer)
	case "darwin":
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	default:
		return "Mozilla/5.0 (compatible; Trader/1.0)"
	}
}
