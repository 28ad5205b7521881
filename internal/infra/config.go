package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
)

// Config holds all immutable runtime settings. Loaded once at startup;
// the engine never re-reads configuration mid-operation. Changing
// settings means reconstructing the affected components.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Mode string `yaml:"mode"` // DEMO or REAL

	Symbols []string `yaml:"symbols"`

	API struct {
		Key          string `yaml:"key"`
		Secret       string `yaml:"secret"`
		RestDemo     string `yaml:"rest_demo"`
		RestReal     string `yaml:"rest_real"`
		WSDemo       string `yaml:"ws_demo"`
		WSReal       string `yaml:"ws_real"`
		RecvWindowMs int64  `yaml:"recv_window_ms"`
	} `yaml:"api"`

	Strategy struct {
		ImpulseThresholdPct  float64 `yaml:"impulse_threshold_pct"`
		ImpulseWindowSeconds int     `yaml:"impulse_window_seconds"`
		VolumeZThreshold     float64 `yaml:"volume_z_threshold"`
		TradeRateBurst       float64 `yaml:"trade_rate_burst"`
		ExhaustionConfidence float64 `yaml:"exhaustion_confidence"`
		StopDistancePct      float64 `yaml:"stop_distance_pct"`
		SizeMultiplier       float64 `yaml:"size_multiplier"`
		ExpectedEdgeBps      float64 `yaml:"expected_edge_bps"`
		ExpectedOrderSize    float64 `yaml:"expected_order_size"`
	} `yaml:"strategy"`

	Risk struct {
		MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`
		MaxPositions         int     `yaml:"max_positions"`
		MaxTradeRiskPct      float64 `yaml:"max_trade_risk_pct"`
		MaxNotionalPerTrade  float64 `yaml:"max_notional_per_trade"`
		CooldownSeconds      int     `yaml:"cooldown_seconds"`
		MaxPositionsPerSym   int     `yaml:"max_positions_per_symbol"`
		MaxExposurePerSymbol float64 `yaml:"max_exposure_per_symbol"`
		MaxAccountExposure   float64 `yaml:"max_account_exposure"`
		MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
		LossCooldownSeconds  int     `yaml:"loss_cooldown_seconds"`
		IncludeUnrealized    bool    `yaml:"include_unrealized_pnl"`
		VolThreshold         float64 `yaml:"volatility_threshold"`
		VolCooldownSeconds   int     `yaml:"volatility_cooldown_seconds"`
	} `yaml:"risk"`

	Execution struct {
		MaxSlippageBps   float64 `yaml:"max_slippage_bps"`
		SpreadGuardBps   float64 `yaml:"spread_guard_bps"`
		EdgeSafetyFactor float64 `yaml:"edge_safety_factor"`
		Retries          int     `yaml:"retries"`
		BaseDelayMs      int     `yaml:"base_delay_ms"`
		CacheLimit       int     `yaml:"cache_limit"`
		DryRun           bool    `yaml:"dry_run"`
	} `yaml:"execution"`

	WS struct {
		StaleSeconds           int `yaml:"stale_seconds"`
		MonitorIntervalSeconds int `yaml:"monitor_interval_seconds"`
	} `yaml:"ws"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the YAML config, applies env-var overrides
// for secrets and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Mode != "DEMO" && c.Mode != "REAL" {
		return &domain.ConfigError{Field: "mode", Err: fmt.Errorf("must be DEMO or REAL, got %q", c.Mode)}
	}
	if len(c.Symbols) == 0 {
		return &domain.ConfigError{Field: "symbols", Err: fmt.Errorf("at least one symbol is required")}
	}
	for _, u := range []string{c.API.WSDemo, c.API.WSReal} {
		if u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return &domain.ConfigError{Field: "api", Err: fmt.Errorf("invalid WS URL: %s", u)}
		}
	}
	if c.Risk.MaxDailyLossPct <= 0 {
		return &domain.ConfigError{Field: "risk.max_daily_loss_pct", Err: fmt.Errorf("must be positive")}
	}
	if c.Risk.MaxPositions <= 0 {
		return &domain.ConfigError{Field: "risk.max_positions", Err: fmt.Errorf("must be positive")}
	}
	if c.Execution.EdgeSafetyFactor <= 0 {
		return &domain.ConfigError{Field: "execution.edge_safety_factor", Err: fmt.Errorf("must be positive")}
	}
	return nil
}

// overrideWithEnv lets credentials come from the environment instead of
// the config file.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("DANBOT_API_KEY"); key != "" {
		cfg.API.Key = key
	}
	if secret := os.Getenv("DANBOT_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if mode := os.Getenv("DANBOT_MODE"); mode != "" {
		cfg.Mode = strings.ToUpper(mode)
	}
}
