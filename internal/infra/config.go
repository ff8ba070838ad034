package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"wick_go/internal/domain"

	"gopkg.in/yaml.v3"
)

// APIKey is one Liquid API token pair. Several keys are rotated per request.
type APIKey struct {
	TokenID string `yaml:"token_id"`
	Secret  string `yaml:"secret"`
}

// LiquidConfig configures the exchange gateway and the market data stream.
type LiquidConfig struct {
	RestURL         string        `yaml:"rest_url"`
	WSURL           string        `yaml:"ws_url"`
	ProductID       int           `yaml:"product_id"`
	Pair            string        `yaml:"pair"` // currency pair code used in channel names, e.g. btcjpy
	APIKeys         []APIKey      `yaml:"api_keys"`
	LeverageLevel   int           `yaml:"leverage_level"`
	FundingCurrency string        `yaml:"funding_currency"`
	Retries         int           `yaml:"retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	Timeout         time.Duration `yaml:"timeout"`
}

// FeedConfig configures the connection watchdog.
type FeedConfig struct {
	WarmUp           time.Duration `yaml:"warm_up"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

// StrategyConfig holds the quoting parameters.
type StrategyConfig struct {
	Interval         int           `yaml:"interval"` // ticks between decisions
	Alpha            float64       `yaml:"alpha"`    // quote half-width
	Beta             float64       `yaml:"beta"`     // cancel trigger half-width
	Lot              float64       `yaml:"lot"`
	ZeroPosition     float64       `yaml:"zero_position"`
	EMASpan          int           `yaml:"ema_span"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	ForceCancelTicks int           `yaml:"force_cancel_ticks"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	LatencyHigh      time.Duration `yaml:"latency_high"`
	LatencyLow       time.Duration `yaml:"latency_low"`
	Workers          int           `yaml:"workers"`
	MaxLoss          float64       `yaml:"max_loss"` // 0 disables the hourly loss limit
}

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Liquid   LiquidConfig   `yaml:"liquid"`
	Feed     FeedConfig     `yaml:"feed"`
	Strategy StrategyConfig `yaml:"strategy"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Metrics struct {
		Addr string `yaml:"addr"` // empty disables the HTTP listener
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with every tunable set.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "wick"
	cfg.App.Version = "dev"

	cfg.Liquid = LiquidConfig{
		RestURL:         "https://api.liquid.com",
		WSURL:           "wss://tap.liquid.com/app/LiquidTapClient",
		ProductID:       5,
		Pair:            "btcjpy",
		LeverageLevel:   2,
		FundingCurrency: "JPY",
		Retries:         3,
		RetryBackoff:    time.Second,
		Timeout:         10 * time.Second,
	}
	cfg.Feed = FeedConfig{
		WarmUp:           30 * time.Second,
		CheckInterval:    3 * time.Second,
		StaleAfter:       10 * time.Second,
		ReconnectBackoff: time.Second,
		PingInterval:     30 * time.Second,
	}
	cfg.Strategy = StrategyConfig{
		Interval:         5,
		Alpha:            0.0025,
		Beta:             0.0001,
		Lot:              0.001,
		ZeroPosition:     1e-4,
		EMASpan:          5,
		TickInterval:     time.Second,
		ForceCancelTicks: 3,
		SweepInterval:    5 * time.Minute,
		LatencyHigh:      3 * time.Second,
		LatencyLow:       time.Second,
		Workers:          10,
	}
	cfg.Storage.Path = "data/wick.db"
	cfg.Metrics.Addr = ":9100"
	cfg.Logging.Level = "info"
	cfg.Logging.File = "logs/wick.log"
	return cfg
}

// LoadConfig는 설정 파일을 읽고 기본값 위에 덮어씁니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
	}

	if !strings.HasPrefix(c.Liquid.WSURL, "ws://") && !strings.HasPrefix(c.Liquid.WSURL, "wss://") {
		return invalid("liquid.ws_url", "invalid websocket URL: %q", c.Liquid.WSURL)
	}
	if !strings.HasPrefix(c.Liquid.RestURL, "http://") && !strings.HasPrefix(c.Liquid.RestURL, "https://") {
		return invalid("liquid.rest_url", "invalid REST URL: %q", c.Liquid.RestURL)
	}
	if c.Liquid.ProductID <= 0 {
		return invalid("liquid.product_id", "must be positive")
	}
	if c.Liquid.Pair == "" {
		return invalid("liquid.pair", "required")
	}
	if len(c.Liquid.APIKeys) == 0 {
		return invalid("liquid.api_keys", "at least one key is required")
	}
	for i, k := range c.Liquid.APIKeys {
		if k.TokenID == "" || k.Secret == "" {
			return invalid("liquid.api_keys", "key %d is incomplete", i)
		}
	}
	if c.Liquid.Retries < 1 {
		return invalid("liquid.retries", "must be at least 1")
	}

	s := c.Strategy
	if s.Interval < 1 {
		return invalid("strategy.interval", "must be at least 1")
	}
	if s.EMASpan < 1 {
		return invalid("strategy.ema_span", "must be at least 1")
	}
	if s.Alpha <= 0 || s.Beta <= 0 || s.Beta >= s.Alpha {
		return invalid("strategy.alpha", "need alpha > beta > 0, got alpha=%v beta=%v", s.Alpha, s.Beta)
	}
	if s.Lot <= 0 {
		return invalid("strategy.lot", "must be positive")
	}
	if s.ZeroPosition <= 0 || s.ZeroPosition >= s.Lot {
		return invalid("strategy.zero_position", "must be in (0, lot)")
	}
	if s.TickInterval <= 0 {
		return invalid("strategy.tick_interval", "must be positive")
	}
	if s.LatencyLow >= s.LatencyHigh {
		return invalid("strategy.latency_low", "must be below latency_high")
	}
	if s.Workers < 1 {
		return invalid("strategy.workers", "must be at least 1")
	}

	if c.Feed.CheckInterval <= 0 || c.Feed.StaleAfter <= 0 {
		return invalid("feed", "check_interval and stale_after must be positive")
	}

	return nil
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
// WICK_LIQUID_KEYS="token:secret,token:secret"
func overrideWithEnv(cfg *Config) {
	if raw := os.Getenv("WICK_LIQUID_KEYS"); raw != "" {
		if keys := parseAPIKeys(raw); len(keys) > 0 {
			cfg.Liquid.APIKeys = keys
		}
	}
	if level := os.Getenv("WICK_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if addr := os.Getenv("WICK_METRICS_ADDR"); addr != "" {
		cfg.Metrics.Addr = addr
	}
}

func parseAPIKeys(raw string) []APIKey {
	var keys []APIKey
	for _, pair := range strings.Split(raw, ",") {
		token, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || secret == "" {
			continue
		}
		keys = append(keys, APIKey{TokenID: token, Secret: secret})
	}
	return keys
}
