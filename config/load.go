package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"quote-engine/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string                  `yaml:"env"`
	Logging logger.Config           `yaml:"logging"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Feed    FeedConfig              `yaml:"feed"`
	Venue   VenueConfig             `yaml:"venue"`
	Engine  EngineConfig            `yaml:"engine"`
	Symbols map[string]SymbolConfig `yaml:"symbols"`
}

type MetricsConfig struct {
	Addr      string `yaml:"addr"` // 为空则不启动 /metrics
	Namespace string `yaml:"namespace"`
}

// FeedConfig 行情 WebSocket 参数
type FeedConfig struct {
	WSEndpoint    string `yaml:"wsEndpoint"`
	DepthLevels   int    `yaml:"depthLevels"`
	ReadTimeoutMs int    `yaml:"readTimeoutMs"`
	MaxBackoffMs  int    `yaml:"maxBackoffMs"`
}

// VenueConfig 交易通道：paper 为本地模拟撮合，binance 为实盘。
type VenueConfig struct {
	Mode           string  `yaml:"mode"`
	RestURL        string  `yaml:"restURL"`
	APIKey         string  `yaml:"apiKey"`
	APISecret      string  `yaml:"apiSecret"`
	RequestsPerSec float64 `yaml:"requestsPerSec"`
	Burst          int     `yaml:"burst"`
	MaxRetries     int     `yaml:"maxRetries"`
	RecvWindowMs   int     `yaml:"recvWindowMs"`
	PaperLatencyMs int     `yaml:"paperLatencyMs"`
}

const (
	VenuePaper   = "paper"
	VenueBinance = "binance"
)

// EngineConfig pipeline 全局参数
type EngineConfig struct {
	StaleCheckMs     int          `yaml:"staleCheckMs"` // 过期订单巡检周期
	HotReload        bool         `yaml:"hotReload"`
	ReloadCooldownMs int          `yaml:"reloadCooldownMs"`
	Stages           StagesConfig `yaml:"stages"`
}

// StagesConfig 各 stage 开关
type StagesConfig struct {
	Guards    bool `yaml:"guards"`
	Spread    bool `yaml:"spread"`
	Inventory bool `yaml:"inventory"`
	Queue     bool `yaml:"queue"`
	Emit      bool `yaml:"emit"`
}

// DefaultAppConfig 返回默认配置，YAML 中未出现的字段保持默认值。
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Env:     "dev",
		Logging: logger.DefaultConfig(),
		Metrics: MetricsConfig{Namespace: "qe"},
		Feed: FeedConfig{
			DepthLevels:   20,
			ReadTimeoutMs: 30000,
			MaxBackoffMs:  30000,
		},
		Venue: VenueConfig{
			Mode:           VenuePaper,
			RequestsPerSec: 10,
			Burst:          20,
			MaxRetries:     2,
			RecvWindowMs:   5000,
		},
		Engine: EngineConfig{
			StaleCheckMs:     1000,
			HotReload:        true,
			ReloadCooldownMs: 1000,
			Stages: StagesConfig{
				Guards: true, Spread: true, Inventory: true, Queue: true, Emit: true,
			},
		},
	}
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse 解析 YAML 内容并校验。
func Parse(raw []byte) (AppConfig, error) {
	cfg := DefaultAppConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultAppConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) error {
	if v := os.Getenv("QE_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("QE_VENUE_MODE"); v != "" {
		cfg.Venue.Mode = v
	}
	if v := os.Getenv("QE_VENUE_API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("QE_VENUE_API_SECRET"); v != "" {
		cfg.Venue.APISecret = v
	}
	if v := os.Getenv("QE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("QE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QE_VENUE_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("QE_VENUE_RPS: %w", err)
		}
		cfg.Venue.RequestsPerSec = rps
	}
	return nil
}

// SymbolNames 返回排序后的交易对名称。
func (c AppConfig) SymbolNames() []string {
	names := make([]string, 0, len(c.Symbols))
	for name := range c.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
