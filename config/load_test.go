package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const sampleConfig = `
env: dev
logging:
  level: debug
metrics:
  addr: ":9100"
engine:
  stages:
    queue: false
symbols:
  BTCUSDT:
    tickSize: 0.1
    stepSize: 0.001
    minQty: 0.001
    minNotional: 5
    baseSize: 0.01
    maxPosition: 0.5
    spread:
      baseBps: 8
      minBps: 4
      maxBps: 40
      cooloffMs: 1500
      weightVol: 20
    guards:
      volatilityBps: {soft: 2, hard: 6}
      haltMs: 10000
      softSizeFactor: 0.25
    orders:
      maxActivePerSide: 2
      feeBps: 2
      postOnly: false
    inventory:
      enabled: false
`

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"stdout"}, cfg.Logging.Outputs, "defaults survive partial yaml")
	assert.Equal(t, VenuePaper, cfg.Venue.Mode)
	assert.True(t, cfg.Engine.Stages.Guards)
	assert.False(t, cfg.Engine.Stages.Queue)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.SymbolNames())
}

func TestSymbolConverters(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	sc := cfg.Symbols["BTCUSDT"]

	sp := sc.SpreadConfig()
	assert.Equal(t, 8.0, sp.BaseSpreadBps)
	assert.Equal(t, 1500*time.Millisecond, sp.Cooloff)
	assert.Equal(t, 20.0, sp.Weights.Volatility)
	assert.Equal(t, 8.0, sp.Weights.Liquidity, "unset weight keeps default")

	g := sc.GuardConfig()
	assert.Equal(t, 2.0, g.Volatility.Soft)
	assert.Equal(t, 10*time.Second, g.HaltDuration)
	assert.Equal(t, 0.25, g.SoftSizeFactor)
	assert.True(t, g.Enabled)

	o := sc.OrderConfig("BTCUSDT")
	assert.Equal(t, "BTCUSDT", o.Symbol)
	assert.Equal(t, 2, o.MaxActivePerSide)
	assert.Equal(t, 2.0, o.FeeBps)
	assert.False(t, o.PostOnly)
	assert.Equal(t, 0.1, o.Constraints.TickSize)

	assert.False(t, sc.SkewConfig().Enabled)
	assert.True(t, sc.QueueConfig().Enabled)
	assert.Equal(t, time.Minute, sc.TakerWindow())
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	t.Setenv("QE_VENUE_MODE", "binance")
	t.Setenv("QE_VENUE_API_KEY", "env-key")
	t.Setenv("QE_VENUE_API_SECRET", "env-secret")
	t.Setenv("QE_METRICS_ADDR", ":9200")
	cfg, err := LoadWithEnvOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Venue.APIKey)
	assert.Equal(t, "env-secret", cfg.Venue.APISecret)
	assert.Equal(t, ":9200", cfg.Metrics.Addr)
}

func TestLoadWithEnvOverridesBadNumber(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	t.Setenv("QE_VENUE_RPS", "fast")
	_, err := LoadWithEnvOverrides(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidate(t *testing.T) {
	err := Validate(AppConfig{})
	if err == nil {
		t.Fatalf("expected error for empty config")
	}

	base := func() AppConfig {
		cfg, err := Parse([]byte(sampleConfig))
		require.NoError(t, err)
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"bad mode", func(c *AppConfig) { c.Venue.Mode = "ftx" }, "venue.mode"},
		{"live without keys", func(c *AppConfig) { c.Venue.Mode = VenueBinance }, "apiKey"},
		{"no symbols", func(c *AppConfig) { c.Symbols = nil }, "symbols"},
		{"tick", func(c *AppConfig) { s := c.Symbols["BTCUSDT"]; s.TickSize = 0; c.Symbols["BTCUSDT"] = s }, "tickSize"},
		{"base size", func(c *AppConfig) { s := c.Symbols["BTCUSDT"]; s.BaseSize = 0; c.Symbols["BTCUSDT"] = s }, "baseSize"},
		{"spread base out of range", func(c *AppConfig) {
			s := c.Symbols["BTCUSDT"]
			s.Spread.BaseBps = 100
			c.Symbols["BTCUSDT"] = s
		}, "spread.baseBps"},
		{"guard soft above hard", func(c *AppConfig) {
			s := c.Symbols["BTCUSDT"]
			s.Guards.TakerFills = &ThresholdParams{Soft: 10, Hard: 3}
			c.Symbols["BTCUSDT"] = s
		}, "takerFills"},
		{"size factor", func(c *AppConfig) {
			s := c.Symbols["BTCUSDT"]
			s.Guards.SoftSizeFactor = 2
			c.Symbols["BTCUSDT"] = s
		}, "softSizeFactor"},
		{"queue threshold", func(c *AppConfig) {
			s := c.Symbols["BTCUSDT"]
			s.Queue.JoinThresholdPct = 150
			c.Symbols["BTCUSDT"] = s
		}, "queue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}

func TestValidateParamsErrInvalid(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	cfg.Venue.Mode = VenueBinance
	cfg.Venue.APIKey, cfg.Venue.APISecret = "k", "s"
	require.NoError(t, ValidateParams(cfg))

	cfg.Venue.RequestsPerSec = 0
	var inv ErrInvalid
	require.True(t, errors.As(ValidateParams(cfg), &inv))
}
