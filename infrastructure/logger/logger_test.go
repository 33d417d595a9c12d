package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &Logger{Logger: zap.New(core), config: DefaultConfig()}, logs
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestLogQuoteSchemaError(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)
	l.LogQuote(map[string]interface{}{"symbol": "BTCUSDT"})
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "quote_event", entry.Message)
	assert.Contains(t, entry.ContextMap()["schema_error"], "trace_id")
}

func TestLogRiskComplete(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)
	l.LogRisk("guard_transition", map[string]interface{}{
		"symbol": "BTCUSDT", "from": "NONE", "to": "HARD", "reasons": []string{"volatility"},
	})
	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	_, hasErr := ctx["schema_error"]
	assert.False(t, hasErr)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestDisabledLevelSkipsWork(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)
	l.LogQuote(map[string]interface{}{"symbol": "BTCUSDT"})
	assert.Equal(t, 0, logs.Len())
}

func TestLogErrorAndNop(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)
	l.LogError(errors.New("boom"), nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "boom", logs.All()[0].ContextMap()["error"])

	assert.NotPanics(t, func() { OrNop(nil).LogOrder("placed", "x", nil) })
}
