package alert

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"quote-engine/infrastructure/logger"
	"quote-engine/quote"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewManager(t *testing.T) {
	mgr := NewManager([]Channel{NewMockChannel("test")}, time.Minute)
	channels := mgr.GetChannels()
	if len(channels) != 1 || channels[0] != "test" {
		t.Fatalf("channels = %v, want [test]", channels)
	}
	mgr.AddChannel(NewMockChannel("extra"))
	mgr.RemoveChannel("test")
	if got := mgr.GetChannels(); len(got) != 1 || got[0] != "extra" {
		t.Fatalf("channels after remove = %v", got)
	}
}

func TestSendAlertThrottle(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Minute)

	a := Alert{Severity: SeverityWarning, Symbol: "BTCUSDT", Message: "quoting degraded", Timestamp: t0}
	for i := 0; i < 3; i++ {
		if err := mgr.SendAlert(a); err != nil {
			t.Fatalf("SendAlert: %v", err)
		}
	}
	if mock.Count() != 1 {
		t.Fatalf("throttled count = %d, want 1", mock.Count())
	}

	// 不同交易对不互相限流
	b := a
	b.Symbol = "ETHUSDT"
	_ = mgr.SendAlert(b)
	// 超过间隔后放行
	a.Timestamp = t0.Add(2 * time.Minute)
	_ = mgr.SendAlert(a)
	if mock.Count() != 3 {
		t.Fatalf("count = %d, want 3", mock.Count())
	}

	mgr.ResetThrottle()
	_ = mgr.SendAlert(a)
	if mock.Count() != 4 {
		t.Fatalf("count after reset = %d, want 4", mock.Count())
	}
}

func TestSendAlertAllChannelsFail(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	mgr := NewManager([]Channel{bad}, 0)
	if err := mgr.SendAlert(Alert{Severity: SeverityInfo, Message: "x"}); err == nil {
		t.Fatal("expected error when every channel fails")
	}

	good := NewMockChannel("good")
	mgr.AddChannel(good)
	if err := mgr.SendAlert(Alert{Severity: SeverityInfo, Message: "y"}); err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if good.Count() != 1 {
		t.Fatalf("good channel count = %d", good.Count())
	}
}

func TestOnGuardTransition(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 0)

	none := quote.GuardAssessment{Level: quote.LevelNone, EvaluatedAt: t0}
	hard := quote.GuardAssessment{
		Level:       quote.LevelHard,
		Reasons:     []quote.GuardReason{quote.ReasonLatency, quote.ReasonInventory},
		HaltUntil:   t0.Add(30 * time.Second),
		EvaluatedAt: t0,
	}
	mgr.OnGuardTransition("BTCUSDT", none, hard)
	// 同级别仅刷新停机时间不告警
	mgr.OnGuardTransition("BTCUSDT", hard, hard)
	recovered := quote.GuardAssessment{Level: quote.LevelNone, EvaluatedAt: t0.Add(31 * time.Second)}
	mgr.OnGuardTransition("BTCUSDT", hard, recovered)

	alerts := mock.GetAlerts()
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
	if alerts[0].Severity != SeverityCritical || alerts[0].Symbol != "BTCUSDT" {
		t.Fatalf("first alert = %+v", alerts[0])
	}
	if alerts[0].Fields["reasons"] != "inventory,latency" {
		t.Fatalf("reasons = %v", alerts[0].Fields["reasons"])
	}
	if alerts[1].Severity != SeverityInfo {
		t.Fatalf("second alert severity = %s", alerts[1].Severity)
	}
}

func TestLogChannel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ch := NewLogChannel("log", &logger.Logger{Logger: zap.New(core)})
	if err := ch.Send(Alert{Severity: SeverityCritical, Symbol: "BTCUSDT", Message: "quoting halted", Timestamp: t0}); err != nil {
		t.Fatal(err)
	}
	entries := logs.FilterMessage("alert: quoting halted").All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("entries = %+v", entries)
	}
}
