package container

import (
	"quote-engine/config"
	"quote-engine/internal/engine"
)

// SymbolConfig 把 YAML 中的交易对参数转换为流水线组件配置。
func SymbolConfig(symbol string, sc config.SymbolConfig) engine.SymbolConfig {
	out := engine.DefaultSymbolConfig(symbol)
	if sc.BaseSize > 0 {
		out.BaseSize = sc.BaseSize
	}
	if sc.MaxPosition > 0 {
		out.MaxPosition = sc.MaxPosition
	}
	out.TakerWindow = sc.TakerWindow()
	out.Signals = sc.SignalConfig()
	out.Spread = sc.SpreadConfig()
	out.Guards = sc.GuardConfig()
	out.Orders = sc.OrderConfig(symbol)
	out.Skew = sc.SkewConfig()
	out.Queue = sc.QueueConfig()
	return out
}
