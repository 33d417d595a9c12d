package config

import (
	"errors"
	"fmt"
)

// Validate ensures required fields are present and parameters are coherent.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	switch cfg.Venue.Mode {
	case VenuePaper:
	case VenueBinance:
		if err := ValidateParams(cfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("venue.mode %q must be %s or %s", cfg.Venue.Mode, VenuePaper, VenueBinance)
	}
	if cfg.Feed.DepthLevels < 0 {
		return errors.New("feed.depthLevels must be >= 0")
	}
	if cfg.Engine.StaleCheckMs < 0 {
		return errors.New("engine.staleCheckMs must be >= 0")
	}
	if len(cfg.Symbols) == 0 {
		return errors.New("symbols config is required")
	}
	for _, sym := range cfg.SymbolNames() {
		if err := validateSymbol(sym, cfg.Symbols[sym]); err != nil {
			return err
		}
	}
	return nil
}

func validateSymbol(sym string, sc SymbolConfig) error {
	if sc.TickSize <= 0 {
		return fmt.Errorf("symbol %s tickSize must be > 0", sym)
	}
	if sc.StepSize <= 0 {
		return fmt.Errorf("symbol %s stepSize must be > 0", sym)
	}
	if sc.MinQty < 0 || sc.MaxQty < 0 {
		return fmt.Errorf("symbol %s qty bounds must be >= 0", sym)
	}
	if sc.MaxQty > 0 && sc.MinQty > sc.MaxQty {
		return fmt.Errorf("symbol %s minQty must be <= maxQty", sym)
	}
	if sc.BaseSize <= 0 {
		return fmt.Errorf("symbol %s baseSize must be > 0", sym)
	}
	if sc.MaxPosition <= 0 {
		return fmt.Errorf("symbol %s maxPosition must be > 0", sym)
	}

	sp := sc.SpreadConfig()
	if sp.MinSpreadBps <= 0 || sp.MinSpreadBps > sp.MaxSpreadBps {
		return fmt.Errorf("symbol %s spread.minBps must be in (0, maxBps]", sym)
	}
	if sp.BaseSpreadBps < sp.MinSpreadBps || sp.BaseSpreadBps > sp.MaxSpreadBps {
		return fmt.Errorf("symbol %s spread.baseBps must be within [minBps, maxBps]", sym)
	}
	if sp.MaxStepBps < 0 {
		return fmt.Errorf("symbol %s spread.maxStepBps must be >= 0", sym)
	}
	if sp.VolHardBps < sp.VolSoftBps || sp.LatencyHardMs < sp.LatencySoftMs {
		return fmt.Errorf("symbol %s spread hard score bounds must be >= soft", sym)
	}

	g := sc.GuardConfig()
	for name, th := range map[string]ThresholdParams{
		"volatilityBps": {g.Volatility.Soft, g.Volatility.Hard},
		"latencyP95Ms":  {g.LatencyP95.Soft, g.LatencyP95.Hard},
		"pnlZ":          {g.PnLZ.Soft, g.PnLZ.Hard},
		"inventoryPct":  {g.Inventory.Soft, g.Inventory.Hard},
		"takerFills":    {g.TakerFills.Soft, g.TakerFills.Hard},
	} {
		if th.Soft < 0 || th.Hard < 0 {
			return fmt.Errorf("symbol %s guards.%s must be >= 0", sym, name)
		}
		if th.Soft > 0 && th.Hard > 0 && th.Soft > th.Hard {
			return fmt.Errorf("symbol %s guards.%s soft must be <= hard", sym, name)
		}
	}
	if g.SoftSizeFactor <= 0 || g.SoftSizeFactor > 1 {
		return fmt.Errorf("symbol %s guards.softSizeFactor must be in (0, 1]", sym)
	}
	if sc.Guards.HaltMs < 0 || sc.Guards.RearmMs < 0 {
		return fmt.Errorf("symbol %s guards halt durations must be >= 0", sym)
	}

	o := sc.Orders
	if o.MaxActivePerSide < 0 || o.MaxCreatePerSec < 0 || o.MaxCancelPerSec < 0 {
		return fmt.Errorf("symbol %s orders limits must be >= 0", sym)
	}
	if o.MinTimeInBookMs < 0 || o.StaleTTLMs < 0 || o.PendingTimeoutMs < 0 {
		return fmt.Errorf("symbol %s orders durations must be >= 0", sym)
	}
	if o.FeeBps < 0 || o.SlippageBps < 0 || o.ReplaceThresholdBps < 0 {
		return fmt.Errorf("symbol %s orders bps parameters must be >= 0", sym)
	}

	if sc.Inventory.MaxSkewBps < 0 || sc.Inventory.ClampPct < 0 {
		return fmt.Errorf("symbol %s inventory skew parameters must be >= 0", sym)
	}
	if sc.Queue.MaxRepriceBps < 0 || sc.Queue.JoinThresholdPct < 0 || sc.Queue.JoinThresholdPct > 100 {
		return fmt.Errorf("symbol %s queue parameters out of range", sym)
	}
	return nil
}
