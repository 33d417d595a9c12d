package config

// ValidateParams 实盘模式额外要求的参数。
func ValidateParams(cfg AppConfig) error {
	if cfg.Venue.APIKey == "" || cfg.Venue.APISecret == "" {
		return ErrInvalid("venue.apiKey/apiSecret is required (or QE_VENUE_API_KEY/QE_VENUE_API_SECRET)")
	}
	if cfg.Venue.RequestsPerSec <= 0 {
		return ErrInvalid("venue.requestsPerSec must be > 0")
	}
	if cfg.Venue.MaxRetries < 0 {
		return ErrInvalid("venue.maxRetries must be >= 0")
	}
	for _, sym := range cfg.SymbolNames() {
		if cfg.Symbols[sym].MinNotional <= 0 {
			return ErrInvalid("symbol " + sym + " minNotional must be > 0 for live trading")
		}
	}
	return nil
}

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }
