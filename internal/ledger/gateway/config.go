package gateway

import "trustmint/internal/platform/config"

// ConfigFrom maps the service ledger settings onto a gateway Config.
func ConfigFrom(c config.LedgerConfig) Config {
	return Config{
		Network:           c.Network,
		URL:               c.URL,
		ValidationTimeout: c.ValidationTimeout,
		PollInterval:      c.PollInterval,
		FeeCushion:        c.FeeCushion,
		MaxFeeDrops:       c.MaxFeeDrops,
		LastLedgerOffset:  c.LastLedgerOffset,
	}
}
