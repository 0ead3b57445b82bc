package config

import "fmt"

// MinPaymentTTLSeconds is the floor below which a Transaction would routinely
// time out before a Response could plausibly arrive over a relayed hop.
const MinPaymentTTLSeconds = 10

// ValidateConfig rejects configuration values the core could not run under
// without risking silent misbehavior. A negative KDFCost is rejected; zero
// is accepted and means crypto.DefaultKDFCost.
func ValidateConfig(cfg Config) error {
	if cfg.Defaults.MaxDebt != nil && cfg.Defaults.MaxDebt.Sign() < 0 {
		return fmt.Errorf("config: defaults.max_debt must not be negative")
	}
	if cfg.HashLock.KDFCost < 0 {
		return fmt.Errorf("config: hash_lock.kdf_cost must not be negative")
	}
	if cfg.Payment.TTLSeconds != 0 && cfg.Payment.TTLSeconds < MinPaymentTTLSeconds {
		return fmt.Errorf("config: payment.ttl_seconds too small")
	}
	return nil
}
