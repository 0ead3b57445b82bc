package config

import "math/big"

// Config is the core's full runtime configuration: identity, storage
// location, listen/relay/index-server addresses, and the default
// per-currency terms offered to a friend that hasn't overridden them.
type Config struct {
	ListenAddress   string   `toml:"ListenAddress"`
	KeystorePath    string   `toml:"KeystorePath"`
	DataDir         string   `toml:"DataDir"`
	NetworkName     string   `toml:"NetworkName"`
	RelayAddresses  []string `toml:"RelayAddresses"`
	IndexServerAddr string   `toml:"IndexServerAddr"`

	Defaults    FriendDefaults    `toml:"Defaults"`
	HashLock    HashLockSettings  `toml:"HashLock"`
	Payment     PaymentSettings   `toml:"Payment"`
}

// FriendDefaults are the terms a freshly-opened currency on a freshly-added
// friend starts with, before any SetFriendCurrency* command overrides them.
type FriendDefaults struct {
	MaxDebt     *big.Int `toml:"-"`
	MaxDebtText string   `toml:"MaxDebt"`
	RateMul     uint32   `toml:"RateMul"`
	RateAdd     uint32   `toml:"RateAdd"`
}

// HashLockSettings tunes the bcrypt work factor PaymentEngine uses when
// deriving hash-locks. See spec.md's open question on this tradeoff.
type HashLockSettings struct {
	KDFCost int `toml:"KDFCost"`
}

// PaymentSettings bounds how long an in-flight Transaction may wait for a
// Response or Collect before the application abandons it.
type PaymentSettings struct {
	TTLSeconds uint64 `toml:"TTLSeconds"`
}
