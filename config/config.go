package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/freedomlayer/offset/crypto"

	"github.com/BurntSushi/toml"
)

// Load loads the configuration from path, creating a default one (and a
// fresh identity keystore beside it) if none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "offset-local"
	}
	if cfg.KeystorePath == "" {
		cfg.KeystorePath = defaultKeystorePath(path)
	}
	if err := ensureKeystore(cfg.KeystorePath); err != nil {
		return nil, err
	}
	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadIdentity reads the secp256k1 key Load ensured exists at
// cfg.KeystorePath.
func LoadIdentity(cfg *Config) (*crypto.PrivateKey, error) {
	raw, err := os.ReadFile(cfg.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("config: read keystore: %w", err)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("config: decode keystore: %w", err)
	}
	return crypto.PrivateKeyFromBytes(keyBytes)
}

func applyDefaults(cfg *Config) error {
	if cfg.Defaults.MaxDebtText == "" {
		cfg.Defaults.MaxDebt = big.NewInt(0)
		return nil
	}
	v, ok := new(big.Int).SetString(cfg.Defaults.MaxDebtText, 10)
	if !ok {
		return fmt.Errorf("config: defaults.max_debt is not a base-10 integer: %q", cfg.Defaults.MaxDebtText)
	}
	cfg.Defaults.MaxDebt = v
	return nil
}

func ensureKeystore(keystorePath string) error {
	if _, err := os.Stat(keystorePath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	return writeKeystore(keystorePath, key)
}

func writeKeystore(keystorePath string, key *crypto.PrivateKey) error {
	dir := filepath.Dir(keystorePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(keystorePath, []byte(hex.EncodeToString(key.Bytes())+"\n"), 0o600)
}

// createDefault writes a default configuration file, plus a matching fresh
// identity keystore, and returns the loaded result.
func createDefault(path string) (*Config, error) {
	keystorePath := defaultKeystorePath(path)
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := writeKeystore(keystorePath, key); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress: ":4096",
		KeystorePath:  keystorePath,
		DataDir:       "./offset-data",
		NetworkName:   "offset-local",
		Defaults: FriendDefaults{
			MaxDebt:     big.NewInt(0),
			MaxDebtText: "0",
		},
		HashLock: HashLockSettings{KDFCost: crypto.DefaultKDFCost},
		Payment:  PaymentSettings{TTLSeconds: 120},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "identity.keystore")
}
