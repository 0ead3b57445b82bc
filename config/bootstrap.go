package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FriendBootstrapEntry is one hand-edited line in the friend-list/relay
// bootstrap descriptor: who to add as a friend at startup and which relay
// addresses to try reaching them through. Unlike Config, this file is not
// protocol-critical — losing it only means re-adding friends by hand
// through the control surface.
type FriendBootstrapEntry struct {
	Name      string   `yaml:"name"`
	PublicKey string   `yaml:"publicKey"`
	Relays    []string `yaml:"relays"`
}

// LoadFriendBootstrap reads a YAML descriptor of friends to add and relays
// to try at startup.
func LoadFriendBootstrap(path string) ([]FriendBootstrapEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read friend bootstrap: %w", err)
	}
	var entries []FriendBootstrapEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("config: parse friend bootstrap: %w", err)
	}
	for i, e := range entries {
		if e.PublicKey == "" {
			return nil, fmt.Errorf("config: friend bootstrap entry %d missing publicKey", i)
		}
	}
	return entries, nil
}
