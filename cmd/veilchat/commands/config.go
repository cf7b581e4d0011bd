package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/veil-im/veil/veil"
	"github.com/veil-im/veil/veil/negotiate"
)

// fileConfig mirrors the optional TOML config. Every field is optional;
// flags override file values.
type fileConfig struct {
	Listen string `toml:"listen"`
	Peer   string `toml:"peer"`

	KeyExchange []string `toml:"key_exchange"`
	Cipher      []string `toml:"cipher"`
	AEAD        []string `toml:"aead"`
	Hash        []string `toml:"hash"`

	ReplayWindow       int    `toml:"replay_window"`
	RekeyAfterMessages uint64 `toml:"rekey_after_messages"`
	RekeyAfterAge      string `toml:"rekey_after_age"`

	rekeyAfterAge time.Duration
}

func loadConfig(path string) (fileConfig, error) {
	var raw fileConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fileConfig{}, fmt.Errorf("load config: %w", err)
	}
	raw.Listen = strings.TrimSpace(raw.Listen)
	raw.Peer = strings.TrimSpace(raw.Peer)
	raw.KeyExchange = normalizeList(raw.KeyExchange)
	raw.Cipher = normalizeList(raw.Cipher)
	raw.AEAD = normalizeList(raw.AEAD)
	raw.Hash = normalizeList(raw.Hash)
	if raw.ReplayWindow < 0 {
		return fileConfig{}, fmt.Errorf("load config: replay_window must not be negative")
	}
	if v := strings.TrimSpace(raw.RekeyAfterAge); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fileConfig{}, fmt.Errorf("load config: bad rekey_after_age: %w", err)
		}
		raw.rekeyAfterAge = d
	}
	return raw, nil
}

// apply copies the tuning knobs from the config file onto a peer.
func (c fileConfig) apply(p *veil.Peer) {
	p.Capabilities = c.capabilities()
	p.ReplayWindow = c.ReplayWindow
	p.RekeyAfterMessages = c.RekeyAfterMessages
	p.RekeyAfterAge = c.rekeyAfterAge
}

// capabilities builds the preference-ranked capability set from the
// config file. Empty categories fall back to full registry support.
func (c fileConfig) capabilities() negotiate.CapabilitySet {
	full := negotiate.FromRegistry(registry)
	out := negotiate.CapabilitySet{
		KeyExchange: full.KeyExchange,
		Cipher:      full.Cipher,
		AEAD:        full.AEAD,
		Hash:        full.Hash,
	}
	if len(c.KeyExchange) > 0 {
		out.KeyExchange = c.KeyExchange
	}
	if len(c.Cipher) > 0 {
		out.Cipher = c.Cipher
	}
	if len(c.AEAD) > 0 {
		out.AEAD = c.AEAD
	}
	if len(c.Hash) > 0 {
		out.Hash = c.Hash
	}
	return out
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
