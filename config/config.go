package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"gigchain/crypto"
)

// Config is the node configuration loaded from TOML. Addresses are bech32
// strings ("gig1..."); policy amounts are decimal strings to avoid float
// rounding on token values.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	Environment string `toml:"Environment"`

	Owner       string `toml:"Owner"`
	FeeTreasury string `toml:"FeeTreasury"`
	Oracle      string `toml:"Oracle"`
	Scorer      string `toml:"Scorer"`

	FeeBps             uint32 `toml:"FeeBps"`
	AutoReleaseSeconds int64  `toml:"AutoReleaseSeconds"`
	MinBidReputation   uint64 `toml:"MinBidReputation"`
	MaxBidsPerEpoch    uint32 `toml:"MaxBidsPerEpoch"`
	BidEpochSeconds    uint32 `toml:"BidEpochSeconds"`

	Arbitrators         []string `toml:"Arbitrators"`
	Quorum              uint32   `toml:"Quorum"`
	VotingPeriodSeconds int64    `toml:"VotingPeriodSeconds"`

	BondToken         string `toml:"BondToken"`
	BondAmount        string `toml:"BondAmount"`
	LivenessSeconds   int64  `toml:"LivenessSeconds"`
	DisputerRewardBps uint32 `toml:"DisputerRewardBps"`
	RejectedClientBps uint32 `toml:"RejectedClientBps"`
}

// Load reads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./gigd-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "gig-local"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.FeeBps == 0 {
		cfg.FeeBps = 250
	}
	if cfg.AutoReleaseSeconds == 0 {
		cfg.AutoReleaseSeconds = 48 * 60 * 60
	}
	if cfg.MaxBidsPerEpoch == 0 {
		cfg.MaxBidsPerEpoch = 32
	}
	if cfg.BidEpochSeconds == 0 {
		cfg.BidEpochSeconds = 3600
	}
	if cfg.Quorum == 0 {
		cfg.Quorum = 2
	}
	if cfg.VotingPeriodSeconds == 0 {
		cfg.VotingPeriodSeconds = 7 * 24 * 60 * 60
	}
	if strings.TrimSpace(cfg.BondToken) == "" {
		cfg.BondToken = "ZGIG"
	}
	if strings.TrimSpace(cfg.BondAmount) == "" {
		cfg.BondAmount = "100"
	}
	if cfg.LivenessSeconds == 0 {
		cfg.LivenessSeconds = 2 * 60 * 60
	}
	if cfg.DisputerRewardBps == 0 {
		cfg.DisputerRewardBps = 5000
	}
	if cfg.RejectedClientBps == 0 {
		cfg.RejectedClientBps = 10_000
	}
}

// Validate checks the address fields and bps ranges.
func (cfg *Config) Validate() error {
	for name, value := range map[string]string{
		"Owner":       cfg.Owner,
		"FeeTreasury": cfg.FeeTreasury,
		"Oracle":      cfg.Oracle,
		"Scorer":      cfg.Scorer,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("config: invalid %s address: %w", name, err)
		}
	}
	for i, arb := range cfg.Arbitrators {
		if _, err := crypto.DecodeAddress(arb); err != nil {
			return fmt.Errorf("config: invalid arbitrator %d: %w", i, err)
		}
	}
	if len(cfg.Arbitrators) > 0 && int(cfg.Quorum) > len(cfg.Arbitrators) {
		return fmt.Errorf("config: quorum %d exceeds panel size %d", cfg.Quorum, len(cfg.Arbitrators))
	}
	if cfg.FeeBps > 10_000 || cfg.DisputerRewardBps > 10_000 || cfg.RejectedClientBps > 10_000 {
		return fmt.Errorf("config: basis point values must not exceed 10000")
	}
	return nil
}

// DecodedAddress returns the 20-byte form of a configured bech32 address,
// or the zero address when the field is empty.
func DecodedAddress(value string) ([20]byte, error) {
	var out [20]byte
	if strings.TrimSpace(value) == "" {
		return out, nil
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
