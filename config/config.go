// Package config loads the bundler's UoPool configuration from a TOML
// file, the same way the rest of the corpus configures long-running
// services, and supplies the defaults a freshly built pool starts from.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/naoina/toml"

	"github.com/aabundler/uopool/params"
)

// Config is the TOML-tagged configuration for a single UoPool instance.
// Field names match the constants named in the component design: one
// struct per EntryPoint × chain the process serves.
type Config struct {
	EntryPoint   string `toml:"entry_point"`
	ChainID      uint64 `toml:"chain_id"`
	DataDir      string `toml:"data_dir"`
	Durable      bool   `toml:"durable"`

	MaxVerificationGas          uint64   `toml:"max_verification_gas"`
	MinStake                    uint64   `toml:"min_stake"`
	MinUnstakeDelaySec          uint64   `toml:"min_unstake_delay_sec"`
	MinPriorityFeePerGas        uint64   `toml:"min_priority_fee_per_gas"`
	MinInclusionRateDenominator uint64   `toml:"min_inclusion_rate_denominator"`
	ThrottlingSlack              uint64   `toml:"throttling_slack"`
	BanSlack                     uint64   `toml:"ban_slack"`
	ThrottledEntityMempoolCount  int      `toml:"throttled_entity_mempool_count"`
	ReplaceBumpPct               uint64   `toml:"replace_bump_pct"`
	ExpirationBufferSec          uint64   `toml:"expiration_buffer_sec"`

	ReputationTickInterval time.Duration `toml:"-"`
	ReputationTickIntervalSec uint64     `toml:"reputation_tick_interval_sec"`
	BlockPollInterval      time.Duration `toml:"-"`
	BlockPollIntervalSec   uint64        `toml:"block_poll_interval_sec"`
	ProviderTimeout        time.Duration `toml:"-"`
	ProviderTimeoutSec     uint64        `toml:"provider_timeout_sec"`

	Whitelist []string `toml:"whitelist"`
	Blacklist []string `toml:"blacklist"`
	TrustedAggregators []string `toml:"trusted_aggregators"`
}

// Default returns the configuration a fresh pool starts from absent any
// file: the ERC-4337 reference bundler's thresholds.
func Default() Config {
	return Config{
		MaxVerificationGas:          3_000_000,
		MinStake:                    params.TOS / 10,
		MinUnstakeDelaySec:          86400,
		MinPriorityFeePerGas:        params.GWei,
		MinInclusionRateDenominator: 10,
		ThrottlingSlack:             10,
		BanSlack:                    10,
		ThrottledEntityMempoolCount: 4,
		ReplaceBumpPct:              10,
		ExpirationBufferSec:         30,
		ReputationTickIntervalSec:   3600,
		BlockPollIntervalSec:        12,
		ProviderTimeoutSec:          10,
	}
}

// Load reads a TOML configuration file at path, falling back to Default
// for every field the file does not set.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.resolveDurations()
	return cfg, nil
}

func (c *Config) resolveDurations() {
	c.ReputationTickInterval = time.Duration(c.ReputationTickIntervalSec) * time.Second
	c.BlockPollInterval = time.Duration(c.BlockPollIntervalSec) * time.Second
	c.ProviderTimeout = time.Duration(c.ProviderTimeoutSec) * time.Second
}

// EntryPointAddress parses the configured EntryPoint address.
func (c Config) EntryPointAddress() common.Address {
	return common.HexToAddress(c.EntryPoint)
}

// WhitelistAddresses parses the configured whitelist entries.
func (c Config) WhitelistAddresses() map[common.Address]struct{} {
	return parseAddressSet(c.Whitelist)
}

// BlacklistAddresses parses the configured blacklist entries.
func (c Config) BlacklistAddresses() map[common.Address]struct{} {
	return parseAddressSet(c.Blacklist)
}

// TrustedAggregatorAddresses parses the configured trusted-aggregator
// entries.
func (c Config) TrustedAggregatorAddresses() map[common.Address]struct{} {
	return parseAddressSet(c.TrustedAggregators)
}

func parseAddressSet(raw []string) map[common.Address]struct{} {
	set := make(map[common.Address]struct{}, len(raw))
	for _, s := range raw {
		set[common.HexToAddress(s)] = struct{}{}
	}
	return set
}
