// Package config assembles the node's configuration tree and loads
// overrides from a YAML file via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/solstice-l2/solstice/consensus"
	"github.com/solstice-l2/solstice/core"
	"github.com/solstice-l2/solstice/settlement"
	"github.com/solstice-l2/solstice/txpool"
)

// NodeConfig carries the node-level parameters.
type NodeConfig struct {
	// DataDir is the database directory; empty selects the in-memory store.
	DataDir string `mapstructure:"data-dir"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `mapstructure:"log-level"`

	// BlockTimeMs is the slot duration driving block production.
	BlockTimeMs uint64 `mapstructure:"block-time-ms"`

	// SettlementPollMs is the settlement loop's poll interval.
	SettlementPollMs uint64 `mapstructure:"settlement-poll-ms"`

	// GasLimit is the block gas limit written into genesis.
	GasLimit uint64 `mapstructure:"gas-limit"`

	// SequencerSeed is the hex seed of the node's sequencer key; empty
	// runs the node as a non-producing follower.
	SequencerSeed string `mapstructure:"sequencer-seed"`

	// Alloc maps hex addresses to genesis balances.
	Alloc map[string]uint64 `mapstructure:"alloc"`
}

// SettlementConfig flattens the settlement tunables for file loading.
type SettlementConfig struct {
	MaxBatchSize       int    `mapstructure:"max-batch-size"`
	MinBatchSize       int    `mapstructure:"min-batch-size"`
	MaxBatchAgeSec     uint64 `mapstructure:"max-batch-age-sec"`
	ChallengeWindowSec uint64 `mapstructure:"challenge-window-sec"`
}

// Config is the full configuration tree.
type Config struct {
	Node       NodeConfig       `mapstructure:"node"`
	Chain      core.ChainConfig `mapstructure:"chain"`
	Consensus  consensus.Config `mapstructure:"consensus"`
	Pool       txpool.Config    `mapstructure:"txpool"`
	Settlement SettlementConfig `mapstructure:"settlement"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			LogLevel:         "info",
			BlockTimeMs:      1000,
			SettlementPollMs: 5000,
			GasLimit:         30_000_000,
		},
		Chain:     *core.DefaultChainConfig(),
		Consensus: consensus.DefaultConfig(),
		Pool:      txpool.DefaultConfig(),
		Settlement: SettlementConfig{
			MaxBatchSize:       50_000,
			MinBatchSize:       100,
			MaxBatchAgeSec:     3600,
			ChallengeWindowSec: 604_800,
		},
	}
}

// BuilderConfig converts the settlement section for the batch builder.
func (c *Config) BuilderConfig() settlement.BuilderConfig {
	return settlement.BuilderConfig{
		MaxBatchSize: c.Settlement.MaxBatchSize,
		MinBatchSize: c.Settlement.MinBatchSize,
		MaxBatchAge:  time.Duration(c.Settlement.MaxBatchAgeSec) * time.Second,
	}
}

// TrackerConfig converts the settlement section for the tracker.
func (c *Config) TrackerConfig() settlement.TrackerConfig {
	return settlement.TrackerConfig{
		ChallengeWindow: time.Duration(c.Settlement.ChallengeWindowSec) * time.Second,
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
