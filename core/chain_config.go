// Package core wires the execution pipeline together: transaction
// processing, block processing, base-fee adjustment, genesis
// initialization, and the canonical chain.
package core

import "github.com/solstice-l2/solstice/core/types"

// ChainConfig carries the chain-wide execution parameters.
type ChainConfig struct {
	// ChainID identifies this chain in signatures and the CHAINID opcode.
	ChainID uint64

	// BurnPercent is the share of fee revenue burned instead of paid to
	// the sequencer, in whole percent. Zero routes all fees to coinbase.
	BurnPercent uint64

	// AllowDevSignatures accepts the all-0xFF signature. Never enable this
	// outside tests.
	AllowDevSignatures bool
}

// DefaultChainConfig returns the production parameters.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		ChainID:            2077,
		BurnPercent:        0,
		AllowDevSignatures: false,
	}
}

// isDevSignature reports whether tx carries the all-0xFF signature accepted
// when AllowDevSignatures is on.
func isDevSignature(tx *types.Transaction) bool {
	for _, b := range tx.Signature {
		if b != 0xff {
			return false
		}
	}
	return true
}
