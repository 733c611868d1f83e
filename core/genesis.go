package core

import (
	"sort"

	"github.com/solstice-l2/solstice/core/state"
	"github.com/solstice-l2/solstice/core/types"
)

// Genesis describes block zero: the initial allocation and the starting
// block parameters.
type Genesis struct {
	Alloc     map[types.Address]uint64
	GasLimit  uint64
	BaseFee   uint64
	Timestamp uint64
}

// DefaultGenesis returns an empty-allocation genesis with the standard
// block parameters.
func DefaultGenesis() *Genesis {
	return &Genesis{
		GasLimit: 30_000_000,
		BaseFee:  1_000_000_000,
	}
}

// Commit writes the allocation into statedb and returns the genesis block.
func (g *Genesis) Commit(statedb *state.StateDB) (*types.Block, error) {
	// Deterministic application order; the resulting root is order-free but
	// the iteration should not depend on map ordering anywhere else either.
	addrs := make([]types.Address, 0, len(g.Alloc))
	for addr := range g.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	for _, addr := range addrs {
		statedb.AddBalance(addr, g.Alloc[addr])
	}
	root, err := statedb.Commit()
	if err != nil {
		return nil, err
	}
	header := &types.Header{
		Number:    0,
		StateRoot: root,
		GasLimit:  g.GasLimit,
		BaseFee:   g.BaseFee,
		Timestamp: g.Timestamp,
	}
	return &types.Block{Header: header}, nil
}
