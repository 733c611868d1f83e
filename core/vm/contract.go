package vm

import (
	"github.com/holiman/uint256"

	"github.com/solstice-l2/solstice/core/types"
)

// Contract is one call frame: the code being executed, its execution
// context, and the frame's remaining gas.
type Contract struct {
	// Caller is the immediate caller of this frame.
	Caller types.Address

	// Address is the account whose storage this frame operates on.
	Address types.Address

	// Value is the value attached to the call.
	Value uint64

	// Gas is the remaining gas of the frame.
	Gas uint64

	Code     []byte
	CodeHash types.Digest
	Input    []byte

	// returnData holds the output of the last call made by this frame.
	returnData []byte

	jumpdests map[uint64]bool
}

// NewContract creates a call frame.
func NewContract(caller, address types.Address, value, gas uint64) *Contract {
	return &Contract{
		Caller:  caller,
		Address: address,
		Value:   value,
		Gas:     gas,
	}
}

// GetOp returns the opcode at pc, STOP when past the end of code.
func (c *Contract) GetOp(pc uint64) OpCode {
	if pc < uint64(len(c.Code)) {
		return OpCode(c.Code[pc])
	}
	return STOP
}

// UseGas deducts gas from the frame, reporting false when exhausted.
func (c *Contract) UseGas(gas uint64) bool {
	if c.Gas < gas {
		return false
	}
	c.Gas -= gas
	return true
}

// RefundGas returns unused gas to the frame.
func (c *Contract) RefundGas(gas uint64) {
	c.Gas += gas
}

// validJumpdest reports whether dest is a JUMPDEST byte that is not part of
// PUSH immediate data.
func (c *Contract) validJumpdest(dest *uint256.Int) bool {
	if !dest.IsUint64() {
		return false
	}
	pos := dest.Uint64()
	if pos >= uint64(len(c.Code)) {
		return false
	}
	if OpCode(c.Code[pos]) != JUMPDEST {
		return false
	}
	if c.jumpdests == nil {
		c.jumpdests = analyzeJumpdests(c.Code)
	}
	return c.jumpdests[pos]
}

// analyzeJumpdests walks the code once, skipping PUSH immediates, and marks
// every reachable JUMPDEST byte.
func analyzeJumpdests(code []byte) map[uint64]bool {
	dests := make(map[uint64]bool)
	for pc := uint64(0); pc < uint64(len(code)); pc++ {
		op := OpCode(code[pc])
		if op == JUMPDEST {
			dests[pc] = true
		} else if op.IsPush() {
			pc += uint64(op - PUSH1 + 1)
		}
	}
	return dests
}
