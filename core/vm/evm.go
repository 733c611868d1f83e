// Package vm implements the stack-based, gas-metered bytecode interpreter:
// 256-bit words, byte-addressable memory, nested calls with per-frame
// snapshots, and a fixed precompile registry.
package vm

import (
	"encoding/binary"

	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
)

// StateDB is the world-state surface the VM executes against. The concrete
// implementation lives in core/state; the interface is declared here to
// avoid an import cycle.
type StateDB interface {
	CreateAccount(addr types.Address)
	Exist(addr types.Address) bool

	GetBalance(addr types.Address) uint64
	AddBalance(addr types.Address, amount uint64)
	SubBalance(addr types.Address, amount uint64) error

	GetNonce(addr types.Address) uint64
	SetNonce(addr types.Address, nonce uint64)

	GetCode(addr types.Address) []byte
	SetCode(addr types.Address, code []byte)
	GetCodeHash(addr types.Address) types.Digest
	GetCodeSize(addr types.Address) int

	GetState(addr types.Address, slot types.Digest) types.Digest
	SetState(addr types.Address, slot, value types.Digest)

	SelfDestruct(addr types.Address)
	HasSelfDestructed(addr types.Address) bool

	AddLog(log *types.Log)

	Snapshot() int
	RevertToSnapshot(id int)
}

// GetHashFunc resolves a recent block number to its header hash.
type GetHashFunc func(uint64) types.Digest

// BlockContext carries block-level execution context.
type BlockContext struct {
	BlockNumber uint64
	Time        uint64
	GasLimit    uint64
	BaseFee     uint64
	ChainID     uint64
	Coinbase    types.Address
	Random      types.Digest
	GetHash     GetHashFunc
}

// TxContext carries transaction-level execution context.
type TxContext struct {
	Origin   types.Address
	GasPrice uint64
}

// EVM executes bytecode against a StateDB under a block and transaction
// context. An EVM instance is used for one transaction and is not safe for
// concurrent use.
type EVM struct {
	Context   BlockContext
	TxContext TxContext
	StateDB   StateDB

	depth       int
	readOnly    bool
	jumpTable   *JumpTable
	precompiles map[[types.AddressLength]byte]PrecompiledContract
}

// NewEVM creates an EVM for one transaction.
func NewEVM(blockCtx BlockContext, txCtx TxContext, statedb StateDB) *EVM {
	return &EVM{
		Context:     blockCtx,
		TxContext:   txCtx,
		StateDB:     statedb,
		jumpTable:   defaultJumpTable,
		precompiles: activePrecompiles,
	}
}

// Depth returns the current call depth.
func (evm *EVM) Depth() int { return evm.depth }

// precompile looks up a registered precompiled contract.
func (evm *EVM) precompile(addr types.Address) (PrecompiledContract, bool) {
	p, ok := evm.precompiles[addr.Payload]
	return p, ok
}

// Call executes the code at addr with the given input, transferring value
// from caller. Returns the output, the leftover gas, and the error, if any.
func (evm *EVM) Call(caller, addr types.Address, input []byte, gas, value uint64) ([]byte, uint64, error) {
	if evm.depth > MaxCallDepth {
		return nil, gas, ErrMaxCallDepthExceeded
	}
	if p, ok := evm.precompile(addr); ok {
		return runPrecompile(p, input, gas)
	}

	snapshot := evm.StateDB.Snapshot()

	if value > 0 {
		if evm.readOnly {
			return nil, gas, ErrStaticViolation
		}
		if !evm.StateDB.Exist(addr) {
			evm.StateDB.CreateAccount(addr)
		}
		if err := evm.StateDB.SubBalance(caller, value); err != nil {
			evm.StateDB.RevertToSnapshot(snapshot)
			return nil, gas, ErrBalanceUnderflow
		}
		evm.StateDB.AddBalance(addr, value)
	}

	code := evm.StateDB.GetCode(addr)
	if len(code) == 0 {
		return nil, gas, nil
	}

	contract := NewContract(caller, addr, value, gas)
	contract.Code = code
	contract.CodeHash = evm.StateDB.GetCodeHash(addr)

	ret, err := evm.run(contract, input)
	return evm.settleFrame(snapshot, contract, ret, err)
}

// CallCode runs the code at addr in the caller's storage context, with the
// caller as both storage owner and value recipient.
func (evm *EVM) CallCode(caller *Contract, addr types.Address, input []byte, gas, value uint64) ([]byte, uint64, error) {
	if evm.depth > MaxCallDepth {
		return nil, gas, ErrMaxCallDepthExceeded
	}
	if p, ok := evm.precompile(addr); ok {
		return runPrecompile(p, input, gas)
	}
	if value > 0 && evm.StateDB.GetBalance(caller.Address) < value {
		return nil, gas, ErrBalanceUnderflow
	}

	snapshot := evm.StateDB.Snapshot()
	code := evm.StateDB.GetCode(addr)
	if len(code) == 0 {
		return nil, gas, nil
	}

	contract := NewContract(caller.Address, caller.Address, value, gas)
	contract.Code = code
	contract.CodeHash = evm.StateDB.GetCodeHash(addr)

	ret, err := evm.run(contract, input)
	return evm.settleFrame(snapshot, contract, ret, err)
}

// DelegateCall runs the code at addr in the caller's full context: storage,
// caller identity, and value are inherited from the calling frame.
func (evm *EVM) DelegateCall(caller *Contract, addr types.Address, input []byte, gas uint64) ([]byte, uint64, error) {
	if evm.depth > MaxCallDepth {
		return nil, gas, ErrMaxCallDepthExceeded
	}
	if p, ok := evm.precompile(addr); ok {
		return runPrecompile(p, input, gas)
	}

	snapshot := evm.StateDB.Snapshot()
	code := evm.StateDB.GetCode(addr)
	if len(code) == 0 {
		return nil, gas, nil
	}

	contract := NewContract(caller.Caller, caller.Address, caller.Value, gas)
	contract.Code = code
	contract.CodeHash = evm.StateDB.GetCodeHash(addr)

	ret, err := evm.run(contract, input)
	return evm.settleFrame(snapshot, contract, ret, err)
}

// StaticCall executes the code at addr read-only: any state-mutating opcode
// in the callee fails with StaticViolation.
func (evm *EVM) StaticCall(caller, addr types.Address, input []byte, gas uint64) ([]byte, uint64, error) {
	if evm.depth > MaxCallDepth {
		return nil, gas, ErrMaxCallDepthExceeded
	}
	if p, ok := evm.precompile(addr); ok {
		return runPrecompile(p, input, gas)
	}

	snapshot := evm.StateDB.Snapshot()
	code := evm.StateDB.GetCode(addr)
	if len(code) == 0 {
		return nil, gas, nil
	}

	contract := NewContract(caller, addr, 0, gas)
	contract.Code = code
	contract.CodeHash = evm.StateDB.GetCodeHash(addr)

	prevReadOnly := evm.readOnly
	evm.readOnly = true
	ret, err := evm.run(contract, input)
	evm.readOnly = prevReadOnly

	return evm.settleFrame(snapshot, contract, ret, err)
}

// settleFrame applies the per-frame revert discipline: any error rolls the
// frame's state back; non-revert errors also burn the frame's remaining gas.
func (evm *EVM) settleFrame(snapshot int, contract *Contract, ret []byte, err error) ([]byte, uint64, error) {
	if err == nil {
		return ret, contract.Gas, nil
	}
	evm.StateDB.RevertToSnapshot(snapshot)
	if err == ErrExecutionReverted {
		return ret, contract.Gas, err
	}
	return nil, 0, err
}

// CreateAddress derives a contract address from the creator and its nonce:
// H(creator ‖ nonce) truncated to the payload length, tagged as script.
func CreateAddress(creator types.Address, nonce uint64) types.Address {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	h := crypto.HashConcat(creator.Payload[:], nonceBytes[:])
	addr := types.BytesToAddress(h[:types.AddressLength])
	addr.Kind = types.KindScript
	return addr
}

// Create2Address derives a contract address from the creator, a salt, and
// the init-code hash.
func Create2Address(creator types.Address, salt types.Digest, initCodeHash types.Digest) types.Address {
	h := crypto.HashConcat(creator.Payload[:], salt[:], initCodeHash[:])
	addr := types.BytesToAddress(h[:types.AddressLength])
	addr.Kind = types.KindScript
	return addr
}

// Create deploys a contract with the given init code.
func (evm *EVM) Create(caller types.Address, code []byte, gas, value uint64) ([]byte, types.Address, uint64, error) {
	nonce := evm.StateDB.GetNonce(caller)
	evm.StateDB.SetNonce(caller, nonce+1)
	addr := CreateAddress(caller, nonce)
	return evm.create(caller, code, gas, value, addr)
}

// Create2 deploys a contract at a salt-derived address.
func (evm *EVM) Create2(caller types.Address, code []byte, gas, value uint64, salt types.Digest) ([]byte, types.Address, uint64, error) {
	initHash := crypto.Hash(code)
	addr := Create2Address(caller, salt, initHash)
	// The creator nonce still advances, as with CREATE.
	evm.StateDB.SetNonce(caller, evm.StateDB.GetNonce(caller)+1)
	return evm.create(caller, code, gas, value, addr)
}

func (evm *EVM) create(caller types.Address, code []byte, gas, value uint64, addr types.Address) ([]byte, types.Address, uint64, error) {
	if evm.depth > MaxCallDepth {
		return nil, types.Address{}, gas, ErrMaxCallDepthExceeded
	}
	if evm.readOnly {
		return nil, types.Address{}, gas, ErrStaticViolation
	}
	if len(code) > MaxInitCodeSize {
		return nil, types.Address{}, 0, ErrMaxCodeSizeExceeded
	}
	// Refuse to overwrite an existing contract.
	if evm.StateDB.GetNonce(addr) != 0 || !evm.StateDB.GetCodeHash(addr).IsZero() {
		return nil, types.Address{}, 0, ErrContractCollision
	}

	snapshot := evm.StateDB.Snapshot()
	evm.StateDB.CreateAccount(addr)

	if value > 0 {
		if err := evm.StateDB.SubBalance(caller, value); err != nil {
			evm.StateDB.RevertToSnapshot(snapshot)
			return nil, types.Address{}, gas, ErrBalanceUnderflow
		}
		evm.StateDB.AddBalance(addr, value)
	}

	contract := NewContract(caller, addr, value, gas)
	contract.Code = code
	contract.CodeHash = crypto.Hash(code)

	ret, err := evm.run(contract, nil)
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err == ErrExecutionReverted {
			return ret, types.Address{}, contract.Gas, err
		}
		return nil, types.Address{}, 0, err
	}

	if len(ret) > 0 {
		if len(ret) > MaxCodeSize {
			evm.StateDB.RevertToSnapshot(snapshot)
			return nil, types.Address{}, 0, ErrMaxCodeSizeExceeded
		}
		depositCost := uint64(len(ret)) * GasCreateData
		if !contract.UseGas(depositCost) {
			evm.StateDB.RevertToSnapshot(snapshot)
			return nil, types.Address{}, 0, ErrOutOfGas
		}
		evm.StateDB.SetCode(addr, ret)
	}
	return ret, addr, contract.Gas, nil
}
