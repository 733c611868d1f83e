package vm

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/solstice-l2/solstice/core/types"
)

// callGasCap applies the all-but-one-64th rule: a frame may forward at most
// available - available/64 gas.
func callGasCap(available, requested uint64) uint64 {
	limit := available - available/CallGasFraction
	if requested < limit {
		return requested
	}
	return limit
}

// valueU64 narrows a 256-bit call value to the chain's 64-bit balances. A
// value beyond 64 bits saturates so the balance check fails naturally.
func valueU64(v *uint256.Int) uint64 {
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

// finishCall settles a child call: writes return data into memory, refunds
// leftover gas, records the frame's return data, and pushes the status word.
func finishCall(contract *Contract, mem *Memory, stack *Stack, ret []byte, leftover uint64, err error, retOffset, retSize uint64) {
	if err == nil || err == ErrExecutionReverted {
		n := uint64(len(ret))
		if n > retSize {
			n = retSize
		}
		mem.Set(retOffset, n, ret)
	}
	contract.RefundGas(leftover)
	contract.returnData = ret
	v := new(uint256.Int)
	if err == nil {
		v.SetOne()
	}
	stack.push(v)
}

func opCall(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	requested := stack.pop()
	addrWord := stack.pop()
	value := stack.pop()
	inOffset := stack.pop()
	inSize := stack.pop()
	retOffset := stack.pop()
	retSize := stack.pop()

	if evm.readOnly && !value.IsZero() {
		return nil, ErrStaticViolation
	}
	toAddr := wordToAddress(&addrWord)
	args := mem.GetCopy(inOffset.Uint64(), inSize.Uint64())

	var surcharge uint64
	if !value.IsZero() {
		surcharge += GasCallValue
		if !evm.StateDB.Exist(toAddr) {
			surcharge += GasNewAccount
		}
	}
	if !contract.UseGas(surcharge) {
		return nil, ErrOutOfGas
	}
	gas := callGasCap(contract.Gas, valueU64(&requested))
	if !contract.UseGas(gas) {
		return nil, ErrOutOfGas
	}
	if !value.IsZero() {
		gas += GasCallStipend
	}

	ret, leftover, err := evm.Call(contract.Address, toAddr, args, gas, valueU64(&value))
	finishCall(contract, mem, stack, ret, leftover, err, retOffset.Uint64(), retSize.Uint64())
	return nil, nil
}

func opCallCode(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	requested := stack.pop()
	addrWord := stack.pop()
	value := stack.pop()
	inOffset := stack.pop()
	inSize := stack.pop()
	retOffset := stack.pop()
	retSize := stack.pop()

	if evm.readOnly && !value.IsZero() {
		return nil, ErrStaticViolation
	}
	toAddr := wordToAddress(&addrWord)
	args := mem.GetCopy(inOffset.Uint64(), inSize.Uint64())

	var surcharge uint64
	if !value.IsZero() {
		surcharge += GasCallValue
	}
	if !contract.UseGas(surcharge) {
		return nil, ErrOutOfGas
	}
	gas := callGasCap(contract.Gas, valueU64(&requested))
	if !contract.UseGas(gas) {
		return nil, ErrOutOfGas
	}
	if !value.IsZero() {
		gas += GasCallStipend
	}

	ret, leftover, err := evm.CallCode(contract, toAddr, args, gas, valueU64(&value))
	finishCall(contract, mem, stack, ret, leftover, err, retOffset.Uint64(), retSize.Uint64())
	return nil, nil
}

func opDelegateCall(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	requested := stack.pop()
	addrWord := stack.pop()
	inOffset := stack.pop()
	inSize := stack.pop()
	retOffset := stack.pop()
	retSize := stack.pop()

	toAddr := wordToAddress(&addrWord)
	args := mem.GetCopy(inOffset.Uint64(), inSize.Uint64())

	gas := callGasCap(contract.Gas, valueU64(&requested))
	if !contract.UseGas(gas) {
		return nil, ErrOutOfGas
	}

	ret, leftover, err := evm.DelegateCall(contract, toAddr, args, gas)
	finishCall(contract, mem, stack, ret, leftover, err, retOffset.Uint64(), retSize.Uint64())
	return nil, nil
}

func opStaticCall(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	requested := stack.pop()
	addrWord := stack.pop()
	inOffset := stack.pop()
	inSize := stack.pop()
	retOffset := stack.pop()
	retSize := stack.pop()

	toAddr := wordToAddress(&addrWord)
	args := mem.GetCopy(inOffset.Uint64(), inSize.Uint64())

	gas := callGasCap(contract.Gas, valueU64(&requested))
	if !contract.UseGas(gas) {
		return nil, ErrOutOfGas
	}

	ret, leftover, err := evm.StaticCall(contract.Address, toAddr, args, gas)
	finishCall(contract, mem, stack, ret, leftover, err, retOffset.Uint64(), retSize.Uint64())
	return nil, nil
}

// finishCreate mirrors finishCall for CREATE/CREATE2: pushes the created
// address or zero.
func finishCreate(contract *Contract, stack *Stack, ret []byte, addr types.Address, leftover uint64, err error) {
	contract.RefundGas(leftover)
	if err == ErrExecutionReverted {
		contract.returnData = ret
	} else {
		contract.returnData = nil
	}
	v := new(uint256.Int)
	if err == nil {
		v.SetBytes(addr.Payload[:])
	}
	stack.push(v)
}

func opCreate(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	value := stack.pop()
	offset := stack.pop()
	size := stack.pop()

	initCode := mem.GetCopy(offset.Uint64(), size.Uint64())

	// All but one 64th of the remaining gas goes to the child frame.
	gas := contract.Gas - contract.Gas/CallGasFraction
	if !contract.UseGas(gas) {
		return nil, ErrOutOfGas
	}
	ret, addr, leftover, err := evm.Create(contract.Address, initCode, gas, valueU64(&value))
	finishCreate(contract, stack, ret, addr, leftover, err)
	return nil, nil
}

func opCreate2(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	value := stack.pop()
	offset := stack.pop()
	size := stack.pop()
	salt := stack.pop()

	initCode := mem.GetCopy(offset.Uint64(), size.Uint64())

	gas := contract.Gas - contract.Gas/CallGasFraction
	if !contract.UseGas(gas) {
		return nil, ErrOutOfGas
	}
	ret, addr, leftover, err := evm.Create2(contract.Address, initCode, gas, valueU64(&value), types.Digest(salt.Bytes32()))
	finishCreate(contract, stack, ret, addr, leftover, err)
	return nil, nil
}

func opSelfdestruct(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	beneficiaryWord := stack.pop()
	beneficiary := wordToAddress(&beneficiaryWord)
	balance := evm.StateDB.GetBalance(contract.Address)
	evm.StateDB.AddBalance(beneficiary, balance)
	evm.StateDB.SelfDestruct(contract.Address)
	return nil, nil
}
