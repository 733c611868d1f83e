package vm

import (
	"github.com/holiman/uint256"

	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
)

// wordToAddress takes the low 28 bytes of a 256-bit word as an address.
func wordToAddress(w *uint256.Int) types.Address {
	b := w.Bytes32()
	return types.BytesToAddress(b[types.DigestLength-types.AddressLength:])
}

// getData returns size bytes of data starting at offset, zero-padded past
// the end.
func getData(data []byte, offset *uint256.Int, size uint64) []byte {
	out := make([]byte, size)
	if !offset.IsUint64() {
		return out
	}
	start := offset.Uint64()
	if start > uint64(len(data)) {
		return out
	}
	end := start + size
	if end < start || end > uint64(len(data)) {
		end = uint64(len(data))
	}
	copy(out, data[start:end])
	return out
}

// --- arithmetic ---

func opAdd(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	y.Add(&x, y)
	return nil, nil
}

func opMul(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	y.Mul(&x, y)
	return nil, nil
}

func opSub(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	y.Sub(&x, y)
	return nil, nil
}

func opDiv(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	y.Div(&x, y)
	return nil, nil
}

func opSdiv(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	y.SDiv(&x, y)
	return nil, nil
}

func opMod(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	y.Mod(&x, y)
	return nil, nil
}

func opSmod(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	y.SMod(&x, y)
	return nil, nil
}

func opAddmod(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.pop()
	z := stack.peek()
	if z.IsZero() {
		z.Clear()
	} else {
		z.AddMod(&x, &y, z)
	}
	return nil, nil
}

func opMulmod(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.pop()
	z := stack.peek()
	if z.IsZero() {
		z.Clear()
	} else {
		z.MulMod(&x, &y, z)
	}
	return nil, nil
}

func opExp(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	base := stack.pop()
	exponent := stack.peek()
	exponent.Exp(&base, exponent)
	return nil, nil
}

func opSignExtend(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	back := stack.pop()
	num := stack.peek()
	if back.LtUint64(31) {
		num.ExtendSign(num, &back)
	}
	return nil, nil
}

// --- comparison / bitwise ---

func opLt(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	if x.Lt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opGt(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	if x.Gt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opSlt(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	if x.Slt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opSgt(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	if x.Sgt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opEq(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	if x.Eq(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opIszero(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.peek()
	if x.IsZero() {
		x.SetOne()
	} else {
		x.Clear()
	}
	return nil, nil
}

func opAnd(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	y.And(&x, y)
	return nil, nil
}

func opOr(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	y.Or(&x, y)
	return nil, nil
}

func opXor(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.pop()
	y := stack.peek()
	y.Xor(&x, y)
	return nil, nil
}

func opNot(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	x := stack.peek()
	x.Not(x)
	return nil, nil
}

func opByte(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	th := stack.pop()
	val := stack.peek()
	val.Byte(&th)
	return nil, nil
}

func opShl(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	shift := stack.pop()
	value := stack.peek()
	if shift.LtUint64(256) {
		value.Lsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}

func opShr(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	shift := stack.pop()
	value := stack.peek()
	if shift.LtUint64(256) {
		value.Rsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}

func opSar(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	shift := stack.pop()
	value := stack.peek()
	if shift.LtUint64(256) {
		value.SRsh(value, uint(shift.Uint64()))
	} else if value.Sign() >= 0 {
		value.Clear()
	} else {
		value.SetAllOne()
	}
	return nil, nil
}

// --- hashing ---

func opSha3(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	offset := stack.pop()
	size := stack.peek()
	data := mem.GetPtr(offset.Uint64(), size.Uint64())
	d := crypto.Hash(data)
	size.SetBytes(d[:])
	return nil, nil
}

func gasSha3(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	size, overflow := u64WithOverflow(stack.Back(1))
	if overflow {
		return 0, ErrOutOfGas
	}
	return GasHashWord * toWordSize(size), nil
}

// --- environment ---

func opAddress(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetBytes(contract.Address.Payload[:]))
	return nil, nil
}

func opBalance(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	slot := stack.peek()
	addr := wordToAddress(slot)
	slot.SetUint64(evm.StateDB.GetBalance(addr))
	return nil, nil
}

func opOrigin(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetBytes(evm.TxContext.Origin.Payload[:]))
	return nil, nil
}

func opCaller(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetBytes(contract.Caller.Payload[:]))
	return nil, nil
}

func opCallValue(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(contract.Value))
	return nil, nil
}

func opCallDataLoad(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	offset := stack.peek()
	data := getData(contract.Input, offset, 32)
	offset.SetBytes(data)
	return nil, nil
}

func opCallDataSize(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(uint64(len(contract.Input))))
	return nil, nil
}

func opCallDataCopy(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	memOffset := stack.pop()
	dataOffset := stack.pop()
	length := stack.pop()
	if length.IsZero() {
		return nil, nil
	}
	data := getData(contract.Input, &dataOffset, length.Uint64())
	mem.Set(memOffset.Uint64(), length.Uint64(), data)
	return nil, nil
}

func opCodeSize(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(uint64(len(contract.Code))))
	return nil, nil
}

func opCodeCopy(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	memOffset := stack.pop()
	codeOffset := stack.pop()
	length := stack.pop()
	if length.IsZero() {
		return nil, nil
	}
	data := getData(contract.Code, &codeOffset, length.Uint64())
	mem.Set(memOffset.Uint64(), length.Uint64(), data)
	return nil, nil
}

func opGasPrice(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(evm.TxContext.GasPrice))
	return nil, nil
}

func opExtCodeSize(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	slot := stack.peek()
	addr := wordToAddress(slot)
	slot.SetUint64(uint64(evm.StateDB.GetCodeSize(addr)))
	return nil, nil
}

func opReturnDataSize(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(uint64(len(contract.returnData))))
	return nil, nil
}

func opReturnDataCopy(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	memOffset := stack.pop()
	dataOffset := stack.pop()
	length := stack.pop()
	offset64, overflow := u64WithOverflow(&dataOffset)
	if overflow {
		return nil, ErrReturnDataOutOfBounds
	}
	end, overflow := safeAdd(offset64, length.Uint64())
	if overflow || end > uint64(len(contract.returnData)) {
		return nil, ErrReturnDataOutOfBounds
	}
	if length.IsZero() {
		return nil, nil
	}
	mem.Set(memOffset.Uint64(), length.Uint64(), contract.returnData[offset64:end])
	return nil, nil
}

// gasCopy charges 3 gas per copied word for the *COPY operations.
func gasCopy(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	length, overflow := u64WithOverflow(stack.Back(2))
	if overflow {
		return 0, ErrOutOfGas
	}
	return GasCopyWord * toWordSize(length), nil
}

func gasExp(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	exponent := stack.Back(1)
	byteLen := uint64((exponent.BitLen() + 7) / 8)
	return GasExpByte * byteLen, nil
}

// --- block context ---

func opBlockhash(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	num := stack.peek()
	if !num.IsUint64() {
		num.Clear()
		return nil, nil
	}
	requested := num.Uint64()
	current := evm.Context.BlockNumber
	if evm.Context.GetHash == nil || requested >= current || current-requested > 256 {
		num.Clear()
		return nil, nil
	}
	h := evm.Context.GetHash(requested)
	num.SetBytes(h[:])
	return nil, nil
}

func opCoinbase(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetBytes(evm.Context.Coinbase.Payload[:]))
	return nil, nil
}

func opTimestamp(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(evm.Context.Time))
	return nil, nil
}

func opNumber(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(evm.Context.BlockNumber))
	return nil, nil
}

func opPrevRandao(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetBytes(evm.Context.Random[:]))
	return nil, nil
}

func opGasLimit(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(evm.Context.GasLimit))
	return nil, nil
}

func opChainID(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(evm.Context.ChainID))
	return nil, nil
}

func opSelfBalance(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(evm.StateDB.GetBalance(contract.Address)))
	return nil, nil
}

func opBaseFee(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(evm.Context.BaseFee))
	return nil, nil
}

// --- stack, memory, storage ---

func opPop(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.pop()
	return nil, nil
}

func opMload(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	offset := stack.peek()
	v := offset.Uint64()
	offset.SetBytes(mem.GetPtr(v, 32))
	return nil, nil
}

func opMstore(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	offset := stack.pop()
	value := stack.pop()
	mem.Set32(offset.Uint64(), &value)
	return nil, nil
}

func opMstore8(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	offset := stack.pop()
	value := stack.pop()
	mem.Set(offset.Uint64(), 1, []byte{byte(value.Uint64())})
	return nil, nil
}

func opSload(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	slot := stack.peek()
	key := types.Digest(slot.Bytes32())
	value := evm.StateDB.GetState(contract.Address, key)
	slot.SetBytes(value[:])
	return nil, nil
}

func opSstore(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	slot := stack.pop()
	value := stack.pop()
	key := types.Digest(slot.Bytes32())
	evm.StateDB.SetState(contract.Address, key, types.Digest(value.Bytes32()))
	return nil, nil
}

// gasSstore charges the cold-set cost when a zero slot becomes non-zero and
// the reset cost otherwise.
func gasSstore(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	slot := stack.Back(0)
	value := stack.Back(1)
	key := types.Digest(slot.Bytes32())
	current := evm.StateDB.GetState(contract.Address, key)
	if current.IsZero() && !value.IsZero() {
		return GasSstoreSet, nil
	}
	return GasSstoreReset, nil
}

// --- control flow ---

func opStop(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	return nil, nil
}

func opJump(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	dest := stack.pop()
	if !contract.validJumpdest(&dest) {
		return nil, ErrBadJump
	}
	*pc = dest.Uint64()
	return nil, nil
}

func opJumpi(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	dest := stack.pop()
	cond := stack.pop()
	if cond.IsZero() {
		*pc++
		return nil, nil
	}
	if !contract.validJumpdest(&dest) {
		return nil, ErrBadJump
	}
	*pc = dest.Uint64()
	return nil, nil
}

func opJumpdest(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	return nil, nil
}

func opPc(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(*pc))
	return nil, nil
}

func opMsize(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(uint64(mem.Len())))
	return nil, nil
}

func opGas(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	stack.push(new(uint256.Int).SetUint64(contract.Gas))
	return nil, nil
}

func opReturn(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	offset := stack.pop()
	size := stack.pop()
	return mem.GetCopy(offset.Uint64(), size.Uint64()), nil
}

func opRevert(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	offset := stack.pop()
	size := stack.pop()
	return mem.GetCopy(offset.Uint64(), size.Uint64()), ErrExecutionReverted
}

func opInvalid(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
	return nil, ErrInvalidOpcode
}

// --- push / dup / swap ---

func makePush(size uint64) executionFunc {
	return func(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
		start := *pc + 1
		end := start + size
		codeLen := uint64(len(contract.Code))
		if start > codeLen {
			start = codeLen
		}
		if end > codeLen {
			end = codeLen
		}
		v := new(uint256.Int).SetBytes(contract.Code[start:end])
		// Missing immediate bytes read as trailing zeros.
		if shortfall := size - (end - start); shortfall > 0 {
			v.Lsh(v, uint(8*shortfall))
		}
		stack.push(v)
		*pc += size
		return nil, nil
	}
}

func makeDup(n int) executionFunc {
	return func(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
		stack.dup(n)
		return nil, nil
	}
}

func makeSwap(n int) executionFunc {
	return func(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
		stack.swap(n)
		return nil, nil
	}
}

// --- logging ---

func makeLog(topics int) executionFunc {
	return func(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error) {
		offset := stack.pop()
		size := stack.pop()
		log := &types.Log{Address: contract.Address}
		for i := 0; i < topics; i++ {
			t := stack.pop()
			log.Topics = append(log.Topics, types.Digest(t.Bytes32()))
		}
		log.Data = mem.GetCopy(offset.Uint64(), size.Uint64())
		evm.StateDB.AddLog(log)
		return nil, nil
	}
}

func makeGasLog(topics uint64) gasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		size, overflow := u64WithOverflow(stack.Back(1))
		if overflow {
			return 0, ErrOutOfGas
		}
		return GasLog + GasLogTopic*topics + GasLogData*size, nil
	}
}

// gasCreate2 charges the hashing cost of the init code.
func gasCreate2(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	size, overflow := u64WithOverflow(stack.Back(2))
	if overflow {
		return 0, ErrOutOfGas
	}
	return GasHashWord * toWordSize(size), nil
}
