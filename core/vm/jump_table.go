package vm

import "github.com/holiman/uint256"

// executionFunc runs one opcode.
type executionFunc func(pc *uint64, evm *EVM, contract *Contract, mem *Memory, stack *Stack) ([]byte, error)

// gasFunc computes an opcode's dynamic gas, charged after constant gas and
// memory expansion.
type gasFunc func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error)

// memorySizeFunc returns the highest memory byte an operation touches.
// The bool reports overflow, which the interpreter treats as out of gas.
type memorySizeFunc func(stack *Stack) (uint64, bool)

// operation describes one opcode.
type operation struct {
	execute     executionFunc
	constantGas uint64
	dynamicGas  gasFunc
	minStack    int
	maxStack    int
	memorySize  memorySizeFunc
	halts       bool
	jumps       bool
	writes      bool
}

// JumpTable maps opcodes to their operations.
type JumpTable [256]*operation

// maxStack is the largest pre-execution stack depth at which an operation
// popping pop items and pushing push items cannot overflow.
func maxStack(pop, push int) int { return StackLimit + pop - push }

func u64WithOverflow(v *uint256.Int) (uint64, bool) {
	if !v.IsUint64() {
		return 0, true
	}
	return v.Uint64(), false
}

func safeAdd(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}

// memOffsetLen computes offset+length from two stack positions, where a zero
// length never expands memory.
func memOffsetLen(stack *Stack, offsetPos, lenPos int) (uint64, bool) {
	length, overflow := u64WithOverflow(stack.Back(lenPos))
	if overflow {
		return 0, true
	}
	if length == 0 {
		return 0, false
	}
	offset, overflow := u64WithOverflow(stack.Back(offsetPos))
	if overflow {
		return 0, true
	}
	sum, overflow := safeAdd(offset, length)
	return sum, overflow
}

func memoryMload(stack *Stack) (uint64, bool) {
	offset, overflow := u64WithOverflow(stack.Back(0))
	if overflow {
		return 0, true
	}
	return safeAdd(offset, 32)
}

func memoryMstore(stack *Stack) (uint64, bool)  { return memoryMload(stack) }
func memoryMstore8(stack *Stack) (uint64, bool) {
	offset, overflow := u64WithOverflow(stack.Back(0))
	if overflow {
		return 0, true
	}
	return safeAdd(offset, 1)
}

func memoryReturn(stack *Stack) (uint64, bool)  { return memOffsetLen(stack, 0, 1) }
func memorySha3(stack *Stack) (uint64, bool)    { return memOffsetLen(stack, 0, 1) }
func memoryLog(stack *Stack) (uint64, bool)     { return memOffsetLen(stack, 0, 1) }
func memoryCreate(stack *Stack) (uint64, bool)  { return memOffsetLen(stack, 1, 2) }
func memoryCopyOps(stack *Stack) (uint64, bool) { return memOffsetLen(stack, 0, 2) }

// memoryCall covers the args and return regions of CALL/CALLCODE.
func memoryCall(stack *Stack) (uint64, bool) {
	in, overflow := memOffsetLen(stack, 3, 4)
	if overflow {
		return 0, true
	}
	out, overflow := memOffsetLen(stack, 5, 6)
	if overflow {
		return 0, true
	}
	if in > out {
		return in, false
	}
	return out, false
}

// memoryDelegateCall covers DELEGATECALL/STATICCALL (no value argument).
func memoryDelegateCall(stack *Stack) (uint64, bool) {
	in, overflow := memOffsetLen(stack, 2, 3)
	if overflow {
		return 0, true
	}
	out, overflow := memOffsetLen(stack, 4, 5)
	if overflow {
		return 0, true
	}
	if in > out {
		return in, false
	}
	return out, false
}

// newJumpTable builds the chain's single instruction set.
func newJumpTable() *JumpTable {
	tbl := JumpTable{
		STOP:       {execute: opStop, constantGas: GasZero, minStack: 0, maxStack: maxStack(0, 0), halts: true},
		ADD:        {execute: opAdd, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		MUL:        {execute: opMul, constantGas: GasLow, minStack: 2, maxStack: maxStack(2, 1)},
		SUB:        {execute: opSub, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		DIV:        {execute: opDiv, constantGas: GasLow, minStack: 2, maxStack: maxStack(2, 1)},
		SDIV:       {execute: opSdiv, constantGas: GasLow, minStack: 2, maxStack: maxStack(2, 1)},
		MOD:        {execute: opMod, constantGas: GasLow, minStack: 2, maxStack: maxStack(2, 1)},
		SMOD:       {execute: opSmod, constantGas: GasLow, minStack: 2, maxStack: maxStack(2, 1)},
		ADDMOD:     {execute: opAddmod, constantGas: GasMid, minStack: 3, maxStack: maxStack(3, 1)},
		MULMOD:     {execute: opMulmod, constantGas: GasMid, minStack: 3, maxStack: maxStack(3, 1)},
		EXP:        {execute: opExp, constantGas: GasExp, dynamicGas: gasExp, minStack: 2, maxStack: maxStack(2, 1)},
		SIGNEXTEND: {execute: opSignExtend, constantGas: GasLow, minStack: 2, maxStack: maxStack(2, 1)},

		LT:     {execute: opLt, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		GT:     {execute: opGt, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		SLT:    {execute: opSlt, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		SGT:    {execute: opSgt, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		EQ:     {execute: opEq, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		ISZERO: {execute: opIszero, constantGas: GasVeryLow, minStack: 1, maxStack: maxStack(1, 1)},
		AND:    {execute: opAnd, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		OR:     {execute: opOr, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		XOR:    {execute: opXor, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		NOT:    {execute: opNot, constantGas: GasVeryLow, minStack: 1, maxStack: maxStack(1, 1)},
		BYTE:   {execute: opByte, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		SHL:    {execute: opShl, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		SHR:    {execute: opShr, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},
		SAR:    {execute: opSar, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 1)},

		SHA3: {execute: opSha3, constantGas: GasHashBase, dynamicGas: gasSha3, minStack: 2, maxStack: maxStack(2, 1), memorySize: memorySha3},

		ADDRESS:        {execute: opAddress, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		BALANCE:        {execute: opBalance, constantGas: GasBalance, minStack: 1, maxStack: maxStack(1, 1)},
		ORIGIN:         {execute: opOrigin, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		CALLER:         {execute: opCaller, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		CALLVALUE:      {execute: opCallValue, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		CALLDATALOAD:   {execute: opCallDataLoad, constantGas: GasVeryLow, minStack: 1, maxStack: maxStack(1, 1)},
		CALLDATASIZE:   {execute: opCallDataSize, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		CALLDATACOPY:   {execute: opCallDataCopy, constantGas: GasVeryLow, dynamicGas: gasCopy, minStack: 3, maxStack: maxStack(3, 0), memorySize: memoryCopyOps},
		CODESIZE:       {execute: opCodeSize, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		CODECOPY:       {execute: opCodeCopy, constantGas: GasVeryLow, dynamicGas: gasCopy, minStack: 3, maxStack: maxStack(3, 0), memorySize: memoryCopyOps},
		GASPRICE:       {execute: opGasPrice, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		EXTCODESIZE:    {execute: opExtCodeSize, constantGas: GasExtCode, minStack: 1, maxStack: maxStack(1, 1)},
		RETURNDATASIZE: {execute: opReturnDataSize, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		RETURNDATACOPY: {execute: opReturnDataCopy, constantGas: GasVeryLow, dynamicGas: gasCopy, minStack: 3, maxStack: maxStack(3, 0), memorySize: memoryCopyOps},

		BLOCKHASH:   {execute: opBlockhash, constantGas: GasExtCode, minStack: 1, maxStack: maxStack(1, 1)},
		COINBASE:    {execute: opCoinbase, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		TIMESTAMP:   {execute: opTimestamp, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		NUMBER:      {execute: opNumber, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		PREVRANDAO:  {execute: opPrevRandao, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		GASLIMIT:    {execute: opGasLimit, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		CHAINID:     {execute: opChainID, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		SELFBALANCE: {execute: opSelfBalance, constantGas: GasLow, minStack: 0, maxStack: maxStack(0, 1)},
		BASEFEE:     {execute: opBaseFee, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},

		POP:      {execute: opPop, constantGas: GasBase, minStack: 1, maxStack: maxStack(1, 0)},
		MLOAD:    {execute: opMload, constantGas: GasVeryLow, minStack: 1, maxStack: maxStack(1, 1), memorySize: memoryMload},
		MSTORE:   {execute: opMstore, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 0), memorySize: memoryMstore},
		MSTORE8:  {execute: opMstore8, constantGas: GasVeryLow, minStack: 2, maxStack: maxStack(2, 0), memorySize: memoryMstore8},
		SLOAD:    {execute: opSload, constantGas: GasSload, minStack: 1, maxStack: maxStack(1, 1)},
		SSTORE:   {execute: opSstore, dynamicGas: gasSstore, minStack: 2, maxStack: maxStack(2, 0), writes: true},
		JUMP:     {execute: opJump, constantGas: GasMid, minStack: 1, maxStack: maxStack(1, 0), jumps: true},
		JUMPI:    {execute: opJumpi, constantGas: GasHigh, minStack: 2, maxStack: maxStack(2, 0), jumps: true},
		PC:       {execute: opPc, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		MSIZE:    {execute: opMsize, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		GAS:      {execute: opGas, constantGas: GasBase, minStack: 0, maxStack: maxStack(0, 1)},
		JUMPDEST: {execute: opJumpdest, constantGas: GasJumpdest, minStack: 0, maxStack: maxStack(0, 0)},

		CREATE:       {execute: opCreate, constantGas: GasCreate, minStack: 3, maxStack: maxStack(3, 1), memorySize: memoryCreate, writes: true},
		CALL:         {execute: opCall, constantGas: GasCall, minStack: 7, maxStack: maxStack(7, 1), memorySize: memoryCall},
		CALLCODE:     {execute: opCallCode, constantGas: GasCall, minStack: 7, maxStack: maxStack(7, 1), memorySize: memoryCall},
		RETURN:       {execute: opReturn, constantGas: GasZero, minStack: 2, maxStack: maxStack(2, 0), memorySize: memoryReturn, halts: true},
		DELEGATECALL: {execute: opDelegateCall, constantGas: GasCall, minStack: 6, maxStack: maxStack(6, 1), memorySize: memoryDelegateCall},
		CREATE2:      {execute: opCreate2, constantGas: GasCreate, dynamicGas: gasCreate2, minStack: 4, maxStack: maxStack(4, 1), memorySize: memoryCreate, writes: true},
		STATICCALL:   {execute: opStaticCall, constantGas: GasCall, minStack: 6, maxStack: maxStack(6, 1), memorySize: memoryDelegateCall},
		REVERT:       {execute: opRevert, constantGas: GasZero, minStack: 2, maxStack: maxStack(2, 0), memorySize: memoryReturn},
		INVALID:      {execute: opInvalid, constantGas: GasZero, minStack: 0, maxStack: maxStack(0, 0)},
		SELFDESTRUCT: {execute: opSelfdestruct, constantGas: GasSelfDestruct, minStack: 1, maxStack: maxStack(1, 0), halts: true, writes: true},
	}

	for i := 0; i < 32; i++ {
		n := i + 1
		tbl[int(PUSH1)+i] = &operation{
			execute:     makePush(uint64(n)),
			constantGas: GasVeryLow,
			minStack:    0,
			maxStack:    maxStack(0, 1),
		}
	}
	for i := 0; i < 16; i++ {
		n := i + 1
		tbl[int(DUP1)+i] = &operation{
			execute:     makeDup(n),
			constantGas: GasVeryLow,
			minStack:    n,
			maxStack:    maxStack(n, n+1),
		}
		tbl[int(SWAP1)+i] = &operation{
			execute:     makeSwap(n),
			constantGas: GasVeryLow,
			minStack:    n + 1,
			maxStack:    maxStack(n+1, n+1),
		}
	}
	for i := 0; i <= 4; i++ {
		n := i
		tbl[int(LOG0)+i] = &operation{
			execute:     makeLog(n),
			dynamicGas:  makeGasLog(uint64(n)),
			minStack:    n + 2,
			maxStack:    maxStack(n+2, 0),
			memorySize:  memoryLog,
			writes:      true,
		}
	}
	return &tbl
}

var defaultJumpTable = newJumpTable()
