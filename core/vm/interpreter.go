package vm

// run executes the contract's bytecode until it halts, reverts, or errors.
// Per-frame execution state lives entirely on this stack frame; nested calls
// recurse through the instruction handlers back into the EVM.
func (evm *EVM) run(contract *Contract, input []byte) ([]byte, error) {
	evm.depth++
	defer func() { evm.depth-- }()

	if len(contract.Code) == 0 {
		return nil, nil
	}
	contract.Input = input

	var (
		pc    uint64
		stack = newStack()
		mem   = newMemory()
	)

	for {
		op := contract.GetOp(pc)
		operation := evm.jumpTable[op]
		if operation == nil {
			return nil, ErrInvalidOpcode
		}

		if sLen := stack.len(); sLen < operation.minStack {
			return nil, ErrStackUnderflow
		} else if sLen > operation.maxStack {
			return nil, ErrStackOverflow
		}

		if evm.readOnly && operation.writes {
			return nil, ErrStaticViolation
		}

		if operation.constantGas > 0 {
			if !contract.UseGas(operation.constantGas) {
				return nil, ErrOutOfGas
			}
		}

		if operation.memorySize != nil {
			memSize, overflow := operation.memorySize(stack)
			if overflow || memSize > maxMemoryExpand {
				return nil, ErrOutOfGas
			}
			if memSize > 0 {
				expansion, ok := memoryExpansionGas(mem, toWordSize(memSize)*32)
				if !ok {
					return nil, ErrOutOfGas
				}
				if !contract.UseGas(expansion) {
					return nil, ErrOutOfGas
				}
				mem.Resize(toWordSize(memSize) * 32)
			}
		}

		if operation.dynamicGas != nil {
			cost, err := operation.dynamicGas(evm, contract, stack, mem, uint64(mem.Len()))
			if err != nil {
				return nil, err
			}
			if !contract.UseGas(cost) {
				return nil, ErrOutOfGas
			}
		}

		ret, err := operation.execute(&pc, evm, contract, mem, stack)
		if err != nil {
			return ret, err
		}
		if operation.halts {
			return ret, nil
		}
		if operation.jumps {
			continue
		}
		pc++
	}
}
