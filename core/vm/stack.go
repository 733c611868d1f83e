package vm

import "github.com/holiman/uint256"

// StackLimit is the maximum operand stack depth.
const StackLimit = 1024

// Stack is the operand stack: 256-bit words, at most 1024 deep. Bounds are
// validated by the interpreter before an operation executes, so the accessors
// do not re-check.
type Stack struct {
	data []uint256.Int
}

func newStack() *Stack {
	return &Stack{data: make([]uint256.Int, 0, 16)}
}

func (st *Stack) push(v *uint256.Int) {
	st.data = append(st.data, *v)
}

func (st *Stack) pop() uint256.Int {
	v := st.data[len(st.data)-1]
	st.data = st.data[:len(st.data)-1]
	return v
}

// peek returns the top element in place.
func (st *Stack) peek() *uint256.Int {
	return &st.data[len(st.data)-1]
}

// Back returns the nth element from the top (0 = top) in place.
func (st *Stack) Back(n int) *uint256.Int {
	return &st.data[len(st.data)-1-n]
}

func (st *Stack) swap(n int) {
	top := len(st.data) - 1
	st.data[top], st.data[top-n] = st.data[top-n], st.data[top]
}

func (st *Stack) dup(n int) {
	st.data = append(st.data, st.data[len(st.data)-n])
}

func (st *Stack) len() int { return len(st.data) }

// Len returns the number of stack items.
func (st *Stack) Len() int { return len(st.data) }
