package core

import (
	"testing"

	"github.com/solstice-l2/solstice/core/types"
)

func parentHeader(gasLimit, gasUsed, baseFee uint64) *types.Header {
	return &types.Header{GasLimit: gasLimit, GasUsed: gasUsed, BaseFee: baseFee}
}

func TestNextBaseFeeAtTarget(t *testing.T) {
	// Usage exactly at target leaves the fee unchanged.
	h := parentHeader(30_000_000, 15_000_000, 1_000_000_000)
	if got := NextBaseFee(h); got != 1_000_000_000 {
		t.Fatalf("base fee = %d, want unchanged", got)
	}
}

func TestNextBaseFeeIncrease(t *testing.T) {
	// Full block: fee rises by 1/8.
	h := parentHeader(30_000_000, 30_000_000, 1_000_000_000)
	if got := NextBaseFee(h); got != 1_125_000_000 {
		t.Fatalf("base fee = %d, want 1.125e9", got)
	}
}

func TestNextBaseFeeIncreaseMinimumOne(t *testing.T) {
	// A tiny fee still moves by at least one unit when usage is above target.
	h := parentHeader(30_000_000, 15_000_001, 1)
	if got := NextBaseFee(h); got != 2 {
		t.Fatalf("base fee = %d, want 2", got)
	}
}

func TestNextBaseFeeDecrease(t *testing.T) {
	// Empty block: fee falls by 1/8.
	h := parentHeader(30_000_000, 0, 1_000_000_000)
	if got := NextBaseFee(h); got != 875_000_000 {
		t.Fatalf("base fee = %d, want 0.875e9", got)
	}
}

func TestNextBaseFeeFloorsAtZeroWithoutWraparound(t *testing.T) {
	// When the decrease would meet or exceed the fee, the result is zero,
	// never a wrapped value.
	for _, fee := range []uint64{0, 1, 7} {
		h := parentHeader(30_000_000, 0, fee)
		got := NextBaseFee(h)
		if got > fee {
			t.Fatalf("base fee %d increased to %d on an empty block", fee, got)
		}
	}
	h := parentHeader(30_000_000, 0, 8)
	if got := NextBaseFee(h); got != 7 {
		t.Fatalf("base fee = %d, want 7", got)
	}
}

func TestNextBaseFeeZeroTarget(t *testing.T) {
	h := parentHeader(1, 0, 123)
	if got := NextBaseFee(h); got != 123 {
		t.Fatalf("degenerate gas limit changed fee to %d", got)
	}
}
