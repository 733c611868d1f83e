// Package consensus implements the rotating sequencer set: a stake-weighted
// round-robin leader schedule with failover, epoch maintenance, slashing,
// and L1 checkpoint anchoring.
package consensus

import (
	"fmt"

	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
)

// SequencerStatus is a sequencer's lifecycle state.
type SequencerStatus int

const (
	// StatusActive sequencers are in the rotation.
	StatusActive SequencerStatus = iota

	// StatusStandby sequencers are eligible but outside the top set.
	StatusStandby

	// StatusSlashed sequencers were removed for misbehavior.
	StatusSlashed

	// StatusExiting sequencers are unbonding and leave at epoch end.
	StatusExiting
)

// String implements fmt.Stringer.
func (s SequencerStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusStandby:
		return "standby"
	case StatusSlashed:
		return "slashed"
	case StatusExiting:
		return "exiting"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Sequencer is a staked block producer.
type Sequencer struct {
	Address   types.Address
	PublicKey crypto.PublicKey
	Stake     uint64
	Status    SequencerStatus

	BlocksProduced uint64
	MissedSlots    uint64

	// exitStartedAt is the timestamp (seconds) BeginExit was called.
	exitStartedAt uint64
}

// EvidenceKind classifies slashing evidence.
type EvidenceKind int

const (
	// EvidenceDoubleSign is two signed headers at the same height.
	EvidenceDoubleSign EvidenceKind = iota

	// EvidenceInvalidBlock is a post-hoc proven invalid state transition.
	EvidenceInvalidBlock

	// EvidenceUnavailability is a missed-slot count over the threshold.
	EvidenceUnavailability

	// EvidenceDataWithholding is unpublished batch data.
	EvidenceDataWithholding
)

// String implements fmt.Stringer.
func (k EvidenceKind) String() string {
	switch k {
	case EvidenceDoubleSign:
		return "double-sign"
	case EvidenceInvalidBlock:
		return "invalid-block"
	case EvidenceUnavailability:
		return "unavailability"
	case EvidenceDataWithholding:
		return "data-withholding"
	default:
		return fmt.Sprintf("evidence(%d)", int(k))
	}
}

// SlashPermille returns the stake fraction slashed for this evidence kind,
// in parts per thousand.
func (k EvidenceKind) SlashPermille() uint64 {
	switch k {
	case EvidenceDoubleSign:
		return 50 // 5%
	case EvidenceInvalidBlock:
		return 100 // 10%
	case EvidenceUnavailability:
		return 1 // 0.1%
	case EvidenceDataWithholding:
		return 10 // 1%
	default:
		return 0
	}
}

// SlashingEvidence records one misbehavior report. Applying it moves the
// sequencer to slashed immediately; the stake reduction lands at epoch end.
type SlashingEvidence struct {
	Kind        EvidenceKind
	Sequencer   types.Address
	BlockNumber uint64
	Data        []byte
}
