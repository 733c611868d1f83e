package vm

import (
	"encoding/binary"

	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/crypto"
)

// PrecompiledContract is a natively implemented contract with a fixed gas
// function. Precompiles never recurse into the VM.
type PrecompiledContract interface {
	RequiredGas(input []byte) uint64
	Run(input []byte) ([]byte, error)
}

// PrecompileAddress returns the reserved address of precompile slot n:
// a payload of 0xff, 26 zero bytes and n, tagged reserved. The leading 0xff
// keeps the registry clear of low-numbered ordinary accounts such as 0x..02.
func PrecompileAddress(n byte) types.Address {
	addr := types.BytesToAddress([]byte{n})
	addr.Payload[0] = 0xff
	addr.Kind = types.KindReserved
	return addr
}

// The precompile registry:
//
//	0xff00..01  Ed25519 signature verification
//	0xff00..02  Blake2b-256 hash
//	0xff00..03  identity (data copy)
//	0xff00..04  Merkle inclusion proof verification
var activePrecompiles = map[[types.AddressLength]byte]PrecompiledContract{
	PrecompileAddress(1).Payload: &ed25519Verify{},
	PrecompileAddress(2).Payload: &blake2bHash{},
	PrecompileAddress(3).Payload: &identity{},
	PrecompileAddress(4).Payload: &merkleVerify{},
}

func runPrecompile(p PrecompiledContract, input []byte, gas uint64) ([]byte, uint64, error) {
	cost := p.RequiredGas(input)
	if gas < cost {
		return nil, 0, ErrOutOfGas
	}
	out, err := p.Run(input)
	return out, gas - cost, err
}

var (
	trueWord  = make32(1)
	falseWord = make32(0)
)

func make32(v byte) []byte {
	out := make([]byte, 32)
	out[31] = v
	return out
}

// ed25519Verify checks a signature: input = message digest (32) ‖ public
// key (32) ‖ signature (64); output is a 32-byte boolean word.
type ed25519Verify struct{}

func (*ed25519Verify) RequiredGas([]byte) uint64 { return 3000 }

func (*ed25519Verify) Run(input []byte) ([]byte, error) {
	if len(input) != 32+crypto.PublicKeyLength+crypto.SignatureLength {
		return falseWord, nil
	}
	var pub crypto.PublicKey
	var sig crypto.Signature
	copy(pub[:], input[32:64])
	copy(sig[:], input[64:128])
	if crypto.Verify(input[:32], sig, pub) {
		return trueWord, nil
	}
	return falseWord, nil
}

// blake2bHash computes the chain digest of the input.
type blake2bHash struct{}

func (*blake2bHash) RequiredGas(input []byte) uint64 {
	return 60 + 12*toWordSize(uint64(len(input)))
}

func (*blake2bHash) Run(input []byte) ([]byte, error) {
	d := crypto.Hash(input)
	return d[:], nil
}

// identity copies its input to its output.
type identity struct{}

func (*identity) RequiredGas(input []byte) uint64 {
	return 15 + 3*toWordSize(uint64(len(input)))
}

func (*identity) Run(input []byte) ([]byte, error) {
	out := make([]byte, len(input))
	copy(out, input)
	return out, nil
}

// merkleVerify checks a Merkle inclusion proof: input = leaf (32) ‖ root
// (32) ‖ index (8, big-endian) ‖ sibling digests (n × 32); output is a
// 32-byte boolean word.
type merkleVerify struct{}

func (*merkleVerify) RequiredGas(input []byte) uint64 {
	nodes := uint64(0)
	if len(input) > 72 {
		nodes = uint64(len(input)-72) / 32
	}
	return 800 + 30*nodes
}

func (*merkleVerify) Run(input []byte) ([]byte, error) {
	if len(input) < 72 || (len(input)-72)%32 != 0 {
		return falseWord, nil
	}
	var leaf, root crypto.Digest
	copy(leaf[:], input[:32])
	copy(root[:], input[32:64])
	index := binary.BigEndian.Uint64(input[64:72])
	proof := make([]crypto.Digest, 0, (len(input)-72)/32)
	for off := 72; off < len(input); off += 32 {
		var d crypto.Digest
		copy(d[:], input[off:off+32])
		proof = append(proof, d)
	}
	if index > uint64(1)<<62 {
		return falseWord, nil
	}
	if crypto.VerifyMerkleProof(leaf, proof, int(index), root) {
		return trueWord, nil
	}
	return falseWord, nil
}
