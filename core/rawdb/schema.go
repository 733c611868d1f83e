package rawdb

import (
	"encoding/binary"

	"github.com/solstice-l2/solstice/core/types"
)

// Key schema. Every persisted record lives under one of these prefixes.
var (
	// statePrefix + address payload -> encoded account
	statePrefix = []byte{0x01}

	// blockNumPrefix + u64 number -> encoded block
	blockNumPrefix = []byte("BN")

	// blockHashPrefix + digest -> u64 number
	blockHashPrefix = []byte("BH")

	// txIndexPrefix + tx digest -> u64 block number ‖ u32 index
	txIndexPrefix = []byte("TXI")

	// receiptPrefix + tx digest -> encoded receipt
	receiptPrefix = []byte("RCT")

	// storagePrefix + address payload + slot -> storage value
	storagePrefix = []byte("STOR")

	// codePrefix + code digest -> contract code
	codePrefix = []byte("CODE")

	// headKey -> u64 head block number
	headKey = []byte("HEAD")

	// batchSeqKey -> u64 next settlement batch id
	batchSeqKey = []byte("BATCHSEQ")
)

// StatePrefix exposes the account-trie prefix for full-state iteration.
func StatePrefix() []byte { return statePrefix }

// StoragePrefixAll covers every contract-storage record.
func StoragePrefixAll() []byte { return storagePrefix }

// CodePrefixAll covers every contract-code record.
func CodePrefixAll() []byte { return codePrefix }

func encodeU64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// AccountKey is the account-trie key for an address payload.
func AccountKey(addr types.Address) []byte {
	return append(append([]byte{}, statePrefix...), addr.Payload[:]...)
}

// BlockNumKey is the block-by-number key.
func BlockNumKey(number uint64) []byte {
	return append(append([]byte{}, blockNumPrefix...), encodeU64(number)...)
}

// BlockHashKey is the block-by-hash key.
func BlockHashKey(hash types.Digest) []byte {
	return append(append([]byte{}, blockHashPrefix...), hash[:]...)
}

// TxIndexKey is the transaction-location key.
func TxIndexKey(txHash types.Digest) []byte {
	return append(append([]byte{}, txIndexPrefix...), txHash[:]...)
}

// ReceiptKey is the receipt key.
func ReceiptKey(txHash types.Digest) []byte {
	return append(append([]byte{}, receiptPrefix...), txHash[:]...)
}

// StorageKey is the contract-storage key for (address, slot).
func StorageKey(addr types.Address, slot types.Digest) []byte {
	k := make([]byte, 0, len(storagePrefix)+types.AddressLength+types.DigestLength)
	k = append(k, storagePrefix...)
	k = append(k, addr.Payload[:]...)
	k = append(k, slot[:]...)
	return k
}

// AccountStoragePrefix is the prefix covering all storage slots of addr.
func AccountStoragePrefix(addr types.Address) []byte {
	k := make([]byte, 0, len(storagePrefix)+types.AddressLength)
	k = append(k, storagePrefix...)
	k = append(k, addr.Payload[:]...)
	return k
}

// CodeKey is the contract-code key for a code digest.
func CodeKey(codeHash types.Digest) []byte {
	return append(append([]byte{}, codePrefix...), codeHash[:]...)
}
