package rawdb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/solstice-l2/solstice/core/types"
)

// WriteBlock stores the encoded block under its number and indexes its hash.
func WriteBlock(db KeyValueWriter, block *types.Block) error {
	enc := block.Encode()
	if err := db.Put(BlockNumKey(block.Number()), enc); err != nil {
		return fmt.Errorf("write block %d: %w", block.Number(), err)
	}
	if err := db.Put(BlockHashKey(block.Hash()), encodeU64(block.Number())); err != nil {
		return fmt.Errorf("index block hash: %w", err)
	}
	return nil
}

// ReadBlock loads the block stored at the given number.
func ReadBlock(db KeyValueReader, number uint64) (*types.Block, error) {
	enc, err := db.Get(BlockNumKey(number))
	if err != nil {
		return nil, err
	}
	return types.DecodeBlock(enc)
}

// ReadBlockByHash resolves a hash to its number and loads the block.
func ReadBlockByHash(db KeyValueReader, hash types.Digest) (*types.Block, error) {
	raw, err := db.Get(BlockHashKey(hash))
	if err != nil {
		return nil, err
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("rawdb: corrupt block-hash index for %x", hash)
	}
	return ReadBlock(db, binary.BigEndian.Uint64(raw))
}

// DeleteBlock removes the block and its hash index. Used when settlement
// reverts truncate L2 history.
func DeleteBlock(db KeyValueWriter, block *types.Block) error {
	if err := db.Delete(BlockNumKey(block.Number())); err != nil {
		return err
	}
	return db.Delete(BlockHashKey(block.Hash()))
}

// WriteHead records the canonical head block number.
func WriteHead(db KeyValueWriter, number uint64) error {
	return db.Put(headKey, encodeU64(number))
}

// ReadHead returns the canonical head block number. Absent means genesis has
// not been written; ok is false.
func ReadHead(db KeyValueReader) (uint64, bool, error) {
	raw, err := db.Get(headKey)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, errors.New("rawdb: corrupt head record")
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// WriteTxIndex records the (block, index) location of a transaction.
func WriteTxIndex(db KeyValueWriter, txHash types.Digest, blockNumber uint64, index uint32) error {
	v := make([]byte, 12)
	binary.BigEndian.PutUint64(v[:8], blockNumber)
	binary.BigEndian.PutUint32(v[8:], index)
	return db.Put(TxIndexKey(txHash), v)
}

// ReadTxIndex returns the (block, index) location of a transaction.
func ReadTxIndex(db KeyValueReader, txHash types.Digest) (uint64, uint32, error) {
	raw, err := db.Get(TxIndexKey(txHash))
	if err != nil {
		return 0, 0, err
	}
	if len(raw) != 12 {
		return 0, 0, errors.New("rawdb: corrupt tx index")
	}
	return binary.BigEndian.Uint64(raw[:8]), binary.BigEndian.Uint32(raw[8:]), nil
}

// WriteReceipt stores the encoded receipt keyed by transaction hash.
func WriteReceipt(db KeyValueWriter, rec *types.Receipt) error {
	return db.Put(ReceiptKey(rec.TxHash), rec.Encode())
}

// ReadReceipt loads the receipt for a transaction hash.
func ReadReceipt(db KeyValueReader, txHash types.Digest) (*types.Receipt, error) {
	raw, err := db.Get(ReceiptKey(txHash))
	if err != nil {
		return nil, err
	}
	return types.DecodeReceipt(raw)
}

// WriteNextBatchID persists the settlement batch counter. It is written
// before any batch is handed to a submitter so the id sequence survives
// restarts.
func WriteNextBatchID(db KeyValueWriter, id uint64) error {
	return db.Put(batchSeqKey, encodeU64(id))
}

// ReadNextBatchID returns the persisted batch counter, defaulting to 1.
func ReadNextBatchID(db KeyValueReader) (uint64, error) {
	raw, err := db.Get(batchSeqKey)
	if errors.Is(err, ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, errors.New("rawdb: corrupt batch counter")
	}
	return binary.BigEndian.Uint64(raw), nil
}
