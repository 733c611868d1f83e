package types

import (
	"bytes"
	"testing"

	"github.com/solstice-l2/solstice/crypto"
)

func testKey(t *testing.T, seed byte) (crypto.PublicKey, crypto.PrivateKey) {
	t.Helper()
	pub, priv, err := crypto.NewKeyFromSeed(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("NewKeyFromSeed: %v", err)
	}
	return pub, priv
}

func signedTransfer(t *testing.T, seed byte, nonce uint64) *Transaction {
	t.Helper()
	_, priv := testKey(t, seed)
	tx := &Transaction{
		To:          HexToAddress("0x02"),
		Value:       1_000_000,
		Nonce:       nonce,
		GasLimit:    21000,
		MaxFee:      2_000_000_000,
		PriorityFee: 1_000_000_000,
		Data:        []byte{0xca, 0xfe},
	}
	tx.Sign(priv)
	return tx
}

func TestAddressPadding(t *testing.T) {
	a := HexToAddress("0x01")
	if a.Payload[AddressLength-1] != 1 {
		t.Fatalf("expected right-aligned payload, got %x", a.Payload)
	}
	if a.IsZero() {
		t.Fatal("non-zero address reported zero")
	}
	if !(Address{}).IsZero() {
		t.Fatal("zero address not reported zero")
	}
}

func TestAddressKinds(t *testing.T) {
	basic := HexToAddress("0x05")
	script := basic
	script.Kind = KindScript
	if basic.Equal(script) {
		t.Fatal("kind should participate in Equal")
	}
	if !basic.SamePayload(script) {
		t.Fatal("payload comparison should ignore kind")
	}
}

func TestAccountRoundTrip(t *testing.T) {
	acct := Account{
		Nonce:       7,
		Balance:     10_000_000,
		StorageRoot: crypto.Hash([]byte("storage")),
		CodeHash:    crypto.Hash([]byte("code")),
	}
	enc := acct.Encode()
	if len(enc) != AccountEncodedSize {
		t.Fatalf("encoded size = %d, want %d", len(enc), AccountEncodedSize)
	}
	dec, err := DecodeAccount(enc)
	if err != nil {
		t.Fatalf("DecodeAccount: %v", err)
	}
	if dec != acct {
		t.Fatalf("round trip mismatch: %+v != %+v", dec, acct)
	}
	if !acct.IsContract() {
		t.Fatal("account with code hash should be a contract")
	}
	if !(Account{}).IsEmpty() {
		t.Fatal("zero account should be empty")
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := signedTransfer(t, 1, 3)
	enc := tx.Encode()
	dec, err := DecodeTransaction(enc)
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	if dec.Hash() != tx.Hash() {
		t.Fatal("hash changed across round trip")
	}
	if !dec.VerifySignature() {
		t.Fatal("decoded transaction signature invalid")
	}
	if dec.From != tx.From || dec.To != tx.To || dec.Nonce != tx.Nonce ||
		dec.Value != tx.Value || dec.GasLimit != tx.GasLimit ||
		dec.MaxFee != tx.MaxFee || dec.PriorityFee != tx.PriorityFee ||
		!bytes.Equal(dec.Data, tx.Data) {
		t.Fatal("field mismatch across round trip")
	}
}

func TestTransactionHashExcludesSignature(t *testing.T) {
	tx := signedTransfer(t, 1, 0)
	h := tx.Hash()
	tampered, err := DecodeTransaction(tx.Encode())
	if err != nil {
		t.Fatal(err)
	}
	tampered.Signature[0] ^= 0xff
	if tampered.Hash() != h {
		t.Fatal("signature bytes must not contribute to the hash")
	}
	if tampered.VerifySignature() {
		t.Fatal("tampered signature verified")
	}
}

func TestTransactionFromMismatchRejected(t *testing.T) {
	tx := signedTransfer(t, 1, 0)
	tx2, _ := DecodeTransaction(tx.Encode())
	tx2.From = HexToAddress("0xdead")
	if tx2.VerifySignature() {
		t.Fatal("from/pubkey mismatch accepted")
	}
}

func TestEffectiveGasPrice(t *testing.T) {
	tx := &Transaction{MaxFee: 2_000_000_000, PriorityFee: 1_000_000_000}
	if got := tx.EffectiveGasPrice(1_000_000_000); got != 2_000_000_000 {
		t.Fatalf("effective price = %d, want 2e9", got)
	}
	if got := tx.EffectiveGasPrice(500_000_000); got != 1_500_000_000 {
		t.Fatalf("effective price = %d, want 1.5e9", got)
	}
}

func TestTransactionCostOverflow(t *testing.T) {
	tx := &Transaction{GasLimit: 1 << 40, MaxFee: 1 << 40}
	if _, ok := tx.Cost(); ok {
		t.Fatal("overflowing cost reported ok")
	}
	tx = &Transaction{GasLimit: 21000, MaxFee: 1_000_000_000, Value: 5}
	cost, ok := tx.Cost()
	if !ok || cost != 21000*1_000_000_000+5 {
		t.Fatalf("cost = %d ok=%v", cost, ok)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Number:       9,
		ParentHash:   crypto.Hash([]byte("parent")),
		StateRoot:    crypto.Hash([]byte("state")),
		TxRoot:       crypto.Hash([]byte("txs")),
		ReceiptsRoot: crypto.Hash([]byte("receipts")),
		Sequencer:    HexToAddress("0x0a"),
		GasLimit:     30_000_000,
		GasUsed:      21_000,
		BaseFee:      1_000_000_000,
		Timestamp:    1_700_000_000,
		L1Reference:  42,
		BatchID:      3,
	}
	enc := h.Encode()
	if len(enc) != HeaderEncodedSize {
		t.Fatalf("header size = %d, want %d", len(enc), HeaderEncodedSize)
	}
	dec, err := DecodeHeader(enc)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if dec.Hash() != h.Hash() {
		t.Fatal("header hash mismatch after round trip")
	}
}

func TestBlockRoundTrip(t *testing.T) {
	txs := []*Transaction{signedTransfer(t, 1, 0), signedTransfer(t, 2, 0)}
	block := &Block{
		Header: &Header{
			Number:    1,
			GasLimit:  30_000_000,
			BaseFee:   1_000_000_000,
			Timestamp: 1_700_000_000,
		},
		Transactions: txs,
	}
	block.Header.TxRoot = block.ComputeTxRoot()

	dec, err := DecodeBlock(block.Encode())
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if dec.Hash() != block.Hash() {
		t.Fatal("block hash mismatch after round trip")
	}
	if len(dec.Transactions) != 2 {
		t.Fatalf("tx count = %d, want 2", len(dec.Transactions))
	}
	if dec.ComputeTxRoot() != block.Header.TxRoot {
		t.Fatal("tx root mismatch after round trip")
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	contract := HexToAddress("0x0b")
	contract.Kind = KindScript
	rec := &Receipt{
		TxHash:            crypto.Hash([]byte("tx")),
		BlockNumber:       5,
		Index:             2,
		From:              HexToAddress("0x01"),
		To:                HexToAddress("0x02"),
		Success:           true,
		GasUsed:           30_000,
		CumulativeGasUsed: 51_000,
		ContractAddress:   &contract,
		Logs: []*Log{
			{
				Address: HexToAddress("0x0b"),
				Topics:  []Digest{crypto.Hash([]byte("t0")), crypto.Hash([]byte("t1"))},
				Data:    []byte{1, 2, 3},
			},
		},
	}
	dec, err := DecodeReceipt(rec.Encode())
	if err != nil {
		t.Fatalf("DecodeReceipt: %v", err)
	}
	if dec.Hash() != rec.Hash() {
		t.Fatal("receipt hash mismatch after round trip")
	}
	if dec.ContractAddress == nil || !dec.ContractAddress.SamePayload(contract) {
		t.Fatal("contract address lost")
	}
	if len(dec.Logs) != 1 || len(dec.Logs[0].Topics) != 2 {
		t.Fatal("logs lost in round trip")
	}
}

func TestDecodeTruncated(t *testing.T) {
	tx := signedTransfer(t, 1, 0)
	enc := tx.Encode()
	if _, err := DecodeTransaction(enc[:len(enc)-10]); err == nil {
		t.Fatal("truncated transaction decoded")
	}
	if _, err := DecodeHeader(make([]byte, 100)); err == nil {
		t.Fatal("truncated header decoded")
	}
	if _, err := DecodeBlock(make([]byte, 10)); err == nil {
		t.Fatal("truncated block decoded")
	}
}
