package core

import (
	"bytes"
	"errors"
	"testing"

	"github.com/solstice-l2/solstice/core/rawdb"
	"github.com/solstice-l2/solstice/core/state"
	"github.com/solstice-l2/solstice/core/types"
	"github.com/solstice-l2/solstice/core/vm"
	"github.com/solstice-l2/solstice/crypto"
)

var coinbase = types.BytesToAddress([]byte{0xc0})

func testCtx() ExecutionContext {
	return ExecutionContext{
		BlockNumber: 1,
		Timestamp:   1_700_000_000,
		GasLimit:    30_000_000,
		BaseFee:     1_000_000_000,
		ChainID:     2077,
		Coinbase:    coinbase,
	}
}

func fundedSender(t *testing.T, statedb *state.StateDB, balance uint64) (types.Address, crypto.PrivateKey) {
	t.Helper()
	pub, priv, err := crypto.NewKeyFromSeed(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatal(err)
	}
	addr := types.PubKeyToAddress(pub)
	statedb.AddBalance(addr, balance)
	return addr, priv
}

func newProcessorState(t *testing.T) (*StateProcessor, *state.StateDB) {
	t.Helper()
	statedb, err := state.New(rawdb.NewMemoryDatabase())
	if err != nil {
		t.Fatal(err)
	}
	return NewStateProcessor(DefaultChainConfig()), statedb
}

// A plain value transfer: receipt, balances, nonce, and coinbase credit.
func TestSimpleTransfer(t *testing.T) {
	proc, statedb := newProcessorState(t)
	sender, priv := fundedSender(t, statedb, 10_000_000_000_000_000_000) // 10^19
	dest := types.HexToAddress("0x02")

	tx := &types.Transaction{
		To:          dest,
		Value:       2_500_000_000_000_000_000, // 2.5e18
		Nonce:       0,
		GasLimit:    21000,
		MaxFee:      2_000_000_000,
		PriorityFee: 1_000_000_000,
	}
	tx.Sign(priv)

	result, err := proc.Process(statedb, tx, testCtx())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.Success || result.GasUsed != 21000 {
		t.Fatalf("result = %+v", result)
	}
	if got := statedb.GetBalance(dest); got != 2_500_000_000_000_000_000 {
		t.Fatalf("dest balance = %d", got)
	}
	wantSender := uint64(10_000_000_000_000_000_000) - 2_500_000_000_000_000_000 - 21000*2_000_000_000
	if got := statedb.GetBalance(sender); got != wantSender {
		t.Fatalf("sender balance = %d, want %d", got, wantSender)
	}
	if got := statedb.GetNonce(sender); got != 1 {
		t.Fatalf("sender nonce = %d", got)
	}
	if got := statedb.GetBalance(coinbase); got != 21000*2_000_000_000 {
		t.Fatalf("coinbase credit = %d", got)
	}
}

func TestValidationOrder(t *testing.T) {
	proc, statedb := newProcessorState(t)
	sender, priv := fundedSender(t, statedb, 1_000_000_000_000_000)

	base := func() *types.Transaction {
		return &types.Transaction{
			To:          types.HexToAddress("0x02"),
			Value:       1,
			GasLimit:    21000,
			MaxFee:      2_000_000_000,
			PriorityFee: 1_000_000_000,
		}
	}

	// Bad nonce.
	tx := base()
	tx.Nonce = 5
	tx.Sign(priv)
	if _, err := proc.Process(statedb, tx, testCtx()); !errors.Is(err, ErrBadNonce) {
		t.Fatalf("err = %v, want ErrBadNonce", err)
	}

	// Fee below base fee.
	tx = base()
	tx.MaxFee = 1
	tx.Sign(priv)
	if _, err := proc.Process(statedb, tx, testCtx()); !errors.Is(err, ErrFeeTooLow) {
		t.Fatalf("err = %v, want ErrFeeTooLow", err)
	}

	// Gas limit below intrinsic.
	tx = base()
	tx.GasLimit = 20000
	tx.Sign(priv)
	if _, err := proc.Process(statedb, tx, testCtx()); !errors.Is(err, ErrIntrinsicTooLow) {
		t.Fatalf("err = %v, want ErrIntrinsicTooLow", err)
	}

	// Insufficient funds for value + gas cap.
	tx = base()
	tx.Value = statedb.GetBalance(sender)
	tx.Sign(priv)
	if _, err := proc.Process(statedb, tx, testCtx()); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if statedb.GetNonce(sender) != 0 {
		t.Fatal("rejected transaction changed the nonce")
	}

	// Bad signature.
	tx = base()
	tx.Sign(priv)
	tx.Signature[0] ^= 0xff
	if _, err := proc.Process(statedb, tx, testCtx()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

// A call into reverting code consumes only the executed gas; the remainder
// is refunded, the nonce increment persists, and the coinbase is paid for
// the gas used.
func TestContractCallRevert(t *testing.T) {
	proc, statedb := newProcessorState(t)
	sender, priv := fundedSender(t, statedb, 10_000_000_000_000_000_000)

	contract := types.HexToAddress("0x0c")
	// REVERT(0,0): PUSH1 0, PUSH1 0, REVERT: costs 3 + 3 + 0 = 6 gas.
	statedb.SetCode(contract, []byte{0x60, 0x00, 0x60, 0x00, 0xfd})

	tx := &types.Transaction{
		To:          contract,
		Value:       0,
		Nonce:       0,
		GasLimit:    100_000,
		MaxFee:      2_000_000_000,
		PriorityFee: 1_000_000_000,
	}
	tx.Sign(priv)

	before := statedb.GetBalance(sender)
	result, err := proc.Process(statedb, tx, testCtx())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Success {
		t.Fatal("reverting call reported success")
	}
	if result.VMError != "Revert" {
		t.Fatalf("VMError = %q", result.VMError)
	}
	wantGas := uint64(21000 + 6)
	if result.GasUsed != wantGas {
		t.Fatalf("gas used = %d, want %d", result.GasUsed, wantGas)
	}
	effective := uint64(2_000_000_000)
	if got := statedb.GetBalance(sender); got != before-wantGas*effective {
		t.Fatalf("sender balance = %d", got)
	}
	if got := statedb.GetBalance(coinbase); got != wantGas*effective {
		t.Fatalf("coinbase = %d", got)
	}
	if statedb.GetNonce(sender) != 1 {
		t.Fatal("nonce increment must persist across revert")
	}
}

func TestContractCreation(t *testing.T) {
	proc, statedb := newProcessorState(t)
	sender, priv := fundedSender(t, statedb, 10_000_000_000_000_000_000)

	// Init code deploying runtime [0x00]:
	// PUSH1 0, PUSH1 0, MSTORE8, PUSH1 1, PUSH1 0, RETURN
	initCode := []byte{0x60, 0x00, 0x60, 0x00, 0x53, 0x60, 0x01, 0x60, 0x00, 0xf3}
	tx := &types.Transaction{
		To:          types.Address{}, // creation target
		Nonce:       0,
		GasLimit:    200_000,
		MaxFee:      2_000_000_000,
		PriorityFee: 1_000_000_000,
	}
	tx.Data = initCode
	tx.Sign(priv)

	result, err := proc.Process(statedb, tx, testCtx())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.Success {
		t.Fatalf("creation failed: %s", result.VMError)
	}
	if result.Receipt.ContractAddress == nil {
		t.Fatal("receipt missing contract address")
	}
	created := *result.Receipt.ContractAddress
	if !created.SamePayload(vm.CreateAddress(sender, 0)) {
		t.Fatal("contract address not derived from (sender, nonce)")
	}
	if !bytes.Equal(statedb.GetCode(created), []byte{0x00}) {
		t.Fatal("runtime code not deployed")
	}
	if statedb.GetNonce(sender) != 1 {
		t.Fatal("creation must advance the sender nonce once")
	}
}

func TestDevSignatureBypassDisabledByDefault(t *testing.T) {
	proc, statedb := newProcessorState(t)
	fundedSender(t, statedb, 1_000_000_000_000_000)

	pub, _, _ := crypto.NewKeyFromSeed(bytes.Repeat([]byte{9}, 32))
	tx := &types.Transaction{
		From:        types.PubKeyToAddress(pub),
		To:          types.HexToAddress("0x02"),
		GasLimit:    21000,
		MaxFee:      2_000_000_000,
		PriorityFee: 1_000_000_000,
	}
	tx.SenderPubKey = pub
	for i := range tx.Signature {
		tx.Signature[i] = 0xff
	}

	// Production default: the all-0xFF signature is rejected.
	if _, err := proc.Process(statedb, tx, testCtx()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}

	// Behind the explicit flag it is accepted.
	cfg := DefaultChainConfig()
	cfg.AllowDevSignatures = true
	devProc := NewStateProcessor(cfg)
	if _, err := devProc.Process(statedb, tx, testCtx()); err != nil {
		t.Fatalf("dev bypass rejected: %v", err)
	}
}

func TestBurnFraction(t *testing.T) {
	cfg := DefaultChainConfig()
	cfg.BurnPercent = 50
	proc := NewStateProcessor(cfg)
	statedb, err := state.New(rawdb.NewMemoryDatabase())
	if err != nil {
		t.Fatal(err)
	}
	_, priv := fundedSender(t, statedb, 10_000_000_000_000_000_000)

	tx := &types.Transaction{
		To:          types.HexToAddress("0x02"),
		Value:       1,
		GasLimit:    21000,
		MaxFee:      2_000_000_000,
		PriorityFee: 1_000_000_000,
	}
	tx.Sign(priv)
	if _, err := proc.Process(statedb, tx, testCtx()); err != nil {
		t.Fatal(err)
	}
	want := 21000 * 2_000_000_000 / 2
	if got := statedb.GetBalance(coinbase); got != uint64(want) {
		t.Fatalf("coinbase with 50%% burn = %d, want %d", got, want)
	}
}
