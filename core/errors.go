package core

import "errors"

// Transaction validation errors, surfaced as typed outcomes to callers.
var (
	ErrBadNonce          = errors.New("core: nonce mismatch")
	ErrFeeTooLow         = errors.New("core: max fee below base fee")
	ErrIntrinsicTooLow   = errors.New("core: gas limit below intrinsic gas")
	ErrInsufficientFunds = errors.New("core: insufficient funds for value + gas")
	ErrBadSignature      = errors.New("core: invalid signature")
)

// Block validity errors. A block failing any of these is rejected with no
// persistent state mutation.
var (
	ErrGasCapExceeded       = errors.New("core: block gas used exceeds gas limit")
	ErrTxRootMismatch       = errors.New("core: transaction root mismatch")
	ErrStateRootMismatch    = errors.New("core: state root mismatch")
	ErrReceiptsRootMismatch = errors.New("core: receipts root mismatch")
	ErrGasUsedMismatch      = errors.New("core: gas used mismatch")
	ErrUnknownParent        = errors.New("core: unknown parent block")
	ErrBadParentHash        = errors.New("core: parent hash mismatch")
	ErrBadNumber            = errors.New("core: non-sequential block number")
	ErrNoGenesis            = errors.New("core: database has no genesis block")
)
