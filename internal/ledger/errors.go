package ledger

import "errors"

// Every failure below rejects a single call and leaves the ledger state
// exactly as it was before the call.
var (
	ErrProofVerificationFailed = errors.New("proof verification failed")
	ErrUnknownTransaction      = errors.New("unknown transaction")
	ErrAlreadyExecuted         = errors.New("transaction already executed")
	ErrThresholdNotMet         = errors.New("confirmation threshold not met")
	ErrDuplicateConfirmation   = errors.New("nullifier already counted for this transaction")
	ErrInvalidThreshold        = errors.New("threshold must be between 1 and 3")

	// Vault errors.
	ErrDoubleExecution   = errors.New("transaction already paid out")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
)
