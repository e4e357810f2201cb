// state.go - Authorization state and its transitions.
//
// State is treated as a value: Submit, Confirm and Execute never modify the
// receiver, they return the successor state. A rejected call therefore
// cannot leave a partial update behind.

package ledger

import (
	"fmt"
	"maps"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"zkmultisig/internal/circuit"
	"zkmultisig/internal/identity"
	"zkmultisig/internal/message"
	"zkmultisig/internal/verifier"
)

// ProofVerifier is the stateless proof check the ledger delegates to.
type ProofVerifier interface {
	Verify(proof verifier.Proof, signals verifier.PublicSignals) bool
}

// Status is the position of a transaction in its lifecycle.
type Status int

const (
	StatusConfirming Status = iota
	StatusExecutable
	StatusExecuted
)

func (s Status) String() string {
	switch s {
	case StatusConfirming:
		return "confirming"
	case StatusExecutable:
		return "executable"
	case StatusExecuted:
		return "executed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Transaction is a pending or executed wallet transaction.
type Transaction struct {
	ID            uint64         `json:"id"`
	Recipient     common.Address `json:"recipient"`
	Value         *uint256.Int   `json:"value"`
	Payload       hexutil.Bytes  `json:"payload"`
	Confirmations int            `json:"confirmations"`
	Executed      bool           `json:"executed"`

	// Nullifiers already counted toward Confirmations, in decimal.
	Nullifiers []string `json:"nullifiers"`
}

func (t *Transaction) clone() *Transaction {
	c := *t
	if t.Value != nil {
		c.Value = t.Value.Clone()
	}
	c.Payload = slices.Clone(t.Payload)
	c.Nullifiers = slices.Clone(t.Nullifiers)
	return &c
}

// MsgHash recomputes the message hash from the transaction's own fields.
func (t *Transaction) MsgHash() (*big.Int, error) {
	return message.Hash(t.Recipient, t.Value, t.Payload)
}

// Status reports the lifecycle position under threshold.
func (t *Transaction) Status(threshold int) Status {
	switch {
	case t.Executed:
		return StatusExecuted
	case t.Confirmations >= threshold:
		return StatusExecutable
	default:
		return StatusConfirming
	}
}

func (t *Transaction) hasNullifier(n string) bool {
	return slices.Contains(t.Nullifiers, n)
}

// State is the full authorization state of one wallet.
type State struct {
	commitments identity.CommitmentSet
	threshold   int
	nextID      uint64
	txs         map[uint64]*Transaction
}

// NewState returns an empty state. Commitments and threshold are fixed for
// the lifetime of the state and of all its successors.
func NewState(commitments identity.CommitmentSet, threshold int) (*State, error) {
	if threshold < 1 || threshold > identity.NUM_OWNERS {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidThreshold, threshold)
	}
	return &State{
		commitments: commitments,
		threshold:   threshold,
		txs:         make(map[uint64]*Transaction),
	}, nil
}

func (s *State) Commitments() identity.CommitmentSet { return s.commitments }
func (s *State) Threshold() int                      { return s.threshold }
func (s *State) NextID() uint64                      { return s.nextID }
func (s *State) Len() int                            { return len(s.txs) }

// Transaction returns a copy of transaction id.
func (s *State) Transaction(id uint64) (*Transaction, error) {
	tx, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTransaction, id)
	}
	return tx.clone(), nil
}

// Transactions returns copies of all transactions ordered by id.
func (s *State) Transactions() []*Transaction {
	ids := slices.Sorted(maps.Keys(s.txs))
	out := make([]*Transaction, len(ids))
	for i, id := range ids {
		out[i] = s.txs[id].clone()
	}
	return out
}

// with returns a successor sharing unchanged transactions with s and
// holding tx in place of its predecessor.
func (s *State) with(tx *Transaction, nextID uint64) *State {
	next := &State{
		commitments: s.commitments,
		threshold:   s.threshold,
		nextID:      nextID,
		txs:         maps.Clone(s.txs),
	}
	next.txs[tx.ID] = tx
	return next
}

// expectedSignals rebuilds the public signals a valid proof for
// (msgHash, id) must carry. The nullifier is the only value the prover
// chooses, and the circuit pins it to the prover's key.
func (s *State) expectedSignals(msgHash *big.Int, id uint64, nullifier *big.Int) verifier.PublicSignals {
	cms := s.commitments.BigInts()
	return verifier.PublicSignals{msgHash, cms[0], cms[1], cms[2], new(big.Int).SetUint64(id), nullifier}
}

// checkProof returns the proof's nullifier if proof authorizes (msgHash, id).
func (s *State) checkProof(v ProofVerifier, msgHash *big.Int, id uint64, proof verifier.Proof, signals verifier.PublicSignals) (string, error) {
	if len(signals) != circuit.NUM_SIGNALS {
		return "", fmt.Errorf("%w: expected %d public signals, got %d", ErrProofVerificationFailed, circuit.NUM_SIGNALS, len(signals))
	}
	nullifier := signals.Nullifier()
	if nullifier == nil {
		return "", fmt.Errorf("%w: missing nullifier", ErrProofVerificationFailed)
	}
	expected := s.expectedSignals(msgHash, id, nullifier)
	for i := 0; i < circuit.SIGNAL_NULLIFIER; i++ {
		if signals[i] == nil || signals[i].Cmp(expected[i]) != 0 {
			return "", fmt.Errorf("%w: public signal %d does not match transaction %d", ErrProofVerificationFailed, i, id)
		}
	}
	if v == nil || !v.Verify(proof, expected) {
		return "", fmt.Errorf("%w: transaction %d", ErrProofVerificationFailed, id)
	}
	return nullifier.String(), nil
}

// Submit creates a transaction with one confirmation from the submitter.
// The new transaction takes id NextID(), which the proof must commit to.
func (s *State) Submit(v ProofVerifier, recipient common.Address, value *uint256.Int, payload []byte, proof verifier.Proof, signals verifier.PublicSignals) (*State, uint64, error) {
	if value == nil {
		value = new(uint256.Int)
	}
	tx := &Transaction{
		ID:        s.nextID,
		Recipient: recipient,
		Value:     value.Clone(),
		Payload:   slices.Clone(payload),
	}
	if tx.Payload == nil {
		tx.Payload = hexutil.Bytes{}
	}
	msgHash, err := tx.MsgHash()
	if err != nil {
		return s, 0, fmt.Errorf("%w: %v", ErrProofVerificationFailed, err)
	}
	nullifier, err := s.checkProof(v, msgHash, tx.ID, proof, signals)
	if err != nil {
		return s, 0, err
	}
	tx.Confirmations = 1
	tx.Nullifiers = []string{nullifier}
	return s.with(tx, s.nextID+1), tx.ID, nil
}

// Confirm adds one confirmation to transaction id.
func (s *State) Confirm(v ProofVerifier, id uint64, proof verifier.Proof, signals verifier.PublicSignals) (*State, error) {
	current, ok := s.txs[id]
	if !ok {
		return s, fmt.Errorf("%w: %d", ErrUnknownTransaction, id)
	}
	if current.Executed {
		return s, fmt.Errorf("%w: %d", ErrAlreadyExecuted, id)
	}
	msgHash, err := current.MsgHash()
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrProofVerificationFailed, err)
	}
	nullifier, err := s.checkProof(v, msgHash, id, proof, signals)
	if err != nil {
		return s, err
	}
	if current.hasNullifier(nullifier) {
		return s, fmt.Errorf("%w: transaction %d", ErrDuplicateConfirmation, id)
	}
	tx := current.clone()
	tx.Confirmations++
	tx.Nullifiers = append(tx.Nullifiers, nullifier)
	return s.with(tx, s.nextID), nil
}

// Execute pays out transaction id through vault once it has enough
// confirmations. If the vault refuses, the transaction stays executable.
func (s *State) Execute(vault Vault, id uint64) (*State, error) {
	current, ok := s.txs[id]
	if !ok {
		return s, fmt.Errorf("%w: %d", ErrUnknownTransaction, id)
	}
	if current.Executed {
		return s, fmt.Errorf("%w: %d", ErrAlreadyExecuted, id)
	}
	if current.Confirmations < s.threshold {
		return s, fmt.Errorf("%w: %d of %d confirmations", ErrThresholdNotMet, current.Confirmations, s.threshold)
	}
	if err := vault.Transfer(id, current.Recipient, current.Value, current.Payload); err != nil {
		return s, fmt.Errorf("transfer of transaction %d failed: %w", id, err)
	}
	tx := current.clone()
	tx.Executed = true
	return s.with(tx, s.nextID), nil
}
