// ledger.go - AuthorizationLedger: the single serializer of wallet state.

package ledger

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"zkmultisig/internal/identity"
	"zkmultisig/internal/verifier"
)

// Ledger holds the current State and applies one transition at a time.
type Ledger struct {
	mu       sync.Mutex
	state    *State
	verifier ProofVerifier
	vault    Vault
	log      zerolog.Logger
}

type Option func(*Ledger)

// WithVault sets where executed transactions are paid from. The default is
// an empty MemoryVault.
func WithVault(v Vault) Option {
	return func(l *Ledger) { l.vault = v }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates a ledger over a fresh state.
func New(commitments identity.CommitmentSet, threshold int, v ProofVerifier, opts ...Option) (*Ledger, error) {
	state, err := NewState(commitments, threshold)
	if err != nil {
		return nil, err
	}
	return Restore(state, v, opts...), nil
}

// Restore resumes a ledger from a previously saved state.
func Restore(state *State, v ProofVerifier, opts ...Option) *Ledger {
	l := &Ledger{
		state:    state,
		verifier: v,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.vault == nil {
		l.vault = NewMemoryVault(nil)
	}
	return l
}

// Submit proposes a transaction, counting the submitter's proof as its first
// confirmation, and returns the new transaction's id.
func (l *Ledger) Submit(recipient common.Address, value *uint256.Int, payload []byte, proof verifier.Proof, signals verifier.PublicSignals) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, id, err := l.state.Submit(l.verifier, recipient, value, payload, proof, signals)
	if err != nil {
		l.log.Warn().Err(err).Uint64("tx", l.state.NextID()).Msg("submit rejected")
		return 0, err
	}
	l.state = next
	l.log.Info().
		Uint64("tx", id).
		Str("recipient", recipient.Hex()).
		Str("value", valueString(value)).
		Int("confirmations", 1).
		Msg("transaction submitted")
	return id, nil
}

func (l *Ledger) Confirm(id uint64, proof verifier.Proof, signals verifier.PublicSignals) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := l.state.Confirm(l.verifier, id, proof, signals)
	if err != nil {
		ev := l.log.Warn()
		if errors.Is(err, ErrDuplicateConfirmation) {
			ev = l.log.Info()
		}
		ev.Err(err).Uint64("tx", id).Msg("confirmation rejected")
		return err
	}
	l.state = next
	tx := next.txs[id]
	l.log.Info().
		Uint64("tx", id).
		Int("confirmations", tx.Confirmations).
		Int("threshold", next.threshold).
		Stringer("status", tx.Status(next.threshold)).
		Msg("transaction confirmed")
	return nil
}

func (l *Ledger) Execute(id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := l.state.Execute(l.vault, id)
	if err != nil {
		l.log.Warn().Err(err).Uint64("tx", id).Msg("execution rejected")
		return err
	}
	l.state = next
	tx := next.txs[id]
	l.log.Info().
		Uint64("tx", id).
		Str("recipient", tx.Recipient.Hex()).
		Str("value", valueString(tx.Value)).
		Msg("transaction executed")
	return nil
}

// Transaction returns a copy of transaction id.
func (l *Ledger) Transaction(id uint64) (*Transaction, error) {
	return l.State().Transaction(id)
}

func (l *Ledger) NextID() uint64                      { return l.State().NextID() }
func (l *Ledger) Threshold() int                      { return l.State().Threshold() }
func (l *Ledger) Commitments() identity.CommitmentSet { return l.State().Commitments() }

// State returns the current state snapshot. States are never modified in
// place, so the snapshot stays valid after later transitions.
func (l *Ledger) State() *State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Vault returns the vault transactions are paid from.
func (l *Ledger) Vault() Vault { return l.vault }

func valueString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
