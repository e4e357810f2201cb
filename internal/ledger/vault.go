package ledger

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Vault moves funds out of the wallet when a transaction executes.
type Vault interface {
	Transfer(txID uint64, to common.Address, value *uint256.Int, payload []byte) error
}

// Call records one payout delivered by a MemoryVault.
type Call struct {
	TxID    uint64         `json:"tx_id"`
	To      common.Address `json:"to"`
	Value   *uint256.Int   `json:"value"`
	Payload []byte         `json:"payload"`
}

// MemoryVault is an in-process Vault holding the wallet balance and the
// credits of every recipient.
type MemoryVault struct {
	mu      sync.Mutex
	balance *uint256.Int
	credits map[common.Address]*uint256.Int
	calls   []Call
	paid    map[uint64]bool
}

func NewMemoryVault(balance *uint256.Int) *MemoryVault {
	if balance == nil {
		balance = new(uint256.Int)
	}
	return &MemoryVault{
		balance: balance.Clone(),
		credits: make(map[common.Address]*uint256.Int),
		paid:    make(map[uint64]bool),
	}
}

// Deposit adds amount to the wallet balance.
func (v *MemoryVault) Deposit(amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	sum, overflow := new(uint256.Int).AddOverflow(v.balance, amount)
	if overflow {
		return fmt.Errorf("deposit overflows wallet balance")
	}
	v.balance = sum
	return nil
}

func (v *MemoryVault) Transfer(txID uint64, to common.Address, value *uint256.Int, payload []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paid[txID] {
		return fmt.Errorf("%w: %d", ErrDoubleExecution, txID)
	}
	if value == nil {
		value = new(uint256.Int)
	}
	if v.balance.Lt(value) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, v.balance.Dec(), value.Dec())
	}
	credit := v.credits[to]
	if credit == nil {
		credit = new(uint256.Int)
	}
	credited, overflow := new(uint256.Int).AddOverflow(credit, value)
	if overflow {
		return fmt.Errorf("credit of %s overflows", to.Hex())
	}

	v.balance = new(uint256.Int).Sub(v.balance, value)
	v.credits[to] = credited
	v.paid[txID] = true
	v.calls = append(v.calls, Call{TxID: txID, To: to, Value: value.Clone(), Payload: slices.Clone(payload)})
	return nil
}

// Balance returns the remaining wallet balance.
func (v *MemoryVault) Balance() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance.Clone()
}

// BalanceOf returns everything paid out to addr so far.
func (v *MemoryVault) BalanceOf(addr common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if c := v.credits[addr]; c != nil {
		return c.Clone()
	}
	return new(uint256.Int)
}

// Calls returns the payouts in execution order.
func (v *MemoryVault) Calls() []Call {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.calls)
}
