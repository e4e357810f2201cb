// store.go - JSON persistence of ledger state and vault.

package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"zkmultisig/internal/identity"
)

type vaultFile struct {
	Balance *uint256.Int                    `json:"balance"`
	Credits map[common.Address]*uint256.Int `json:"credits"`
	Calls   []Call                          `json:"calls"`
}

type stateFile struct {
	Commitments  []string       `json:"commitments"`
	Threshold    int            `json:"threshold"`
	NextID       uint64         `json:"next_id"`
	Transactions []*Transaction `json:"transactions"`
	Vault        *vaultFile     `json:"vault,omitempty"`
}

// SaveState writes state (and vault, when non-nil) to path as indented JSON.
func SaveState(path string, state *State, vault *MemoryVault) error {
	out := stateFile{
		Commitments:  state.commitments.Strings(),
		Threshold:    state.threshold,
		NextID:       state.nextID,
		Transactions: state.Transactions(),
	}
	if vault != nil {
		vault.mu.Lock()
		out.Vault = &vaultFile{
			Balance: vault.balance.Clone(),
			Credits: make(map[common.Address]*uint256.Int, len(vault.credits)),
			Calls:   append([]Call(nil), vault.calls...),
		}
		for addr, c := range vault.credits {
			out.Vault.Credits[addr] = c.Clone()
		}
		vault.mu.Unlock()
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	// Write then rename so a crash never leaves a truncated state file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadState reads a file written by SaveState. The vault is nil when the
// file holds none.
func LoadState(path string) (*State, *MemoryVault, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var in stateFile
	if err := json.NewDecoder(f).Decode(&in); err != nil {
		return nil, nil, fmt.Errorf("failed to decode state %s: %w", path, err)
	}

	commitments, err := identity.ParseCommitmentSet(in.Commitments)
	if err != nil {
		return nil, nil, err
	}
	state, err := NewState(commitments, in.Threshold)
	if err != nil {
		return nil, nil, err
	}
	state.nextID = in.NextID
	for _, tx := range in.Transactions {
		if tx == nil {
			continue
		}
		if tx.ID >= in.NextID {
			return nil, nil, fmt.Errorf("transaction %d is not below next id %d", tx.ID, in.NextID)
		}
		if _, dup := state.txs[tx.ID]; dup {
			return nil, nil, fmt.Errorf("transaction %d stored twice", tx.ID)
		}
		if tx.Confirmations != len(tx.Nullifiers) {
			return nil, nil, fmt.Errorf("transaction %d has %d confirmations but %d nullifiers", tx.ID, tx.Confirmations, len(tx.Nullifiers))
		}
		if tx.Value == nil {
			tx.Value = new(uint256.Int)
		}
		state.txs[tx.ID] = tx
	}

	if in.Vault == nil {
		return state, nil, nil
	}
	vault := NewMemoryVault(in.Vault.Balance)
	for addr, c := range in.Vault.Credits {
		if c != nil {
			vault.credits[addr] = c.Clone()
		}
	}
	vault.calls = in.Vault.Calls
	for _, call := range in.Vault.Calls {
		if vault.paid[call.TxID] {
			return nil, nil, fmt.Errorf("vault paid transaction %d twice", call.TxID)
		}
		tx, ok := state.txs[call.TxID]
		if !ok || !tx.Executed {
			return nil, nil, fmt.Errorf("vault paid transaction %d which is not executed", call.TxID)
		}
		vault.paid[call.TxID] = true
	}
	for id, tx := range state.txs {
		if tx.Executed && !vault.paid[id] {
			return nil, nil, fmt.Errorf("transaction %d is executed but the vault never paid it", id)
		}
	}
	return state, vault, nil
}
