// demo.go
// Runs a complete 2-of-3 wallet scenario, honest path first and then the
// attacks the ledger has to refuse.
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"

	"github.com/consensys/gnark/test"
	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"zkmultisig/internal/circuit"
	"zkmultisig/internal/identity"
	"zkmultisig/internal/ledger"
	"zkmultisig/internal/message"
	"zkmultisig/internal/prover"
	"zkmultisig/internal/registers"
	"zkmultisig/internal/verifier"
)

const (
	DEMO_THRESHOLD = 2
	DEMO_BALANCE   = 5_000_000_000_000_000_000 // 5 ETH in wei
	DEMO_VALUE     = 1_000_000_000_000_000_000 // 1 ETH in wei
)

var demoRecipient = common.HexToAddress("0x12f3a2b4cC21881f203818aA1F78851Df974Bcc2")

type demoParty struct {
	name string
	key  *ecdsa.PrivateKey
	regs registers.Set
}

func newDemoParty(name string) (*demoParty, error) {
	key, err := eth_crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	regs, err := registers.DecomposeKey(key)
	if err != nil {
		return nil, err
	}
	return &demoParty{name: name, key: key, regs: regs}, nil
}

func (p *demoParty) request(txID uint64, tx *ledger.Transaction, set identity.CommitmentSet) (prover.Request, error) {
	msgHash, err := tx.MsgHash()
	if err != nil {
		return prover.Request{}, err
	}
	return prover.Request{Registers: p.regs, MsgHash: msgHash, TxID: txID, Commitments: set}, nil
}

// expect prints the outcome of a step that must fail with target.
func (e *env) expect(step string, err, target error) error {
	if errors.Is(err, target) {
		fmt.Fprintf(e.out, "  → ✅ %s rejected: %v\n", step, err)
		return nil
	}
	fmt.Fprintf(e.out, "  → ❌ %s: expected %v, got %v\n", step, target, err)
	return fmt.Errorf("%s: expected %w, got %v", step, target, err)
}

func cmdDemo(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	check := fs.Bool("check", false, "only check circuit logic, without keys or proofs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintln(e.out, "▶ Part 0: Generating owner keys...")
	var owners []*demoParty
	var set identity.CommitmentSet
	for i := 0; i < identity.NUM_OWNERS; i++ {
		p, err := newDemoParty(fmt.Sprintf("owner %d", i+1))
		if err != nil {
			return err
		}
		owners = append(owners, p)
		set[i] = identity.CommitKey(p.key)
		fmt.Fprintf(e.out, "  %s: %s → %s\n", p.name, identity.Derive(p.key).Hex(), set[i].String())
	}
	outsider, err := newDemoParty("outsider")
	if err != nil {
		return err
	}

	if *check {
		return e.demoCircuitLogic(owners, outsider, set)
	}
	return e.demoWallet(ctx, owners, outsider, set)
}

// demoCircuitLogic is the fast mode: each party's witness is run through the
// constraint solver only.
func (e *env) demoCircuitLogic(owners []*demoParty, outsider *demoParty, set identity.CommitmentSet) error {
	msgHash, err := message.Hash(demoRecipient, uint256.NewInt(DEMO_VALUE), nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, "\n▶ Mode: Circuit Logic Check")
	for _, p := range append(owners[:len(owners):len(owners)], outsider) {
		assignment, err := circuit.Assignment(circuit.Inputs{Registers: p.regs, MsgHash: msgHash, TxID: 0, Commitments: set})
		if err != nil {
			return err
		}
		err = test.IsSolved(&circuit.MembershipCircuit{}, assignment, circuit.Curve.ScalarField())
		switch {
		case p == outsider && err != nil:
			fmt.Fprintf(e.out, "  %s → ✅ REJECTED\n", p.name)
		case p != outsider && err == nil:
			fmt.Fprintf(e.out, "  %s → ✅ PASSED\n", p.name)
		default:
			fmt.Fprintf(e.out, "  %s → ❌ FAILED: %v\n", p.name, err)
			return fmt.Errorf("unexpected circuit result for %s", p.name)
		}
	}
	return nil
}

func (e *env) demoWallet(ctx context.Context, owners []*demoParty, outsider *demoParty, set identity.CommitmentSet) error {
	fmt.Fprintln(e.out, "\n▶ Part 1: Compiling circuit and loading keys...")
	ccs, pk, vk, err := e.circuitAndKeys()
	if err != nil {
		return err
	}
	gen := prover.New(ccs, pk, prover.WithLogger(e.log), prover.WithConcurrency(e.cfg.MaxConcurrency))

	fmt.Fprintf(e.out, "\n▶ Part 2: Creating a %d-of-%d wallet...\n", DEMO_THRESHOLD, identity.NUM_OWNERS)
	vault := ledger.NewMemoryVault(uint256.NewInt(DEMO_BALANCE))
	wallet, err := ledger.New(set, DEMO_THRESHOLD, verifier.New(vk), ledger.WithVault(vault), ledger.WithLogger(e.log))
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "  → vault balance %s wei\n", vault.Balance().Dec())

	proposal := &ledger.Transaction{Recipient: demoRecipient, Value: uint256.NewInt(DEMO_VALUE), Payload: []byte{0xaa, 0xbb, 0xcc, 0xdd}}
	txID := wallet.NextID()

	fmt.Fprintf(e.out, "\n▶ Part 3: %s proves and submits transaction %d...\n", owners[0].name, txID)
	req, err := owners[0].request(txID, proposal, set)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProveTimeout)
	defer cancel()
	submitted, err := gen.Generate(ctx, req)
	if err != nil {
		return err
	}
	if _, err := wallet.Submit(proposal.Recipient, proposal.Value, proposal.Payload, submitted.Proof, submitted.Signals); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "  → ✅ submitted with 1 confirmation")
	if err := e.expect("early execution", wallet.Execute(txID), ledger.ErrThresholdNotMet); err != nil {
		return err
	}

	fmt.Fprintf(e.out, "\n▶ Part 4: %s and %s prove in parallel...\n", owners[1].name, owners[2].name)
	var reqs []prover.Request
	for _, p := range owners[1:] {
		r, err := p.request(txID, proposal, set)
		if err != nil {
			return err
		}
		reqs = append(reqs, r)
	}
	confirmations, err := gen.GenerateAll(ctx, reqs)
	if err != nil {
		return err
	}
	if err := wallet.Confirm(txID, confirmations[0].Proof, confirmations[0].Signals); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "  → ✅ %s confirmed\n", owners[1].name)
	err = wallet.Confirm(txID, confirmations[0].Proof, confirmations[0].Signals)
	if err := e.expect("replayed confirmation", err, ledger.ErrDuplicateConfirmation); err != nil {
		return err
	}

	fmt.Fprintf(e.out, "\n▶ Part 5: Executing transaction %d...\n", txID)
	if err := wallet.Execute(txID); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "  → ✅ paid %s wei to %s, vault balance %s wei\n",
		vault.BalanceOf(demoRecipient).Dec(), demoRecipient.Hex(), vault.Balance().Dec())
	if err := e.expect("second execution", wallet.Execute(txID), ledger.ErrAlreadyExecuted); err != nil {
		return err
	}
	err = wallet.Confirm(txID, confirmations[1].Proof, confirmations[1].Signals)
	if err := e.expect("late confirmation", err, ledger.ErrAlreadyExecuted); err != nil {
		return err
	}

	fmt.Fprintln(e.out, "\n▶ Part 6: Attacks...")
	_, err = wallet.Submit(common.HexToAddress("0xdead"), proposal.Value, nil, submitted.Proof, submitted.Signals)
	if err := e.expect("proof reused for another transaction", err, ledger.ErrProofVerificationFailed); err != nil {
		return err
	}
	forged, err := outsider.request(wallet.NextID(), proposal, set)
	if err != nil {
		return err
	}
	_, err = gen.Generate(ctx, forged)
	if err := e.expect("outsider proof", err, prover.ErrNoSatisfyingWitness); err != nil {
		return err
	}

	fmt.Fprintln(e.out)
	printState(e, wallet.State(), vault)
	return nil
}
