package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"zkmultisig/internal/circuit"
	"zkmultisig/internal/config"
	"zkmultisig/internal/identity"
	"zkmultisig/internal/ledger"
	"zkmultisig/internal/message"
	"zkmultisig/internal/prover"
	"zkmultisig/internal/registers"
	"zkmultisig/internal/verifier"
)

// -----------------------------------------------------------------------------
//
//	Proof files
//
// -----------------------------------------------------------------------------

// proofFile is what `prove` writes and `submit`/`confirm` read, so the
// prover can run on a different machine than the wallet host.
type proofFile struct {
	TxID    uint64        `json:"tx_id"`
	Proof   hexutil.Bytes `json:"proof"`
	Signals []string      `json:"signals"`

	// Calldata is the proof in the layout the exported Solidity verifier takes.
	Calldata hexutil.Bytes `json:"calldata,omitempty"`
}

func writeProofFile(path string, txID uint64, res *prover.Result) error {
	pf := proofFile{TxID: txID, Proof: hexutil.Bytes(res.Proof), Signals: res.Signals.Strings()}
	if calldata, err := verifier.SolidityCalldata(res.Proof); err == nil {
		pf.Calldata = calldata
	}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readProofFile(path string) (*proofFile, *prover.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var pf proofFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, nil, fmt.Errorf("failed to decode proof file %s: %w", path, err)
	}
	signals, err := verifier.ParseSignals(pf.Signals)
	if err != nil {
		return nil, nil, err
	}
	return &pf, &prover.Result{Proof: verifier.Proof(pf.Proof), Signals: signals}, nil
}

// -----------------------------------------------------------------------------
//
//	Flag parsing helpers
//
// -----------------------------------------------------------------------------

func parseKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := eth_crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

func parseValue(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return v, nil
}

func parsePayload(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return b, nil
}

func parseRecipient(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid recipient address %q", s)
	}
	return common.HexToAddress(s), nil
}

// -----------------------------------------------------------------------------
//
//	Wallet host helpers
//
// -----------------------------------------------------------------------------

func (e *env) circuitAndKeys() (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey, error) {
	ccs, err := circuit.Compile()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	pk, vk, err := prover.SetupOrLoadKeys(ccs, e.cfg.ProvingKeyPath, e.cfg.VerifyingKeyPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("key setup failed: %w", err)
	}
	return ccs, pk, vk, nil
}

func (e *env) generator() (*prover.Generator, error) {
	ccs, pk, _, err := e.circuitAndKeys()
	if err != nil {
		return nil, err
	}
	return prover.New(ccs, pk, prover.WithLogger(e.log), prover.WithConcurrency(e.cfg.MaxConcurrency)), nil
}

// openLedger restores the wallet from the state file. Only submit and
// confirm check proofs, so the verifying key is loaded on request.
func (e *env) openLedger(withVerifier bool) (*ledger.Ledger, *ledger.MemoryVault, error) {
	state, vault, err := ledger.LoadState(e.cfg.StatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load wallet state (run init first): %w", err)
	}
	if vault == nil {
		vault = ledger.NewMemoryVault(nil)
	}
	var v ledger.ProofVerifier
	if withVerifier {
		vk, err := verifier.Load(e.cfg.VerifyingKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load verifying key (run setup first): %w", err)
		}
		v = vk
	}
	return ledger.Restore(state, v, ledger.WithVault(vault), ledger.WithLogger(e.log)), vault, nil
}

func (e *env) saveLedger(l *ledger.Ledger, vault *ledger.MemoryVault) error {
	return ledger.SaveState(e.cfg.StatePath, l.State(), vault)
}

func (e *env) prove(ctx context.Context, key *ecdsa.PrivateKey, txID uint64, msgHash *big.Int, commitments identity.CommitmentSet) (*prover.Result, error) {
	regs, err := registers.DecomposeKey(key)
	if err != nil {
		return nil, err
	}
	req := prover.Request{Registers: regs, MsgHash: msgHash, TxID: txID, Commitments: commitments}
	// Fail fast before paying for circuit compilation.
	if err := prover.CheckMembership(req); err != nil {
		return nil, err
	}
	g, err := e.generator()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProveTimeout)
	defer cancel()
	return g.Generate(ctx, req)
}

// authorization returns the proof for (txID, msgHash), either read from
// proofPath or generated from keyHex.
func (e *env) authorization(ctx context.Context, keyHex, proofPath string, txID uint64, msgHash *big.Int, commitments identity.CommitmentSet) (*prover.Result, error) {
	switch {
	case proofPath != "" && keyHex != "":
		return nil, errors.New("use either -key or -proof, not both")
	case proofPath != "":
		pf, res, err := readProofFile(proofPath)
		if err != nil {
			return nil, err
		}
		if pf.TxID != txID {
			return nil, fmt.Errorf("proof file is for transaction %d, not %d", pf.TxID, txID)
		}
		return res, nil
	case keyHex != "":
		key, err := parseKey(keyHex)
		if err != nil {
			return nil, err
		}
		return e.prove(ctx, key, txID, msgHash, commitments)
	default:
		return nil, errors.New("one of -key or -proof is required")
	}
}

// -----------------------------------------------------------------------------
//
//	Commands
//
// -----------------------------------------------------------------------------

func cmdSetup(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	solidity := fs.String("solidity", e.cfg.SolidityPath, "also export the verifier as a Solidity contract to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintln(e.out, "▶ Part 1: Compiling circuit...")
	ccs, err := circuit.Compile()
	if err != nil {
		return fmt.Errorf("circuit compilation failed: %w", err)
	}
	_, _, nbPublic := ccs.GetNbVariables()
	fmt.Fprintf(e.out, "  → %d constraints, %d public inputs\n", ccs.GetNbConstraints(), nbPublic-1)

	fmt.Fprintln(e.out, "\n▶ Part 2: Performing trusted setup...")
	_, vk, err := prover.SetupOrLoadKeys(ccs, e.cfg.ProvingKeyPath, e.cfg.VerifyingKeyPath)
	if err != nil {
		return fmt.Errorf("key setup failed: %w", err)
	}
	fmt.Fprintf(e.out, "  → proving key:   %s\n  → verifying key: %s\n", e.cfg.ProvingKeyPath, e.cfg.VerifyingKeyPath)

	if *solidity != "" {
		f, err := os.Create(*solidity)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := verifier.New(vk).ExportSolidity(f); err != nil {
			return fmt.Errorf("solidity export failed: %w", err)
		}
		fmt.Fprintf(e.out, "  → solidity verifier: %s\n", *solidity)
	}
	return nil
}

func cmdKeygen(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	n := fs.Int("n", identity.NUM_OWNERS, "number of keys to generate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	for i := 0; i < *n; i++ {
		key, err := eth_crypto.GenerateKey()
		if err != nil {
			return err
		}
		commitment := identity.CommitKey(key)
		fmt.Fprintf(e.out, "owner %d\n  key:        0x%x\n  address:    %s\n  commitment: %s\n",
			i+1, eth_crypto.FromECDSA(key), identity.Derive(key).Hex(), commitment.String())
	}
	return nil
}

func cmdInit(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cms := fs.String("commitments", strings.Join(e.cfg.Commitments, ","), "comma-separated owner commitments")
	threshold := fs.Int("threshold", e.cfg.Threshold, "confirmations required to execute")
	balance := fs.String("balance", "0", "initial vault balance")
	force := fs.Bool("force", false, "overwrite an existing wallet state")
	save := fs.Bool("save", false, "write commitments and threshold back to the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(e.cfg.StatePath); err == nil && !*force {
		return fmt.Errorf("wallet state %s already exists (use -force to overwrite)", e.cfg.StatePath)
	}
	set, err := identity.ParseCommitmentSet(strings.Split(*cms, ","))
	if err != nil {
		return err
	}
	funds, err := parseValue(*balance)
	if err != nil {
		return err
	}
	state, err := ledger.NewState(set, *threshold)
	if err != nil {
		return err
	}
	if err := ledger.SaveState(e.cfg.StatePath, state, ledger.NewMemoryVault(funds)); err != nil {
		return err
	}
	if *save {
		e.cfg.Commitments = set.Strings()
		e.cfg.Threshold = *threshold
		if err := config.SaveConfig(e.cfg, e.configPath); err != nil {
			return err
		}
	}
	e.log.Info().Int("threshold", *threshold).Str("state", e.cfg.StatePath).Msg("wallet created")
	fmt.Fprintf(e.out, "wallet created: %d-of-%d, balance %s\n", *threshold, identity.NUM_OWNERS, funds.Dec())
	return nil
}

func cmdDeposit(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("deposit", flag.ContinueOnError)
	amount := fs.String("amount", "", "amount to add to the vault")
	if err := fs.Parse(args); err != nil {
		return err
	}
	value, err := parseValue(*amount)
	if err != nil {
		return err
	}
	l, vault, err := e.openLedger(false)
	if err != nil {
		return err
	}
	if err := vault.Deposit(value); err != nil {
		return err
	}
	if err := e.saveLedger(l, vault); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "balance: %s\n", vault.Balance().Dec())
	return nil
}

type txFlags struct {
	to, value, payload *string
}

func addTxFlags(fs *flag.FlagSet) txFlags {
	return txFlags{
		to:      fs.String("to", "", "recipient address"),
		value:   fs.String("value", "0", "value in wei"),
		payload: fs.String("payload", "", "hex call data"),
	}
}

func (f txFlags) parse() (common.Address, *uint256.Int, []byte, error) {
	to, err := parseRecipient(*f.to)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	value, err := parseValue(*f.value)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	payload, err := parsePayload(*f.payload)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	return to, value, payload, nil
}

func cmdProve(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("prove", flag.ContinueOnError)
	keyHex := fs.String("key", "", "owner private key (hex)")
	id := fs.Int64("id", -1, "pending transaction to confirm; omit to prove a new submission")
	out := fs.String("out", "proof.json", "where to write the proof")
	tx := addTxFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := parseKey(*keyHex)
	if err != nil {
		return err
	}
	l, _, err := e.openLedger(false)
	if err != nil {
		return err
	}

	var (
		txID    uint64
		msgHash *big.Int
	)
	if *id >= 0 {
		pending, err := l.Transaction(uint64(*id))
		if err != nil {
			return err
		}
		txID = pending.ID
		if msgHash, err = pending.MsgHash(); err != nil {
			return err
		}
	} else {
		to, value, payload, err := tx.parse()
		if err != nil {
			return err
		}
		txID = l.NextID()
		if msgHash, err = message.Hash(to, value, payload); err != nil {
			return err
		}
	}

	res, err := e.prove(ctx, key, txID, msgHash, l.Commitments())
	if err != nil {
		return err
	}
	if err := writeProofFile(*out, txID, res); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "proof for transaction %d written to %s\n", txID, *out)
	return nil
}

func cmdSubmit(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	keyHex := fs.String("key", "", "owner private key (hex) to prove with")
	proofPath := fs.String("proof", "", "proof file written by `prove`")
	tx := addTxFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	to, value, payload, err := tx.parse()
	if err != nil {
		return err
	}
	msgHash, err := message.Hash(to, value, payload)
	if err != nil {
		return err
	}
	l, vault, err := e.openLedger(true)
	if err != nil {
		return err
	}
	res, err := e.authorization(ctx, *keyHex, *proofPath, l.NextID(), msgHash, l.Commitments())
	if err != nil {
		return err
	}
	id, err := l.Submit(to, value, payload, res.Proof, res.Signals)
	if err != nil {
		return err
	}
	if err := e.saveLedger(l, vault); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "submitted transaction %d (1/%d confirmations)\n", id, l.Threshold())
	return nil
}

func cmdConfirm(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("confirm", flag.ContinueOnError)
	keyHex := fs.String("key", "", "owner private key (hex) to prove with")
	proofPath := fs.String("proof", "", "proof file written by `prove`")
	id := fs.Uint64("id", 0, "transaction id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	l, vault, err := e.openLedger(true)
	if err != nil {
		return err
	}
	pending, err := l.Transaction(*id)
	if err != nil {
		return err
	}
	msgHash, err := pending.MsgHash()
	if err != nil {
		return err
	}
	res, err := e.authorization(ctx, *keyHex, *proofPath, *id, msgHash, l.Commitments())
	if err != nil {
		return err
	}
	if err := l.Confirm(*id, res.Proof, res.Signals); err != nil {
		return err
	}
	if err := e.saveLedger(l, vault); err != nil {
		return err
	}
	confirmed, err := l.Transaction(*id)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "confirmed transaction %d (%d/%d confirmations)\n", *id, confirmed.Confirmations, l.Threshold())
	return nil
}

func cmdExecute(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	id := fs.Uint64("id", 0, "transaction id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	l, vault, err := e.openLedger(false)
	if err != nil {
		return err
	}
	if err := l.Execute(*id); err != nil {
		return err
	}
	if err := e.saveLedger(l, vault); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "executed transaction %d, vault balance %s\n", *id, vault.Balance().Dec())
	return nil
}

func cmdShow(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	l, vault, err := e.openLedger(false)
	if err != nil {
		return err
	}
	printState(e, l.State(), vault)
	return nil
}

func printState(e *env, state *ledger.State, vault *ledger.MemoryVault) {
	fmt.Fprintf(e.out, "threshold:   %d-of-%d\n", state.Threshold(), identity.NUM_OWNERS)
	for i, c := range state.Commitments().Strings() {
		fmt.Fprintf(e.out, "commitment %d: %s\n", i+1, c)
	}
	if vault != nil {
		fmt.Fprintf(e.out, "balance:     %s\n", vault.Balance().Dec())
	}
	fmt.Fprintf(e.out, "next id:     %d\n", state.NextID())
	for _, tx := range state.Transactions() {
		fmt.Fprintf(e.out, "  #%d  to=%s value=%s payload=%s  %d/%d  %s\n",
			tx.ID, tx.Recipient.Hex(), tx.Value.Dec(), tx.Payload.String(),
			tx.Confirmations, state.Threshold(), tx.Status(state.Threshold()))
	}
}
