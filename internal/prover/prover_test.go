package prover

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkmultisig/internal/circuit"
	"zkmultisig/internal/identity"
	"zkmultisig/internal/ledger"
	"zkmultisig/internal/message"
	"zkmultisig/internal/registers"
	"zkmultisig/internal/verifier"
)

var ownerKeys = []string{
	"d2b651f6682d36d83a15039a831e5a619b48f9a3f25603f7e346f3be8f45c713",
	"2286b7bf48a97957770a5d2f8e1329128f83c07a0d4b851b238116541f714930",
	"a853651333333333333333333333333333333333333333333333333333333333",
}

const outsiderKey = "1ab2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2"

func mustKey(t *testing.T, h string) *ecdsa.PrivateKey {
	t.Helper()
	k, err := eth_crypto.HexToECDSA(h)
	require.NoError(t, err)
	return k
}

func commitments(t *testing.T) identity.CommitmentSet {
	var set identity.CommitmentSet
	for i, h := range ownerKeys {
		set[i] = identity.CommitKey(mustKey(t, h))
	}
	return set
}

func request(t *testing.T, key *ecdsa.PrivateKey, txID uint64) Request {
	t.Helper()
	regs, err := registers.DecomposeKey(key)
	require.NoError(t, err)
	msgHash, err := message.Hash(common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), uint256.NewInt(1), []byte{})
	require.NoError(t, err)
	return Request{Registers: regs, MsgHash: msgHash, TxID: txID, Commitments: commitments(t)}
}

func TestCheckMembership(t *testing.T) {
	for _, h := range ownerKeys {
		require.NoError(t, CheckMembership(request(t, mustKey(t, h), 0)))
	}

	err := CheckMembership(request(t, mustKey(t, outsiderKey), 0))
	require.ErrorIs(t, err, ErrNoSatisfyingWitness)

	req := request(t, mustKey(t, ownerKeys[0]), 0)
	req.Registers = registers.Set{Bits: 64, Limbs: []*big.Int{big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0)}}
	require.ErrorIs(t, CheckMembership(req), ErrNoSatisfyingWitness, "zero key")

	allOnes, err := registers.Decompose(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 64, 4)
	require.NoError(t, err)
	req.Registers = allOnes
	require.ErrorIs(t, CheckMembership(req), ErrNoSatisfyingWitness, "key above group order")

	wide, err := registers.Decompose(mustKey(t, ownerKeys[0]).D, 128, 2)
	require.NoError(t, err)
	req.Registers = wide
	require.ErrorIs(t, CheckMembership(req), registers.ErrInvalidRegisterWidth)
}

func TestGenerateRejectsOutsiderWithoutProving(t *testing.T) {
	// no circuit or key: the membership check must fail before the backend runs
	g := New(nil, nil)
	_, err := g.Generate(context.Background(), request(t, mustKey(t, outsiderKey), 0))
	require.ErrorIs(t, err, ErrNoSatisfyingWitness)
}

func TestStartHonoursCancelledContext(t *testing.T) {
	g := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	task := g.Start(ctx, request(t, mustKey(t, ownerKeys[0]), 0))
	<-task.Done()
	_, err := task.Wait()
	require.ErrorIs(t, err, context.Canceled)
}

func TestGenerateAllStopsOnFirstFailure(t *testing.T) {
	g := New(nil, nil, WithConcurrency(2))
	reqs := []Request{
		request(t, mustKey(t, outsiderKey), 0),
		request(t, mustKey(t, outsiderKey), 1),
	}
	_, err := g.GenerateAll(context.Background(), reqs)
	require.ErrorIs(t, err, ErrNoSatisfyingWitness)
}

func TestGenerateAllWaitsForRunningProverAfterCancel(t *testing.T) {
	g := New(nil, nil, WithConcurrency(1))
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var running, peak atomic.Int32
	g.proveFn = func(Request) (*Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		running.Add(-1)
		return &Result{}, nil
	}
	reqs := []Request{
		request(t, mustKey(t, ownerKeys[0]), 0),
		request(t, mustKey(t, ownerKeys[1]), 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan error, 1)
	go func() {
		_, err := g.GenerateAll(ctx, reqs)
		out <- err
	}()
	<-started
	cancel()

	select {
	case err := <-out:
		t.Fatalf("GenerateAll returned (%v) while a prover was still running", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	err := <-out
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, running.Load())
	assert.EqualValues(t, 1, peak.Load())
}

func TestTaskIdleAfterCancel(t *testing.T) {
	g := New(nil, nil)
	release := make(chan struct{})
	g.proveFn = func(Request) (*Result, error) {
		<-release
		return &Result{}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := g.Start(ctx, request(t, mustKey(t, ownerKeys[0]), 0))
	cancel()

	_, err := task.Wait()
	require.ErrorIs(t, err, context.Canceled)
	select {
	case <-task.Idle():
		t.Fatal("idle before the prover returned")
	default:
	}
	close(release)
	<-task.Idle()
}

// -----------------------------------------------------------------------------
//
//	Full Groth16 round trips
//
// -----------------------------------------------------------------------------

var (
	setupOnce sync.Once
	setupCCS  constraint.ConstraintSystem
	setupPK   groth16.ProvingKey
	setupVK   groth16.VerifyingKey
	setupErr  error
)

func groth16Keys(t *testing.T) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey) {
	t.Helper()
	if testing.Short() {
		t.Skip("groth16 setup of the membership circuit is slow")
	}
	setupOnce.Do(func() {
		setupCCS, setupErr = circuit.Compile()
		if setupErr != nil {
			return
		}
		setupPK, setupVK, setupErr = groth16.Setup(setupCCS)
	})
	require.NoError(t, setupErr)
	return setupCCS, setupPK, setupVK
}

func TestProveAndVerify(t *testing.T) {
	ccs, pk, vk := groth16Keys(t)
	g := New(ccs, pk)
	v := verifier.New(vk)

	res, err := g.Generate(context.Background(), request(t, mustKey(t, ownerKeys[2]), 5))
	require.NoError(t, err)
	require.Len(t, res.Signals, circuit.NUM_SIGNALS)
	assert.True(t, v.Verify(res.Proof, res.Signals))

	// flipping any single bit of the message hash must invalidate the proof
	for _, bit := range []int{0, 1, 17, 128, 250} {
		tampered := res.Signals.Clone()
		tampered[circuit.SIGNAL_MSG_HASH] = new(big.Int).Xor(tampered[circuit.SIGNAL_MSG_HASH], new(big.Int).Lsh(big.NewInt(1), uint(bit)))
		assert.False(t, v.Verify(res.Proof, tampered), "bit %d", bit)
	}

	otherTx := res.Signals.Clone()
	otherTx[circuit.SIGNAL_TX_ID] = big.NewInt(6)
	assert.False(t, v.Verify(res.Proof, otherTx))

	otherSet := res.Signals.Clone()
	otherSet[circuit.SIGNAL_COMMITMENT_1], otherSet[circuit.SIGNAL_COMMITMENT_2] = otherSet[circuit.SIGNAL_COMMITMENT_2], otherSet[circuit.SIGNAL_COMMITMENT_1]
	assert.False(t, v.Verify(res.Proof, otherSet))

	calldata, err := verifier.SolidityCalldata(res.Proof)
	require.NoError(t, err)
	assert.NotEmpty(t, calldata)

	truncated := append(verifier.Proof(nil), res.Proof[:len(res.Proof)-1]...)
	assert.False(t, v.Verify(truncated, res.Signals))
	assert.False(t, v.Verify(res.Proof, res.Signals[:4]))
}

func TestGenerateAllInParallel(t *testing.T) {
	ccs, pk, vk := groth16Keys(t)
	g := New(ccs, pk, WithConcurrency(2))
	v := verifier.New(vk)

	reqs := []Request{
		request(t, mustKey(t, ownerKeys[0]), 9),
		request(t, mustKey(t, ownerKeys[1]), 9),
	}
	results, err := g.GenerateAll(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, v.Verify(r.Proof, r.Signals))
	}
	// two owners, same transaction: distinct nullifiers
	assert.NotEqual(t, results[0].Signals.Nullifier(), results[1].Signals.Nullifier())
}

// Three owners, threshold two: one submission and one confirmation execute
// the transfer, and a single owner cannot count twice.
func TestWalletScenario(t *testing.T) {
	ccs, pk, vk := groth16Keys(t)
	g := New(ccs, pk)

	vault := ledger.NewMemoryVault(uint256.NewInt(1))
	wallet, err := ledger.New(commitments(t), 2, verifier.New(vk), ledger.WithVault(vault))
	require.NoError(t, err)

	to := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	first, err := g.Generate(context.Background(), request(t, mustKey(t, ownerKeys[0]), wallet.NextID()))
	require.NoError(t, err)
	id, err := wallet.Submit(to, uint256.NewInt(1), nil, first.Proof, first.Signals)
	require.NoError(t, err)
	require.ErrorIs(t, wallet.Execute(id), ledger.ErrThresholdNotMet)

	// a fresh proof from the same owner carries the same nullifier
	again, err := g.Generate(context.Background(), request(t, mustKey(t, ownerKeys[0]), id))
	require.NoError(t, err)
	require.ErrorIs(t, wallet.Confirm(id, again.Proof, again.Signals), ledger.ErrDuplicateConfirmation)

	second, err := g.Generate(context.Background(), request(t, mustKey(t, ownerKeys[1]), id))
	require.NoError(t, err)
	require.NoError(t, wallet.Confirm(id, second.Proof, second.Signals))

	require.NoError(t, wallet.Execute(id))
	require.ErrorIs(t, wallet.Execute(id), ledger.ErrAlreadyExecuted)
	require.Equal(t, uint64(1), vault.BalanceOf(to).Uint64())
	require.True(t, vault.Balance().IsZero())
	require.Len(t, vault.Calls(), 1)
}
