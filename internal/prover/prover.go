// Package prover builds membership proofs off the critical path.
//
// A proof attests that the caller holds a key whose address commits to one
// of the three registered commitments and that it authorizes exactly one
// (transaction id, message hash) pair. Generation is pure: a Generator only
// reads its compiled circuit and proving key, so any number of proofs may
// be generated concurrently.
package prover

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"zkmultisig/internal/circuit"
	"zkmultisig/internal/identity"
	"zkmultisig/internal/registers"
	"zkmultisig/internal/verifier"
)

// ErrNoSatisfyingWitness is returned when the key does not belong to the
// registered owner set, so no valid proof exists.
var ErrNoSatisfyingWitness = errors.New("no satisfying witness")

// Request describes one proof to generate.
type Request struct {
	Registers   registers.Set
	MsgHash     *big.Int
	TxID        uint64
	Commitments identity.CommitmentSet
}

// Result is a proof together with the public signals it was made for.
type Result struct {
	Proof   verifier.Proof
	Signals verifier.PublicSignals
}

// Generator produces Groth16 proofs for the membership circuit.
type Generator struct {
	ccs         constraint.ConstraintSystem
	pk          groth16.ProvingKey
	log         zerolog.Logger
	concurrency int
	proveFn     func(Request) (*Result, error)
}

type Option func(*Generator)

// WithLogger sets the logger used for progress messages.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) { g.log = l }
}

// WithConcurrency bounds how many proofs GenerateAll runs at once.
func WithConcurrency(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// New returns a generator for a compiled membership circuit and its key.
func New(ccs constraint.ConstraintSystem, pk groth16.ProvingKey, opts ...Option) *Generator {
	g := &Generator{ccs: ccs, pk: pk, log: zerolog.Nop(), concurrency: 1}
	g.proveFn = g.prove
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckMembership reports, without proving, whether req has a satisfying
// witness.
func CheckMembership(req Request) error {
	if err := req.Registers.Validate(circuit.REGISTER_BITS, circuit.NUM_REGISTERS); err != nil {
		return err
	}
	addr, err := identity.DeriveScalar(req.Registers.Reconstruct())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoSatisfyingWitness, err)
	}
	if !req.Commitments.Contains(identity.Commit(addr)) {
		return fmt.Errorf("%w: key is not a registered owner", ErrNoSatisfyingWitness)
	}
	return nil
}

// Generate blocks until the proof for req is built or ctx is done.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	return g.Start(ctx, req).Wait()
}

// Start begins generating a proof in the background.
//
// Cancelling ctx completes the task with ctx.Err() right away, but the
// backend prover cannot be interrupted and keeps running until Idle is
// closed. Its result is then dropped.
func (g *Generator) Start(ctx context.Context, req Request) *Task {
	t := &Task{done: make(chan struct{}), idle: make(chan struct{})}
	if err := ctx.Err(); err != nil {
		t.err = err
		close(t.idle)
		close(t.done)
		return t
	}
	var res *Result
	var err error
	go func() {
		defer close(t.idle)
		res, err = g.proveFn(req)
	}()
	go func() {
		defer close(t.done)
		select {
		case <-t.idle:
			t.res, t.err = res, err
		case <-ctx.Done():
			t.err = ctx.Err()
		}
	}()
	return t
}

// GenerateAll proves every request, running up to the configured
// concurrency in parallel. Results keep the order of reqs. The first
// failure cancels the remaining work, and GenerateAll returns only once
// every started backend prover has exited.
func (g *Generator) GenerateAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	results := make([]*Result, len(reqs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i := range reqs {
		eg.Go(func() error {
			t := g.Start(egCtx, reqs[i])
			res, err := t.Wait()
			// the slot stays taken while the backend still runs
			<-t.Idle()
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (g *Generator) prove(req Request) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: prover panicked: %v", ErrNoSatisfyingWitness, r)
		}
	}()
	if err := CheckMembership(req); err != nil {
		return nil, err
	}
	in := circuit.Inputs{
		Registers:   req.Registers,
		MsgHash:     req.MsgHash,
		TxID:        req.TxID,
		Commitments: req.Commitments,
	}
	assignment, err := circuit.Assignment(in)
	if err != nil {
		return nil, err
	}
	w, err := frontend.NewWitness(assignment, circuit.Curve.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	start := time.Now()
	proof, err := groth16.Prove(g.ccs, g.pk, w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSatisfyingWitness, err)
	}
	encoded, err := verifier.EncodeProof(proof)
	if err != nil {
		return nil, err
	}
	g.log.Debug().Uint64("tx", req.TxID).Dur("took", time.Since(start)).Msg("membership proof generated")
	return &Result{Proof: encoded, Signals: in.Signals()}, nil
}

// Task is a proof generation running in the background.
type Task struct {
	done chan struct{}
	idle chan struct{}
	res  *Result
	err  error
}

// Done is closed once the task has a result.
func (t *Task) Done() <-chan struct{} { return t.done }

// Idle is closed once the backend prover has returned. After a
// cancellation it may close well after Done.
func (t *Task) Idle() <-chan struct{} { return t.idle }

// Wait blocks until the task finishes.
func (t *Task) Wait() (*Result, error) {
	<-t.done
	return t.res, t.err
}
