// witness.go
package circuit

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"zkmultisig/internal/identity"
	"zkmultisig/internal/registers"
)

// Curve is the proving curve. Public signals live in its scalar field.
var Curve = ecc.BN254

// Compile builds the R1CS of the membership circuit.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit MembershipCircuit
	cs, err := frontend.Compile(Curve.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("failed to compile: %w", err)
	}
	return cs, nil
}

// Inputs is everything needed to assign the full witness.
type Inputs struct {
	Registers   registers.Set
	MsgHash     *big.Int
	TxID        uint64
	Commitments identity.CommitmentSet
}

// Signals returns the public signals implied by in, in witness order.
func (in Inputs) Signals() []*big.Int {
	cms := in.Commitments.BigInts()
	nullifier := identity.Nullifier(in.Registers.Limbs, in.TxID, in.MsgHash)
	return []*big.Int{
		new(big.Int).Set(in.MsgHash),
		cms[0],
		cms[1],
		cms[2],
		new(big.Int).SetUint64(in.TxID),
		nullifier.BigInt(new(big.Int)),
	}
}

// Assignment constructs the full circuit witness for in.
func Assignment(in Inputs) (*MembershipCircuit, error) {
	if err := in.Registers.Validate(REGISTER_BITS, NUM_REGISTERS); err != nil {
		return nil, err
	}
	if in.MsgHash == nil {
		return nil, fmt.Errorf("missing message hash")
	}
	assignment, err := PublicAssignment(in.Signals())
	if err != nil {
		return nil, err
	}
	assignment.PrivKey = in.Registers.Variables()
	return assignment, nil
}

// PublicAssignment fills only the public part of the witness. Signals must
// already be field elements; values >= r are rejected rather than reduced,
// otherwise x and x+r would both pass verification.
func PublicAssignment(signals []*big.Int) (*MembershipCircuit, error) {
	if len(signals) != NUM_SIGNALS {
		return nil, fmt.Errorf("expected %d public signals, got %d", NUM_SIGNALS, len(signals))
	}
	modulus := Curve.ScalarField()
	for i, s := range signals {
		if s == nil || s.Sign() < 0 || s.Cmp(modulus) >= 0 {
			return nil, fmt.Errorf("public signal %d is not a field element", i)
		}
	}
	var zero [NUM_REGISTERS]frontend.Variable
	for i := range zero {
		zero[i] = 0
	}
	return &MembershipCircuit{
		MsgHash:     signals[SIGNAL_MSG_HASH],
		Commitment1: signals[SIGNAL_COMMITMENT_1],
		Commitment2: signals[SIGNAL_COMMITMENT_2],
		Commitment3: signals[SIGNAL_COMMITMENT_3],
		TxID:        signals[SIGNAL_TX_ID],
		Nullifier:   signals[SIGNAL_NULLIFIER],
		PrivKey:     zero,
	}, nil
}
