// Package registers splits secret scalars into fixed-width limbs so that a
// 256-bit key can be fed to an arithmetic circuit whose native field is
// smaller than the key.
package registers

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"
)

const (
	// REGISTER_BITS and NUM_REGISTERS are the shape the membership circuit
	// expects. They match the limb layout of gnark's emulated secp256k1
	// scalar field, so the registers can be used as limbs directly.
	REGISTER_BITS = 64
	NUM_REGISTERS = 4
)

var ErrInvalidRegisterWidth = errors.New("invalid register width")

// Set is an ordered limb decomposition. Limbs[0] holds the least
// significant Bits bits.
type Set struct {
	Bits  int
	Limbs []*big.Int
}

// Decompose returns k registers of n bits each where
// register[i] = (key >> (i*n)) & (2^n - 1).
//
// Bits of key above k*n are dropped without error; callers that need a
// lossless split must pick k*n >= key.BitLen().
func Decompose(key *big.Int, n, k int) (Set, error) {
	if n <= 0 || k <= 0 {
		return Set{}, fmt.Errorf("%w: n=%d k=%d", ErrInvalidRegisterWidth, n, k)
	}
	if key == nil || key.Sign() < 0 {
		return Set{}, fmt.Errorf("%w: key must be non-negative", ErrInvalidRegisterWidth)
	}
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(n)), big.NewInt(1))
	limbs := make([]*big.Int, k)
	for i := 0; i < k; i++ {
		limb := new(big.Int).Rsh(key, uint(i*n))
		limbs[i] = limb.And(limb, mask)
	}
	return Set{Bits: n, Limbs: limbs}, nil
}

// DecomposeKey splits an ECDSA private key using the circuit shape.
func DecomposeKey(key *ecdsa.PrivateKey) (Set, error) {
	if key == nil || key.D == nil {
		return Set{}, fmt.Errorf("%w: nil key", ErrInvalidRegisterWidth)
	}
	return Decompose(key.D, REGISTER_BITS, NUM_REGISTERS)
}

// Reconstruct computes sum(limb[i] * 2^(i*Bits)).
func (s Set) Reconstruct() *big.Int {
	acc := new(big.Int)
	for i := len(s.Limbs) - 1; i >= 0; i-- {
		acc.Lsh(acc, uint(s.Bits))
		acc.Add(acc, s.Limbs[i])
	}
	return acc
}

// Validate checks that the set has the given shape and that every limb
// fits in its width.
func (s Set) Validate(n, k int) error {
	if s.Bits != n || len(s.Limbs) != k {
		return fmt.Errorf("%w: got %d registers of %d bits, want %d of %d", ErrInvalidRegisterWidth, len(s.Limbs), s.Bits, k, n)
	}
	for i, l := range s.Limbs {
		if l == nil || l.Sign() < 0 || l.BitLen() > n {
			return fmt.Errorf("%w: register %d out of range", ErrInvalidRegisterWidth, i)
		}
	}
	return nil
}

// Variables returns the limbs as circuit assignments.
func (s Set) Variables() [NUM_REGISTERS]frontend.Variable {
	var out [NUM_REGISTERS]frontend.Variable
	for i := range out {
		out[i] = 0
		if i < len(s.Limbs) {
			out[i] = new(big.Int).Set(s.Limbs[i])
		}
	}
	return out
}

// Strings renders the limbs in decimal, the format circuit toolchains take
// witness inputs in.
func (s Set) Strings() []string {
	out := make([]string, len(s.Limbs))
	for i, l := range s.Limbs {
		out[i] = l.String()
	}
	return out
}
