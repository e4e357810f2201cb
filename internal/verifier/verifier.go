// Package verifier checks membership proofs against declared public signals.
//
// Verify is a pure wrapper around gnark's Groth16 pairing check: it holds no
// state besides the verifying key and reports every malformed input as a
// plain false, which callers treat exactly like a failed proof.
package verifier

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"zkmultisig/internal/circuit"
)

// Proof is a Groth16 proof over BN254 in gnark's compressed encoding.
type Proof []byte

// PublicSignals are ordered as
// [msgHash, commitment1, commitment2, commitment3, txID, nullifier].
type PublicSignals []*big.Int

func (s PublicSignals) at(i int) *big.Int {
	if i >= len(s) || s[i] == nil {
		return nil
	}
	return new(big.Int).Set(s[i])
}

// MsgHash returns the declared message hash, or nil if absent.
func (s PublicSignals) MsgHash() *big.Int { return s.at(circuit.SIGNAL_MSG_HASH) }

// TxID returns the declared transaction id, or nil if absent.
func (s PublicSignals) TxID() *big.Int { return s.at(circuit.SIGNAL_TX_ID) }

// Nullifier returns the declared nullifier, or nil if absent.
func (s PublicSignals) Nullifier() *big.Int { return s.at(circuit.SIGNAL_NULLIFIER) }

// Commitment returns commitment slot i (0-based), or nil if absent.
func (s PublicSignals) Commitment(i int) *big.Int { return s.at(circuit.SIGNAL_COMMITMENT_1 + i) }

// Clone deep-copies the signals.
func (s PublicSignals) Clone() PublicSignals {
	out := make(PublicSignals, len(s))
	for i := range s {
		out[i] = s.at(i)
	}
	return out
}

// Strings renders the signals in decimal.
func (s PublicSignals) Strings() []string {
	out := make([]string, len(s))
	for i, v := range s {
		if v != nil {
			out[i] = v.String()
		}
	}
	return out
}

// ParseSignals reads decimal or 0x-prefixed values.
func ParseSignals(values []string) (PublicSignals, error) {
	out := make(PublicSignals, len(values))
	for i, v := range values {
		n, ok := new(big.Int).SetString(v, 0)
		if !ok {
			return nil, fmt.Errorf("malformed public signal %d: %q", i, v)
		}
		out[i] = n
	}
	return out, nil
}

// EncodeProof serializes a gnark proof.
func EncodeProof(p groth16.Proof) (Proof, error) {
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeProof deserializes a proof; curve points are subgroup-checked on
// the way in and trailing bytes are rejected.
func DecodeProof(b Proof) (groth16.Proof, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty proof")
	}
	p := groth16.NewProof(circuit.Curve)
	n, err := p.ReadFrom(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("proof unmarshaling failed: %w", err)
	}
	if n != int64(len(b)) {
		return nil, fmt.Errorf("proof has %d trailing bytes", int64(len(b))-n)
	}
	return p, nil
}

// Verifier wraps a verifying key.
type Verifier struct {
	vk groth16.VerifyingKey
}

// New returns a verifier for vk.
func New(vk groth16.VerifyingKey) *Verifier {
	return &Verifier{vk: vk}
}

// Load reads a verifying key written by prover.SaveVerifyingKey.
func Load(path string) (*Verifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(circuit.Curve)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("verifying key unmarshaling failed: %w", err)
	}
	return New(vk), nil
}

// Verify reports whether proof is valid for signals.
func (v *Verifier) Verify(proof Proof, signals PublicSignals) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	if v == nil || v.vk == nil {
		return false
	}
	assignment, err := circuit.PublicAssignment(signals)
	if err != nil {
		return false
	}
	w, err := frontend.NewWitness(assignment, circuit.Curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false
	}
	p, err := DecodeProof(proof)
	if err != nil {
		return false
	}
	return groth16.Verify(p, v.vk, w) == nil
}

// ExportSolidity writes the equivalent on-chain verifier contract.
func (v *Verifier) ExportSolidity(w io.Writer) error {
	return v.vk.ExportSolidity(w)
}

// SolidityCalldata encodes proof the way the exported contract's
// verifyProof expects it (raw big-endian words).
func SolidityCalldata(proof Proof) ([]byte, error) {
	p, err := DecodeProof(proof)
	if err != nil {
		return nil, err
	}
	s, ok := p.(interface{ MarshalSolidity() []byte })
	if !ok {
		return nil, fmt.Errorf("proof of type %T has no solidity encoding", p)
	}
	return s.MarshalSolidity(), nil
}
