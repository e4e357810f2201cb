// circuit.go
// membership circuit definition
package circuit

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/emulated/sw_emulated"
	"github.com/consensys/gnark/std/hash/mimc"
	keccak "github.com/consensys/gnark/std/hash/sha3"
	"github.com/consensys/gnark/std/math/emulated"
	"github.com/consensys/gnark/std/math/uints"
	"github.com/consensys/gnark/std/rangecheck"

	"zkmultisig/internal/registers"
)

const (
	REGISTER_BITS = registers.REGISTER_BITS
	NUM_REGISTERS = registers.NUM_REGISTERS
	ADDRESS_BYTES = 20
	NUM_SIGNALS   = 6
)

// Public signal positions, in the order gnark lays out the public witness.
const (
	SIGNAL_MSG_HASH = iota
	SIGNAL_COMMITMENT_1
	SIGNAL_COMMITMENT_2
	SIGNAL_COMMITMENT_3
	SIGNAL_TX_ID
	SIGNAL_NULLIFIER
)

// MembershipCircuit proves knowledge of a secp256k1 key whose address
// commits to one of three registered commitments, bound to one transaction.
type MembershipCircuit struct {
	// Public inputs
	MsgHash     frontend.Variable `gnark:",public"`
	Commitment1 frontend.Variable `gnark:",public"`
	Commitment2 frontend.Variable `gnark:",public"`
	Commitment3 frontend.Variable `gnark:",public"`
	TxID        frontend.Variable `gnark:",public"`
	Nullifier   frontend.Variable `gnark:",public"`

	// Private key registers, least significant first
	PrivKey [NUM_REGISTERS]frontend.Variable
}

// --- Helper Primitives ---
func isZero(api frontend.API, v frontend.Variable) frontend.Variable { return api.IsZero(v) }

// oneOf returns 1 when v equals any of the candidates without revealing
// which one matched.
func oneOf(api frontend.API, v frontend.Variable, candidates ...frontend.Variable) frontend.Variable {
	prod := frontend.Variable(1)
	for _, c := range candidates {
		prod = api.Mul(prod, api.Sub(v, c))
	}
	return isZero(api, prod)
}

// publicKeyToAddress hashes the uncompressed public key X||Y with keccak256
// and keeps the low 20 bytes, as Ethereum does.
func publicKeyToAddress(api frontend.API, fpField *emulated.Field[emulated.Secp256k1Fp], pk *sw_emulated.AffinePoint[emulated.Secp256k1Fp]) (frontend.Variable, error) {
	uapi, err := uints.New[uints.U32](api)
	if err != nil {
		return nil, err
	}
	pkBytes := make([]uints.U8, 64)
	pxBits := fpField.ToBitsCanonical(&pk.X)
	pyBits := fpField.ToBitsCanonical(&pk.Y)
	for j := 0; j < 32; j++ {
		pxByte := api.FromBinary(pxBits[(31-j)*8 : (32-j)*8]...)
		pkBytes[j] = uapi.ByteValueOf(pxByte)
		pyByte := api.FromBinary(pyBits[(31-j)*8 : (32-j)*8]...)
		pkBytes[32+j] = uapi.ByteValueOf(pyByte)
	}
	pkHasher, err := keccak.NewLegacyKeccak256(api)
	if err != nil {
		return nil, err
	}
	pkHasher.Write(pkBytes)
	pkHash := pkHasher.Sum()
	var address frontend.Variable = 0
	for j := 0; j < ADDRESS_BYTES; j++ {
		address = api.Add(api.Mul(address, 256), pkHash[32-ADDRESS_BYTES+j].Val)
	}
	return address, nil
}

// -----------------------------------------------------------------------------
//
//	Main Circuit Logic
//
// -----------------------------------------------------------------------------
func (c *MembershipCircuit) Define(api frontend.API) error {
	frField, err := emulated.NewField[emulated.Secp256k1Fr](api)
	if err != nil {
		return err
	}
	fpField, err := emulated.NewField[emulated.Secp256k1Fp](api)
	if err != nil {
		return err
	}
	curve, err := sw_emulated.New[emulated.Secp256k1Fp, emulated.Secp256k1Fr](api, sw_emulated.GetSecp256k1Params())
	if err != nil {
		return err
	}

	// --- 1. Key reconstruction from registers ---
	rc := rangecheck.New(api)
	for i := 0; i < NUM_REGISTERS; i++ {
		rc.Check(c.PrivKey[i], REGISTER_BITS)
	}
	key := frField.NewElement(c.PrivKey[:])

	// The registers must already be the canonical scalar (key < N). Otherwise
	// k and k+N would give the same address under two different nullifiers.
	canonical := frField.ToBitsCanonical(key)
	for i := 0; i < NUM_REGISTERS; i++ {
		lo, hi := i*REGISTER_BITS, (i+1)*REGISTER_BITS
		if hi > len(canonical) {
			hi = len(canonical)
		}
		limb := frontend.Variable(0)
		if lo < hi {
			limb = api.FromBinary(canonical[lo:hi]...)
		}
		api.AssertIsEqual(c.PrivKey[i], limb)
	}

	// --- 2. Address derivation ---
	pk := curve.ScalarMulBase(key)
	address, err := publicKeyToAddress(api, fpField, pk)
	if err != nil {
		return err
	}

	// --- 3. Commitment ---
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(address)
	commitment := hasher.Sum()

	// --- 4. Disjunctive membership ---
	api.AssertIsEqual(oneOf(api, commitment, c.Commitment1, c.Commitment2, c.Commitment3), 1)

	// --- 5. Nullifier, binding key, transaction id and message ---
	hasher.Reset()
	hasher.Write(c.PrivKey[:]...)
	hasher.Write(c.TxID, c.MsgHash)
	api.AssertIsEqual(c.Nullifier, hasher.Sum())

	return nil
}
