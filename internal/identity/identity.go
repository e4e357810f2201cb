// Package identity derives owner addresses from secp256k1 keys and the
// commitments the wallet registers in place of those addresses.
//
// Commitments and nullifiers are MiMC digests over the BN254 scalar field,
// the same permutation the membership circuit evaluates, so a value computed
// here can be compared directly against a public signal.
package identity

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

// NUM_OWNERS is the number of commitment slots a wallet carries.
const NUM_OWNERS = 3

// Commitment is MiMC(address) as a BN254 scalar.
type Commitment = fr.Element

// CommitmentSet is the ordered, fixed set of owner commitments.
type CommitmentSet [NUM_OWNERS]Commitment

// Derive returns the Ethereum address of key.
func Derive(key *ecdsa.PrivateKey) common.Address {
	return eth_crypto.PubkeyToAddress(key.PublicKey)
}

// DeriveScalar returns the address of the raw scalar k. It fails when k is
// not a valid secp256k1 private key (zero or >= N).
func DeriveScalar(k *big.Int) (common.Address, error) {
	key, err := ScalarToKey(k)
	if err != nil {
		return common.Address{}, err
	}
	return Derive(key), nil
}

// ScalarToKey converts a raw scalar into an ECDSA key.
func ScalarToKey(k *big.Int) (*ecdsa.PrivateKey, error) {
	if k == nil || k.Sign() <= 0 || k.BitLen() > 256 {
		return nil, fmt.Errorf("invalid secp256k1 scalar")
	}
	buf := make([]byte, 32)
	k.FillBytes(buf)
	key, err := eth_crypto.ToECDSA(buf)
	if err != nil {
		return nil, fmt.Errorf("invalid secp256k1 scalar: %w", err)
	}
	return key, nil
}

// AddressElement maps an address onto the scalar field. 160 bits always
// fit, so the mapping is injective.
func AddressElement(addr common.Address) fr.Element {
	var e fr.Element
	e.SetBigInt(new(big.Int).SetBytes(addr.Bytes()))
	return e
}

// Commit returns MiMC(address).
func Commit(addr common.Address) Commitment {
	return hashElements(AddressElement(addr))
}

// CommitKey is Commit(Derive(key)).
func CommitKey(key *ecdsa.PrivateKey) Commitment {
	return Commit(Derive(key))
}

// Nullifier returns MiMC(r0, .., r3, txID, msgHash). It is deterministic per
// (key, transaction) and reveals nothing about which owner produced it.
// The limbs must be the canonical split of a key below the group order, which
// is what the circuit enforces.
func Nullifier(limbs []*big.Int, txID uint64, msgHash *big.Int) fr.Element {
	elems := make([]fr.Element, 0, len(limbs)+2)
	for _, l := range limbs {
		var e fr.Element
		e.SetBigInt(l)
		elems = append(elems, e)
	}
	var id, msg fr.Element
	id.SetUint64(txID)
	msg.SetBigInt(msgHash)
	elems = append(elems, id, msg)
	return hashElements(elems...)
}

func hashElements(elems ...fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		if _, err := h.Write(b[:]); err != nil {
			// Bytes is always a reduced 32-byte block
			panic(fmt.Sprintf("identity: mimc write: %v", err))
		}
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// Contains reports whether c is one of the registered commitments.
func (s CommitmentSet) Contains(c Commitment) bool {
	return s.Index(c) >= 0
}

// Index returns the slot holding c, or -1.
func (s CommitmentSet) Index(c Commitment) int {
	for i := range s {
		if s[i].Equal(&c) {
			return i
		}
	}
	return -1
}

// Equal compares the sets slot by slot; order matters.
func (s CommitmentSet) Equal(o CommitmentSet) bool {
	for i := range s {
		if !s[i].Equal(&o[i]) {
			return false
		}
	}
	return true
}

// BigInts returns the commitments in slot order.
func (s CommitmentSet) BigInts() [NUM_OWNERS]*big.Int {
	var out [NUM_OWNERS]*big.Int
	for i := range s {
		out[i] = s[i].BigInt(new(big.Int))
	}
	return out
}

// Strings returns the commitments as decimal strings.
func (s CommitmentSet) Strings() []string {
	out := make([]string, NUM_OWNERS)
	for i := range s {
		out[i] = s[i].String()
	}
	return out
}

// ParseCommitmentSet reads exactly three decimal or 0x-prefixed hex values.
func ParseCommitmentSet(values []string) (CommitmentSet, error) {
	var set CommitmentSet
	if len(values) != NUM_OWNERS {
		return set, fmt.Errorf("expected %d commitments, got %d", NUM_OWNERS, len(values))
	}
	for i, v := range values {
		c, err := ParseCommitment(v)
		if err != nil {
			return set, fmt.Errorf("commitment %d: %w", i+1, err)
		}
		set[i] = c
	}
	return set, nil
}

// ParseCommitment parses one commitment. Values must already be reduced
// into the scalar field.
func ParseCommitment(v string) (Commitment, error) {
	var c Commitment
	v = strings.TrimSpace(v)
	n, ok := new(big.Int).SetString(v, 0)
	if !ok {
		return c, fmt.Errorf("malformed commitment %q", v)
	}
	if n.Sign() < 0 || n.Cmp(fr.Modulus()) >= 0 {
		return c, fmt.Errorf("commitment %q is not a field element", v)
	}
	c.SetBigInt(n)
	return c, nil
}
