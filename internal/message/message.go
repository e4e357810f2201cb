// Package message computes the transaction digest a proof is bound to.
//
// The digest is keccak256 over the Solidity abi.encode of
// (address recipient, uint256 value, bytes payload), reduced modulo the
// BN254 scalar field so it can travel as a single public signal. Prover and
// ledger both go through Hash, which keeps the encoding byte-for-byte equal
// on both sides.
package message

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var arguments abi.Arguments

func init() {
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	bytesTy, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	arguments = abi.Arguments{{Type: addressTy}, {Type: uint256Ty}, {Type: bytesTy}}
}

// Encode returns abi.encode(recipient, value, payload).
func Encode(recipient common.Address, value *uint256.Int, payload []byte) ([]byte, error) {
	if value == nil {
		value = new(uint256.Int)
	}
	if payload == nil {
		payload = []byte{}
	}
	enc, err := arguments.Pack(recipient, value.ToBig(), payload)
	if err != nil {
		return nil, fmt.Errorf("abi encoding failed: %w", err)
	}
	return enc, nil
}

// Digest returns keccak256(Encode(...)) before field reduction.
func Digest(recipient common.Address, value *uint256.Int, payload []byte) ([32]byte, error) {
	enc, err := Encode(recipient, value, payload)
	if err != nil {
		return [32]byte{}, err
	}
	return eth_crypto.Keccak256Hash(enc), nil
}

// Hash returns the digest reduced into the BN254 scalar field.
func Hash(recipient common.Address, value *uint256.Int, payload []byte) (*big.Int, error) {
	d, err := Digest(recipient, value, payload)
	if err != nil {
		return nil, err
	}
	return Reduce(d[:]), nil
}

// Reduce interprets b as a big-endian integer and reduces it mod r.
func Reduce(b []byte) *big.Int {
	n := new(big.Int).SetBytes(b)
	return n.Mod(n, ecc.BN254.ScalarField())
}
