package identity

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestDeriveScalar(t *testing.T) {
	addr, err := DeriveScalar(big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"), addr)

	key, err := eth_crypto.GenerateKey()
	require.NoError(t, err)
	addr, err = DeriveScalar(key.D)
	require.NoError(t, err)
	require.Equal(t, eth_crypto.PubkeyToAddress(key.PublicKey), addr)
	require.Equal(t, Derive(key), addr)
}

func TestDeriveScalarRejectsInvalidKeys(t *testing.T) {
	n := eth_crypto.S256().Params().N
	for _, k := range []*big.Int{nil, big.NewInt(0), big.NewInt(-3), n, new(big.Int).Lsh(big.NewInt(1), 256)} {
		_, err := DeriveScalar(k)
		require.Error(t, err, "%v", k)
	}
}

func TestCommit(t *testing.T) {
	a := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	b := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	require.Equal(t, Commit(a), Commit(a))
	require.NotEqual(t, Commit(a), Commit(b))

	key, err := eth_crypto.GenerateKey()
	require.NoError(t, err)
	require.Equal(t, Commit(Derive(key)), CommitKey(key))
}

func TestNullifier(t *testing.T) {
	limbs := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4)}
	msg := big.NewInt(99)

	base := Nullifier(limbs, 0, msg)
	require.Equal(t, base, Nullifier(limbs, 0, msg))
	require.NotEqual(t, base, Nullifier(limbs, 1, msg))
	require.NotEqual(t, base, Nullifier(limbs, 0, big.NewInt(100)))

	other := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(5)}
	require.NotEqual(t, base, Nullifier(other, 0, msg))
}

func TestNullifierAtFieldBoundary(t *testing.T) {
	top := new(big.Int).Sub(fr.Modulus(), big.NewInt(1))
	limbs := []*big.Int{top, top, fr.Modulus(), big.NewInt(0)}
	var n fr.Element
	require.NotPanics(t, func() { n = Nullifier(limbs, ^uint64(0), top) })
	require.False(t, n.IsZero())

	// limbs are reduced before hashing
	reduced := []*big.Int{top, top, big.NewInt(0), big.NewInt(0)}
	require.Equal(t, Nullifier(reduced, ^uint64(0), top), n)
}

func TestCommitmentSet(t *testing.T) {
	var set CommitmentSet
	for i := range set {
		set[i] = Commit(common.BigToAddress(big.NewInt(int64(i + 10))))
	}
	outsider := Commit(common.BigToAddress(big.NewInt(1)))

	require.True(t, set.Contains(set[1]))
	require.Equal(t, 2, set.Index(set[2]))
	require.False(t, set.Contains(outsider))
	require.Equal(t, -1, set.Index(outsider))

	parsed, err := ParseCommitmentSet(set.Strings())
	require.NoError(t, err)
	require.True(t, parsed.Equal(set))

	ints := set.BigInts()
	for i := range ints {
		var e fr.Element
		e.SetBigInt(ints[i])
		require.Equal(t, set[i], e)
	}
}

func TestParseCommitment(t *testing.T) {
	c, err := ParseCommitment(" 0x10 ")
	require.NoError(t, err)
	require.Equal(t, uint64(16), c.Uint64())

	for _, bad := range []string{"", "zz", "-1", fr.Modulus().String()} {
		_, err := ParseCommitment(bad)
		require.Error(t, err, bad)
	}

	_, err = ParseCommitmentSet([]string{"1", "2"})
	require.Error(t, err)
	_, err = ParseCommitmentSet([]string{"1", "2", "nope"})
	require.Error(t, err)
}
