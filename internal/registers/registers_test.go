package registers

import (
	"crypto/rand"
	"math/big"
	"testing"

	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestDecomposeReconstruct(t *testing.T) {
	shapes := []struct{ n, k int }{{64, 4}, {32, 8}, {86, 3}, {1, 256}, {255, 1}, {13, 20}}
	for _, shape := range shapes {
		modulus := new(big.Int).Lsh(big.NewInt(1), uint(shape.n*shape.k))
		for i := 0; i < 20; i++ {
			key, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 256))
			require.NoError(t, err)

			set, err := Decompose(key, shape.n, shape.k)
			require.NoError(t, err)
			require.Len(t, set.Limbs, shape.k)
			require.NoError(t, set.Validate(shape.n, shape.k))

			want := new(big.Int).Mod(key, modulus)
			require.Equal(t, 0, want.Cmp(set.Reconstruct()), "n=%d k=%d key=%s", shape.n, shape.k, key)
		}
	}
}

func TestDecomposeLimbOrder(t *testing.T) {
	// 0x0004_0003_0002_0001 split in 16 bit limbs is little-endian.
	key, _ := new(big.Int).SetString("0004000300020001", 16)
	set, err := Decompose(key, 16, 4)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3", "4"}, set.Strings())
}

func TestDecomposeMasksHighBits(t *testing.T) {
	key := new(big.Int).Lsh(big.NewInt(1), 256)
	key.Add(key, big.NewInt(7))
	set, err := Decompose(key, REGISTER_BITS, NUM_REGISTERS)
	require.NoError(t, err)
	require.Equal(t, int64(7), set.Reconstruct().Int64())
}

func TestDecomposeErrors(t *testing.T) {
	cases := []struct {
		name string
		key  *big.Int
		n, k int
	}{
		{"zero width", big.NewInt(1), 0, 4},
		{"negative width", big.NewInt(1), -8, 4},
		{"no registers", big.NewInt(1), 64, 0},
		{"negative key", big.NewInt(-1), 64, 4},
		{"nil key", nil, 64, 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decompose(c.key, c.n, c.k)
			require.ErrorIs(t, err, ErrInvalidRegisterWidth)
		})
	}
}

func TestDecomposeKey(t *testing.T) {
	key, err := eth_crypto.GenerateKey()
	require.NoError(t, err)

	set, err := DecomposeKey(key)
	require.NoError(t, err)
	require.Equal(t, REGISTER_BITS, set.Bits)
	require.Equal(t, 0, key.D.Cmp(set.Reconstruct()))

	vars := set.Variables()
	for i, v := range vars {
		require.Equal(t, 0, set.Limbs[i].Cmp(v.(*big.Int)))
	}

	_, err = DecomposeKey(nil)
	require.ErrorIs(t, err, ErrInvalidRegisterWidth)
}

func TestValidate(t *testing.T) {
	set, err := Decompose(big.NewInt(5), REGISTER_BITS, NUM_REGISTERS)
	require.NoError(t, err)
	require.NoError(t, set.Validate(REGISTER_BITS, NUM_REGISTERS))
	require.ErrorIs(t, set.Validate(REGISTER_BITS, 3), ErrInvalidRegisterWidth)
	require.ErrorIs(t, set.Validate(32, NUM_REGISTERS), ErrInvalidRegisterWidth)

	set.Limbs[2] = new(big.Int).Lsh(big.NewInt(1), REGISTER_BITS)
	require.ErrorIs(t, set.Validate(REGISTER_BITS, NUM_REGISTERS), ErrInvalidRegisterWidth)
	set.Limbs[2] = nil
	require.ErrorIs(t, set.Validate(REGISTER_BITS, NUM_REGISTERS), ErrInvalidRegisterWidth)
}
