package merkle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testTrie(t require.TestingT, n int) (*trie.Trie, map[string][]byte) {
	tr := NewTrie()
	entries := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		key := crypto.Keccak256([]byte(fmt.Sprintf("key-%d", i)))
		value := []byte(fmt.Sprintf("value-%d", i))
		require.NoError(t, tr.Update(key, value))
		entries[string(key)] = value
	}
	return tr, entries
}

func TestVerifyInclusion(t *testing.T) {
	tr, entries := testTrie(t, 50)
	root := tr.Hash()

	for k, v := range entries {
		proof, err := Prove(tr, []byte(k))
		require.NoError(t, err)
		require.NotEmpty(t, proof)

		assert.True(t, VerifyInclusion(root, []byte(k), v, proof))
		assert.False(t, VerifyInclusion(root, []byte(k), []byte("other"), proof))
		assert.False(t, VerifyInclusion(common.Hash{0x01}, []byte(k), v, proof))
	}
}

func TestVerifyInclusionAbsence(t *testing.T) {
	tr, _ := testTrie(t, 20)
	root := tr.Hash()
	missing := crypto.Keccak256([]byte("missing"))

	proof, err := Prove(tr, missing)
	require.NoError(t, err)

	assert.True(t, VerifyInclusion(root, missing, nil, proof))
	assert.False(t, VerifyInclusion(root, missing, []byte("value-1"), proof))
}

func TestVerifyInclusionErrors(t *testing.T) {
	tr, entries := testTrie(t, 10)
	root := tr.Hash()
	var (
		key   []byte
		value []byte
	)
	for k, v := range entries {
		key, value = []byte(k), v
		break
	}
	proof, err := Prove(tr, key)
	require.NoError(t, err)

	err = VerifyInclusionErr(root, key, value, nil)
	assert.ErrorIs(t, err, ErrEmptyProof)

	err = VerifyInclusionErr(common.Hash{0xaa}, key, value, proof)
	assert.ErrorIs(t, err, ErrRootMismatch)

	err = VerifyInclusionErr(root, key, []byte("x"), proof)
	assert.ErrorIs(t, err, ErrValueMismatch)

	deep := make([][]byte, MaxProofDepth+1)
	for i := range deep {
		deep[i] = proof[0]
	}
	var malformed ErrMalformedProof
	err = VerifyInclusionErr(root, key, value, deep)
	assert.True(t, errors.As(err, &malformed))

	notList, err := rlp.EncodeToBytes([]byte("not a list"))
	require.NoError(t, err)
	err = VerifyInclusionErr(root, key, value, append([][]byte{notList}, proof...))
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 0, malformed.Index)

	threeItems, err := rlp.EncodeToBytes([][]byte{{1}, {2}, {3}})
	require.NoError(t, err)
	err = VerifyInclusionErr(root, key, value, [][]byte{proof[0], threeItems})
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 1, malformed.Index)

	if len(proof) > 1 {
		var invalid ErrInvalidPath
		err = VerifyInclusionErr(root, key, value, proof[:1])
		assert.True(t, errors.As(err, &invalid))
	}
}

func TestVerifyInclusionRejectsExtraNodes(t *testing.T) {
	tr, entries := testTrie(t, 50)
	root := tr.Hash()

	unused, err := rlp.EncodeToBytes([][]byte{{0x01}, {0x02}})
	require.NoError(t, err)

	for k, v := range entries {
		key := []byte(k)
		proof, err := Prove(tr, key)
		require.NoError(t, err)
		require.True(t, VerifyInclusion(root, key, v, proof))

		var malformed ErrMalformedProof

		padded := append(append([][]byte{}, proof...), unused)
		err = VerifyInclusionErr(root, key, v, padded)
		require.True(t, errors.As(err, &malformed), "padded proof: %v", err)
		assert.Equal(t, len(proof), malformed.Index)

		duplicated := append(append([][]byte{}, proof...), proof[len(proof)-1])
		err = VerifyInclusionErr(root, key, v, duplicated)
		require.True(t, errors.As(err, &malformed), "duplicated node: %v", err)
		assert.Equal(t, len(proof), malformed.Index)

		missing := crypto.Keccak256([]byte("missing"))
		other, err := Prove(tr, missing)
		require.NoError(t, err)
		assert.False(t, VerifyInclusion(root, key, v, append(append([][]byte{}, proof...), other[len(other)-1])))
	}
}

func TestVerifyInclusionCorruption(t *testing.T) {
	tr, entries := testTrie(t, 64)
	root := tr.Hash()
	keys := make([][]byte, 0, len(entries))
	for k := range entries {
		keys = append(keys, []byte(k))
	}

	rapid.Check(t, func(t *rapid.T) {
		key := keys[rapid.IntRange(0, len(keys)-1).Draw(t, "key").(int)]
		value := entries[string(key)]
		proof, err := Prove(tr, key)
		require.NoError(t, err)

		corrupted := make([][]byte, len(proof))
		for i := range proof {
			corrupted[i] = common.CopyBytes(proof[i])
		}
		node := rapid.IntRange(0, len(proof)-1).Draw(t, "node").(int)
		bit := rapid.IntRange(0, len(proof[node])*8-1).Draw(t, "bit").(int)
		corrupted[node][bit/8] ^= 1 << (bit % 8)

		require.False(t, VerifyInclusion(root, key, value, corrupted))
		require.True(t, VerifyInclusion(root, key, value, proof))
	})
}

func TestVerifyInclusionValueCorruption(t *testing.T) {
	tr, entries := testTrie(t, 16)
	root := tr.Hash()

	rapid.Check(t, func(t *rapid.T) {
		for k, v := range entries {
			proof, err := Prove(tr, []byte(k))
			require.NoError(t, err)

			flipped := common.CopyBytes(v)
			bit := rapid.IntRange(0, len(v)*8-1).Draw(t, "bit").(int)
			flipped[bit/8] ^= 1 << (bit % 8)
			require.False(t, VerifyInclusion(root, []byte(k), flipped, proof))
			return
		}
	})
}

func TestVerifyInclusionArbitraryInput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nodes := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 0, 600), 0, 8).Draw(t, "proof").([][]byte)
		key := rapid.SliceOfN(rapid.Byte(), 0, 40).Draw(t, "key").([]byte)
		value := rapid.SliceOfN(rapid.Byte(), 0, 40).Draw(t, "value").([]byte)

		root := common.Hash{}
		if len(nodes) > 0 {
			root = crypto.Keccak256Hash(nodes[0])
		}
		// must terminate without panicking
		_ = VerifyInclusion(root, key, value, nodes)
	})
}
