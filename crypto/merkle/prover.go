package merkle

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
)

// ProofList collects proof nodes in the order a trie emits them, root first.
// It implements ethdb.KeyValueWriter so it can be passed to Trie.Prove.
type ProofList [][]byte

// Put appends value. The key, the node hash, is implied by the value.
func (l *ProofList) Put(_ []byte, value []byte) error {
	*l = append(*l, common.CopyBytes(value))
	return nil
}

// Delete is not supported.
func (l *ProofList) Delete([]byte) error {
	return errors.New("proof list is append only")
}

// NewTrie returns an empty in-memory Merkle-Patricia trie.
func NewTrie() *trie.Trie {
	return trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))
}

// Prove returns the proof of key in t.
func Prove(t *trie.Trie, key []byte) ([][]byte, error) {
	var proof ProofList
	if err := t.Prove(key, &proof); err != nil {
		return nil, err
	}
	return proof, nil
}
