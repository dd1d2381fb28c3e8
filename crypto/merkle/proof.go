package merkle

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
)

const (
	// MaxProofDepth bounds the number of nodes in one proof path. A secure
	// trie key is 64 nibbles long, so no honest path is longer.
	MaxProofDepth = 64

	// MaxNodeSize bounds a single encoded trie node. A full branch node
	// with 16 hash references and a value is well below this.
	MaxNodeSize = 4096

	branchArity    = 17
	shortNodeArity = 2
)

var (
	// ErrEmptyProof is returned for a proof without nodes.
	ErrEmptyProof = errors.New("empty proof")
	// ErrRootMismatch is returned when the first proof node does not hash to
	// the trusted root.
	ErrRootMismatch = errors.New("proof does not start at the trusted root")
	// ErrValueMismatch is returned when the proof is valid but proves a
	// different value for the key.
	ErrValueMismatch = errors.New("proven value does not match")
)

// ErrMalformedProof means a proof node is structurally invalid.
type ErrMalformedProof struct {
	Index  int
	Reason error
}

func (e ErrMalformedProof) Error() string {
	return fmt.Sprintf("malformed proof node #%d: %v", e.Index, e.Reason)
}

func (e ErrMalformedProof) Unwrap() error { return e.Reason }

// ErrInvalidPath means the nodes are well formed but do not link the root
// to the key.
type ErrInvalidPath struct {
	Reason error
}

func (e ErrInvalidPath) Error() string {
	return fmt.Sprintf("invalid proof path: %v", e.Reason)
}

func (e ErrInvalidPath) Unwrap() error { return e.Reason }

// VerifyInclusion reports whether proof shows that key maps to value in the
// Merkle-Patricia trie committed to by root. An empty value asks for a proof
// of absence.
//
// It is deterministic and never panics on malformed input.
func VerifyInclusion(root common.Hash, key, value []byte, proof [][]byte) bool {
	return VerifyInclusionErr(root, key, value, proof) == nil
}

// VerifyInclusionErr is VerifyInclusion returning the reason of a failure.
func VerifyInclusionErr(root common.Hash, key, value []byte, proof [][]byte) error {
	got, err := ProvenValue(root, key, proof)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, value) {
		return ErrValueMismatch
	}
	return nil
}

// ProvenValue walks proof from root along key and returns the value stored at
// key, or nil when the proof shows the key is absent.
func ProvenValue(root common.Hash, key []byte, proof [][]byte) ([]byte, error) {
	if len(proof) == 0 {
		return nil, ErrEmptyProof
	}
	if len(proof) > MaxProofDepth {
		return nil, ErrMalformedProof{
			Index:  MaxProofDepth,
			Reason: fmt.Errorf("proof has %d nodes, limit is %d", len(proof), MaxProofDepth),
		}
	}

	db := &readTracker{KeyValueStore: memorydb.New(), read: make(map[string]struct{}, len(proof))}
	index := make(map[string]int, len(proof))
	for i, node := range proof {
		if err := checkNode(node); err != nil {
			return nil, ErrMalformedProof{Index: i, Reason: err}
		}
		h := crypto.Keccak256(node)
		if j, ok := index[string(h)]; ok {
			return nil, ErrMalformedProof{Index: i, Reason: fmt.Errorf("duplicate of node #%d", j)}
		}
		index[string(h)] = i
		if err := db.Put(h, node); err != nil {
			return nil, err
		}
	}
	if crypto.Keccak256Hash(proof[0]) != root {
		return nil, ErrRootMismatch
	}

	value, err := trie.VerifyProof(root, key, db)
	if err != nil {
		return nil, ErrInvalidPath{Reason: err}
	}
	for i, node := range proof {
		if _, ok := db.read[string(crypto.Keccak256(node))]; !ok {
			return nil, ErrMalformedProof{Index: i, Reason: errors.New("node is not on the path to the key")}
		}
	}
	return value, nil
}

// readTracker records the keys looked up during proof verification.
type readTracker struct {
	ethdb.KeyValueStore
	read map[string]struct{}
}

func (r *readTracker) Get(key []byte) ([]byte, error) {
	r.read[string(key)] = struct{}{}
	return r.KeyValueStore.Get(key)
}

// checkNode accepts only RLP lists with the arity of a branch (17) or a
// short/leaf/extension node (2).
func checkNode(node []byte) error {
	if len(node) == 0 {
		return errors.New("empty node")
	}
	if len(node) > MaxNodeSize {
		return fmt.Errorf("node is %d bytes, limit is %d", len(node), MaxNodeSize)
	}
	content, rest, err := rlp.SplitList(node)
	if err != nil {
		return fmt.Errorf("not an RLP list: %w", err)
	}
	if len(rest) != 0 {
		return fmt.Errorf("%d trailing bytes", len(rest))
	}
	n, err := rlp.CountValues(content)
	if err != nil {
		return err
	}
	if n != branchArity && n != shortNodeArity {
		return fmt.Errorf("node has %d items, want %d or %d", n, shortNodeArity, branchArity)
	}
	return nil
}
