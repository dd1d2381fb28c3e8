package merkle

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// ErrAccountNotFound is returned when the account proof shows the contract
// does not exist under the state root.
var ErrAccountNotFound = errors.New("account not found")

// StateProof proves the value of one storage slot of one contract at one
// block. It is the inclusion proof carried by attestations.
//
// Header is the RLP-encoded block header; its keccak256 is the block hash.
// The account proof is anchored to the header's state root, the storage proof
// to the account's storage root.
type StateProof struct {
	Header       []byte
	Contract     common.Address
	AccountProof [][]byte
	Slot         common.Hash
	// Value is the big-endian slot value with leading zeros removed; empty
	// for a zero slot.
	Value        []byte
	StorageProof [][]byte
}

// Encode returns the canonical RLP encoding of the proof.
func (p *StateProof) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(p)
}

// DecodeStateProof decodes a proof produced by Encode.
func DecodeStateProof(bz []byte) (*StateProof, error) {
	var p StateProof
	if err := rlp.DecodeBytes(bz, &p); err != nil {
		return nil, fmt.Errorf("decoding state proof: %w", err)
	}
	return &p, nil
}

// BlockHeader decodes the header carried by the proof.
func (p *StateProof) BlockHeader() (*ethtypes.Header, error) {
	var h ethtypes.Header
	if err := rlp.DecodeBytes(p.Header, &h); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	return &h, nil
}

// VerifyAnchored checks that the carried header is the block (number, hash)
// and that the storage value is proven under its state root. It returns the
// decoded header.
func (p *StateProof) VerifyAnchored(number uint64, hash common.Hash) (*ethtypes.Header, error) {
	if got := crypto.Keccak256Hash(p.Header); got != hash {
		return nil, fmt.Errorf("header hashes to %v, attested block hash is %v", got, hash)
	}
	header, err := p.BlockHeader()
	if err != nil {
		return nil, err
	}
	if header.Number == nil || !header.Number.IsUint64() || header.Number.Uint64() != number {
		return nil, fmt.Errorf("header is block %v, want %d", header.Number, number)
	}
	if err := p.Verify(header.Root); err != nil {
		return nil, err
	}
	return header, nil
}

// Verify checks the account proof against stateRoot and the storage proof
// against the proven account's storage root.
func (p *StateProof) Verify(stateRoot common.Hash) error {
	account, err := VerifyAccount(stateRoot, p.Contract, p.AccountProof)
	if err != nil {
		return fmt.Errorf("account proof: %w", err)
	}
	if err := VerifyStorage(account.Root, p.Slot, p.Value, p.StorageProof); err != nil {
		return fmt.Errorf("storage proof for slot %v: %w", p.Slot, err)
	}
	return nil
}

// VerifyAccount proves the account of addr under stateRoot and returns it.
func VerifyAccount(stateRoot common.Hash, addr common.Address, proof [][]byte) (*ethtypes.StateAccount, error) {
	enc, err := ProvenValue(stateRoot, crypto.Keccak256(addr.Bytes()), proof)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, ErrAccountNotFound
	}
	var account ethtypes.StateAccount
	if err := rlp.DecodeBytes(enc, &account); err != nil {
		return nil, fmt.Errorf("decoding account: %w", err)
	}
	return &account, nil
}

// VerifyStorage proves that slot holds value under storageRoot. value is the
// trimmed big-endian slot content; an empty value proves a zero slot.
func VerifyStorage(storageRoot common.Hash, slot common.Hash, value []byte, proof [][]byte) error {
	if len(value) > 0 && value[0] == 0 {
		return errors.New("slot value has leading zeros")
	}
	if storageRoot == ethtypes.EmptyRootHash && len(proof) == 0 {
		if len(value) != 0 {
			return ErrValueMismatch
		}
		return nil
	}

	var encoded []byte
	if len(value) > 0 {
		var err error
		if encoded, err = rlp.EncodeToBytes(value); err != nil {
			return err
		}
	}
	return VerifyInclusionErr(storageRoot, crypto.Keccak256(slot.Bytes()), encoded, proof)
}

// SlotValue trims a 32-byte storage word to the form stored in the trie.
func SlotValue(word common.Hash) []byte {
	return common.TrimLeftZeroes(word.Bytes())
}

// SlotWord expands a trimmed slot value back to a 32-byte word.
func SlotWord(value []byte) common.Hash {
	return common.BytesToHash(value)
}

// Equal reports whether both proofs have identical encodings.
func (p *StateProof) Equal(o *StateProof) bool {
	a, errA := p.Encode()
	b, errB := o.Encode()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}
