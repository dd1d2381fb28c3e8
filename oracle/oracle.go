// Package oracle defines the chain oracle: the component that serves block
// headers and Merkle proofs of contract storage. Light clients, providers and
// watchers all read the chain through it.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/stakelight/stakelight/crypto/merkle"
)

var (
	// ErrBlockNotFound is returned when the oracle has no block with the
	// requested number.
	ErrBlockNotFound = errors.New("block not found")
	// ErrNoResponse is returned when the oracle could not be reached.
	ErrNoResponse = errors.New("oracle failed to respond")
)

// Oracle serves headers and storage proofs. Implementations must be safe for
// concurrent use.
type Oracle interface {
	// Header returns the header of block number.
	//
	// If there is no such block, ErrBlockNotFound is returned.
	Header(ctx context.Context, number uint64) (*ethtypes.Header, error)

	// LatestHeader returns the most recent header the oracle considers
	// final.
	LatestHeader(ctx context.Context) (*ethtypes.Header, error)

	// StorageProof returns the account proof of contract and the storage
	// proofs of slots at block number.
	StorageProof(ctx context.Context, contract common.Address, slots []common.Hash, number uint64) (*AccountResult, error)
}

// AccountResult is a contract account with storage proofs, in the shape of
// the eth_getProof response.
type AccountResult struct {
	Address      common.Address
	AccountProof [][]byte
	StorageHash  common.Hash
	Storage      []StorageResult
}

// StorageResult is the proof of a single storage slot.
type StorageResult struct {
	Slot common.Hash
	// Value is trimmed of leading zeros.
	Value []byte
	Proof [][]byte
}

// Word returns the value as a 32-byte word.
func (s StorageResult) Word() common.Hash {
	return merkle.SlotWord(s.Value)
}

// StateProof assembles the proof of the i-th slot, anchored to header.
func (r *AccountResult) StateProof(header *ethtypes.Header, i int) (*merkle.StateProof, error) {
	if i < 0 || i >= len(r.Storage) {
		return nil, fmt.Errorf("slot index %d out of range [0, %d)", i, len(r.Storage))
	}
	enc, err := rlp.EncodeToBytes(header)
	if err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}
	s := r.Storage[i]
	return &merkle.StateProof{
		Header:       enc,
		Contract:     r.Address,
		AccountProof: r.AccountProof,
		Slot:         s.Slot,
		Value:        s.Value,
		StorageProof: s.Proof,
	}, nil
}

// Verify checks the account proof against stateRoot and every storage proof
// against the proven storage root, and returns the proven slot words in the
// order they were requested.
func (r *AccountResult) Verify(stateRoot common.Hash, slots []common.Hash) ([]common.Hash, error) {
	if len(r.Storage) != len(slots) {
		return nil, fmt.Errorf("got %d storage proofs, requested %d", len(r.Storage), len(slots))
	}
	account, err := merkle.VerifyAccount(stateRoot, r.Address, r.AccountProof)
	if err != nil {
		return nil, fmt.Errorf("account proof: %w", err)
	}
	words := make([]common.Hash, len(slots))
	for i, s := range r.Storage {
		if s.Slot != slots[i] {
			return nil, fmt.Errorf("storage proof #%d is for slot %v, requested %v", i, s.Slot, slots[i])
		}
		if err := merkle.VerifyStorage(account.Root, s.Slot, s.Value, s.Proof); err != nil {
			return nil, fmt.Errorf("storage proof for slot %v: %w", s.Slot, err)
		}
		words[i] = s.Word()
	}
	return words, nil
}
