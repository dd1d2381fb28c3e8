package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// StateKey names one storage slot of one contract. It is the unit of state a
// light client asks providers for.
type StateKey struct {
	Contract common.Address `json:"contract"`
	Slot     common.Hash    `json:"slot"`
}

// NewStateKey returns the key for slot of contract.
func NewStateKey(contract common.Address, slot common.Hash) StateKey {
	return StateKey{Contract: contract, Slot: slot}
}

// ParseStateKey parses the "<contract>/<slot>" form produced by String.
func ParseStateKey(s string) (StateKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return StateKey{}, fmt.Errorf("state key %q: want <contract>/<slot>", s)
	}
	if !common.IsHexAddress(parts[0]) {
		return StateKey{}, fmt.Errorf("state key %q: bad contract address", s)
	}
	slot := strings.TrimPrefix(parts[1], "0x")
	if len(slot) == 0 || len(slot) > 2*common.HashLength {
		return StateKey{}, fmt.Errorf("state key %q: bad slot", s)
	}
	if len(slot)%2 == 1 {
		slot = "0" + slot
	}
	if _, err := hex.DecodeString(slot); err != nil {
		return StateKey{}, fmt.Errorf("state key %q: bad slot: %w", s, err)
	}
	return StateKey{
		Contract: common.HexToAddress(parts[0]),
		Slot:     common.HexToHash(slot),
	}, nil
}

// TrieKey is the secure-trie key of the slot inside the contract's storage
// trie.
func (k StateKey) TrieKey() []byte {
	return crypto.Keccak256(k.Slot.Bytes())
}

func (k StateKey) String() string {
	return k.Contract.Hex() + "/" + k.Slot.Hex()
}
