package registry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakelight/stakelight/types"
)

// Registry contract storage layout.
//
// Slot 0 holds the number of providers n. Provider i, in registration order,
// occupies SlotsPerProvider consecutive slots starting at 1 + i*SlotsPerProvider:
//
//	+0  address, right-aligned
//	+1  stake
//	+2  locked stake
//	+3  meta: isActive (1) | isLeaving (1) | leavingSinceBlock (8) | port (2), right-aligned
//	+4  hostname, left-aligned and zero-padded
const (
	SlotsPerProvider = 5

	// MaxProviders bounds the provider count read from storage.
	MaxProviders = 4096
)

const (
	fieldAddress = iota
	fieldStake
	fieldLockedStake
	fieldMeta
	fieldHostname
)

// CountSlot holds the number of providers.
var CountSlot = common.Hash{}

// ProviderSlot returns the storage slot of field of provider i.
func ProviderSlot(i, field int) common.Hash {
	return common.BigToHash(big.NewInt(int64(1 + i*SlotsPerProvider + field)))
}

// ProviderSlots returns the slots of the first n providers, in order.
func ProviderSlots(n int) []common.Hash {
	slots := make([]common.Hash, 0, n*SlotsPerProvider)
	for i := 0; i < n; i++ {
		for f := 0; f < SlotsPerProvider; f++ {
			slots = append(slots, ProviderSlot(i, f))
		}
	}
	return slots
}

// EncodeProviderSlots lays records out in storage. Zero words are included
// so the result fully determines the slots it covers.
func EncodeProviderSlots(records []*types.ProviderRecord) (map[common.Hash]common.Hash, error) {
	if len(records) > MaxProviders {
		return nil, fmt.Errorf("too many providers (%d > %d)", len(records), MaxProviders)
	}
	slots := make(map[common.Hash]common.Hash, 1+len(records)*SlotsPerProvider)
	slots[CountSlot] = common.BigToHash(big.NewInt(int64(len(records))))
	for i, rec := range records {
		if err := rec.ValidateBasic(); err != nil {
			return nil, fmt.Errorf("provider #%d: %w", i, err)
		}
		slots[ProviderSlot(i, fieldAddress)] = common.BytesToHash(rec.Address.Bytes())
		slots[ProviderSlot(i, fieldStake)] = rec.Stake.Bytes32()
		slots[ProviderSlot(i, fieldLockedStake)] = rec.LockedStake.Bytes32()
		slots[ProviderSlot(i, fieldMeta)] = encodeMeta(rec)

		var host common.Hash
		copy(host[:], rec.Hostname)
		slots[ProviderSlot(i, fieldHostname)] = host
	}
	return slots, nil
}

func encodeMeta(rec *types.ProviderRecord) common.Hash {
	var w common.Hash
	if rec.IsActive {
		w[20] = 1
	}
	if rec.IsLeaving {
		w[21] = 1
	}
	binary.BigEndian.PutUint64(w[22:30], rec.LeavingSinceBlock)
	binary.BigEndian.PutUint16(w[30:32], rec.Port)
	return w
}

// DecodeProviderCount decodes the count slot.
func DecodeProviderCount(w common.Hash) (int, error) {
	n := new(uint256.Int).SetBytes32(w[:])
	if !n.IsUint64() || n.Uint64() > MaxProviders {
		return 0, fmt.Errorf("provider count %v exceeds %d", n, MaxProviders)
	}
	return int(n.Uint64()), nil
}

// DecodeProviderSlots is the inverse of EncodeProviderSlots over the provider
// slots: words must hold the values of ProviderSlots(n), in order.
func DecodeProviderSlots(words []common.Hash) ([]*types.ProviderRecord, error) {
	if len(words)%SlotsPerProvider != 0 {
		return nil, fmt.Errorf("got %d words, want a multiple of %d", len(words), SlotsPerProvider)
	}
	records := make([]*types.ProviderRecord, 0, len(words)/SlotsPerProvider)
	for i := 0; i < len(words); i += SlotsPerProvider {
		rec, err := decodeProvider(words[i : i+SlotsPerProvider])
		if err != nil {
			return nil, fmt.Errorf("provider #%d: %w", i/SlotsPerProvider, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeProvider(w []common.Hash) (*types.ProviderRecord, error) {
	addrWord := w[fieldAddress]
	if !allZero(addrWord[:common.HashLength-common.AddressLength]) {
		return nil, errors.New("address word has non-zero high bytes")
	}
	meta := w[fieldMeta]
	if !allZero(meta[:20]) {
		return nil, errors.New("meta word has non-zero high bytes")
	}
	if meta[20] > 1 || meta[21] > 1 {
		return nil, errors.New("meta flags must be 0 or 1")
	}
	host := w[fieldHostname]
	hostname := string(bytes.TrimRight(host[:], "\x00"))

	rec := &types.ProviderRecord{
		Address:           common.BytesToAddress(addrWord[:]),
		Hostname:          hostname,
		Port:              binary.BigEndian.Uint16(meta[30:32]),
		Stake:             new(uint256.Int).SetBytes32(w[fieldStake][:]),
		LockedStake:       new(uint256.Int).SetBytes32(w[fieldLockedStake][:]),
		IsActive:          meta[20] == 1,
		IsLeaving:         meta[21] == 1,
		LeavingSinceBlock: binary.BigEndian.Uint64(meta[22:30]),
	}
	if err := rec.ValidateBasic(); err != nil {
		return nil, err
	}
	return rec, nil
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
