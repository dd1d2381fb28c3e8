package registry

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/stakelight/stakelight/types"
)

func TestProviderSlot(t *testing.T) {
	assert.Equal(t, common.BigToHash(big.NewInt(1)), ProviderSlot(0, fieldAddress))
	assert.Equal(t, common.BigToHash(big.NewInt(5)), ProviderSlot(0, fieldHostname))
	assert.Equal(t, common.BigToHash(big.NewInt(6)), ProviderSlot(1, fieldAddress))
	assert.Len(t, ProviderSlots(3), 15)
	assert.Empty(t, ProviderSlots(0))
}

func TestEncodeProviderSlots(t *testing.T) {
	rec := types.NewProviderRecord(common.HexToAddress("0x00000000000000000000000000000000000000ff"), "dp.example", 443, uint256.NewInt(7))
	rec.LockedStake = uint256.NewInt(3)
	rec.IsLeaving = true
	rec.LeavingSinceBlock = 0x0102

	slots, err := EncodeProviderSlots([]*types.ProviderRecord{rec})
	require.NoError(t, err)
	assert.Len(t, slots, 6)

	assert.Equal(t, common.BigToHash(big.NewInt(1)), slots[CountSlot])
	assert.Equal(t, common.HexToHash("0xff"), slots[ProviderSlot(0, fieldAddress)])
	assert.Equal(t, common.HexToHash("0x07"), slots[ProviderSlot(0, fieldStake)])
	assert.Equal(t, common.HexToHash("0x03"), slots[ProviderSlot(0, fieldLockedStake)])
	assert.Equal(t, common.HexToHash("0x0101000000000000010201bb"), slots[ProviderSlot(0, fieldMeta)])

	host := slots[ProviderSlot(0, fieldHostname)]
	assert.Equal(t, []byte("dp.example"), host[:10])
	assert.Equal(t, make([]byte, 22), host[10:])
}

func TestEncodeProviderSlotsInvalid(t *testing.T) {
	rec := types.NewProviderRecord(common.Address{1}, "dp", 1, uint256.NewInt(1))
	rec.LockedStake = uint256.NewInt(2)
	_, err := EncodeProviderSlots([]*types.ProviderRecord{rec})
	assert.Error(t, err)
}

func TestDecodeProviderSlotsInvalid(t *testing.T) {
	good, err := EncodeProviderSlots([]*types.ProviderRecord{
		types.NewProviderRecord(common.Address{1}, "dp", 1, uint256.NewInt(1)),
	})
	require.NoError(t, err)
	words := make([]common.Hash, SlotsPerProvider)
	for i, s := range ProviderSlots(1) {
		words[i] = good[s]
	}

	_, err = DecodeProviderSlots(words[:4])
	assert.Error(t, err)

	testCases := map[string]func(w []common.Hash){
		"dirty address word": func(w []common.Hash) { w[fieldAddress][0] = 1 },
		"dirty meta word":    func(w []common.Hash) { w[fieldMeta][0] = 1 },
		"bad active flag":    func(w []common.Hash) { w[fieldMeta][20] = 2 },
		"bad leaving flag":   func(w []common.Hash) { w[fieldMeta][21] = 7 },
		"locked over stake":  func(w []common.Hash) { w[fieldLockedStake] = common.HexToHash("0x05") },
		"zero address":       func(w []common.Hash) { w[fieldAddress] = common.Hash{} },
	}
	for name, corrupt := range testCases {
		t.Run(name, func(t *testing.T) {
			cp := append([]common.Hash(nil), words...)
			corrupt(cp)
			_, err := DecodeProviderSlots(cp)
			assert.Error(t, err)
		})
	}
}

func TestDecodeProviderCount(t *testing.T) {
	n, err := DecodeProviderCount(common.BigToHash(big.NewInt(12)))
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = DecodeProviderCount(common.BigToHash(big.NewInt(MaxProviders + 1)))
	assert.Error(t, err)
	_, err = DecodeProviderCount(common.HexToHash("0xff00000000000000000000000000000000000000000000000000000000000001"))
	assert.Error(t, err)
}

func TestProviderSlotsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n").(int)
		records := make([]*types.ProviderRecord, n)
		for i := range records {
			addr := common.BytesToAddress(rapid.SliceOfN(rapid.Byte(), 20, 20).Draw(t, "addr").([]byte))
			if addr == (common.Address{}) {
				addr[19] = 1
			}
			host := rapid.StringMatching(`[a-z0-9.-]{0,32}`).Draw(t, "host").(string)
			stake := rapid.Uint64().Draw(t, "stake").(uint64)
			locked := rapid.Uint64Range(0, stake).Draw(t, "locked").(uint64)

			rec := types.NewProviderRecord(addr, host, uint16(rapid.IntRange(0, 65535).Draw(t, "port").(int)), uint256.NewInt(stake))
			rec.LockedStake = uint256.NewInt(locked)
			rec.IsActive = rapid.Bool().Draw(t, "active").(bool)
			rec.IsLeaving = rapid.Bool().Draw(t, "leaving").(bool)
			rec.LeavingSinceBlock = rapid.Uint64().Draw(t, "since").(uint64)
			records[i] = rec
		}

		slots, err := EncodeProviderSlots(records)
		require.NoError(t, err)
		count, err := DecodeProviderCount(slots[CountSlot])
		require.NoError(t, err)
		require.Equal(t, n, count)

		words := make([]common.Hash, 0, n*SlotsPerProvider)
		for _, s := range ProviderSlots(n) {
			words = append(words, slots[s])
		}
		decoded, err := DecodeProviderSlots(words)
		require.NoError(t, err)
		require.Len(t, decoded, n)
		for i := range records {
			require.Equal(t, records[i], decoded[i])
		}
	})
}
