package memchain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakelight/stakelight/oracle"
)

var contract = common.HexToAddress("0x1000000000000000000000000000000000000001")

func slot(i int64) common.Hash { return common.BigToHash(big.NewInt(i)) }

func TestChainHeaders(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.EqualValues(t, 0, c.BlockNumber())

	h1 := c.Commit()
	h2 := c.Commit()
	assert.EqualValues(t, 2, c.BlockNumber())
	assert.Equal(t, h1.Hash(), h2.ParentHash)

	got, err := c.Header(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, h1.Hash(), got.Hash())

	_, err = c.Header(ctx, 3)
	assert.ErrorIs(t, err, oracle.ErrBlockNotFound)

	latest, err := c.LatestHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, h2.Hash(), latest.Hash())
}

func TestChainFinalityDepth(t *testing.T) {
	c := New(WithFinalityDepth(2))
	latest, err := c.LatestHeader(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, latest.Number.Uint64())

	c.Mine(5)
	latest, err = c.LatestHeader(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, latest.Number.Uint64())
}

func TestChainStorageProof(t *testing.T) {
	ctx := context.Background()
	c := New()
	c.SetStorage(contract, slot(0), slot(3))
	c.SetStorage(contract, slot(1), common.HexToHash("0xdeadbeef"))
	h := c.Commit()

	c.SetStorage(contract, slot(0), slot(4))
	h2 := c.Commit()

	slots := []common.Hash{slot(0), slot(1), slot(9)}
	res, err := c.StorageProof(ctx, contract, slots, h.Number.Uint64())
	require.NoError(t, err)
	words, err := res.Verify(h.Root, slots)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{slot(3), common.HexToHash("0xdeadbeef"), {}}, words)

	// a proof from block 1 does not verify under block 2
	_, err = res.Verify(h2.Root, slots)
	assert.Error(t, err)

	res2, err := c.StorageProof(ctx, contract, slots[:1], h2.Number.Uint64())
	require.NoError(t, err)
	words, err = res2.Verify(h2.Root, slots[:1])
	require.NoError(t, err)
	assert.Equal(t, slot(4), words[0])

	proof, err := res2.StateProof(h2, 0)
	require.NoError(t, err)
	_, err = proof.VerifyAnchored(h2.Number.Uint64(), h2.Hash())
	require.NoError(t, err)
}

func TestChainUnavailable(t *testing.T) {
	ctx := context.Background()
	c := New()
	c.SetUnavailable(true)

	_, err := c.LatestHeader(ctx)
	assert.ErrorIs(t, err, oracle.ErrNoResponse)
	_, err = c.Header(ctx, 0)
	assert.ErrorIs(t, err, oracle.ErrNoResponse)
	_, err = c.StorageProof(ctx, contract, nil, 0)
	assert.ErrorIs(t, err, oracle.ErrNoResponse)

	c.SetUnavailable(false)
	_, err = c.Header(ctx, 0)
	assert.NoError(t, err)
}

func TestChainReplaceStorage(t *testing.T) {
	ctx := context.Background()
	c := New()
	c.SetStorageSlots(contract, map[common.Hash]common.Hash{slot(0): slot(1), slot(1): slot(1)})
	c.Commit()
	c.ReplaceStorage(contract, map[common.Hash]common.Hash{slot(0): slot(2)})
	h := c.Commit()

	slots := []common.Hash{slot(0), slot(1)}
	res, err := c.StorageProof(ctx, contract, slots, h.Number.Uint64())
	require.NoError(t, err)
	words, err := res.Verify(h.Root, slots)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{slot(2), {}}, words)
}
