// Package memchain is an in-process chain that serves real headers and real
// Merkle-Patricia storage proofs. Tests and the devnet use it as their
// oracle.
package memchain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/stakelight/stakelight/crypto/merkle"
	"github.com/stakelight/stakelight/oracle"
)

const gasLimit = 30_000_000

type storage map[common.Address]map[common.Hash]common.Hash

func (s storage) copy() storage {
	out := make(storage, len(s))
	for addr, slots := range s {
		cp := make(map[common.Hash]common.Hash, len(slots))
		for k, v := range slots {
			cp[k] = v
		}
		out[addr] = cp
	}
	return out
}

type block struct {
	header *ethtypes.Header
	state  storage
}

// Chain is a sequence of blocks over contract storage. Storage writes are
// buffered and become visible in the next committed block.
type Chain struct {
	mtx         sync.RWMutex
	blocks      []block
	pending     storage
	unavailable bool
	depth       uint64
	now         func() time.Time
}

var _ oracle.Oracle = (*Chain)(nil)

// Option configures a Chain.
type Option func(*Chain)

// WithFinalityDepth makes LatestHeader lag the head by depth blocks.
func WithFinalityDepth(depth uint64) Option {
	return func(c *Chain) { c.depth = depth }
}

// WithClock sets the source of block timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// New returns a chain holding only the genesis block.
func New(options ...Option) *Chain {
	c := &Chain{
		pending: make(storage),
		now:     time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	c.commit()
	return c
}

// SetStorage schedules a write of word to slot of contract.
func (c *Chain) SetStorage(contract common.Address, slot, word common.Hash) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.setStorage(contract, slot, word)
}

// SetStorageSlots schedules a write of every slot in slots.
func (c *Chain) SetStorageSlots(contract common.Address, slots map[common.Hash]common.Hash) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for k, v := range slots {
		c.setStorage(contract, k, v)
	}
}

// ReplaceStorage schedules the storage of contract to become exactly slots.
func (c *Chain) ReplaceStorage(contract common.Address, slots map[common.Hash]common.Hash) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.pending, contract)
	for k, v := range slots {
		c.setStorage(contract, k, v)
	}
}

func (c *Chain) setStorage(contract common.Address, slot, word common.Hash) {
	slots, ok := c.pending[contract]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		c.pending[contract] = slots
	}
	if word == (common.Hash{}) {
		delete(slots, slot)
		return
	}
	slots[slot] = word
}

// Commit seals the pending storage into a new block and returns its header.
func (c *Chain) Commit() *ethtypes.Header {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return ethtypes.CopyHeader(c.commit())
}

// Mine commits n blocks.
func (c *Chain) Mine(n int) *ethtypes.Header {
	var h *ethtypes.Header
	for i := 0; i < n; i++ {
		h = c.Commit()
	}
	return h
}

func (c *Chain) commit() *ethtypes.Header {
	state := c.pending.copy()
	stateTrie, _, err := buildState(state)
	if err != nil {
		panic(fmt.Sprintf("memchain: building state: %v", err))
	}

	header := &ethtypes.Header{
		Number:      new(big.Int).SetUint64(uint64(len(c.blocks))),
		Root:        stateTrie.Hash(),
		UncleHash:   ethtypes.EmptyUncleHash,
		TxHash:      ethtypes.EmptyTxsHash,
		ReceiptHash: ethtypes.EmptyReceiptsHash,
		Difficulty:  big.NewInt(0),
		GasLimit:    gasLimit,
		Time:        uint64(c.now().Unix()),
	}
	if n := len(c.blocks); n > 0 {
		header.ParentHash = c.blocks[n-1].header.Hash()
	}
	c.blocks = append(c.blocks, block{header: header, state: state})
	return header
}

// BlockNumber returns the number of the head block.
func (c *Chain) BlockNumber() uint64 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return uint64(len(c.blocks) - 1)
}

// SetUnavailable makes every oracle call fail with oracle.ErrNoResponse.
func (c *Chain) SetUnavailable(unavailable bool) {
	c.mtx.Lock()
	c.unavailable = unavailable
	c.mtx.Unlock()
}

func (c *Chain) String() string { return "memchain" }

func (c *Chain) Header(ctx context.Context, number uint64) (*ethtypes.Header, error) {
	b, err := c.block(ctx, number)
	if err != nil {
		return nil, err
	}
	return ethtypes.CopyHeader(b.header), nil
}

func (c *Chain) LatestHeader(ctx context.Context) (*ethtypes.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if c.unavailable {
		return nil, oracle.ErrNoResponse
	}
	head := uint64(len(c.blocks) - 1)
	if c.depth > head {
		return ethtypes.CopyHeader(c.blocks[0].header), nil
	}
	return ethtypes.CopyHeader(c.blocks[head-c.depth].header), nil
}

func (c *Chain) StorageProof(
	ctx context.Context,
	contract common.Address,
	slots []common.Hash,
	number uint64,
) (*oracle.AccountResult, error) {
	b, err := c.block(ctx, number)
	if err != nil {
		return nil, err
	}

	stateTrie, storageTries, err := buildState(b.state)
	if err != nil {
		return nil, err
	}
	accountProof, err := merkle.Prove(stateTrie, crypto.Keccak256(contract.Bytes()))
	if err != nil {
		return nil, err
	}

	res := &oracle.AccountResult{
		Address:      contract,
		AccountProof: accountProof,
		StorageHash:  ethtypes.EmptyRootHash,
		Storage:      make([]oracle.StorageResult, len(slots)),
	}
	st, ok := storageTries[contract]
	if ok {
		res.StorageHash = st.Hash()
	}
	for i, slot := range slots {
		sr := oracle.StorageResult{Slot: slot}
		if ok {
			sr.Value = merkle.SlotValue(b.state[contract][slot])
			if sr.Proof, err = merkle.Prove(st, crypto.Keccak256(slot.Bytes())); err != nil {
				return nil, err
			}
		}
		res.Storage[i] = sr
	}
	return res, nil
}

func (c *Chain) block(ctx context.Context, number uint64) (block, error) {
	if err := ctx.Err(); err != nil {
		return block{}, err
	}
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if c.unavailable {
		return block{}, oracle.ErrNoResponse
	}
	if number >= uint64(len(c.blocks)) {
		return block{}, oracle.ErrBlockNotFound
	}
	return c.blocks[number], nil
}

// buildState rebuilds the state trie and the storage tries of s. Accounts
// without storage are left out of the state.
func buildState(s storage) (*trie.Trie, map[common.Address]*trie.Trie, error) {
	stateTrie := merkle.NewTrie()
	storageTries := make(map[common.Address]*trie.Trie, len(s))
	for addr, slots := range s {
		if len(slots) == 0 {
			continue
		}
		st := merkle.NewTrie()
		for slot, word := range slots {
			enc, err := rlp.EncodeToBytes(merkle.SlotValue(word))
			if err != nil {
				return nil, nil, err
			}
			if err := st.Update(crypto.Keccak256(slot.Bytes()), enc); err != nil {
				return nil, nil, err
			}
		}
		account := &ethtypes.StateAccount{
			Nonce:    1,
			Balance:  new(uint256.Int),
			Root:     st.Hash(),
			CodeHash: ethtypes.EmptyCodeHash.Bytes(),
		}
		enc, err := rlp.EncodeToBytes(account)
		if err != nil {
			return nil, nil, err
		}
		if err := stateTrie.Update(crypto.Keccak256(addr.Bytes()), enc); err != nil {
			return nil, nil, err
		}
		storageTries[addr] = st
	}
	return stateTrie, storageTries, nil
}
