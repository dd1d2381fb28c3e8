package light_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/stakelight/stakelight/dataprovider"
	"github.com/stakelight/stakelight/libs/log"
	"github.com/stakelight/stakelight/light"
	"github.com/stakelight/stakelight/light/provider"
	"github.com/stakelight/stakelight/light/provider/mock"
	"github.com/stakelight/stakelight/oracle"
	"github.com/stakelight/stakelight/oracle/memchain"
	"github.com/stakelight/stakelight/registry"
	"github.com/stakelight/stakelight/types"
	"github.com/stakelight/stakelight/watcher"
)

var (
	registryAddr = common.HexToAddress("0x5eed00000000000000000000000000000000beef")
	targetKey    = types.NewStateKey(common.HexToAddress("0xc0ffee0000000000000000000000000000000001"), common.Hash{31: 0x07})
	targetValue  = common.Hash{31: 0x2a}

	ether = registry.Ether
)

func stake(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), ether)
}

// testNetwork is a chain with a registry, staked data providers and a
// watcher, all in process.
type testNetwork struct {
	t       *testing.T
	chain   *memchain.Chain
	ledger  *registry.Ledger
	keys    []*ecdsa.PrivateKey
	faults  []mock.Fault
	delays  []time.Duration
	mocks   []*mock.Mock
	watcher *watcher.Watcher
}

func newTestNetwork(t *testing.T, stakes ...*uint256.Int) *testNetwork {
	t.Helper()
	return newTestNetworkWithChain(t, memchain.New(), stakes...)
}

func newTestNetworkWithChain(t *testing.T, chain *memchain.Chain, stakes ...*uint256.Int) *testNetwork {
	t.Helper()
	ctx := context.Background()
	chain.SetStorage(targetKey.Contract, targetKey.Slot, targetValue)

	ledger, err := registry.NewLedger(dbm.NewMemDB(), chain, registry.DefaultParams(), log.TestingLogger())
	require.NoError(t, err)

	n := &testNetwork{
		t:      t,
		chain:  chain,
		ledger: ledger,
		faults: make([]mock.Fault, len(stakes)),
		delays: make([]time.Duration, len(stakes)),
	}
	for _, amount := range stakes {
		n.register(ctx, amount)
	}
	n.publish(3)

	n.watcher = watcher.New(chain, ledger, ledger, watcher.NewJournal(dbm.NewMemDB()),
		watcher.Logger(log.TestingLogger()))
	return n
}

// register adds a provider; publish makes it visible on chain.
func (n *testNetwork) register(ctx context.Context, amount *uint256.Int) common.Address {
	key, err := crypto.GenerateKey()
	require.NoError(n.t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	host := fmt.Sprintf("p%d.example", len(n.keys))
	require.NoError(n.t, n.ledger.Register(ctx, addr, host, 8545, amount))
	n.keys = append(n.keys, key)
	if len(n.faults) < len(n.keys) {
		n.faults = append(n.faults, mock.Honest)
		n.delays = append(n.delays, 0)
	}
	return addr
}

// publish writes the registry into the chain and mines blocks on top.
func (n *testNetwork) publish(blocks int) {
	require.NoError(n.t, n.ledger.PublishTo(n.chain, registryAddr))
	n.chain.Mine(blocks)
}

func (n *testNetwork) address(i int) common.Address {
	return crypto.PubkeyToAddress(n.keys[i].PublicKey)
}

// factory dials the in-process provider of a directory record, applying the
// fault configured for it.
func (n *testNetwork) factory() light.ProviderFactory {
	return func(rec *types.ProviderRecord) (provider.Provider, error) {
		for i, key := range n.keys {
			if crypto.PubkeyToAddress(key.PublicKey) != rec.Address {
				continue
			}
			honest := dataprovider.New(key, n.chain, dataprovider.Logger(log.TestingLogger()))
			m := mock.New(honest, key, n.faults[i]).WithDelay(n.delays[i])
			n.mocks = append(n.mocks, m)
			return m, nil
		}
		return nil, errors.New("no such provider")
	}
}

func (n *testNetwork) client(minStake *uint256.Int, options ...light.Option) *light.Client {
	n.t.Helper()
	opts := []light.Option{
		light.Providers(n.factory()),
		light.AlertWindow(100 * time.Millisecond),
		light.ProviderTimeout(time.Second),
		light.Logger(log.TestingLogger()),
	}
	c, err := light.NewClient(registryAddr, n.chain, minStake, []light.Watcher{n.watcher}, append(opts, options...)...)
	require.NoError(n.t, err)
	return c
}

// stubWatcher answers checks with a fixed function.
type stubWatcher struct {
	name  string
	check func(ctx context.Context, att *types.BlockAttestation, provider common.Address) (*types.Alert, error)
	calls atomic.Int64
}

func (w *stubWatcher) Check(ctx context.Context, att *types.BlockAttestation, provider common.Address) (*types.Alert, error) {
	w.calls.Add(1)
	return w.check(ctx, att, provider)
}

func (w *stubWatcher) String() string { return w.name }

// tamperingOracle corrupts the value of the last slot of every storage
// proof for at least minSlots slots.
type tamperingOracle struct {
	*memchain.Chain
	minSlots int
}

func (o tamperingOracle) StorageProof(
	ctx context.Context,
	contract common.Address,
	slots []common.Hash,
	number uint64,
) (*oracle.AccountResult, error) {
	res, err := o.Chain.StorageProof(ctx, contract, slots, number)
	if err != nil || len(res.Storage) == 0 || len(slots) < o.minSlots {
		return res, err
	}
	last := &res.Storage[len(res.Storage)-1]
	if len(last.Value) == 0 {
		last.Value = []byte{0x01}
	} else {
		last.Value = common.CopyBytes(last.Value)
		last.Value[len(last.Value)-1] ^= 0x01
	}
	return res, nil
}

// laggingOracle reports a fixed block as the latest one.
type laggingOracle struct {
	*memchain.Chain
	latest atomic.Uint64
}

func (o *laggingOracle) LatestHeader(ctx context.Context) (*ethtypes.Header, error) {
	return o.Chain.Header(ctx, o.latest.Load())
}
