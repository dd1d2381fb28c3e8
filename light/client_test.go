package light_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/stakelight/stakelight/light"
	"github.com/stakelight/stakelight/light/provider/mock"
	dbs "github.com/stakelight/stakelight/light/store/db"
	"github.com/stakelight/stakelight/oracle/memchain"
	"github.com/stakelight/stakelight/types"
)

var ctx = context.Background()

func TestNewClientRequiresWatchers(t *testing.T) {
	chain := memchain.New()
	_, err := light.NewClient(registryAddr, chain, ether, nil)
	assert.ErrorIs(t, err, light.ErrNoWatchers)

	w := &stubWatcher{name: "w"}
	_, err = light.NewClient(registryAddr, chain, nil, []light.Watcher{w})
	assert.Error(t, err)
}

func TestBootstrap(t *testing.T) {
	n := newTestNetwork(t, stake(1), stake(2), stake(3))
	c := n.client(stake(2))

	dir, err := c.Bootstrap(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dir.Version())
	require.Equal(t, 3, dir.Size())

	records := dir.Records()
	for i, rec := range records {
		assert.Equal(t, n.address(i), rec.Address)
		assert.True(t, rec.Eligible())
	}
	assert.Equal(t, "p1.example:8545", records[1].Endpoint())
	assert.Equal(t, stake(3), records[2].Stake)

	head := c.TrustedHead()
	latest, err := n.chain.LatestHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest.Number.Uint64(), head.BlockNumber)
	assert.Equal(t, latest.Hash(), head.BlockHash)
	assert.Equal(t, latest.Root, head.StateRoot)
}

func TestBootstrapEmptyRegistry(t *testing.T) {
	n := newTestNetwork(t)
	c := n.client(stake(1))

	dir, err := c.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Zero(t, dir.Size())

	_, err = c.Query(ctx, 2, targetKey)
	var insufficient light.ErrInsufficientStake
	require.True(t, errors.As(err, &insufficient))
	assert.True(t, insufficient.Have.IsZero())
}

func TestBootstrapFiltersIneligibleProviders(t *testing.T) {
	n := newTestNetwork(t, stake(1), stake(1), stake(1))
	require.NoError(t, n.ledger.RequestWithdrawal(ctx, n.address(1)))
	n.publish(1)

	c := n.client(stake(1))
	dir, err := c.Bootstrap(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, dir.Size())
	_, ok := dir.Provider(n.address(1))
	assert.False(t, ok)
}

func TestBootstrapTamperedProof(t *testing.T) {
	testCases := []struct {
		name     string
		minSlots int
	}{
		{"count slot", 1},
		{"provider slot", 2},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n := newTestNetwork(t, stake(1), stake(1))

			c, err := light.NewClient(registryAddr, tamperingOracle{Chain: n.chain, minSlots: tc.minSlots}, stake(1),
				[]light.Watcher{n.watcher}, light.Providers(n.factory()))
			require.NoError(t, err)

			_, err = c.Bootstrap(ctx)
			var untrusted light.ErrUntrustedRoot
			require.True(t, errors.As(err, &untrusted), "got %v", err)
			assert.Zero(t, c.Directory().Size())
			assert.True(t, c.TrustedHead().IsZero())

			// a query cannot get past the failed bootstrap
			_, err = c.Query(ctx, 1, targetKey)
			assert.True(t, errors.As(err, &untrusted))
		})
	}
}

func TestBootstrapWrongAccount(t *testing.T) {
	n := newTestNetwork(t, stake(1))
	c, err := light.NewClient(common.Address{0x01}, n.chain, stake(1), []light.Watcher{n.watcher})
	require.NoError(t, err)

	// an address without storage proves an empty registry
	dir, err := c.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Zero(t, dir.Size())
}

func TestBootstrapHeadIsMonotonic(t *testing.T) {
	n := newTestNetwork(t, stake(1))
	o := &laggingOracle{Chain: n.chain}
	o.latest.Store(n.chain.BlockNumber())

	c, err := light.NewClient(registryAddr, o, stake(1), []light.Watcher{n.watcher})
	require.NoError(t, err)
	first, err := c.Bootstrap(ctx)
	require.NoError(t, err)
	head := c.TrustedHead()

	// a new provider shows up, but the oracle now reports an older block
	n.register(ctx, stake(1))
	n.publish(2)
	o.latest.Store(head.BlockNumber - 1)

	dir, err := c.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Same(t, first, dir)
	assert.Equal(t, head, c.TrustedHead())

	// moving forward picks up the new provider in a new snapshot
	o.latest.Store(n.chain.BlockNumber())
	dir, err = c.Bootstrap(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, dir.Version())
	assert.Equal(t, 2, dir.Size())
	assert.Greater(t, c.TrustedHead().BlockNumber, head.BlockNumber)

	// the old snapshot is untouched
	assert.Equal(t, 1, first.Size())
	assert.EqualValues(t, 1, first.Version())
}

func TestBootstrapPersistsTrustedState(t *testing.T) {
	n := newTestNetwork(t, stake(1), stake(2))
	trustedStore := dbs.New(dbm.NewMemDB())

	c := n.client(stake(1), light.TrustedStore(trustedStore))
	dir, err := c.Bootstrap(ctx)
	require.NoError(t, err)

	restored := n.client(stake(1), light.TrustedStore(trustedStore))
	assert.Equal(t, c.TrustedHead().BlockHash, restored.TrustedHead().BlockHash)
	if diff := cmp.Diff(dir.Records(), restored.Directory().Records()); diff != "" {
		t.Errorf("restored directory differs (-want +got):\n%s", diff)
	}
	assert.Equal(t, dir.Version(), restored.Directory().Version())
}

func TestQuery(t *testing.T) {
	n := newTestNetwork(t, stake(1), stake(1), stake(1))
	c := n.client(stake(2))

	res, err := c.Query(ctx, 2, targetKey)
	require.NoError(t, err)

	header, err := n.chain.Header(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, targetValue, res.Value)
	assert.EqualValues(t, 2, res.BlockNumber)
	assert.Equal(t, header.Hash(), res.BlockHash)
	assert.Equal(t, targetKey, res.Key)
	assert.Empty(t, res.Inconclusive)

	// greedy selection stops at the threshold
	require.Equal(t, 2, res.Quorum.Size())
	assert.Equal(t, n.address(0), res.Quorum.Members[0].Address)
	assert.Equal(t, n.address(1), res.Quorum.Members[1].Address)
	assert.Equal(t, stake(2), res.Quorum.TotalStake)
	require.Len(t, res.Attestations, 2)
	for i, att := range res.Attestations {
		assert.Equal(t, res.Quorum.Members[i].Address, att.Signer)
	}

	alerts, err := n.watcher.Journal().Alerts(0)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestQueryUnsetSlot(t *testing.T) {
	n := newTestNetwork(t, stake(1))
	c := n.client(stake(1))

	res, err := c.Query(ctx, 2, types.NewStateKey(targetKey.Contract, common.Hash{0x99}))
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, res.Value)
}

func TestQueryWaitsForAlertWindow(t *testing.T) {
	n := newTestNetwork(t, stake(1))
	c := n.client(stake(1), light.AlertWindow(300*time.Millisecond))

	start := time.Now()
	_, err := c.Query(ctx, 1, targetKey)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestQueryInsufficientStake(t *testing.T) {
	n := newTestNetwork(t, stake(1))
	c := n.client(stake(2))

	_, err := c.Query(ctx, 2, targetKey)
	var insufficient light.ErrInsufficientStake
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, stake(1), insufficient.Have)
	assert.Equal(t, stake(2), insufficient.Want)
}

func TestQueryExcludedProviderDoesNotRelaxThreshold(t *testing.T) {
	faults := []mock.Fault{
		mock.NotFound,
		mock.BadSignature,
		mock.ShortSignature,
		mock.WrongBlock,
		mock.Silent,
	}
	for _, fault := range faults {
		fault := fault
		t.Run(faultName(fault), func(t *testing.T) {
			n := newTestNetwork(t, stake(1), stake(1), stake(1))
			n.faults[0] = fault
			c := n.client(stake(2), light.ProviderTimeout(200*time.Millisecond))

			_, err := c.Query(ctx, 2, targetKey)
			var insufficient light.ErrInsufficientStake
			require.True(t, errors.As(err, &insufficient), "got %v", err)
			assert.Equal(t, stake(1), insufficient.Have)
		})
	}
}

func TestQueryExcludesFaultyProvider(t *testing.T) {
	n := newTestNetwork(t, stake(1), stake(3))
	n.faults[0] = mock.BadSignature
	c := n.client(stake(2))

	res, err := c.Query(ctx, 2, targetKey)
	require.NoError(t, err)
	require.Equal(t, 1, res.Quorum.Size())
	assert.Equal(t, n.address(1), res.Quorum.Members[0].Address)
	assert.Equal(t, stake(3), res.Quorum.TotalStake)
}

func TestQueryInconsistentProviders(t *testing.T) {
	for _, fault := range []mock.Fault{mock.WrongHash, mock.WrongProof} {
		fault := fault
		t.Run(faultName(fault), func(t *testing.T) {
			n := newTestNetwork(t, stake(1), stake(1))
			n.faults[1] = fault
			w := &stubWatcher{name: "counting", check: func(context.Context, *types.BlockAttestation, common.Address) (*types.Alert, error) {
				return nil, nil
			}}
			c := n.client(stake(2))
			c.AddWatchers(w)

			_, err := c.Query(ctx, 2, targetKey)
			var inconsistent light.ErrInconsistentProviders
			require.True(t, errors.As(err, &inconsistent), "got %v", err)
			assert.Equal(t, n.address(0), inconsistent.Reference)
			assert.Equal(t, n.address(1), inconsistent.Conflicting)
			assert.Zero(t, w.calls.Load())
		})
	}
}

func TestQueryRejectsUnprovenAnswer(t *testing.T) {
	for _, fault := range []mock.Fault{mock.WrongHash, mock.WrongProof} {
		fault := fault
		t.Run(faultName(fault), func(t *testing.T) {
			n := newTestNetwork(t, stake(2))
			n.faults[0] = fault
			c := n.client(stake(2))

			_, err := c.Query(ctx, 2, targetKey)
			var failed light.ErrVerificationFailed
			require.True(t, errors.As(err, &failed), "got %v", err)
		})
	}
}

func TestQueryFraudDetected(t *testing.T) {
	n := newTestNetwork(t, stake(2))
	n.faults[0] = mock.ForgedHeader
	c := n.client(stake(2))

	_, err := c.Query(ctx, 2, targetKey)
	var fraud light.ErrFraudDetected
	require.True(t, errors.As(err, &fraud), "got %v", err)
	assert.Equal(t, n.address(0), fraud.Alert.Provider)
	assert.EqualValues(t, 2, fraud.Alert.BlockNumber)
	assert.True(t, fraud.Alert.Slashed)

	header, err := n.chain.Header(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, header.Hash(), fraud.Alert.TrueHash)

	rec, err := n.ledger.Provider(ctx, n.address(0))
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
}

func TestQueryForgedTrustedHead(t *testing.T) {
	n := newTestNetwork(t, stake(2))
	n.faults[0] = mock.ForgedHeader
	c := n.client(stake(2))
	_, err := c.Bootstrap(ctx)
	require.NoError(t, err)

	_, err = c.Query(ctx, c.TrustedHead().BlockNumber, targetKey)
	var failed light.ErrVerificationFailed
	require.True(t, errors.As(err, &failed), "got %v", err)
}

func TestQueryInconclusiveWatchers(t *testing.T) {
	n := newTestNetwork(t, stake(1), stake(1))
	c := n.client(stake(2))

	failing := &stubWatcher{name: "failing", check: func(context.Context, *types.BlockAttestation, common.Address) (*types.Alert, error) {
		return nil, errors.New("oracle unreachable")
	}}
	bogus := &stubWatcher{name: "bogus", check: func(_ context.Context, att *types.BlockAttestation, _ common.Address) (*types.Alert, error) {
		other := *att
		other.BlockHash = common.Hash{0x01}
		return types.NewAlert(&other, common.Hash{0x02}, time.Now()), nil
	}}
	c.AddWatchers(failing, bogus)

	res, err := c.Query(ctx, 2, targetKey)
	require.NoError(t, err)
	assert.Len(t, res.Inconclusive, 4)
	assert.EqualValues(t, 2, failing.calls.Load())
	assert.EqualValues(t, 2, bogus.calls.Load())
}

func TestQueryAutoBootstrap(t *testing.T) {
	n := newTestNetwork(t, stake(1))
	c := n.client(stake(2))
	_, err := c.Bootstrap(ctx)
	require.NoError(t, err)

	n.register(ctx, stake(1))
	n.publish(1)

	res, err := c.Query(ctx, n.chain.BlockNumber(), targetKey)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.DirectoryVersion)
	assert.Equal(t, 2, res.Quorum.Size())
}

func TestQueryAheadOfHead(t *testing.T) {
	n := newTestNetworkWithChain(t, memchain.New(memchain.WithFinalityDepth(2)), stake(1))
	c := n.client(stake(1))

	_, err := c.Query(ctx, n.chain.BlockNumber(), targetKey)
	var ahead light.ErrBlockAheadOfHead
	require.True(t, errors.As(err, &ahead), "got %v", err)
	assert.Equal(t, n.chain.BlockNumber()-2, ahead.Head)
}

func TestRemoveWatchers(t *testing.T) {
	n := newTestNetwork(t, stake(1))
	c := n.client(stake(1))

	extra := &stubWatcher{name: "extra"}
	c.AddWatchers(extra)
	assert.Len(t, c.Watchers(), 2)

	require.NoError(t, c.RemoveWatchers(extra))
	assert.Len(t, c.Watchers(), 1)
	assert.ErrorIs(t, c.RemoveWatchers(n.watcher), light.ErrNoWatchers)
	assert.Len(t, c.Watchers(), 1)
}

func TestQueryCancellation(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	n := newTestNetwork(t, stake(1), stake(1))
	n.faults[1] = mock.Silent
	c := n.client(stake(2), light.ProviderTimeout(time.Minute))

	cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Query(cctx, 2, targetKey)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestQueryCancellationDuringAlertWindow(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	n := newTestNetwork(t, stake(1))
	blocking := &stubWatcher{name: "blocking", check: func(ctx context.Context, _ *types.BlockAttestation, _ common.Address) (*types.Alert, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := n.client(stake(1), light.AlertWindow(time.Minute))
	c.AddWatchers(blocking)

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := c.Query(cctx, 2, targetKey)
	assert.ErrorIs(t, err, context.Canceled)
}

func faultName(f mock.Fault) string {
	switch f {
	case mock.NotFound:
		return "not found"
	case mock.BadSignature:
		return "bad signature"
	case mock.ShortSignature:
		return "short signature"
	case mock.WrongBlock:
		return "wrong block"
	case mock.Silent:
		return "silent"
	case mock.WrongHash:
		return "wrong hash"
	case mock.WrongProof:
		return "wrong proof"
	case mock.ForgedHeader:
		return "forged header"
	default:
		return "honest"
	}
}
