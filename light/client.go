package light

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/stakelight/stakelight/crypto/merkle"
	"github.com/stakelight/stakelight/libs/log"
	"github.com/stakelight/stakelight/light/provider"
	providerhttp "github.com/stakelight/stakelight/light/provider/http"
	"github.com/stakelight/stakelight/light/store"
	"github.com/stakelight/stakelight/oracle"
	"github.com/stakelight/stakelight/registry"
	"github.com/stakelight/stakelight/types"
)

const (
	// DefaultAlertWindow is how long the client waits for watcher alerts
	// before accepting an answer.
	DefaultAlertWindow = 3 * time.Second

	// DefaultProviderTimeout bounds a single provider request.
	DefaultProviderTimeout = 5 * time.Second
)

// Watcher re-checks attestations on behalf of the client.
type Watcher interface {
	// Check returns an alert if att is fraudulent and nil if it is correct.
	// An error means the watcher could not decide.
	Check(ctx context.Context, att *types.BlockAttestation, provider common.Address) (*types.Alert, error)
	String() string
}

// ProviderFactory returns a provider client for a directory record.
type ProviderFactory func(rec *types.ProviderRecord) (provider.Provider, error)

// HTTPProviders dials providers on the endpoint they registered.
func HTTPProviders(rec *types.ProviderRecord) (provider.Provider, error) {
	return providerhttp.New(rec.Endpoint())
}

// Option sets a parameter for the light client.
type Option func(*Client)

// Logger option can be used to set a logger for the client.
func Logger(l log.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// AlertWindow sets how long the client waits for watcher alerts before
// accepting an answer. Default: 3s.
func AlertWindow(d time.Duration) Option {
	return func(c *Client) {
		c.alertWindow = d
	}
}

// ProviderTimeout bounds each provider request. A provider that does not
// answer in time is left out of the round. Default: 5s.
func ProviderTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.providerTimeout = d
	}
}

// Providers sets how the client reaches the providers of its directory.
// Default: HTTPProviders.
func Providers(f ProviderFactory) Option {
	return func(c *Client) {
		c.providerFactory = f
	}
}

// TrustedStore makes the client persist its trusted head and directory, and
// restore them on start.
func TrustedStore(s store.Store) Option {
	return func(c *Client) {
		c.trustedStore = s
	}
}

// WithClock sets the source of time.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Client is a light client. It learns the staked providers from the registry
// contract through Merkle proofs against a head obtained from its oracle, asks
// a stake-weighted quorum of them for a storage value, cross-checks and
// verifies their answers, and accepts the value only when no watcher reported
// fraud within the alert window.
//
// Client is safe for concurrent use. Every query works on the directory
// snapshot current when it started.
type Client struct {
	registryAddr common.Address
	oracle       oracle.Oracle
	minStake     *uint256.Int

	alertWindow     time.Duration
	providerTimeout time.Duration
	providerFactory ProviderFactory
	trustedStore    store.Store
	now             func() time.Time

	// serializes bootstraps
	bootstrapMtx sync.Mutex

	// guards head and dir
	mtx  sync.RWMutex
	head types.TrustedHead
	dir  *types.Directory

	watcherMtx sync.RWMutex
	watchers   []Watcher

	providerMtx sync.Mutex
	providers   map[common.Address]dialedProvider

	logger  log.Logger
	metrics *Metrics
}

type dialedProvider struct {
	endpoint string
	provider provider.Provider
}

// Result is an accepted answer.
type Result struct {
	Key         types.StateKey
	Value       common.Hash
	BlockNumber uint64
	BlockHash   common.Hash

	// Quorum holds the providers whose attestations were accepted.
	Quorum           *types.Quorum
	Attestations     []*types.BlockAttestation
	DirectoryVersion uint64

	// Inconclusive lists the watcher checks that did not complete within
	// the alert window.
	Inconclusive []ErrWatcherCheck
}

// NewClient returns a light client reading the registry contract at
// registryAddr through o. Queries require a quorum holding at least minStake.
// At least one watcher must be given.
//
// If a trusted store is given, the last trusted head and directory are
// restored from it. Otherwise the client bootstraps on its first query.
func NewClient(
	registryAddr common.Address,
	o oracle.Oracle,
	minStake *uint256.Int,
	watchers []Watcher,
	options ...Option,
) (*Client, error) {
	if minStake == nil || minStake.IsZero() {
		return nil, errors.New("minimum stake must be positive")
	}
	if len(watchers) == 0 {
		return nil, ErrNoWatchers
	}

	c := &Client{
		registryAddr:    registryAddr,
		oracle:          o,
		minStake:        minStake.Clone(),
		alertWindow:     DefaultAlertWindow,
		providerTimeout: DefaultProviderTimeout,
		providerFactory: HTTPProviders,
		now:             time.Now,
		dir:             types.EmptyDirectory(),
		watchers:        append([]Watcher(nil), watchers...),
		providers:       make(map[common.Address]dialedProvider),
		logger:          log.NewNopLogger(),
		metrics:         NopMetrics(),
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With("module", "light")

	if c.alertWindow < 0 || c.providerTimeout <= 0 {
		return nil, fmt.Errorf("invalid timeouts: alert window %v, provider timeout %v",
			c.alertWindow, c.providerTimeout)
	}

	if err := c.restoreTrustedState(); err != nil {
		return nil, err
	}
	return c, nil
}

// restoreTrustedState loads the trusted head and directory from the store
func (c *Client) restoreTrustedState() error {
	if c.trustedStore == nil {
		return nil
	}
	head, err := c.trustedStore.TrustedHead()
	if errors.Is(err, store.ErrNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("can't get trusted head: %w", err)
	}
	dir, err := c.trustedStore.Directory()
	if err != nil {
		return fmt.Errorf("can't get trusted directory: %w", err)
	}
	c.head, c.dir = head, dir
	c.metrics.TrustedHeight.Set(float64(head.BlockNumber))
	c.metrics.DirectorySize.Set(float64(dir.Size()))
	c.logger.Info("Restored trusted state", "height", head.BlockNumber, "providers", dir.Size())
	return nil
}

// TrustedHead returns the current trusted head. It is zero before the first
// bootstrap.
func (c *Client) TrustedHead() types.TrustedHead {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.head
}

// Directory returns the current directory snapshot.
func (c *Client) Directory() *types.Directory {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.dir
}

func (c *Client) snapshot() (types.TrustedHead, *types.Directory) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.head, c.dir
}

// MinStake returns the stake a quorum must hold.
func (c *Client) MinStake() *uint256.Int { return c.minStake.Clone() }

// Watchers returns the configured watchers.
func (c *Client) Watchers() []Watcher {
	c.watcherMtx.RLock()
	defer c.watcherMtx.RUnlock()
	return append([]Watcher(nil), c.watchers...)
}

// AddWatchers adds watchers that every later round forwards to.
func (c *Client) AddWatchers(ws ...Watcher) {
	c.watcherMtx.Lock()
	defer c.watcherMtx.Unlock()
	c.watchers = append(c.watchers, ws...)
}

// RemoveWatchers removes the given watchers. Removing the last watcher is
// refused with ErrNoWatchers.
func (c *Client) RemoveWatchers(ws ...Watcher) error {
	c.watcherMtx.Lock()
	defer c.watcherMtx.Unlock()

	kept := make([]Watcher, 0, len(c.watchers))
	for _, w := range c.watchers {
		remove := false
		for _, r := range ws {
			if w == r {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return ErrNoWatchers
	}
	c.watchers = kept
	return nil
}

// Bootstrap obtains the latest head from the oracle, reads the provider list
// of the registry with proofs against the head's state root and replaces the
// directory with its eligible providers.
//
// The trusted head only moves forward: a head older than the current one
// leaves head and directory unchanged. Any proof failure returns
// ErrUntrustedRoot and leaves the directory unchanged.
func (c *Client) Bootstrap(ctx context.Context) (*types.Directory, error) {
	c.bootstrapMtx.Lock()
	defer c.bootstrapMtx.Unlock()

	header, err := c.oracle.LatestHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching latest header: %w", err)
	}
	if header.Number == nil || !header.Number.IsUint64() {
		return nil, ErrUntrustedRoot{Reason: fmt.Errorf("invalid header number %v", header.Number)}
	}
	number, hash := header.Number.Uint64(), header.Hash()

	current, currentDir := c.snapshot()
	switch {
	case current.IsZero():
	case number < current.BlockNumber:
		c.logger.Info("Oracle head is behind the trusted head, keeping directory",
			"oracle", number, "trusted", current.BlockNumber)
		return currentDir, nil
	case number == current.BlockNumber && hash == current.BlockHash:
		return currentDir, nil
	case number == current.BlockNumber:
		return nil, ErrUntrustedRoot{Reason: fmt.Errorf("oracle block #%d %v conflicts with trusted %v",
			number, hash, current.BlockHash)}
	}

	records, err := c.readRegistry(ctx, number, header.Root)
	if err != nil {
		return nil, err
	}
	all, err := types.NewDirectory(currentDir.Version()+1, number, records)
	if err != nil {
		return nil, ErrUntrustedRoot{Reason: err}
	}
	dir := all.Eligible()
	head := types.TrustedHead{
		BlockNumber: number,
		BlockHash:   hash,
		StateRoot:   header.Root,
		ObtainedAt:  c.now(),
	}

	if c.trustedStore != nil {
		if err := c.trustedStore.SaveTrustedState(head, dir); err != nil {
			return nil, fmt.Errorf("failed to save trusted state: %w", err)
		}
	}

	c.mtx.Lock()
	c.head, c.dir = head, dir
	c.mtx.Unlock()

	c.metrics.Bootstraps.Add(1)
	c.metrics.TrustedHeight.Set(float64(number))
	c.metrics.DirectorySize.Set(float64(dir.Size()))
	c.logger.Info("Bootstrapped", "height", number, "hash", hash,
		"registered", all.Size(), "eligible", dir.Size(), "version", dir.Version())
	return dir, nil
}

// readRegistry reads and verifies the provider list at block number.
func (c *Client) readRegistry(ctx context.Context, number uint64, stateRoot common.Hash) ([]*types.ProviderRecord, error) {
	countSlots := []common.Hash{registry.CountSlot}
	words, err := c.provenSlots(ctx, countSlots, number, stateRoot)
	if err != nil {
		return nil, err
	}
	n, err := registry.DecodeProviderCount(words[0])
	if err != nil {
		return nil, ErrUntrustedRoot{Reason: err}
	}
	if n == 0 {
		return nil, nil
	}

	words, err = c.provenSlots(ctx, registry.ProviderSlots(n), number, stateRoot)
	if err != nil {
		return nil, err
	}
	records, err := registry.DecodeProviderSlots(words)
	if err != nil {
		return nil, ErrUntrustedRoot{Reason: err}
	}
	return records, nil
}

func (c *Client) provenSlots(ctx context.Context, slots []common.Hash, number uint64, stateRoot common.Hash) ([]common.Hash, error) {
	res, err := c.oracle.StorageProof(ctx, c.registryAddr, slots, number)
	if err != nil {
		return nil, fmt.Errorf("fetching registry proof: %w", err)
	}
	if res.Address != c.registryAddr {
		return nil, ErrUntrustedRoot{Reason: fmt.Errorf("proof is for account %v, want %v", res.Address, c.registryAddr)}
	}
	words, err := res.Verify(stateRoot, slots)
	if errors.Is(err, merkle.ErrAccountNotFound) {
		// a registry without storage is proven absent from the state
		return make([]common.Hash, len(slots)), nil
	} else if err != nil {
		return nil, ErrUntrustedRoot{Reason: err}
	}
	return words, nil
}

// Query returns the value of key at blockNumber.
//
// The client bootstraps first when blockNumber is beyond its trusted head.
// It then selects providers from its directory until their stake reaches the
// minimum, asks all of them concurrently and drops those that fail to answer
// in time or answer with an unusable attestation. The remaining answers must
// still hold the minimum stake, be identical and prove the value in the
// attested block. Finally every attestation is forwarded to every watcher,
// and the value is returned once the alert window has passed without an
// alert.
func (c *Client) Query(ctx context.Context, blockNumber uint64, key types.StateKey) (*Result, error) {
	start := time.Now()
	res, err := c.query(ctx, blockNumber, key)
	c.metrics.QueryDuration.Observe(time.Since(start).Seconds())

	var (
		insufficient ErrInsufficientStake
		inconsistent ErrInconsistentProviders
		fraud        ErrFraudDetected
	)
	switch {
	case err == nil:
		c.metrics.Queries.With("outcome", "accepted").Add(1)
		c.logger.Info("Accepted value", "block", blockNumber, "key", key, "value", res.Value,
			"providers", res.Quorum.Size(), "stake", res.Quorum.TotalStake.Dec())
	case errors.As(err, &fraud):
		c.metrics.Queries.With("outcome", "fraud").Add(1)
		c.logger.Error("Fraud reported by watcher, round rejected", "block", blockNumber,
			"watcher", fraud.Watcher, "alert", fraud.Alert)
	case errors.As(err, &inconsistent):
		c.metrics.Queries.With("outcome", "inconsistent").Add(1)
		c.metrics.InconsistentQuorums.Add(1)
		c.logger.Error("Providers disagree, possible fraud", "block", blockNumber,
			"reference", inconsistent.Reference, "conflicting", inconsistent.Conflicting, "reason", inconsistent.Reason)
	case errors.As(err, &insufficient):
		c.metrics.Queries.With("outcome", "insufficient_stake").Add(1)
		c.logger.Info("Not enough stake for request", "block", blockNumber, "err", err)
	default:
		c.metrics.Queries.With("outcome", "rejected").Add(1)
		c.logger.Error("Query failed", "block", blockNumber, "key", key, "err", err)
	}
	return res, err
}

func (c *Client) query(ctx context.Context, blockNumber uint64, key types.StateKey) (*Result, error) {
	// all outstanding provider and watcher requests end with the round
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchers := c.Watchers()
	if len(watchers) == 0 {
		return nil, ErrNoWatchers
	}

	if head := c.TrustedHead(); head.IsZero() || blockNumber > head.BlockNumber {
		if _, err := c.Bootstrap(ctx); err != nil {
			return nil, err
		}
	}
	head, dir := c.snapshot()
	if blockNumber > head.BlockNumber {
		return nil, ErrBlockAheadOfHead{BlockNumber: blockNumber, Head: head.BlockNumber}
	}

	quorum, total := types.SelectProviders(dir, c.minStake)
	if !quorum.Meets(c.minStake) {
		return nil, ErrInsufficientStake{Have: total, Want: c.minStake.Clone()}
	}
	c.logger.Debug("Selected quorum", "block", blockNumber, "providers", quorum.Size(),
		"stake", quorum.TotalStake.Dec(), "directory", dir.Version())

	responding, atts, err := c.collect(ctx, quorum, blockNumber, key)
	if err != nil {
		return nil, err
	}
	if !responding.Meets(c.minStake) {
		return nil, ErrInsufficientStake{Have: responding.TotalStake.Clone(), Want: c.minStake.Clone()}
	}

	if err := crossCheck(atts); err != nil {
		return nil, err
	}
	value, err := verifyProof(atts[0], blockNumber, key, head)
	if err != nil {
		return nil, err
	}

	inconclusive, err := c.detectFraud(ctx, watchers, atts)
	if err != nil {
		return nil, err
	}

	return &Result{
		Key:              key,
		Value:            value,
		BlockNumber:      blockNumber,
		BlockHash:        atts[0].BlockHash,
		Quorum:           responding,
		Attestations:     atts,
		DirectoryVersion: dir.Version(),
		Inconclusive:     inconclusive,
	}, nil
}

// collect asks every member of q concurrently and waits for all of them.
// Members that fail are left out of the returned quorum.
func (c *Client) collect(
	ctx context.Context,
	q *types.Quorum,
	blockNumber uint64,
	key types.StateKey,
) (*types.Quorum, []*types.BlockAttestation, error) {
	results := make([]*types.BlockAttestation, len(q.Members))

	g, gctx := errgroup.WithContext(ctx)
	for i, member := range q.Members {
		i, member := i, member
		g.Go(func() error {
			att, err := c.getData(gctx, member, blockNumber, key)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				var bad errBadProvider
				if errors.As(err, &bad) {
					c.metrics.ExcludedProviders.With("reason", bad.Code.String()).Add(1)
				}
				c.logger.Info("Excluding provider from round", "provider", member.Address, "err", err)
				return nil
			}
			results[i] = att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	responding := &types.Quorum{TotalStake: new(uint256.Int)}
	atts := make([]*types.BlockAttestation, 0, len(results))
	for i, att := range results {
		if att == nil {
			continue
		}
		member := q.Members[i]
		responding.Members = append(responding.Members, member)
		responding.TotalStake.Add(responding.TotalStake, member.Stake)
		atts = append(atts, att)
	}
	return responding, atts, nil
}

func (c *Client) getData(
	ctx context.Context,
	member *types.ProviderRecord,
	blockNumber uint64,
	key types.StateKey,
) (*types.BlockAttestation, error) {
	p, err := c.provider(member)
	if err != nil {
		return nil, errBadProvider{Reason: err, Code: noResponse, Provider: member.Address}
	}

	ctx, cancel := context.WithTimeout(ctx, c.providerTimeout)
	defer cancel()

	att, err := p.GetData(ctx, blockNumber, key)
	switch {
	case errors.Is(err, provider.ErrBlockNotFound):
		return nil, errBadProvider{Reason: err, Code: blockNotFound, Provider: member.Address}
	case err != nil:
		var bad provider.ErrBadAttestation
		if errors.As(err, &bad) {
			return nil, errBadProvider{Reason: err, Code: invalidAttestation, Provider: member.Address}
		}
		return nil, errBadProvider{Reason: err, Code: noResponse, Provider: member.Address}
	}

	if err := verifyAttestation(att, member.Address, blockNumber); err != nil {
		return nil, errBadProvider{Reason: err, Code: invalidAttestation, Provider: member.Address}
	}
	return att, nil
}

// provider returns a client for rec, dialing it when its endpoint is new.
func (c *Client) provider(rec *types.ProviderRecord) (provider.Provider, error) {
	c.providerMtx.Lock()
	defer c.providerMtx.Unlock()

	endpoint := rec.Endpoint()
	if d, ok := c.providers[rec.Address]; ok && d.endpoint == endpoint {
		return d.provider, nil
	}
	p, err := c.providerFactory(rec)
	if err != nil {
		return nil, fmt.Errorf("dialing provider %v at %s: %w", rec.Address, endpoint, err)
	}
	c.providers[rec.Address] = dialedProvider{endpoint: endpoint, provider: p}
	return p, nil
}

func (c *Client) String() string {
	head := c.TrustedHead()
	return fmt.Sprintf("light.Client{registry:%v head:#%d}", c.registryAddr, head.BlockNumber)
}
