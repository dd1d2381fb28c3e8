// Package rpc implements an oracle backed by an Ethereum JSON-RPC node.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/stakelight/stakelight/crypto/merkle"
	"github.com/stakelight/stakelight/oracle"
)

const defaultTimeout = 10 * time.Second

// Finality selects which block LatestHeader reports.
type Finality string

const (
	FinalityLatest    Finality = "latest"
	FinalitySafe      Finality = "safe"
	FinalityFinalized Finality = "finalized"
)

func (f Finality) blockNumber() (*big.Int, error) {
	switch f {
	case FinalityLatest, "":
		return nil, nil
	case FinalitySafe:
		return big.NewInt(int64(gethrpc.SafeBlockNumber)), nil
	case FinalityFinalized:
		return big.NewInt(int64(gethrpc.FinalizedBlockNumber)), nil
	default:
		return nil, fmt.Errorf("unknown finality %q", f)
	}
}

// Oracle talks to a node through eth_getBlockByNumber and eth_getProof.
type Oracle struct {
	remote   string
	eth      *ethclient.Client
	geth     *gethclient.Client
	finality Finality
	timeout  time.Duration
}

var _ oracle.Oracle = (*Oracle)(nil)

// Option configures an Oracle.
type Option func(*Oracle)

// WithFinality sets the block tag used by LatestHeader.
func WithFinality(f Finality) Option {
	return func(o *Oracle) { o.finality = f }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(o *Oracle) { o.timeout = d }
}

// New dials remote, e.g. "http://localhost:8545".
func New(ctx context.Context, remote string, options ...Option) (*Oracle, error) {
	c, err := gethrpc.DialContext(ctx, remote)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", remote, err)
	}
	return NewWithClient(remote, c, options...)
}

// NewWithClient uses an existing RPC client.
func NewWithClient(remote string, c *gethrpc.Client, options ...Option) (*Oracle, error) {
	o := &Oracle{
		remote:   remote,
		eth:      ethclient.NewClient(c),
		geth:     gethclient.New(c),
		finality: FinalityFinalized,
		timeout:  defaultTimeout,
	}
	for _, opt := range options {
		opt(o)
	}
	if _, err := o.finality.blockNumber(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Oracle) String() string { return o.remote }

// Close closes the underlying connection.
func (o *Oracle) Close() { o.eth.Close() }

func (o *Oracle) Header(ctx context.Context, number uint64) (*ethtypes.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	h, err := o.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, o.parseErr(err)
	}
	return h, nil
}

func (o *Oracle) LatestHeader(ctx context.Context) (*ethtypes.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	tag, _ := o.finality.blockNumber()
	h, err := o.eth.HeaderByNumber(ctx, tag)
	if err != nil {
		return nil, o.parseErr(err)
	}
	return h, nil
}

func (o *Oracle) StorageProof(
	ctx context.Context,
	contract common.Address,
	slots []common.Hash,
	number uint64,
) (*oracle.AccountResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	keys := make([]string, len(slots))
	for i, s := range slots {
		keys[i] = s.Hex()
	}
	res, err := o.geth.GetProof(ctx, contract, keys, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, o.parseErr(err)
	}

	accountProof, err := decodeNodes(res.AccountProof)
	if err != nil {
		return nil, fmt.Errorf("account proof: %w", err)
	}
	out := &oracle.AccountResult{
		Address:      res.Address,
		AccountProof: accountProof,
		StorageHash:  res.StorageHash,
		Storage:      make([]oracle.StorageResult, len(res.StorageProof)),
	}
	for i, sp := range res.StorageProof {
		proof, err := decodeNodes(sp.Proof)
		if err != nil {
			return nil, fmt.Errorf("storage proof #%d: %w", i, err)
		}
		var value []byte
		if sp.Value != nil {
			value = merkle.SlotValue(common.BigToHash(sp.Value))
		}
		out.Storage[i] = oracle.StorageResult{
			Slot:  common.HexToHash(sp.Key),
			Value: value,
			Proof: proof,
		}
	}
	return out, nil
}

func decodeNodes(nodes []string) ([][]byte, error) {
	out := make([][]byte, len(nodes))
	for i, n := range nodes {
		bz, err := hexutil.Decode(n)
		if err != nil {
			return nil, fmt.Errorf("node #%d: %w", i, err)
		}
		out[i] = bz
	}
	return out, nil
}

func (o *Oracle) parseErr(err error) error {
	switch {
	case errors.Is(err, ethereum.NotFound):
		return oracle.ErrBlockNotFound
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(err.Error(), "connection refused"):
		return fmt.Errorf("%w: %v", oracle.ErrNoResponse, err)
	case strings.Contains(err.Error(), "header not found"), strings.Contains(err.Error(), "unknown block"):
		return oracle.ErrBlockNotFound
	default:
		return err
	}
}
