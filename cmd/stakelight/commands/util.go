package commands

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	dbm "github.com/tendermint/tm-db"

	cfg "github.com/stakelight/stakelight/config"
	"github.com/stakelight/stakelight/oracle"
	"github.com/stakelight/stakelight/oracle/rpc"
	"github.com/stakelight/stakelight/registry/contract"
)

const ctxTimeout = 30 * time.Second

// loadKey reads the node key. It fails if init has not been run.
func loadKey() (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadECDSA(conf.KeyFile())
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no key at %s, run init first", conf.KeyFile())
	} else if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}
	return key, nil
}

func newOracle(ctx context.Context) (*rpc.Oracle, error) {
	return rpc.New(ctx, conf.ChainRPC, rpc.WithFinality(rpc.Finality(conf.Finality)))
}

// newContractRegistry binds the registry contract. Transactions are signed
// with key; a nil key gives a read-only registry.
func newContractRegistry(ctx context.Context, key *ecdsa.PrivateKey) (*contract.Registry, error) {
	if conf.RegistryAddress == "" {
		return nil, errors.New("registry-address is not set")
	}
	client, err := ethclient.DialContext(ctx, conf.ChainRPC)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", conf.ChainRPC, err)
	}
	var opts *bind.TransactOpts
	if key != nil {
		chainID, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading chain id: %w", err)
		}
		opts, err = bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, err
		}
		opts.Context = ctx
	}
	return contract.New(conf.Registry(), client, opts, logger)
}

func openDB(id string) (dbm.DB, error) {
	return cfg.DefaultDBProvider(&cfg.DBContext{ID: id, Config: conf})
}

// chainClock reports the oracle's latest final block. It serves as the block
// clock of a local ledger.
type chainClock struct {
	oracle oracle.Oracle
}

func (c chainClock) BlockNumber() uint64 {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()
	h, err := c.oracle.LatestHeader(ctx)
	if err != nil {
		logger.Error("failed to read the latest block", "err", err)
		return 0
	}
	return h.Number.Uint64()
}

func parseWei(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}
