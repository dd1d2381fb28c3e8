package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	dbm "github.com/tendermint/tm-db"
	"golang.org/x/sync/errgroup"

	"github.com/stakelight/stakelight/dataprovider"
	"github.com/stakelight/stakelight/libs/httpserver"
	"github.com/stakelight/stakelight/libs/log"
	"github.com/stakelight/stakelight/light"
	dbs "github.com/stakelight/stakelight/light/store/db"
	"github.com/stakelight/stakelight/oracle/memchain"
	"github.com/stakelight/stakelight/registry"
	"github.com/stakelight/stakelight/types"
	"github.com/stakelight/stakelight/watcher"
)

var (
	devnetRegistry = common.HexToAddress("0x000000000000000000000000000000000000d00d")
	devnetContract = common.HexToAddress("0x000000000000000000000000000000000000cafe")
	devnetSlot     = common.Hash{}
	devnetValue    = common.Hash{31: 42}
)

var (
	devnetProviders   int
	devnetServe       bool
	devnetBlockTime   time.Duration
	devnetAlertWindow time.Duration
)

// DevnetCmd runs a self-contained network: an in-memory chain, a local
// registry ledger, staked providers and a watcher, all serving over HTTP, and
// performs one light client query against them.
var DevnetCmd = &cobra.Command{
	Use:   "devnet",
	Short: "Run an in-process chain, registry, providers and watcher",
	RunE:  runDevnet,
}

func init() {
	DevnetCmd.Flags().IntVar(&devnetProviders, "providers", 3, "number of staked providers")
	DevnetCmd.Flags().BoolVar(&devnetServe, "serve", false, "keep serving after the demo query")
	DevnetCmd.Flags().DurationVar(&devnetBlockTime, "block-time", time.Second, "block interval while serving")
	DevnetCmd.Flags().DurationVar(&devnetAlertWindow, "alert-window", 500*time.Millisecond, "alert window of the demo query")
}

type devnet struct {
	chain     *memchain.Chain
	ledger    *registry.Ledger
	providers []*dataprovider.Service
	watcher   *watcher.Watcher
	logger    log.Logger
}

// startDevnet starts n providers staking 1..n ether and a watcher, registers
// the providers in a fresh ledger and publishes it on the chain.
func startDevnet(ctx context.Context, n int, logger log.Logger) (*devnet, error) {
	if n < 1 {
		return nil, errors.New("devnet needs at least one provider")
	}
	d := &devnet{chain: memchain.New(), logger: logger}
	d.chain.SetStorage(devnetContract, devnetSlot, devnetValue)

	var err error
	d.ledger, err = registry.NewLedger(dbm.NewMemDB(), d.chain, registry.DefaultParams(), logger)
	if err != nil {
		return nil, err
	}

	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			d.stop()
			return nil, err
		}
		dp := dataprovider.New(key, d.chain,
			dataprovider.Logger(logger),
			dataprovider.HTTP(httpserver.DefaultConfig("tcp://127.0.0.1:0")),
		)
		if err := dp.Start(ctx); err != nil {
			d.stop()
			return nil, err
		}
		d.providers = append(d.providers, dp)

		host, port, err := splitHostPort(dp.ListenAddr())
		if err != nil {
			d.stop()
			return nil, err
		}
		stake := new(uint256.Int).Mul(registry.Ether, uint256.NewInt(uint64(i+1)))
		if err := d.ledger.Register(ctx, dp.Address(), host, port, stake); err != nil {
			d.stop()
			return nil, err
		}
	}

	d.watcher = watcher.New(d.chain, d.ledger, d.ledger, watcher.NewJournal(dbm.NewMemDB()),
		watcher.Logger(logger),
		watcher.HTTP(httpserver.DefaultConfig("tcp://127.0.0.1:0")),
	)
	if err := d.watcher.Start(ctx); err != nil {
		d.stop()
		return nil, err
	}

	if err := d.publish(); err != nil {
		d.stop()
		return nil, err
	}
	d.chain.Mine(2)
	return d, nil
}

// publish writes the ledger into the registry contract's storage and seals
// it in a block.
func (d *devnet) publish() error {
	if err := d.ledger.PublishTo(d.chain, devnetRegistry); err != nil {
		return err
	}
	d.chain.Commit()
	return nil
}

func (d *devnet) watcherEndpoint() string {
	return "http://" + d.watcher.ListenAddr().String()
}

func (d *devnet) client(alertWindow time.Duration) (*light.Client, error) {
	return light.NewHTTPClient(devnetRegistry, d.chain, registry.Ether, []string{d.watcherEndpoint()},
		light.Logger(d.logger),
		light.AlertWindow(alertWindow),
		light.TrustedStore(dbs.New(dbm.NewMemDB())),
	)
}

// run mines a block and republishes the ledger every interval until ctx is
// done.
func (d *devnet) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.publish(); err != nil {
				return err
			}
		}
	}
}

func (d *devnet) stop() {
	if d.watcher != nil && d.watcher.IsRunning() {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Error("unable to stop the watcher", "err", err)
		}
	}
	for _, dp := range d.providers {
		if dp.IsRunning() {
			if err := dp.Stop(); err != nil {
				d.logger.Error("unable to stop a data provider", "err", err)
			}
		}
	}
}

func runDevnet(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := startDevnet(ctx, devnetProviders, logger)
	if err != nil {
		return err
	}
	defer d.stop()

	for _, dp := range d.providers {
		logger.Info("Provider", "address", dp.Address(), "laddr", dp.ListenAddr())
	}
	logger.Info("Watcher", "laddr", d.watcher.ListenAddr())

	c, err := d.client(devnetAlertWindow)
	if err != nil {
		return err
	}
	if _, err := c.Bootstrap(ctx); err != nil {
		return err
	}
	res, err := c.Query(ctx, c.TrustedHead().BlockNumber, types.NewStateKey(devnetContract, devnetSlot))
	if err != nil {
		return err
	}
	if err := printQueryOutput(cmd, newQueryOutput(res), "text"); err != nil {
		return err
	}
	if !devnetServe {
		return nil
	}

	logger.Info("Serving", "registry", devnetRegistry, "contract", devnetContract)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.run(gctx, devnetBlockTime) })
	g.Go(func() error {
		d.watcher.Wait()
		cancel()
		return nil
	})
	return g.Wait()
}

func splitHostPort(addr net.Addr) (string, uint16, error) {
	if addr == nil {
		return "", 0, errors.New("server is not listening")
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("bad port in %s: %w", addr, err)
	}
	return host, uint16(port), nil
}
