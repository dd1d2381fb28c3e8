package commands

import (
	"github.com/spf13/cobra"

	tmos "github.com/stakelight/stakelight/libs/os"
	"github.com/stakelight/stakelight/registry"
	"github.com/stakelight/stakelight/watcher"
)

// RunWatcherCmd starts a watcher checking forwarded attestations.
var RunWatcherCmd = &cobra.Command{
	Use:   "watcher",
	Short: "Run the watcher",
	RunE:  runWatcher,
}

func init() {
	RunWatcherCmd.Flags().String("watcher.laddr", conf.Watcher.ListenAddress, "watcher listen address")
	RunWatcherCmd.Flags().Bool("watcher.local-ledger", conf.Watcher.LocalLedger,
		"check providers against the local ledger instead of the registry contract")
}

func runWatcher(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	o, err := newOracle(ctx)
	if err != nil {
		return err
	}
	defer o.Close()

	journalDB, err := openDB("alerts")
	if err != nil {
		return err
	}
	defer journalDB.Close()

	var reg registry.Registry
	if conf.Watcher.LocalLedger {
		ledgerDB, err := openDB("ledger")
		if err != nil {
			return err
		}
		defer ledgerDB.Close()
		reg, err = registry.NewLedger(ledgerDB, chainClock{o}, registry.DefaultParams(), logger)
		if err != nil {
			return err
		}
	} else {
		key, err := loadKey()
		if err != nil {
			return err
		}
		reg, err = newContractRegistry(ctx, key)
		if err != nil {
			return err
		}
	}

	metrics := watcher.NopMetrics()
	if conf.Instrumentation.Prometheus {
		metrics = watcher.PrometheusMetrics(conf.Instrumentation.Namespace)
	}
	w := watcher.New(o, reg, reg, watcher.NewJournal(journalDB),
		watcher.Logger(logger),
		watcher.WithMetrics(metrics),
		watcher.HTTP(conf.Watcher.HTTP(conf.Instrumentation.Prometheus)),
	)
	if err := w.Start(ctx); err != nil {
		return err
	}
	logger.Info("Started watcher", "laddr", w.ListenAddr(), "local-ledger", conf.Watcher.LocalLedger)

	tmos.TrapSignal(logger, func() {
		if w.IsRunning() {
			if err := w.Stop(); err != nil {
				logger.Error("unable to stop the watcher", "error", err)
			}
		}
	})
	w.Wait()
	return nil
}
