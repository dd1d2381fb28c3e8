package commands

import (
	"github.com/spf13/cobra"

	"github.com/stakelight/stakelight/dataprovider"
	tmos "github.com/stakelight/stakelight/libs/os"
)

// RunProviderCmd starts a data provider serving attestations over HTTP.
var RunProviderCmd = &cobra.Command{
	Use:   "provider",
	Short: "Run the data provider",
	RunE:  runProvider,
}

func init() {
	RunProviderCmd.Flags().String("provider.laddr", conf.Provider.ListenAddress, "data provider listen address")
}

func runProvider(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	key, err := loadKey()
	if err != nil {
		return err
	}
	o, err := newOracle(ctx)
	if err != nil {
		return err
	}
	defer o.Close()

	metrics := dataprovider.NopMetrics()
	if conf.Instrumentation.Prometheus {
		metrics = dataprovider.PrometheusMetrics(conf.Instrumentation.Namespace)
	}
	dp := dataprovider.New(key, o,
		dataprovider.Logger(logger),
		dataprovider.WithMetrics(metrics),
		dataprovider.HTTP(conf.Provider.HTTP(conf.Instrumentation.Prometheus)),
		dataprovider.Timeout(conf.Provider.Timeout),
	)
	if err := dp.Start(ctx); err != nil {
		return err
	}
	logger.Info("Started data provider",
		"address", dp.Address(),
		"laddr", dp.ListenAddr(),
		"announce", conf.Provider.ExternalHost,
		"port", conf.Provider.ExternalPort,
	)

	tmos.TrapSignal(logger, func() {
		if dp.IsRunning() {
			if err := dp.Stop(); err != nil {
				logger.Error("unable to stop the data provider", "error", err)
			}
		}
	})
	dp.Wait()
	return nil
}
