package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/stakelight/stakelight/config"
	"github.com/stakelight/stakelight/libs/cli"
	"github.com/stakelight/stakelight/libs/log"
)

var (
	conf   = cfg.DefaultConfig()
	logger = log.MustNewDefaultLogger(log.LogFormatPlain, log.LogLevelInfo)
)

func init() {
	registerFlagsRootCmd(RootCmd)
	cobra.OnInitialize(func() { cli.InitEnv("SL") })
}

func registerFlagsRootCmd(cmd *cobra.Command) {
	cmd.PersistentFlags().String(cli.HomeFlag, cfg.DefaultHome(), "directory for config and data")
	cmd.PersistentFlags().Bool(cli.TraceFlag, false, "print out full stack trace on errors")
	cmd.PersistentFlags().String("log-level", conf.LogLevel, "log level")
	cmd.PersistentFlags().String("log-format", conf.LogFormat, "log format (plain|json)")
	cmd.PersistentFlags().String("chain-rpc", conf.ChainRPC, "JSON-RPC endpoint of the chain node")
	cmd.PersistentFlags().String("registry-address", conf.RegistryAddress, "address of the registry contract")
}

// ParseConfig retrieves the default environment configuration,
// sets up the stakelight root and ensures that the root exists
func ParseConfig() (*cfg.Config, error) {
	conf := cfg.DefaultConfig()
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}
	conf.SetRoot(conf.RootDir)
	if err := cfg.EnsureRoot(conf.RootDir); err != nil {
		return nil, err
	}
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCmd is the root command for stakelight.
var RootCmd = &cobra.Command{
	Use:   "stakelight",
	Short: "Stake-secured light client, data provider and watcher",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if cmd.Name() == VersionCmd.Name() {
			return nil
		}
		if err := cli.BindFlagsLoadViper(cmd, args); err != nil {
			return err
		}
		conf, err = ParseConfig()
		if err != nil {
			return err
		}
		logger, err = log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
		if err != nil {
			return err
		}
		if viper.GetBool(cli.TraceFlag) {
			logger.Debug("loaded config", "home", conf.RootDir)
		}
		return nil
	},
}
