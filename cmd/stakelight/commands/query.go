package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stakelight/stakelight/libs/cli"
	"github.com/stakelight/stakelight/light"
	dbs "github.com/stakelight/stakelight/light/store/db"
	"github.com/stakelight/stakelight/types"
)

// QueryCmd reads a storage slot through the light client.
var QueryCmd = &cobra.Command{
	Use:   "query <block|head> <contract>/<slot>",
	Short: "Read a contract storage slot through a stake-secured quorum",
	Long: `Query bootstraps the provider directory from the registry, asks a quorum
of staked providers for the slot, verifies their proofs and waits for the
watchers' alert window before printing the value.`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

func init() {
	QueryCmd.Flags().String(cli.OutputFlag, "text", "output format (text|json)")
	QueryCmd.Flags().String("light.min-stake", conf.Light.MinStake, "minimum quorum stake in wei")
	QueryCmd.Flags().StringSlice("light.watchers", conf.Light.Watchers, "watcher endpoints")
	QueryCmd.Flags().Duration("light.alert-window", conf.Light.AlertWindow, "how long to wait for fraud alerts")
}

// QueryOutput is what query prints.
type QueryOutput struct {
	Key              string           `json:"key"`
	Value            common.Hash      `json:"value"`
	BlockNumber      uint64           `json:"block_number"`
	BlockHash        common.Hash      `json:"block_hash"`
	Providers        []common.Address `json:"providers"`
	TotalStake       string           `json:"total_stake"`
	DirectoryVersion uint64           `json:"directory_version"`
	Inconclusive     []string         `json:"inconclusive,omitempty"`
}

func newQueryOutput(res *light.Result) QueryOutput {
	out := QueryOutput{
		Key:              res.Key.String(),
		Value:            res.Value,
		BlockNumber:      res.BlockNumber,
		BlockHash:        res.BlockHash,
		TotalStake:       res.Quorum.TotalStake.Dec(),
		DirectoryVersion: res.DirectoryVersion,
	}
	for _, m := range res.Quorum.Members {
		out.Providers = append(out.Providers, m.Address)
	}
	for _, e := range res.Inconclusive {
		out.Inconclusive = append(out.Inconclusive, e.Error())
	}
	return out
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	key, err := types.ParseStateKey(args[1])
	if err != nil {
		return err
	}
	minStake, err := conf.Light.MinTotalStake()
	if err != nil {
		return err
	}
	o, err := newOracle(ctx)
	if err != nil {
		return err
	}
	defer o.Close()

	db, err := openDB("light")
	if err != nil {
		return err
	}
	defer db.Close()

	metrics := light.NopMetrics()
	if conf.Instrumentation.Prometheus {
		metrics = light.PrometheusMetrics(conf.Instrumentation.Namespace)
	}
	c, err := light.NewHTTPClient(conf.Registry(), o, minStake, conf.Light.Watchers,
		light.Logger(logger),
		light.WithMetrics(metrics),
		light.AlertWindow(conf.Light.AlertWindow),
		light.ProviderTimeout(conf.Light.ProviderTimeout),
		light.TrustedStore(dbs.New(db)),
	)
	if err != nil {
		return err
	}

	var blockNumber uint64
	if args[0] == "head" {
		if _, err := c.Bootstrap(ctx); err != nil {
			return err
		}
		blockNumber = c.TrustedHead().BlockNumber
	} else {
		blockNumber, err = strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid block number %q: %w", args[0], err)
		}
	}

	res, err := c.Query(ctx, blockNumber, key)
	if err != nil {
		return err
	}
	return printQueryOutput(cmd, newQueryOutput(res), viper.GetString(cli.OutputFlag))
}

func printQueryOutput(cmd *cobra.Command, out QueryOutput, format string) error {
	w := cmd.OutOrStdout()
	switch format {
	case "json":
		bz, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(bz))
		return err
	case "text", "":
		fmt.Fprintf(w, "%s @ #%d (%s)\n", out.Key, out.BlockNumber, out.BlockHash)
		fmt.Fprintf(w, "value: %s\n", out.Value)
		fmt.Fprintf(w, "quorum: %d providers, %s wei, directory v%d\n", len(out.Providers), out.TotalStake, out.DirectoryVersion)
		for _, inc := range out.Inconclusive {
			fmt.Fprintf(w, "inconclusive: %s\n", inc)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
