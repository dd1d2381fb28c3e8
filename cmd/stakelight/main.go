package main

import (
	"context"
	"os"

	cmd "github.com/stakelight/stakelight/cmd/stakelight/commands"
	"github.com/stakelight/stakelight/libs/cli"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.ShowAddressCmd,
		cmd.RunProviderCmd,
		cmd.RunWatcherCmd,
		cmd.QueryCmd,
		cmd.RegistryCmd,
		cmd.DevnetCmd,
		cmd.VersionCmd,
	)

	if err := cli.RunWithTrace(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
