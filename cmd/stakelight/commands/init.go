package commands

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	cfg "github.com/stakelight/stakelight/config"
	tmos "github.com/stakelight/stakelight/libs/os"
)

// InitFilesCmd initializes a fresh stakelight home: config file and node key.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the config file and node key",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	configFile := filepath.Join(conf.RootDir, "config", "config.toml")
	if tmos.FileExists(configFile) {
		logger.Info("Found config file", "path", configFile)
	} else {
		if err := cfg.WriteConfigFile(conf.RootDir, conf); err != nil {
			return err
		}
		logger.Info("Generated config file", "path", configFile)
	}

	keyFile := conf.KeyFile()
	if tmos.FileExists(keyFile) {
		logger.Info("Found node key", "path", keyFile)
		return nil
	}
	if err := tmos.EnsureDir(filepath.Dir(keyFile), 0700); err != nil {
		return err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveECDSA(keyFile, key); err != nil {
		return fmt.Errorf("saving key: %w", err)
	}
	logger.Info("Generated node key", "path", keyFile, "address", crypto.PubkeyToAddress(key.PublicKey))
	return nil
}

// ShowAddressCmd prints the address of the node key.
var ShowAddressCmd = &cobra.Command{
	Use:   "show-address",
	Short: "Show the address of this node's key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := loadKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), crypto.PubkeyToAddress(key.PublicKey).Hex())
		return nil
	},
}
