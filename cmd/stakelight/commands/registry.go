package commands

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/stakelight/stakelight/registry/contract"
)

// RegistryCmd groups the registry transactions and queries.
var RegistryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Interact with the provider registry contract",
}

var (
	registerStake    string
	insuranceFee     string
	insuranceBlocks  uint64
	insuranceAmounts []string
)

func init() {
	registerCmd.Flags().StringVar(&registerStake, "stake", "1000000000000000000", "stake in wei")

	buyInsuranceCmd.Flags().StringVar(&insuranceFee, "fee", "", "fee in wei, at least the sum of the amounts")
	buyInsuranceCmd.Flags().Uint64Var(&insuranceBlocks, "duration", 100, "insurance duration in blocks")
	buyInsuranceCmd.Flags().StringSliceVar(&insuranceAmounts, "amounts", nil, "amount in wei to lock per provider")

	RegistryCmd.AddCommand(
		registerCmd,
		requestWithdrawalCmd,
		executeWithdrawalCmd,
		buyInsuranceCmd,
		unlockStakeCmd,
		providersCmd,
	)
}

// withRegistry runs f against the registry contract, signing with the node
// key when sign is set.
func withRegistry(
	cmd *cobra.Command,
	sign bool,
	f func(ctx context.Context, reg *contract.Registry, from common.Address) error,
) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), ctxTimeout)
	defer cancel()

	var (
		key  *ecdsa.PrivateKey
		from common.Address
		err  error
	)
	if sign {
		if key, err = loadKey(); err != nil {
			return err
		}
		from = crypto.PubkeyToAddress(key.PublicKey)
	}
	reg, err := newContractRegistry(ctx, key)
	if err != nil {
		return err
	}
	return f(ctx, reg, from)
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Stake and register this node as a data provider",
	Long: `Register announces provider.external-host and provider.external-port
from the config and stakes --stake wei from the node key's account.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stake, err := parseWei(registerStake)
		if err != nil {
			return err
		}
		return withRegistry(cmd, true, func(ctx context.Context, reg *contract.Registry, from common.Address) error {
			if err := reg.Register(ctx, from, conf.Provider.ExternalHost, conf.Provider.ExternalPort, stake); err != nil {
				return err
			}
			logger.Info("Registered provider", "address", from, "stake", stake.Dec())
			return nil
		})
	},
}

var requestWithdrawalCmd = &cobra.Command{
	Use:   "request-withdrawal",
	Short: "Leave the registry and start the withdrawal cooldown",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, true, func(ctx context.Context, reg *contract.Registry, from common.Address) error {
			if err := reg.RequestWithdrawal(ctx, from); err != nil {
				return err
			}
			logger.Info("Requested withdrawal", "address", from)
			return nil
		})
	},
}

var executeWithdrawalCmd = &cobra.Command{
	Use:   "execute-withdrawal [provider]",
	Short: "Pay out the stake of a leaving provider after the cooldown",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, true, func(ctx context.Context, reg *contract.Registry, from common.Address) error {
			provider := from
			if len(args) == 1 {
				if !common.IsHexAddress(args[0]) {
					return fmt.Errorf("invalid provider address %q", args[0])
				}
				provider = common.HexToAddress(args[0])
			}
			amount, err := reg.ExecuteWithdrawal(ctx, provider)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), amount.Dec())
			return nil
		})
	},
}

var buyInsuranceCmd = &cobra.Command{
	Use:   "buy-insurance <provider>...",
	Short: "Lock provider stake as insurance for the given duration",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(insuranceAmounts) != len(args) {
			return fmt.Errorf("got %d amounts for %d providers", len(insuranceAmounts), len(args))
		}
		providers := make([]common.Address, len(args))
		amounts := make([]*uint256.Int, len(args))
		total := new(uint256.Int)
		for i, arg := range args {
			if !common.IsHexAddress(arg) {
				return fmt.Errorf("invalid provider address %q", arg)
			}
			providers[i] = common.HexToAddress(arg)
			amount, err := parseWei(insuranceAmounts[i])
			if err != nil {
				return err
			}
			amounts[i] = amount
			total.Add(total, amount)
		}
		fee := total
		if insuranceFee != "" {
			var err error
			if fee, err = parseWei(insuranceFee); err != nil {
				return err
			}
		}
		return withRegistry(cmd, true, func(ctx context.Context, reg *contract.Registry, from common.Address) error {
			id, err := reg.BuyInsurance(ctx, from, providers, amounts, insuranceBlocks, fee)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var unlockStakeCmd = &cobra.Command{
	Use:   "unlock-stake <insurance-id>",
	Short: "Release the stake locked by an expired insurance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid insurance id %q: %w", args[0], err)
		}
		return withRegistry(cmd, true, func(ctx context.Context, reg *contract.Registry, _ common.Address) error {
			return reg.UnlockStake(ctx, id)
		})
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List registered providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, false, func(ctx context.Context, reg *contract.Registry, _ common.Address) error {
			records, err := reg.Providers(ctx)
			if err != nil {
				return err
			}
			bz, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bz))
			return nil
		})
	},
}
