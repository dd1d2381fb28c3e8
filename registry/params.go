package registry

import (
	"errors"

	"github.com/holiman/uint256"
)

// Ether is 10^18 wei.
var Ether = uint256.NewInt(1_000_000_000_000_000_000)

// Params are the economic parameters of a registry.
type Params struct {
	// MinStake is the smallest stake Register accepts.
	MinStake *uint256.Int `mapstructure:"min-stake"`
	// EpochLength is the update epoch in blocks. The withdrawal cooldown is
	// two epochs.
	EpochLength uint64 `mapstructure:"epoch-length"`
	// SlashAmount is confiscated per slash. Nil confiscates all unlocked
	// stake.
	SlashAmount *uint256.Int `mapstructure:"slash-amount"`
}

// DefaultParams mirrors the deployed contract: 1 ether minimum stake and a
// 50 block epoch.
func DefaultParams() Params {
	return Params{
		MinStake:    new(uint256.Int).Set(Ether),
		EpochLength: 50,
	}
}

// Cooldown is the number of blocks a leaving provider waits before its stake
// can be withdrawn.
func (p Params) Cooldown() uint64 {
	return 2 * p.EpochLength
}

// ValidateBasic checks the parameters.
func (p Params) ValidateBasic() error {
	if p.MinStake == nil || p.MinStake.IsZero() {
		return errors.New("min stake must be positive")
	}
	if p.EpochLength == 0 {
		return errors.New("epoch length must be positive")
	}
	return nil
}
