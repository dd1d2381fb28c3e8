package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakelight/stakelight/registry"
)

func TestManagerABI(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(ManagerABI))
	require.NoError(t, err)

	for _, m := range []string{
		"register", "requestWithdrawal", "executeWithdrawal", "buyInsurance",
		"unlockStake", "slash", "verifySignature", "dataProviders",
	} {
		assert.Contains(t, parsed.Methods, m)
	}
	for _, e := range []registry.EventType{
		registry.EventRegisterRequested, registry.EventWithdrawalRequested, registry.EventWithdrawn,
		registry.EventInsuranceBought, registry.EventStakesUnlocked, registry.EventSlashed,
	} {
		assert.Contains(t, parsed.Events, string(e))
	}

	_, err = parsed.Pack("buyInsurance",
		[]common.Address{{1}, {2}},
		[]*big.Int{big.NewInt(5), big.NewInt(5)},
		big.NewInt(86400))
	require.NoError(t, err)
}

func TestDecodeProviderOutput(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(ManagerABI))
	require.NoError(t, err)

	method := parsed.Methods["dataProviders"]
	enc, err := method.Outputs.Pack(
		big.NewInt(1000), big.NewInt(10), true, false, big.NewInt(0), "dp.example", uint16(443))
	require.NoError(t, err)
	out, err := method.Outputs.Unpack(enc)
	require.NoError(t, err)

	addr := common.Address{0xaa}
	rec, err := decodeProvider(addr, out)
	require.NoError(t, err)
	assert.Equal(t, addr, rec.Address)
	assert.Equal(t, uint256.NewInt(1000), rec.Stake)
	assert.Equal(t, uint256.NewInt(10), rec.LockedStake)
	assert.Equal(t, "dp.example:443", rec.Endpoint())

	enc, err = method.Outputs.Pack(big.NewInt(0), big.NewInt(0), false, false, big.NewInt(0), "", uint16(0))
	require.NoError(t, err)
	out, err = method.Outputs.Unpack(enc)
	require.NoError(t, err)
	_, err = decodeProvider(addr, out)
	assert.ErrorIs(t, err, registry.ErrUnknownProvider)

	_, err = decodeProvider(addr, out[:3])
	assert.Error(t, err)
}

func TestParseRevert(t *testing.T) {
	testCases := map[string]error{
		"execution reverted: Insufficient stake":           registry.ErrInsufficientStake,
		"execution reverted: Provider already registered":  registry.ErrAlreadyRegistered,
		"execution reverted: Provider not active":          registry.ErrProviderNotActive,
		"execution reverted: Insufficient available stake": registry.ErrInsufficientAvailableStake,
		"execution reverted: Low fee payment":              registry.ErrLowFeePayment,
		"execution reverted: Insurance not expired yet":    registry.ErrInsuranceNotExpired,
	}
	for msg, want := range testCases {
		assert.ErrorIs(t, parseRevert(errors.New(msg)), want, msg)
	}

	other := errors.New("connection refused")
	assert.Equal(t, other, parseRevert(other))
}

func TestReadOnlyRegistry(t *testing.T) {
	r, err := New(common.Address{0x01}, nil, nil, nil)
	require.NoError(t, err)

	err = r.RequestWithdrawal(context.Background(), common.Address{0x02})
	assert.Error(t, err)

	r.opts = &bind.TransactOpts{From: common.Address{0x03}}
	err = r.RequestWithdrawal(context.Background(), common.Address{0x02})
	assert.Error(t, err)
}
