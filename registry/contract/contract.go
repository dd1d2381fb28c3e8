// Package contract implements the registry against a deployed
// DataProviderManager contract through go-ethereum ABI bindings.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/stakelight/stakelight/libs/log"
	"github.com/stakelight/stakelight/registry"
	"github.com/stakelight/stakelight/types"
)

// Backend is what the registry client needs from a node connection.
// *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Registry is a registry.Registry backed by a deployed contract. Mutating
// operations are sent from the account of the transactor and wait until the
// transaction is mined.
type Registry struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	backend  Backend
	opts     *bind.TransactOpts
	logger   log.Logger
}

var _ registry.Registry = (*Registry)(nil)

// New binds the contract at address. opts signs transactions; it may be nil
// for a read-only client.
func New(address common.Address, backend Backend, opts *bind.TransactOpts, logger log.Logger) (*Registry, error) {
	parsed, err := abi.JSON(strings.NewReader(ManagerABI))
	if err != nil {
		return nil, fmt.Errorf("parsing registry ABI: %w", err)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend:  backend,
		opts:     opts,
		logger:   logger.With("module", "registry", "contract", address),
	}, nil
}

// Address returns the contract address.
func (r *Registry) Address() common.Address { return r.address }

func (r *Registry) Register(ctx context.Context, from common.Address, hostname string, port uint16, value *uint256.Int) error {
	_, err := r.transact(ctx, from, value, "register", hostname, port)
	return err
}

func (r *Registry) RequestWithdrawal(ctx context.Context, from common.Address) error {
	_, err := r.transact(ctx, from, nil, "requestWithdrawal")
	return err
}

func (r *Registry) ExecuteWithdrawal(ctx context.Context, provider common.Address) (*uint256.Int, error) {
	receipt, err := r.transact(ctx, r.sender(), nil, "executeWithdrawal", provider)
	if err != nil {
		return nil, err
	}
	var ev struct {
		Provider common.Address
		Amount   *big.Int
	}
	if err := r.unpackEvent(receipt, "Withdrawn", &ev); err != nil {
		return nil, err
	}
	amount, overflow := uint256.FromBig(ev.Amount)
	if overflow {
		return nil, errors.New("withdrawn amount overflows 256 bits")
	}
	return amount, nil
}

func (r *Registry) BuyInsurance(
	ctx context.Context,
	buyer common.Address,
	providers []common.Address,
	amounts []*uint256.Int,
	duration uint64,
	fee *uint256.Int,
) (uint64, error) {
	if len(providers) != len(amounts) {
		return 0, registry.ErrLengthMismatch
	}
	bigAmounts := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		bigAmounts[i] = a.ToBig()
	}
	receipt, err := r.transact(ctx, buyer, fee, "buyInsurance", providers, bigAmounts, new(big.Int).SetUint64(duration))
	if err != nil {
		return 0, err
	}
	var ev struct {
		Buyer       common.Address
		InsuranceId *big.Int //nolint:revive
	}
	if err := r.unpackEvent(receipt, "InsuranceBought", &ev); err != nil {
		return 0, err
	}
	if !ev.InsuranceId.IsUint64() {
		return 0, fmt.Errorf("insurance id %v overflows uint64", ev.InsuranceId)
	}
	return ev.InsuranceId.Uint64(), nil
}

func (r *Registry) UnlockStake(ctx context.Context, id uint64) error {
	_, err := r.transact(ctx, r.sender(), nil, "unlockStake", new(big.Int).SetUint64(id))
	return err
}

func (r *Registry) Slash(ctx context.Context, provider common.Address, evidence []byte) (common.Hash, error) {
	receipt, err := r.transact(ctx, r.sender(), nil, "slash", provider, evidence)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// VerifySignature calls the contract's reference signature check.
func (r *Registry) VerifySignature(
	ctx context.Context,
	signer common.Address,
	blockNumber uint64,
	blockHash common.Hash,
	proof, signature []byte,
) (bool, error) {
	var out []interface{}
	err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "verifySignature",
		signer, new(big.Int).SetUint64(blockNumber), blockHash, proof, signature)
	if err != nil {
		return false, parseRevert(err)
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

func (r *Registry) Provider(ctx context.Context, addr common.Address) (*types.ProviderRecord, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "dataProviders", addr); err != nil {
		return nil, parseRevert(err)
	}
	return decodeProvider(addr, out)
}

func (r *Registry) Providers(ctx context.Context) ([]*types.ProviderRecord, error) {
	opts := &bind.CallOpts{Context: ctx}
	var out []interface{}
	if err := r.contract.Call(opts, &out, "dataProvidersCount"); err != nil {
		return nil, parseRevert(err)
	}
	count, ok := out[0].(*big.Int)
	if !ok || !count.IsInt64() || count.Int64() > registry.MaxProviders {
		return nil, fmt.Errorf("bad provider count %v", out[0])
	}

	records := make([]*types.ProviderRecord, 0, count.Int64())
	for i := int64(0); i < count.Int64(); i++ {
		out = out[:0]
		if err := r.contract.Call(opts, &out, "dataProviderAt", big.NewInt(i)); err != nil {
			return nil, parseRevert(err)
		}
		addr, ok := out[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("bad provider address %v", out[0])
		}
		rec, err := r.Provider(ctx, addr)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeProvider(addr common.Address, out []interface{}) (*types.ProviderRecord, error) {
	if len(out) != 7 {
		return nil, fmt.Errorf("dataProviders returned %d values, want 7", len(out))
	}
	stake, ok1 := out[0].(*big.Int)
	locked, ok2 := out[1].(*big.Int)
	active, ok3 := out[2].(bool)
	leaving, ok4 := out[3].(bool)
	since, ok5 := out[4].(*big.Int)
	hostname, ok6 := out[5].(string)
	port, ok7 := out[6].(uint16)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return nil, errors.New("unexpected dataProviders output types")
	}
	if stake.Sign() == 0 && !active && !leaving {
		return nil, registry.ErrUnknownProvider
	}
	rec := &types.ProviderRecord{
		Address:           addr,
		Hostname:          hostname,
		Port:              port,
		Stake:             uint256.MustFromBig(stake),
		LockedStake:       uint256.MustFromBig(locked),
		IsActive:          active,
		IsLeaving:         leaving,
		LeavingSinceBlock: since.Uint64(),
	}
	return rec, rec.ValidateBasic()
}

func (r *Registry) sender() common.Address {
	if r.opts == nil {
		return common.Address{}
	}
	return r.opts.From
}

func (r *Registry) transact(
	ctx context.Context,
	from common.Address,
	value *uint256.Int,
	method string,
	params ...interface{},
) (*ethtypes.Receipt, error) {
	if r.opts == nil {
		return nil, errors.New("registry client is read-only")
	}
	if from != r.opts.From {
		return nil, fmt.Errorf("cannot send from %v: transactor is %v", from, r.opts.From)
	}
	opts := *r.opts
	opts.Context = ctx
	if value != nil {
		opts.Value = value.ToBig()
	}

	tx, err := r.contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, parseRevert(err)
	}
	r.logger.Debug("transaction sent", "method", method, "tx", tx.Hash())

	receipt, err := bind.WaitMined(ctx, r.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", method, err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s transaction %v reverted", method, tx.Hash())
	}
	return receipt, nil
}

func (r *Registry) unpackEvent(receipt *ethtypes.Receipt, name string, out interface{}) error {
	event, ok := r.abi.Events[name]
	if !ok {
		return fmt.Errorf("unknown event %s", name)
	}
	for _, l := range receipt.Logs {
		if l.Address != r.address || len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}
		return r.contract.UnpackLog(out, name, *l)
	}
	return fmt.Errorf("no %s event in transaction %v", name, receipt.TxHash)
}

var revertReasons = []struct {
	reason string
	err    error
}{
	{"Insufficient stake", registry.ErrInsufficientStake},
	{"Provider already registered", registry.ErrAlreadyRegistered},
	{"Provider not active", registry.ErrProviderNotActive},
	{"Cooldown", registry.ErrCooldownNotElapsed},
	{"Insufficient available stake", registry.ErrInsufficientAvailableStake},
	{"Low fee payment", registry.ErrLowFeePayment},
	{"Insurance not expired", registry.ErrInsuranceNotExpired},
}

// parseRevert maps a revert reason of the contract to a registry error.
func parseRevert(err error) error {
	msg := err.Error()
	for _, r := range revertReasons {
		if strings.Contains(msg, r.reason) {
			return fmt.Errorf("%w: %v", r.err, err)
		}
	}
	return err
}
