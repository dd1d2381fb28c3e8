package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/orderedcode"
	"github.com/holiman/uint256"
	dbm "github.com/tendermint/tm-db"

	"github.com/stakelight/stakelight/libs/log"
	"github.com/stakelight/stakelight/types"
)

// key prefixes
const (
	// prefixes are unique across all stakelight dbs
	prefixProvider      = int64(1)
	prefixProviderIndex = int64(2)
	prefixInsurance     = int64(3)
	prefixEvent         = int64(4)
	prefixBalance       = int64(5)
	prefixCounter       = int64(6)
)

const (
	counterProvider  = "provider"
	counterInsurance = "insurance"
	counterEvent     = "event"
)

// Treasury receives insurance fees and slashed stake.
var Treasury = common.Address{}

// Ledger is a registry kept in a local database. It follows the rules of the
// on-chain registry under a block clock and can publish its provider list in
// the contract storage layout.
//
// Ledger is safe for concurrent use.
type Ledger struct {
	mtx    sync.Mutex
	db     dbm.DB
	clock  BlockClock
	params Params
	logger log.Logger
}

var _ Registry = (*Ledger)(nil)

// NewLedger returns a ledger persisted in db.
func NewLedger(db dbm.DB, clock BlockClock, params Params, logger log.Logger) (*Ledger, error) {
	if err := params.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid registry params: %w", err)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Ledger{
		db:     db,
		clock:  clock,
		params: params,
		logger: logger.With("module", "registry"),
	}, nil
}

// Params returns the ledger's parameters.
func (l *Ledger) Params() Params { return l.params }

func (l *Ledger) Register(ctx context.Context, from common.Address, hostname string, port uint16, value *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if value == nil || value.Lt(l.params.MinStake) {
		return ErrInsufficientStake
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	rec, seq, err := l.loadProvider(from)
	switch {
	case errors.Is(err, ErrUnknownProvider):
		rec = types.NewProviderRecord(from, hostname, port, value)
		if seq, err = l.nextCounter(counterProvider); err != nil {
			return err
		}
	case err != nil:
		return err
	case rec.IsActive:
		return ErrAlreadyRegistered
	default:
		// a deactivated provider tops up its remaining stake
		rec.Hostname, rec.Port = hostname, port
		rec.Stake.Add(rec.Stake, value)
		rec.IsActive, rec.IsLeaving, rec.LeavingSinceBlock = true, false, 0
	}
	if err := rec.ValidateBasic(); err != nil {
		return err
	}

	batch := l.db.NewBatch()
	defer batch.Close()
	if err := l.saveProvider(batch, seq, rec); err != nil {
		return err
	}
	ev := Event{Type: EventRegisterRequested, Provider: from, Amount: value.Clone()}
	if err := l.commit(batch, ev); err != nil {
		return err
	}
	l.logger.Info("provider registered", "provider", from, "stake", rec.Stake.Dec(), "endpoint", rec.Endpoint())
	return nil
}

func (l *Ledger) RequestWithdrawal(ctx context.Context, from common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()

	rec, seq, err := l.loadProvider(from)
	if errors.Is(err, ErrUnknownProvider) {
		return ErrProviderNotActive
	} else if err != nil {
		return err
	}
	if !rec.Eligible() {
		return ErrProviderNotActive
	}
	rec.IsLeaving = true
	rec.LeavingSinceBlock = l.clock.BlockNumber()

	batch := l.db.NewBatch()
	defer batch.Close()
	if err := l.saveProvider(batch, seq, rec); err != nil {
		return err
	}
	if err := l.commit(batch, Event{Type: EventWithdrawalRequested, Provider: from}); err != nil {
		return err
	}
	l.logger.Info("withdrawal requested", "provider", from, "since", rec.LeavingSinceBlock)
	return nil
}

func (l *Ledger) ExecuteWithdrawal(ctx context.Context, provider common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()

	rec, seq, err := l.loadProvider(provider)
	if err != nil {
		return nil, err
	}
	if !rec.IsLeaving {
		return nil, ErrNotLeaving
	}
	if l.clock.BlockNumber() < rec.LeavingSinceBlock+l.params.Cooldown() {
		return nil, ErrCooldownNotElapsed
	}
	if !rec.LockedStake.IsZero() {
		return nil, ErrStakeLocked
	}

	payout := rec.Stake.Clone()
	batch := l.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(providerKey(seq)); err != nil {
		return nil, err
	}
	if err := batch.Delete(providerIndexKey(provider)); err != nil {
		return nil, err
	}
	if err := l.credit(batch, provider, payout); err != nil {
		return nil, err
	}
	if err := l.commit(batch, Event{Type: EventWithdrawn, Provider: provider, Amount: payout.Clone()}); err != nil {
		return nil, err
	}
	l.logger.Info("stake withdrawn", "provider", provider, "amount", payout.Dec())
	return payout, nil
}

func (l *Ledger) BuyInsurance(
	ctx context.Context,
	buyer common.Address,
	providers []common.Address,
	amounts []*uint256.Int,
	duration uint64,
	fee *uint256.Int,
) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(providers) != len(amounts) {
		return 0, ErrLengthMismatch
	}
	policy := &types.InsurancePolicy{
		Buyer:     buyer,
		Providers: providers,
		Amounts:   amounts,
	}
	if err := policy.ValidateBasic(); err != nil {
		return 0, err
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	records := make([]*types.ProviderRecord, len(providers))
	seqs := make([]uint64, len(providers))
	for i, addr := range providers {
		rec, seq, err := l.loadProvider(addr)
		if err != nil {
			return 0, fmt.Errorf("provider %v: %w", addr, err)
		}
		if !rec.Eligible() {
			return 0, fmt.Errorf("provider %v: %w", addr, ErrProviderNotActive)
		}
		if rec.AvailableStake().Lt(amounts[i]) {
			return 0, ErrInsufficientAvailableStake
		}
		records[i], seqs[i] = rec, seq
	}
	if fee == nil || fee.Lt(policy.Total()) {
		return 0, ErrLowFeePayment
	}

	id, err := l.nextCounter(counterInsurance)
	if err != nil {
		return 0, err
	}
	policy.ID = id
	policy.Expiry = l.clock.BlockNumber() + duration

	batch := l.db.NewBatch()
	defer batch.Close()
	for i, rec := range records {
		rec.LockedStake.Add(rec.LockedStake, amounts[i])
		if err := l.saveProvider(batch, seqs[i], rec); err != nil {
			return 0, err
		}
	}
	bz, err := json.Marshal(policy)
	if err != nil {
		return 0, err
	}
	if err := batch.Set(insuranceKey(id), bz); err != nil {
		return 0, err
	}
	if err := l.credit(batch, Treasury, fee); err != nil {
		return 0, err
	}
	if err := l.commit(batch, Event{Type: EventInsuranceBought, Provider: buyer, InsuranceID: id, Amount: fee.Clone()}); err != nil {
		return 0, err
	}
	l.logger.Info("insurance bought", "id", id, "buyer", buyer, "providers", len(providers), "expiry", policy.Expiry)
	return id, nil
}

func (l *Ledger) UnlockStake(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()

	policy, err := l.loadInsurance(id)
	if err != nil {
		return err
	}
	if l.clock.BlockNumber() < policy.Expiry {
		return ErrInsuranceNotExpired
	}

	batch := l.db.NewBatch()
	defer batch.Close()
	for i, addr := range policy.Providers {
		rec, seq, err := l.loadProvider(addr)
		if errors.Is(err, ErrUnknownProvider) {
			continue
		} else if err != nil {
			return err
		}
		if rec.LockedStake.Lt(policy.Amounts[i]) {
			rec.LockedStake.Clear()
		} else {
			rec.LockedStake.Sub(rec.LockedStake, policy.Amounts[i])
		}
		if err := l.saveProvider(batch, seq, rec); err != nil {
			return err
		}
	}
	if err := batch.Delete(insuranceKey(id)); err != nil {
		return err
	}
	if err := l.commit(batch, Event{Type: EventStakesUnlocked, InsuranceID: id}); err != nil {
		return err
	}
	l.logger.Info("stakes unlocked", "id", id)
	return nil
}

// Slash confiscates up to the configured slash amount of the provider's
// unlocked stake and deactivates it. The returned hash identifies the slash.
func (l *Ledger) Slash(ctx context.Context, provider common.Address, evidence []byte) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()

	rec, seq, err := l.loadProvider(provider)
	if err != nil {
		return common.Hash{}, err
	}
	amount := rec.AvailableStake()
	if l.params.SlashAmount != nil && l.params.SlashAmount.Lt(amount) {
		amount = l.params.SlashAmount.Clone()
	}
	if amount.IsZero() && !rec.IsActive {
		return common.Hash{}, ErrNothingToSlash
	}
	rec.Stake.Sub(rec.Stake, amount)
	rec.IsActive = false

	batch := l.db.NewBatch()
	defer batch.Close()
	if err := l.saveProvider(batch, seq, rec); err != nil {
		return common.Hash{}, err
	}
	if err := l.credit(batch, Treasury, amount); err != nil {
		return common.Hash{}, err
	}
	ev := Event{Type: EventSlashed, Provider: provider, Amount: amount.Clone()}
	if err := l.commit(batch, ev); err != nil {
		return common.Hash{}, err
	}

	ref := crypto.Keccak256Hash(provider.Bytes(), evidence, uint256.NewInt(l.clock.BlockNumber()).Bytes())
	l.logger.Info("provider slashed", "provider", provider, "amount", amount.Dec(), "ref", ref)
	return ref, nil
}

// VerifySignature is the read-only reference check of an attestation
// signature.
func (l *Ledger) VerifySignature(signer common.Address, blockNumber uint64, blockHash common.Hash, proof, signature []byte) (bool, error) {
	return VerifySignature(signer, blockNumber, blockHash, proof, signature)
}

func (l *Ledger) Provider(ctx context.Context, addr common.Address) (*types.ProviderRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	rec, _, err := l.loadProvider(addr)
	return rec, err
}

func (l *Ledger) Providers(ctx context.Context) ([]*types.ProviderRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.providers()
}

func (l *Ledger) providers() ([]*types.ProviderRecord, error) {
	iter, err := dbm.IteratePrefix(l.db, prefixToBytes(prefixProvider))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var records []*types.ProviderRecord
	for ; iter.Valid(); iter.Next() {
		rec := new(types.ProviderRecord)
		if err := json.Unmarshal(iter.Value(), rec); err != nil {
			return nil, fmt.Errorf("decoding provider record: %w", err)
		}
		records = append(records, rec)
	}
	return records, iter.Error()
}

// Insurance returns the policy with the given id.
func (l *Ledger) Insurance(id uint64) (*types.InsurancePolicy, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.loadInsurance(id)
}

// Balance returns the amount paid out to addr so far.
func (l *Ledger) Balance(addr common.Address) (*uint256.Int, error) {
	bz, err := l.db.Get(balanceKey(addr))
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(bz), nil
}

// Events returns the events with sequence number >= from, oldest first.
func (l *Ledger) Events(from uint64) ([]Event, error) {
	start := eventKey(from)
	end := prefixToBytes(prefixEvent + 1)
	iter, err := l.db.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var events []Event
	for ; iter.Valid(); iter.Next() {
		var ev Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		events = append(events, ev)
	}
	return events, iter.Error()
}

// StorageSlots returns the provider list in the registry contract storage
// layout.
func (l *Ledger) StorageSlots() (map[common.Hash]common.Hash, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	records, err := l.providers()
	if err != nil {
		return nil, err
	}
	return EncodeProviderSlots(records)
}

// StorageWriter receives contract storage.
type StorageWriter interface {
	ReplaceStorage(contract common.Address, slots map[common.Hash]common.Hash)
}

// PublishTo writes the provider list as the storage of contract.
func (l *Ledger) PublishTo(w StorageWriter, contract common.Address) error {
	slots, err := l.StorageSlots()
	if err != nil {
		return err
	}
	w.ReplaceStorage(contract, slots)
	return nil
}

func (l *Ledger) loadProvider(addr common.Address) (*types.ProviderRecord, uint64, error) {
	bz, err := l.db.Get(providerIndexKey(addr))
	if err != nil {
		return nil, 0, err
	}
	if bz == nil {
		return nil, 0, ErrUnknownProvider
	}
	seq := new(uint256.Int).SetBytes(bz).Uint64()

	bz, err = l.db.Get(providerKey(seq))
	if err != nil {
		return nil, 0, err
	}
	if bz == nil {
		return nil, 0, fmt.Errorf("provider %v: index points to missing record %d", addr, seq)
	}
	rec := new(types.ProviderRecord)
	if err := json.Unmarshal(bz, rec); err != nil {
		return nil, 0, fmt.Errorf("decoding provider record: %w", err)
	}
	return rec, seq, nil
}

func (l *Ledger) saveProvider(batch dbm.Batch, seq uint64, rec *types.ProviderRecord) error {
	bz, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := batch.Set(providerKey(seq), bz); err != nil {
		return err
	}
	return batch.Set(providerIndexKey(rec.Address), uint256.NewInt(seq).Bytes())
}

func (l *Ledger) loadInsurance(id uint64) (*types.InsurancePolicy, error) {
	bz, err := l.db.Get(insuranceKey(id))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		return nil, ErrUnknownInsurance
	}
	policy := new(types.InsurancePolicy)
	if err := json.Unmarshal(bz, policy); err != nil {
		return nil, fmt.Errorf("decoding insurance: %w", err)
	}
	return policy, nil
}

func (l *Ledger) credit(batch dbm.Batch, addr common.Address, amount *uint256.Int) error {
	bal, err := l.Balance(addr)
	if err != nil {
		return err
	}
	bal.Add(bal, amount)
	return batch.Set(balanceKey(addr), bal.Bytes())
}

// commit stamps ev with the next sequence number and the current block and
// writes it together with batch.
func (l *Ledger) commit(batch dbm.Batch, ev Event) error {
	seq, err := l.nextCounter(counterEvent)
	if err != nil {
		return err
	}
	ev.Seq = seq
	ev.Block = l.clock.BlockNumber()
	bz, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := batch.Set(eventKey(seq), bz); err != nil {
		return err
	}
	return batch.WriteSync()
}

// nextCounter returns the next value of a counter, starting at 1. Counters
// are persisted immediately so ids are never reused, even if the batch the
// id was taken for is not written.
func (l *Ledger) nextCounter(name string) (uint64, error) {
	key := counterKey(name)
	bz, err := l.db.Get(key)
	if err != nil {
		return 0, err
	}
	next := new(uint256.Int).SetBytes(bz).Uint64() + 1
	if err := l.db.SetSync(key, uint256.NewInt(next).Bytes()); err != nil {
		return 0, err
	}
	return next, nil
}

func prefixToBytes(prefix int64) []byte {
	key, err := orderedcode.Append(nil, prefix)
	if err != nil {
		panic(err)
	}
	return key
}

func providerKey(seq uint64) []byte {
	key, err := orderedcode.Append(nil, prefixProvider, seq)
	if err != nil {
		panic(err)
	}
	return key
}

func providerIndexKey(addr common.Address) []byte {
	key, err := orderedcode.Append(nil, prefixProviderIndex, string(addr.Bytes()))
	if err != nil {
		panic(err)
	}
	return key
}

func insuranceKey(id uint64) []byte {
	key, err := orderedcode.Append(nil, prefixInsurance, id)
	if err != nil {
		panic(err)
	}
	return key
}

func eventKey(seq uint64) []byte {
	key, err := orderedcode.Append(nil, prefixEvent, seq)
	if err != nil {
		panic(err)
	}
	return key
}

func balanceKey(addr common.Address) []byte {
	key, err := orderedcode.Append(nil, prefixBalance, string(addr.Bytes()))
	if err != nil {
		panic(err)
	}
	return key
}

func counterKey(name string) []byte {
	key, err := orderedcode.Append(nil, prefixCounter, name)
	if err != nil {
		panic(err)
	}
	return key
}
