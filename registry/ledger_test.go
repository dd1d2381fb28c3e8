package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/stakelight/stakelight/libs/log"
	"github.com/stakelight/stakelight/types"
)

type manualClock struct {
	n atomic.Uint64
}

func (c *manualClock) BlockNumber() uint64 { return c.n.Load() }
func (c *manualClock) mine(n uint64)       { c.n.Add(n) }

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), Ether)
}

func halfEther() *uint256.Int {
	return new(uint256.Int).Div(Ether, uint256.NewInt(2))
}

func newTestLedger(t *testing.T) (*Ledger, *manualClock) {
	t.Helper()
	clock := &manualClock{}
	clock.mine(1)
	l, err := NewLedger(dbm.NewMemDB(), clock, DefaultParams(), log.TestingLogger())
	require.NoError(t, err)
	return l, clock
}

func testAddress(i byte) common.Address {
	return common.BytesToAddress([]byte{0xa0, i})
}

func eventTypes(t *testing.T, l *Ledger) []EventType {
	t.Helper()
	events, err := l.Events(0)
	require.NoError(t, err)
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestLedgerRegister(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	addr := testAddress(1)

	require.NoError(t, l.Register(ctx, addr, "dp1.example.org", 8080, ether(1)))
	rec, err := l.Provider(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, ether(1), rec.Stake)
	assert.True(t, rec.IsActive)
	assert.False(t, rec.IsLeaving)
	assert.Equal(t, "dp1.example.org:8080", rec.Endpoint())
	assert.Equal(t, []EventType{EventRegisterRequested}, eventTypes(t, l))

	err = l.Register(ctx, testAddress(2), "dp2", 1, halfEther())
	assert.ErrorIs(t, err, ErrInsufficientStake)

	err = l.Register(ctx, addr, "dp1.example.org", 8080, ether(1))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	err = l.Register(ctx, testAddress(3), "a-hostname-that-is-longer-than-32-bytes", 1, ether(1))
	assert.Error(t, err)
}

func TestLedgerWithdrawal(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t)
	addr := testAddress(1)

	err := l.RequestWithdrawal(ctx, addr)
	assert.ErrorIs(t, err, ErrProviderNotActive)

	require.NoError(t, l.Register(ctx, addr, "dp1", 26657, ether(1)))
	require.NoError(t, l.RequestWithdrawal(ctx, addr))

	rec, err := l.Provider(ctx, addr)
	require.NoError(t, err)
	assert.True(t, rec.IsLeaving)
	assert.Equal(t, clock.BlockNumber(), rec.LeavingSinceBlock)

	err = l.RequestWithdrawal(ctx, addr)
	assert.ErrorIs(t, err, ErrProviderNotActive)

	_, err = l.ExecuteWithdrawal(ctx, addr)
	assert.ErrorIs(t, err, ErrCooldownNotElapsed)

	clock.mine(l.Params().Cooldown() - 1)
	_, err = l.ExecuteWithdrawal(ctx, addr)
	assert.ErrorIs(t, err, ErrCooldownNotElapsed)

	clock.mine(1)
	paid, err := l.ExecuteWithdrawal(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, ether(1), paid)

	bal, err := l.Balance(addr)
	require.NoError(t, err)
	assert.Equal(t, ether(1), bal)

	_, err = l.Provider(ctx, addr)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.Equal(t, []EventType{
		EventRegisterRequested,
		EventWithdrawalRequested,
		EventWithdrawn,
	}, eventTypes(t, l))
}

func TestLedgerExecuteWithdrawalNotLeaving(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t)
	addr := testAddress(1)

	_, err := l.ExecuteWithdrawal(ctx, addr)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	require.NoError(t, l.Register(ctx, addr, "dp1", 1, ether(1)))
	clock.mine(1000)
	_, err = l.ExecuteWithdrawal(ctx, addr)
	assert.ErrorIs(t, err, ErrNotLeaving)
}

func TestLedgerInsurance(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t)
	p1, p2, buyer := testAddress(1), testAddress(2), testAddress(9)
	require.NoError(t, l.Register(ctx, p1, "dp1", 1, ether(1)))
	require.NoError(t, l.Register(ctx, p2, "dp2", 1, ether(1)))

	const duration = 86400
	id, err := l.BuyInsurance(ctx, buyer,
		[]common.Address{p1, p2},
		[]*uint256.Int{halfEther(), halfEther()},
		duration, ether(1))
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	for _, addr := range []common.Address{p1, p2} {
		rec, err := l.Provider(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, halfEther(), rec.LockedStake)
	}

	policy, err := l.Insurance(id)
	require.NoError(t, err)
	assert.Equal(t, clock.BlockNumber()+duration, policy.Expiry)
	assert.Equal(t, buyer, policy.Buyer)

	err = l.UnlockStake(ctx, id)
	assert.ErrorIs(t, err, ErrInsuranceNotExpired)

	clock.mine(duration)
	require.NoError(t, l.UnlockStake(ctx, id))
	for _, addr := range []common.Address{p1, p2} {
		rec, err := l.Provider(ctx, addr)
		require.NoError(t, err)
		assert.True(t, rec.LockedStake.IsZero())
	}

	err = l.UnlockStake(ctx, id)
	assert.ErrorIs(t, err, ErrUnknownInsurance)

	fees, err := l.Balance(Treasury)
	require.NoError(t, err)
	assert.Equal(t, ether(1), fees)

	assert.Equal(t, []EventType{
		EventRegisterRequested,
		EventRegisterRequested,
		EventInsuranceBought,
		EventStakesUnlocked,
	}, eventTypes(t, l))
}

func TestLedgerInsuranceErrors(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	p1, buyer := testAddress(1), testAddress(9)
	require.NoError(t, l.Register(ctx, p1, "dp1", 1, ether(1)))

	overCapacity := new(uint256.Int).Add(ether(1), halfEther())
	_, err := l.BuyInsurance(ctx, buyer, []common.Address{p1}, []*uint256.Int{overCapacity}, 10, ether(1))
	assert.ErrorIs(t, err, ErrInsufficientAvailableStake)

	_, err = l.BuyInsurance(ctx, buyer, []common.Address{p1}, []*uint256.Int{ether(1)}, 10, uint256.NewInt(100))
	assert.ErrorIs(t, err, ErrLowFeePayment)

	_, err = l.BuyInsurance(ctx, buyer, []common.Address{p1}, []*uint256.Int{ether(1), ether(1)}, 10, ether(2))
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = l.BuyInsurance(ctx, buyer, []common.Address{testAddress(7)}, []*uint256.Int{ether(1)}, 10, ether(1))
	assert.ErrorIs(t, err, ErrUnknownProvider)

	// locked stake is no longer available
	_, err = l.BuyInsurance(ctx, buyer, []common.Address{p1}, []*uint256.Int{halfEther()}, 10, halfEther())
	require.NoError(t, err)
	_, err = l.BuyInsurance(ctx, buyer, []common.Address{p1}, []*uint256.Int{ether(1)}, 10, ether(1))
	assert.ErrorIs(t, err, ErrInsufficientAvailableStake)
}

func TestLedgerWithdrawalWithLockedStake(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t)
	p1 := testAddress(1)
	require.NoError(t, l.Register(ctx, p1, "dp1", 1, ether(2)))
	id, err := l.BuyInsurance(ctx, testAddress(9), []common.Address{p1}, []*uint256.Int{ether(1)}, 500, ether(1))
	require.NoError(t, err)

	require.NoError(t, l.RequestWithdrawal(ctx, p1))
	clock.mine(l.Params().Cooldown())
	_, err = l.ExecuteWithdrawal(ctx, p1)
	assert.ErrorIs(t, err, ErrStakeLocked)

	clock.mine(500)
	require.NoError(t, l.UnlockStake(ctx, id))
	paid, err := l.ExecuteWithdrawal(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, ether(2), paid)
}

func TestLedgerSlash(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	p1 := testAddress(1)
	require.NoError(t, l.Register(ctx, p1, "dp1", 1, ether(3)))
	_, err := l.BuyInsurance(ctx, testAddress(9), []common.Address{p1}, []*uint256.Int{ether(1)}, 10, ether(1))
	require.NoError(t, err)

	ref, err := l.Slash(ctx, p1, []byte("evidence"))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, ref)

	rec, err := l.Provider(ctx, p1)
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
	// locked stake backs the insurance and is not confiscated
	assert.Equal(t, ether(1), rec.Stake)
	assert.Equal(t, ether(1), rec.LockedStake)

	_, err = l.Slash(ctx, p1, []byte("again"))
	assert.ErrorIs(t, err, ErrNothingToSlash)

	_, err = l.Slash(ctx, testAddress(5), nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	// a slashed provider can register again
	require.NoError(t, l.Register(ctx, p1, "dp1", 1, ether(1)))
	rec, err = l.Provider(ctx, p1)
	require.NoError(t, err)
	assert.True(t, rec.IsActive)
	assert.Equal(t, ether(2), rec.Stake)
}

func TestLedgerSlashAmount(t *testing.T) {
	ctx := context.Background()
	params := DefaultParams()
	params.SlashAmount = halfEther()
	l, err := NewLedger(dbm.NewMemDB(), &manualClock{}, params, nil)
	require.NoError(t, err)

	p1 := testAddress(1)
	require.NoError(t, l.Register(ctx, p1, "dp1", 1, ether(1)))
	_, err = l.Slash(ctx, p1, nil)
	require.NoError(t, err)

	rec, err := l.Provider(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, halfEther(), rec.Stake)
}

func TestLedgerProvidersOrderAndStorage(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t)
	for i := byte(1); i <= 4; i++ {
		require.NoError(t, l.Register(ctx, testAddress(i), "dp", uint16(i), ether(uint64(i))))
	}
	require.NoError(t, l.RequestWithdrawal(ctx, testAddress(2)))
	clock.mine(l.Params().Cooldown())
	_, err := l.ExecuteWithdrawal(ctx, testAddress(2))
	require.NoError(t, err)

	records, err := l.Providers(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, want := range []byte{1, 3, 4} {
		assert.Equal(t, testAddress(want), records[i].Address)
	}

	slots, err := l.StorageSlots()
	require.NoError(t, err)
	n, err := DecodeProviderCount(slots[CountSlot])
	require.NoError(t, err)
	require.Equal(t, 3, n)

	words := make([]common.Hash, 0, n*SlotsPerProvider)
	for _, s := range ProviderSlots(n) {
		words = append(words, slots[s])
	}
	decoded, err := DecodeProviderSlots(words)
	require.NoError(t, err)
	assert.Equal(t, records, decoded)
}

func TestLedgerPersistence(t *testing.T) {
	ctx := context.Background()
	db := dbm.NewMemDB()
	clock := &manualClock{}
	l, err := NewLedger(db, clock, DefaultParams(), nil)
	require.NoError(t, err)
	require.NoError(t, l.Register(ctx, testAddress(1), "dp1", 1, ether(1)))
	id, err := l.BuyInsurance(ctx, testAddress(9), []common.Address{testAddress(1)}, []*uint256.Int{halfEther()}, 1, halfEther())
	require.NoError(t, err)

	reopened, err := NewLedger(db, clock, DefaultParams(), nil)
	require.NoError(t, err)
	rec, err := reopened.Provider(ctx, testAddress(1))
	require.NoError(t, err)
	assert.Equal(t, halfEther(), rec.LockedStake)

	id2, err := reopened.BuyInsurance(ctx, testAddress(9), []common.Address{testAddress(1)}, []*uint256.Int{halfEther()}, 1, halfEther())
	require.NoError(t, err)
	assert.Greater(t, id2, id)
}

func TestLedgerVerifySignature(t *testing.T) {
	l, _ := newTestLedger(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	hash := common.HexToHash("0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421")
	att, err := types.SignAttestation(key, 12345, hash, nil)
	require.NoError(t, err)

	ok, err := l.VerifySignature(signer, 12345, hash, nil, att.Signature)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.VerifySignature(testAddress(1), 12345, hash, nil, att.Signature)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.VerifySignature(signer, 12345, hash, nil, common.FromHex("0x56e81f171b"))
	var malformed types.ErrMalformedSignature
	assert.True(t, errors.As(err, &malformed))
}

func TestLedgerCanceledContext(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Register(ctx, testAddress(1), "dp1", 1, ether(1)), context.Canceled)
}
