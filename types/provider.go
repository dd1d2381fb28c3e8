package types

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// MaxHostnameLength is the longest hostname a provider may register; the
// registry stores it in a single 32-byte storage slot.
const MaxHostnameLength = 32

// ProviderRecord is the registry's view of one data provider.
type ProviderRecord struct {
	// Address is the provider's identity, derived from its signing key.
	Address  common.Address `json:"address"`
	Hostname string         `json:"hostname"`
	Port     uint16         `json:"port"`

	// Stake is the balance held by the registry for this provider. LockedStake
	// is the part of Stake reserved by active insurance policies.
	Stake       *uint256.Int `json:"stake"`
	LockedStake *uint256.Int `json:"locked_stake"`

	IsActive          bool   `json:"is_active"`
	IsLeaving         bool   `json:"is_leaving"`
	LeavingSinceBlock uint64 `json:"leaving_since_block"`
}

// NewProviderRecord returns an active record with the given stake and nothing
// locked.
func NewProviderRecord(addr common.Address, hostname string, port uint16, stake *uint256.Int) *ProviderRecord {
	return &ProviderRecord{
		Address:     addr,
		Hostname:    hostname,
		Port:        port,
		Stake:       new(uint256.Int).Set(stake),
		LockedStake: new(uint256.Int),
		IsActive:    true,
	}
}

// ValidateBasic performs stateless validation of the record.
func (p *ProviderRecord) ValidateBasic() error {
	if p == nil {
		return errors.New("nil provider record")
	}
	if p.Address == (common.Address{}) {
		return errors.New("provider address is empty")
	}
	if len(p.Hostname) > MaxHostnameLength {
		return fmt.Errorf("hostname is too long (%d > %d)", len(p.Hostname), MaxHostnameLength)
	}
	if p.Stake == nil || p.LockedStake == nil {
		return errors.New("stake must not be nil")
	}
	if p.LockedStake.Gt(p.Stake) {
		return fmt.Errorf("locked stake %v exceeds stake %v", p.LockedStake, p.Stake)
	}
	return nil
}

// Eligible reports whether the provider may serve light client requests.
func (p *ProviderRecord) Eligible() bool {
	return p.IsActive && !p.IsLeaving
}

// AvailableStake is the stake that is not locked by insurance.
func (p *ProviderRecord) AvailableStake() *uint256.Int {
	if p.LockedStake.Gt(p.Stake) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(p.Stake, p.LockedStake)
}

// Endpoint returns the host:port the provider serves requests on.
func (p *ProviderRecord) Endpoint() string {
	return net.JoinHostPort(p.Hostname, strconv.Itoa(int(p.Port)))
}

// Copy returns a deep copy of the record.
func (p *ProviderRecord) Copy() *ProviderRecord {
	cp := *p
	if p.Stake != nil {
		cp.Stake = new(uint256.Int).Set(p.Stake)
	}
	if p.LockedStake != nil {
		cp.LockedStake = new(uint256.Int).Set(p.LockedStake)
	}
	return &cp
}

func (p *ProviderRecord) String() string {
	if p == nil {
		return "nil-ProviderRecord"
	}
	return fmt.Sprintf("Provider{%v %s stake:%v locked:%v active:%v leaving:%v}",
		p.Address, p.Endpoint(), p.Stake, p.LockedStake, p.IsActive, p.IsLeaving)
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (p *ProviderRecord) MarshalZerologObject(e *zerolog.Event) {
	if p == nil {
		return
	}
	e.Str("address", p.Address.Hex())
	e.Str("endpoint", p.Endpoint())
	e.Str("stake", p.Stake.Dec())
	e.Str("locked_stake", p.LockedStake.Dec())
	e.Bool("active", p.IsActive)
	e.Bool("leaving", p.IsLeaving)
}
