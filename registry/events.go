package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType names a registry event.
type EventType string

const (
	EventRegisterRequested   EventType = "RegisterRequested"
	EventWithdrawalRequested EventType = "WithdrawalRequested"
	EventWithdrawn           EventType = "Withdrawn"
	EventInsuranceBought     EventType = "InsuranceBought"
	EventStakesUnlocked      EventType = "StakesUnlocked"
	EventSlashed             EventType = "Slashed"
)

// Event is emitted by every successful mutating operation.
type Event struct {
	Seq         uint64         `json:"seq"`
	Type        EventType      `json:"type"`
	Block       uint64         `json:"block"`
	Provider    common.Address `json:"provider,omitempty"`
	InsuranceID uint64         `json:"insurance_id,omitempty"`
	Amount      *uint256.Int   `json:"amount,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s{#%d block:%d provider:%v insurance:%d amount:%v}",
		e.Type, e.Seq, e.Block, e.Provider, e.InsuranceID, e.Amount)
}
