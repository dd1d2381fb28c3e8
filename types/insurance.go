package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InsurancePolicy locks part of the stake of a set of providers until Expiry.
type InsurancePolicy struct {
	ID        uint64           `json:"id"`
	Buyer     common.Address   `json:"buyer"`
	Providers []common.Address `json:"providers"`
	Amounts   []*uint256.Int   `json:"amounts"`
	// Expiry is the first block at which the stake may be unlocked.
	Expiry uint64 `json:"expiry"`
}

// ValidateBasic performs stateless validation of the policy.
func (p *InsurancePolicy) ValidateBasic() error {
	if len(p.Providers) == 0 {
		return errors.New("no providers")
	}
	if len(p.Providers) != len(p.Amounts) {
		return fmt.Errorf("%d providers but %d amounts", len(p.Providers), len(p.Amounts))
	}
	seen := make(map[common.Address]struct{}, len(p.Providers))
	for i, addr := range p.Providers {
		if _, ok := seen[addr]; ok {
			return fmt.Errorf("provider %v listed twice", addr)
		}
		seen[addr] = struct{}{}
		if p.Amounts[i] == nil {
			return fmt.Errorf("amount #%d is nil", i)
		}
	}
	return nil
}

// Total is the sum of all locked amounts.
func (p *InsurancePolicy) Total() *uint256.Int {
	total := new(uint256.Int)
	for _, amt := range p.Amounts {
		total.Add(total, amt)
	}
	return total
}
