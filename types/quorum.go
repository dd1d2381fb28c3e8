package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Quorum is the set of providers selected to answer one request.
type Quorum struct {
	Members    []*ProviderRecord
	TotalStake *uint256.Int
}

// SelectProviders walks the directory in registration order and accumulates
// providers with a non-zero stake until their total stake reaches
// minTotalStake or the directory is exhausted.
//
// The (possibly insufficient) quorum is always returned together with its
// total stake; the caller must abort the request when the total is below
// minTotalStake. The result depends only on the directory snapshot and the
// threshold.
func SelectProviders(dir *Directory, minTotalStake *uint256.Int) (*Quorum, *uint256.Int) {
	q := &Quorum{TotalStake: new(uint256.Int)}
	for _, rec := range dir.records {
		if !q.TotalStake.Lt(minTotalStake) {
			break
		}
		if rec.Stake.IsZero() {
			continue
		}
		q.Members = append(q.Members, rec.Copy())
		q.TotalStake.Add(q.TotalStake, rec.Stake)
	}
	return q, new(uint256.Int).Set(q.TotalStake)
}

// Meets reports whether the quorum's stake reaches threshold.
func (q *Quorum) Meets(threshold *uint256.Int) bool {
	return !q.TotalStake.Lt(threshold)
}

// Size returns the number of members.
func (q *Quorum) Size() int { return len(q.Members) }

// Member returns the member with the given address.
func (q *Quorum) Member(addr common.Address) (*ProviderRecord, bool) {
	for _, m := range q.Members {
		if m.Address == addr {
			return m, true
		}
	}
	return nil, false
}

// StakeOf sums the stake of the members whose address is in addrs.
func (q *Quorum) StakeOf(addrs []common.Address) *uint256.Int {
	total := new(uint256.Int)
	for _, addr := range addrs {
		if m, ok := q.Member(addr); ok {
			total.Add(total, m.Stake)
		}
	}
	return total
}

func (q *Quorum) String() string {
	return fmt.Sprintf("Quorum{members:%d stake:%v}", len(q.Members), q.TotalStake)
}
