package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Directory is an immutable snapshot of the providers known to a light client
// or watcher, in registration order. A new bootstrap produces a new Directory
// with a higher version; requests keep using the snapshot they started with.
type Directory struct {
	version uint64
	height  uint64

	records []*ProviderRecord
	index   map[common.Address]int
}

// NewDirectory builds a snapshot from records, which are copied. Registration
// order is the order of records. Duplicate or invalid records are rejected.
func NewDirectory(version, height uint64, records []*ProviderRecord) (*Directory, error) {
	d := &Directory{
		version: version,
		height:  height,
		records: make([]*ProviderRecord, 0, len(records)),
		index:   make(map[common.Address]int, len(records)),
	}
	for i, rec := range records {
		if err := rec.ValidateBasic(); err != nil {
			return nil, fmt.Errorf("provider #%d: %w", i, err)
		}
		if _, ok := d.index[rec.Address]; ok {
			return nil, fmt.Errorf("provider #%d: duplicate address %v", i, rec.Address)
		}
		d.index[rec.Address] = len(d.records)
		d.records = append(d.records, rec.Copy())
	}
	return d, nil
}

// EmptyDirectory returns a directory with no providers.
func EmptyDirectory() *Directory {
	return &Directory{index: make(map[common.Address]int)}
}

// Version is incremented every time a client replaces its directory.
func (d *Directory) Version() uint64 { return d.version }

// Height is the block at which the records were proven.
func (d *Directory) Height() uint64 { return d.height }

// Size returns the number of providers.
func (d *Directory) Size() int { return len(d.records) }

// Records returns copies of all records in registration order.
func (d *Directory) Records() []*ProviderRecord {
	out := make([]*ProviderRecord, len(d.records))
	for i, rec := range d.records {
		out[i] = rec.Copy()
	}
	return out
}

// Provider returns a copy of the record for addr.
func (d *Directory) Provider(addr common.Address) (*ProviderRecord, bool) {
	idx, ok := d.index[addr]
	if !ok {
		return nil, false
	}
	return d.records[idx].Copy(), true
}

// TotalStake sums the stake of all providers.
func (d *Directory) TotalStake() *uint256.Int {
	total := new(uint256.Int)
	for _, rec := range d.records {
		total.Add(total, rec.Stake)
	}
	return total
}

// Eligible returns a directory (same version and height) holding only the
// providers that are active and not leaving.
func (d *Directory) Eligible() *Directory {
	eligible := make([]*ProviderRecord, 0, len(d.records))
	for _, rec := range d.records {
		if rec.Eligible() {
			eligible = append(eligible, rec)
		}
	}
	out, err := NewDirectory(d.version, d.height, eligible)
	if err != nil {
		// records were validated when d was built
		panic(err)
	}
	return out
}

func (d *Directory) String() string {
	return fmt.Sprintf("Directory{v%d h%d providers:%d}", d.version, d.height, len(d.records))
}
