package watcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/stakelight/stakelight/types"
)

// key prefixes
const (
	// prefixes are unique across all stakelight dbs
	prefixAlert         = int64(9)
	prefixAlertEvidence = int64(10)
)

// ErrAlertNotFound is returned when the journal holds no matching alert.
var ErrAlertNotFound = errors.New("alert not found")

// Journal persists the alerts raised by a watcher, ordered by block number.
// Alerts are also indexed by their evidence so that the same offending
// attestation is only slashed once.
type Journal struct {
	mtx sync.RWMutex
	db  dbm.DB
}

// NewJournal returns a journal stored in db.
func NewJournal(db dbm.DB) *Journal {
	return &Journal{db: db}
}

// Save stores the alert.
func (j *Journal) Save(alert *types.Alert) error {
	if err := alert.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}
	bz, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	j.mtx.Lock()
	defer j.mtx.Unlock()

	key := alertKey(alert.BlockNumber, alert.ID.String())
	batch := j.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(key, bz); err != nil {
		return err
	}
	if err := batch.Set(evidenceKey(alert.Evidence), key); err != nil {
		return err
	}
	return batch.WriteSync()
}

// ByEvidence returns the alert raised for the attestation with the given
// hash, or ErrAlertNotFound.
func (j *Journal) ByEvidence(evidence common.Hash) (*types.Alert, error) {
	j.mtx.RLock()
	defer j.mtx.RUnlock()

	key, err := j.db.Get(evidenceKey(evidence))
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, ErrAlertNotFound
	}
	bz, err := j.db.Get(key)
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, ErrAlertNotFound
	}
	return decodeAlert(bz)
}

// Alerts returns the alerts for blocks >= from, in block order.
func (j *Journal) Alerts(from uint64) ([]*types.Alert, error) {
	j.mtx.RLock()
	defer j.mtx.RUnlock()

	start, err := orderedcode.Append(nil, prefixAlert, from)
	if err != nil {
		return nil, err
	}
	iter, err := j.db.Iterator(start, prefixToBytes(prefixAlert+1))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	alerts := make([]*types.Alert, 0)
	for ; iter.Valid(); iter.Next() {
		alert, err := decodeAlert(iter.Value())
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, iter.Error()
}

func decodeAlert(bz []byte) (*types.Alert, error) {
	var alert types.Alert
	if err := json.Unmarshal(bz, &alert); err != nil {
		return nil, fmt.Errorf("unmarshaling alert: %w", err)
	}
	return &alert, nil
}

func prefixToBytes(prefix int64) []byte {
	key, err := orderedcode.Append(nil, prefix)
	if err != nil {
		panic(err)
	}
	return key
}

func alertKey(blockNumber uint64, id string) []byte {
	key, err := orderedcode.Append(nil, prefixAlert, blockNumber, id)
	if err != nil {
		panic(err)
	}
	return key
}

func evidenceKey(evidence common.Hash) []byte {
	key, err := orderedcode.Append(nil, prefixAlertEvidence, string(evidence.Bytes()))
	if err != nil {
		panic(err)
	}
	return key
}
