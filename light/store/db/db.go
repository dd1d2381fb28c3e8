package db

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/stakelight/stakelight/light/store"
	"github.com/stakelight/stakelight/types"
)

// key prefixes
const (
	// prefixes are unique across all stakelight dbs
	prefixTrustedHead = int64(7)
	prefixDirectory   = int64(8)
)

type dbs struct {
	db dbm.DB

	mtx sync.RWMutex
}

// New returns a Store that wraps any DB.
func New(db dbm.DB) store.Store {
	return &dbs{db: db}
}

type directoryJSON struct {
	Version uint64                  `json:"version"`
	Height  uint64                  `json:"height"`
	Records []*types.ProviderRecord `json:"records"`
}

// SaveTrustedState persists head and dir in a single batch.
//
// Safe for concurrent use by multiple goroutines.
func (s *dbs) SaveTrustedState(head types.TrustedHead, dir *types.Directory) error {
	if err := head.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid trusted head: %w", err)
	}
	if dir == nil {
		return fmt.Errorf("nil directory")
	}
	if dir.Height() != head.BlockNumber {
		return fmt.Errorf("directory proven at %d, head is %d", dir.Height(), head.BlockNumber)
	}

	headBz, err := json.Marshal(head)
	if err != nil {
		return fmt.Errorf("marshaling trusted head: %w", err)
	}
	dirBz, err := json.Marshal(directoryJSON{
		Version: dir.Version(),
		Height:  dir.Height(),
		Records: dir.Records(),
	})
	if err != nil {
		return fmt.Errorf("marshaling directory: %w", err)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	if err = b.Set(trustedHeadKey(), headBz); err != nil {
		return err
	}
	if err = b.Set(directoryKey(), dirBz); err != nil {
		return err
	}
	return b.WriteSync()
}

// TrustedHead loads the trusted head.
//
// Safe for concurrent use by multiple goroutines.
func (s *dbs) TrustedHead() (types.TrustedHead, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	bz, err := s.db.Get(trustedHeadKey())
	if err != nil {
		return types.TrustedHead{}, err
	}
	if len(bz) == 0 {
		return types.TrustedHead{}, store.ErrNotFound
	}
	var head types.TrustedHead
	if err := json.Unmarshal(bz, &head); err != nil {
		return types.TrustedHead{}, fmt.Errorf("unmarshaling trusted head: %w", err)
	}
	return head, nil
}

// Directory loads the directory.
//
// Safe for concurrent use by multiple goroutines.
func (s *dbs) Directory() (*types.Directory, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	bz, err := s.db.Get(directoryKey())
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, store.ErrNotFound
	}
	var dj directoryJSON
	if err := json.Unmarshal(bz, &dj); err != nil {
		return nil, fmt.Errorf("unmarshaling directory: %w", err)
	}
	return types.NewDirectory(dj.Version, dj.Height, dj.Records)
}

// Reset deletes the trusted state.
//
// Safe for concurrent use by multiple goroutines.
func (s *dbs) Reset() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(trustedHeadKey()); err != nil {
		return err
	}
	if err := b.Delete(directoryKey()); err != nil {
		return err
	}
	return b.WriteSync()
}

func trustedHeadKey() []byte {
	key, err := orderedcode.Append(nil, prefixTrustedHead)
	if err != nil {
		panic(err)
	}
	return key
}

func directoryKey() []byte {
	key, err := orderedcode.Append(nil, prefixDirectory)
	if err != nil {
		panic(err)
	}
	return key
}
