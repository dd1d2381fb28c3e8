package store

import (
	"errors"

	"github.com/stakelight/stakelight/types"
)

// ErrNotFound is returned when the store holds no trusted state yet.
var ErrNotFound = errors.New("no trusted state")

// Store is anything that can persistently store the trusted head and the
// provider directory proven at that head.
type Store interface {
	// SaveTrustedState saves head together with the directory proven under
	// head's state root. The pair is written atomically.
	SaveTrustedState(head types.TrustedHead, dir *types.Directory) error

	// TrustedHead returns the last saved head.
	//
	// If the store is empty, ErrNotFound is returned.
	TrustedHead() (types.TrustedHead, error)

	// Directory returns the last saved directory.
	//
	// If the store is empty, ErrNotFound is returned.
	Directory() (*types.Directory, error)

	// Reset removes the saved state.
	Reset() error
}
