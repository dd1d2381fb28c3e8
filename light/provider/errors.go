package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrBlockNotFound is returned when the provider has no block with the
	// requested number. The light client excludes the provider from the
	// round.
	ErrBlockNotFound = errors.New("block not found")
	// ErrNoResponse is returned if the provider doesn't respond to the
	// request in a given time.
	ErrNoResponse = errors.New("provider failed to respond")
)

// ErrBadAttestation is returned when a provider returns an attestation that
// cannot be decoded or is not for the requested block.
type ErrBadAttestation struct {
	Reason error
}

func (e ErrBadAttestation) Error() string {
	return fmt.Sprintf("provider returned bad attestation: %v", e.Reason)
}

func (e ErrBadAttestation) Unwrap() error {
	return e.Reason
}
