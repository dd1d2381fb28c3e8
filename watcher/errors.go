package watcher

import (
	"errors"
	"fmt"
)

// ErrUnknownProvider means the claimed signer is not in the provider
// directory.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrRejected means the attestation was refused before any comparison was
// made, because its signature is malformed or does not belong to the claimed
// provider.
type ErrRejected struct {
	Reason error
}

func (e ErrRejected) Error() string {
	return fmt.Sprintf("attestation rejected: %v", e.Reason)
}

func (e ErrRejected) Unwrap() error {
	return e.Reason
}

// ErrInconclusive means the watcher could not decide, typically because its
// own oracle or the registry was unreachable. It is never reported as OK.
type ErrInconclusive struct {
	Reason error
}

func (e ErrInconclusive) Error() string {
	return fmt.Sprintf("check inconclusive: %v", e.Reason)
}

func (e ErrInconclusive) Unwrap() error {
	return e.Reason
}
