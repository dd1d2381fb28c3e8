package light

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakelight/stakelight/types"
)

// ErrNoWatchers means the client has no watcher to forward attestations to,
// so it could never learn about fraud.
var ErrNoWatchers = errors.New("no watchers configured")

// ErrUntrustedRoot means a proof of the provider registry did not verify
// against the oracle's state root. The directory is left unchanged.
type ErrUntrustedRoot struct {
	Reason error
}

func (e ErrUntrustedRoot) Error() string {
	return fmt.Sprintf("registry state not proven by the trusted root: %v", e.Reason)
}

func (e ErrUntrustedRoot) Unwrap() error {
	return e.Reason
}

// ErrInsufficientStake means the providers selected for (or responding to) a
// request hold less stake than required.
type ErrInsufficientStake struct {
	Have *uint256.Int
	Want *uint256.Int
}

func (e ErrInsufficientStake) Error() string {
	return fmt.Sprintf("insufficient stake: have %v, want %v", e.Have, e.Want)
}

// ErrInconsistentProviders is returned when two providers of the same quorum
// attested different answers. This is a sign of fraud by at least one of
// them.
type ErrInconsistentProviders struct {
	Reference   common.Address
	Conflicting common.Address
	Reason      string
}

func (e ErrInconsistentProviders) Error() string {
	return fmt.Sprintf("providers %v and %v disagree: %s", e.Reference, e.Conflicting, e.Reason)
}

// ErrVerificationFailed means the attested proof does not prove the
// requested value in the attested block.
type ErrVerificationFailed struct {
	BlockNumber uint64
	Reason      error
}

func (e ErrVerificationFailed) Error() string {
	return fmt.Sprintf("verification of block #%d failed: %v", e.BlockNumber, e.Reason)
}

func (e ErrVerificationFailed) Unwrap() error {
	return e.Reason
}

// ErrFraudDetected is returned when a watcher raised an alert against one of
// the attestations of the round.
type ErrFraudDetected struct {
	Alert   *types.Alert
	Watcher string
}

func (e ErrFraudDetected) Error() string {
	return fmt.Sprintf("fraud detected by %s: %v", e.Watcher, e.Alert)
}

// ErrBlockAheadOfHead is returned for a block beyond the trusted head, even
// after a new bootstrap.
type ErrBlockAheadOfHead struct {
	BlockNumber uint64
	Head        uint64
}

func (e ErrBlockAheadOfHead) Error() string {
	return fmt.Sprintf("block #%d is ahead of the trusted head #%d", e.BlockNumber, e.Head)
}

// ErrWatcherCheck records a watcher that could not give an answer for an
// attestation within the alert window.
type ErrWatcherCheck struct {
	Watcher  string
	Provider common.Address
	Reason   error
}

func (e ErrWatcherCheck) Error() string {
	return fmt.Sprintf("watcher %s on attestation of %v: %v", e.Watcher, e.Provider, e.Reason)
}

func (e ErrWatcherCheck) Unwrap() error {
	return e.Reason
}

type badProviderCode int

const (
	noResponse badProviderCode = iota + 1
	blockNotFound
	invalidAttestation
)

func (c badProviderCode) String() string {
	switch c {
	case noResponse:
		return "no_response"
	case blockNotFound:
		return "not_found"
	case invalidAttestation:
		return "invalid_attestation"
	default:
		return "unknown"
	}
}

// errBadProvider is returned when a provider either does not respond or
// responds with an attestation that can't be used. The provider is left out
// of the round.
type errBadProvider struct {
	Reason   error
	Code     badProviderCode
	Provider common.Address
}

func (e errBadProvider) Error() string {
	switch e.Code {
	case noResponse:
		return fmt.Sprintf("failed to get data from provider %v: %v", e.Provider, e.Reason)
	case blockNotFound:
		return fmt.Sprintf("provider %v does not have the block: %v", e.Provider, e.Reason)
	case invalidAttestation:
		return fmt.Sprintf("provider %v sent an invalid attestation: %v", e.Provider, e.Reason)
	default:
		return fmt.Sprintf("unknown code: %d", e.Code)
	}
}

func (e errBadProvider) Unwrap() error {
	return e.Reason
}
