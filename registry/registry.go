// Package registry implements the provider registry: staking, withdrawal,
// insurance and slashing of data providers, and the storage layout through
// which light clients read the provider list with Merkle proofs.
package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakelight/stakelight/types"
)

// Reader gives read access to registered providers.
type Reader interface {
	// Provider returns the record of addr, or ErrUnknownProvider.
	Provider(ctx context.Context, addr common.Address) (*types.ProviderRecord, error)
	// Providers returns all records in registration order.
	Providers(ctx context.Context) ([]*types.ProviderRecord, error)
}

// Slasher penalizes a provider for a proven misbehaviour.
type Slasher interface {
	// Slash confiscates stake of provider. evidence is the offending
	// attestation in wire form. It returns a reference to the slashing
	// transaction.
	Slash(ctx context.Context, provider common.Address, evidence []byte) (common.Hash, error)
}

// Registry is the full set of registry operations.
type Registry interface {
	Reader
	Slasher

	// Register stakes value for from and makes it an active provider serving
	// on hostname:port.
	Register(ctx context.Context, from common.Address, hostname string, port uint16, value *uint256.Int) error
	// RequestWithdrawal marks from as leaving and starts the cooldown.
	RequestWithdrawal(ctx context.Context, from common.Address) error
	// ExecuteWithdrawal pays out the stake of a leaving provider once the
	// cooldown has elapsed and removes its record.
	ExecuteWithdrawal(ctx context.Context, provider common.Address) (*uint256.Int, error)
	// BuyInsurance locks amounts[i] of providers[i] for duration blocks and
	// returns the insurance id.
	BuyInsurance(
		ctx context.Context,
		buyer common.Address,
		providers []common.Address,
		amounts []*uint256.Int,
		duration uint64,
		fee *uint256.Int,
	) (uint64, error)
	// UnlockStake releases the stake locked by an expired insurance.
	UnlockStake(ctx context.Context, id uint64) error
}

// BlockClock reports the current block number.
type BlockClock interface {
	BlockNumber() uint64
}

// VerifySignature reports whether signature is signer's attestation of
// (blockNumber, blockHash, proof). It fails with types.ErrMalformedSignature
// when the signature cannot be decoded.
func VerifySignature(signer common.Address, blockNumber uint64, blockHash common.Hash, proof, signature []byte) (bool, error) {
	return types.VerifyAttestation(&types.BlockAttestation{
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		Proof:       proof,
		Signature:   signature,
		Signer:      signer,
	}, signer)
}
