package provider

import (
	"context"

	"github.com/stakelight/stakelight/types"
)

// Provider is the client side of a data provider: it returns attestations
// for contract storage at a block (verification happens in the client).
type Provider interface {
	// GetData returns the provider's signed attestation of key at
	// blockNumber.
	//
	// If the provider does not know the block, ErrBlockNotFound is
	// returned. If it cannot be reached, ErrNoResponse is returned.
	GetData(ctx context.Context, blockNumber uint64, key types.StateKey) (*types.BlockAttestation, error)

	// String returns the provider's endpoint.
	String() string
}

// DataResponse is the body of a successful data request.
type DataResponse struct {
	Attestation *types.BlockAttestation `json:"attestation"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
