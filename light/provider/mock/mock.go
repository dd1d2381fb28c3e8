package mock

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/stakelight/stakelight/crypto/merkle"
	"github.com/stakelight/stakelight/light/provider"
	"github.com/stakelight/stakelight/types"
)

// Fault is a misbehaviour a mock provider applies to honest answers.
type Fault int

const (
	// Honest returns the source's answer unchanged.
	Honest Fault = iota
	// WrongHash re-signs the answer with a forged block hash.
	WrongHash
	// WrongProof re-signs the answer with a corrupted proof.
	WrongProof
	// BadSignature corrupts the signature.
	BadSignature
	// ShortSignature truncates the signature.
	ShortSignature
	// WrongBlock answers for the next block.
	WrongBlock
	// NotFound always reports an unknown block.
	NotFound
	// Silent never answers; it blocks until the request is canceled.
	Silent
	// ForgedHeader re-seals the block header with different extra data. The
	// proof still verifies against the forged block hash, so only a party
	// that knows the real chain can tell.
	ForgedHeader
)

// Mock wraps an honest provider and corrupts its answers.
type Mock struct {
	source provider.Provider
	key    *ecdsa.PrivateKey
	fault  Fault
	delay  time.Duration
	calls  atomic.Int64
}

var _ provider.Provider = (*Mock)(nil)

// New returns a mock that applies fault to the answers of source, re-signing
// them with key where the fault requires it.
func New(source provider.Provider, key *ecdsa.PrivateKey, fault Fault) *Mock {
	return &Mock{source: source, key: key, fault: fault}
}

// WithDelay makes every answer take at least d.
func (p *Mock) WithDelay(d time.Duration) *Mock {
	p.delay = d
	return p
}

// Calls returns how many requests the mock received.
func (p *Mock) Calls() int64 {
	return p.calls.Load()
}

// Address is the address of the signing key.
func (p *Mock) Address() common.Address {
	return crypto.PubkeyToAddress(p.key.PublicKey)
}

func (p *Mock) String() string {
	return fmt.Sprintf("Mock{%v fault:%d}", p.Address(), p.fault)
}

func (p *Mock) GetData(ctx context.Context, blockNumber uint64, key types.StateKey) (*types.BlockAttestation, error) {
	p.calls.Add(1)

	if p.fault == Silent {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", provider.ErrNoResponse, ctx.Err())
	}
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", provider.ErrNoResponse, ctx.Err())
		case <-time.After(p.delay):
		}
	}
	if p.fault == NotFound {
		return nil, provider.ErrBlockNotFound
	}

	att, err := p.source.GetData(ctx, blockNumber, key)
	if err != nil {
		return nil, err
	}

	switch p.fault {
	case WrongHash:
		forged := att.BlockHash
		forged[0] ^= 0xff
		return types.SignAttestation(p.key, att.BlockNumber, forged, att.Proof)
	case WrongProof:
		proof := common.CopyBytes(att.Proof)
		proof[len(proof)-1] ^= 0x01
		return types.SignAttestation(p.key, att.BlockNumber, att.BlockHash, proof)
	case BadSignature:
		att.Signature = common.CopyBytes(att.Signature)
		att.Signature[5] ^= 0xff
	case ShortSignature:
		att.Signature = att.Signature[:types.SignatureLength-1]
	case WrongBlock:
		return types.SignAttestation(p.key, att.BlockNumber+1, att.BlockHash, att.Proof)
	case ForgedHeader:
		return p.forgeHeader(att)
	}
	return att, nil
}

func (p *Mock) forgeHeader(att *types.BlockAttestation) (*types.BlockAttestation, error) {
	proof, err := merkle.DecodeStateProof(att.Proof)
	if err != nil {
		return nil, err
	}
	header, err := proof.BlockHeader()
	if err != nil {
		return nil, err
	}
	header.Extra = append(common.CopyBytes(header.Extra), []byte("forged")...)
	if proof.Header, err = rlp.EncodeToBytes(header); err != nil {
		return nil, err
	}
	enc, err := proof.Encode()
	if err != nil {
		return nil, err
	}
	return types.SignAttestation(p.key, att.BlockNumber, header.Hash(), enc)
}
