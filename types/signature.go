package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a well-formed signature was not
// produced by the expected signer.
var ErrInvalidSignature = errors.New("invalid signature")

// ErrMalformedSignature means the signature itself is corrupt (wrong length,
// out-of-range values, unrecoverable), as opposed to being a valid signature
// by somebody else.
type ErrMalformedSignature struct {
	Reason error
}

func (e ErrMalformedSignature) Error() string {
	return fmt.Sprintf("malformed signature: %v", e.Reason)
}

func (e ErrMalformedSignature) Unwrap() error {
	return e.Reason
}

// VerifyAttestation recomputes the canonical digest of the attestation,
// recovers the signing key and compares its address with expected.
//
// A malformed signature returns ErrMalformedSignature. A well-formed
// signature by any other key returns false and no error.
func VerifyAttestation(att *BlockAttestation, expected common.Address) (bool, error) {
	if att == nil {
		return false, errors.New("nil attestation")
	}
	signer, err := RecoverSigner(att.Digest(), att.Signature)
	if err != nil {
		return false, err
	}
	return signer == expected, nil
}

// RecoverSigner returns the address that produced sig over digest. V may be
// given either as {0,1} or in the Ethereum {27,28} form.
func RecoverSigner(digest, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrMalformedSignature{
			Reason: fmt.Errorf("wrong length %d, want %d", len(sig), SignatureLength),
		}
	}

	normalized := common.CopyBytes(sig)
	v := normalized[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, ErrMalformedSignature{Reason: errors.New("signature values out of range")}
	}
	normalized[crypto.RecoveryIDOffset] = v

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, ErrMalformedSignature{Reason: err}
	}
	return crypto.PubkeyToAddress(*pub), nil
}
