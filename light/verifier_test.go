package light

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakelight/stakelight/types"
)

func TestVerifyAttestation(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	att, err := types.SignAttestation(key, 7, common.Hash{0x01}, []byte{0xc0})
	require.NoError(t, err)
	att.Signer = common.Address{}
	require.NoError(t, verifyAttestation(att, addr, 7))
	assert.Equal(t, addr, att.Signer)

	assert.Error(t, verifyAttestation(att, addr, 8))
	assert.ErrorIs(t, verifyAttestation(att, common.Address{0x01}, 7), types.ErrInvalidSignature)

	short := *att
	short.Signature = att.Signature[:64]
	var malformed types.ErrMalformedSignature
	assert.True(t, errors.As(verifyAttestation(&short, addr, 7), &malformed))
}

func TestVerifyProofRejectsGarbage(t *testing.T) {
	key := types.NewStateKey(common.Address{0x01}, common.Hash{0x02})
	head := types.TrustedHead{BlockNumber: 10, BlockHash: common.Hash{0xaa}}
	att := &types.BlockAttestation{BlockNumber: 5, BlockHash: common.Hash{0xbb}, Proof: []byte{0x01, 0x02}}

	_, err := verifyProof(att, 5, key, head)
	var failed ErrVerificationFailed
	require.True(t, errors.As(err, &failed))
	assert.EqualValues(t, 5, failed.BlockNumber)

	// at the trusted head the hash is compared first
	att.BlockNumber = 10
	_, err = verifyProof(att, 10, key, head)
	require.True(t, errors.As(err, &failed))
	assert.Contains(t, err.Error(), "trusted head")
}
