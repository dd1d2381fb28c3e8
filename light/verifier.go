package light

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakelight/stakelight/crypto/merkle"
	"github.com/stakelight/stakelight/types"
)

// verifyAttestation checks that att answers blockNumber and was signed by
// expected. On success the attestation's signer is set to expected.
func verifyAttestation(att *types.BlockAttestation, expected common.Address, blockNumber uint64) error {
	if err := att.ValidateBasic(); err != nil {
		return err
	}
	if att.BlockNumber != blockNumber {
		return fmt.Errorf("attestation is for block %d, requested %d", att.BlockNumber, blockNumber)
	}
	ok, err := types.VerifyAttestation(att, expected)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrInvalidSignature
	}
	att.Signer = expected
	return nil
}

// verifyProof checks that the attestation's proof carries the header of the
// attested block and proves key's value under that header's state root.
// When the block is the trusted head, its hash must also be the head's.
func verifyProof(att *types.BlockAttestation, blockNumber uint64, key types.StateKey, head types.TrustedHead) (common.Hash, error) {
	fail := func(err error) (common.Hash, error) {
		return common.Hash{}, ErrVerificationFailed{BlockNumber: blockNumber, Reason: err}
	}

	if blockNumber == head.BlockNumber && att.BlockHash != head.BlockHash {
		return fail(fmt.Errorf("attested hash %v differs from the trusted head %v", att.BlockHash, head.BlockHash))
	}
	proof, err := merkle.DecodeStateProof(att.Proof)
	if err != nil {
		return fail(err)
	}
	if proof.Contract != key.Contract || proof.Slot != key.Slot {
		return fail(fmt.Errorf("proof is for %v/%v, requested %v", proof.Contract, proof.Slot, key))
	}
	if _, err := proof.VerifyAnchored(blockNumber, att.BlockHash); err != nil {
		return fail(err)
	}
	return merkle.SlotWord(proof.Value), nil
}
