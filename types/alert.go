package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Alert is raised by a watcher when a provider attested a block hash that
// differs from the chain's.
type Alert struct {
	ID          uuid.UUID         `json:"id"`
	BlockNumber uint64            `json:"block_number"`
	Provider    common.Address    `json:"provider"`
	ClaimedHash common.Hash       `json:"claimed_hash"`
	TrueHash    common.Hash       `json:"true_hash"`
	Attestation *BlockAttestation `json:"attestation"`

	// Evidence is the hash of the offending attestation as submitted to the
	// registry. SlashTx references the slashing transaction; it is empty when
	// slashing failed.
	Evidence   common.Hash `json:"evidence"`
	SlashTx    common.Hash `json:"slash_tx"`
	Slashed    bool        `json:"slashed"`
	DetectedAt time.Time   `json:"detected_at"`
}

// NewAlert builds an alert for att, whose block hash contradicts trueHash.
func NewAlert(att *BlockAttestation, trueHash common.Hash, now time.Time) *Alert {
	return &Alert{
		ID:          uuid.New(),
		BlockNumber: att.BlockNumber,
		Provider:    att.Signer,
		ClaimedHash: att.BlockHash,
		TrueHash:    trueHash,
		Attestation: att,
		Evidence:    att.Hash(),
		DetectedAt:  now,
	}
}

// ValidateBasic checks the alert is internally consistent.
func (a *Alert) ValidateBasic() error {
	if a == nil {
		return errors.New("nil alert")
	}
	if a.Attestation == nil {
		return errors.New("alert without attestation")
	}
	if a.Attestation.BlockNumber != a.BlockNumber {
		return fmt.Errorf("alert block %d does not match attestation block %d",
			a.BlockNumber, a.Attestation.BlockNumber)
	}
	if a.Attestation.BlockHash != a.ClaimedHash {
		return errors.New("claimed hash does not match attestation")
	}
	if a.ClaimedHash == a.TrueHash {
		return errors.New("claimed hash equals the true hash")
	}
	if a.Attestation.Signer != a.Provider {
		return errors.New("provider does not match attestation signer")
	}
	return nil
}

func (a *Alert) String() string {
	return fmt.Sprintf("Alert{%v #%d provider:%v claimed:%v true:%v slashed:%v}",
		a.ID, a.BlockNumber, a.Provider, a.ClaimedHash, a.TrueHash, a.Slashed)
}
