package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TrustedHead is the block header a light client currently anchors its
// verification to.
type TrustedHead struct {
	BlockNumber uint64      `json:"block_number"`
	BlockHash   common.Hash `json:"block_hash"`
	StateRoot   common.Hash `json:"state_root"`
	ObtainedAt  time.Time   `json:"obtained_at"`
}

// IsZero reports whether no head has been obtained yet.
func (h TrustedHead) IsZero() bool {
	return h.BlockHash == (common.Hash{})
}

// ValidateBasic performs stateless validation of the head.
func (h TrustedHead) ValidateBasic() error {
	if h.BlockHash == (common.Hash{}) {
		return errors.New("empty block hash")
	}
	if h.StateRoot == (common.Hash{}) {
		return errors.New("empty state root")
	}
	if h.ObtainedAt.IsZero() {
		return errors.New("missing obtained-at time")
	}
	return nil
}

func (h TrustedHead) String() string {
	return fmt.Sprintf("TrustedHead{#%d %v root:%v}", h.BlockNumber, h.BlockHash, h.StateRoot)
}
