package light

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stakelight/stakelight/types"
)

// The detector component of the light client catches providers that lie.
// crossCheck finds disagreement inside a quorum. detectFraud covers a quorum
// that agrees on a forged block by asking watchers, who know the real chain.

// crossCheck compares every attestation with the first one. Any difference in
// block hash or proof bytes aborts the round.
func crossCheck(atts []*types.BlockAttestation) error {
	if len(atts) == 0 {
		return errors.New("no attestations to cross-check")
	}
	ref := atts[0]
	for _, att := range atts[1:] {
		switch {
		case att.BlockHash != ref.BlockHash:
			return ErrInconsistentProviders{
				Reference:   ref.Signer,
				Conflicting: att.Signer,
				Reason:      fmt.Sprintf("block hash %v != %v", att.BlockHash, ref.BlockHash),
			}
		case !bytes.Equal(att.Proof, ref.Proof):
			return ErrInconsistentProviders{
				Reference:   ref.Signer,
				Conflicting: att.Signer,
				Reason:      "proofs differ",
			}
		}
	}
	return nil
}

// detectFraud forwards every attestation to every watcher and listens for
// alerts for the whole alert window. The first alert ends the round with
// ErrFraudDetected. Checks still running when the window closes are
// canceled and reported as inconclusive.
func (c *Client) detectFraud(ctx context.Context, watchers []Watcher, atts []*types.BlockAttestation) ([]ErrWatcherCheck, error) {
	windowCtx, cancel := context.WithTimeout(ctx, c.alertWindow)
	defer cancel()

	var (
		mtx          sync.Mutex
		inconclusive []ErrWatcherCheck
		alerts       = make(chan ErrFraudDetected, 1)
		wg           sync.WaitGroup
	)
	for _, w := range watchers {
		for _, att := range atts {
			w, att := w, att
			wg.Add(1)
			go func() {
				defer wg.Done()
				alert, err := c.checkWithWatcher(windowCtx, w, att)
				switch {
				case err != nil:
					mtx.Lock()
					inconclusive = append(inconclusive, ErrWatcherCheck{Watcher: w.String(), Provider: att.Signer, Reason: err})
					mtx.Unlock()
				case alert != nil:
					select {
					case alerts <- ErrFraudDetected{Alert: alert, Watcher: w.String()}:
					default:
					}
				}
			}()
		}
	}

	select {
	case fraud := <-alerts:
		cancel()
		wg.Wait()
		c.metrics.FraudAlerts.Add(1)
		return nil, fraud
	case <-windowCtx.Done():
	}
	wg.Wait()

	// the caller gave up before the window closed
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// an alert may have raced with the end of the window
	select {
	case fraud := <-alerts:
		c.metrics.FraudAlerts.Add(1)
		return nil, fraud
	default:
	}

	for _, ic := range inconclusive {
		c.logger.Info("Watcher check inconclusive", "watcher", ic.Watcher, "provider", ic.Provider, "err", ic.Reason)
	}
	return inconclusive, nil
}

// checkWithWatcher sends att to w. An alert that does not concern att is
// discarded as an error.
func (c *Client) checkWithWatcher(ctx context.Context, w Watcher, att *types.BlockAttestation) (*types.Alert, error) {
	alert, err := w.Check(ctx, att, att.Signer)
	if err != nil || alert == nil {
		return nil, err
	}
	if err := alert.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid alert: %w", err)
	}
	if alert.Provider != att.Signer || alert.BlockNumber != att.BlockNumber || !alert.Attestation.SameAnswer(att) {
		return nil, errors.New("alert does not concern the forwarded attestation")
	}
	return alert, nil
}
