package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stakelight/stakelight/light/provider"
	"github.com/stakelight/stakelight/types"
)

var (
	maxRetryAttempts = 3
	// cap on the response body; an attestation carries at most one proof
	maxResponseSize = int64(4 * types.MaxProofSize)
)

// http provider talks to the HTTP surface of a data provider.
type http struct {
	remote *url.URL
	client *nethttp.Client
}

// New creates a HTTP provider. If no scheme is provided in the remote URL,
// http will be used by default.
func New(remote string) (provider.Provider, error) {
	return NewWithClient(remote, &nethttp.Client{})
}

// NewWithClient allows you to provide a custom client.
func NewWithClient(remote string, client *nethttp.Client) (provider.Provider, error) {
	// Ensure URL scheme is set (default HTTP) when not provided.
	if !strings.Contains(remote, "://") {
		remote = "http://" + remote
	}
	u, err := url.Parse(remote)
	if err != nil {
		return nil, fmt.Errorf("parsing provider URL %q: %w", remote, err)
	}
	return &http{remote: u, client: client}, nil
}

func (p *http) String() string {
	return fmt.Sprintf("http{%s}", p.remote)
}

// GetData calls `/data` and decodes the attestation. Transport failures are
// retried with backoff until ctx is done.
func (p *http) GetData(ctx context.Context, blockNumber uint64, key types.StateKey) (*types.BlockAttestation, error) {
	u := *p.remote
	u.Path = strings.TrimSuffix(u.Path, "/") + "/data"
	q := url.Values{}
	q.Set("block", strconv.FormatUint(blockNumber, 10))
	q.Set("contract", key.Contract.Hex())
	q.Set("slot", key.Slot.Hex())
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := uint16(1); attempt <= uint16(maxRetryAttempts); attempt++ {
		att, err := p.getData(ctx, u.String())
		switch {
		case err == nil:
			if att.BlockNumber != blockNumber {
				return nil, provider.ErrBadAttestation{
					Reason: fmt.Errorf("attestation is for block %d, requested %d", att.BlockNumber, blockNumber),
				}
			}
			return att, nil
		case errors.Is(err, provider.ErrNoResponse):
			lastErr = err
		default:
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", provider.ErrNoResponse, ctx.Err())
		case <-time.After(backoffTimeout(attempt)):
		}
	}
	return nil, lastErr
}

func (p *http) getData(ctx context.Context, u string) (*types.BlockAttestation, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrNoResponse, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", provider.ErrNoResponse, err)
	}

	switch {
	case resp.StatusCode == nethttp.StatusNotFound:
		return nil, provider.ErrBlockNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s: %s", provider.ErrNoResponse, resp.Status, errorMessage(body))
	case resp.StatusCode != nethttp.StatusOK:
		return nil, fmt.Errorf("provider rejected request: %s: %s", resp.Status, errorMessage(body))
	}

	var res provider.DataResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, provider.ErrBadAttestation{Reason: err}
	}
	if res.Attestation == nil {
		return nil, provider.ErrBadAttestation{Reason: errors.New("missing attestation")}
	}
	return res.Attestation, nil
}

func errorMessage(body []byte) string {
	var res provider.ErrorResponse
	if err := json.Unmarshal(body, &res); err == nil && res.Error != "" {
		return res.Error
	}
	return strings.TrimSpace(string(body))
}

// exponential backoff (with jitter)
// 0.5s -> 2s -> 4.5s with 0.1s variation
func backoffTimeout(attempt uint16) time.Duration {
	// nolint:gosec // G404: Use of weak random number generator
	return time.Duration(500*attempt*attempt)*time.Millisecond + time.Duration(rand.Intn(100))*time.Millisecond
}
