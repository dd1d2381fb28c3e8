package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakelight/stakelight/types"
)

// Client talks to the HTTP surface of a remote watcher.
type Client struct {
	remote *url.URL
	client *http.Client
}

// NewClient returns a client for the watcher at remote. If no scheme is
// provided, http is used.
func NewClient(remote string) (*Client, error) {
	return NewClientWithHTTP(remote, &http.Client{})
}

// NewClientWithHTTP allows you to provide a custom http.Client.
func NewClientWithHTTP(remote string, client *http.Client) (*Client, error) {
	if !strings.Contains(remote, "://") {
		remote = "http://" + remote
	}
	u, err := url.Parse(remote)
	if err != nil {
		return nil, fmt.Errorf("parsing watcher URL %q: %w", remote, err)
	}
	return &Client{remote: u, client: client}, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("watcher{%s}", c.remote)
}

// Check forwards att to the watcher and returns the alert it raised, if any.
// Failures to reach the watcher are reported as ErrInconclusive.
func (c *Client) Check(ctx context.Context, att *types.BlockAttestation, provider common.Address) (*types.Alert, error) {
	body, err := json.Marshal(CheckRequest{Attestation: att, Provider: provider})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/check"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var res CheckResponse
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	switch res.Status {
	case StatusOK:
		return nil, nil
	case StatusFraud:
		if err := res.Alert.ValidateBasic(); err != nil {
			return nil, ErrInconclusive{Reason: fmt.Errorf("watcher sent an invalid alert: %w", err)}
		}
		return res.Alert, nil
	default:
		return nil, ErrInconclusive{Reason: fmt.Errorf("unknown status %q", res.Status)}
	}
}

// Alerts lists the alerts the watcher raised for blocks >= from.
func (c *Client) Alerts(ctx context.Context, from uint64) ([]*types.Alert, error) {
	u := c.endpoint("/alerts") + "?from=" + strconv.FormatUint(from, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var res AlertsResponse
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return res.Alerts, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.remote
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return ErrInconclusive{Reason: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCheckBodyBytes))
	if err != nil {
		return ErrInconclusive{Reason: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return ErrUnknownProvider
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrRejected{Reason: errors.New(errorMessage(body))}
	default:
		return ErrInconclusive{Reason: fmt.Errorf("%s: %s", resp.Status, errorMessage(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return ErrInconclusive{Reason: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func errorMessage(body []byte) string {
	var res struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &res); err == nil && res.Error != "" {
		return res.Error
	}
	return strings.TrimSpace(string(body))
}
