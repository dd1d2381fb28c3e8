// Package watcher implements the watcher: it re-checks attestations forwarded
// by light clients against its own view of the chain and slashes providers
// that attested a wrong block hash.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stakelight/stakelight/libs/httpserver"
	"github.com/stakelight/stakelight/libs/log"
	"github.com/stakelight/stakelight/libs/service"
	"github.com/stakelight/stakelight/oracle"
	"github.com/stakelight/stakelight/registry"
	"github.com/stakelight/stakelight/types"
)

// State is the progress of a single check.
type State int

const (
	StateReceived State = iota
	StateSignatureVerified
	StateHashCompared
	StateOK
	StateFraudDetected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateSignatureVerified:
		return "SIGNATURE_VERIFIED"
	case StateHashCompared:
		return "HASH_COMPARED"
	case StateOK:
		return "OK"
	case StateFraudDetected:
		return "FRAUD_DETECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of CheckData. State is the last state reached, also
// when the check failed.
type Result struct {
	State       State
	BlockNumber uint64
	Provider    common.Address
	TrueHash    common.Hash
	// Alert is set when State is StateFraudDetected.
	Alert *types.Alert
}

// Watcher checks attestations against its own oracle.
type Watcher struct {
	service.BaseService

	oracle    oracle.Oracle
	providers registry.Reader
	slasher   registry.Slasher
	journal   *Journal

	logger  log.Logger
	metrics *Metrics
	http    httpserver.Config
	now     func() time.Time

	// serializes the fraud path so an attestation is slashed at most once
	fraudMtx sync.Mutex

	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option sets a parameter for the watcher.
type Option func(*Watcher)

// Logger sets the logger.
func Logger(l log.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// HTTP sets the configuration of the HTTP server started by Start.
func HTTP(cfg httpserver.Config) Option {
	return func(w *Watcher) { w.http = cfg }
}

// WithClock sets the source of alert timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// New returns a watcher that reads the chain through o, looks providers up in
// providers, slashes through slasher and records alerts in journal.
func New(
	o oracle.Oracle,
	providers registry.Reader,
	slasher registry.Slasher,
	journal *Journal,
	options ...Option,
) *Watcher {
	w := &Watcher{
		oracle:    o,
		providers: providers,
		slasher:   slasher,
		journal:   journal,
		logger:    log.NewNopLogger(),
		metrics:   NopMetrics(),
		http:      httpserver.DefaultConfig("tcp://127.0.0.1:8546"),
		now:       time.Now,
	}
	for _, opt := range options {
		opt(w)
	}
	w.logger = w.logger.With("module", "watcher")
	w.BaseService = *service.NewBaseService(w.logger, "Watcher", w)
	return w
}

// Journal returns the alert journal.
func (w *Watcher) Journal() *Journal { return w.journal }

// CheckData verifies that att was signed by claimed, that claimed is a known
// provider, and that the attested block hash is the chain's. On a mismatch
// the provider is slashed and the returned result carries an alert.
//
// Slashing is best effort: a failed slash is logged and the alert is still
// returned. An unreachable oracle yields ErrInconclusive, never OK.
func (w *Watcher) CheckData(ctx context.Context, att *types.BlockAttestation, claimed common.Address) (*Result, error) {
	start := time.Now()
	res, err := w.checkData(ctx, att, claimed)
	w.metrics.CheckDuration.Observe(time.Since(start).Seconds())

	var (
		rejected     ErrRejected
		inconclusive ErrInconclusive
	)
	switch {
	case err == nil && res.State == StateFraudDetected:
		w.metrics.Checks.With("outcome", "fraud").Add(1)
	case err == nil:
		w.metrics.Checks.With("outcome", "ok").Add(1)
		w.logger.Debug("data correct", "block", res.BlockNumber, "provider", claimed)
	case errors.As(err, &rejected):
		w.metrics.Checks.With("outcome", "rejected").Add(1)
		w.logger.Info("rejected attestation", "provider", claimed, "err", err)
	case errors.Is(err, ErrUnknownProvider):
		w.metrics.Checks.With("outcome", "unknown_provider").Add(1)
		w.logger.Info("attestation from unknown provider", "provider", claimed)
	case errors.As(err, &inconclusive):
		w.metrics.Checks.With("outcome", "inconclusive").Add(1)
		w.logger.Error("check inconclusive", "provider", claimed, "err", err)
	default:
		w.metrics.Checks.With("outcome", "error").Add(1)
		w.logger.Error("check failed", "provider", claimed, "err", err)
	}
	return res, err
}

func (w *Watcher) checkData(ctx context.Context, att *types.BlockAttestation, claimed common.Address) (*Result, error) {
	res := &Result{State: StateReceived, Provider: claimed}
	if att == nil {
		return res, ErrRejected{Reason: errors.New("nil attestation")}
	}
	res.BlockNumber = att.BlockNumber

	ok, err := types.VerifyAttestation(att, claimed)
	if err != nil {
		return res, ErrRejected{Reason: err}
	}
	if !ok {
		return res, ErrRejected{Reason: types.ErrInvalidSignature}
	}
	res.State = StateSignatureVerified
	att = attributed(att, claimed)

	if _, err := w.providers.Provider(ctx, claimed); errors.Is(err, registry.ErrUnknownProvider) {
		return res, ErrUnknownProvider
	} else if err != nil {
		return res, ErrInconclusive{Reason: fmt.Errorf("looking up provider: %w", err)}
	}

	header, err := w.oracle.Header(ctx, att.BlockNumber)
	if err != nil {
		return res, ErrInconclusive{Reason: fmt.Errorf("fetching header %d: %w", att.BlockNumber, err)}
	}
	res.TrueHash = header.Hash()
	res.State = StateHashCompared

	if res.TrueHash == att.BlockHash {
		res.State = StateOK
		return res, nil
	}

	res.State = StateFraudDetected
	alert, err := w.raiseAlert(ctx, att, claimed, res.TrueHash)
	res.Alert = alert
	return res, err
}

func (w *Watcher) raiseAlert(
	ctx context.Context,
	att *types.BlockAttestation,
	claimed common.Address,
	trueHash common.Hash,
) (*types.Alert, error) {
	w.fraudMtx.Lock()
	defer w.fraudMtx.Unlock()

	alert := types.NewAlert(att, trueHash, w.now())
	known, err := w.journal.ByEvidence(alert.Evidence)
	switch {
	case err == nil:
		w.logger.Info("fraud already reported", "alert", known.ID, "provider", claimed, "block", att.BlockNumber)
		return known, nil
	case !errors.Is(err, ErrAlertNotFound):
		w.logger.Error("failed to read alert journal", "evidence", alert.Evidence, "err", err)
	}

	w.logger.Error("fraud detected", "provider", claimed, "block", att.BlockNumber,
		"claimed", att.BlockHash, "true", trueHash)

	tx, err := w.slasher.Slash(ctx, claimed, att.Marshal())
	if err != nil {
		w.metrics.SlashFailures.Add(1)
		w.logger.Error("failed to slash provider", "provider", claimed, "err", err)
	} else {
		alert.SlashTx = tx
		alert.Slashed = true
		w.logger.Info("provider slashed", "provider", claimed, "tx", tx)
	}

	if err := w.journal.Save(alert); err != nil {
		w.logger.Error("failed to record alert", "alert", alert.ID, "err", err)
	}
	return alert, nil
}

// attributed returns a copy of att, whose signature was verified against
// signer, with the unsigned fields in canonical form: Signer set to signer and
// V in {27, 28}. The evidence hash then only depends on the signed content.
func attributed(att *types.BlockAttestation, signer common.Address) *types.BlockAttestation {
	c := *att
	c.Signer = signer
	c.Signature = common.CopyBytes(att.Signature)
	if v := c.Signature[crypto.RecoveryIDOffset]; v < 27 {
		c.Signature[crypto.RecoveryIDOffset] = v + 27
	}
	return &c
}

// Check adapts CheckData to the light client: it returns the alert, if any.
func (w *Watcher) Check(ctx context.Context, att *types.BlockAttestation, provider common.Address) (*types.Alert, error) {
	res, err := w.CheckData(ctx, att, provider)
	if err != nil {
		return nil, err
	}
	return res.Alert, nil
}

// ListenAddr returns the address the HTTP server listens on, once started.
func (w *Watcher) ListenAddr() net.Addr {
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}

// OnStart implements service.Service by starting the HTTP server.
func (w *Watcher) OnStart(ctx context.Context) error {
	listener, err := httpserver.Listen(w.http.ListenAddress)
	if err != nil {
		return err
	}
	w.listener = listener

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	handler := w.Routes()
	go func() {
		defer close(w.done)
		if err := httpserver.Serve(ctx, listener, handler, w.logger, w.http); err != nil {
			w.logger.Error("error serving watcher", "err", err)
		}
	}()
	return nil
}

// OnStop implements service.Service by stopping the HTTP server.
func (w *Watcher) OnStop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *Watcher) String() string {
	return "watcher{local}"
}
