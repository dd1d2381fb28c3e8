// Package dataprovider implements the data provider: it answers storage
// queries with a Merkle proof anchored to the block header and signs the
// answer with its staked key.
package dataprovider

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stakelight/stakelight/libs/httpserver"
	"github.com/stakelight/stakelight/libs/log"
	"github.com/stakelight/stakelight/libs/service"
	"github.com/stakelight/stakelight/light/provider"
	"github.com/stakelight/stakelight/oracle"
	"github.com/stakelight/stakelight/types"
)

// Service is a data provider. It is a provider.Provider for in-process use
// and serves the same operation over HTTP once started.
type Service struct {
	service.BaseService

	key     *ecdsa.PrivateKey
	address common.Address
	oracle  oracle.Oracle

	logger  log.Logger
	metrics *Metrics
	http    httpserver.Config
	timeout time.Duration

	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ provider.Provider = (*Service)(nil)

// Option sets a parameter for the service.
type Option func(*Service)

// Logger sets the logger.
func Logger(l log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// HTTP sets the configuration of the HTTP server started by Start.
func HTTP(cfg httpserver.Config) Option {
	return func(s *Service) { s.http = cfg }
}

// Timeout bounds a single GetData. Zero means no bound beyond the caller's
// context.
func Timeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// New returns a provider signing with key and reading the chain through o.
func New(key *ecdsa.PrivateKey, o oracle.Oracle, options ...Option) *Service {
	s := &Service{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		oracle:  o,
		logger:  log.NewNopLogger(),
		metrics: NopMetrics(),
		http:    httpserver.DefaultConfig("tcp://127.0.0.1:8545"),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With("module", "dataprovider", "address", s.address)
	s.BaseService = *service.NewBaseService(s.logger, "DataProvider", s)
	return s
}

// Address returns the provider's signing address.
func (s *Service) Address() common.Address { return s.address }

// GetData builds the proof of key at blockNumber, checks it, and signs
// (blockNumber, blockHash, proof).
func (s *Service) GetData(ctx context.Context, blockNumber uint64, key types.StateKey) (*types.BlockAttestation, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	att, err := s.getData(ctx, blockNumber, key)
	s.metrics.RequestDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		s.metrics.Requests.With("outcome", "ok").Add(1)
		s.metrics.ProofSizeBytes.Observe(float64(len(att.Proof)))
		s.logger.Debug("served data", "block", blockNumber, "key", key, "hash", att.BlockHash)
	case errors.Is(err, provider.ErrBlockNotFound):
		s.metrics.Requests.With("outcome", "not_found").Add(1)
	default:
		s.metrics.Requests.With("outcome", "error").Add(1)
		s.logger.Error("failed to serve data", "block", blockNumber, "key", key, "err", err)
	}
	return att, err
}

func (s *Service) getData(ctx context.Context, blockNumber uint64, key types.StateKey) (*types.BlockAttestation, error) {
	header, err := s.oracle.Header(ctx, blockNumber)
	if errors.Is(err, oracle.ErrBlockNotFound) {
		return nil, provider.ErrBlockNotFound
	} else if err != nil {
		return nil, fmt.Errorf("fetching header %d: %w", blockNumber, err)
	}
	blockHash := header.Hash()

	res, err := s.oracle.StorageProof(ctx, key.Contract, []common.Hash{key.Slot}, blockNumber)
	if errors.Is(err, oracle.ErrBlockNotFound) {
		return nil, provider.ErrBlockNotFound
	} else if err != nil {
		return nil, fmt.Errorf("fetching proof of %v: %w", key, err)
	}
	proof, err := res.StateProof(header, 0)
	if err != nil {
		return nil, err
	}
	// never sign a proof the client would reject
	if _, err := proof.VerifyAnchored(blockNumber, blockHash); err != nil {
		return nil, fmt.Errorf("oracle returned an unverifiable proof: %w", err)
	}

	enc, err := proof.Encode()
	if err != nil {
		return nil, err
	}
	return types.SignAttestation(s.key, blockNumber, blockHash, enc)
}

// ListenAddr returns the address the HTTP server listens on, once started.
func (s *Service) ListenAddr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// OnStart implements service.Service by starting the HTTP server.
func (s *Service) OnStart(ctx context.Context) error {
	listener, err := httpserver.Listen(s.http.ListenAddress)
	if err != nil {
		return err
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	handler := s.Routes()
	go func() {
		defer close(s.done)
		if err := httpserver.Serve(ctx, listener, handler, s.logger, s.http); err != nil {
			s.logger.Error("error serving data provider", "err", err)
		}
	}()
	return nil
}

// OnStop implements service.Service by stopping the HTTP server.
func (s *Service) OnStop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}
