// Package httpserver holds what the provider and watcher HTTP servers share:
// listening, routing with CORS, panic recovery and JSON responses.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/stakelight/stakelight/libs/log"
)

// Config is the configuration of an HTTP server.
type Config struct {
	// ListenAddress is "tcp://host:port" or "unix:///path".
	ListenAddress string
	// CORSAllowedOrigins enables CORS when non-empty.
	CORSAllowedOrigins []string
	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64
	// Prometheus mounts the Prometheus handler at /metrics.
	Prometheus bool

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a configuration listening on addr.
func DefaultConfig(addr string) Config {
	return Config{
		ListenAddress:   addr,
		MaxBodyBytes:    4 << 20,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// NewRouter returns a chi router with request ids, panic recovery, request
// logging and, if configured, CORS and /metrics.
func NewRouter(cfg Config, logger log.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler {
		return RecoverAndLogHandler(next, logger)
	})
	if cfg.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSize(cfg.MaxBodyBytes))
	}
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Origin", "Accept", "Content-Type"},
		}).Handler)
	}
	if cfg.Prometheus {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}
	return r
}

// Listen opens a listener on the address, which should be fully formed
// including the tcp:// or unix:// prefix.
func Listen(listenAddr string) (net.Listener, error) {
	proto, addr := "tcp", listenAddr
	if parts := strings.SplitN(listenAddr, "://", 2); len(parts) == 2 {
		proto, addr = parts[0], parts[1]
	}
	listener, err := net.Listen(proto, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %v: %w", listenAddr, err)
	}
	return listener, nil
}

// Serve serves handler on listener until ctx is canceled, then shuts the
// server down gracefully.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, logger log.Logger, cfg Config) error {
	logger.Info("serving HTTP", "addr", listener.Addr().String())
	s := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(listener) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			return err
		}
		logger.Info("HTTP server stopped", "addr", listener.Addr().String())
		return nil
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	bz, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		bz = []byte(`{"error":"encoding response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(bz)
}

// WriteError writes {"error": err} with the given status.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, struct {
		Error string `json:"error"`
	}{err.Error()})
}

// RecoverAndLogHandler wraps an HTTP handler, adding error logging. If the
// inner function panics, the outer function recovers, logs, sends an HTTP
// 500 error response.
func RecoverAndLogHandler(handler http.Handler, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Wrap the ResponseWriter to remember the status
		rww := &ResponseWriterWrapper{-1, w}
		begin := time.Now()

		rww.Header().Set("X-Server-Time", fmt.Sprintf("%v", begin.Unix()))

		defer func() {
			if e := recover(); e != nil {
				logger.Error("panic in HTTP handler", "err", fmt.Errorf("%v", e), "stack", string(debug.Stack()))
				WriteError(rww, http.StatusInternalServerError, fmt.Errorf("internal server error: %v", e))
			}

			if rww.Status == -1 {
				rww.Status = http.StatusOK
			}
			logger.Debug("served HTTP response",
				"method", r.Method, "url", r.URL,
				"status", rww.Status, "duration", time.Since(begin),
				"remote_addr", r.RemoteAddr,
			)
		}()

		handler.ServeHTTP(rww, r)
	})
}

// ResponseWriterWrapper remembers the status for logging.
type ResponseWriterWrapper struct {
	Status int
	http.ResponseWriter
}

func (w *ResponseWriterWrapper) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}
