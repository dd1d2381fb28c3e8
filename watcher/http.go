package watcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/stakelight/stakelight/libs/httpserver"
	"github.com/stakelight/stakelight/types"
)

const (
	StatusOK    = "ok"
	StatusFraud = "fraud"

	maxCheckBodyBytes = 4 * types.MaxProofSize
)

// CheckRequest is the body of POST /check.
type CheckRequest struct {
	Attestation *types.BlockAttestation `json:"attestation"`
	Provider    common.Address          `json:"provider"`
}

// CheckResponse is the answer to POST /check.
type CheckResponse struct {
	Status string       `json:"status"`
	State  string       `json:"state"`
	Alert  *types.Alert `json:"alert,omitempty"`
}

// AlertsResponse is the answer to GET /alerts.
type AlertsResponse struct {
	Alerts []*types.Alert `json:"alerts"`
}

// Routes returns the HTTP surface of the watcher:
//
//	POST /check
//	GET  /alerts?from=<block>
func (w *Watcher) Routes() chi.Router {
	r := httpserver.NewRouter(w.http, w.logger)
	r.Post("/check", w.handleCheck)
	r.Get("/alerts", w.handleAlerts)
	return r
}

func (w *Watcher) handleCheck(rw http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxCheckBodyBytes)).Decode(&req); err != nil {
		httpserver.WriteError(rw, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.Attestation == nil {
		httpserver.WriteError(rw, http.StatusBadRequest, errors.New("missing attestation"))
		return
	}

	res, err := w.CheckData(r.Context(), req.Attestation, req.Provider)
	var (
		rejected     ErrRejected
		inconclusive ErrInconclusive
	)
	switch {
	case errors.As(err, &rejected):
		httpserver.WriteError(rw, http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrUnknownProvider):
		httpserver.WriteError(rw, http.StatusNotFound, err)
	case errors.As(err, &inconclusive):
		httpserver.WriteError(rw, http.StatusServiceUnavailable, err)
	case err != nil:
		httpserver.WriteError(rw, http.StatusInternalServerError, err)
	case res.Alert != nil:
		httpserver.WriteJSON(rw, http.StatusOK, CheckResponse{Status: StatusFraud, State: res.State.String(), Alert: res.Alert})
	default:
		httpserver.WriteJSON(rw, http.StatusOK, CheckResponse{Status: StatusOK, State: res.State.String()})
	}
}

func (w *Watcher) handleAlerts(rw http.ResponseWriter, r *http.Request) {
	var from uint64
	if s := r.URL.Query().Get("from"); s != "" {
		var err error
		if from, err = strconv.ParseUint(s, 10, 64); err != nil {
			httpserver.WriteError(rw, http.StatusBadRequest, fmt.Errorf("invalid from: %w", err))
			return
		}
	}
	alerts, err := w.journal.Alerts(from)
	if err != nil {
		httpserver.WriteError(rw, http.StatusInternalServerError, err)
		return
	}
	httpserver.WriteJSON(rw, http.StatusOK, AlertsResponse{Alerts: alerts})
}
