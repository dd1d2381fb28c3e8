package dataprovider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/stakelight/stakelight/libs/httpserver"
	"github.com/stakelight/stakelight/light/provider"
	"github.com/stakelight/stakelight/types"
	"github.com/stakelight/stakelight/version"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Address common.Address `json:"address"`
	Listen  string         `json:"listen"`
	Version version.Info   `json:"version"`
}

// Routes returns the HTTP surface of the provider:
//
//	GET /data?block=<n>&contract=<0x..>&slot=<0x..>
//	GET /status
func (s *Service) Routes() chi.Router {
	r := httpserver.NewRouter(s.http, s.logger)
	r.Get("/data", s.handleData)
	r.Get("/status", s.handleStatus)
	return r
}

func (s *Service) handleData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	blockNumber, err := strconv.ParseUint(q.Get("block"), 10, 64)
	if err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid block: %w", err))
		return
	}
	contract, slot := q.Get("contract"), q.Get("slot")
	if !common.IsHexAddress(contract) {
		httpserver.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid contract address %q", contract))
		return
	}
	key, err := types.ParseStateKey(contract + "/" + slot)
	if err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, err)
		return
	}

	att, err := s.GetData(r.Context(), blockNumber, key)
	switch {
	case errors.Is(err, provider.ErrBlockNotFound):
		httpserver.WriteError(w, http.StatusNotFound, err)
	case err != nil:
		httpserver.WriteError(w, http.StatusInternalServerError, err)
	default:
		httpserver.WriteJSON(w, http.StatusOK, provider.DataResponse{Attestation: att})
	}
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	res := StatusResponse{Address: s.address, Version: version.Current()}
	if addr := s.ListenAddr(); addr != nil {
		res.Listen = addr.String()
	}
	httpserver.WriteJSON(w, http.StatusOK, res)
}
