package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/vault-snapshots/internal/errors"
	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/models"
	"github.com/vault-snapshots/internal/service"
	"github.com/vault-snapshots/internal/types"
	"github.com/vault-snapshots/internal/worker"
)

// IngestResponse is returned by a successful ingest
type IngestResponse struct {
	OK        bool             `json:"ok"`
	NetworkID string           `json:"networkId"`
	Snapshot  *models.Snapshot `json:"snapshot"`
}

// HealthResponse reports process health
type HealthResponse struct {
	Status      string            `json:"status"`
	Store       string            `json:"store"`
	StoreError  string            `json:"storeError,omitempty"`
	PollerState types.PollerState `json:"pollerState,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

type ingestOutcome struct {
	result *service.IngestResult
	err    error
}

// handleIngest runs one pipeline cycle for ?chainId. The cycle is not cancelled when the
// caller goes away or the ingest timeout fires; it completes and persists in the background.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	chainID := r.URL.Query().Get("chainId")
	if err := validateChainID(chainID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	logger := logging.FromContext(r.Context()).WithField("chainId", chainID)

	done := make(chan ingestOutcome, 1)
	runCtx := logging.WithLogger(context.WithoutCancel(r.Context()), logger)
	go func() {
		result, err := s.ingestService.Ingest(runCtx, chainID, types.TriggerHTTP)
		done <- ingestOutcome{result: result, err: err}
	}()

	timer := time.NewTimer(s.config.IngestTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			respondServiceError(w, r, out.err)
			return
		}
		respondJSON(w, http.StatusOK, IngestResponse{
			OK:        true,
			NetworkID: out.result.NetworkID,
			Snapshot:  out.result.Snapshot,
		})
	case <-timer.C:
		respondServiceError(w, r, apperrors.NewIngestTimeoutError(fmt.Errorf("ingest exceeded %s", s.config.IngestTimeout)))
	case <-r.Context().Done():
		logger.Warn("Ingest caller disconnected, pipeline continues")
	}
}

// handleListSnapshots serves GET /snapshots?chainId=&limit=
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	chainID := query.Get("chainId")
	if err := validateChainID(chainID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	limit := service.ParseLimit(query.Get("limit"))

	listing, err := s.queryService.List(r.Context(), chainID, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listing)
}

// validateChainID accepts an empty value (the default chain) or an unsigned decimal id.
func validateChainID(chainID string) error {
	if chainID == "" {
		return nil
	}
	if _, err := strconv.ParseUint(chainID, 10, 64); err != nil {
		return apperrors.NewInvalidParameterError("chainId", "must be a decimal chain id")
	}
	return nil
}

func (s *Server) handlePollerStatus(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		respondJSON(w, http.StatusOK, &worker.PollerStatus{State: types.PollerDisabled, DisabledReason: "poller not running in this process"})
		return
	}
	respondJSON(w, http.StatusOK, s.poller.Status())
}

// handleHealth reports store reachability. An unreachable store yields 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Store:     "ok",
		Timestamp: time.Now().UTC(),
	}
	if s.poller != nil {
		resp.PollerState = s.poller.Status().State
	}

	status := http.StatusOK
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).WithError(err).Warn("Health check: store unreachable")
			resp.Status = "degraded"
			resp.Store = "unreachable"
			resp.StoreError = "store ping failed"
			status = http.StatusServiceUnavailable
		}
	}

	respondJSON(w, status, resp)
}
