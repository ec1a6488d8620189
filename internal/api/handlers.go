package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	apperrors "github.com/token-indexer/internal/errors"
	"github.com/token-indexer/internal/resolver"
)

// SubmitIndexRequest is the body of POST /api/index
type SubmitIndexRequest struct {
	Query  string  `json:"query"`
	UserID *string `json:"userId,omitempty"`
}

// handleSubmitIndex accepts an indexing request and returns either a job id
// or a cache-hit summary.
func (s *Server) handleSubmitIndex(w http.ResponseWriter, r *http.Request) {
	var req SubmitIndexRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, apperrors.NewInvalidInputError("invalid request body: "+err.Error()))
		return
	}

	result, err := s.indexService.Submit(r.Context(), req.Query, req.UserID)
	if err != nil {
		respondError(w, err)
		return
	}

	status := http.StatusAccepted
	if result.CacheHit != nil {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

// handleGetJob returns the last persisted state of a job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := s.indexService.JobStatus(r.Context(), jobID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a running job
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	if err := s.indexService.CancelJob(jobID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"jobId":   jobID,
		"message": "cancellation requested",
	})
}

// handleListEndpoints lists all registered dynamic endpoints
func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.endpointLister.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"endpoints": endpoints,
		"count":     len(endpoints),
	})
}

// handleServeEndpoint executes a dynamic endpoint with the request's query
// parameters.
func (s *Server) handleServeEndpoint(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	params := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			params[name] = values[0]
		}
	}

	result, err := s.endpointService.Execute(r.Context(), path, params)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// TokenStatsResponse is the body of GET /api/tokens/{address}/stats
type TokenStatsResponse struct {
	Token       string      `json:"token"`
	Days        int         `json:"days"`
	VolumeByDay interface{} `json:"volumeByDay"`
	TopSenders  interface{} `json:"topSenders"`
}

// handleTokenStats serves aggregates from the analytics mirror
func (s *Server) handleTokenStats(w http.ResponseWriter, r *http.Request) {
	if s.statsService == nil {
		respondErrorCode(w, http.StatusServiceUnavailable, "STATS_DISABLED", "analytics mirror is not enabled")
		return
	}

	address, ok := resolver.NormalizeAddress(mux.Vars(r)["address"])
	if !ok {
		respondError(w, apperrors.NewInvalidInputError("invalid token address"))
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 365 {
			respondError(w, apperrors.NewInvalidInputError("days must be between 1 and 365"))
			return
		}
		days = parsed
	}

	volume, err := s.statsService.VolumeByDay(r.Context(), address, days)
	if err != nil {
		respondError(w, err)
		return
	}

	senders, err := s.statsService.TopSenders(r.Context(), address, 10)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, TokenStatsResponse{
		Token:       address,
		Days:        days,
		VolumeByDay: volume,
		TopSenders:  senders,
	})
}

// handleHealth reports backing-store connectivity
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.pingers))
	healthy := true
	for name, pinger := range s.pingers {
		if err := pinger.Ping(ctx); err != nil {
			checks[name] = "unreachable"
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	respondJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
		"time":   time.Now().UTC(),
	})
}
