package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/token-indexer/internal/endpoint"
	apperrors "github.com/token-indexer/internal/errors"
	"github.com/token-indexer/internal/indexer"
	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/models"
	"github.com/token-indexer/internal/notify"
	"github.com/token-indexer/internal/storage"
	"github.com/token-indexer/internal/types"
)

type fakeIndexService struct {
	submitResult *indexer.SubmitResult
	submitErr    error
	job          *models.IndexingJob
	jobErr       error
	cancelErr    error

	lastQuery string
	canceled  []string
}

func (f *fakeIndexService) Submit(ctx context.Context, query string, userID *string) (*indexer.SubmitResult, error) {
	f.lastQuery = query
	return f.submitResult, f.submitErr
}

func (f *fakeIndexService) JobStatus(ctx context.Context, jobID string) (*models.IndexingJob, error) {
	return f.job, f.jobErr
}

func (f *fakeIndexService) CancelJob(jobID string) error {
	f.canceled = append(f.canceled, jobID)
	return f.cancelErr
}

type fakeEndpointService struct {
	result     *endpoint.Result
	err        error
	lastPath   string
	lastParams map[string]string
}

func (f *fakeEndpointService) Execute(ctx context.Context, path string, params map[string]string) (*endpoint.Result, error) {
	f.lastPath = path
	f.lastParams = params
	return f.result, f.err
}

type fakeEndpointLister struct {
	endpoints []*models.DynamicEndpoint
	err       error
}

func (f *fakeEndpointLister) List(ctx context.Context) ([]*models.DynamicEndpoint, error) {
	return f.endpoints, f.err
}

type fakeStatsService struct {
	volume  []storage.DailyVolume
	senders []storage.SenderStat
	err     error
}

func (f *fakeStatsService) VolumeByDay(ctx context.Context, tokenAddress string, days int) ([]storage.DailyVolume, error) {
	return f.volume, f.err
}

func (f *fakeStatsService) TopSenders(ctx context.Context, tokenAddress string, limit int) ([]storage.SenderStat, error) {
	return f.senders, f.err
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

type serverFixture struct {
	server    *Server
	index     *fakeIndexService
	endpoints *fakeEndpointService
	lister    *fakeEndpointLister
	stats     *fakeStatsService
	pingers   map[string]Pinger
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	bus := notify.NewBus(logger)
	t.Cleanup(bus.Close)

	fx := &serverFixture{
		index:     &fakeIndexService{},
		endpoints: &fakeEndpointService{},
		lister:    &fakeEndpointLister{},
		stats:     &fakeStatsService{},
		pingers:   map[string]Pinger{"postgres": &fakePinger{}, "redis": &fakePinger{}},
	}

	config := &ServerConfig{
		Host:            "localhost",
		Port:            "0",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		IdleTimeout:     30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}

	fx.server = NewServer(config, fx.index, fx.endpoints, fx.lister, fx.stats, bus, fx.pingers, logger)
	return fx
}

func doRequest(fx *serverFixture, method, target string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	fx.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestSubmitIndexReturnsAccepted(t *testing.T) {
	fx := newServerFixture(t)
	fx.index.submitResult = &indexer.SubmitResult{
		JobID:   "job-123",
		Status:  types.JobStatusActive,
		Message: "indexing started",
	}

	body, _ := json.Marshal(SubmitIndexRequest{Query: "index USDC transfers"})
	rec := doRequest(fx, "POST", "/api/index", body)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if fx.index.lastQuery != "index USDC transfers" {
		t.Errorf("query passed through as %q", fx.index.lastQuery)
	}

	var result indexer.SubmitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.JobID != "job-123" {
		t.Errorf("jobId = %q", result.JobID)
	}
}

func TestSubmitIndexCacheHitReturnsOK(t *testing.T) {
	fx := newServerFixture(t)
	fx.index.submitResult = &indexer.SubmitResult{
		CacheHit: &types.CacheHitSummary{
			Token:         "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			TransferCount: 42,
			LatestAt:      time.Now().UTC(),
		},
		Message: "recent data already indexed",
	}

	body, _ := json.Marshal(SubmitIndexRequest{Query: "index USDC transfers"})
	rec := doRequest(fx, "POST", "/api/index", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestSubmitIndexRejectsMalformedBody(t *testing.T) {
	fx := newServerFixture(t)

	rec := doRequest(fx, "POST", "/api/index", []byte(`{"query": `))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSubmitIndexRejectsUnknownFields(t *testing.T) {
	fx := newServerFixture(t)

	rec := doRequest(fx, "POST", "/api/index", []byte(`{"query":"x","bogus":true}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSubmitIndexPropagatesServiceError(t *testing.T) {
	fx := newServerFixture(t)
	fx.index.submitErr = apperrors.NewInvalidInputError("query contains nothing recognizable")

	body, _ := json.Marshal(SubmitIndexRequest{Query: "???"})
	rec := doRequest(fx, "POST", "/api/index", body)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if resp.Error.Code != "INVALID_INPUT" {
		t.Errorf("error code = %q", resp.Error.Code)
	}
}

func TestGetJobReturnsJob(t *testing.T) {
	fx := newServerFixture(t)
	fx.index.job = &models.IndexingJob{
		JobID:    "job-123",
		Status:   types.JobStatusCompleted,
		Progress: 100,
	}

	rec := doRequest(fx, "GET", "/api/jobs/job-123", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var job models.IndexingJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decoding job: %v", err)
	}
	if job.Status != types.JobStatusCompleted || job.Progress != 100 {
		t.Errorf("unexpected job state: %+v", job)
	}
}

func TestGetJobNotFound(t *testing.T) {
	fx := newServerFixture(t)
	fx.index.jobErr = apperrors.NewNotFoundError("indexing job", "missing")

	rec := doRequest(fx, "GET", "/api/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCancelJobAccepted(t *testing.T) {
	fx := newServerFixture(t)

	rec := doRequest(fx, "DELETE", "/api/jobs/job-123", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if len(fx.index.canceled) != 1 || fx.index.canceled[0] != "job-123" {
		t.Errorf("canceled jobs: %v", fx.index.canceled)
	}
}

func TestListEndpoints(t *testing.T) {
	fx := newServerFixture(t)
	fx.lister.endpoints = []*models.DynamicEndpoint{
		{Path: "transfers", CacheTier: types.TierHot},
		{Path: "usdc-transfers", CacheTier: types.TierWarm},
	}

	rec := doRequest(fx, "GET", "/api/endpoints", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Endpoints []*models.DynamicEndpoint `json:"endpoints"`
		Count     int                       `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 2 || len(resp.Endpoints) != 2 {
		t.Errorf("count = %d, endpoints = %d", resp.Count, len(resp.Endpoints))
	}
}

func TestServeEndpointPassesParams(t *testing.T) {
	fx := newServerFixture(t)
	fx.endpoints.result = &endpoint.Result{
		Path:  "usdc-transfers",
		Rows:  []endpoint.TransferRow{},
		Count: 0,
	}

	rec := doRequest(fx, "GET", "/api/endpoints/usdc-transfers?limit=10&sort=value", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if fx.endpoints.lastPath != "usdc-transfers" {
		t.Errorf("path = %q", fx.endpoints.lastPath)
	}
	if fx.endpoints.lastParams["limit"] != "10" || fx.endpoints.lastParams["sort"] != "value" {
		t.Errorf("params = %v", fx.endpoints.lastParams)
	}
}

func TestServeEndpointUnknownPath(t *testing.T) {
	fx := newServerFixture(t)
	fx.endpoints.err = apperrors.NewNotFoundError("endpoint", "nope")

	rec := doRequest(fx, "GET", "/api/endpoints/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestTokenStats(t *testing.T) {
	fx := newServerFixture(t)
	fx.stats.volume = []storage.DailyVolume{
		{Day: time.Now().UTC().Truncate(24 * time.Hour), Transfers: 10, Volume: 12345.0},
	}
	fx.stats.senders = []storage.SenderStat{
		{Address: "0x1111111111111111111111111111111111111111", Transfers: 5, Volume: 999.0},
	}

	rec := doRequest(fx, "GET", "/api/tokens/0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48/stats?days=7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp TokenStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Days != 7 {
		t.Errorf("days = %d, want 7", resp.Days)
	}
	if resp.Token != "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" {
		t.Errorf("token = %q", resp.Token)
	}
}

func TestTokenStatsRejectsBadAddress(t *testing.T) {
	fx := newServerFixture(t)

	rec := doRequest(fx, "GET", "/api/tokens/not-an-address/stats", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestTokenStatsRejectsBadDays(t *testing.T) {
	fx := newServerFixture(t)

	for _, days := range []string{"0", "366", "abc"} {
		rec := doRequest(fx, "GET", "/api/tokens/0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48/stats?days="+days, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("days=%s: status = %d, want %d", days, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestTokenStatsDisabledWithoutMirror(t *testing.T) {
	fx := newServerFixture(t)
	fx.server.statsService = nil

	rec := doRequest(fx, "GET", "/api/tokens/0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48/stats", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if resp.Error.Code != "STATS_DISABLED" {
		t.Errorf("error code = %q", resp.Error.Code)
	}
}

func TestHealthHealthy(t *testing.T) {
	fx := newServerFixture(t)

	rec := doRequest(fx, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.Checks["postgres"] != "ok" || resp.Checks["redis"] != "ok" {
		t.Errorf("checks = %v", resp.Checks)
	}
}

func TestHealthDegraded(t *testing.T) {
	fx := newServerFixture(t)
	fx.pingers["redis"] = &fakePinger{err: errors.New("connection refused")}

	rec := doRequest(fx, "GET", "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.Checks["redis"] != "unreachable" {
		t.Errorf("checks = %v", resp.Checks)
	}
}

func TestRecoveryMiddlewareConvertsPanics(t *testing.T) {
	fx := newServerFixture(t)
	fx.index.submitResult = nil
	fx.index.submitErr = nil // Submit returns (nil, nil); handler dereferences result

	body, _ := json.Marshal(SubmitIndexRequest{Query: "boom"})
	rec := doRequest(fx, "POST", "/api/index", body)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
