package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/token-indexer/internal/chain"
	"github.com/token-indexer/internal/interpreter"
	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/models"
	"github.com/token-indexer/internal/notify"
	"github.com/token-indexer/internal/resolver"
	"github.com/token-indexer/internal/types"
)

// memJobStore is an in-memory JobStore enforcing the same guards as the
// Postgres repository: monotonic progress, frozen terminal states.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.IndexingJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*models.IndexingJob)}
}

func (s *memJobStore) Create(ctx context.Context, job *models.IndexingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.JobID] = &copied
	return nil
}

func (s *memJobStore) GetByID(ctx context.Context, jobID string) (*models.IndexingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, assert.AnError
	}
	copied := *job
	return &copied, nil
}

func (s *memJobStore) UpdateProgress(ctx context.Context, jobID string, progress int, records int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != types.JobStatusActive {
		return assert.AnError
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	job.RecordsProcessed = records
	return nil
}

func (s *memJobStore) MarkTerminal(ctx context.Context, jobID string, status types.JobStatus, progress int, records int64, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return assert.AnError
	}
	job.Status = status
	if progress > job.Progress {
		job.Progress = progress
	}
	job.RecordsProcessed = records
	job.Error = errMsg
	now := time.Now().UTC()
	job.CompletedAt = &now
	return nil
}

type fakeTokenTracker struct {
	mu      sync.Mutex
	touched []string
}

func (f *fakeTokenTracker) TouchLastIndexed(ctx context.Context, address string, at time.Time) error {
	f.mu.Lock()
	f.touched = append(f.touched, address)
	f.mu.Unlock()
	return nil
}

type fakeGenerator struct {
	mu   sync.Mutex
	jobs []string
}

func (f *fakeGenerator) GenerateForJob(ctx context.Context, job *models.IndexingJob) (*models.DynamicEndpoint, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job.JobID)
	f.mu.Unlock()
	return &models.DynamicEndpoint{Path: "test", JobID: &job.JobID}, nil
}

type managerFixture struct {
	manager   *Manager
	jobs      *memJobStore
	tracker   *fakeTokenTracker
	generator *fakeGenerator
	bus       *notify.Bus
	pool      *Pool
	reader    *fakeReader
}

func newManagerFixture(t *testing.T, reader *fakeReader, recencyStore *fakeRecencyStore) *managerFixture {
	t.Helper()

	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	bus := notify.NewBus(logger)
	t.Cleanup(bus.Close)

	if recencyStore == nil {
		recencyStore = &fakeRecencyStore{}
	}
	recency, _ := setupRecency(t, recencyStore, time.Hour)

	transfers := newFakeTransferStore()
	tokens := &fakeTokenStore{}
	registry := resolver.New(logger)
	processor := NewProcessor(transfers, tokens, nil, reader, bus, registry, logger)
	scanner := NewScanner(reader, processor, testScannerConfig(), logger)

	jobs := newMemJobStore()
	tracker := &fakeTokenTracker{}
	generator := &fakeGenerator{}

	var manager *Manager
	pool := NewPool(1, 8, func(jobID string, recovered interface{}) {
		manager.HandlePanic(jobID, recovered)
	}, logger)
	t.Cleanup(pool.Stop)

	manager = NewManager(
		interpreter.NewHeuristic(), registry, recency,
		jobs, tracker, scanner, pool, bus, generator, logger,
	)

	return &managerFixture{
		manager:   manager,
		jobs:      jobs,
		tracker:   tracker,
		generator: generator,
		bus:       bus,
		pool:      pool,
		reader:    reader,
	}
}

func waitForTerminal(t *testing.T, jobs *memJobStore, jobID string) *models.IndexingJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.GetByID(context.Background(), jobID)
		if err == nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

const managerQuery = "index transfers for 0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48 from block 0 to block 9"

func TestManagerSubmitCompletesJob(t *testing.T) {
	fx := newManagerFixture(t, &fakeReader{}, nil)
	progressSub := fx.bus.Subscribe(types.TopicJobProgress)

	result, err := fx.manager.Submit(context.Background(), managerQuery, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.JobID)
	assert.Nil(t, result.CacheHit)

	job := waitForTerminal(t, fx.jobs, result.JobID)
	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.CompletedAt)

	// Progress events arrive in non-decreasing order and end at 100.
	var last int
	for len(progressSub.C) > 0 {
		event := (<-progressSub.C).Payload.(types.JobProgressEvent)
		assert.GreaterOrEqual(t, event.Progress, last)
		last = event.Progress
	}
	assert.Equal(t, 100, last)

	fx.generator.mu.Lock()
	assert.Equal(t, []string{result.JobID}, fx.generator.jobs)
	fx.generator.mu.Unlock()

	fx.tracker.mu.Lock()
	assert.Contains(t, fx.tracker.touched, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	fx.tracker.mu.Unlock()
}

func TestManagerRejectsEmptyQuery(t *testing.T) {
	fx := newManagerFixture(t, &fakeReader{}, nil)

	_, err := fx.manager.Submit(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestManagerCacheHitShortCircuits(t *testing.T) {
	fresh := time.Now().Add(-5 * time.Minute)
	fx := newManagerFixture(t, &fakeReader{}, &fakeRecencyStore{latest: &fresh, count: 9})

	result, err := fx.manager.Submit(context.Background(), managerQuery, nil)
	require.NoError(t, err)

	assert.Empty(t, result.JobID)
	require.NotNil(t, result.CacheHit)
	assert.Equal(t, int64(9), result.CacheHit.TransferCount)

	fx.jobs.mu.Lock()
	assert.Empty(t, fx.jobs.jobs)
	fx.jobs.mu.Unlock()
}

func TestManagerFallsBackToPopularTokens(t *testing.T) {
	fx := newManagerFixture(t, &fakeReader{}, nil)

	result, err := fx.manager.Submit(context.Background(), "index something interesting from block 1 to block 2", nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.JobID)

	job := waitForTerminal(t, fx.jobs, result.JobID)
	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.NotEmpty(t, job.Config.Addresses)
}

func TestManagerIsolatesFailedAddress(t *testing.T) {
	// Every fetch for the first token fails; the second token's transfers
	// must still land and the job must still complete.
	reader := &fakeReader{
		failTokens: map[string]bool{"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": true},
		logs:       map[blockRange][]chain.TransferLog{{0, 9}: makeLogs(3, 0)},
	}
	fx := newManagerFixture(t, reader, nil)

	result, err := fx.manager.Submit(context.Background(),
		"index 0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48 and 0xdac17f958d2ee523a2206206994597c13d831ec7 from block 0 to block 9", nil)
	require.NoError(t, err)

	job := waitForTerminal(t, fx.jobs, result.JobID)
	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, int64(3), job.RecordsProcessed)
}

func TestManagerErrorsWhenAllScansFail(t *testing.T) {
	// No explicit range forces a head lookup, which fails for every address.
	reader := &fakeReader{headErr: errors.New("rpc unavailable")}
	fx := newManagerFixture(t, reader, nil)

	result, err := fx.manager.Submit(context.Background(),
		"index 0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48 and 0xdac17f958d2ee523a2206206994597c13d831ec7", nil)
	require.NoError(t, err)

	job := waitForTerminal(t, fx.jobs, result.JobID)
	assert.Equal(t, types.JobStatusError, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "all address scans failed")
}

func TestManagerCancelMarksJobErrored(t *testing.T) {
	// A huge pinned range keeps the driver busy long enough to cancel.
	reader := &fakeReader{}
	fx := newManagerFixture(t, reader, nil)

	result, err := fx.manager.Submit(context.Background(),
		"index 0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48 from block 0 to block 2000000", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return fx.manager.CancelJob(result.JobID) == nil
	}, 2*time.Second, 10*time.Millisecond)

	job := waitForTerminal(t, fx.jobs, result.JobID)
	assert.Equal(t, types.JobStatusError, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "canceled")
}

func TestManagerCancelUnknownJob(t *testing.T) {
	fx := newManagerFixture(t, &fakeReader{}, nil)
	assert.Error(t, fx.manager.CancelJob("no-such-job"))
}
