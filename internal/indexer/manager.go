package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/token-indexer/internal/errors"
	"github.com/token-indexer/internal/interpreter"
	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/models"
	"github.com/token-indexer/internal/notify"
	"github.com/token-indexer/internal/resolver"
	"github.com/token-indexer/internal/types"
)

// JobStore is the slice of the job repository the manager needs
type JobStore interface {
	Create(ctx context.Context, job *models.IndexingJob) error
	GetByID(ctx context.Context, jobID string) (*models.IndexingJob, error)
	UpdateProgress(ctx context.Context, jobID string, progress int, recordsProcessed int64) error
	MarkTerminal(ctx context.Context, jobID string, status types.JobStatus, progress int, recordsProcessed int64, errMsg *string) error
}

// TokenTracker records per-token indexing bookkeeping
type TokenTracker interface {
	TouchLastIndexed(ctx context.Context, address string, at time.Time) error
}

// EndpointGenerator builds the dynamic endpoint for a completed job
type EndpointGenerator interface {
	GenerateForJob(ctx context.Context, job *models.IndexingJob) (*models.DynamicEndpoint, error)
}

// SubmitResult is the outcome of an indexing request: either a job was
// created or fresh data short-circuited it.
type SubmitResult struct {
	JobID    string                 `json:"jobId,omitempty"`
	Status   types.JobStatus        `json:"status,omitempty"`
	CacheHit *types.CacheHitSummary `json:"cacheHit,omitempty"`
	Message  string                 `json:"message"`
}

// Manager owns the job lifecycle: submission, driving scans through the
// worker pool, progress accounting, cancellation, and terminal transitions.
type Manager struct {
	interp    interpreter.Interpreter
	resolver  *resolver.Resolver
	recency   *RecencyChecker
	jobs      JobStore
	tokens    TokenTracker
	scanner   *Scanner
	pool      *Pool
	bus       *notify.Bus
	endpoints EndpointGenerator
	logger    *logging.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewManager creates a job manager. Wire the returned manager's HandlePanic
// into the pool's panic callback.
func NewManager(
	interp interpreter.Interpreter,
	res *resolver.Resolver,
	recency *RecencyChecker,
	jobs JobStore,
	tokens TokenTracker,
	scanner *Scanner,
	pool *Pool,
	bus *notify.Bus,
	endpoints EndpointGenerator,
	logger *logging.Logger,
) *Manager {
	return &Manager{
		interp:    interp,
		resolver:  res,
		recency:   recency,
		jobs:      jobs,
		tokens:    tokens,
		scanner:   scanner,
		pool:      pool,
		bus:       bus,
		endpoints: endpoints,
		logger:    logger,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Submit runs the submission pipeline: interpret the request, resolve
// addresses, short-circuit on fresh data, otherwise create an active job and
// hand the driver to the pool.
func (m *Manager) Submit(ctx context.Context, query string, userID *string) (*SubmitResult, error) {
	if query == "" {
		return nil, apperrors.NewInvalidInputError("query must not be empty")
	}

	cfg, err := m.interp.Interpret(ctx, query)
	if err != nil {
		// The interpreter is a collaborator; its failure degrades to the
		// regex extractor rather than rejecting the request.
		m.logger.WithError(err).Debug("interpreter failed, using fallback extraction")
		cfg = interpreter.ExtractConfig(query)
	}

	addresses := m.resolver.Resolve(query, cfg.Addresses, cfg.SymbolHint)
	tier := types.TierOnDemand
	if len(addresses) == 0 {
		addresses = m.resolver.PopularAddresses()
		tier = types.TierPopular
	}
	cfg.Addresses = addresses

	// Recency short-circuit: only when every requested token is fresh.
	var firstHit *types.CacheHitSummary
	fresh := 0
	for _, addr := range addresses {
		summary, err := m.recency.Check(ctx, addr)
		if err != nil {
			m.logger.WithError(err).Warn("recency check failed, proceeding with scan")
			break
		}
		if summary == nil {
			break
		}
		fresh++
		if firstHit == nil {
			firstHit = summary
		}
	}
	if fresh == len(addresses) {
		return &SubmitResult{
			CacheHit: firstHit,
			Message:  "recent data already indexed",
		}, nil
	}

	job := &models.IndexingJob{
		JobID:     uuid.NewString(),
		QueryText: query,
		Config:    *cfg,
		Status:    types.JobStatusActive,
		Progress:  0,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := m.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[job.JobID] = cancel
	m.mu.Unlock()

	if err := m.pool.Submit(job.JobID, func() {
		defer m.clearCancel(job.JobID)
		m.runJob(jobCtx, job, tier)
	}); err != nil {
		cancel()
		m.clearCancel(job.JobID)
		msg := err.Error()
		if markErr := m.jobs.MarkTerminal(ctx, job.JobID, types.JobStatusError, 0, 0, &msg); markErr != nil {
			m.logger.WithError(markErr).Error("failed to mark rejected job as errored")
		}
		return nil, apperrors.NewInternalError("indexing capacity exhausted", err)
	}

	m.bus.PublishSystemStatus(types.SystemStatusEvent{
		Message:   fmt.Sprintf("indexing job accepted for %d address(es)", len(addresses)),
		Stage:     "accepted",
		JobID:     job.JobID,
		Timestamp: time.Now().UTC(),
	})

	return &SubmitResult{
		JobID:   job.JobID,
		Status:  job.Status,
		Message: "indexing job started",
	}, nil
}

// runJob drives one job: sequential per-address scans with monotonic progress
// updates. A failing address is isolated; the job only errors when every
// address fails or the context is canceled.
func (m *Manager) runJob(ctx context.Context, job *models.IndexingJob, tier types.TokenTier) {
	log := m.logger.WithField("jobId", job.JobID)
	total := len(job.Config.Addresses)

	var records int64
	failures := 0

	for i, addr := range job.Config.Addresses {
		if ctx.Err() != nil {
			m.failJob(job.JobID, records, "job canceled")
			return
		}

		count, err := m.scanner.ScanAddress(ctx, job.JobID, addr, tier, job.Config)
		records += count
		if err != nil {
			if ctx.Err() != nil {
				m.failJob(job.JobID, records, "job canceled")
				return
			}
			failures++
			log.WithFields(map[string]interface{}{
				"token": addr,
				"error": err.Error(),
			}).Error("address scan failed")
		} else {
			now := time.Now().UTC()
			if err := m.tokens.TouchLastIndexed(ctx, addr, now); err != nil {
				log.WithError(err).Warn("failed to update token last_indexed_at")
			}
			m.recency.Refresh(ctx, &types.CacheHitSummary{
				Token:         addr,
				TransferCount: count,
				LatestAt:      now,
				CachedAt:      now,
			})
		}

		progress := (i + 1) * 100 / total
		if progress > 99 {
			progress = 99 // 100 is reserved for the terminal transition
		}
		if err := m.jobs.UpdateProgress(ctx, job.JobID, progress, records); err != nil {
			log.WithError(err).Warn("failed to persist job progress")
		}
		m.bus.PublishJobProgress(types.JobProgressEvent{
			JobID:     job.JobID,
			Progress:  progress,
			Status:    types.JobStatusActive,
			Message:   fmt.Sprintf("scanned %d of %d addresses", i+1, total),
			Timestamp: time.Now().UTC(),
		})
	}

	if failures == total {
		m.failJob(job.JobID, records, "all address scans failed")
		return
	}

	m.completeJob(ctx, job, records)
}

func (m *Manager) completeJob(ctx context.Context, job *models.IndexingJob, records int64) {
	log := m.logger.WithField("jobId", job.JobID)

	if err := m.jobs.MarkTerminal(ctx, job.JobID, types.JobStatusCompleted, 100, records, nil); err != nil {
		log.WithError(err).Error("failed to mark job completed")
		return
	}

	m.bus.PublishJobProgress(types.JobProgressEvent{
		JobID:     job.JobID,
		Progress:  100,
		Status:    types.JobStatusCompleted,
		Message:   fmt.Sprintf("indexed %d transfers", records),
		Timestamp: time.Now().UTC(),
	})

	if m.endpoints != nil {
		completed, err := m.jobs.GetByID(ctx, job.JobID)
		if err != nil {
			completed = job
		}
		if _, err := m.endpoints.GenerateForJob(ctx, completed); err != nil {
			log.WithError(err).Error("failed to generate endpoint for completed job")
		}
	}

	m.bus.PublishSystemStatus(types.SystemStatusEvent{
		Message:   fmt.Sprintf("job finished with %d transfers", records),
		Stage:     "completed",
		JobID:     job.JobID,
		Timestamp: time.Now().UTC(),
	})
}

// failJob moves a job to the error terminal state through the validated
// transition. Runs on a background context: the job context may already be
// canceled and the terminal write must still land.
func (m *Manager) failJob(jobID string, records int64, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.jobs.MarkTerminal(ctx, jobID, types.JobStatusError, 0, records, &message); err != nil {
		m.logger.WithField("jobId", jobID).WithError(err).Error("failed to mark job errored")
		return
	}

	m.bus.PublishJobProgress(types.JobProgressEvent{
		JobID:     jobID,
		Progress:  0,
		Status:    types.JobStatusError,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// HandlePanic is the pool's panic callback: a crashed driver becomes a clean
// error transition instead of a wedged active job.
func (m *Manager) HandlePanic(jobID string, recovered interface{}) {
	m.clearCancel(jobID)
	m.failJob(jobID, 0, fmt.Sprintf("job driver panicked: %v", recovered))
}

// CancelJob cancels a running job's context. The driver observes the
// cancellation and performs the terminal transition itself.
func (m *Manager) CancelJob(jobID string) error {
	m.mu.Lock()
	cancel, ok := m.cancels[jobID]
	m.mu.Unlock()

	if !ok {
		return apperrors.NewNotFoundError("running job", jobID)
	}

	cancel()
	return nil
}

// JobStatus returns the last persisted state of a job
func (m *Manager) JobStatus(ctx context.Context, jobID string) (*models.IndexingJob, error) {
	return m.jobs.GetByID(ctx, jobID)
}

func (m *Manager) clearCancel(jobID string) {
	m.mu.Lock()
	if cancel, ok := m.cancels[jobID]; ok {
		cancel()
		delete(m.cancels, jobID)
	}
	m.mu.Unlock()
}
