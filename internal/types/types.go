// Package types provides common type definitions for the token transfer indexer.
package types

import "time"

// JobStatus represents the lifecycle state of an indexing job
type JobStatus string

const (
	// JobStatusPending represents a job that has been accepted but not started.
	// Jobs are created directly as active; pending exists for completeness.
	JobStatusPending JobStatus = "pending"
	// JobStatusActive represents a job currently scanning
	JobStatusActive JobStatus = "active"
	// JobStatusCompleted represents a job that finished all addresses
	JobStatusCompleted JobStatus = "completed"
	// JobStatusError represents a job that failed at the job level
	JobStatusError JobStatus = "error"
	// JobStatusPaused is reserved; no transition currently produces it
	JobStatusPaused JobStatus = "paused"
)

// Valid reports whether the status is a member of the closed set.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusActive, JobStatusCompleted, JobStatusError, JobStatusPaused:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// CanTransitionTo validates a status transition. Terminal states are frozen;
// a write that would move a completed or errored job back to active is rejected.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !next.Valid() {
		return false
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusActive || next == JobStatusError
	case JobStatusActive:
		return next == JobStatusActive || next == JobStatusCompleted ||
			next == JobStatusError || next == JobStatusPaused
	case JobStatusPaused:
		return next == JobStatusActive || next == JobStatusError
	default: // completed, error
		return false
	}
}

// TokenTier represents how a token came to be indexed
type TokenTier string

const (
	// TierPopular represents tokens indexed by default
	TierPopular TokenTier = "popular"
	// TierOnDemand represents tokens indexed because a query referenced them
	TierOnDemand TokenTier = "on-demand"
)

// CacheTier classifies data recency and drives endpoint result cache lifetime
type CacheTier string

const (
	// TierHot is for unbounded or very recent block ranges
	TierHot CacheTier = "hot"
	// TierWarm is for ranges ending within the last day
	TierWarm CacheTier = "warm"
	// TierCold is for older, closed ranges
	TierCold CacheTier = "cold"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// IndexConfig is the resolved configuration of an indexing request, produced
// by the query interpreter (or the fallback extractor) and the address resolver.
type IndexConfig struct {
	Addresses    []string               `json:"addresses"`
	Events       []string               `json:"events"`
	FromBlock    *uint64                `json:"fromBlock,omitempty"`
	ToBlock      *uint64                `json:"toBlock,omitempty"`
	Filters      map[string]interface{} `json:"filters,omitempty"`
	EndpointName string                 `json:"endpointName,omitempty"`
	SymbolHint   string                 `json:"symbolHint,omitempty"`
}

// Notification topics published on the bus
const (
	TopicJobProgress     = "job-progress"
	TopicNewTransfer     = "new-transfer"
	TopicEndpointCreated = "endpoint-created"
	TopicSystemStatus    = "system-status"
)

// JobProgressEvent is the payload for job-progress notifications
type JobProgressEvent struct {
	JobID     string    `json:"jobId"`
	Progress  int       `json:"progress"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TransferTokenRef carries denormalized token display fields on transfer events
type TransferTokenRef struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
}

// NewTransferEvent is the payload for new-transfer notifications
type NewTransferEvent struct {
	ID          string           `json:"id"`
	TxHash      string           `json:"txHash"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Value       string           `json:"value"`
	Token       TransferTokenRef `json:"token"`
	BlockNumber uint64           `json:"blockNumber"`
	Timestamp   time.Time        `json:"timestamp"`
}

// EndpointCreatedEvent is the payload for endpoint-created notifications
type EndpointCreatedEvent struct {
	JobID       string    `json:"jobId"`
	Path        string    `json:"path"`
	Query       string    `json:"query"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// SystemStatusEvent is the payload for system-status notifications
type SystemStatusEvent struct {
	Message   string    `json:"message"`
	Stage     string    `json:"stage"`
	JobID     string    `json:"jobId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CacheHitSummary is returned instead of a job id when fresh data already exists
type CacheHitSummary struct {
	Token         string    `json:"token"`
	TransferCount int64     `json:"transferCount"`
	LatestAt      time.Time `json:"latestAt"`
	CachedAt      time.Time `json:"cachedAt"`
}
