// Package models defines the persisted row types for the token indexer.
package models

import (
	"time"

	"github.com/token-indexer/internal/types"
)

// IndexingJob represents an indexing job in the database
type IndexingJob struct {
	JobID            string            `json:"jobId" db:"job_id"`
	QueryText        string            `json:"queryText" db:"query_text"`
	Config           types.IndexConfig `json:"config" db:"config"`
	Status           types.JobStatus   `json:"status" db:"status"`
	Progress         int               `json:"progress" db:"progress"`
	RecordsProcessed int64             `json:"recordsProcessed" db:"records_processed"`
	Error            *string           `json:"error,omitempty" db:"error"`
	UserID           *string           `json:"userId,omitempty" db:"user_id"`
	CreatedAt        time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time         `json:"updatedAt" db:"updated_at"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty" db:"completed_at"`
}
