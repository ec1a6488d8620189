package models

import (
	"encoding/json"
	"time"

	"github.com/token-indexer/internal/types"
)

// EndpointParam describes one accepted query parameter of a dynamic endpoint
type EndpointParam struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"` // string, address, uint, decimal, enum
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// DynamicEndpoint represents a registered, parameterized read query derived
// from a completed indexing job. Job-scoped endpoints are looked up by job id;
// the default endpoint (nil job id) is looked up by path.
type DynamicEndpoint struct {
	ID          int64           `json:"id" db:"id"`
	Path        string          `json:"path" db:"path"`
	JobID       *string         `json:"jobId,omitempty" db:"job_id"`
	Query       string          `json:"query" db:"query"`
	Description string          `json:"description" db:"description"`
	Params      []EndpointParam `json:"params" db:"params"`
	CacheTier   types.CacheTier `json:"cacheTier" db:"cache_tier"`
	LastUsedAt  *time.Time      `json:"lastUsedAt,omitempty" db:"last_used_at"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// MarshalParams serializes the parameter schema for storage
func (e *DynamicEndpoint) MarshalParams() ([]byte, error) {
	if e.Params == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e.Params)
}

// UnmarshalParams deserializes the parameter schema from storage
func (e *DynamicEndpoint) UnmarshalParams(data []byte) error {
	if len(data) == 0 {
		e.Params = nil
		return nil
	}
	return json.Unmarshal(data, &e.Params)
}
