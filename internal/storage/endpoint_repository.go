package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/token-indexer/internal/errors"
	"github.com/token-indexer/internal/models"
)

// EndpointRepository handles dynamic endpoint persistence
type EndpointRepository struct {
	db *PostgresDB
}

// NewEndpointRepository creates a new endpoint repository
func NewEndpointRepository(db *PostgresDB) *EndpointRepository {
	return &EndpointRepository{db: db}
}

const endpointColumns = `id, path, job_id, query, description, params, cache_tier, last_used_at, created_at, updated_at`

// UpsertByJobID creates or replaces the endpoint owned by a job. Repeated
// generation for the same job updates the existing row in place.
func (r *EndpointRepository) UpsertByJobID(ctx context.Context, ep *models.DynamicEndpoint) error {
	if ep.JobID == nil {
		return fmt.Errorf("endpoint upsert by job id requires a job id")
	}

	paramsJSON, err := ep.MarshalParams()
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint params: %w", err)
	}

	query := `
		INSERT INTO dynamic_endpoints (path, job_id, query, description, params, cache_tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (job_id) WHERE job_id IS NOT NULL DO UPDATE SET
			path = EXCLUDED.path,
			query = EXCLUDED.query,
			description = EXCLUDED.description,
			params = EXCLUDED.params,
			cache_tier = EXCLUDED.cache_tier,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	now := time.Now().UTC()
	err = r.db.Pool().QueryRow(ctx, query,
		ep.Path, ep.JobID, ep.Query, ep.Description, paramsJSON, ep.CacheTier, now,
	).Scan(&ep.ID)

	if err != nil {
		return fmt.Errorf("failed to upsert endpoint by job id: %w", err)
	}

	return nil
}

// UpsertByPath creates or replaces a default endpoint keyed by its path
func (r *EndpointRepository) UpsertByPath(ctx context.Context, ep *models.DynamicEndpoint) error {
	paramsJSON, err := ep.MarshalParams()
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint params: %w", err)
	}

	query := `
		INSERT INTO dynamic_endpoints (path, job_id, query, description, params, cache_tier, created_at, updated_at)
		VALUES ($1, NULL, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (path) WHERE job_id IS NULL DO UPDATE SET
			query = EXCLUDED.query,
			description = EXCLUDED.description,
			params = EXCLUDED.params,
			cache_tier = EXCLUDED.cache_tier,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	now := time.Now().UTC()
	err = r.db.Pool().QueryRow(ctx, query,
		ep.Path, ep.Query, ep.Description, paramsJSON, ep.CacheTier, now,
	).Scan(&ep.ID)

	if err != nil {
		return fmt.Errorf("failed to upsert endpoint by path: %w", err)
	}

	return nil
}

// GetByPath retrieves the most recently updated endpoint registered at a path
func (r *EndpointRepository) GetByPath(ctx context.Context, path string) (*models.DynamicEndpoint, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM dynamic_endpoints
		WHERE path = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, endpointColumns)

	ep, err := r.scanOne(r.db.Pool().QueryRow(ctx, query, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("endpoint", path)
		}
		return nil, fmt.Errorf("failed to get endpoint by path: %w", err)
	}

	return ep, nil
}

// GetByJobID retrieves the endpoint generated for a job
func (r *EndpointRepository) GetByJobID(ctx context.Context, jobID string) (*models.DynamicEndpoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM dynamic_endpoints WHERE job_id = $1`, endpointColumns)

	ep, err := r.scanOne(r.db.Pool().QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("endpoint for job", jobID)
		}
		return nil, fmt.Errorf("failed to get endpoint by job id: %w", err)
	}

	return ep, nil
}

// List retrieves all registered endpoints, newest first
func (r *EndpointRepository) List(ctx context.Context) ([]*models.DynamicEndpoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM dynamic_endpoints ORDER BY updated_at DESC`, endpointColumns)

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*models.DynamicEndpoint
	for rows.Next() {
		ep, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating endpoints: %w", err)
	}

	return endpoints, nil
}

// TouchLastUsed records that an endpoint was just queried
func (r *EndpointRepository) TouchLastUsed(ctx context.Context, id int64) error {
	query := `UPDATE dynamic_endpoints SET last_used_at = $2 WHERE id = $1`

	_, err := r.db.Pool().Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to touch endpoint last_used_at: %w", err)
	}

	return nil
}

func (r *EndpointRepository) scanOne(row pgx.Row) (*models.DynamicEndpoint, error) {
	var ep models.DynamicEndpoint
	var paramsJSON []byte

	err := row.Scan(
		&ep.ID,
		&ep.Path,
		&ep.JobID,
		&ep.Query,
		&ep.Description,
		&paramsJSON,
		&ep.CacheTier,
		&ep.LastUsedAt,
		&ep.CreatedAt,
		&ep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := ep.UnmarshalParams(paramsJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal endpoint params: %w", err)
	}

	return &ep, nil
}
