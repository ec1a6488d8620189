package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/token-indexer/internal/errors"
	"github.com/token-indexer/internal/models"
)

// TokenRepository handles token metadata persistence
type TokenRepository struct {
	db *PostgresDB
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *PostgresDB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Upsert creates or updates a token. Tokens are created lazily on first
// reference and never deleted; metadata fields only overwrite when non-empty.
func (r *TokenRepository) Upsert(ctx context.Context, token *models.Token) error {
	token.Address = strings.ToLower(token.Address)

	query := `
		INSERT INTO tokens (address, name, symbol, decimals, is_popular, tier, last_indexed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE tokens.name END,
			symbol = CASE WHEN EXCLUDED.symbol <> '' THEN EXCLUDED.symbol ELSE tokens.symbol END,
			decimals = EXCLUDED.decimals,
			is_popular = tokens.is_popular OR EXCLUDED.is_popular,
			tier = EXCLUDED.tier,
			last_indexed_at = COALESCE(EXCLUDED.last_indexed_at, tokens.last_indexed_at)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		token.Address,
		token.Name,
		token.Symbol,
		token.Decimals,
		token.IsPopular,
		token.Tier,
		token.LastIndexedAt,
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}

	return nil
}

// GetByAddress retrieves a token by its normalized contract address
func (r *TokenRepository) GetByAddress(ctx context.Context, address string) (*models.Token, error) {
	query := `
		SELECT address, name, symbol, decimals, is_popular, tier, last_indexed_at, created_at
		FROM tokens
		WHERE address = $1
	`

	var token models.Token
	err := r.db.Pool().QueryRow(ctx, query, strings.ToLower(address)).Scan(
		&token.Address,
		&token.Name,
		&token.Symbol,
		&token.Decimals,
		&token.IsPopular,
		&token.Tier,
		&token.LastIndexedAt,
		&token.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("token", address)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	return &token, nil
}

// TouchLastIndexed updates a token's last-indexed timestamp
func (r *TokenRepository) TouchLastIndexed(ctx context.Context, address string, at time.Time) error {
	query := `UPDATE tokens SET last_indexed_at = $2 WHERE address = $1`

	_, err := r.db.Pool().Exec(ctx, query, strings.ToLower(address), at)
	if err != nil {
		return fmt.Errorf("failed to touch token last_indexed_at: %w", err)
	}

	return nil
}

// ListPopular retrieves all tokens flagged as popular
func (r *TokenRepository) ListPopular(ctx context.Context) ([]*models.Token, error) {
	query := `
		SELECT address, name, symbol, decimals, is_popular, tier, last_indexed_at, created_at
		FROM tokens
		WHERE is_popular = TRUE
		ORDER BY symbol
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list popular tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.Token
	for rows.Next() {
		var token models.Token
		err := rows.Scan(
			&token.Address,
			&token.Name,
			&token.Symbol,
			&token.Decimals,
			&token.IsPopular,
			&token.Tier,
			&token.LastIndexedAt,
			&token.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, &token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}

	return tokens, nil
}
