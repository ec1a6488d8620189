package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/token-indexer/internal/models"
)

// TransferRepository handles transfer record persistence
type TransferRepository struct {
	db *PostgresDB
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *PostgresDB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Insert persists a transfer. The unique index on (tx_hash, block_number,
// from_addr, to_addr) is the authoritative dedup guard; ON CONFLICT DO
// NOTHING makes insertion idempotent. Returns true when a row was written.
func (r *TransferRepository) Insert(ctx context.Context, transfer *models.Transfer) (bool, error) {
	query := `
		INSERT INTO transfers (
			id, tx_hash, block_number, from_addr, to_addr, value,
			token_address, timestamp, gas_limit, gas_price, tier, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tx_hash, block_number, from_addr, to_addr) DO NOTHING
	`

	result, err := r.db.Pool().Exec(ctx, query,
		transfer.ID,
		strings.ToLower(transfer.TxHash),
		transfer.BlockNumber,
		strings.ToLower(transfer.FromAddr),
		strings.ToLower(transfer.ToAddr),
		transfer.Value,
		strings.ToLower(transfer.TokenAddress),
		transfer.Timestamp,
		transfer.GasLimit,
		transfer.GasPrice,
		transfer.Tier,
		time.Now().UTC(),
	)

	if err != nil {
		return false, fmt.Errorf("failed to insert transfer: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Exists reports whether a transfer with the same dedup key is already
// stored. Fast path only; Insert remains safe without it.
func (r *TransferRepository) Exists(ctx context.Context, txHash string, blockNumber uint64, fromAddr, toAddr string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transfers
			WHERE tx_hash = $1 AND block_number = $2 AND from_addr = $3 AND to_addr = $4
		)
	`

	var exists bool
	err := r.db.Pool().QueryRow(ctx, query,
		strings.ToLower(txHash),
		blockNumber,
		strings.ToLower(fromAddr),
		strings.ToLower(toAddr),
	).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check transfer existence: %w", err)
	}

	return exists, nil
}

// LatestTimestamp returns the newest stored transfer timestamp for a token,
// or nil when the token has no transfers yet.
func (r *TransferRepository) LatestTimestamp(ctx context.Context, tokenAddress string) (*time.Time, error) {
	query := `
		SELECT timestamp FROM transfers
		WHERE token_address = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var ts time.Time
	err := r.db.Pool().QueryRow(ctx, query, strings.ToLower(tokenAddress)).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest transfer timestamp: %w", err)
	}

	return &ts, nil
}

// CountForToken returns the number of stored transfers for a token
func (r *TransferRepository) CountForToken(ctx context.Context, tokenAddress string) (int64, error) {
	query := `SELECT COUNT(*) FROM transfers WHERE token_address = $1`

	var count int64
	err := r.db.Pool().QueryRow(ctx, query, strings.ToLower(tokenAddress)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transfers: %w", err)
	}

	return count, nil
}

// ListByToken retrieves recent transfers for a token, newest first
func (r *TransferRepository) ListByToken(ctx context.Context, tokenAddress string, limit, offset int) ([]*models.Transfer, error) {
	query := `
		SELECT id, tx_hash, block_number, from_addr, to_addr, value,
			   token_address, timestamp, gas_limit, gas_price, tier, created_at
		FROM transfers
		WHERE token_address = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, strings.ToLower(tokenAddress), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

func scanTransfers(rows pgx.Rows) ([]*models.Transfer, error) {
	var transfers []*models.Transfer
	for rows.Next() {
		var t models.Transfer
		err := rows.Scan(
			&t.ID,
			&t.TxHash,
			&t.BlockNumber,
			&t.FromAddr,
			&t.ToAddr,
			&t.Value,
			&t.TokenAddress,
			&t.Timestamp,
			&t.GasLimit,
			&t.GasPrice,
			&t.Tier,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfers: %w", err)
	}

	return transfers, nil
}
