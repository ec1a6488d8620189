package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/token-indexer/internal/models"
)

// AnalyticsRepository mirrors transfers into ClickHouse for aggregate
// queries. The mirror is best effort: Postgres stays authoritative and a
// failed mirror write never fails the indexing pipeline.
type AnalyticsRepository struct {
	db *ClickHouseDB
}

// NewAnalyticsRepository creates a new analytics repository
func NewAnalyticsRepository(db *ClickHouseDB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// EnsureSchema creates the transfers mirror table if it does not exist
func (r *AnalyticsRepository) EnsureSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS transfers (
			tx_hash       String,
			block_number  UInt64,
			from_addr     String,
			to_addr       String,
			value         Float64,
			token_address String,
			timestamp     DateTime
		) ENGINE = MergeTree()
		ORDER BY (token_address, timestamp)
	`

	if err := r.db.Conn().Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create transfers mirror table: %w", err)
	}

	return nil
}

// MirrorTransfers appends a batch of transfers to the analytics mirror
func (r *AnalyticsRepository) MirrorTransfers(ctx context.Context, transfers []*models.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO transfers (tx_hash, block_number, from_addr, to_addr, value, token_address, timestamp)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare transfer batch: %w", err)
	}

	for _, t := range transfers {
		err := batch.Append(
			strings.ToLower(t.TxHash),
			t.BlockNumber,
			strings.ToLower(t.FromAddr),
			strings.ToLower(t.ToAddr),
			approximateValue(t.Value),
			strings.ToLower(t.TokenAddress),
			t.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to append transfer to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send transfer batch: %w", err)
	}

	return nil
}

// DailyVolume is one day of aggregated transfer activity for a token
type DailyVolume struct {
	Day       time.Time `json:"day"`
	Transfers uint64    `json:"transfers"`
	Volume    float64   `json:"volume"`
}

// VolumeByDay aggregates per-day transfer counts and approximate volume for
// a token over the trailing number of days.
func (r *AnalyticsRepository) VolumeByDay(ctx context.Context, tokenAddress string, days int) ([]DailyVolume, error) {
	query := `
		SELECT toStartOfDay(timestamp) AS day, count() AS transfers, sum(value) AS volume
		FROM transfers
		WHERE token_address = ? AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY day
		ORDER BY day DESC
	`

	rows, err := r.db.Conn().Query(ctx, query, strings.ToLower(tokenAddress), days)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily volume: %w", err)
	}
	defer rows.Close()

	var results []DailyVolume
	for rows.Next() {
		var dv DailyVolume
		if err := rows.Scan(&dv.Day, &dv.Transfers, &dv.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily volume: %w", err)
		}
		results = append(results, dv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily volume: %w", err)
	}

	return results, nil
}

// SenderStat is one sender's aggregated transfer activity for a token
type SenderStat struct {
	Address   string  `json:"address"`
	Transfers uint64  `json:"transfers"`
	Volume    float64 `json:"volume"`
}

// TopSenders returns the most active sending addresses for a token
func (r *AnalyticsRepository) TopSenders(ctx context.Context, tokenAddress string, limit int) ([]SenderStat, error) {
	query := `
		SELECT from_addr, count() AS transfers, sum(value) AS volume
		FROM transfers
		WHERE token_address = ?
		GROUP BY from_addr
		ORDER BY transfers DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, strings.ToLower(tokenAddress), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top senders: %w", err)
	}
	defer rows.Close()

	var results []SenderStat
	for rows.Next() {
		var st SenderStat
		if err := rows.Scan(&st.Address, &st.Transfers, &st.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan sender stat: %w", err)
		}
		results = append(results, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating top senders: %w", err)
	}

	return results, nil
}

// approximateValue converts a decimal string into a float for aggregation.
// Precision loss is acceptable here; exact values live in Postgres.
func approximateValue(value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}
