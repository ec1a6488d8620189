package models

import (
	"time"

	"github.com/token-indexer/internal/types"
)

// Token represents a tracked token contract. Identity is the lower-cased
// contract address; rows are upserted lazily on first reference and never deleted.
type Token struct {
	Address       string          `json:"address" db:"address"`
	Name          string          `json:"name" db:"name"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Decimals      int             `json:"decimals" db:"decimals"`
	IsPopular     bool            `json:"isPopular" db:"is_popular"`
	Tier          types.TokenTier `json:"tier" db:"tier"`
	LastIndexedAt *time.Time      `json:"lastIndexedAt,omitempty" db:"last_indexed_at"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}
