package models

import (
	"time"

	"github.com/token-indexer/internal/types"
)

// Transfer represents one observed ERC-20 transfer event. The composite of
// (tx hash, block number, from, to) is the dedup key: a single transaction can
// carry several transfer events across different address pairs, and the
// storage layer enforces uniqueness on exactly this composite.
type Transfer struct {
	ID           string          `json:"id" db:"id"`
	TxHash       string          `json:"txHash" db:"tx_hash"`
	BlockNumber  uint64          `json:"blockNumber" db:"block_number"`
	FromAddr     string          `json:"from" db:"from_addr"`
	ToAddr       string          `json:"to" db:"to_addr"`
	Value        string          `json:"value" db:"value"` // arbitrary-precision decimal string
	TokenAddress string          `json:"tokenAddress" db:"token_address"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
	GasLimit     *string         `json:"gasLimit,omitempty" db:"gas_limit"`
	GasPrice     *string         `json:"gasPrice,omitempty" db:"gas_price"`
	Tier         types.TokenTier `json:"tier" db:"tier"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
}
