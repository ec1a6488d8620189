package chain

import "context"

// TransferLog is one decoded ERC-20 Transfer event as read off the chain
type TransferLog struct {
	TxHash       string
	BlockNumber  uint64
	TokenAddress string
	From         string
	To           string
	Value        string // unsigned decimal string
}

// TxInfo carries the optional gas enrichment fields for a transaction
type TxInfo struct {
	GasLimit string
	GasPrice string
}

// TokenMetadata carries the ERC-20 descriptor fields read off a contract
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals int
}

// Reader abstracts chain access for the scanner and processor. Implementations
// must be safe for concurrent use.
type Reader interface {
	// LatestBlockNumber returns the current chain head height.
	LatestBlockNumber(ctx context.Context) (uint64, error)

	// FilterTransfers returns the decoded Transfer events emitted by the token
	// contract within the inclusive block range [fromBlock, toBlock].
	FilterTransfers(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]TransferLog, error)

	// BlockTimestamp returns the unix timestamp of a block.
	BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error)

	// TransactionInfo returns gas details for a transaction. Used for
	// best-effort enrichment only.
	TransactionInfo(ctx context.Context, txHash string) (*TxInfo, error)

	// TokenMetadata reads name(), symbol(), and decimals() from a token
	// contract. Used for best-effort enrichment only.
	TokenMetadata(ctx context.Context, tokenAddress string) (*TokenMetadata, error)

	// Close releases the underlying connection.
	Close()
}
