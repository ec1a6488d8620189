package chain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	apperrors "github.com/token-indexer/internal/errors"
	"github.com/token-indexer/internal/logging"
)

// ERC20 Transfer event signature: Transfer(address,address,uint256)
var transferEventSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// ERC20 descriptor function selectors
var (
	nameSelector     = common.FromHex("0x06fdde03") // name()
	symbolSelector   = common.FromHex("0x95d89b41") // symbol()
	decimalsSelector = common.FromHex("0x313ce567") // decimals()
)

// EthereumReader implements Reader against an EVM JSON-RPC endpoint, with a
// one-shot failover to a secondary endpoint on transient errors.
type EthereumReader struct {
	mu           sync.Mutex
	client       *ethclient.Client
	primaryURL   string
	secondaryURL string
	onSecondary  bool
	logger       *logging.Logger
}

// NewEthereumReader dials the primary RPC endpoint
func NewEthereumReader(primaryURL, secondaryURL string, logger *logging.Logger) (*EthereumReader, error) {
	client, err := ethclient.Dial(primaryURL)
	if err != nil {
		return nil, apperrors.NewChainError("dial", err)
	}

	return &EthereumReader{
		client:       client,
		primaryURL:   primaryURL,
		secondaryURL: secondaryURL,
		logger:       logger,
	}, nil
}

// LatestBlockNumber returns the current chain head height
func (r *EthereumReader) LatestBlockNumber(ctx context.Context) (uint64, error) {
	blockNum, err := r.getClient().BlockNumber(ctx)
	if err != nil {
		if r.failover(err) {
			return r.getClient().BlockNumber(ctx)
		}
		return 0, apperrors.NewChainError("blockNumber", err)
	}
	return blockNum, nil
}

// FilterTransfers fetches Transfer logs for a token over a block range
func (r *EthereumReader) FilterTransfers(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]TransferLog, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(tokenAddress)},
		Topics:    [][]common.Hash{{transferEventSig}},
	}

	logs, err := r.getClient().FilterLogs(ctx, query)
	if err != nil {
		if r.failover(err) {
			logs, err = r.getClient().FilterLogs(ctx, query)
		}
		if err != nil {
			return nil, apperrors.NewChainError("filterLogs", err)
		}
	}

	transfers := make([]TransferLog, 0, len(logs))
	for _, entry := range logs {
		decoded, ok := decodeTransferLog(entry)
		if !ok {
			continue
		}
		transfers = append(transfers, decoded)
	}

	return transfers, nil
}

// decodeTransferLog decodes one Transfer event. Logs with fewer than three
// topics are not ERC-20 transfers (ERC-721 uses the same signature with a
// fourth indexed topic and no data) and are skipped.
func decodeTransferLog(entry ethtypes.Log) (TransferLog, bool) {
	if len(entry.Topics) != 3 || entry.Topics[0] != transferEventSig {
		return TransferLog{}, false
	}

	value := new(big.Int).SetBytes(entry.Data)

	return TransferLog{
		TxHash:       entry.TxHash.Hex(),
		BlockNumber:  entry.BlockNumber,
		TokenAddress: strings.ToLower(entry.Address.Hex()),
		From:         strings.ToLower(common.BytesToAddress(entry.Topics[1].Bytes()).Hex()),
		To:           strings.ToLower(common.BytesToAddress(entry.Topics[2].Bytes()).Hex()),
		Value:        value.String(),
	}, true
}

// BlockTimestamp returns the unix timestamp of a block header
func (r *EthereumReader) BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	header, err := r.getClient().HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		if r.failover(err) {
			header, err = r.getClient().HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		}
		if err != nil {
			return 0, apperrors.NewChainError("headerByNumber", err)
		}
	}
	return int64(header.Time), nil
}

// TransactionInfo returns gas details for a mined transaction
func (r *EthereumReader) TransactionInfo(ctx context.Context, txHash string) (*TxInfo, error) {
	tx, isPending, err := r.getClient().TransactionByHash(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, apperrors.NewChainError("transactionByHash", err)
	}
	if isPending {
		return nil, apperrors.NewChainError("transactionByHash", fmt.Errorf("transaction %s is pending", txHash))
	}

	return &TxInfo{
		GasLimit: fmt.Sprintf("%d", tx.Gas()),
		GasPrice: tx.GasPrice().String(),
	}, nil
}

// TokenMetadata reads the ERC-20 descriptor fields from a token contract.
// The three calls are independent; a field whose call fails is left at its
// zero value and only a contract answering none of them is an error.
func (r *EthereumReader) TokenMetadata(ctx context.Context, tokenAddress string) (*TokenMetadata, error) {
	contract := common.HexToAddress(tokenAddress)

	rawName, nameErr := r.callContract(ctx, contract, nameSelector)
	rawSymbol, symbolErr := r.callContract(ctx, contract, symbolSelector)
	rawDecimals, decimalsErr := r.callContract(ctx, contract, decimalsSelector)

	if nameErr != nil && symbolErr != nil && decimalsErr != nil {
		return nil, apperrors.NewChainError("tokenMetadata", nameErr)
	}

	meta := &TokenMetadata{Decimals: 18}
	if nameErr == nil {
		meta.Name = decodeContractString(rawName)
	}
	if symbolErr == nil {
		meta.Symbol = decodeContractString(rawSymbol)
	}
	if decimalsErr == nil && len(rawDecimals) >= 32 {
		if v := new(big.Int).SetBytes(rawDecimals); v.IsUint64() && v.Uint64() <= 255 {
			meta.Decimals = int(v.Uint64())
		}
	}

	return meta, nil
}

func (r *EthereumReader) callContract(ctx context.Context, contract common.Address, selector []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &contract, Data: selector}
	return r.getClient().CallContract(ctx, msg, nil)
}

// decodeContractString handles both the ABI string encoding and the legacy
// bytes32 form some older contracts return for name()/symbol().
func decodeContractString(raw []byte) string {
	if len(raw) == 32 {
		return string(bytes.TrimRight(raw, "\x00"))
	}
	if len(raw) < 64 {
		return ""
	}

	offset := new(big.Int).SetBytes(raw[:32])
	if !offset.IsUint64() || offset.Uint64() > uint64(len(raw))-32 {
		return ""
	}
	start := offset.Uint64() + 32

	length := new(big.Int).SetBytes(raw[start-32 : start])
	if !length.IsUint64() || length.Uint64() > uint64(len(raw))-start {
		return ""
	}

	return strings.TrimSpace(string(raw[start : start+length.Uint64()]))
}

// Close closes the underlying RPC connection
func (r *EthereumReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		r.client.Close()
	}
}

func (r *EthereumReader) getClient() *ethclient.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

// failover switches to the secondary endpoint when the error looks transient.
// Returns true when the caller should retry on the new client.
func (r *EthereumReader) failover(err error) bool {
	if r.secondaryURL == "" || !shouldFailover(err) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.onSecondary {
		return false
	}

	client, dialErr := ethclient.Dial(r.secondaryURL)
	if dialErr != nil {
		r.logger.WithError(dialErr).Warn("failed to dial secondary RPC endpoint")
		return false
	}

	r.logger.WithField("endpoint", r.secondaryURL).Warn("failing over to secondary RPC endpoint")
	r.client.Close()
	r.client = client
	r.onSecondary = true
	return true
}

func shouldFailover(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return true
	}

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") {
		return true
	}

	return false
}
