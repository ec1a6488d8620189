package indexer

import (
	"context"

	"github.com/token-indexer/internal/chain"
	"github.com/token-indexer/internal/config"
	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/retry"
	"github.com/token-indexer/internal/types"
	"golang.org/x/time/rate"
)

// ChunkProcessor receives the decoded logs of one chunk
type ChunkProcessor interface {
	ProcessChunk(ctx context.Context, jobID string, tier types.TokenTier, logs []chain.TransferLog) (int64, error)
}

// Scanner walks a block range in fixed-size chunks for one token address.
// Chunk fetches are paced at a fixed rate, retried a bounded number of times,
// and skipped on persistent failure so one bad range cannot stall a job.
type Scanner struct {
	reader    chain.Reader
	processor ChunkProcessor
	cfg       config.ScannerConfig
	limiter   *rate.Limiter
	retryCfg  *retry.Config
	logger    *logging.Logger
}

// NewScanner creates a block scanner
func NewScanner(reader chain.Reader, processor ChunkProcessor, cfg config.ScannerConfig, logger *logging.Logger) *Scanner {
	attempts := cfg.ChunkRetries
	if attempts < 1 {
		attempts = 1
	}
	return &Scanner{
		reader:    reader,
		processor: processor,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(cfg.ChunkDelay), 1),
		retryCfg: &retry.Config{
			MaxAttempts:  attempts,
			InitialDelay: cfg.ChunkDelay,
			MaxDelay:     10 * cfg.ChunkDelay,
			Multiplier:   2.0,
		},
		logger: logger,
	}
}

// ScanAddress scans one token address over the configured range and returns
// the number of newly persisted transfers. At most MaxRecords are persisted;
// within the chunk that crosses the cap the most recent logs win.
func (s *Scanner) ScanAddress(ctx context.Context, jobID string, tokenAddress string, tier types.TokenTier, indexCfg types.IndexConfig) (int64, error) {
	fromBlock, toBlock, err := s.resolveRange(ctx, indexCfg)
	if err != nil {
		return 0, err
	}

	log := s.logger.WithFields(map[string]interface{}{
		"jobId":     jobID,
		"token":     tokenAddress,
		"fromBlock": fromBlock,
		"toBlock":   toBlock,
	})
	log.Info("starting address scan")

	var persisted int64
	remaining := s.cfg.MaxRecords

	for chunkStart, chunkEnd := fromBlock, uint64(0); chunkStart <= toBlock && remaining > 0; chunkStart = chunkEnd + 1 {
		if err := ctx.Err(); err != nil {
			return persisted, err
		}

		chunkEnd = chunkStart + s.cfg.ChunkSize - 1
		if chunkEnd > toBlock || toBlock-chunkEnd < s.cfg.ChunkSize {
			// A trailing remainder shorter than one chunk folds into this
			// fetch instead of costing an extra RPC call.
			chunkEnd = toBlock
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return persisted, err
		}

		logs, err := s.fetchChunk(ctx, tokenAddress, chunkStart, chunkEnd)
		if err != nil {
			log.WithFields(map[string]interface{}{
				"chunkStart": chunkStart,
				"chunkEnd":   chunkEnd,
				"error":      err.Error(),
			}).Warn("skipping chunk after repeated failures")
			continue
		}

		if len(logs) > remaining {
			// Keep the tail: logs arrive in ascending block order, so the
			// most recent transfers survive the cap.
			logs = logs[len(logs)-remaining:]
		}

		inserted, err := s.processor.ProcessChunk(ctx, jobID, tier, logs)
		persisted += inserted
		if err != nil {
			return persisted, err
		}

		remaining -= len(logs)
	}

	log.WithField("persisted", persisted).Info("address scan finished")
	return persisted, nil
}

// fetchChunk fetches one chunk with bounded exponential backoff
func (s *Scanner) fetchChunk(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]chain.TransferLog, error) {
	ctx = logging.WithLogger(ctx, s.logger)

	var logs []chain.TransferLog
	err := retry.WithBackoff(ctx, s.retryCfg, func(ctx context.Context, _ int) error {
		var err error
		logs, err = s.reader.FilterTransfers(ctx, tokenAddress, fromBlock, toBlock)
		return err
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// resolveRange fills in missing range bounds. Defaults: to = chain head,
// from = to − DefaultBlockSpan. A "last N blocks" filter overrides the span.
func (s *Scanner) resolveRange(ctx context.Context, indexCfg types.IndexConfig) (uint64, uint64, error) {
	var toBlock uint64
	if indexCfg.ToBlock != nil {
		toBlock = *indexCfg.ToBlock
	} else {
		head, err := s.reader.LatestBlockNumber(ctx)
		if err != nil {
			return 0, 0, err
		}
		toBlock = head
	}

	span := s.cfg.DefaultBlockSpan
	if indexCfg.Filters != nil {
		if n, ok := indexCfg.Filters["lastNBlocks"]; ok {
			switch v := n.(type) {
			case uint64:
				span = v
			case float64: // config round-tripped through JSON
				span = uint64(v)
			}
		}
	}

	var fromBlock uint64
	if indexCfg.FromBlock != nil {
		fromBlock = *indexCfg.FromBlock
	} else if toBlock > span {
		fromBlock = toBlock - span
	}

	if fromBlock > toBlock {
		fromBlock = toBlock
	}

	return fromBlock, toBlock, nil
}
