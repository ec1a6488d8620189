package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/token-indexer/internal/chain"
	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/models"
	"github.com/token-indexer/internal/notify"
	"github.com/token-indexer/internal/resolver"
	"github.com/token-indexer/internal/types"
)

// TransferStore is the slice of the transfer repository the processor needs
type TransferStore interface {
	Insert(ctx context.Context, transfer *models.Transfer) (bool, error)
	Exists(ctx context.Context, txHash string, blockNumber uint64, fromAddr, toAddr string) (bool, error)
}

// TokenStore is the slice of the token repository the processor needs
type TokenStore interface {
	Upsert(ctx context.Context, token *models.Token) error
	GetByAddress(ctx context.Context, address string) (*models.Token, error)
}

// AnalyticsMirror receives best-effort copies of persisted transfers
type AnalyticsMirror interface {
	MirrorTransfers(ctx context.Context, transfers []*models.Transfer) error
}

// Processor turns decoded transfer logs into persisted records. Insertion is
// idempotent: the application-level existence check is a fast path and the
// storage unique constraint settles races.
type Processor struct {
	transfers TransferStore
	tokens    TokenStore
	analytics AnalyticsMirror // nil when the mirror is disabled
	reader    chain.Reader
	bus       *notify.Bus
	registry  *resolver.Resolver
	logger    *logging.Logger

	// token rows already ensured this process lifetime
	ensuredMu     sync.Mutex
	ensuredTokens map[string]bool
}

// NewProcessor creates a transfer processor
func NewProcessor(
	transfers TransferStore,
	tokens TokenStore,
	analytics AnalyticsMirror,
	reader chain.Reader,
	bus *notify.Bus,
	registry *resolver.Resolver,
	logger *logging.Logger,
) *Processor {
	return &Processor{
		transfers:     transfers,
		tokens:        tokens,
		analytics:     analytics,
		reader:        reader,
		bus:           bus,
		registry:      registry,
		logger:        logger,
		ensuredTokens: make(map[string]bool),
	}
}

// ProcessChunk persists one chunk of transfer logs for a job. Returns the
// number of newly inserted records; duplicates count as processed but not
// inserted. Block timestamps are memoized across the chunk.
func (p *Processor) ProcessChunk(ctx context.Context, jobID string, tier types.TokenTier, logs []chain.TransferLog) (int64, error) {
	if len(logs) == 0 {
		return 0, nil
	}

	blockTimes := make(map[uint64]time.Time)
	var inserted int64
	var mirrored []*models.Transfer

	for _, entry := range logs {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		if err := p.ensureToken(ctx, entry.TokenAddress, tier); err != nil {
			return inserted, err
		}

		exists, err := p.transfers.Exists(ctx, entry.TxHash, entry.BlockNumber, entry.From, entry.To)
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}

		ts, ok := blockTimes[entry.BlockNumber]
		if !ok {
			unix, err := p.reader.BlockTimestamp(ctx, entry.BlockNumber)
			if err != nil {
				return inserted, err
			}
			ts = time.Unix(unix, 0).UTC()
			blockTimes[entry.BlockNumber] = ts
		}

		transfer := &models.Transfer{
			ID:           uuid.NewString(),
			TxHash:       entry.TxHash,
			BlockNumber:  entry.BlockNumber,
			FromAddr:     entry.From,
			ToAddr:       entry.To,
			Value:        entry.Value,
			TokenAddress: entry.TokenAddress,
			Timestamp:    ts,
			Tier:         tier,
		}

		p.enrichGas(ctx, transfer)

		wasInserted, err := p.transfers.Insert(ctx, transfer)
		if err != nil {
			return inserted, err
		}
		if !wasInserted {
			// Lost the race to a concurrent writer; the constraint held.
			continue
		}

		inserted++
		mirrored = append(mirrored, transfer)
		p.publishTransfer(ctx, jobID, transfer)
	}

	if p.analytics != nil && len(mirrored) > 0 {
		if err := p.analytics.MirrorTransfers(ctx, mirrored); err != nil {
			p.logger.WithError(err).Warn("analytics mirror append failed")
		}
	}

	return inserted, nil
}

// ensureToken lazily creates the token row a transfer references
func (p *Processor) ensureToken(ctx context.Context, address string, tier types.TokenTier) error {
	p.ensuredMu.Lock()
	ensured := p.ensuredTokens[address]
	p.ensuredMu.Unlock()
	if ensured {
		return nil
	}

	token := &models.Token{
		Address:  address,
		Decimals: 18,
		Tier:     tier,
	}

	if known, ok := p.registry.KnownTokenFor(address); ok {
		token.Name = known.Name
		token.Symbol = known.Symbol
		token.Decimals = known.Decimals
		token.IsPopular = true
	} else if meta, err := p.reader.TokenMetadata(ctx, address); err != nil {
		p.logger.WithFields(map[string]interface{}{
			"token": address,
			"error": err.Error(),
		}).Debug("token metadata lookup skipped")
	} else {
		token.Name = meta.Name
		token.Symbol = meta.Symbol
		if meta.Decimals > 0 {
			token.Decimals = meta.Decimals
		}
	}

	if err := p.tokens.Upsert(ctx, token); err != nil {
		return err
	}

	p.ensuredMu.Lock()
	p.ensuredTokens[address] = true
	p.ensuredMu.Unlock()
	return nil
}

// enrichGas attaches gas details when the transaction lookup succeeds. A
// failed lookup leaves the fields null; enrichment never fails the record.
func (p *Processor) enrichGas(ctx context.Context, transfer *models.Transfer) {
	info, err := p.reader.TransactionInfo(ctx, transfer.TxHash)
	if err != nil {
		p.logger.WithFields(map[string]interface{}{
			"txHash": transfer.TxHash,
			"error":  err.Error(),
		}).Debug("gas enrichment skipped")
		return
	}
	transfer.GasLimit = &info.GasLimit
	transfer.GasPrice = &info.GasPrice
}

func (p *Processor) publishTransfer(ctx context.Context, jobID string, transfer *models.Transfer) {
	ref := types.TransferTokenRef{Address: transfer.TokenAddress}
	if token, err := p.tokens.GetByAddress(ctx, transfer.TokenAddress); err == nil {
		ref.Symbol = token.Symbol
		ref.Name = token.Name
	}

	p.bus.PublishNewTransfer(jobID, types.NewTransferEvent{
		ID:          transfer.ID,
		TxHash:      transfer.TxHash,
		From:        transfer.FromAddr,
		To:          transfer.ToAddr,
		Value:       transfer.Value,
		Token:       ref,
		BlockNumber: transfer.BlockNumber,
		Timestamp:   transfer.Timestamp,
	})
}
