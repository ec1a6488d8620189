package indexer

import (
	"context"
	"time"

	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/storage"
	"github.com/token-indexer/internal/types"
)

// TransferRecencyStore is the slice of the transfer repository the recency
// check needs.
type TransferRecencyStore interface {
	LatestTimestamp(ctx context.Context, tokenAddress string) (*time.Time, error)
	CountForToken(ctx context.Context, tokenAddress string) (int64, error)
}

// RecencyChecker short-circuits indexing requests whose token already has
// fresh data. The check is per token address only: it does not consider the
// requested block range, so a request for an older range can still be
// answered with a cache hit.
type RecencyChecker struct {
	cache     *storage.CacheService
	transfers TransferRecencyStore
	window    time.Duration
	logger    *logging.Logger
}

// NewRecencyChecker creates a recency checker with the given freshness window
func NewRecencyChecker(cache *storage.CacheService, transfers TransferRecencyStore, window time.Duration, logger *logging.Logger) *RecencyChecker {
	return &RecencyChecker{
		cache:     cache,
		transfers: transfers,
		window:    window,
		logger:    logger,
	}
}

// Check returns a summary when the token has transfers newer than the
// freshness window, nil otherwise. Cache errors degrade to the repository
// path rather than failing the request.
func (c *RecencyChecker) Check(ctx context.Context, tokenAddress string) (*types.CacheHitSummary, error) {
	key := c.cache.RecencyKey(tokenAddress)

	var cached types.CacheHitSummary
	hit, err := c.cache.Get(ctx, key, &cached)
	if err != nil {
		c.logger.WithError(err).Warn("recency cache read failed, falling back to store")
	} else if hit && time.Since(cached.LatestAt) < c.window {
		return &cached, nil
	}

	latest, err := c.transfers.LatestTimestamp(ctx, tokenAddress)
	if err != nil {
		return nil, err
	}
	if latest == nil || time.Since(*latest) >= c.window {
		return nil, nil
	}

	count, err := c.transfers.CountForToken(ctx, tokenAddress)
	if err != nil {
		return nil, err
	}

	summary := &types.CacheHitSummary{
		Token:         tokenAddress,
		TransferCount: count,
		LatestAt:      *latest,
		CachedAt:      time.Now().UTC(),
	}

	if err := c.cache.SetWithTTL(ctx, key, summary, c.window); err != nil {
		c.logger.WithError(err).Warn("failed to store recency summary")
	}

	return summary, nil
}

// Refresh overwrites the cached summary for a token after new data lands
func (c *RecencyChecker) Refresh(ctx context.Context, summary *types.CacheHitSummary) {
	key := c.cache.RecencyKey(summary.Token)
	if err := c.cache.SetWithTTL(ctx, key, summary, c.window); err != nil {
		c.logger.WithError(err).Warn("failed to refresh recency summary")
	}
}
