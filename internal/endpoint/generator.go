// Package endpoint generates and serves parameterized dynamic endpoints
// derived from completed indexing jobs.
package endpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/models"
	"github.com/token-indexer/internal/notify"
	"github.com/token-indexer/internal/resolver"
	"github.com/token-indexer/internal/types"
)

// EndpointStore is the slice of the endpoint repository the generator needs
type EndpointStore interface {
	UpsertByJobID(ctx context.Context, ep *models.DynamicEndpoint) error
	UpsertByPath(ctx context.Context, ep *models.DynamicEndpoint) error
}

// baseQuery is the projection every dynamic endpoint serves. Filters, sort,
// and paging are appended by the executor through positional binding only.
const baseQuery = `SELECT t.tx_hash, t.block_number, t.from_addr, t.to_addr, t.value, t.timestamp,
       t.gas_limit, t.gas_price, tok.address AS token_address, tok.symbol, tok.name
FROM transfers t
JOIN tokens tok ON tok.address = t.token_address`

// HeadSource reports the current chain head, used to judge how far behind
// the head a job's block range ends.
type HeadSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Generator turns a completed job into a registered dynamic endpoint
type Generator struct {
	store    EndpointStore
	registry *resolver.Resolver
	heads    HeadSource
	bus      *notify.Bus
	logger   *logging.Logger
}

// NewGenerator creates an endpoint generator
func NewGenerator(store EndpointStore, registry *resolver.Resolver, heads HeadSource, bus *notify.Bus, logger *logging.Logger) *Generator {
	return &Generator{
		store:    store,
		registry: registry,
		heads:    heads,
		bus:      bus,
		logger:   logger,
	}
}

// GenerateForJob builds the endpoint for a completed job and upserts it by
// job id, so regenerating for the same job replaces rather than duplicates.
func (g *Generator) GenerateForJob(ctx context.Context, job *models.IndexingJob) (*models.DynamicEndpoint, error) {
	path := g.derivePath(job)

	ep := &models.DynamicEndpoint{
		Path:        path,
		JobID:       &job.JobID,
		Query:       baseQuery,
		Description: g.describe(job),
		Params:      g.paramSchema(job.Config),
		CacheTier:   g.classifyRange(ctx, job.Config),
	}

	if err := g.store.UpsertByJobID(ctx, ep); err != nil {
		return nil, err
	}

	g.bus.PublishEndpointCreated(types.EndpointCreatedEvent{
		JobID:       job.JobID,
		Path:        ep.Path,
		Query:       ep.Query,
		Description: ep.Description,
		Timestamp:   time.Now().UTC(),
	})

	g.logger.WithFields(map[string]interface{}{
		"jobId": job.JobID,
		"path":  ep.Path,
		"tier":  string(ep.CacheTier),
	}).Info("dynamic endpoint registered")

	return ep, nil
}

// EnsureDefault registers the default transfers endpoint, keyed by path
func (g *Generator) EnsureDefault(ctx context.Context) error {
	ep := &models.DynamicEndpoint{
		Path:        "transfers",
		Query:       baseQuery,
		Description: "All indexed transfers with filter, sort, and paging parameters",
		Params:      g.paramSchema(types.IndexConfig{}),
		CacheTier:   types.TierHot,
	}
	return g.store.UpsertByPath(ctx, ep)
}

func (g *Generator) derivePath(job *models.IndexingJob) string {
	if name := job.Config.EndpointName; name != "" {
		return sanitizePath(name)
	}
	if len(job.Config.Addresses) > 0 {
		if known, ok := g.registry.KnownTokenFor(job.Config.Addresses[0]); ok {
			return sanitizePath(known.Symbol + "-transfers")
		}
	}
	short := job.JobID
	if len(short) > 8 {
		short = short[:8]
	}
	return "transfers-" + short
}

func (g *Generator) describe(job *models.IndexingJob) string {
	if len(job.Config.Addresses) == 0 {
		return "Transfers indexed by job " + job.JobID
	}

	labels := make([]string, 0, len(job.Config.Addresses))
	for _, addr := range job.Config.Addresses {
		if known, ok := g.registry.KnownTokenFor(addr); ok {
			labels = append(labels, known.Symbol)
		} else {
			labels = append(labels, addr)
		}
	}
	return fmt.Sprintf("Transfers for %s", strings.Join(labels, ", "))
}

// paramSchema builds the accepted parameters. The job's first token becomes
// the default token filter so the bare endpoint serves the data it indexed.
func (g *Generator) paramSchema(cfg types.IndexConfig) []models.EndpointParam {
	params := []models.EndpointParam{
		{Name: "address", Type: "address", Description: "match transfers sent or received by this address"},
		{Name: "token", Type: "address", Description: "filter by token contract"},
		{Name: "fromBlock", Type: "uint", Description: "lowest block number, inclusive"},
		{Name: "toBlock", Type: "uint", Description: "highest block number, inclusive"},
		{Name: "minValue", Type: "decimal", Description: "minimum transfer value"},
		{Name: "maxValue", Type: "decimal", Description: "maximum transfer value"},
		{Name: "sort", Type: "enum", Default: "timestamp", Enum: []string{"timestamp", "block_number", "value"}},
		{Name: "order", Type: "enum", Default: "desc", Enum: []string{"asc", "desc"}},
		{Name: "limit", Type: "uint", Default: 100},
		{Name: "offset", Type: "uint", Default: 0},
	}

	if len(cfg.Addresses) > 0 {
		params[1].Default = cfg.Addresses[0]
	}
	if cfg.FromBlock != nil {
		params[2].Default = *cfg.FromBlock
	}
	if cfg.ToBlock != nil {
		params[3].Default = *cfg.ToBlock
	}

	return params
}

// Rough mainnet block cadence of 12 seconds, used only to bucket cache
// classes; exact ages do not matter at day granularity.
const (
	blocksPerHour = 300
	blocksPerDay  = 7200
)

// classifyRange assigns the result cache class from the block recency of the
// indexed range. Open-ended ranges track the chain head and stay hot; a
// bounded range ending within the last hour is hot, within the last day warm,
// and anything older cold.
func (g *Generator) classifyRange(ctx context.Context, cfg types.IndexConfig) types.CacheTier {
	if cfg.ToBlock == nil {
		return types.TierHot
	}

	head, err := g.heads.LatestBlockNumber(ctx)
	if err != nil {
		g.logger.WithError(err).Warn("head lookup failed, classifying endpoint cache as warm")
		return types.TierWarm
	}

	var age uint64
	if head > *cfg.ToBlock {
		age = head - *cfg.ToBlock
	}

	switch {
	case age <= blocksPerHour:
		return types.TierHot
	case age <= blocksPerDay:
		return types.TierWarm
	default:
		return types.TierCold
	}
}

func sanitizePath(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "transfers"
	}
	return b.String()
}
