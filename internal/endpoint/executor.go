package endpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/token-indexer/internal/errors"
	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/models"
	"github.com/token-indexer/internal/storage"
	"github.com/token-indexer/internal/types"
)

// Sort columns and directions accepted by the executor. Anything else is
// rejected before reaching SQL.
var (
	sortColumns = map[string]string{
		"timestamp":    "t.timestamp",
		"block_number": "t.block_number",
		"value":        "t.value::numeric",
	}
	sortOrders = map[string]string{
		"asc":  "ASC",
		"desc": "DESC",
	}
)

const maxPageSize = 1000

// TransferRow is one result row of a dynamic endpoint
type TransferRow struct {
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Value       string    `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
	GasLimit    *string   `json:"gasLimit,omitempty"`
	GasPrice    *string   `json:"gasPrice,omitempty"`
	Token       string    `json:"token"`
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name"`
}

// Result is a served endpoint page
type Result struct {
	Path    string                 `json:"path"`
	Params  map[string]string      `json:"params"`
	Rows    []TransferRow          `json:"rows"`
	Count   int                    `json:"count"`
	Cached  bool                   `json:"cached"`
	Schema  []models.EndpointParam `json:"schema,omitempty"`
	FetchAt time.Time              `json:"fetchedAt"`
}

// EndpointLookup is the slice of the endpoint repository the executor needs
type EndpointLookup interface {
	GetByPath(ctx context.Context, path string) (*models.DynamicEndpoint, error)
	TouchLastUsed(ctx context.Context, id int64) error
}

// Executor serves registered dynamic endpoints. Every user-supplied value
// reaches the database exclusively through positional parameter binding.
type Executor struct {
	db     *storage.PostgresDB
	store  EndpointLookup
	cache  *storage.CacheService
	ttls   map[types.CacheTier]time.Duration
	logger *logging.Logger
}

// NewExecutor creates an endpoint executor with per-class result TTLs
func NewExecutor(db *storage.PostgresDB, store EndpointLookup, cache *storage.CacheService, hot, warm, cold time.Duration, logger *logging.Logger) *Executor {
	return &Executor{
		db:    db,
		store: store,
		cache: cache,
		ttls: map[types.CacheTier]time.Duration{
			types.TierHot:  hot,
			types.TierWarm: warm,
			types.TierCold: cold,
		},
		logger: logger,
	}
}

// Execute serves one endpoint request. Unknown paths surface as not-found;
// unknown or malformed parameters are rejected as invalid input.
func (e *Executor) Execute(ctx context.Context, path string, rawParams map[string]string) (*Result, error) {
	ep, err := e.store.GetByPath(ctx, path)
	if err != nil {
		return nil, err
	}

	params, err := mergeParams(ep.Params, rawParams)
	if err != nil {
		return nil, err
	}

	cacheKey := e.cache.EndpointKey(ep.Path, hashParams(params))
	var cached Result
	if hit, err := e.cache.Get(ctx, cacheKey, &cached); err != nil {
		e.logger.WithError(err).Warn("endpoint cache read failed")
	} else if hit {
		cached.Cached = true
		return &cached, nil
	}

	query, args, err := buildQuery(ep.Query, params)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("endpoint query", err)
	}
	defer rows.Close()

	result := &Result{
		Path:    ep.Path,
		Params:  params,
		Rows:    []TransferRow{},
		Schema:  ep.Params,
		FetchAt: time.Now().UTC(),
	}

	for rows.Next() {
		var row TransferRow
		err := rows.Scan(
			&row.TxHash, &row.BlockNumber, &row.From, &row.To, &row.Value,
			&row.Timestamp, &row.GasLimit, &row.GasPrice,
			&row.Token, &row.Symbol, &row.Name,
		)
		if err != nil {
			return nil, apperrors.NewDatabaseError("endpoint row scan", err)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("endpoint rows", err)
	}
	result.Count = len(result.Rows)

	ttl := e.ttls[ep.CacheTier]
	if ttl > 0 {
		if err := e.cache.SetWithTTL(ctx, cacheKey, result, ttl); err != nil {
			e.logger.WithError(err).Warn("endpoint cache write failed")
		}
	}

	if err := e.store.TouchLastUsed(ctx, ep.ID); err != nil {
		e.logger.WithError(err).Warn("failed to record endpoint usage")
	}

	return result, nil
}

// mergeParams overlays provided values on schema defaults and rejects
// parameters the schema does not declare.
func mergeParams(schema []models.EndpointParam, provided map[string]string) (map[string]string, error) {
	allowed := make(map[string]bool, len(schema))
	merged := make(map[string]string)

	for _, p := range schema {
		allowed[p.Name] = true
		if p.Default != nil {
			merged[p.Name] = fmt.Sprintf("%v", p.Default)
		}
	}

	for name, value := range provided {
		if !allowed[name] {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown parameter %q", name))
		}
		if value != "" {
			merged[name] = value
		}
	}

	return merged, nil
}

// buildQuery appends WHERE, ORDER BY, and paging to the stored projection.
// Column names come only from the whitelist; values only from bound args.
func buildQuery(base string, params map[string]string) (string, []interface{}, error) {
	var clauses []string
	var args []interface{}

	bind := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if v, ok := params["token"]; ok {
		bind("t.token_address = $%d", strings.ToLower(v))
	}
	if v, ok := params["address"]; ok {
		args = append(args, strings.ToLower(v))
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(t.from_addr = $%d OR t.to_addr = $%d)", n, n))
	}
	if v, ok := params["fromBlock"]; ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return "", nil, apperrors.NewInvalidInputError("fromBlock must be an unsigned integer")
		}
		bind("t.block_number >= $%d", n)
	}
	if v, ok := params["toBlock"]; ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return "", nil, apperrors.NewInvalidInputError("toBlock must be an unsigned integer")
		}
		bind("t.block_number <= $%d", n)
	}
	if v, ok := params["minValue"]; ok {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return "", nil, apperrors.NewInvalidInputError("minValue must be numeric")
		}
		bind("t.value::numeric >= $%d::numeric", v)
	}
	if v, ok := params["maxValue"]; ok {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return "", nil, apperrors.NewInvalidInputError("maxValue must be numeric")
		}
		bind("t.value::numeric <= $%d::numeric", v)
	}

	query := base
	if len(clauses) > 0 {
		query += "\nWHERE " + strings.Join(clauses, " AND ")
	}

	sortCol, ok := sortColumns[params["sort"]]
	if !ok {
		return "", nil, apperrors.NewInvalidInputError(fmt.Sprintf("sort must be one of: %s", strings.Join(sortedKeys(sortColumns), ", ")))
	}
	sortDir, ok := sortOrders[strings.ToLower(params["order"])]
	if !ok {
		return "", nil, apperrors.NewInvalidInputError("order must be asc or desc")
	}
	query += fmt.Sprintf("\nORDER BY %s %s", sortCol, sortDir)

	limit, err := strconv.Atoi(params["limit"])
	if err != nil || limit < 1 {
		return "", nil, apperrors.NewInvalidInputError("limit must be a positive integer")
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := strconv.Atoi(params["offset"])
	if err != nil || offset < 0 {
		return "", nil, apperrors.NewInvalidInputError("offset must be a non-negative integer")
	}

	args = append(args, limit)
	query += fmt.Sprintf("\nLIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return query, args, nil
}

// hashParams produces a stable digest of the effective parameters for the
// result cache key.
func hashParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
		b.WriteByte('&')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
