// Package interpreter turns free-form indexing requests into structured
// configuration. The shipped implementation is a heuristic keyword parser;
// ExtractConfig is the regex fallback the manager uses when interpretation
// fails.
package interpreter

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/token-indexer/internal/types"
)

// Interpreter converts a natural-language request into an IndexConfig
type Interpreter interface {
	Interpret(ctx context.Context, query string) (*types.IndexConfig, error)
}

var (
	addressPattern   = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)
	fromBlockPattern = regexp.MustCompile(`(?i)from\s+block\s+(\d+)`)
	toBlockPattern   = regexp.MustCompile(`(?i)to\s+block\s+(\d+)`)
	lastNPattern     = regexp.MustCompile(`(?i)last\s+(\d+)\s+blocks?`)
	namePattern      = regexp.MustCompile(`(?i)call(?:ed)?\s+(?:it\s+)?["']?([a-zA-Z][a-zA-Z0-9_-]*)["']?`)
	symbolPattern    = regexp.MustCompile(`\b([A-Z]{2,6})\b`)
)

// Heuristic is a keyword-based interpreter. It recognizes contract addresses,
// block range phrases, an endpoint name, and an uppercase symbol hint. It
// fails when the request contains nothing recognizable, letting the caller
// fall back to ExtractConfig or the popular-token default.
type Heuristic struct{}

// NewHeuristic creates the keyword interpreter
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Interpret parses the request into an IndexConfig
func (h *Heuristic) Interpret(_ context.Context, query string) (*types.IndexConfig, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	cfg := ExtractConfig(query)

	if len(cfg.Addresses) == 0 && cfg.SymbolHint == "" &&
		cfg.FromBlock == nil && cfg.ToBlock == nil {
		return nil, fmt.Errorf("query contains no recognizable addresses, symbols, or block ranges")
	}

	return cfg, nil
}

// ExtractConfig pulls addresses, block range phrases, an endpoint name, and a
// symbol hint out of a request with regular expressions. It always returns a
// config; an empty one means nothing was recognized.
func ExtractConfig(query string) *types.IndexConfig {
	cfg := &types.IndexConfig{
		Events: []string{"Transfer"},
	}

	cfg.Addresses = addressPattern.FindAllString(query, -1)

	if m := fromBlockPattern.FindStringSubmatch(query); m != nil {
		if v, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			cfg.FromBlock = &v
		}
	}

	if m := toBlockPattern.FindStringSubmatch(query); m != nil {
		if v, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			cfg.ToBlock = &v
		}
	}

	// "last N blocks" wins over an explicit range start; the scanner anchors
	// it to the chain head by leaving ToBlock unset.
	if m := lastNPattern.FindStringSubmatch(query); m != nil {
		if v, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			cfg.Filters = map[string]interface{}{"lastNBlocks": v}
			cfg.FromBlock = nil
			cfg.ToBlock = nil
		}
	}

	if m := namePattern.FindStringSubmatch(query); m != nil {
		cfg.EndpointName = strings.ToLower(m[1])
	}

	if m := symbolPattern.FindStringSubmatch(query); m != nil {
		cfg.SymbolHint = m[1]
	}

	return cfg
}
