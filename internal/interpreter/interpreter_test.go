package interpreter

import (
	"context"
	"testing"
)

func TestExtractConfigAddresses(t *testing.T) {
	cfg := ExtractConfig("index 0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48 and 0xdAC17F958D2ee523a2206206994597C13D831ec7")

	if len(cfg.Addresses) != 2 {
		t.Fatalf("expected 2 addresses, got %d", len(cfg.Addresses))
	}
	if cfg.Addresses[0] != "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" {
		t.Errorf("unexpected first address: %s", cfg.Addresses[0])
	}
	if len(cfg.Events) != 1 || cfg.Events[0] != "Transfer" {
		t.Errorf("expected Transfer event default, got %v", cfg.Events)
	}
}

func TestExtractConfigBlockRange(t *testing.T) {
	cfg := ExtractConfig("index USDC from block 18000000 to block 18001000")

	if cfg.FromBlock == nil || *cfg.FromBlock != 18000000 {
		t.Errorf("fromBlock not extracted: %v", cfg.FromBlock)
	}
	if cfg.ToBlock == nil || *cfg.ToBlock != 18001000 {
		t.Errorf("toBlock not extracted: %v", cfg.ToBlock)
	}
	if cfg.SymbolHint != "USDC" {
		t.Errorf("symbol hint not extracted: %q", cfg.SymbolHint)
	}
}

func TestExtractConfigLastNBlocksClearsRange(t *testing.T) {
	cfg := ExtractConfig("index WETH from block 100 over the last 500 blocks")

	if cfg.FromBlock != nil || cfg.ToBlock != nil {
		t.Errorf("lastNBlocks should clear explicit range, got from=%v to=%v", cfg.FromBlock, cfg.ToBlock)
	}
	if cfg.Filters == nil {
		t.Fatal("filters not set")
	}
	if n, ok := cfg.Filters["lastNBlocks"].(uint64); !ok || n != 500 {
		t.Errorf("lastNBlocks filter wrong: %v", cfg.Filters["lastNBlocks"])
	}
}

func TestExtractConfigEndpointName(t *testing.T) {
	tests := []struct{ query, want string }{
		{"index USDT and call it stable-feed", "stable-feed"},
		{`index DAI, call it "daily"`, "daily"},
		{"index LINK called oracle_feed", "oracle_feed"},
	}
	for _, tt := range tests {
		cfg := ExtractConfig(tt.query)
		if cfg.EndpointName != tt.want {
			t.Errorf("query %q: endpoint name %q, want %q", tt.query, cfg.EndpointName, tt.want)
		}
	}
}

func TestExtractConfigNothingRecognized(t *testing.T) {
	cfg := ExtractConfig("index something interesting please")

	if len(cfg.Addresses) != 0 || cfg.SymbolHint != "" || cfg.FromBlock != nil {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestHeuristicInterpretsAddressQuery(t *testing.T) {
	h := NewHeuristic()

	cfg, err := h.Interpret(context.Background(), "index 0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48 from block 1 to block 9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Addresses) != 1 {
		t.Errorf("expected 1 address, got %d", len(cfg.Addresses))
	}
}

func TestHeuristicRejectsEmptyQuery(t *testing.T) {
	h := NewHeuristic()
	if _, err := h.Interpret(context.Background(), "   "); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestHeuristicRejectsUnrecognizableQuery(t *testing.T) {
	h := NewHeuristic()
	if _, err := h.Interpret(context.Background(), "do the needful"); err == nil {
		t.Error("expected error for unrecognizable query")
	}
}

func TestHeuristicAcceptsSymbolOnly(t *testing.T) {
	h := NewHeuristic()

	cfg, err := h.Interpret(context.Background(), "index WBTC transfers")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SymbolHint != "WBTC" {
		t.Errorf("symbol hint %q, want WBTC", cfg.SymbolHint)
	}
}
