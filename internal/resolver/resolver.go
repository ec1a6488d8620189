// Package resolver normalizes and validates token addresses referenced by
// indexing requests.
package resolver

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/token-indexer/internal/logging"
)

// KnownToken is one entry in the built-in registry of well-known tokens
type KnownToken struct {
	Address  string
	Symbol   string
	Name     string
	Decimals int
}

// Mainnet addresses of widely indexed tokens. Used for symbol hints and as
// the default scan set when a request resolves to no addresses.
var knownTokens = []KnownToken{
	{Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
	{Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
	{Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Symbol: "DAI", Name: "Dai Stablecoin", Decimals: 18},
	{Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
	{Address: "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599", Symbol: "WBTC", Name: "Wrapped BTC", Decimals: 8},
	{Address: "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984", Symbol: "UNI", Name: "Uniswap", Decimals: 18},
	{Address: "0x514910771af9ca656af840dff83e8264ecf986ca", Symbol: "LINK", Name: "ChainLink Token", Decimals: 18},
	{Address: "0x95ad61b0a150d79219dcf64e1e6cc01f0b64c4ce", Symbol: "SHIB", Name: "Shiba Inu", Decimals: 18},
	{Address: "0x7fc66500c84a76ad7e9c93437bfc5ac33e2ddae9", Symbol: "AAVE", Name: "Aave Token", Decimals: 18},
	{Address: "0x7d1afa7b718fb893db30a3abc0cfc608aacfebb0", Symbol: "MATIC", Name: "Matic Token", Decimals: 18},
}

// Resolver validates, normalizes, and augments token address lists
type Resolver struct {
	bySymbol map[string]KnownToken
	logger   *logging.Logger
}

// New creates a resolver backed by the built-in registry
func New(logger *logging.Logger) *Resolver {
	bySymbol := make(map[string]KnownToken, len(knownTokens))
	for _, t := range knownTokens {
		bySymbol[strings.ToUpper(t.Symbol)] = t
	}
	return &Resolver{bySymbol: bySymbol, logger: logger}
}

// Resolve validates and deduplicates the addresses of an indexing request.
// Invalid addresses are dropped with a log line rather than failing the
// request. A symbol hint that matches the registry adds that token's address,
// and every registry token whose name or symbol appears in the query text is
// added as well, so "index USDC and DAI transfers" covers both tokens.
func (r *Resolver) Resolve(query string, addresses []string, symbolHint string) []string {
	seen := make(map[string]bool)
	var resolved []string

	appendAddr := func(addr string) {
		if !seen[addr] {
			seen[addr] = true
			resolved = append(resolved, addr)
		}
	}

	for _, raw := range addresses {
		normalized, ok := NormalizeAddress(raw)
		if !ok {
			r.logger.WithField("address", raw).Warn("dropping invalid token address")
			continue
		}
		appendAddr(normalized)
	}

	if symbolHint != "" {
		if token, ok := r.bySymbol[strings.ToUpper(symbolHint)]; ok {
			appendAddr(token.Address)
		}
	}

	lowered := strings.ToLower(query)
	for _, token := range knownTokens {
		if strings.Contains(lowered, strings.ToLower(token.Symbol)) ||
			strings.Contains(lowered, strings.ToLower(token.Name)) {
			appendAddr(token.Address)
		}
	}

	return resolved
}

// LookupSymbol returns the registry entry for a symbol, if known
func (r *Resolver) LookupSymbol(symbol string) (KnownToken, bool) {
	token, ok := r.bySymbol[strings.ToUpper(symbol)]
	return token, ok
}

// KnownTokenFor returns registry metadata for an address, if present
func (r *Resolver) KnownTokenFor(address string) (KnownToken, bool) {
	address = strings.ToLower(address)
	for _, t := range knownTokens {
		if t.Address == address {
			return t, true
		}
	}
	return KnownToken{}, false
}

// PopularAddresses returns the default scan set
func (r *Resolver) PopularAddresses() []string {
	addrs := make([]string, len(knownTokens))
	for i, t := range knownTokens {
		addrs[i] = t.Address
	}
	return addrs
}

// PopularTokens returns the full registry
func (r *Resolver) PopularTokens() []KnownToken {
	return knownTokens
}

// NormalizeAddress validates an address and returns its lowercase form.
// All-lowercase and all-uppercase hex are accepted without a checksum; a
// mixed-case address must carry a valid EIP-55 checksum.
func NormalizeAddress(raw string) (string, bool) {
	addr := strings.TrimSpace(raw)
	if !common.IsHexAddress(addr) {
		return "", false
	}

	hexPart := strings.TrimPrefix(addr, "0x")
	if hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart) {
		// Mixed case: verify the checksum by round-tripping.
		if common.HexToAddress(addr).Hex() != "0x"+hexPart {
			return "", false
		}
	}

	return strings.ToLower(common.HexToAddress(addr).Hex()), true
}
