package oracle

// synonyms canonicalizes wrapped/bridged ticker spellings to the symbol the
// feed registry is keyed by. Grounded on the teacher's internal/web3's
// practice of normalizing token symbols before a lookup (see
// getERC20Decimals/getERC20Balance callers in erc20_helpers.go).
var synonyms = map[string]string{
	"WETH":   "ETH",
	"WBTC":   "BTC",
	"USDC.E": "USDC",
	"USDBC":  "USDC",
	"USDT.E": "USDT",
	"DAI.E":  "DAI",
}

// Canonicalize maps a wrapped/bridged/synonym ticker to its canonical form.
func Canonicalize(symbol string) string {
	if canon, ok := synonyms[symbol]; ok {
		return canon
	}
	return symbol
}

var stableSymbols = map[string]bool{
	"USDC": true,
	"USDT": true,
	"DAI":  true,
}

var nativeSymbols = map[string]bool{
	"ETH": true,
}

// mockPrice implements the deterministic fallback table from spec.md §4.2:
// stables=1, native=3000, unknown=1.
func mockPrice(canonicalSymbol string) float64 {
	switch {
	case stableSymbols[canonicalSymbol]:
		return 1
	case nativeSymbols[canonicalSymbol]:
		return 3000
	default:
		return 1
	}
}

// feedKey identifies a Chainlink aggregator by (price network, canonical
// symbol).
type feedKey struct {
	priceNetwork string
	symbol       string
}

// feedRegistry is the static registry of aggregator addresses, grounded on
// the teacher's internal/web3/defi_manager.go initializeProtocols/
// initializePools pattern: a hardcoded map populated at construction,
// standing in for a real on-chain feed registry contract.
var feedRegistry = map[feedKey]string{
	{"ethereum", "ETH"}:  "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
	{"ethereum", "BTC"}:  "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c",
	{"ethereum", "USDC"}: "0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6",
	{"ethereum", "USDT"}: "0x3E7d1eAB13ad0104d2750B8863b489D65364e32",
	{"ethereum", "DAI"}:  "0xAed0c38402a5d19df6E4c03F4E2DceD6e29c1ee9",
	{"ethereum", "ARB"}:  "0x31697852a68433DbCc2Ff612c516d69E3D9bd08",
	{"ethereum", "OP"}:   "0x0D276FC14719f9292D5C1eA2198673d1f4269246",
}

// lookupFeed returns the aggregator address for (priceNetwork, canonical
// symbol), if the registry carries one.
func lookupFeed(priceNetwork, canonicalSymbol string) (string, bool) {
	addr, ok := feedRegistry[feedKey{priceNetwork, canonicalSymbol}]
	return addr, ok
}
