// Package symbols maps between venue-agnostic instrument symbols
// ("XAU/USD", "AAPL") and each venue's native code. Explicit override tables
// cover the exceptions; everything else goes through a per-venue default rule,
// so unmapped instruments still resolve without a code change.
package symbols

import "strings"

// Venue identifiers used across the gateway.
const (
	VenueAlpaca     = "alpaca"
	VenueTradier    = "tradier"
	VenueOANDA      = "oanda"
	VenueFXCM       = "fxcm"
	VenueMetaTrader = "metatrader"
)

// convention describes how one venue writes instrument codes.
type convention struct {
	// separator replaces the canonical "/" in pair symbols. Empty means the
	// venue concatenates ("XAUUSD").
	separator string
	// dropQuoteSuffix is set for equity venues where "AAPL/USD" becomes "AAPL".
	dropQuoteSuffix bool
	// overrides take precedence over the default rule, canonical -> native.
	overrides map[string]string
}

var forexMajors = []string{
	"XAU/USD", "XAG/USD", "EUR/USD", "GBP/USD",
	"USD/JPY", "USD/CHF", "AUD/USD", "NZD/USD",
}

var conventions = map[string]convention{
	VenueAlpaca:  {separator: "/", dropQuoteSuffix: true},
	VenueTradier: {separator: "/", dropQuoteSuffix: true},
	VenueOANDA:   {separator: "_", overrides: pairTable("_")},
	VenueFXCM:    {separator: "/", overrides: pairTable("/")},
	VenueMetaTrader: {
		separator: "",
		overrides: pairTable(""),
	},
}

// reverse tables are derived from the overrides so the round trip is exact
// for every listed instrument.
var reversed = func() map[string]map[string]string {
	out := make(map[string]map[string]string, len(conventions))
	for venue, conv := range conventions {
		rev := make(map[string]string, len(conv.overrides))
		for canonical, native := range conv.overrides {
			rev[native] = canonical
		}
		out[venue] = rev
	}
	return out
}()

func pairTable(separator string) map[string]string {
	table := make(map[string]string, len(forexMajors))
	for _, pair := range forexMajors {
		table[pair] = strings.ReplaceAll(pair, "/", separator)
	}
	return table
}

// ToVenue converts a canonical symbol to the venue's native code. Total:
// symbols without an explicit mapping fall back to the venue's default rule.
func ToVenue(venue, canonical string) string {
	conv, ok := conventions[venue]
	if !ok {
		return canonical
	}
	if native, ok := conv.overrides[canonical]; ok {
		return native
	}
	if conv.dropQuoteSuffix {
		if base, _, found := strings.Cut(canonical, "/"); found {
			return base
		}
		return canonical
	}
	return strings.ReplaceAll(canonical, "/", conv.separator)
}

// ToCanonical converts a venue-native code back to the canonical symbol.
func ToCanonical(venue, native string) string {
	conv, ok := conventions[venue]
	if !ok {
		return native
	}
	if canonical, ok := reversed[venue][native]; ok {
		return canonical
	}
	if conv.separator != "" && strings.Contains(native, conv.separator) {
		return strings.ReplaceAll(native, conv.separator, "/")
	}
	if conv.separator == "" && isConcatenatedPair(native) {
		return native[:3] + "/" + native[3:]
	}
	// Equity tickers and anything unrecognized pass through unchanged.
	return native
}

// isConcatenatedPair recognizes six-letter uppercase codes like "EURUSD".
func isConcatenatedPair(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
