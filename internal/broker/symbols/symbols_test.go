package symbols

import "testing"

func TestForexPairRoundTrip(t *testing.T) {
	venues := []string{VenueOANDA, VenueFXCM, VenueMetaTrader}
	for _, venue := range venues {
		for _, pair := range forexMajors {
			native := ToVenue(venue, pair)
			back := ToCanonical(venue, native)
			if back != pair {
				t.Errorf("%s: expected %s -> %s -> %s, got %s", venue, pair, native, pair, back)
			}
		}
	}
}

func TestVenueSeparators(t *testing.T) {
	cases := []struct {
		venue     string
		canonical string
		native    string
	}{
		{VenueOANDA, "XAU/USD", "XAU_USD"},
		{VenueOANDA, "EUR/USD", "EUR_USD"},
		{VenueFXCM, "XAU/USD", "XAU/USD"},
		{VenueMetaTrader, "XAU/USD", "XAUUSD"},
		{VenueMetaTrader, "EUR/USD", "EURUSD"},
	}
	for _, c := range cases {
		if got := ToVenue(c.venue, c.canonical); got != c.native {
			t.Errorf("%s: expected ToVenue(%s) = %s, got %s", c.venue, c.canonical, c.native, got)
		}
		if got := ToCanonical(c.venue, c.native); got != c.canonical {
			t.Errorf("%s: expected ToCanonical(%s) = %s, got %s", c.venue, c.native, c.canonical, got)
		}
	}
}

func TestEquityQuoteSuffixDropped(t *testing.T) {
	if got := ToVenue(VenueAlpaca, "AAPL/USD"); got != "AAPL" {
		t.Errorf("Expected AAPL, got %s", got)
	}
	if got := ToVenue(VenueTradier, "SPY"); got != "SPY" {
		t.Errorf("Expected SPY to pass through, got %s", got)
	}
}

func TestUnmappedSymbolsAreTotal(t *testing.T) {
	// A pair outside the override table still resolves by the default rule.
	if got := ToVenue(VenueOANDA, "EUR/GBP"); got != "EUR_GBP" {
		t.Errorf("Expected EUR_GBP, got %s", got)
	}
	if got := ToCanonical(VenueMetaTrader, "EURGBP"); got != "EUR/GBP" {
		t.Errorf("Expected EUR/GBP, got %s", got)
	}
	// Non-pair codes pass through unchanged.
	if got := ToCanonical(VenueMetaTrader, "DE30"); got != "DE30" {
		t.Errorf("Expected DE30 to pass through, got %s", got)
	}
	if got := ToCanonical(VenueOANDA, "SOMETHING"); got != "SOMETHING" {
		t.Errorf("Expected SOMETHING to pass through, got %s", got)
	}
}

func TestUnknownVenuePassesThrough(t *testing.T) {
	if got := ToVenue("unknown", "EUR/USD"); got != "EUR/USD" {
		t.Errorf("Expected pass-through for unknown venue, got %s", got)
	}
}
