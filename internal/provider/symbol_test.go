package provider

import "testing"

func TestBaseSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "XLM-USD", want: "XLM"},
		{in: "xlm/usd", want: "XLM"},
		{in: "BTC_USDT", want: "BTC"},
		{in: "ETH:USDC", want: "ETH"},
		{in: "FDUSD", want: "FDUSD"},
		{in: "STETH", want: "STETH"},
		{in: "renbtc", want: "RENBTC"},
		{in: "XLM", want: "XLM"},
		{in: " doge ", want: "DOGE"},
		{in: "USD", want: "USD"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := BaseSymbol(tt.in); got != tt.want {
				t.Errorf("BaseSymbol(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQuoteSymbol(t *testing.T) {
	if got := QuoteSymbol("XLM-USD"); got != "USD" {
		t.Errorf("QuoteSymbol(XLM-USD) = %q", got)
	}
	if got := QuoteSymbol("XLM"); got != "" {
		t.Errorf("QuoteSymbol(XLM) = %q, want empty", got)
	}
}
