package provider

import "strings"

const pairSeparators = "-/_:"

// BaseSymbol returns the base currency of a crypto pair: "XLM-USD",
// "XLM/USD" and "XLM_USD" all become "XLM". An unseparated symbol is taken
// as a bare base and only upper-cased, so "STETH" stays "STETH".
func BaseSymbol(pair string) string {
	s := strings.ToUpper(strings.TrimSpace(pair))
	if i := strings.IndexAny(s, pairSeparators); i > 0 {
		return s[:i]
	}
	return s
}

// QuoteSymbol returns the quote currency of a separated pair, or "" when
// the pair has no separator.
func QuoteSymbol(pair string) string {
	s := strings.ToUpper(strings.TrimSpace(pair))
	if i := strings.IndexAny(s, pairSeparators); i > 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return ""
}
