// Package ticker handles market symbol normalization and validation.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Symbol kinds.
const (
	KindSecurity = "SECURITY" // AAPL, BHP.AX
	KindPair     = "PAIR"     // BTC-USD
	KindFuture   = "FUTURE"   // ES=F
	KindCurrency = "CURRENCY" // EURUSD=X
	KindIndex    = "INDEX"    // ^GSPC
)

// symbolRegex matches: [^]{base}[.{exchange}|-{quote}|={suffix}]
// Examples: AAPL, BRK-B, BHP.AX, BTC-USD, ES=F, ^GSPC
var symbolRegex = regexp.MustCompile(
	`^(\^?)([A-Z0-9&]{1,12})(?:([.\-=])([A-Z0-9]{1,8}))?$`,
)

var ErrInvalidTicker = errors.New("ticker: invalid symbol")

// Symbol is a parsed market symbol.
type Symbol struct {
	Ticker   string `json:"ticker"`
	Base     string `json:"base"`
	Exchange string `json:"exchange,omitempty"` // suffix after '.'
	Quote    string `json:"quote,omitempty"`    // suffix after '-'
	Kind     string `json:"kind"`
}

// Normalize trims and upper-cases a symbol.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Parse normalizes and validates a symbol.
func Parse(s string) (*Symbol, error) {
	t := Normalize(s)
	matches := symbolRegex.FindStringSubmatch(t)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTicker, s)
	}

	caret, base, sep, suffix := matches[1], matches[2], matches[3], matches[4]
	sym := &Symbol{Ticker: t, Base: base, Kind: KindSecurity}

	switch {
	case caret != "":
		if sep != "" {
			return nil, fmt.Errorf("%w: index %q takes no suffix", ErrInvalidTicker, s)
		}
		sym.Kind = KindIndex
	case sep == ".":
		sym.Exchange = suffix
	case sep == "-":
		// Share classes (BRK-B) are one letter, pairs name a currency.
		if len(suffix) >= 3 {
			sym.Kind = KindPair
			sym.Quote = suffix
		}
	case sep == "=" && suffix == "F":
		sym.Kind = KindFuture
	case sep == "=" && suffix == "X":
		sym.Kind = KindCurrency
	case sep == "=":
		return nil, fmt.Errorf("%w: unknown suffix =%s", ErrInvalidTicker, suffix)
	}
	return sym, nil
}
