package ticker

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		in       string
		ticker   string
		base     string
		exchange string
		quote    string
		kind     string
	}{
		{"AAPL", "AAPL", "AAPL", "", "", KindSecurity},
		{" aapl ", "AAPL", "AAPL", "", "", KindSecurity},
		{"BHP.AX", "BHP.AX", "BHP", "AX", "", KindSecurity},
		{"BRK-B", "BRK-B", "BRK", "", "", KindSecurity},
		{"BTC-USD", "BTC-USD", "BTC", "", "USD", KindPair},
		{"ES=F", "ES=F", "ES", "", "", KindFuture},
		{"EURUSD=X", "EURUSD=X", "EURUSD", "", "", KindCurrency},
		{"^GSPC", "^GSPC", "GSPC", "", "", KindIndex},
		{"M&M.NS", "M&M.NS", "M&M", "NS", "", KindSecurity},
	}
	for _, tt := range tests {
		s, err := Parse(tt.in)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if s.Ticker != tt.ticker || s.Base != tt.base || s.Exchange != tt.exchange || s.Quote != tt.quote || s.Kind != tt.kind {
			t.Errorf("Parse(%q) = %+v", tt.in, *s)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"AAPL US",
		"AAPL;DROP",
		".AX",
		"BHP.",
		"ES=Q",
		"^GSPC.X",
		"THISTICKERISWAYTOOLONG",
	}
	for _, in := range tests {
		_, err := Parse(in)
		if !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("Parse(%q): expected ErrInvalidTicker, got %v", in, err)
		}
	}
}
