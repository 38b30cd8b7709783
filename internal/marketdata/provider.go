// Package marketdata fetches quotes, classification data, price history and
// symbol search results from an external financial data provider.
//
// Responses are never cached: every call goes upstream.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folio-labs/portfolio-service/internal/model"
)

var (
	// ErrUpstreamUnavailable is returned when the provider cannot be reached,
	// times out or answers with a server error.
	ErrUpstreamUnavailable = errors.New("marketdata: upstream unavailable")

	// ErrTickerNotFound is returned when the provider does not know a ticker.
	ErrTickerNotFound = errors.New("marketdata: ticker not found")

	// ErrInvalidRange is returned for an unsupported period or interval.
	ErrInvalidRange = errors.New("marketdata: invalid period or interval")
)

// MaxSearchResults caps the number of results returned by Search.
const MaxSearchResults = 20

// ValidPeriods lists the accepted history periods.
var ValidPeriods = []string{"1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "10y", "ytd", "max"}

// ValidIntervals lists the accepted history intervals.
var ValidIntervals = []string{"1m", "2m", "5m", "15m", "30m", "60m", "90m", "1h", "1d", "5d", "1wk", "1mo", "3mo"}

// ValidateRange checks period and interval against the accepted values.
func ValidateRange(period, interval string) error {
	if !slices.Contains(ValidPeriods, period) {
		return fmt.Errorf("%w: period %q", ErrInvalidRange, period)
	}
	if !slices.Contains(ValidIntervals, interval) {
		return fmt.Errorf("%w: interval %q", ErrInvalidRange, interval)
	}
	return nil
}

// Quote is the current snapshot of one ticker.
type Quote struct {
	Symbol    string              `json:"symbol"`
	ShortName string              `json:"short_name"`
	LongName  string              `json:"long_name,omitempty"`
	QuoteType string              `json:"quote_type"`
	Currency  string              `json:"currency"`
	Exchange  string              `json:"exchange,omitempty"`
	Price     decimal.NullDecimal `json:"regular_market_price"`
	ISIN      string              `json:"isin,omitempty"`
	Country   string              `json:"country,omitempty"`
	Sector    string              `json:"sector,omitempty"`
	Industry  string              `json:"industry,omitempty"`
	Website   string              `json:"website,omitempty"`
	Summary   string              `json:"long_business_summary,omitempty"`
	Fund      *FundInfo           `json:"etf_data,omitempty"`
}

const quoteTypeETF = "ETF"

// FundInfo is the holdings and profile data attached to ETF quotes.
type FundInfo struct {
	Holdings FundHoldings `json:"fund_holding_info"`
	Profile  FundProfile  `json:"fund_profile"`
}

// FundHoldings describes what a fund holds. Positions and percentages are
// fractions of net assets.
type FundHoldings struct {
	CashPosition     decimal.NullDecimal        `json:"cash_position"`
	StockPosition    decimal.NullDecimal        `json:"stock_position"`
	BondPosition     decimal.NullDecimal        `json:"bond_position"`
	Top              []Holding                  `json:"holdings"`
	SectorWeightings map[string]decimal.Decimal `json:"sector_weightings"`
}

// Holding is one of a fund's largest positions.
type Holding struct {
	Symbol  string              `json:"symbol"`
	Name    string              `json:"holding_name"`
	Percent decimal.NullDecimal `json:"holding_percent"`
}

type FundProfile struct {
	Family         string              `json:"family,omitempty"`
	Category       string              `json:"category_name,omitempty"`
	LegalType      string              `json:"legal_type,omitempty"`
	ExpenseRatio   decimal.NullDecimal `json:"annual_report_expense_ratio"`
	TotalNetAssets decimal.NullDecimal `json:"total_net_assets"`
}

// Name returns the display name, preferring the short name.
func (q Quote) Name() string {
	if q.ShortName != "" {
		return q.ShortName
	}
	if q.LongName != "" {
		return q.LongName
	}
	return q.Symbol
}

// Region is a Yahoo search region and its language.
type Region struct {
	Code string
	Lang string
}

// searchRegions maps the country names accepted by asset search to Yahoo
// regions.
var searchRegions = map[string]Region{
	"argentina":      {"AR", "es-AR"},
	"australia":      {"AU", "en-AU"},
	"brazil":         {"BR", "pt-BR"},
	"canada":         {"CA", "en-CA"},
	"france":         {"FR", "fr-FR"},
	"germany":        {"DE", "de-DE"},
	"hong kong":      {"HK", "zh-Hant-HK"},
	"india":          {"IN", "en-IN"},
	"italy":          {"IT", "it-IT"},
	"new zealand":    {"NZ", "en-NZ"},
	"singapore":      {"SG", "en-SG"},
	"spain":          {"ES", "es-ES"},
	"taiwan":         {"TW", "zh-TW"},
	"united kingdom": {"GB", "en-GB"},
	"united states":  {"US", "en-US"},
}

// RegionFor returns the search region for a country name, ignoring case.
func RegionFor(country string) (Region, bool) {
	r, ok := searchRegions[strings.ToLower(strings.TrimSpace(country))]
	return r, ok
}

// PricePoint is one bar of price history.
type PricePoint struct {
	Time   time.Time           `json:"time"`
	Open   decimal.NullDecimal `json:"open"`
	High   decimal.NullDecimal `json:"high"`
	Low    decimal.NullDecimal `json:"low"`
	Close  decimal.Decimal     `json:"close"`
	Volume int64               `json:"volume"`
}

// SearchResult is one symbol match.
type SearchResult struct {
	Symbol    string `json:"symbol"`
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name,omitempty"`
	QuoteType string `json:"quote_type"`
	Exchange  string `json:"exchange"`
	ExchDisp  string `json:"exchange_display,omitempty"`
	TypeDisp  string `json:"type_display,omitempty"`
}

// Provider is the market data collaborator.
type Provider interface {
	// Quote returns the current quote. The ISIN is filled in when it can be
	// resolved in time, and ETF quotes carry fund data when available.
	Quote(ctx context.Context, ticker string) (*Quote, error)
	// Classification returns country, sector and trailing P/E, or nil when
	// the provider reports none of them.
	Classification(ctx context.Context, ticker string) (*model.Classification, error)
	// PriceHistory returns bars for the period at the interval.
	PriceHistory(ctx context.Context, ticker, period, interval string) ([]PricePoint, error)
	// Search returns up to MaxSearchResults matches of a supported quote
	// type. Countries without a known search region are ignored.
	Search(ctx context.Context, query, country string) ([]SearchResult, error)
}
