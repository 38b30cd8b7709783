// Package model defines the core domain types shared across the portfolio service.
// All monetary values and quantities use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is an account owning zero or more portfolios.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Portfolio is a named collection of positions. Name is unique per user.
type Portfolio struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	UserID    string    `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PortfolioElement is a position: the current holding of one asset in one
// portfolio. At most one element exists per (PortfolioID, AssetID).
type PortfolioElement struct {
	ID          string          `json:"id" db:"id"`
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	AssetID     string          `json:"asset_id" db:"asset_id"`
	Count       decimal.Decimal `json:"count" db:"count"`
	BuyPrice    decimal.Decimal `json:"buy_price" db:"buy_price"` // weighted average
	OrderFee    decimal.Decimal `json:"order_fee" db:"order_fee"` // cumulative
	BuyDatetime time.Time       `json:"buy_datetime" db:"buy_datetime"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// CostBasis is the invested capital excluding fees: BuyPrice * Count.
func (e PortfolioElement) CostBasis() decimal.Decimal {
	return e.BuyPrice.Mul(e.Count)
}

// Asset is shared reference data, created the first time a ticker is bought.
type Asset struct {
	ID              string  `json:"id" db:"id"`
	Name            string  `json:"name" db:"name"`
	TickerSymbol    string  `json:"ticker_symbol" db:"ticker_symbol"`
	ISIN            *string `json:"isin" db:"isin"`
	DefaultCurrency string  `json:"default_currency" db:"default_currency"`
	AssetTypeID     string  `json:"asset_type_id" db:"asset_type_id"`
}

// AssetType maps a provider quote type (EQUITY, ETF, ...) to a display name
// and unit.
type AssetType struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	QuoteType string `json:"quote_type" db:"quote_type"`
	UnitType  string `json:"unit_type" db:"unit_type"`
}

// DefaultAssetTypes is the reference table seeded at startup.
var DefaultAssetTypes = []AssetType{
	{Name: "Stocks", QuoteType: "EQUITY", UnitType: "Share"},
	{Name: "ETFs", QuoteType: "ETF", UnitType: "Share"},
	{Name: "Crypto Currencies", QuoteType: "CRYPTOCURRENCY", UnitType: "Coin"},
	{Name: "Futures", QuoteType: "FUTURE", UnitType: "Contract"},
	{Name: "Options", QuoteType: "OPTION", UnitType: "Option"},
}

// SupportedQuoteType reports whether quoteType has an entry in DefaultAssetTypes.
func SupportedQuoteType(quoteType string) bool {
	for _, t := range DefaultAssetTypes {
		if t.QuoteType == quoteType {
			return true
		}
	}
	return false
}

// ElementWithAsset is a position joined with its asset for API responses.
type ElementWithAsset struct {
	PortfolioElement
	Asset *Asset `json:"asset,omitempty"`
}

// PortfolioDetail is a portfolio with all its positions.
type PortfolioDetail struct {
	Portfolio
	Elements []ElementWithAsset `json:"elements"`
}

// Classification is country/sector/valuation-multiple metadata for a ticker.
// Empty strings and an invalid Multiple mean "not reported".
type Classification struct {
	Ticker   string              `json:"ticker"`
	Country  string              `json:"country,omitempty"`
	Sector   string              `json:"sector,omitempty"`
	Multiple decimal.NullDecimal `json:"multiple"`
}

// Distribution is the result of a portfolio distribution analysis.
// Weights are percentages rounded to two decimals, computed over the number
// of tickers, not over market value.
type Distribution struct {
	PortfolioID    string                     `json:"portfolio_id"`
	CountryWeights map[string]decimal.Decimal `json:"country_weights"`
	SectorWeights  map[string]decimal.Decimal `json:"sector_weights"`
	AvgMultiple    decimal.NullDecimal        `json:"avg_multiple"`
	Classified     int                        `json:"classified"`
	Skipped        []string                   `json:"skipped"`
}

// Empty reports whether no ticker contributed to any bucket.
func (d Distribution) Empty() bool {
	return len(d.CountryWeights) == 0 && len(d.SectorWeights) == 0 && !d.AvgMultiple.Valid
}
