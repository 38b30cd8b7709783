// Package analysis computes the country and sector distribution of a
// portfolio and the average valuation multiple of its holdings.
//
// Weights are equal-weight by ticker: every distinct ticker counts once,
// whatever its position size or market value.
package analysis

import (
	"github.com/shopspring/decimal"

	"github.com/folio-labs/portfolio-service/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Aggregate folds per-ticker classifications into a distribution. Country
// and sector weights are computed independently, each over the tickers that
// reported that attribute, and rounded to two decimals. The average
// multiple covers tickers with a non-zero multiple and is null when there
// are none.
func Aggregate(portfolioID string, cs []model.Classification) model.Distribution {
	countries := make(map[string]int)
	sectors := make(map[string]int)
	var nCountries, nSectors int
	sum := decimal.Zero
	var nMultiples int64

	for _, c := range cs {
		if c.Country != "" {
			countries[c.Country]++
			nCountries++
		}
		if c.Sector != "" {
			sectors[c.Sector]++
			nSectors++
		}
		if c.Multiple.Valid && !c.Multiple.Decimal.IsZero() {
			sum = sum.Add(c.Multiple.Decimal)
			nMultiples++
		}
	}

	dist := model.Distribution{
		PortfolioID:    portfolioID,
		CountryWeights: weights(countries, nCountries),
		SectorWeights:  weights(sectors, nSectors),
		Classified:     len(cs),
		Skipped:        []string{},
	}
	if nMultiples > 0 {
		dist.AvgMultiple = decimal.NewNullDecimal(sum.Div(decimal.NewFromInt(nMultiples)))
	}
	return dist
}

func weights(counts map[string]int, total int) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(counts))
	if total == 0 {
		return out
	}
	n := decimal.NewFromInt(int64(total))
	for key, count := range counts {
		out[key] = decimal.NewFromInt(int64(count)).Mul(hundred).Div(n).Round(2)
	}
	return out
}
