package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wnjoon/go-yfinance/pkg/client"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/search"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"github.com/folio-labs/portfolio-service/internal/metrics"
	"github.com/folio-labs/portfolio-service/internal/model"
)

const (
	quoteSummaryURL = "https://query2.finance.yahoo.com/v10/finance/quoteSummary"
	searchURL       = "https://query2.finance.yahoo.com/v1/finance/search"
)

// YahooConfig configures a YahooClient.
type YahooConfig struct {
	Timeout time.Duration // per upstream call; zero means ten seconds
}

// yahooAPI is the slice of go-yfinance the client uses. None of the calls
// take a context, so YahooClient bounds each one itself.
type yahooAPI interface {
	Quote(symbol string) (*models.Quote, error)
	Info(symbol string) (*models.Info, error)
	History(symbol string, params models.HistoryParams) ([]models.Bar, error)
	Fund(symbol string) (*FundInfo, error)
	Search(query string, region Region, limit int) ([]models.SearchQuote, error)
}

// YahooClient implements Provider on Yahoo Finance through go-yfinance,
// which takes care of the cookie and crumb handshake.
type YahooClient struct {
	api     yahooAPI
	timeout time.Duration
	isin    *ISINResolver
	log     zerolog.Logger
	close   func()
}

// NewYahooClient creates a client. isin may be nil, in which case quotes
// carry no ISIN.
func NewYahooClient(cfg YahooConfig, isin *ISINResolver, log zerolog.Logger) (*YahooClient, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	secs := int(math.Ceil(cfg.Timeout.Seconds()))
	cli, err := client.New(client.WithTimeout(secs))
	if err != nil {
		return nil, fmt.Errorf("create yahoo client: %w", err)
	}
	c := newYahooClient(&yfinance{cli: cli, auth: client.NewAuthManager(cli)}, cfg.Timeout, isin, log)
	c.close = cli.Close
	return c, nil
}

func newYahooClient(api yahooAPI, timeout time.Duration, isin *ISINResolver, log zerolog.Logger) *YahooClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YahooClient{api: api, timeout: timeout, isin: isin, log: log, close: func() {}}
}

// Close releases the underlying HTTP client.
func (c *YahooClient) Close() {
	c.close()
}

// fetch runs fn with the client timeout and ctx, records metrics and maps
// go-yfinance errors onto the package sentinels.
func fetch[T any](ctx context.Context, c *YahooClient, op, symbol string, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	start := time.Now()
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	var r result
	select {
	case r = <-done:
		if r.err != nil {
			r.err = upstreamError(r.err)
		}
	case <-ctx.Done():
		r.err = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
	}

	metrics.MarketDataLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := metrics.Outcome(r.err)
	if errors.Is(r.err, ErrTickerNotFound) {
		outcome = "not_found"
	}
	metrics.MarketDataRequests.WithLabelValues(op, outcome).Inc()

	if r.err != nil {
		return r.v, fmt.Errorf("%s %s: %w", op, symbol, r.err)
	}
	return r.v, nil
}

func upstreamError(err error) error {
	switch {
	case client.IsNotFoundError(err), client.IsInvalidSymbolError(err), client.IsNoDataError(err):
		return ErrTickerNotFound
	default:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
}

func (c *YahooClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	yq, err := fetch(ctx, c, "quote", symbol, func() (*models.Quote, error) { return c.api.Quote(symbol) })
	if err != nil {
		return nil, err
	}
	if yq == nil || yq.Symbol == "" {
		return nil, fmt.Errorf("quote %s: %w", symbol, ErrTickerNotFound)
	}

	q := &Quote{
		Symbol:    yq.Symbol,
		ShortName: yq.ShortName,
		LongName:  yq.LongName,
		QuoteType: yq.QuoteType,
		Currency:  yq.Currency,
		Exchange:  yq.ExchangeName,
		Price:     marketPrice(yq),
	}
	if q.Exchange == "" {
		q.Exchange = yq.Exchange
	}

	// Profile and fund data are optional extras on top of the price.
	info, err := fetch(ctx, c, "info", symbol, func() (*models.Info, error) { return c.api.Info(symbol) })
	if err != nil {
		c.log.Debug().Err(err).Str("ticker", symbol).Msg("profile lookup failed, continuing without")
	} else if info != nil {
		q.Country = info.Country
		q.Sector = info.Sector
		q.Industry = info.Industry
		q.Website = info.Website
		q.Summary = info.LongBusinessSummary
	}

	if q.QuoteType == quoteTypeETF {
		fund, err := fetch(ctx, c, "fund", symbol, func() (*FundInfo, error) { return c.api.Fund(symbol) })
		if err != nil {
			c.log.Debug().Err(err).Str("ticker", symbol).Msg("fund lookup failed, continuing without")
		} else {
			q.Fund = fund
		}
	}

	if c.isin != nil {
		isin, err := c.isin.Resolve(ctx, q.Symbol)
		if err != nil {
			c.log.Debug().Err(err).Str("ticker", q.Symbol).Msg("isin lookup failed, continuing without")
		} else {
			q.ISIN = isin
		}
	}
	return q, nil
}

// marketPrice prefers the regular session price and falls back to the
// pre and post market prices.
func marketPrice(q *models.Quote) decimal.NullDecimal {
	for _, p := range []float64{q.RegularMarketPrice, q.PreMarketPrice, q.PostMarketPrice} {
		if d := positive(p); d.Valid {
			return d
		}
	}
	return decimal.NullDecimal{}
}

// positive converts a go-yfinance float. Zero, negative and non-finite
// values mean "not reported".
func positive(f float64) decimal.NullDecimal {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(f))
}

func (c *YahooClient) Classification(ctx context.Context, symbol string) (*model.Classification, error) {
	info, err := fetch(ctx, c, "classification", symbol, func() (*models.Info, error) { return c.api.Info(symbol) })
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}

	cl := &model.Classification{
		Ticker:   symbol,
		Country:  info.Country,
		Sector:   info.Sector,
		Multiple: positive(info.TrailingPE),
	}
	if cl.Country == "" && cl.Sector == "" && !cl.Multiple.Valid {
		return nil, nil
	}
	return cl, nil
}

func (c *YahooClient) PriceHistory(ctx context.Context, symbol, period, interval string) ([]PricePoint, error) {
	if err := ValidateRange(period, interval); err != nil {
		return nil, err
	}

	params := models.HistoryParams{Period: period, Interval: interval, AutoAdjust: true}
	bars, err := fetch(ctx, c, "history", symbol, func() ([]models.Bar, error) { return c.api.History(symbol, params) })
	if err != nil {
		return nil, err
	}

	points := make([]PricePoint, 0, len(bars))
	for _, b := range bars {
		// Bars without a close are gaps in trading.
		closing := positive(b.Close)
		if !closing.Valid {
			continue
		}
		points = append(points, PricePoint{
			Time:   b.Date.UTC(),
			Open:   positive(b.Open),
			High:   positive(b.High),
			Low:    positive(b.Low),
			Close:  closing.Decimal,
			Volume: b.Volume,
		})
	}
	return points, nil
}

// Search looks up symbols. A country Yahoo has no region for is dropped
// and the search runs globally.
func (c *YahooClient) Search(ctx context.Context, query, country string) ([]SearchResult, error) {
	region, ok := RegionFor(country)
	if !ok && strings.TrimSpace(country) != "" {
		c.log.Debug().Str("country", country).Msg("unknown search country, ignoring")
	}

	quotes, err := fetch(ctx, c, "search", query, func() ([]models.SearchQuote, error) {
		return c.api.Search(query, region, MaxSearchResults)
	})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(quotes))
	for _, q := range quotes {
		if !model.SupportedQuoteType(q.QuoteType) {
			continue
		}
		results = append(results, SearchResult{
			Symbol:    q.Symbol,
			ShortName: q.ShortName,
			LongName:  q.LongName,
			QuoteType: q.QuoteType,
			Exchange:  q.Exchange,
			ExchDisp:  q.ExchangeDisp,
			TypeDisp:  q.TypeDisp,
		})
		if len(results) == MaxSearchResults {
			break
		}
	}
	return results, nil
}

// yfinance is the production yahooAPI. All tickers share one client so the
// session cookie is reused.
type yfinance struct {
	cli  *client.Client
	auth *client.AuthManager
}

func (y *yfinance) Quote(symbol string) (*models.Quote, error) {
	t, err := ticker.New(symbol, ticker.WithClient(y.cli))
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()
	return t.Quote()
}

func (y *yfinance) Info(symbol string) (*models.Info, error) {
	t, err := ticker.New(symbol, ticker.WithClient(y.cli))
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()
	return t.Info()
}

func (y *yfinance) History(symbol string, params models.HistoryParams) ([]models.Bar, error) {
	t, err := ticker.New(symbol, ticker.WithClient(y.cli))
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()
	return t.History(params)
}

// Fund reads the topHoldings and fundProfile quoteSummary modules, which
// go-yfinance does not expose on Ticker.
func (y *yfinance) Fund(symbol string) (*FundInfo, error) {
	params, err := y.auth.AddCrumbToParams(url.Values{
		"modules":    {"topHoldings,fundProfile"},
		"formatted":  {"false"},
		"corsDomain": {"finance.yahoo.com"},
	})
	if err != nil {
		return nil, client.WrapAuthError(err)
	}
	resp, err := y.cli.Get(quoteSummaryURL+"/"+url.PathEscape(strings.ToUpper(symbol)), params)
	if err != nil {
		return nil, client.WrapNetworkError(err)
	}
	if resp.StatusCode >= 400 {
		return nil, client.HTTPStatusToError(resp.StatusCode, resp.Body)
	}
	return decodeFund(symbol, resp.Body)
}

// Search uses the go-yfinance search package for global queries. It has
// no region option, so regional queries go through the shared client.
func (y *yfinance) Search(query string, region Region, limit int) ([]models.SearchQuote, error) {
	if region.Code == "" {
		s, err := search.New(search.WithClient(y.cli))
		if err != nil {
			return nil, err
		}
		defer s.Close()
		return s.Quotes(query, limit)
	}

	params := url.Values{
		"q":           {query},
		"quotesCount": {fmt.Sprint(limit)},
		"newsCount":   {"0"},
		"listsCount":  {"0"},
		"region":      {region.Code},
		"lang":        {region.Lang},
	}
	resp, err := y.cli.Get(searchURL, params)
	if err != nil {
		return nil, client.WrapNetworkError(err)
	}
	if resp.StatusCode >= 400 {
		return nil, client.HTTPStatusToError(resp.StatusCode, resp.Body)
	}
	return decodeSearch(resp.Body)
}

type fundSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			TopHoldings struct {
				CashPosition  decimal.NullDecimal `json:"cashPosition"`
				StockPosition decimal.NullDecimal `json:"stockPosition"`
				BondPosition  decimal.NullDecimal `json:"bondPosition"`
				Holdings      []struct {
					Symbol         string              `json:"symbol"`
					HoldingName    string              `json:"holdingName"`
					HoldingPercent decimal.NullDecimal `json:"holdingPercent"`
				} `json:"holdings"`
				SectorWeightings []map[string]decimal.Decimal `json:"sectorWeightings"`
			} `json:"topHoldings"`
			FundProfile struct {
				Family       string `json:"family"`
				CategoryName string `json:"categoryName"`
				LegalType    string `json:"legalType"`
				Fees         struct {
					AnnualReportExpenseRatio decimal.NullDecimal `json:"annualReportExpenseRatio"`
					TotalNetAssets           decimal.NullDecimal `json:"totalNetAssets"`
				} `json:"feesExpensesInvestment"`
			} `json:"fundProfile"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

func decodeFund(symbol, body string) (*FundInfo, error) {
	var raw fundSummaryResponse
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, client.WrapInvalidResponseError(err)
	}
	if raw.QuoteSummary.Error != nil || len(raw.QuoteSummary.Result) == 0 {
		return nil, client.WrapNoDataError(symbol)
	}
	r := raw.QuoteSummary.Result[0]

	fund := &FundInfo{
		Holdings: FundHoldings{
			CashPosition:     r.TopHoldings.CashPosition,
			StockPosition:    r.TopHoldings.StockPosition,
			BondPosition:     r.TopHoldings.BondPosition,
			Top:              make([]Holding, 0, len(r.TopHoldings.Holdings)),
			SectorWeightings: make(map[string]decimal.Decimal),
		},
		Profile: FundProfile{
			Family:         r.FundProfile.Family,
			Category:       r.FundProfile.CategoryName,
			LegalType:      r.FundProfile.LegalType,
			ExpenseRatio:   r.FundProfile.Fees.AnnualReportExpenseRatio,
			TotalNetAssets: r.FundProfile.Fees.TotalNetAssets,
		},
	}
	for _, h := range r.TopHoldings.Holdings {
		fund.Holdings.Top = append(fund.Holdings.Top, Holding{
			Symbol:  h.Symbol,
			Name:    h.HoldingName,
			Percent: h.HoldingPercent,
		})
	}
	// Yahoo sends sector weightings as a list of one-key objects.
	for _, w := range r.TopHoldings.SectorWeightings {
		for sector, v := range w {
			fund.Holdings.SectorWeightings[sector] = v
		}
	}
	return fund, nil
}

func decodeSearch(body string) ([]models.SearchQuote, error) {
	var raw struct {
		Quotes []models.SearchQuote `json:"quotes"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, client.WrapInvalidResponseError(err)
	}
	return raw.Quotes, nil
}

var _ Provider = (*YahooClient)(nil)
