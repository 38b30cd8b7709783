package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wnjoon/go-yfinance/pkg/client"
	"github.com/wnjoon/go-yfinance/pkg/models"
)

type MockYahooAPI struct {
	mock.Mock
}

func (m *MockYahooAPI) Quote(symbol string) (*models.Quote, error) {
	args := m.Called(symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Quote), args.Error(1)
}

func (m *MockYahooAPI) Info(symbol string) (*models.Info, error) {
	args := m.Called(symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Info), args.Error(1)
}

func (m *MockYahooAPI) History(symbol string, params models.HistoryParams) ([]models.Bar, error) {
	args := m.Called(symbol, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Bar), args.Error(1)
}

func (m *MockYahooAPI) Fund(symbol string) (*FundInfo, error) {
	args := m.Called(symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FundInfo), args.Error(1)
}

func (m *MockYahooAPI) Search(query string, region Region, limit int) ([]models.SearchQuote, error) {
	args := m.Called(query, region, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SearchQuote), args.Error(1)
}

func newTestClient(api *MockYahooAPI, isin *ISINResolver) *YahooClient {
	return newYahooClient(api, time.Second, isin, zerolog.Nop())
}

func appleQuote() *models.Quote {
	return &models.Quote{
		Symbol:             "AAPL",
		ShortName:          "Apple Inc.",
		LongName:           "Apple Inc.",
		QuoteType:          "EQUITY",
		Currency:           "USD",
		Exchange:           "NMS",
		ExchangeName:       "NasdaqGS",
		RegularMarketPrice: 189.84,
	}
}

func appleInfo() *models.Info {
	return &models.Info{
		Symbol:     "AAPL",
		Country:    "United States",
		Sector:     "Technology",
		Industry:   "Consumer Electronics",
		Website:    "https://www.apple.com",
		TrailingPE: 29.53,
	}
}

func TestQuote(t *testing.T) {
	api := new(MockYahooAPI)
	api.On("Quote", "AAPL").Return(appleQuote(), nil)
	api.On("Info", "AAPL").Return(appleInfo(), nil)
	c := newTestClient(api, nil)

	q, err := c.Quote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "Apple Inc.", q.Name())
	assert.Equal(t, "EQUITY", q.QuoteType)
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, "NasdaqGS", q.Exchange)
	require.True(t, q.Price.Valid)
	assert.True(t, q.Price.Decimal.Equal(decimal.RequireFromString("189.84")))
	assert.Equal(t, "United States", q.Country)
	assert.Equal(t, "Consumer Electronics", q.Industry)
	assert.Empty(t, q.ISIN)
	assert.Nil(t, q.Fund)
	api.AssertNotCalled(t, "Fund", mock.Anything)
}

func TestQuote_PriceFallsBackToExtendedHours(t *testing.T) {
	yq := appleQuote()
	yq.RegularMarketPrice = 0
	yq.PreMarketPrice = math.NaN()
	yq.PostMarketPrice = 190.5

	api := new(MockYahooAPI)
	api.On("Quote", "AAPL").Return(yq, nil)
	api.On("Info", "AAPL").Return(appleInfo(), nil)

	q, err := newTestClient(api, nil).Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, q.Price.Valid)
	assert.True(t, q.Price.Decimal.Equal(decimal.RequireFromString("190.5")))
}

func TestQuote_ProfileIsOptional(t *testing.T) {
	api := new(MockYahooAPI)
	api.On("Quote", "AAPL").Return(appleQuote(), nil)
	api.On("Info", "AAPL").Return(nil, client.WrapRateLimitError())

	q, err := newTestClient(api, nil).Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Empty(t, q.Country)
}

func TestQuote_ETFCarriesFundData(t *testing.T) {
	fund, err := decodeFund("VOO", vooFundSummary)
	require.NoError(t, err)

	api := new(MockYahooAPI)
	api.On("Quote", "VOO").Return(&models.Quote{
		Symbol:             "VOO",
		ShortName:          "Vanguard S&P 500 ETF",
		QuoteType:          "ETF",
		Currency:           "USD",
		RegularMarketPrice: 470.12,
	}, nil)
	api.On("Info", "VOO").Return(&models.Info{Symbol: "VOO"}, nil)
	api.On("Fund", "VOO").Return(fund, nil)

	q, err := newTestClient(api, nil).Quote(context.Background(), "VOO")
	require.NoError(t, err)
	require.NotNil(t, q.Fund)
	assert.Equal(t, "Vanguard", q.Fund.Profile.Family)
	require.Len(t, q.Fund.Holdings.Top, 2)
	assert.Equal(t, "AAPL", q.Fund.Holdings.Top[0].Symbol)
}

func TestQuote_ETFWithoutFundData(t *testing.T) {
	api := new(MockYahooAPI)
	api.On("Quote", "VOO").Return(&models.Quote{Symbol: "VOO", QuoteType: "ETF", RegularMarketPrice: 470.12}, nil)
	api.On("Info", "VOO").Return(&models.Info{Symbol: "VOO"}, nil)
	api.On("Fund", "VOO").Return(nil, client.WrapNoDataError("VOO"))

	q, err := newTestClient(api, nil).Quote(context.Background(), "VOO")
	require.NoError(t, err)
	assert.Nil(t, q.Fund)
}

func TestQuote_Errors(t *testing.T) {
	api := new(MockYahooAPI)
	api.On("Quote", "NOPE").Return(nil, fmt.Errorf("failed to fetch quote: %w", client.WrapNotFoundError("NOPE")))
	api.On("Quote", "DOWN").Return(nil, fmt.Errorf("failed to fetch quote: %w", client.HTTPStatusToError(http.StatusServiceUnavailable, "")))
	api.On("Quote", "CRUMB").Return(nil, fmt.Errorf("failed to get crumb: %w", client.WrapAuthError(errors.New("HTTP 401"))))
	api.On("Quote", "EMPTY").Return(&models.Quote{}, nil)
	c := newTestClient(api, nil)

	_, err := c.Quote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrTickerNotFound)

	_, err = c.Quote(context.Background(), "DOWN")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = c.Quote(context.Background(), "CRUMB")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = c.Quote(context.Background(), "EMPTY")
	assert.ErrorIs(t, err, ErrTickerNotFound)

	api.AssertNotCalled(t, "Info", mock.Anything)
}

func TestQuote_SlowUpstreamIsAbandoned(t *testing.T) {
	release := make(chan time.Time)
	t.Cleanup(func() { close(release) })

	api := new(MockYahooAPI)
	api.On("Quote", "AAPL").WaitUntil(release).Return(appleQuote(), nil)
	c := newYahooClient(api, 50*time.Millisecond, nil, zerolog.Nop())

	start := time.Now()
	_, err := c.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestQuote_WithISIN(t *testing.T) {
	isinSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AAPL", r.URL.Query().Get("query"))
		fmt.Fprint(w, suggestBody)
	}))
	t.Cleanup(isinSrv.Close)

	api := new(MockYahooAPI)
	api.On("Quote", "AAPL").Return(appleQuote(), nil)
	api.On("Info", "AAPL").Return(appleInfo(), nil)
	c := newTestClient(api, NewISINResolver(isinSrv.URL, time.Second))

	q, err := c.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "US0378331005", q.ISIN)
}

func TestQuote_SlowISINLookupIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	isinSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		isinSrv.Close()
	})

	api := new(MockYahooAPI)
	api.On("Quote", "AAPL").Return(appleQuote(), nil)
	api.On("Info", "AAPL").Return(appleInfo(), nil)
	c := newTestClient(api, NewISINResolver(isinSrv.URL, 100*time.Millisecond))

	start := time.Now()
	q, err := c.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Empty(t, q.ISIN)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClassification(t *testing.T) {
	api := new(MockYahooAPI)
	api.On("Info", "AAPL").Return(appleInfo(), nil)
	api.On("Info", "BTC-USD").Return(&models.Info{Symbol: "BTC-USD"}, nil)
	api.On("Info", "NOPE").Return(nil, fmt.Errorf("failed to fetch info: %w", client.HTTPStatusToError(http.StatusNotFound, "")))
	c := newTestClient(api, nil)

	cl, err := c.Classification(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, cl)
	assert.Equal(t, "United States", cl.Country)
	assert.Equal(t, "Technology", cl.Sector)
	require.True(t, cl.Multiple.Valid)
	assert.True(t, cl.Multiple.Decimal.Equal(decimal.RequireFromString("29.53")))

	cl, err = c.Classification(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Nil(t, cl, "no profile data means no classification")

	_, err = c.Classification(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrTickerNotFound)
}

func TestPriceHistory(t *testing.T) {
	day := func(n int) time.Time { return time.Unix(1700000000+int64(n)*86400, 0) }

	api := new(MockYahooAPI)
	api.On("History", "AAPL", models.HistoryParams{Period: "5d", Interval: "1d", AutoAdjust: true}).Return([]models.Bar{
		{Date: day(0), Open: 189.1, High: 190.0, Low: 188.7, Close: 189.5, Volume: 1000},
		{Date: day(1), Close: math.NaN()},
		{Date: day(2), Open: 190.2, High: 191.5, Low: 189.9, Close: 191.1, Volume: 2000},
	}, nil)
	c := newTestClient(api, nil)

	points, err := c.PriceHistory(context.Background(), "AAPL", "5d", "1d")
	require.NoError(t, err)
	require.Len(t, points, 2, "bars without a close are dropped")

	assert.Equal(t, day(0).UTC(), points[0].Time)
	assert.True(t, points[0].Close.Equal(decimal.RequireFromString("189.5")))
	assert.Equal(t, int64(2000), points[1].Volume)
	assert.True(t, points[1].High.Valid)
}

func TestPriceHistory_InvalidRange(t *testing.T) {
	api := new(MockYahooAPI)
	c := newTestClient(api, nil)

	_, err := c.PriceHistory(context.Background(), "AAPL", "7d", "1d")
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = c.PriceHistory(context.Background(), "AAPL", "1y", "4h")
	assert.ErrorIs(t, err, ErrInvalidRange)

	api.AssertNotCalled(t, "History", mock.Anything, mock.Anything)
}

func TestSearch_FiltersAndCaps(t *testing.T) {
	quotes := []models.SearchQuote{
		{Symbol: "APPLE.NEWS", QuoteType: "NEWS"},
		{Symbol: "AAPL", ShortName: "Apple Inc.", QuoteType: "EQUITY", Exchange: "NMS"},
		{Symbol: "^AAPL", QuoteType: "INDEX"},
	}
	for i := 0; i < 25; i++ {
		quotes = append(quotes, models.SearchQuote{Symbol: fmt.Sprintf("APL%d", i), QuoteType: "ETF"})
	}

	api := new(MockYahooAPI)
	api.On("Search", "apple", Region{"DE", "de-DE"}, MaxSearchResults).Return(quotes, nil)
	c := newTestClient(api, nil)

	results, err := c.Search(context.Background(), "apple", "Germany")
	require.NoError(t, err)

	require.Len(t, results, MaxSearchResults)
	assert.Equal(t, "AAPL", results[0].Symbol)
	assert.Equal(t, "Apple Inc.", results[0].ShortName)
	for _, r := range results {
		assert.Contains(t, []string{"EQUITY", "ETF"}, r.QuoteType)
	}
}

func TestSearch_UnknownCountrySearchesGlobally(t *testing.T) {
	api := new(MockYahooAPI)
	api.On("Search", "apple", Region{}, MaxSearchResults).Return([]models.SearchQuote{}, nil)
	c := newTestClient(api, nil)

	for _, country := range []string{"", "atlantis", "DE"} {
		results, err := c.Search(context.Background(), "apple", country)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	}
	api.AssertNumberOfCalls(t, "Search", 3)
}

func TestRegionFor(t *testing.T) {
	r, ok := RegionFor(" United Kingdom ")
	require.True(t, ok)
	assert.Equal(t, Region{"GB", "en-GB"}, r)

	r, ok = RegionFor("HONG KONG")
	require.True(t, ok)
	assert.Equal(t, "HK", r.Code)

	_, ok = RegionFor("narnia")
	assert.False(t, ok)
}

const vooFundSummary = `{"quoteSummary":{"result":[{
	"topHoldings":{
		"cashPosition":0.0012,"stockPosition":0.9988,"bondPosition":0,
		"holdings":[
			{"symbol":"AAPL","holdingName":"Apple Inc","holdingPercent":0.0705},
			{"symbol":"MSFT","holdingName":"Microsoft Corp","holdingPercent":0.0698}
		],
		"sectorWeightings":[{"realestate":0.0231},{"technology":0.2912}]
	},
	"fundProfile":{
		"family":"Vanguard","categoryName":"Large Blend","legalType":"Exchange Traded Fund",
		"feesExpensesInvestment":{"annualReportExpenseRatio":0.0003,"totalNetAssets":1024.5}
	}
}],"error":null}}`

func TestDecodeFund(t *testing.T) {
	fund, err := decodeFund("VOO", vooFundSummary)
	require.NoError(t, err)

	assert.True(t, fund.Holdings.StockPosition.Decimal.Equal(decimal.RequireFromString("0.9988")))
	require.Len(t, fund.Holdings.Top, 2)
	assert.Equal(t, "Microsoft Corp", fund.Holdings.Top[1].Name)
	assert.True(t, fund.Holdings.Top[0].Percent.Decimal.Equal(decimal.RequireFromString("0.0705")))
	assert.Len(t, fund.Holdings.SectorWeightings, 2)
	assert.True(t, fund.Holdings.SectorWeightings["technology"].Equal(decimal.RequireFromString("0.2912")))

	assert.Equal(t, "Large Blend", fund.Profile.Category)
	assert.Equal(t, "Exchange Traded Fund", fund.Profile.LegalType)
	require.True(t, fund.Profile.ExpenseRatio.Valid)
	assert.True(t, fund.Profile.ExpenseRatio.Decimal.Equal(decimal.RequireFromString("0.0003")))
}

func TestDecodeFund_NoResult(t *testing.T) {
	_, err := decodeFund("AAPL", `{"quoteSummary":{"result":[],"error":null}}`)
	assert.True(t, client.IsNoDataError(err))

	_, err = decodeFund("AAPL", `not json`)
	assert.Error(t, err)
}

func TestDecodeSearch(t *testing.T) {
	quotes, err := decodeSearch(`{"count":1,"quotes":[{"symbol":"SAP.DE","shortname":"SAP SE","quoteType":"EQUITY","exchange":"GER","exchDisp":"XETRA","typeDisp":"Equity"}]}`)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "SAP SE", quotes[0].ShortName)
	assert.Equal(t, "XETRA", quotes[0].ExchangeDisp)
}
