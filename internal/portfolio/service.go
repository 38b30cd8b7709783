// Package portfolio implements the portfolio use cases on top of the
// position ledger, the distribution analyzer and the market data provider.
// Every operation checks that the caller owns the portfolio it touches.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folio-labs/portfolio-service/internal/ledger"
	"github.com/folio-labs/portfolio-service/internal/marketdata"
	"github.com/folio-labs/portfolio-service/internal/metrics"
	"github.com/folio-labs/portfolio-service/internal/model"
	"github.com/folio-labs/portfolio-service/internal/store"
	"github.com/folio-labs/portfolio-service/internal/ticker"
)

var (
	ErrInvalidInput     = errors.New("portfolio: invalid input")
	ErrNotFound         = errors.New("portfolio: not found")
	ErrForbidden        = errors.New("portfolio: not owned by caller")
	ErrDuplicate        = errors.New("portfolio: name already in use")
	ErrUnsupportedAsset = errors.New("portfolio: unsupported asset type")
)

// PositionLedger applies position mutations.
type PositionLedger interface {
	AddPosition(ctx context.Context, portfolioID, assetID string, count, buyPrice, orderFee decimal.Decimal) (*model.PortfolioElement, error)
	ReducePosition(ctx context.Context, portfolioID, assetID string, count decimal.Decimal) (*ledger.Outcome, error)
	UpdatePosition(ctx context.Context, portfolioID, elementID string, u ledger.ElementUpdate) (*ledger.Outcome, error)
	RemovePosition(ctx context.Context, portfolioID, elementID string) error
}

// DistributionAnalyzer computes portfolio distributions.
type DistributionAnalyzer interface {
	Analyze(ctx context.Context, portfolioID string) (*model.Distribution, error)
}

// QuoteSource resolves tickers the first time they are bought.
type QuoteSource interface {
	Quote(ctx context.Context, ticker string) (*marketdata.Quote, error)
}

// Service implements the portfolio use cases.
type Service struct {
	store    store.Store
	ledger   PositionLedger
	analyzer DistributionAnalyzer
	quotes   QuoteSource
	log      zerolog.Logger
}

// NewService creates a portfolio service.
func NewService(st store.Store, l PositionLedger, a DistributionAnalyzer, q QuoteSource, log zerolog.Logger) *Service {
	return &Service{store: st, ledger: l, analyzer: a, quotes: q, log: log}
}

// --- Portfolios ---

func (s *Service) CreatePortfolio(ctx context.Context, userID, name string) (*model.Portfolio, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}

	p := &model.Portfolio{
		ID:        uuid.New().String(),
		Name:      name,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePortfolio(ctx, p); err != nil {
		return nil, translate(err)
	}

	s.log.Info().Str("user_id", userID).Str("portfolio_id", p.ID).Msg("portfolio created")
	return p, nil
}

// ListPortfolios returns every portfolio of the user with its positions.
func (s *Service) ListPortfolios(ctx context.Context, userID string) ([]model.PortfolioDetail, error) {
	portfolios, err := s.store.ListPortfoliosByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	details := make([]model.PortfolioDetail, 0, len(portfolios))
	for _, p := range portfolios {
		elements, err := s.store.ListElements(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		details = append(details, model.PortfolioDetail{Portfolio: p, Elements: elements})
	}
	return details, nil
}

func (s *Service) GetPortfolio(ctx context.Context, userID, portfolioID string) (*model.PortfolioDetail, error) {
	p, err := s.owned(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	elements, err := s.store.ListElements(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &model.PortfolioDetail{Portfolio: *p, Elements: elements}, nil
}

func (s *Service) RenamePortfolio(ctx context.Context, userID, portfolioID, name string) (*model.Portfolio, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	p, err := s.owned(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	if err := s.store.RenamePortfolio(ctx, p.ID, name); err != nil {
		return nil, translate(err)
	}
	p.Name = name
	return p, nil
}

// DeletePortfolio removes the portfolio and its positions.
func (s *Service) DeletePortfolio(ctx context.Context, userID, portfolioID string) error {
	if _, err := s.owned(ctx, userID, portfolioID); err != nil {
		return err
	}
	if err := s.store.DeletePortfolio(ctx, portfolioID); err != nil {
		return translate(err)
	}
	s.log.Info().Str("user_id", userID).Str("portfolio_id", portfolioID).Msg("portfolio deleted")
	return nil
}

// Distribution analyzes the country and sector mix of the portfolio.
func (s *Service) Distribution(ctx context.Context, userID, portfolioID string) (*model.Distribution, error) {
	if _, err := s.owned(ctx, userID, portfolioID); err != nil {
		return nil, err
	}
	dist, err := s.analyzer.Analyze(ctx, portfolioID)
	if err != nil {
		return nil, translate(err)
	}
	return dist, nil
}

// --- Positions ---

// BuyAsset records a buy of symbol. The asset is created on the first buy
// of the symbol anywhere, from the provider's quote.
func (s *Service) BuyAsset(ctx context.Context, userID, portfolioID, symbol string, count, buyPrice, orderFee decimal.Decimal) (*model.ElementWithAsset, error) {
	if err := ledger.ValidateBuy(count, buyPrice, orderFee); err != nil {
		return nil, err
	}
	sym, err := ticker.Parse(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := s.owned(ctx, userID, portfolioID); err != nil {
		return nil, err
	}

	asset, err := s.resolveAsset(ctx, sym.Ticker)
	if err != nil {
		return nil, err
	}

	e, err := s.ledger.AddPosition(ctx, portfolioID, asset.ID, count, buyPrice, orderFee)
	if err != nil {
		return nil, translate(err)
	}
	return &model.ElementWithAsset{PortfolioElement: *e, Asset: asset}, nil
}

// SellAsset records a sell of count units of symbol.
func (s *Service) SellAsset(ctx context.Context, userID, portfolioID, symbol string, count decimal.Decimal) (*ledger.Outcome, error) {
	sym, err := ticker.Parse(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := s.owned(ctx, userID, portfolioID); err != nil {
		return nil, err
	}

	asset, err := s.store.GetAssetByTicker(ctx, sym.Ticker)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no position in %s", ErrNotFound, sym.Ticker)
		}
		return nil, err
	}

	out, err := s.ledger.ReducePosition(ctx, portfolioID, asset.ID, count)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Service) GetElement(ctx context.Context, userID, portfolioID, elementID string) (*model.ElementWithAsset, error) {
	if _, err := s.owned(ctx, userID, portfolioID); err != nil {
		return nil, err
	}
	e, err := s.store.GetElementByID(ctx, portfolioID, elementID)
	if err != nil {
		return nil, translate(err)
	}
	asset, err := s.store.GetAsset(ctx, e.AssetID)
	if err != nil {
		return nil, err
	}
	return &model.ElementWithAsset{PortfolioElement: *e, Asset: asset}, nil
}

func (s *Service) UpdateElement(ctx context.Context, userID, portfolioID, elementID string, u ledger.ElementUpdate) (*ledger.Outcome, error) {
	if _, err := s.owned(ctx, userID, portfolioID); err != nil {
		return nil, err
	}
	out, err := s.ledger.UpdatePosition(ctx, portfolioID, elementID, u)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Service) DeleteElement(ctx context.Context, userID, portfolioID, elementID string) error {
	if _, err := s.owned(ctx, userID, portfolioID); err != nil {
		return err
	}
	if err := s.ledger.RemovePosition(ctx, portfolioID, elementID); err != nil {
		return translate(err)
	}
	return nil
}

// --- Helpers ---

// owned loads the portfolio and checks that userID owns it.
func (s *Service) owned(ctx context.Context, userID, portfolioID string) (*model.Portfolio, error) {
	p, err := s.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, translate(err)
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, portfolioID)
	}
	return p, nil
}

// resolveAsset returns the stored asset for symbol, creating it from the
// provider's quote when the symbol has never been bought.
func (s *Service) resolveAsset(ctx context.Context, symbol string) (*model.Asset, error) {
	asset, err := s.store.GetAssetByTicker(ctx, symbol)
	if err == nil {
		return asset, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	q, err := s.quotes.Quote(ctx, symbol)
	if errors.Is(err, marketdata.ErrTickerNotFound) {
		// Unknown symbols are rejected as input.
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err != nil {
		return nil, err
	}
	if !model.SupportedQuoteType(q.QuoteType) {
		return nil, fmt.Errorf("%w: %s is %q", ErrUnsupportedAsset, symbol, q.QuoteType)
	}
	assetType, err := s.store.GetAssetTypeByQuoteType(ctx, q.QuoteType)
	if err != nil {
		return nil, fmt.Errorf("asset type %s: %w", q.QuoteType, err)
	}

	asset = &model.Asset{
		ID:              uuid.New().String(),
		Name:            q.Name(),
		TickerSymbol:    symbol,
		DefaultCurrency: q.Currency,
		AssetTypeID:     assetType.ID,
	}
	if q.ISIN != "" {
		isin := q.ISIN
		asset.ISIN = &isin
	}

	err = s.store.CreateAsset(ctx, asset)
	if errors.Is(err, store.ErrDuplicate) {
		// Either a concurrent first buy of the symbol won, or the ISIN
		// belongs to a listing of the same security on another exchange.
		if existing, lookupErr := s.store.GetAssetByTicker(ctx, symbol); lookupErr == nil {
			return existing, nil
		}
		asset.ISIN = nil
		err = s.store.CreateAsset(ctx, asset)
	}
	if err != nil {
		return nil, err
	}

	metrics.AssetsCreated.Inc()
	s.log.Info().
		Str("ticker", symbol).
		Str("asset_id", asset.ID).
		Str("quote_type", q.QuoteType).
		Msg("asset created")
	return asset, nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	return name, nil
}

// translate maps store sentinels to portfolio sentinels. Other errors pass
// through unchanged.
func translate(err error) error {
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
