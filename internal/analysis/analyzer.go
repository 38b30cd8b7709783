package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/folio-labs/portfolio-service/internal/metrics"
	"github.com/folio-labs/portfolio-service/internal/model"
)

// TickerSource lists the distinct tickers held in a portfolio.
type TickerSource interface {
	ListTickersOfPortfolio(ctx context.Context, portfolioID string) ([]string, error)
}

// ClassificationSource looks up classification data for one ticker. A nil
// classification with a nil error means the provider has no data.
type ClassificationSource interface {
	Classification(ctx context.Context, ticker string) (*model.Classification, error)
}

// Config bounds the fan-out of one analysis.
type Config struct {
	TickerTimeout time.Duration // per-ticker classification timeout
	Workers       int           // concurrent classification lookups
}

// DefaultConfig returns a five second per-ticker timeout and four workers.
func DefaultConfig() Config {
	return Config{TickerTimeout: 5 * time.Second, Workers: 4}
}

// Analyzer computes portfolio distributions. Classification lookups are
// best-effort: a ticker whose lookup fails, times out or returns nothing is
// skipped. Only failing to list the tickers fails the analysis.
type Analyzer struct {
	tickers TickerSource
	source  ClassificationSource
	cfg     Config
	log     zerolog.Logger
}

// NewAnalyzer creates an analyzer. Zero config fields take their defaults.
func NewAnalyzer(tickers TickerSource, source ClassificationSource, cfg Config, log zerolog.Logger) *Analyzer {
	def := DefaultConfig()
	if cfg.TickerTimeout <= 0 {
		cfg.TickerTimeout = def.TickerTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Analyzer{tickers: tickers, source: source, cfg: cfg, log: log}
}

// Analyze returns the distribution of the portfolio's holdings. The result
// does not depend on the order in which lookups complete.
func (a *Analyzer) Analyze(ctx context.Context, portfolioID string) (*model.Distribution, error) {
	start := time.Now()
	defer func() {
		metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	}()

	tickers, err := a.tickers.ListTickersOfPortfolio(ctx, portfolioID)
	if err != nil {
		metrics.AnalysisRuns.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("list tickers of portfolio %s: %w", portfolioID, err)
	}

	results := make([]*model.Classification, len(tickers))
	var g errgroup.Group
	g.SetLimit(a.cfg.Workers)
	for i, ticker := range tickers {
		g.Go(func() error {
			results[i] = a.classify(ctx, ticker)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		metrics.AnalysisRuns.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	classified := make([]model.Classification, 0, len(tickers))
	skipped := make([]string, 0)
	for i, c := range results {
		if c == nil {
			skipped = append(skipped, tickers[i])
			continue
		}
		classified = append(classified, *c)
	}

	dist := Aggregate(portfolioID, classified)
	dist.Skipped = skipped
	metrics.AnalysisSkippedTickers.Add(float64(len(skipped)))
	metrics.AnalysisRuns.WithLabelValues(metrics.OutcomeOK).Inc()

	if len(tickers) > 0 && dist.Empty() {
		a.log.Warn().
			Str("portfolio_id", portfolioID).
			Strs("skipped", skipped).
			Msg("no ticker could be classified")
	}
	a.log.Debug().
		Str("portfolio_id", portfolioID).
		Int("tickers", len(tickers)).
		Int("classified", dist.Classified).
		Strs("skipped", skipped).
		Dur("took", time.Since(start)).
		Msg("distribution analyzed")
	return &dist, nil
}

// classify fetches one classification under the per-ticker timeout. It
// returns nil when the ticker has to be skipped. The timeout holds even if
// the source ignores its context.
func (a *Analyzer) classify(ctx context.Context, ticker string) *model.Classification {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.TickerTimeout)
	defer cancel()

	type result struct {
		c   *model.Classification
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := a.source.Classification(ctx, ticker)
		done <- result{c, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	if r.err != nil {
		a.log.Warn().Err(r.err).Str("ticker", ticker).Msg("classification unavailable, skipping ticker")
		return nil
	}
	if r.c == nil {
		a.log.Debug().Str("ticker", ticker).Msg("no classification data, skipping ticker")
		return nil
	}
	return r.c
}
