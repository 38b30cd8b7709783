package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folio-labs/portfolio-service/internal/metrics"
	"github.com/folio-labs/portfolio-service/internal/model"
	"github.com/folio-labs/portfolio-service/internal/store"
)

// Ledger applies buys, sells and edits to positions. Every mutation runs in
// one store transaction, with the element row locked for the
// read-modify-write, so concurrent writers to the same (portfolio, asset)
// pair serialize while different pairs proceed independently.
type Ledger struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a ledger over st.
func New(st store.Store, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: st,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Outcome is the result of a mutation that may close the position. When
// Deleted is true, Element holds the last state before deletion.
type Outcome struct {
	Element *model.PortfolioElement `json:"element"`
	Deleted bool                    `json:"deleted"`
}

// AddPosition records a buy. The first buy of an asset in a portfolio
// creates the position; later buys merge into it.
func (l *Ledger) AddPosition(ctx context.Context, portfolioID, assetID string, count, buyPrice, orderFee decimal.Decimal) (*model.PortfolioElement, error) {
	if err := ValidateBuy(count, buyPrice, orderFee); err != nil {
		metrics.LedgerMutations.WithLabelValues("add", "invalid").Inc()
		return nil, err
	}

	start := time.Now()
	var result model.PortfolioElement
	var merged bool

	err := l.store.WithTx(ctx, func(tx store.Store) error {
		now := l.now()
		existing, err := tx.GetElement(ctx, portfolioID, assetID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			result = model.PortfolioElement{
				ID:          uuid.New().String(),
				PortfolioID: portfolioID,
				AssetID:     assetID,
				Count:       count,
				BuyPrice:    buyPrice,
				OrderFee:    orderFee,
				BuyDatetime: now,
				UpdatedAt:   now,
			}
			return tx.InsertElement(ctx, &result)
		case err != nil:
			return err
		}

		result = Merge(*existing, count, buyPrice, orderFee)
		result.UpdatedAt = now
		merged = true
		return tx.UpdateElement(ctx, &result)
	})
	l.observe("add", start, err)
	if err != nil {
		return nil, fmt.Errorf("add position: %w", err)
	}

	l.log.Info().
		Str("portfolio_id", portfolioID).
		Str("asset_id", assetID).
		Str("count", count.String()).
		Str("buy_price", buyPrice.String()).
		Bool("merged", merged).
		Str("position_count", result.Count.String()).
		Str("avg_buy_price", result.BuyPrice.String()).
		Msg("position added")
	return &result, nil
}

// ReducePosition records a sell of count units. See Reduce for when the
// position closes. A missing position yields ErrNotFound.
func (l *Ledger) ReducePosition(ctx context.Context, portfolioID, assetID string, count decimal.Decimal) (*Outcome, error) {
	start := time.Now()
	var out Outcome

	err := l.store.WithTx(ctx, func(tx store.Store) error {
		existing, err := tx.GetElement(ctx, portfolioID, assetID)
		if err != nil {
			return notFound(err)
		}

		reduced, closed := Reduce(*existing, count)
		out = Outcome{Element: &reduced, Deleted: closed}
		if closed {
			return tx.DeleteElement(ctx, existing.ID)
		}
		reduced.UpdatedAt = l.now()
		return tx.UpdateElement(ctx, &reduced)
	})
	l.observe("reduce", start, err)
	if err != nil {
		return nil, fmt.Errorf("reduce position: %w", err)
	}

	l.log.Info().
		Str("portfolio_id", portfolioID).
		Str("asset_id", assetID).
		Str("count", count.String()).
		Bool("closed", out.Deleted).
		Msg("position reduced")
	return &out, nil
}

// UpdatePosition overwrites a position identified by its element id. A
// non-positive count closes it.
func (l *Ledger) UpdatePosition(ctx context.Context, portfolioID, elementID string, u ElementUpdate) (*Outcome, error) {
	if err := u.Validate(); err != nil {
		metrics.LedgerMutations.WithLabelValues("update", "invalid").Inc()
		return nil, err
	}

	start := time.Now()
	var out Outcome

	err := l.store.WithTx(ctx, func(tx store.Store) error {
		existing, err := tx.GetElementByID(ctx, portfolioID, elementID)
		if err != nil {
			return notFound(err)
		}

		updated, closed := u.Apply(*existing)
		out = Outcome{Element: &updated, Deleted: closed}
		if closed {
			return tx.DeleteElement(ctx, existing.ID)
		}
		updated.UpdatedAt = l.now()
		return tx.UpdateElement(ctx, &updated)
	})
	l.observe("update", start, err)
	if err != nil {
		return nil, fmt.Errorf("update position: %w", err)
	}

	l.log.Info().
		Str("portfolio_id", portfolioID).
		Str("element_id", elementID).
		Bool("closed", out.Deleted).
		Msg("position updated")
	return &out, nil
}

// RemovePosition deletes a position regardless of its count.
func (l *Ledger) RemovePosition(ctx context.Context, portfolioID, elementID string) error {
	start := time.Now()
	err := l.store.WithTx(ctx, func(tx store.Store) error {
		existing, err := tx.GetElementByID(ctx, portfolioID, elementID)
		if err != nil {
			return notFound(err)
		}
		return tx.DeleteElement(ctx, existing.ID)
	})
	l.observe("remove", start, err)
	if err != nil {
		return fmt.Errorf("remove position: %w", err)
	}

	l.log.Info().
		Str("portfolio_id", portfolioID).
		Str("element_id", elementID).
		Msg("position removed")
	return nil
}

func (l *Ledger) observe(op string, start time.Time, err error) {
	metrics.LedgerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.LedgerMutations.WithLabelValues(op, metrics.Outcome(err)).Inc()
	if err != nil && !errors.Is(err, ErrNotFound) {
		l.log.Warn().Err(err).Str("op", op).Msg("ledger mutation failed")
	}
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
