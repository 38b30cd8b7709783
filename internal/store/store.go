// Package store defines the persistence interface for the portfolio service.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for reference data), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/folio-labs/portfolio-service/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique business key already exists
	// (user email, portfolio name per user, asset ticker).
	ErrDuplicate = errors.New("store: duplicate")

	// ErrConflict is returned when a concurrent mutation collided with this
	// one. Callers may retry the whole operation.
	ErrConflict = errors.New("store: conflicting concurrent update")
)

// Store is the persistence interface. Every method participates in the
// ambient transaction when called on the Store handed to WithTx.
type Store interface {
	// WithTx runs fn inside one transaction. fn receives a Store bound to
	// the transaction. The transaction commits when fn returns nil and is
	// rolled back on error or panic. Nested calls reuse the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// --- Users ---

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// DeleteUser removes the user, its portfolios and their elements.
	DeleteUser(ctx context.Context, id string) error

	// --- Portfolios ---

	CreatePortfolio(ctx context.Context, p *model.Portfolio) error
	GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error)
	GetPortfolioByName(ctx context.Context, userID, name string) (*model.Portfolio, error)
	ListPortfoliosByUser(ctx context.Context, userID string) ([]model.Portfolio, error)
	RenamePortfolio(ctx context.Context, id, name string) error
	// DeletePortfolio removes the portfolio and cascades to its elements.
	// Assets are never deleted.
	DeletePortfolio(ctx context.Context, id string) error

	// --- Portfolio elements ---

	// GetElement looks up the element for the composite key. Inside a
	// transaction the row is locked until commit.
	GetElement(ctx context.Context, portfolioID, assetID string) (*model.PortfolioElement, error)
	GetElementByID(ctx context.Context, portfolioID, elementID string) (*model.PortfolioElement, error)
	ListElements(ctx context.Context, portfolioID string) ([]model.ElementWithAsset, error)
	InsertElement(ctx context.Context, e *model.PortfolioElement) error
	UpdateElement(ctx context.Context, e *model.PortfolioElement) error
	DeleteElement(ctx context.Context, id string) error

	// --- Assets ---

	CreateAsset(ctx context.Context, a *model.Asset) error
	GetAsset(ctx context.Context, id string) (*model.Asset, error)
	GetAssetByTicker(ctx context.Context, ticker string) (*model.Asset, error)
	// ListTickersOfPortfolio returns the distinct ticker symbols held.
	ListTickersOfPortfolio(ctx context.Context, portfolioID string) ([]string, error)

	// --- Asset types ---

	// EnsureAssetTypes inserts any missing types, matched by quote type.
	EnsureAssetTypes(ctx context.Context, types []model.AssetType) error
	GetAssetTypeByQuoteType(ctx context.Context, quoteType string) (*model.AssetType, error)
	ListAssetTypes(ctx context.Context) ([]model.AssetType, error)
}
