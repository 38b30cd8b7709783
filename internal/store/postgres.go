package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/folio-labs/portfolio-service/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Counts and prices are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			err = mapError(commitErr, "commit transaction")
		}
	}()

	return fn(&PostgresStore{pool: s.pool, db: tx, inTx: true})
}

// mapError translates driver errors into the package sentinels.
func mapError(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if pgErr.ConstraintName == "portfolio_elements_pair_key" {
				return fmt.Errorf("%w: %s", ErrConflict, what)
			}
			return fmt.Errorf("%w: %s", ErrDuplicate, what)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s: %s", ErrNotFound, what, pgErr.ConstraintName)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrConflict, what)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func expectRow(tag pgconn.CommandTag, what string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return nil
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return mapError(err, "create user "+u.Email)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err, "get user "+id)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err, "get user by email "+email)
	}
	return &u, nil
}

// DeleteUser relies on ON DELETE CASCADE for portfolios and their elements.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "delete user "+id)
	}
	return expectRow(tag, "user "+id)
}

// --- Portfolios ---

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO portfolios (id, name, user_id, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.UserID, p.CreatedAt)
	if err != nil {
		return mapError(err, fmt.Sprintf("create portfolio %q", p.Name))
	}
	return nil
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	var p model.Portfolio
	err := s.db.QueryRow(ctx,
		`SELECT id, name, user_id, created_at FROM portfolios WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.UserID, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err, "get portfolio "+id)
	}
	return &p, nil
}

func (s *PostgresStore) GetPortfolioByName(ctx context.Context, userID, name string) (*model.Portfolio, error) {
	var p model.Portfolio
	err := s.db.QueryRow(ctx,
		`SELECT id, name, user_id, created_at FROM portfolios WHERE user_id = $1 AND name = $2`,
		userID, name).
		Scan(&p.ID, &p.Name, &p.UserID, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("get portfolio %q", name))
	}
	return &p, nil
}

func (s *PostgresStore) ListPortfoliosByUser(ctx context.Context, userID string) ([]model.Portfolio, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, user_id, created_at FROM portfolios
		 WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, mapError(err, "list portfolios")
	}
	defer rows.Close()

	portfolios := make([]model.Portfolio, 0)
	for rows.Next() {
		var p model.Portfolio
		if err := rows.Scan(&p.ID, &p.Name, &p.UserID, &p.CreatedAt); err != nil {
			return nil, err
		}
		portfolios = append(portfolios, p)
	}
	return portfolios, rows.Err()
}

func (s *PostgresStore) RenamePortfolio(ctx context.Context, id, name string) error {
	tag, err := s.db.Exec(ctx, `UPDATE portfolios SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return mapError(err, fmt.Sprintf("rename portfolio %s to %q", id, name))
	}
	return expectRow(tag, "portfolio "+id)
}

// DeletePortfolio relies on ON DELETE CASCADE for the elements. Assets are
// referenced, not owned, and stay.
func (s *PostgresStore) DeletePortfolio(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM portfolios WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "delete portfolio "+id)
	}
	return expectRow(tag, "portfolio "+id)
}

// --- Portfolio elements ---

const elementColumns = `id, portfolio_id, asset_id, count::TEXT, buy_price::TEXT, order_fee::TEXT, buy_datetime, updated_at`

func (s *PostgresStore) GetElement(ctx context.Context, portfolioID, assetID string) (*model.PortfolioElement, error) {
	query := `SELECT ` + elementColumns + ` FROM portfolio_elements WHERE portfolio_id = $1 AND asset_id = $2`
	if s.inTx {
		query += ` FOR UPDATE`
	}
	e, err := scanElement(s.db.QueryRow(ctx, query, portfolioID, assetID))
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("get element portfolio %s asset %s", portfolioID, assetID))
	}
	return e, nil
}

func (s *PostgresStore) GetElementByID(ctx context.Context, portfolioID, elementID string) (*model.PortfolioElement, error) {
	query := `SELECT ` + elementColumns + ` FROM portfolio_elements WHERE portfolio_id = $1 AND id = $2`
	if s.inTx {
		query += ` FOR UPDATE`
	}
	e, err := scanElement(s.db.QueryRow(ctx, query, portfolioID, elementID))
	if err != nil {
		return nil, mapError(err, "get element "+elementID)
	}
	return e, nil
}

func (s *PostgresStore) ListElements(ctx context.Context, portfolioID string) ([]model.ElementWithAsset, error) {
	rows, err := s.db.Query(ctx,
		`SELECT pe.id, pe.portfolio_id, pe.asset_id, pe.count::TEXT, pe.buy_price::TEXT, pe.order_fee::TEXT,
		        pe.buy_datetime, pe.updated_at,
		        a.id, a.name, a.ticker_symbol, a.isin, a.default_currency, a.asset_type_id
		 FROM portfolio_elements pe
		 JOIN assets a ON a.id = pe.asset_id
		 WHERE pe.portfolio_id = $1
		 ORDER BY pe.buy_datetime`, portfolioID)
	if err != nil {
		return nil, mapError(err, "list elements")
	}
	defer rows.Close()

	elements := make([]model.ElementWithAsset, 0)
	for rows.Next() {
		var e model.ElementWithAsset
		var a model.Asset
		var countS, priceS, feeS string
		if err := rows.Scan(&e.ID, &e.PortfolioID, &e.AssetID, &countS, &priceS, &feeS,
			&e.BuyDatetime, &e.UpdatedAt,
			&a.ID, &a.Name, &a.TickerSymbol, &a.ISIN, &a.DefaultCurrency, &a.AssetTypeID); err != nil {
			return nil, err
		}
		if err := parseDecimals(&e.PortfolioElement, countS, priceS, feeS); err != nil {
			return nil, err
		}
		e.Asset = &a
		elements = append(elements, e)
	}
	return elements, rows.Err()
}

func (s *PostgresStore) InsertElement(ctx context.Context, e *model.PortfolioElement) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO portfolio_elements (id, portfolio_id, asset_id, count, buy_price, order_fee, buy_datetime, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		e.ID, e.PortfolioID, e.AssetID,
		e.Count.String(), e.BuyPrice.String(), e.OrderFee.String(),
		e.BuyDatetime, e.UpdatedAt)
	if err != nil {
		return mapError(err, fmt.Sprintf("insert element portfolio %s asset %s", e.PortfolioID, e.AssetID))
	}
	return nil
}

func (s *PostgresStore) UpdateElement(ctx context.Context, e *model.PortfolioElement) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE portfolio_elements
		 SET count = $2::NUMERIC, buy_price = $3::NUMERIC, order_fee = $4::NUMERIC, updated_at = $5
		 WHERE id = $1`,
		e.ID, e.Count.String(), e.BuyPrice.String(), e.OrderFee.String(), e.UpdatedAt)
	if err != nil {
		return mapError(err, "update element "+e.ID)
	}
	return expectRow(tag, "element "+e.ID)
}

func (s *PostgresStore) DeleteElement(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM portfolio_elements WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "delete element "+id)
	}
	return expectRow(tag, "element "+id)
}

func scanElement(row pgx.Row) (*model.PortfolioElement, error) {
	var e model.PortfolioElement
	var countS, priceS, feeS string
	if err := row.Scan(&e.ID, &e.PortfolioID, &e.AssetID, &countS, &priceS, &feeS,
		&e.BuyDatetime, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if err := parseDecimals(&e, countS, priceS, feeS); err != nil {
		return nil, err
	}
	return &e, nil
}

func parseDecimals(e *model.PortfolioElement, countS, priceS, feeS string) error {
	var err error
	if e.Count, err = decimal.NewFromString(countS); err != nil {
		return fmt.Errorf("parse count %q: %w", countS, err)
	}
	if e.BuyPrice, err = decimal.NewFromString(priceS); err != nil {
		return fmt.Errorf("parse buy_price %q: %w", priceS, err)
	}
	if e.OrderFee, err = decimal.NewFromString(feeS); err != nil {
		return fmt.Errorf("parse order_fee %q: %w", feeS, err)
	}
	return nil
}

// --- Assets ---

func (s *PostgresStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO assets (id, name, ticker_symbol, isin, default_currency, asset_type_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Name, a.TickerSymbol, a.ISIN, a.DefaultCurrency, a.AssetTypeID)
	if err != nil {
		return mapError(err, "create asset "+a.TickerSymbol)
	}
	return nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var a model.Asset
	err := s.db.QueryRow(ctx,
		`SELECT id, name, ticker_symbol, isin, default_currency, asset_type_id FROM assets WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.TickerSymbol, &a.ISIN, &a.DefaultCurrency, &a.AssetTypeID)
	if err != nil {
		return nil, mapError(err, "get asset "+id)
	}
	return &a, nil
}

func (s *PostgresStore) GetAssetByTicker(ctx context.Context, ticker string) (*model.Asset, error) {
	var a model.Asset
	err := s.db.QueryRow(ctx,
		`SELECT id, name, ticker_symbol, isin, default_currency, asset_type_id FROM assets WHERE ticker_symbol = $1`, ticker).
		Scan(&a.ID, &a.Name, &a.TickerSymbol, &a.ISIN, &a.DefaultCurrency, &a.AssetTypeID)
	if err != nil {
		return nil, mapError(err, "get asset by ticker "+ticker)
	}
	return &a, nil
}

func (s *PostgresStore) ListTickersOfPortfolio(ctx context.Context, portfolioID string) ([]string, error) {
	if _, err := s.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT a.ticker_symbol
		 FROM assets a
		 JOIN portfolio_elements pe ON pe.asset_id = a.id
		 WHERE pe.portfolio_id = $1
		 ORDER BY a.ticker_symbol`, portfolioID)
	if err != nil {
		return nil, mapError(err, "list tickers of portfolio "+portfolioID)
	}
	defer rows.Close()

	tickers := make([]string, 0)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// --- Asset types ---

func (s *PostgresStore) EnsureAssetTypes(ctx context.Context, types []model.AssetType) error {
	for _, t := range types {
		id := t.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := s.db.Exec(ctx,
			`INSERT INTO asset_types (id, name, quote_type, unit_type) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (quote_type) DO NOTHING`,
			id, t.Name, t.QuoteType, t.UnitType)
		if err != nil {
			return mapError(err, "ensure asset type "+t.QuoteType)
		}
	}
	return nil
}

func (s *PostgresStore) GetAssetTypeByQuoteType(ctx context.Context, quoteType string) (*model.AssetType, error) {
	var t model.AssetType
	err := s.db.QueryRow(ctx,
		`SELECT id, name, quote_type, unit_type FROM asset_types WHERE quote_type = $1`, quoteType).
		Scan(&t.ID, &t.Name, &t.QuoteType, &t.UnitType)
	if err != nil {
		return nil, mapError(err, "get asset type "+quoteType)
	}
	return &t, nil
}

func (s *PostgresStore) ListAssetTypes(ctx context.Context) ([]model.AssetType, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, quote_type, unit_type FROM asset_types ORDER BY name`)
	if err != nil {
		return nil, mapError(err, "list asset types")
	}
	defer rows.Close()

	types := make([]model.AssetType, 0)
	for rows.Next() {
		var t model.AssetType
		if err := rows.Scan(&t.ID, &t.Name, &t.QuoteType, &t.UnitType); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
