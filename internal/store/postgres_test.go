package store_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-labs/portfolio-service/internal/model"
	"github.com/folio-labs/portfolio-service/internal/store"
)

// newPostgresStore connects to TEST_DATABASE_URL and skips the test when it
// is not set. Every test works on fresh random ids so runs do not collide.
func newPostgresStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ps := store.NewPostgresStore(pool)
	require.NoError(t, ps.Migrate(ctx))
	return ps
}

func seedPostgres(t *testing.T, ps *store.PostgresStore) (*model.Portfolio, *model.Asset) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, ps.EnsureAssetTypes(ctx, model.DefaultAssetTypes))
	equity, err := ps.GetAssetTypeByQuoteType(ctx, "EQUITY")
	require.NoError(t, err)

	u := &model.User{ID: uuid.NewString(), Email: uuid.NewString() + "@example.com", PasswordHash: "x"}
	require.NoError(t, ps.CreateUser(ctx, u))
	t.Cleanup(func() { _ = ps.DeleteUser(context.Background(), u.ID) })

	p := &model.Portfolio{ID: uuid.NewString(), Name: "Main", UserID: u.ID}
	require.NoError(t, ps.CreatePortfolio(ctx, p))

	a := &model.Asset{
		ID:              uuid.NewString(),
		Name:            "Test Asset",
		TickerSymbol:    "T" + uuid.NewString()[:8],
		DefaultCurrency: "USD",
		AssetTypeID:     equity.ID,
	}
	require.NoError(t, ps.CreateAsset(ctx, a))
	return p, a
}

func TestPostgresStore_ElementRoundTripKeepsPrecision(t *testing.T) {
	ctx := context.Background()
	ps := newPostgresStore(t)
	p, a := seedPostgres(t, ps)

	e := element(uuid.NewString(), p.ID, a.ID)
	e.Count = d("0.12345678")
	e.BuyPrice = d("64123.45")
	require.NoError(t, ps.InsertElement(ctx, e))

	got, err := ps.GetElement(ctx, p.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Count.Equal(e.Count), "count %s", got.Count)
	assert.True(t, got.BuyPrice.Equal(e.BuyPrice), "buy_price %s", got.BuyPrice)

	err = ps.InsertElement(ctx, element(uuid.NewString(), p.ID, a.ID))
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestPostgresStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	ps := newPostgresStore(t)
	p, a := seedPostgres(t, ps)

	boom := errors.New("boom")
	err := ps.WithTx(ctx, func(tx store.Store) error {
		if err := tx.InsertElement(ctx, element(uuid.NewString(), p.ID, a.ID)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = ps.GetElement(ctx, p.ID, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresStore_DeletePortfolioCascades(t *testing.T) {
	ctx := context.Background()
	ps := newPostgresStore(t)
	p, a := seedPostgres(t, ps)
	e := element(uuid.NewString(), p.ID, a.ID)
	require.NoError(t, ps.InsertElement(ctx, e))

	tickers, err := ps.ListTickersOfPortfolio(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.TickerSymbol}, tickers)

	require.NoError(t, ps.DeletePortfolio(ctx, p.ID))
	_, err = ps.GetElementByID(ctx, p.ID, e.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = ps.GetAsset(ctx, a.ID)
	assert.NoError(t, err)
}
