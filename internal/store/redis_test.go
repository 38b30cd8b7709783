package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-labs/portfolio-service/internal/model"
	"github.com/folio-labs/portfolio-service/internal/store"
)

func newCachedStore(t *testing.T) (*store.CachedStore, *store.MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	primary := store.NewMemoryStore()
	return store.NewCachedStore(primary, rdb, time.Minute), primary, mr
}

func TestCachedStore_AssetByTickerIsCached(t *testing.T) {
	ctx := context.Background()
	cs, _, mr := newCachedStore(t)
	_, _, a := seed(t, cs)

	got, err := cs.GetAssetByTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	assert.True(t, mr.Exists("ticker:AAPL"))
	assert.True(t, mr.Exists("asset:"+a.ID))
	id, err := mr.Get("ticker:AAPL")
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
}

func TestCachedStore_ServesFromCache(t *testing.T) {
	ctx := context.Background()
	cs, _, mr := newCachedStore(t)
	seed(t, cs)

	_, err := cs.GetAssetByTicker(ctx, "AAPL")
	require.NoError(t, err)

	// Rewrite the cached entry; a cache hit must return it verbatim.
	require.NoError(t, mr.Set("asset:a1", `{"id":"a1","name":"Cached Apple","ticker_symbol":"AAPL"}`))

	got, err := cs.GetAssetByTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Cached Apple", got.Name)
}

func TestCachedStore_MissDoesNotCacheNotFound(t *testing.T) {
	ctx := context.Background()
	cs, _, mr := newCachedStore(t)

	_, err := cs.GetAssetByTicker(ctx, "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, mr.Exists("ticker:NOPE"))
}

func TestCachedStore_AssetTypes(t *testing.T) {
	ctx := context.Background()
	cs, _, mr := newCachedStore(t)
	require.NoError(t, cs.EnsureAssetTypes(ctx, model.DefaultAssetTypes))

	types, err := cs.ListAssetTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, len(model.DefaultAssetTypes))
	assert.True(t, mr.Exists("asset_types"))

	etf, err := cs.GetAssetTypeByQuoteType(ctx, "ETF")
	require.NoError(t, err)
	assert.Equal(t, "ETFs", etf.Name)
	assert.True(t, mr.Exists("asset_type:ETF"))

	// Seeding again invalidates the list.
	require.NoError(t, cs.EnsureAssetTypes(ctx, model.DefaultAssetTypes))
	assert.False(t, mr.Exists("asset_types"))
	assert.False(t, mr.Exists("asset_type:ETF"))
}

func TestCachedStore_TransactionsReachPrimary(t *testing.T) {
	ctx := context.Background()
	cs, primary, _ := newCachedStore(t)
	_, p, a := seed(t, cs)

	err := cs.WithTx(ctx, func(tx store.Store) error {
		return tx.InsertElement(ctx, element("e1", p.ID, a.ID))
	})
	require.NoError(t, err)

	_, err = primary.GetElement(ctx, p.ID, a.ID)
	assert.NoError(t, err)
}

func TestCachedStore_PortfolioDataPassesThrough(t *testing.T) {
	ctx := context.Background()
	cs, _, mr := newCachedStore(t)
	u, _, _ := seed(t, cs)

	portfolios, err := cs.ListPortfoliosByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, portfolios, 1)

	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "portfolio")
	}
}
