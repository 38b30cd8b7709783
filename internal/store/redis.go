package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/folio-labs/portfolio-service/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for reference data: assets and asset types. Portfolio data and user
// data always go to the primary. Market data never reaches this layer.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// WithTx runs fn on the primary's transaction, still served through the
// cache. Cache entries written inside a transaction that later rolls back
// are dropped on the next write to the same key.
func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.Store.WithTx(ctx, func(tx Store) error {
		return fn(&CachedStore{Store: tx, rdb: s.rdb, ttl: s.ttl})
	})
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	if err := s.Store.CreateAsset(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, tickerKey(a.TickerSymbol), assetKey(a.ID))
	return nil
}

func (s *CachedStore) EnsureAssetTypes(ctx context.Context, types []model.AssetType) error {
	if err := s.Store.EnsureAssetTypes(ctx, types); err != nil {
		return err
	}
	keys := []string{assetTypesKey}
	for _, t := range types {
		keys = append(keys, assetTypeKey(t.QuoteType))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var a model.Asset
	if s.load(ctx, assetKey(id), &a) {
		return &a, nil
	}

	got, err := s.Store.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheAsset(ctx, got)
	return got, nil
}

func (s *CachedStore) GetAssetByTicker(ctx context.Context, ticker string) (*model.Asset, error) {
	// Ticker → asset ID mapping, then the asset itself.
	id, err := s.rdb.Get(ctx, tickerKey(ticker)).Result()
	if err == nil {
		return s.GetAsset(ctx, id)
	}

	a, err := s.Store.GetAssetByTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}
	s.cacheAsset(ctx, a)
	s.rdb.Set(ctx, tickerKey(ticker), a.ID, s.ttl)
	return a, nil
}

func (s *CachedStore) GetAssetTypeByQuoteType(ctx context.Context, quoteType string) (*model.AssetType, error) {
	var t model.AssetType
	if s.load(ctx, assetTypeKey(quoteType), &t) {
		return &t, nil
	}

	got, err := s.Store.GetAssetTypeByQuoteType(ctx, quoteType)
	if err != nil {
		return nil, err
	}
	s.save(ctx, assetTypeKey(quoteType), got)
	return got, nil
}

func (s *CachedStore) ListAssetTypes(ctx context.Context) ([]model.AssetType, error) {
	var types []model.AssetType
	if s.load(ctx, assetTypesKey, &types) {
		return types, nil
	}

	types, err := s.Store.ListAssetTypes(ctx)
	if err != nil {
		return nil, err
	}
	s.save(ctx, assetTypesKey, types)
	return types, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheAsset(ctx context.Context, a *model.Asset) {
	s.save(ctx, assetKey(a.ID), a)
}

func (s *CachedStore) load(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) save(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const assetTypesKey = "asset_types"

func assetKey(id string) string     { return fmt.Sprintf("asset:%s", id) }
func tickerKey(t string) string     { return fmt.Sprintf("ticker:%s", t) }
func assetTypeKey(qt string) string { return fmt.Sprintf("asset_type:%s", qt) }

var _ Store = (*CachedStore)(nil)
