package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/folio-labs/portfolio-service/internal/model"
)

// MemoryStore implements Store with in-memory maps keyed by id. Used for
// testing and development. Not suitable for production (no persistence).
//
// Transactions take the write lock for their whole duration and work on a
// copy of the state which replaces the live state only on commit.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memState struct {
	users      map[string]model.User
	portfolios map[string]model.Portfolio
	elements   map[string]model.PortfolioElement
	assets     map[string]model.Asset
	assetTypes map[string]model.AssetType
}

func newMemState() *memState {
	return &memState{
		users:      make(map[string]model.User),
		portfolios: make(map[string]model.Portfolio),
		elements:   make(map[string]model.PortfolioElement),
		assets:     make(map[string]model.Asset),
		assetTypes: make(map[string]model.AssetType),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.portfolios {
		c.portfolios[k] = v
	}
	for k, v := range s.elements {
		c.elements[k] = v
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.assetTypes {
		c.assetTypes[k] = v
	}
	return c
}

func (s *MemoryStore) read(fn func(st *memState) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *MemoryStore) write(fn func(st *memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone()}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in transaction: %v", p)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	return s.write(func(st *memState) error { return st.createUser(u) })
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (u *model.User, err error) {
	err = s.read(func(st *memState) error { u, err = st.getUser(id); return err })
	return u, err
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (u *model.User, err error) {
	err = s.read(func(st *memState) error { u, err = st.getUserByEmail(email); return err })
	return u, err
}

func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	return s.write(func(st *memState) error { return st.deleteUser(id) })
}

// --- Portfolios ---

func (s *MemoryStore) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	return s.write(func(st *memState) error { return st.createPortfolio(p) })
}

func (s *MemoryStore) GetPortfolio(_ context.Context, id string) (p *model.Portfolio, err error) {
	err = s.read(func(st *memState) error { p, err = st.getPortfolio(id); return err })
	return p, err
}

func (s *MemoryStore) GetPortfolioByName(_ context.Context, userID, name string) (p *model.Portfolio, err error) {
	err = s.read(func(st *memState) error { p, err = st.getPortfolioByName(userID, name); return err })
	return p, err
}

func (s *MemoryStore) ListPortfoliosByUser(_ context.Context, userID string) (ps []model.Portfolio, err error) {
	err = s.read(func(st *memState) error { ps = st.listPortfoliosByUser(userID); return nil })
	return ps, err
}

func (s *MemoryStore) RenamePortfolio(_ context.Context, id, name string) error {
	return s.write(func(st *memState) error { return st.renamePortfolio(id, name) })
}

func (s *MemoryStore) DeletePortfolio(_ context.Context, id string) error {
	return s.write(func(st *memState) error { return st.deletePortfolio(id) })
}

// --- Elements ---

func (s *MemoryStore) GetElement(_ context.Context, portfolioID, assetID string) (e *model.PortfolioElement, err error) {
	err = s.read(func(st *memState) error { e, err = st.getElement(portfolioID, assetID); return err })
	return e, err
}

func (s *MemoryStore) GetElementByID(_ context.Context, portfolioID, elementID string) (e *model.PortfolioElement, err error) {
	err = s.read(func(st *memState) error { e, err = st.getElementByID(portfolioID, elementID); return err })
	return e, err
}

func (s *MemoryStore) ListElements(_ context.Context, portfolioID string) (es []model.ElementWithAsset, err error) {
	err = s.read(func(st *memState) error { es = st.listElements(portfolioID); return nil })
	return es, err
}

func (s *MemoryStore) InsertElement(_ context.Context, e *model.PortfolioElement) error {
	return s.write(func(st *memState) error { return st.insertElement(e) })
}

func (s *MemoryStore) UpdateElement(_ context.Context, e *model.PortfolioElement) error {
	return s.write(func(st *memState) error { return st.updateElement(e) })
}

func (s *MemoryStore) DeleteElement(_ context.Context, id string) error {
	return s.write(func(st *memState) error { return st.deleteElement(id) })
}

// --- Assets ---

func (s *MemoryStore) CreateAsset(_ context.Context, a *model.Asset) error {
	return s.write(func(st *memState) error { return st.createAsset(a) })
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (a *model.Asset, err error) {
	err = s.read(func(st *memState) error { a, err = st.getAsset(id); return err })
	return a, err
}

func (s *MemoryStore) GetAssetByTicker(_ context.Context, ticker string) (a *model.Asset, err error) {
	err = s.read(func(st *memState) error { a, err = st.getAssetByTicker(ticker); return err })
	return a, err
}

func (s *MemoryStore) ListTickersOfPortfolio(_ context.Context, portfolioID string) (ts []string, err error) {
	err = s.read(func(st *memState) error { ts, err = st.listTickersOfPortfolio(portfolioID); return err })
	return ts, err
}

// --- Asset types ---

func (s *MemoryStore) EnsureAssetTypes(_ context.Context, types []model.AssetType) error {
	return s.write(func(st *memState) error { st.ensureAssetTypes(types); return nil })
}

func (s *MemoryStore) GetAssetTypeByQuoteType(_ context.Context, quoteType string) (t *model.AssetType, err error) {
	err = s.read(func(st *memState) error { t, err = st.getAssetTypeByQuoteType(quoteType); return err })
	return t, err
}

func (s *MemoryStore) ListAssetTypes(_ context.Context) (ts []model.AssetType, err error) {
	err = s.read(func(st *memState) error { ts = st.listAssetTypes(); return nil })
	return ts, err
}

// memTx is the Store handed to WithTx callbacks. The owning MemoryStore
// holds the write lock, so no further locking happens here.
type memTx struct {
	state *memState
}

func (t *memTx) WithTx(_ context.Context, fn func(tx Store) error) error { return fn(t) }

func (t *memTx) CreateUser(_ context.Context, u *model.User) error { return t.state.createUser(u) }
func (t *memTx) GetUser(_ context.Context, id string) (*model.User, error) {
	return t.state.getUser(id)
}
func (t *memTx) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return t.state.getUserByEmail(email)
}
func (t *memTx) DeleteUser(_ context.Context, id string) error { return t.state.deleteUser(id) }

func (t *memTx) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	return t.state.createPortfolio(p)
}
func (t *memTx) GetPortfolio(_ context.Context, id string) (*model.Portfolio, error) {
	return t.state.getPortfolio(id)
}
func (t *memTx) GetPortfolioByName(_ context.Context, userID, name string) (*model.Portfolio, error) {
	return t.state.getPortfolioByName(userID, name)
}
func (t *memTx) ListPortfoliosByUser(_ context.Context, userID string) ([]model.Portfolio, error) {
	return t.state.listPortfoliosByUser(userID), nil
}
func (t *memTx) RenamePortfolio(_ context.Context, id, name string) error {
	return t.state.renamePortfolio(id, name)
}
func (t *memTx) DeletePortfolio(_ context.Context, id string) error {
	return t.state.deletePortfolio(id)
}

func (t *memTx) GetElement(_ context.Context, portfolioID, assetID string) (*model.PortfolioElement, error) {
	return t.state.getElement(portfolioID, assetID)
}
func (t *memTx) GetElementByID(_ context.Context, portfolioID, elementID string) (*model.PortfolioElement, error) {
	return t.state.getElementByID(portfolioID, elementID)
}
func (t *memTx) ListElements(_ context.Context, portfolioID string) ([]model.ElementWithAsset, error) {
	return t.state.listElements(portfolioID), nil
}
func (t *memTx) InsertElement(_ context.Context, e *model.PortfolioElement) error {
	return t.state.insertElement(e)
}
func (t *memTx) UpdateElement(_ context.Context, e *model.PortfolioElement) error {
	return t.state.updateElement(e)
}
func (t *memTx) DeleteElement(_ context.Context, id string) error { return t.state.deleteElement(id) }

func (t *memTx) CreateAsset(_ context.Context, a *model.Asset) error { return t.state.createAsset(a) }
func (t *memTx) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	return t.state.getAsset(id)
}
func (t *memTx) GetAssetByTicker(_ context.Context, ticker string) (*model.Asset, error) {
	return t.state.getAssetByTicker(ticker)
}
func (t *memTx) ListTickersOfPortfolio(_ context.Context, portfolioID string) ([]string, error) {
	return t.state.listTickersOfPortfolio(portfolioID)
}

func (t *memTx) EnsureAssetTypes(_ context.Context, types []model.AssetType) error {
	t.state.ensureAssetTypes(types)
	return nil
}
func (t *memTx) GetAssetTypeByQuoteType(_ context.Context, quoteType string) (*model.AssetType, error) {
	return t.state.getAssetTypeByQuoteType(quoteType)
}
func (t *memTx) ListAssetTypes(_ context.Context) ([]model.AssetType, error) {
	return t.state.listAssetTypes(), nil
}

// --- memState operations (caller holds the lock) ---

func (st *memState) createUser(u *model.User) error {
	for _, existing := range st.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: user %s", ErrDuplicate, u.Email)
		}
	}
	st.users[u.ID] = *u
	return nil
}

func (st *memState) getUser(id string) (*model.User, error) {
	u, ok := st.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return &u, nil
}

func (st *memState) getUserByEmail(email string) (*model.User, error) {
	for _, u := range st.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s", ErrNotFound, email)
}

func (st *memState) deleteUser(id string) error {
	if _, ok := st.users[id]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	for pid, p := range st.portfolios {
		if p.UserID == id {
			st.cascadePortfolio(pid)
		}
	}
	delete(st.users, id)
	return nil
}

func (st *memState) createPortfolio(p *model.Portfolio) error {
	if _, ok := st.users[p.UserID]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, p.UserID)
	}
	if _, err := st.getPortfolioByName(p.UserID, p.Name); err == nil {
		return fmt.Errorf("%w: portfolio %q", ErrDuplicate, p.Name)
	}
	st.portfolios[p.ID] = *p
	return nil
}

func (st *memState) getPortfolio(id string) (*model.Portfolio, error) {
	p, ok := st.portfolios[id]
	if !ok {
		return nil, fmt.Errorf("%w: portfolio %s", ErrNotFound, id)
	}
	return &p, nil
}

func (st *memState) getPortfolioByName(userID, name string) (*model.Portfolio, error) {
	for _, p := range st.portfolios {
		if p.UserID == userID && p.Name == name {
			found := p
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: portfolio %q", ErrNotFound, name)
}

func (st *memState) listPortfoliosByUser(userID string) []model.Portfolio {
	portfolios := make([]model.Portfolio, 0)
	for _, p := range st.portfolios {
		if p.UserID == userID {
			portfolios = append(portfolios, p)
		}
	}
	sort.Slice(portfolios, func(i, j int) bool {
		return portfolios[i].CreatedAt.Before(portfolios[j].CreatedAt)
	})
	return portfolios
}

func (st *memState) renamePortfolio(id, name string) error {
	p, ok := st.portfolios[id]
	if !ok {
		return fmt.Errorf("%w: portfolio %s", ErrNotFound, id)
	}
	if other, err := st.getPortfolioByName(p.UserID, name); err == nil && other.ID != id {
		return fmt.Errorf("%w: portfolio %q", ErrDuplicate, name)
	}
	p.Name = name
	st.portfolios[id] = p
	return nil
}

func (st *memState) deletePortfolio(id string) error {
	if _, ok := st.portfolios[id]; !ok {
		return fmt.Errorf("%w: portfolio %s", ErrNotFound, id)
	}
	st.cascadePortfolio(id)
	return nil
}

// cascadePortfolio removes a portfolio and every element it owns.
func (st *memState) cascadePortfolio(id string) {
	for eid, e := range st.elements {
		if e.PortfolioID == id {
			delete(st.elements, eid)
		}
	}
	delete(st.portfolios, id)
}

func (st *memState) getElement(portfolioID, assetID string) (*model.PortfolioElement, error) {
	for _, e := range st.elements {
		if e.PortfolioID == portfolioID && e.AssetID == assetID {
			found := e
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: element for portfolio %s asset %s", ErrNotFound, portfolioID, assetID)
}

func (st *memState) getElementByID(portfolioID, elementID string) (*model.PortfolioElement, error) {
	e, ok := st.elements[elementID]
	if !ok || e.PortfolioID != portfolioID {
		return nil, fmt.Errorf("%w: element %s", ErrNotFound, elementID)
	}
	return &e, nil
}

func (st *memState) listElements(portfolioID string) []model.ElementWithAsset {
	elements := make([]model.ElementWithAsset, 0)
	for _, e := range st.elements {
		if e.PortfolioID != portfolioID {
			continue
		}
		ewa := model.ElementWithAsset{PortfolioElement: e}
		if a, ok := st.assets[e.AssetID]; ok {
			ewa.Asset = &a
		}
		elements = append(elements, ewa)
	}
	sort.Slice(elements, func(i, j int) bool {
		return elements[i].BuyDatetime.Before(elements[j].BuyDatetime)
	})
	return elements
}

func (st *memState) insertElement(e *model.PortfolioElement) error {
	if _, ok := st.portfolios[e.PortfolioID]; !ok {
		return fmt.Errorf("%w: portfolio %s", ErrNotFound, e.PortfolioID)
	}
	if _, ok := st.assets[e.AssetID]; !ok {
		return fmt.Errorf("%w: asset %s", ErrNotFound, e.AssetID)
	}
	if _, err := st.getElement(e.PortfolioID, e.AssetID); err == nil {
		return fmt.Errorf("%w: element for portfolio %s asset %s", ErrConflict, e.PortfolioID, e.AssetID)
	}
	st.elements[e.ID] = *e
	return nil
}

func (st *memState) updateElement(e *model.PortfolioElement) error {
	if _, ok := st.elements[e.ID]; !ok {
		return fmt.Errorf("%w: element %s", ErrNotFound, e.ID)
	}
	st.elements[e.ID] = *e
	return nil
}

func (st *memState) deleteElement(id string) error {
	if _, ok := st.elements[id]; !ok {
		return fmt.Errorf("%w: element %s", ErrNotFound, id)
	}
	delete(st.elements, id)
	return nil
}

func (st *memState) createAsset(a *model.Asset) error {
	for _, existing := range st.assets {
		if existing.TickerSymbol == a.TickerSymbol {
			return fmt.Errorf("%w: asset %s", ErrDuplicate, a.TickerSymbol)
		}
		if a.ISIN != nil && existing.ISIN != nil && *existing.ISIN == *a.ISIN {
			return fmt.Errorf("%w: isin %s", ErrDuplicate, *a.ISIN)
		}
	}
	st.assets[a.ID] = *a
	return nil
}

func (st *memState) getAsset(id string) (*model.Asset, error) {
	a, ok := st.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: asset %s", ErrNotFound, id)
	}
	return &a, nil
}

func (st *memState) getAssetByTicker(ticker string) (*model.Asset, error) {
	for _, a := range st.assets {
		if a.TickerSymbol == ticker {
			found := a
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: asset %s", ErrNotFound, ticker)
}

func (st *memState) listTickersOfPortfolio(portfolioID string) ([]string, error) {
	if _, ok := st.portfolios[portfolioID]; !ok {
		return nil, fmt.Errorf("%w: portfolio %s", ErrNotFound, portfolioID)
	}
	seen := make(map[string]bool)
	tickers := make([]string, 0)
	for _, e := range st.elements {
		if e.PortfolioID != portfolioID {
			continue
		}
		a, ok := st.assets[e.AssetID]
		if !ok || seen[a.TickerSymbol] {
			continue
		}
		seen[a.TickerSymbol] = true
		tickers = append(tickers, a.TickerSymbol)
	}
	sort.Strings(tickers)
	return tickers, nil
}

func (st *memState) ensureAssetTypes(types []model.AssetType) {
	for _, t := range types {
		if _, err := st.getAssetTypeByQuoteType(t.QuoteType); err == nil {
			continue
		}
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		st.assetTypes[t.ID] = t
	}
}

func (st *memState) getAssetTypeByQuoteType(quoteType string) (*model.AssetType, error) {
	for _, t := range st.assetTypes {
		if t.QuoteType == quoteType {
			found := t
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: asset type %s", ErrNotFound, quoteType)
}

func (st *memState) listAssetTypes() []model.AssetType {
	types := make([]model.AssetType, 0, len(st.assetTypes))
	for _, t := range st.assetTypes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*memTx)(nil)
)
