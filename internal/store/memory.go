package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/flipside/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	markets   map[string]*model.Market
	orders    map[string]*model.Order
	positions map[string]*model.Position
	weights   map[string]*model.MarketWeight
	shapes    map[string]*model.CurveShape
	exposure  model.Exposure
	journal   []model.JournalEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		markets:   make(map[string]*model.Market),
		orders:    make(map[string]*model.Order),
		positions: make(map[string]*model.Position),
		weights:   make(map[string]*model.MarketWeight),
		shapes:    make(map[string]*model.CurveShape),
	}
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.Before(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) ListRestingOrders(_ context.Context, marketID string, side model.Side) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.MarketID != marketID || !o.Resting() {
			continue
		}
		if side != "" && o.Side != side {
			continue
		}
		orders = append(orders, *o)
	}
	sortOrdersByAge(orders)
	return orders, nil
}

func (s *MemoryStore) ListRestingOrdersByAccount(_ context.Context, accountID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.AccountID == accountID && o.Resting() {
			orders = append(orders, *o)
		}
	}
	sortOrdersByAge(orders)
	return orders, nil
}

func (s *MemoryStore) ListActivePositions(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.MarketID == marketID && p.Status == model.PositionActive {
			positions = append(positions, *p)
		}
	}
	sortPositionsByAge(positions)
	return positions, nil
}

func (s *MemoryStore) ListActivePositionsByAccount(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.Status != model.PositionActive {
			continue
		}
		if p.YesAccountID == accountID || p.NoAccountID == accountID {
			positions = append(positions, *p)
		}
	}
	sortPositionsByAge(positions)
	return positions, nil
}

func (s *MemoryStore) GetExposure(_ context.Context) (*model.Exposure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copy := s.exposure
	return &copy, nil
}

func (s *MemoryStore) ListWeights(_ context.Context) ([]model.MarketWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	weights := make([]model.MarketWeight, 0, len(s.weights))
	for _, w := range s.weights {
		weights = append(weights, *w)
	}
	sort.Slice(weights, func(i, j int) bool {
		return weights[i].MarketID < weights[j].MarketID
	})
	return weights, nil
}

func (s *MemoryStore) GetShape(_ context.Context, id string) (*model.CurveShape, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.shapes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyShape(sh), nil
}

func (s *MemoryStore) GetDefaultShape(_ context.Context) (*model.CurveShape, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sh := range s.shapes {
		if sh.IsDefault {
			return copyShape(sh), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListJournal(_ context.Context, accountID string) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.JournalEntry
	for _, e := range s.journal {
		if e.AccountID == accountID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Apply commits the change set under one lock acquisition, so concurrent
// readers observe either all of it or none of it.
func (s *MemoryStore) Apply(_ context.Context, cs *ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range cs.Accounts {
		a := cs.Accounts[i]
		s.accounts[a.ID] = &a
	}
	for i := range cs.Markets {
		m := cs.Markets[i]
		s.markets[m.ID] = &m
	}
	for i := range cs.Orders {
		o := cs.Orders[i]
		s.orders[o.ID] = &o
	}
	for i := range cs.Positions {
		p := cs.Positions[i]
		s.positions[p.ID] = &p
	}
	for i := range cs.Weights {
		w := cs.Weights[i]
		s.weights[w.MarketID] = &w
	}
	for i := range cs.Shapes {
		sh := cs.Shapes[i]
		if sh.IsDefault {
			for _, existing := range s.shapes {
				existing.IsDefault = false
			}
		}
		s.shapes[sh.ID] = copyShape(&sh)
	}
	if cs.Exposure != nil {
		s.exposure = *cs.Exposure
	}
	s.journal = append(s.journal, cs.Journal...)
	return nil
}

func sortOrdersByAge(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

func sortPositionsByAge(positions []model.Position) {
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].CreatedAt.Equal(positions[j].CreatedAt) {
			return positions[i].ID < positions[j].ID
		}
		return positions[i].CreatedAt.Before(positions[j].CreatedAt)
	})
}

func copyShape(sh *model.CurveShape) *model.CurveShape {
	copy := *sh
	copy.Points = append([]decimal.Decimal(nil), sh.Points...)
	copy.Params.Custom = append([]decimal.Decimal(nil), sh.Params.Custom...)
	return &copy
}
