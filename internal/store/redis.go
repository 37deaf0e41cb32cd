package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flipside/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot point reads: markets and curve shapes. Writes go to the
// primary store via Apply and invalidate every touched key; reads check
// Redis first then fall back to the primary.
//
// Account rows are never cached. The balance is what the funds check reads,
// and a read that repopulates the cache after Apply's invalidation would
// serve a pre-commit balance for the whole TTL.
type CachedStore struct {
	primary Store
	rdb     cacheClient
	ttl     time.Duration
}

// cacheClient is the subset of redis.Client the cache uses.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.cacheGet(ctx, marketKey(id), &m) {
		return &m, nil
	}

	market, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, marketKey(id), market)
	return market, nil
}

func (s *CachedStore) GetShape(ctx context.Context, id string) (*model.CurveShape, error) {
	var sh model.CurveShape
	if s.cacheGet(ctx, shapeKey(id), &sh) {
		return &sh, nil
	}

	shape, err := s.primary.GetShape(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, shapeKey(id), shape)
	return shape, nil
}

// --- Passthrough (not cached: list reads and order/position state change
// with every fill, so caching them buys nothing but staleness) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) ListRestingOrders(ctx context.Context, marketID string, side model.Side) ([]model.Order, error) {
	return s.primary.ListRestingOrders(ctx, marketID, side)
}

func (s *CachedStore) ListRestingOrdersByAccount(ctx context.Context, accountID string) ([]model.Order, error) {
	return s.primary.ListRestingOrdersByAccount(ctx, accountID)
}

func (s *CachedStore) ListActivePositions(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.primary.ListActivePositions(ctx, marketID)
}

func (s *CachedStore) ListActivePositionsByAccount(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.primary.ListActivePositionsByAccount(ctx, accountID)
}

func (s *CachedStore) GetExposure(ctx context.Context) (*model.Exposure, error) {
	return s.primary.GetExposure(ctx)
}

func (s *CachedStore) ListWeights(ctx context.Context) ([]model.MarketWeight, error) {
	return s.primary.ListWeights(ctx)
}

func (s *CachedStore) GetDefaultShape(ctx context.Context) (*model.CurveShape, error) {
	return s.primary.GetDefaultShape(ctx)
}

func (s *CachedStore) ListJournal(ctx context.Context, accountID string) ([]model.JournalEntry, error) {
	return s.primary.ListJournal(ctx, accountID)
}

// Apply commits to the primary store, then invalidates the cache entry for
// every row the change set touched. Invalidation runs after the commit so a
// failed apply leaves the cache consistent with the primary.
func (s *CachedStore) Apply(ctx context.Context, cs *ChangeSet) error {
	if err := s.primary.Apply(ctx, cs); err != nil {
		return err
	}

	var keys []string
	for _, m := range cs.Markets {
		keys = append(keys, marketKey(m.ID))
	}
	for _, sh := range cs.Shapes {
		keys = append(keys, shapeKey(sh.ID))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheGet(ctx context.Context, key string, dest any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (s *CachedStore) cacheSet(ctx context.Context, key string, value any) {
	if data, err := json.Marshal(value); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func shapeKey(id string) string  { return fmt.Sprintf("shape:%s", id) }
