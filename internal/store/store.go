// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Mutations never go through row-level setters. The engine computes a full
// operation against a read snapshot and commits a single ChangeSet; Apply is
// all-or-nothing, so a failed operation leaves no trace.
package store

import (
	"context"
	"errors"

	"github.com/flipside/market-engine/internal/model"
)

// ErrNotFound is returned by point reads for unknown ids.
var ErrNotFound = errors.New("store: not found")

// ChangeSet is one atomic multi-row mutation. Accounts, markets, orders,
// positions, weights, and shapes are upserted by id; journal entries are
// append-only; Exposure replaces the singleton snapshot when non-nil.
type ChangeSet struct {
	Accounts  []model.Account
	Markets   []model.Market
	Orders    []model.Order
	Positions []model.Position
	Weights   []model.MarketWeight
	Shapes    []model.CurveShape
	Exposure  *model.Exposure
	Journal   []model.JournalEntry
}

// Empty reports whether the change set carries no mutation.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Accounts) == 0 && len(cs.Markets) == 0 && len(cs.Orders) == 0 &&
		len(cs.Positions) == 0 && len(cs.Weights) == 0 && len(cs.Shapes) == 0 &&
		cs.Exposure == nil && len(cs.Journal) == 0
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// --- Markets ---

	GetMarket(ctx context.Context, id string) (*model.Market, error)
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// --- Orders ---

	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListRestingOrders returns open/partial orders in a market, optionally
	// filtered by side ("" = both), ordered by creation time.
	ListRestingOrders(ctx context.Context, marketID string, side model.Side) ([]model.Order, error)

	// ListRestingOrdersByAccount returns the account's open/partial orders
	// across every market.
	ListRestingOrdersByAccount(ctx context.Context, accountID string) ([]model.Order, error)

	// --- Positions ---

	ListActivePositions(ctx context.Context, marketID string) ([]model.Position, error)
	ListActivePositionsByAccount(ctx context.Context, accountID string) ([]model.Position, error)

	// --- Risk / liquidity configuration ---

	GetExposure(ctx context.Context) (*model.Exposure, error)
	ListWeights(ctx context.Context) ([]model.MarketWeight, error)
	GetShape(ctx context.Context, id string) (*model.CurveShape, error)
	GetDefaultShape(ctx context.Context) (*model.CurveShape, error)

	// --- Audit ---

	ListJournal(ctx context.Context, accountID string) ([]model.JournalEntry, error)

	// --- Atomic commit ---

	// Apply commits the change set as one indivisible write.
	Apply(ctx context.Context, cs *ChangeSet) error
}
