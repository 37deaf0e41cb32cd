package liquidity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/flipside/market-engine/internal/book"
	"github.com/flipside/market-engine/internal/model"
	"github.com/flipside/market-engine/internal/store"
)

var one = decimal.New(1, 0)

// SetMarketWeight pins one open market's share of the liquidity budget and
// rescales the remaining unlocked markets so all weights still sum to 1.
// Locked markets keep their weight and are excluded from redistribution.
func (m *Manager) SetMarketWeight(ctx context.Context, marketID string, weight decimal.Decimal, locked bool) ([]model.MarketWeight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	weights, err := m.currentWeights(ctx)
	if err != nil {
		return nil, err
	}
	target, ok := weights[marketID]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", marketID, book.ErrNotFound)
	}

	if weight.IsNegative() {
		weight = decimal.Zero
	}

	// The target may not claim more than what locked markets leave over.
	lockedSum := decimal.Zero
	for id, w := range weights {
		if id != marketID && w.Locked {
			lockedSum = lockedSum.Add(w.Weight)
		}
	}
	if avail := one.Sub(lockedSum); weight.GreaterThan(avail) {
		weight = avail
	}

	target.Weight = weight
	target.Locked = locked
	weights[marketID] = target

	rebalance(weights, marketID)

	out, err := m.persistWeights(ctx, weights)
	if err != nil {
		return nil, err
	}
	slog.Info("market weight set", "market", marketID, "weight", weight, "locked", locked)
	return out, nil
}

// SetFromOdds derives weights from relative odds: each unlocked open market
// gets odds_i / Σodds of the budget left over by locked markets.
func (m *Manager) SetFromOdds(ctx context.Context, odds map[string]decimal.Decimal) ([]model.MarketWeight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	weights, err := m.currentWeights(ctx)
	if err != nil {
		return nil, err
	}

	lockedSum := decimal.Zero
	oddsSum := decimal.Zero
	for id, w := range weights {
		if w.Locked {
			lockedSum = lockedSum.Add(w.Weight)
			continue
		}
		o, ok := odds[id]
		if !ok || o.IsNegative() {
			return nil, fmt.Errorf("odds for market %s must be non-negative: %w", id, book.ErrInvalidArgument)
		}
		oddsSum = oddsSum.Add(o)
	}
	if !oddsSum.IsPositive() {
		return nil, fmt.Errorf("odds must include a positive entry: %w", book.ErrInvalidArgument)
	}

	budget := one.Sub(lockedSum)
	if budget.IsNegative() {
		budget = decimal.Zero
	}
	for id, w := range weights {
		if w.Locked {
			continue
		}
		w.RelativeOdds = odds[id]
		w.Weight = budget.Mul(odds[id]).Div(oddsSum).Round(12)
		weights[id] = w
	}

	rebalance(weights, "")

	out, err := m.persistWeights(ctx, weights)
	if err != nil {
		return nil, err
	}
	slog.Info("weights set from odds", "markets", len(out))
	return out, nil
}

// Weights returns the current allocation across open markets, materializing
// an equal split for markets with no stored weight.
func (m *Manager) Weights(ctx context.Context) ([]model.MarketWeight, error) {
	weights, err := m.currentWeights(ctx)
	if err != nil {
		return nil, err
	}
	return flatten(weights), nil
}

// currentWeights joins stored weights against open markets. Markets without
// a row share the unassigned remainder equally; weights for markets that are
// no longer open are dropped.
func (m *Manager) currentWeights(ctx context.Context) (map[string]model.MarketWeight, error) {
	markets, err := m.store.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := m.store.ListWeights(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.MarketWeight, len(stored))
	for _, w := range stored {
		byID[w.MarketID] = w
	}

	out := make(map[string]model.MarketWeight)
	var missing []string
	assigned := decimal.Zero
	for _, mk := range markets {
		if mk.Status != model.MarketOpen {
			continue
		}
		if w, ok := byID[mk.ID]; ok {
			out[mk.ID] = w
			assigned = assigned.Add(w.Weight)
		} else {
			missing = append(missing, mk.ID)
		}
	}

	if len(missing) > 0 {
		spare := one.Sub(assigned)
		if spare.IsNegative() {
			spare = decimal.Zero
		}
		share := spare.Div(decimal.NewFromInt(int64(len(missing)))).Round(12)
		for _, id := range missing {
			out[id] = model.MarketWeight{MarketID: id, Weight: share}
		}
	}
	return out, nil
}

// rebalance scales unlocked weights (excluding pinned, if any) so the total
// is exactly 1. The largest unlocked weight absorbs the rounding residual.
func rebalance(weights map[string]model.MarketWeight, pinned string) {
	fixed := decimal.Zero
	floatSum := decimal.Zero
	var floating []string
	for id, w := range weights {
		if w.Locked || id == pinned {
			fixed = fixed.Add(w.Weight)
			continue
		}
		floating = append(floating, id)
		floatSum = floatSum.Add(w.Weight)
	}
	if len(floating) == 0 {
		return
	}

	budget := one.Sub(fixed)
	if budget.IsNegative() {
		budget = decimal.Zero
	}

	if floatSum.IsPositive() {
		for _, id := range floating {
			w := weights[id]
			w.Weight = w.Weight.Mul(budget).Div(floatSum).Round(12)
			weights[id] = w
		}
	} else {
		share := budget.Div(decimal.NewFromInt(int64(len(floating)))).Round(12)
		for _, id := range floating {
			w := weights[id]
			w.Weight = share
			weights[id] = w
		}
	}

	// Force the exact sum by adjusting the largest floating weight.
	total := decimal.Zero
	largest := floating[0]
	for id, w := range weights {
		total = total.Add(w.Weight)
		if !w.Locked && id != pinned && w.Weight.GreaterThan(weights[largest].Weight) {
			largest = id
		}
	}
	if residual := one.Sub(total); !residual.IsZero() {
		w := weights[largest]
		if adjusted := w.Weight.Add(residual); !adjusted.IsNegative() {
			w.Weight = adjusted
			weights[largest] = w
		}
	}
}

func (m *Manager) persistWeights(ctx context.Context, weights map[string]model.MarketWeight) ([]model.MarketWeight, error) {
	out := flatten(weights)
	if err := m.store.Apply(ctx, &store.ChangeSet{Weights: out}); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(weights map[string]model.MarketWeight) []model.MarketWeight {
	out := make([]model.MarketWeight, 0, len(weights))
	for _, w := range weights {
		out = append(out, w)
	}
	sortWeights(out)
	return out
}
