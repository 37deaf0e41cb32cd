package liquidity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/flipside/market-engine/internal/book"
	"github.com/flipside/market-engine/internal/liquidity"
	"github.com/flipside/market-engine/internal/model"
	"github.com/flipside/market-engine/internal/risk"
	"github.com/flipside/market-engine/internal/store"
)

// newTestManager wires a manager, engine, and memory store with a funded bot.
func newTestManager(t *testing.T, cfg liquidity.Config) (*liquidity.Manager, *book.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	rc := risk.NewController(risk.Config{BotAccountID: "bot", MaxLoss: 1_000_000_000})
	engine := book.NewEngine(ms, rc)
	if _, err := engine.CreateAccount(context.Background(), "bot", 100_000_000); err != nil {
		t.Fatalf("failed to fund bot: %v", err)
	}
	return liquidity.NewManager(ms, engine, cfg), engine, ms
}

func createMarket(t *testing.T, e *book.Engine, slug string) string {
	t.Helper()
	m, err := e.CreateMarket(context.Background(), "FLIP-POL-"+slug+"-20261103", "?")
	if err != nil {
		t.Fatalf("failed to create market: %v", err)
	}
	return m.ID
}

func weightOf(t *testing.T, weights []model.MarketWeight, marketID string) decimal.Decimal {
	t.Helper()
	for _, w := range weights {
		if w.MarketID == marketID {
			return w.Weight
		}
	}
	t.Fatalf("no weight for market %s", marketID)
	return decimal.Zero
}

func sumWeights(weights []model.MarketWeight) decimal.Decimal {
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w.Weight)
	}
	return sum
}

func TestWeights_DefaultEqualSplit(t *testing.T) {
	m, engine, _ := newTestManager(t, liquidity.Config{TotalLiquidity: 1000})
	createMarket(t, engine, "A")
	createMarket(t, engine, "B")
	createMarket(t, engine, "C")
	createMarket(t, engine, "D")

	weights, err := m.Weights(context.Background())
	if err != nil {
		t.Fatalf("weights failed: %v", err)
	}
	if len(weights) != 4 {
		t.Fatalf("expected 4 weights, got %d", len(weights))
	}
	quarter := decimal.NewFromFloat(0.25)
	for _, w := range weights {
		if !w.Weight.Equal(quarter) {
			t.Errorf("expected equal split 0.25, got %s for %s", w.Weight, w.MarketID)
		}
	}
}

func TestSetMarketWeight_RebalancesToOne(t *testing.T) {
	m, engine, _ := newTestManager(t, liquidity.Config{TotalLiquidity: 1000})
	m1 := createMarket(t, engine, "A")
	m2 := createMarket(t, engine, "B")
	m3 := createMarket(t, engine, "C")

	weights, err := m.SetMarketWeight(context.Background(), m1, decimal.NewFromFloat(0.5), false)
	if err != nil {
		t.Fatalf("set weight failed: %v", err)
	}

	if !weightOf(t, weights, m1).Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected pinned weight 0.5, got %s", weightOf(t, weights, m1))
	}
	if !sumWeights(weights).Equal(decimal.NewFromInt(1)) {
		t.Errorf("weights must sum to 1, got %s", sumWeights(weights))
	}
	if !weightOf(t, weights, m2).Equal(weightOf(t, weights, m3)) {
		t.Errorf("remaining markets should split evenly: %s vs %s",
			weightOf(t, weights, m2), weightOf(t, weights, m3))
	}
}

func TestSetMarketWeight_LockedExcludedFromRebalance(t *testing.T) {
	m, engine, _ := newTestManager(t, liquidity.Config{TotalLiquidity: 1000})
	m1 := createMarket(t, engine, "A")
	m2 := createMarket(t, engine, "B")
	m3 := createMarket(t, engine, "C")

	if _, err := m.SetMarketWeight(context.Background(), m1, decimal.NewFromFloat(0.4), true); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	weights, err := m.SetMarketWeight(context.Background(), m2, decimal.NewFromFloat(0.5), false)
	if err != nil {
		t.Fatalf("set weight failed: %v", err)
	}

	// Locked m1 keeps 0.4; m3 absorbs the remainder.
	if !weightOf(t, weights, m1).Equal(decimal.NewFromFloat(0.4)) {
		t.Errorf("locked weight moved: %s", weightOf(t, weights, m1))
	}
	if !weightOf(t, weights, m3).Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("expected m3 weight 0.1, got %s", weightOf(t, weights, m3))
	}
	if !sumWeights(weights).Equal(decimal.NewFromInt(1)) {
		t.Errorf("weights must sum to 1, got %s", sumWeights(weights))
	}
}

func TestSetMarketWeight_ClampsToLockedHeadroom(t *testing.T) {
	m, engine, _ := newTestManager(t, liquidity.Config{TotalLiquidity: 1000})
	m1 := createMarket(t, engine, "A")
	m2 := createMarket(t, engine, "B")

	if _, err := m.SetMarketWeight(context.Background(), m1, decimal.NewFromFloat(0.7), true); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	weights, err := m.SetMarketWeight(context.Background(), m2, decimal.NewFromInt(5), false)
	if err != nil {
		t.Fatalf("set weight failed: %v", err)
	}

	// 5 clamps to the 0.3 left over by the locked market.
	if !weightOf(t, weights, m2).Equal(decimal.NewFromFloat(0.3)) {
		t.Errorf("expected clamp to 0.3, got %s", weightOf(t, weights, m2))
	}
}

func TestSetMarketWeight_UnknownMarket(t *testing.T) {
	m, engine, _ := newTestManager(t, liquidity.Config{TotalLiquidity: 1000})
	createMarket(t, engine, "A")

	if _, err := m.SetMarketWeight(context.Background(), "missing", decimal.NewFromFloat(0.5), false); !errors.Is(err, book.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetFromOdds_ProportionalWeights(t *testing.T) {
	m, engine, _ := newTestManager(t, liquidity.Config{TotalLiquidity: 1000})
	m1 := createMarket(t, engine, "A")
	m2 := createMarket(t, engine, "B")
	m3 := createMarket(t, engine, "C")

	weights, err := m.SetFromOdds(context.Background(), map[string]decimal.Decimal{
		m1: decimal.NewFromInt(1),
		m2: decimal.NewFromInt(1),
		m3: decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("odds failed: %v", err)
	}

	if !weightOf(t, weights, m3).Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected m3 weight 0.5, got %s", weightOf(t, weights, m3))
	}
	if !weightOf(t, weights, m1).Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("expected m1 weight 0.25, got %s", weightOf(t, weights, m1))
	}
	if !sumWeights(weights).Equal(decimal.NewFromInt(1)) {
		t.Errorf("weights must sum to 1, got %s", sumWeights(weights))
	}
}

func TestSetFromOdds_RejectsMissingOrNegativeOdds(t *testing.T) {
	m, engine, _ := newTestManager(t, liquidity.Config{TotalLiquidity: 1000})
	m1 := createMarket(t, engine, "A")
	m2 := createMarket(t, engine, "B")

	_, err := m.SetFromOdds(context.Background(), map[string]decimal.Decimal{
		m1: decimal.NewFromInt(1),
		// second market missing
	})
	if !errors.Is(err, book.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for missing odds, got %v", err)
	}

	_, err = m.SetFromOdds(context.Background(), map[string]decimal.Decimal{
		m1: decimal.NewFromInt(1),
		m2: decimal.NewFromInt(-1),
	})
	if !errors.Is(err, book.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for negative odds, got %v", err)
	}
}

// A zero score is a valid input: the market simply gets no budget and the
// rest is split over the positive scores.
func TestSetFromOdds_ZeroOddsGetZeroWeight(t *testing.T) {
	m, engine, _ := newTestManager(t, liquidity.Config{TotalLiquidity: 1000})
	m1 := createMarket(t, engine, "A")
	m2 := createMarket(t, engine, "B")
	m3 := createMarket(t, engine, "C")

	weights, err := m.SetFromOdds(context.Background(), map[string]decimal.Decimal{
		m1: decimal.NewFromInt(0),
		m2: decimal.NewFromInt(1),
		m3: decimal.NewFromInt(3),
	})
	if err != nil {
		t.Fatalf("odds failed: %v", err)
	}

	if !weightOf(t, weights, m1).IsZero() {
		t.Errorf("expected zero weight for zero odds, got %s", weightOf(t, weights, m1))
	}
	if !weightOf(t, weights, m2).Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("expected m2 weight 0.25, got %s", weightOf(t, weights, m2))
	}
	if !weightOf(t, weights, m3).Equal(decimal.NewFromFloat(0.75)) {
		t.Errorf("expected m3 weight 0.75, got %s", weightOf(t, weights, m3))
	}
	if !sumWeights(weights).Equal(decimal.NewFromInt(1)) {
		t.Errorf("weights must sum to 1, got %s", sumWeights(weights))
	}

	_, err = m.SetFromOdds(context.Background(), map[string]decimal.Decimal{
		m1: decimal.Zero, m2: decimal.Zero, m3: decimal.Zero,
	})
	if !errors.Is(err, book.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for all-zero odds, got %v", err)
	}
}

func TestWeights_DropResolvedMarkets(t *testing.T) {
	m, engine, _ := newTestManager(t, liquidity.Config{TotalLiquidity: 1000})
	m1 := createMarket(t, engine, "A")
	m2 := createMarket(t, engine, "B")

	if _, err := engine.ResolveMarket(context.Background(), m1, model.SideYes); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	weights, err := m.Weights(context.Background())
	if err != nil {
		t.Fatalf("weights failed: %v", err)
	}
	if len(weights) != 1 || weights[0].MarketID != m2 {
		t.Errorf("expected only the open market weighted, got %+v", weights)
	}
}
