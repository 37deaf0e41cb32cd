package liquidity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/flipside/market-engine/internal/book"
	"github.com/flipside/market-engine/internal/model"
	"github.com/flipside/market-engine/internal/store"
)

// Config tunes the deployer.
type Config struct {
	// TotalLiquidity is the global share budget split across markets.
	TotalLiquidity int64
	// GlobalMultiplier scales every market's allocation. Zero means 1.
	GlobalMultiplier decimal.Decimal
	// Spread is the gap, in price units, kept between the bot's YES and NO
	// quotes at each ladder point.
	Spread int64
	// PricePoints overrides the default quoting ladder.
	PricePoints []int64
}

// OverrideKind selects how a per-market override alters the curve.
type OverrideKind string

const (
	OverrideDisabled   OverrideKind = "disabled"
	OverrideReplaced   OverrideKind = "replaced"
	OverrideMultiplied OverrideKind = "multiplied"
)

// Override is an in-memory per-market adjustment. Overrides are operator
// state, not ledger state; they reset on restart.
type Override struct {
	Kind   OverrideKind      `json:"kind"`
	Shape  *model.CurveShape `json:"shape,omitempty"`
	Factor decimal.Decimal   `json:"factor,omitempty"`
}

// Manager owns curve computation and quote deployment for the bot.
type Manager struct {
	store  store.Store
	engine *book.Engine
	cfg    Config

	mu        sync.Mutex
	overrides map[string]Override
}

// NewManager wires the deployer to the store and engine.
func NewManager(st store.Store, engine *book.Engine, cfg Config) *Manager {
	if cfg.GlobalMultiplier.IsZero() {
		cfg.GlobalMultiplier = one
	}
	if len(cfg.PricePoints) == 0 {
		cfg.PricePoints = DefaultPricePoints()
	}
	return &Manager{
		store:     st,
		engine:    engine,
		cfg:       cfg,
		overrides: make(map[string]Override),
	}
}

// SetOverride installs a per-market override. Validation is per kind.
func (m *Manager) SetOverride(marketID string, o Override) error {
	switch o.Kind {
	case OverrideDisabled:
	case OverrideReplaced:
		if o.Shape == nil || len(o.Shape.Points) != len(m.cfg.PricePoints) {
			return fmt.Errorf("replacement shape must cover %d points: %w",
				len(m.cfg.PricePoints), book.ErrInvalidArgument)
		}
	case OverrideMultiplied:
		if o.Factor.IsNegative() {
			return fmt.Errorf("multiplier %s: %w", o.Factor, book.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("override kind %q: %w", o.Kind, book.ErrInvalidArgument)
	}

	m.mu.Lock()
	m.overrides[marketID] = o
	m.mu.Unlock()
	return nil
}

// ClearOverride restores a market to default curve behavior.
func (m *Manager) ClearOverride(marketID string) {
	m.mu.Lock()
	delete(m.overrides, marketID)
	m.mu.Unlock()
}

// CurvePoint is one ladder rung of an effective curve.
type CurvePoint struct {
	Price  int64           `json:"price"`
	Weight decimal.Decimal `json:"weight"`
	Shares int64           `json:"shares"`
}

// Curve is the fully scaled quote plan for one market.
type Curve struct {
	MarketID     string          `json:"market_id"`
	ShapeID      string          `json:"shape_id"`
	MarketWeight decimal.Decimal `json:"market_weight"`
	Pullback     decimal.Decimal `json:"pullback_ratio"`
	Points       []CurvePoint    `json:"points"`
	TotalShares  int64           `json:"total_shares"`
}

// EffectiveCurve computes the deployable curve for an open market:
//
//	shares(p) = floor(total × marketWeight × multipliers × pullback × shape(p))
//
// A disabled override yields a nil curve. The pullback ratio is computed from
// live exposure, so a curve requested during a drawdown shrinks accordingly.
func (m *Manager) EffectiveCurve(ctx context.Context, marketID string) (*Curve, error) {
	market, err := m.store.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("market %s: %w", marketID, book.ErrNotFound)
		}
		return nil, err
	}
	if market.Status != model.MarketOpen {
		return nil, fmt.Errorf("market %s is %s: %w", marketID, market.Status, book.ErrInvalidState)
	}

	m.mu.Lock()
	override, hasOverride := m.overrides[marketID]
	m.mu.Unlock()

	if hasOverride && override.Kind == OverrideDisabled {
		return nil, nil
	}

	shape, err := m.shapeFor(ctx, override, hasOverride)
	if err != nil {
		return nil, err
	}

	weight, err := m.weightFor(ctx, marketID)
	if err != nil {
		return nil, err
	}

	positions, err := m.store.ListActivePositionsByAccount(ctx, m.engine.Risk().BotAccountID())
	if err != nil {
		return nil, err
	}
	pullback := m.engine.Risk().Ratio(m.engine.Risk().Exposure(positions))

	multiplier := m.cfg.GlobalMultiplier
	if hasOverride && override.Kind == OverrideMultiplied {
		multiplier = multiplier.Mul(override.Factor)
	}

	budget := decimal.NewFromInt(m.cfg.TotalLiquidity).
		Mul(weight).
		Mul(multiplier).
		Mul(pullback)

	curve := &Curve{
		MarketID:     marketID,
		ShapeID:      shape.ID,
		MarketWeight: weight,
		Pullback:     pullback,
		Points:       make([]CurvePoint, 0, len(m.cfg.PricePoints)),
	}
	for i, price := range m.cfg.PricePoints {
		shares := budget.Mul(shape.Points[i]).Floor().IntPart()
		curve.Points = append(curve.Points, CurvePoint{
			Price:  price,
			Weight: shape.Points[i],
			Shares: shares,
		})
		curve.TotalShares += shares
	}
	return curve, nil
}

func (m *Manager) shapeFor(ctx context.Context, override Override, hasOverride bool) (*model.CurveShape, error) {
	if hasOverride && override.Kind == OverrideReplaced {
		return override.Shape, nil
	}
	shape, err := m.store.GetDefaultShape(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// No configured default: quote flat.
			return BuildShape("flat", model.ShapeFlat, model.ShapeParams{}, m.cfg.PricePoints)
		}
		return nil, err
	}
	if len(shape.Points) != len(m.cfg.PricePoints) {
		return nil, fmt.Errorf("default shape %s covers %d points, ladder has %d: %w",
			shape.ID, len(shape.Points), len(m.cfg.PricePoints), book.ErrInvalidState)
	}
	return shape, nil
}

func (m *Manager) weightFor(ctx context.Context, marketID string) (decimal.Decimal, error) {
	weights, err := m.currentWeights(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	w, ok := weights[marketID]
	if !ok {
		return decimal.Zero, fmt.Errorf("market %s has no weight: %w", marketID, book.ErrNotFound)
	}
	return w.Weight, nil
}

// DeployResult reports one market's deployment.
type DeployResult struct {
	MarketID         string        `json:"market_id"`
	FundingAccountID string        `json:"funding_account_id"`
	Cancelled        int           `json:"cancelled"`
	Placed           []model.Order `json:"placed"`
	Reserved         int64         `json:"reserved"`
	Skipped          int           `json:"skipped"`
	ExhaustedBudget  bool          `json:"exhausted_budget"`
}

// Deploy replaces the funding account's quotes in one market: its resting
// orders there are cancelled, then a YES and a NO order are placed at each
// ladder point per the effective curve, owned by and reserved against the
// funding account. An empty fundingAccountID funds from the bot account.
// Each order is its own atomic operation; a funding shortfall stops
// placement and reports what landed.
func (m *Manager) Deploy(ctx context.Context, marketID, fundingAccountID string) (*DeployResult, error) {
	curve, err := m.EffectiveCurve(ctx, marketID)
	if err != nil {
		return nil, err
	}

	funder := fundingAccountID
	if funder == "" {
		funder = m.engine.Risk().BotAccountID()
	}
	if _, err := m.store.GetAccount(ctx, funder); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("funding account %s: %w", funder, book.ErrNotFound)
		}
		return nil, err
	}
	result := &DeployResult{MarketID: marketID, FundingAccountID: funder}

	resting, err := m.store.ListRestingOrdersByAccount(ctx, funder)
	if err != nil {
		return nil, err
	}
	for _, o := range resting {
		if o.MarketID != marketID {
			continue
		}
		if _, err := m.engine.CancelOrder(ctx, funder, o.ID); err != nil {
			return nil, fmt.Errorf("cancel quote %s: %w", o.ID, err)
		}
		result.Cancelled++
	}

	if curve == nil {
		slog.Info("deployment disabled", "market", marketID)
		return result, nil
	}

	half := m.cfg.Spread / 2
	for _, pt := range curve.Points {
		if pt.Shares <= 0 {
			result.Skipped++
			continue
		}
		yesPrice := clampPrice(pt.Price - half)
		noPrice := clampPrice(model.PayoutPerShare - pt.Price - (m.cfg.Spread - half))

		for _, q := range []struct {
			side  model.Side
			price int64
		}{
			{model.SideYes, yesPrice},
			{model.SideNo, noPrice},
		} {
			placed, err := m.engine.PlaceOrder(ctx, funder, marketID, q.side, q.price, pt.Shares)
			if err != nil {
				var fundsErr *book.InsufficientFundsError
				if errors.As(err, &fundsErr) {
					result.ExhaustedBudget = true
					slog.Warn("deployment stopped on funding",
						"market", marketID, "required", fundsErr.Required, "available", fundsErr.Available)
					return result, nil
				}
				return nil, err
			}
			result.Placed = append(result.Placed, placed.Order)
			result.Reserved += placed.Reserved - placed.Refund
		}
	}

	slog.Info("liquidity deployed",
		"market", marketID,
		"funder", funder,
		"orders", len(result.Placed),
		"cancelled", result.Cancelled,
		"reserved", result.Reserved,
	)
	return result, nil
}

// PreviewResult is the dry-run plan across every open market.
type PreviewResult struct {
	Curves        []Curve `json:"curves"`
	TotalShares   int64   `json:"total_shares"`
	EstimatedCost int64   `json:"estimated_cost"`
	Affordable    bool    `json:"affordable"`
	Available     int64   `json:"available"`
}

// Preview computes the effective curve for every open market and the
// worst-case reservation the full deployment would take, without mutating
// anything. Affordability is judged against the funding account's balance.
func (m *Manager) Preview(ctx context.Context, fundingAccountID string) (*PreviewResult, error) {
	markets, err := m.store.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{}
	half := m.cfg.Spread / 2
	for _, mk := range markets {
		if mk.Status != model.MarketOpen {
			continue
		}
		curve, err := m.EffectiveCurve(ctx, mk.ID)
		if err != nil {
			return nil, err
		}
		if curve == nil {
			continue
		}
		result.Curves = append(result.Curves, *curve)
		result.TotalShares += curve.TotalShares

		for _, pt := range curve.Points {
			if pt.Shares <= 0 {
				continue
			}
			yesPrice := clampPrice(pt.Price - half)
			noPrice := clampPrice(model.PayoutPerShare - pt.Price - (m.cfg.Spread - half))
			result.EstimatedCost += pt.Shares * (yesPrice + noPrice)
		}
	}
	sort.Slice(result.Curves, func(i, j int) bool {
		return result.Curves[i].MarketID < result.Curves[j].MarketID
	})

	if fundingAccountID != "" {
		acct, err := m.store.GetAccount(ctx, fundingAccountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("account %s: %w", fundingAccountID, book.ErrNotFound)
			}
			return nil, err
		}
		result.Available = acct.Balance
		result.Affordable = acct.Balance >= result.EstimatedCost
	}
	return result, nil
}

func clampPrice(p int64) int64 {
	if p < model.MinPrice {
		return model.MinPrice
	}
	if p > model.MaxPrice {
		return model.MaxPrice
	}
	return p
}

func sortWeights(weights []model.MarketWeight) {
	sort.Slice(weights, func(i, j int) bool {
		return weights[i].MarketID < weights[j].MarketID
	})
}
