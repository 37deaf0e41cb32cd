// Package risk tracks the liquidity bot's worst-case loss and computes the
// pullback throttle that bounds it.
//
// Exposure is the payout the bot would owe if every active position where it
// holds the NO side resolved YES. It is recomputed from open positions on
// demand rather than cached incrementally, to avoid drift. The pullback ratio
// max(0, 1 - exposure/maxLoss) multiplies every offer budget, so at
// exposure == maxLoss no further budget is offered anywhere and the bot's
// loss cannot exceed maxLoss by construction.
package risk

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/flipside/market-engine/internal/model"
)

// Config holds the bot identity and risk limits.
type Config struct {
	// BotAccountID is the account whose exposure is tracked.
	BotAccountID string

	// MaxLoss is the worst-case payout ceiling in currency units.
	MaxLoss int64

	// TierWidthPct is the width of one exposure tier as a percentage of
	// MaxLoss. Crossing a tier boundary triggers a pullback pass.
	TierWidthPct int

	// MinOrderShares is the smallest tradeable order size; a pullback that
	// would shrink an order below it cancels the order instead.
	MinOrderShares int64
}

// Controller evaluates exposure, tiers, and pullback sizing.
type Controller struct {
	cfg Config
}

// NewController creates a controller. A non-positive tier width defaults
// to 10%; a non-positive minimum order size defaults to 1 share.
func NewController(cfg Config) *Controller {
	if cfg.TierWidthPct <= 0 {
		cfg.TierWidthPct = 10
	}
	if cfg.MinOrderShares <= 0 {
		cfg.MinOrderShares = 1
	}
	return &Controller{cfg: cfg}
}

// BotAccountID returns the tracked account id.
func (c *Controller) BotAccountID() string {
	return c.cfg.BotAccountID
}

// MaxLoss returns the configured loss ceiling.
func (c *Controller) MaxLoss() int64 {
	return c.cfg.MaxLoss
}

// MinOrderShares returns the minimum tradeable order size.
func (c *Controller) MinOrderShares() int64 {
	return c.cfg.MinOrderShares
}

// Exposure sums shares × payout over the bot's active NO-side positions.
// The positions slice is the bot's active positions across all markets.
func (c *Controller) Exposure(positions []model.Position) int64 {
	var total int64
	for _, p := range positions {
		if p.Status != model.PositionActive {
			continue
		}
		if p.NoAccountID == c.cfg.BotAccountID {
			total += p.Shares * model.PayoutPerShare
		}
	}
	return total
}

// Tier buckets exposure into fixed-width percentage bands of MaxLoss.
// Tier 0 covers [0, width), tier 1 [width, 2·width), and so on; exposure at
// or above MaxLoss lands beyond the last in-bounds tier.
func (c *Controller) Tier(exposure int64) int {
	if c.cfg.MaxLoss <= 0 || exposure <= 0 {
		return 0
	}
	pct := mulDiv(exposure, 100, c.cfg.MaxLoss)
	return int(pct) / c.cfg.TierWidthPct
}

// Ratio returns the pullback ratio max(0, 1 - exposure/maxLoss) as a decimal
// for budget sizing. The hard guarantee is exact: at exposure >= maxLoss the
// ratio is exactly zero.
func (c *Controller) Ratio(exposure int64) decimal.Decimal {
	if c.cfg.MaxLoss <= 0 || exposure >= c.cfg.MaxLoss {
		return decimal.Zero
	}
	if exposure <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(c.cfg.MaxLoss - exposure).
		Div(decimal.NewFromInt(c.cfg.MaxLoss))
}

// ShrinkTo returns floor(remaining × ratio) for the current exposure, the
// new remaining size of a resting bot order after a pullback pass. The
// multiply/divide runs through big.Int so the floor is exact regardless of
// magnitude.
func (c *Controller) ShrinkTo(remaining, exposure int64) int64 {
	if c.cfg.MaxLoss <= 0 || exposure >= c.cfg.MaxLoss {
		return 0
	}
	if exposure <= 0 {
		return remaining
	}
	return mulDiv(remaining, c.cfg.MaxLoss-exposure, c.cfg.MaxLoss)
}

// mulDiv computes floor(x × num / den) without intermediate overflow.
func mulDiv(x, num, den int64) int64 {
	if x <= 0 || num <= 0 || den <= 0 {
		return 0
	}
	r := new(big.Int).Mul(big.NewInt(x), big.NewInt(num))
	r.Quo(r, big.NewInt(den))
	return r.Int64()
}
