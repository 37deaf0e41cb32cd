// Package model defines the core domain types shared across the market engine.
// All monetary values are int64 in the smallest currency unit, never floats.
// A share pays PayoutPerShare to the winning side, so a price is an integer
// cost-per-share in [1, PayoutPerShare-1].
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutPerShare is the fixed payout P of one share to the winning side.
// Complementary YES/NO prices must sum to at least P to cross.
const PayoutPerShare int64 = 1000

// MinPrice and MaxPrice bound the valid per-share cost of an order.
const (
	MinPrice int64 = 1
	MaxPrice int64 = PayoutPerShare - 1
)

// MaxOrderShares caps one order's size. shares × price and shares ×
// PayoutPerShare must both stay well inside int64; an unbounded share count
// would wrap the reservation product negative and corrupt the ledger.
const MaxOrderShares int64 = 1_000_000_000_000

// Side of a binary market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Valid reports whether s is one of the two defined sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Market lifecycle statuses.
type MarketStatus string

const (
	MarketOpen      MarketStatus = "open"
	MarketPending   MarketStatus = "pending_resolution"
	MarketResolved  MarketStatus = "resolved"
	MarketCancelled MarketStatus = "cancelled"
)

// Order statuses.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderPartial   OrderStatus = "partial"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// Position statuses.
type PositionStatus string

const (
	PositionActive   PositionStatus = "active"
	PositionSettled  PositionStatus = "settled"
	PositionRefunded PositionStatus = "refunded"
)

// Account holds a user's available balance. The balance is mutated only by
// reservation, refund, settlement, and resolution and never goes negative.
type Account struct {
	ID        string    `json:"id" db:"id"`
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Market is one binary-outcome market.
type Market struct {
	ID         string       `json:"id" db:"id"`
	Symbol     string       `json:"symbol" db:"symbol"`
	Question   string       `json:"question" db:"question"`
	Status     MarketStatus `json:"status" db:"status"`
	Resolution Side         `json:"resolution,omitempty" db:"resolution"` // set once, on resolve
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// Order is a priced offer to take one side of a market.
// Invariant: 0 <= Filled <= Shares.
type Order struct {
	ID        string      `json:"id" db:"id"`
	AccountID string      `json:"account_id" db:"account_id"`
	MarketID  string      `json:"market_id" db:"market_id"`
	Side      Side        `json:"side" db:"side"`
	Price     int64       `json:"price" db:"price"` // limit cost per share
	Shares    int64       `json:"shares" db:"shares"`
	Filled    int64       `json:"filled" db:"filled"`
	Status    OrderStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// Remaining returns the unfilled share count.
func (o *Order) Remaining() int64 {
	return o.Shares - o.Filled
}

// Resting reports whether the order still offers liquidity.
func (o *Order) Resting() bool {
	return o.Status == OrderOpen || o.Status == OrderPartial
}

// Position is a matched pair of complementary orders ("bet"). TradePrice is
// the YES side's per-share cost, fixed at match time. The locked value of an
// active position is always Shares × PayoutPerShare.
type Position struct {
	ID           string         `json:"id" db:"id"`
	MarketID     string         `json:"market_id" db:"market_id"`
	YesAccountID string         `json:"yes_account_id" db:"yes_account_id"`
	NoAccountID  string         `json:"no_account_id" db:"no_account_id"`
	YesOrderID   string         `json:"yes_order_id" db:"yes_order_id"`
	NoOrderID    string         `json:"no_order_id" db:"no_order_id"`
	TradePrice   int64          `json:"trade_price" db:"trade_price"`
	Shares       int64          `json:"shares" db:"shares"`
	Status       PositionStatus `json:"status" db:"status"`
	Winner       Side           `json:"winner,omitempty" db:"winner"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	SettledAt    *time.Time     `json:"settled_at,omitempty" db:"settled_at"`
}

// Holder returns the account on the given side of the position.
func (p *Position) Holder(side Side) string {
	if side == SideYes {
		return p.YesAccountID
	}
	return p.NoAccountID
}

// JournalKind labels entries in the append-only audit log.
type JournalKind string

const (
	JournalReserve    JournalKind = "reserve"
	JournalRefund     JournalKind = "refund"
	JournalSettlement JournalKind = "settlement"
	JournalPayout     JournalKind = "payout"
	JournalDeposit    JournalKind = "deposit"
)

// JournalEntry is an immutable audit record of a balance movement.
// Amount is signed from the account's point of view.
type JournalEntry struct {
	ID        string      `json:"id" db:"id"`
	AccountID string      `json:"account_id" db:"account_id"`
	Kind      JournalKind `json:"kind" db:"kind"`
	Amount    int64       `json:"amount" db:"amount"`
	RefID     string      `json:"ref_id" db:"ref_id"` // order/position/market id
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// Exposure is the singleton snapshot of the liquidity bot's worst-case loss:
// the payout it would owe if every active position where it holds the NO side
// resolved YES. Tier buckets TotalAtRisk into fixed-width percentage bands of
// the configured ceiling.
type Exposure struct {
	TotalAtRisk    int64     `json:"total_at_risk" db:"total_at_risk"`
	Tier           int       `json:"tier" db:"tier"`
	LastPullbackAt time.Time `json:"last_pullback_at" db:"last_pullback_at"`
}

// MarketWeight is the fraction of the bot's total liquidity budget allocated
// to one market. Weights across open markets sum to 1; locked markets are
// excluded from redistribution.
type MarketWeight struct {
	MarketID     string          `json:"market_id" db:"market_id"`
	Weight       decimal.Decimal `json:"weight" db:"weight"`
	Locked       bool            `json:"locked" db:"locked"`
	RelativeOdds decimal.Decimal `json:"relative_odds" db:"relative_odds"`
}

// ShapeKind selects one of the closed set of curve-shape generators.
type ShapeKind string

const (
	ShapeBell        ShapeKind = "bell"
	ShapeFlat        ShapeKind = "flat"
	ShapeExpDecay    ShapeKind = "exp_decay"
	ShapeLogarithmic ShapeKind = "logarithmic"
	ShapeSigmoid     ShapeKind = "sigmoid"
	ShapeParabolic   ShapeKind = "parabolic"
	ShapeCustom      ShapeKind = "custom"
)

// ShapeParams carries the typed parameters for every shape kind; only the
// fields relevant to the kind are consulted.
type ShapeParams struct {
	Mean      int64             `json:"mean,omitempty"`      // bell: center price point
	Sigma     float64           `json:"sigma,omitempty"`     // bell: width in price units
	Lambda    float64           `json:"lambda,omitempty"`    // exp_decay: decay per point index
	Midpoint  int64             `json:"midpoint,omitempty"`  // sigmoid: inflection price
	Steepness float64           `json:"steepness,omitempty"` // sigmoid
	Vertex    int64             `json:"vertex,omitempty"`    // parabolic: peak price
	Custom    []decimal.Decimal `json:"custom,omitempty"`    // custom: one weight per point
}

// CurveShape is a named, normalized distribution over the fixed price ladder.
// Points sum to exactly 1.
type CurveShape struct {
	ID        string            `json:"id" db:"id"`
	Name      string            `json:"name" db:"name"`
	Kind      ShapeKind         `json:"kind" db:"kind"`
	Params    ShapeParams       `json:"params" db:"params"`
	Points    []decimal.Decimal `json:"points" db:"points"`
	IsDefault bool              `json:"is_default" db:"is_default"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
