// Package book implements the order-matching engine: a price-time-priority
// double auction over binary-outcome markets with exact integer accounting.
//
// Every mutating operation is one atomic unit. The engine computes the whole
// operation against a draft overlay and commits a single ChangeSet; on any
// error nothing is written. Mutating operations are serialized with a mutex
// (single-instance; for horizontal scaling, replace with row-level locking
// on the orders and accounts touched).
package book

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/flipside/market-engine/internal/model"
	"github.com/flipside/market-engine/internal/risk"
	"github.com/flipside/market-engine/internal/store"
	"github.com/flipside/market-engine/internal/symbol"
)

// Engine executes orders against the ledger store.
type Engine struct {
	store store.Store
	risk  *risk.Controller
	mu    chanLock
}

// chanLock is a context-aware mutex: lock acquisition respects ctx
// cancellation so a caller abandoning a request does not queue forever.
type chanLock chan struct{}

func (l chanLock) lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l chanLock) unlock() { <-l }

// NewEngine creates an engine over the given store and risk controller.
func NewEngine(st store.Store, rc *risk.Controller) *Engine {
	return &Engine{
		store: st,
		risk:  rc,
		mu:    make(chanLock, 1),
	}
}

// Store exposes the underlying store for read-only collaborators.
func (e *Engine) Store() store.Store { return e.store }

// Risk exposes the risk controller.
func (e *Engine) Risk() *risk.Controller { return e.risk }

// --- Results ---

// Fill describes one matched slice of an incoming order.
type Fill struct {
	PositionID     string `json:"position_id"`
	MakerOrderID   string `json:"maker_order_id"`
	MakerAccountID string `json:"maker_account_id"`
	TradePrice     int64  `json:"trade_price"` // YES side's per-share cost
	Shares         int64  `json:"shares"`
	TakerCost      int64  `json:"taker_cost"`
}

// AutoSettleResult reports immediate netting of offsetting YES/NO holdings.
type AutoSettleResult struct {
	NettedShares int64 `json:"netted_shares"`
	Credited     int64 `json:"credited"`
}

// PlaceResult is the outcome of PlaceOrder.
type PlaceResult struct {
	Order             model.Order       `json:"order"`
	Fills             []Fill            `json:"fills"`
	Reserved          int64             `json:"reserved"`
	Refund            int64             `json:"refund"`
	AutoSettle        *AutoSettleResult `json:"auto_settle,omitempty"`
	PullbackTriggered bool              `json:"pullback_triggered"`
	Exposure          *model.Exposure   `json:"exposure,omitempty"`
}

// CancelResult is the outcome of CancelOrder.
type CancelResult struct {
	Order    model.Order `json:"order"`
	Refunded int64       `json:"refunded"`
}

// ResolutionResult is the outcome of ResolveMarket or CancelMarket.
type ResolutionResult struct {
	MarketID          string     `json:"market_id"`
	Outcome           model.Side `json:"outcome,omitempty"`
	PositionsSettled  int        `json:"positions_settled"`
	PaidOut           int64      `json:"paid_out"`
	OrdersCancelled   int        `json:"orders_cancelled"`
	ReservationRefund int64      `json:"reservation_refund"`
}

// BookLevel is one aggregated price level of the order book.
type BookLevel struct {
	Side   model.Side `json:"side"`
	Price  int64      `json:"price"`
	Shares int64      `json:"shares"`
	Orders int        `json:"orders"`
}

// --- Accounts and markets ---

// CreateAccount creates an account with a starting balance. An empty id is
// assigned a UUID.
func (e *Engine) CreateAccount(ctx context.Context, id string, balance int64) (*model.Account, error) {
	if balance < 0 {
		return nil, fmt.Errorf("starting balance %d: %w", balance, ErrInvalidArgument)
	}
	if id == "" {
		id = uuid.New().String()
	}

	if err := e.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.unlock()

	d := newDraft(ctx, e.store)
	switch _, err := d.account(id); {
	case err == nil:
		return nil, fmt.Errorf("account %s exists: %w", id, ErrInvalidState)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	acct := &model.Account{ID: id, Balance: balance, CreatedAt: d.now}
	d.markAccount(acct)
	if balance > 0 {
		d.appendJournal(id, model.JournalDeposit, balance, id)
	}
	if err := d.commit(); err != nil {
		return nil, err
	}

	slog.Info("account created", "id", id, "balance", balance)
	return acct, nil
}

// CreateMarket creates an open market after validating the symbol.
func (e *Engine) CreateMarket(ctx context.Context, sym, question string) (*model.Market, error) {
	if _, err := symbol.Parse(sym); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidArgument)
	}

	if err := e.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.unlock()

	d := newDraft(ctx, e.store)
	market := &model.Market{
		ID:        uuid.New().String(),
		Symbol:    sym,
		Question:  question,
		Status:    model.MarketOpen,
		CreatedAt: d.now,
	}
	d.markMarket(market)
	if err := d.commit(); err != nil {
		return nil, err
	}

	slog.Info("market created", "id", market.ID, "symbol", sym)
	return market, nil
}

// --- Order placement ---

// PlaceOrder reserves shares × price, matches the order against the opposite
// side of the book in price-time priority, rests any residual, refunds price
// improvement, auto-settles offsetting holdings, and, when the fill moves
// the bot across a risk tier, shrinks every resting bot order. All of it
// lands in one atomic commit.
func (e *Engine) PlaceOrder(ctx context.Context, accountID, marketID string, side model.Side, price, shares int64) (*PlaceResult, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("side %q: %w", side, ErrInvalidArgument)
	}
	if price < model.MinPrice || price > model.MaxPrice {
		return nil, fmt.Errorf("price %d outside [%d, %d]: %w",
			price, model.MinPrice, model.MaxPrice, ErrInvalidArgument)
	}
	if shares <= 0 || shares > model.MaxOrderShares {
		return nil, fmt.Errorf("shares %d outside (0, %d]: %w", shares, model.MaxOrderShares, ErrInvalidArgument)
	}

	if err := e.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.unlock()

	d := newDraft(ctx, e.store)

	acct, err := d.account(accountID)
	if err != nil {
		return nil, err
	}
	market, err := d.market(marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != model.MarketOpen {
		return nil, fmt.Errorf("market %s is %s: %w", marketID, market.Status, ErrInvalidState)
	}

	// Reserve the most the order can cost.
	reserve := shares * price
	if acct.Balance < reserve {
		return nil, &InsufficientFundsError{Required: reserve, Available: acct.Balance}
	}

	order := &model.Order{
		ID:        uuid.New().String(),
		AccountID: accountID,
		MarketID:  marketID,
		Side:      side,
		Price:     price,
		Shares:    shares,
		Status:    model.OrderOpen,
		CreatedAt: d.now,
	}
	if err := d.debit(acct, reserve, model.JournalReserve, order.ID); err != nil {
		return nil, err
	}

	fills, actualCost, err := e.match(d, order)
	if err != nil {
		return nil, err
	}

	// Residual rests at the limit price.
	actualCost += order.Remaining() * price
	switch {
	case order.Filled == order.Shares:
		order.Status = model.OrderFilled
	case order.Filled > 0:
		order.Status = model.OrderPartial
	}
	d.markOrder(order)

	// Price improvement: the reservation minus what the order actually cost.
	refund := reserve - actualCost
	if refund < 0 {
		return nil, fmt.Errorf("refund %d for order %s: %w", refund, order.ID, ErrInvariant)
	}
	if err := d.credit(acct, refund, model.JournalRefund, order.ID); err != nil {
		return nil, err
	}

	settle, err := e.autoSettle(d, accountID, marketID)
	if err != nil {
		return nil, err
	}

	result := &PlaceResult{
		Fills:      fills,
		Reserved:   reserve,
		Refund:     refund,
		AutoSettle: settle,
	}

	// Risk pass: any fill that touches the bot re-evaluates exposure and,
	// on a tier crossing, shrinks the bot's resting orders within this
	// same commit. A bot residual that just rested shrinks too, so the
	// returned order is snapshotted after the pass.
	if e.botTouched(d, accountID) {
		snap, triggered, err := e.riskPass(d)
		if err != nil {
			return nil, err
		}
		result.Exposure = snap
		result.PullbackTriggered = triggered
	}
	result.Order = *order

	if err := d.commit(); err != nil {
		return nil, err
	}

	slog.Info("order placed",
		"order", order.ID,
		"account", accountID,
		"market", marketID,
		"side", side,
		"price", price,
		"shares", shares,
		"filled", order.Filled,
		"fills", len(fills),
		"refund", refund,
		"pullback", result.PullbackTriggered,
	)
	return result, nil
}

// match walks eligible makers in price-time priority and records a position
// per consumed slice. Returns the fills and the taker's matched cost.
func (e *Engine) match(d *draft, taker *model.Order) ([]Fill, int64, error) {
	makers, err := d.restingOrders(taker.MarketID, taker.Side.Opposite())
	if err != nil {
		return nil, 0, err
	}

	// Eligible: prices cross and the maker is not the taker's own order.
	eligible := makers[:0]
	for _, m := range makers {
		if m.AccountID == taker.AccountID {
			continue
		}
		if m.Price+taker.Price >= model.PayoutPerShare {
			eligible = append(eligible, m)
		}
	}

	// Most favorable price to the taker first: the taker pays P − makerPrice,
	// so a higher maker price is cheaper. Ties by earliest creation.
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Price != eligible[j].Price {
			return eligible[i].Price > eligible[j].Price
		}
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	var fills []Fill
	var matchedCost int64

	for i := range eligible {
		if taker.Remaining() == 0 {
			break
		}
		maker, err := d.order(eligible[i].ID)
		if err != nil {
			return nil, 0, err
		}

		q := taker.Remaining()
		if maker.Remaining() < q {
			q = maker.Remaining()
		}
		if q <= 0 {
			continue
		}

		// The trade happens at the maker's stated price; the recorded trade
		// price is always the YES side's per-share cost.
		sliceCost := (model.PayoutPerShare - maker.Price) * q
		tradePrice := maker.Price
		if maker.Side == model.SideNo {
			tradePrice = model.PayoutPerShare - maker.Price
		}

		pos := &model.Position{
			ID:         uuid.New().String(),
			MarketID:   taker.MarketID,
			TradePrice: tradePrice,
			Shares:     q,
			Status:     model.PositionActive,
			CreatedAt:  d.now,
		}
		if taker.Side == model.SideYes {
			pos.YesAccountID, pos.YesOrderID = taker.AccountID, taker.ID
			pos.NoAccountID, pos.NoOrderID = maker.AccountID, maker.ID
		} else {
			pos.YesAccountID, pos.YesOrderID = maker.AccountID, maker.ID
			pos.NoAccountID, pos.NoOrderID = taker.AccountID, taker.ID
		}
		d.markPosition(pos)

		maker.Filled += q
		if maker.Filled == maker.Shares {
			maker.Status = model.OrderFilled
		} else {
			maker.Status = model.OrderPartial
		}
		d.markOrder(maker)

		taker.Filled += q
		matchedCost += sliceCost

		fills = append(fills, Fill{
			PositionID:     pos.ID,
			MakerOrderID:   maker.ID,
			MakerAccountID: maker.AccountID,
			TradePrice:     tradePrice,
			Shares:         q,
			TakerCost:      sliceCost,
		})

		if taker.Filled > taker.Shares || maker.Filled > maker.Shares {
			return nil, 0, fmt.Errorf("overfill matching order %s: %w", taker.ID, ErrInvariant)
		}
	}

	return fills, matchedCost, nil
}

// autoSettle nets an account's offsetting YES/NO holdings in one market: the
// smaller side's share count is settled immediately at the full payout (a
// fully hedged position is riskless), oldest positions first. The netted
// slices of the two source positions are re-paired into a new position
// between the remaining counterparties so their claims survive.
func (e *Engine) autoSettle(d *draft, accountID, marketID string) (*AutoSettleResult, error) {
	positions, err := d.activePositionsByAccount(accountID)
	if err != nil {
		return nil, err
	}

	var yes, no []*model.Position
	var totalYes, totalNo int64
	for _, p := range positions {
		if p.MarketID != marketID {
			continue
		}
		dp := d.position(p)
		if dp.YesAccountID == accountID {
			yes = append(yes, dp)
			totalYes += dp.Shares
		} else {
			no = append(no, dp)
			totalNo += dp.Shares
		}
	}

	net := totalYes
	if totalNo < net {
		net = totalNo
	}
	if net <= 0 {
		return nil, nil
	}

	acct, err := d.account(accountID)
	if err != nil {
		return nil, err
	}

	remaining := net
	i, j := 0, 0
	for remaining > 0 {
		py, pn := yes[i], no[j]

		k := remaining
		if py.Shares < k {
			k = py.Shares
		}
		if pn.Shares < k {
			k = pn.Shares
		}

		counterYes := pn.YesAccountID // holds YES against the account's NO
		counterNo := py.NoAccountID   // holds NO against the account's YES

		e.consumeSlice(d, py, k)
		e.consumeSlice(d, pn, k)

		if counterYes == counterNo {
			// Both counterparties are the same account: its offsetting pair
			// is riskless too, so it is paid out directly.
			counter, err := d.account(counterYes)
			if err != nil {
				return nil, err
			}
			if err := d.credit(counter, k*model.PayoutPerShare, model.JournalSettlement, marketID); err != nil {
				return nil, err
			}
		} else {
			novated := &model.Position{
				ID:           uuid.New().String(),
				MarketID:     marketID,
				YesAccountID: counterYes,
				NoAccountID:  counterNo,
				YesOrderID:   pn.YesOrderID,
				NoOrderID:    py.NoOrderID,
				TradePrice:   pn.TradePrice,
				Shares:       k,
				Status:       model.PositionActive,
				CreatedAt:    d.now,
			}
			d.markPosition(novated)
		}

		if err := d.credit(acct, k*model.PayoutPerShare, model.JournalSettlement, marketID); err != nil {
			return nil, err
		}
		remaining -= k

		if py.Status != model.PositionActive {
			i++
		}
		if pn.Status != model.PositionActive {
			j++
		}
	}

	credited := net * model.PayoutPerShare
	slog.Info("auto-settled hedged holdings",
		"account", accountID, "market", marketID, "shares", net, "credited", credited)
	return &AutoSettleResult{NettedShares: net, Credited: credited}, nil
}

// consumeSlice settles k shares of an active position. A full consume
// settles the row; a partial consume splits it, leaving the remainder
// active and recording the consumed slice as a settled row.
func (e *Engine) consumeSlice(d *draft, p *model.Position, k int64) {
	now := d.now
	if k == p.Shares {
		p.Status = model.PositionSettled
		p.SettledAt = &now
		d.markPosition(p)
		return
	}
	p.Shares -= k
	d.markPosition(p)

	settled := *p
	settled.ID = uuid.New().String()
	settled.Shares = k
	settled.Status = model.PositionSettled
	settled.SettledAt = &now
	d.markPosition(&settled)
}

// botTouched reports whether this operation changed any position involving
// the bot (or was placed by the bot itself).
func (e *Engine) botTouched(d *draft, takerAccountID string) bool {
	bot := e.risk.BotAccountID()
	if bot == "" {
		return false
	}
	if takerAccountID == bot {
		return true
	}
	for id := range d.dirtyPositions {
		p := d.positions[id]
		if p.YesAccountID == bot || p.NoAccountID == bot {
			return true
		}
	}
	return false
}

// riskPass recomputes bot exposure inside the draft and updates the
// snapshot. If the exposure tier changed it shrinks every resting bot order
// to floor(remaining × pullbackRatio), cancelling orders that fall below the
// minimum tradeable size and refunding every released reservation.
func (e *Engine) riskPass(d *draft) (*model.Exposure, bool, error) {
	bot := e.risk.BotAccountID()

	positions, err := d.activePositionsByAccount(bot)
	if err != nil {
		return nil, false, err
	}
	exposure := e.risk.Exposure(positions)
	tier := e.risk.Tier(exposure)

	prev, err := d.exposureSnapshot()
	if err != nil {
		return nil, false, err
	}

	snap := &model.Exposure{
		TotalAtRisk:    exposure,
		Tier:           tier,
		LastPullbackAt: prev.LastPullbackAt,
	}

	if tier == prev.Tier {
		d.markExposure(snap)
		return snap, false, nil
	}

	botAcct, err := d.account(bot)
	if err != nil {
		return nil, false, err
	}
	resting, err := d.restingOrdersByAccount(bot)
	if err != nil {
		return nil, false, err
	}

	for _, ro := range resting {
		o, err := d.order(ro.ID)
		if err != nil {
			return nil, false, err
		}
		remaining := o.Remaining()
		target := e.risk.ShrinkTo(remaining, exposure)
		if target >= remaining {
			continue
		}
		if target < e.risk.MinOrderShares() {
			target = 0
		}

		released := remaining - target
		o.Shares -= released
		if o.Remaining() == 0 {
			o.Status = model.OrderCancelled
		}
		d.markOrder(o)
		if err := d.credit(botAcct, released*o.Price, model.JournalRefund, o.ID); err != nil {
			return nil, false, err
		}
	}

	snap.LastPullbackAt = d.now
	d.markExposure(snap)

	slog.Info("pullback applied",
		"exposure", exposure,
		"tier", tier,
		"prev_tier", prev.Tier,
		"orders", len(resting),
	)
	return snap, true, nil
}

// --- Cancellation ---

// CancelOrder cancels a resting order owned by the caller and refunds the
// unfilled reservation at the limit price.
func (e *Engine) CancelOrder(ctx context.Context, accountID, orderID string) (*CancelResult, error) {
	if err := e.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.unlock()

	d := newDraft(ctx, e.store)

	order, err := d.order(orderID)
	if err != nil {
		return nil, err
	}
	if order.AccountID != accountID {
		return nil, fmt.Errorf("order %s is not owned by %s: %w", orderID, accountID, ErrForbidden)
	}
	if !order.Resting() {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, ErrInvalidState)
	}

	acct, err := d.account(accountID)
	if err != nil {
		return nil, err
	}

	refund := order.Remaining() * order.Price
	order.Status = model.OrderCancelled
	d.markOrder(order)
	if err := d.credit(acct, refund, model.JournalRefund, order.ID); err != nil {
		return nil, err
	}

	if err := d.commit(); err != nil {
		return nil, err
	}

	slog.Info("order cancelled", "order", orderID, "account", accountID, "refund", refund)
	return &CancelResult{Order: *order, Refunded: refund}, nil
}

// --- Resolution ---

// ResolveMarket pays shares × payout to every active position's winning
// side, cancels and refunds every resting order, and marks the market
// resolved, all atomically. A second call is rejected, never a double payout.
func (e *Engine) ResolveMarket(ctx context.Context, marketID string, outcome model.Side) (*ResolutionResult, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("outcome %q: %w", outcome, ErrInvalidArgument)
	}

	if err := e.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.unlock()

	d := newDraft(ctx, e.store)

	market, err := d.market(marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != model.MarketOpen && market.Status != model.MarketPending {
		return nil, fmt.Errorf("market %s is %s: %w", marketID, market.Status, ErrInvalidState)
	}

	result := &ResolutionResult{MarketID: marketID, Outcome: outcome}

	positions, err := d.activePositionsByMarket(marketID)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		dp := d.position(p)
		winner, err := d.account(dp.Holder(outcome))
		if err != nil {
			return nil, err
		}
		payout := dp.Shares * model.PayoutPerShare
		if err := d.credit(winner, payout, model.JournalPayout, dp.ID); err != nil {
			return nil, err
		}

		now := d.now
		dp.Status = model.PositionSettled
		dp.Winner = outcome
		dp.SettledAt = &now
		d.markPosition(dp)

		result.PositionsSettled++
		result.PaidOut += payout
	}

	if err := e.cancelMarketOrders(d, marketID, result); err != nil {
		return nil, err
	}

	market.Status = model.MarketResolved
	market.Resolution = outcome
	d.markMarket(market)

	if e.botTouched(d, "") {
		if _, _, err := e.updateExposureSnapshot(d); err != nil {
			return nil, err
		}
	}

	if err := d.commit(); err != nil {
		return nil, err
	}

	slog.Info("market resolved",
		"market", marketID,
		"outcome", outcome,
		"positions", result.PositionsSettled,
		"paid_out", result.PaidOut,
		"orders_cancelled", result.OrdersCancelled,
	)
	return result, nil
}

// CancelMarket voids a market: both sides of every active position are
// refunded at their entry cost and every resting order is cancelled.
func (e *Engine) CancelMarket(ctx context.Context, marketID string) (*ResolutionResult, error) {
	if err := e.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.unlock()

	d := newDraft(ctx, e.store)

	market, err := d.market(marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != model.MarketOpen && market.Status != model.MarketPending {
		return nil, fmt.Errorf("market %s is %s: %w", marketID, market.Status, ErrInvalidState)
	}

	result := &ResolutionResult{MarketID: marketID}

	positions, err := d.activePositionsByMarket(marketID)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		dp := d.position(p)

		yesAcct, err := d.account(dp.YesAccountID)
		if err != nil {
			return nil, err
		}
		if err := d.credit(yesAcct, dp.Shares*dp.TradePrice, model.JournalRefund, dp.ID); err != nil {
			return nil, err
		}

		noAcct, err := d.account(dp.NoAccountID)
		if err != nil {
			return nil, err
		}
		if err := d.credit(noAcct, dp.Shares*(model.PayoutPerShare-dp.TradePrice), model.JournalRefund, dp.ID); err != nil {
			return nil, err
		}

		now := d.now
		dp.Status = model.PositionRefunded
		dp.SettledAt = &now
		d.markPosition(dp)

		result.PositionsSettled++
		result.PaidOut += dp.Shares * model.PayoutPerShare
	}

	if err := e.cancelMarketOrders(d, marketID, result); err != nil {
		return nil, err
	}

	market.Status = model.MarketCancelled
	d.markMarket(market)

	if e.botTouched(d, "") {
		if _, _, err := e.updateExposureSnapshot(d); err != nil {
			return nil, err
		}
	}

	if err := d.commit(); err != nil {
		return nil, err
	}

	slog.Info("market cancelled",
		"market", marketID,
		"positions_refunded", result.PositionsSettled,
		"orders_cancelled", result.OrdersCancelled,
	)
	return result, nil
}

func (e *Engine) cancelMarketOrders(d *draft, marketID string, result *ResolutionResult) error {
	orders, err := d.restingOrders(marketID, "")
	if err != nil {
		return err
	}
	for _, ro := range orders {
		o, err := d.order(ro.ID)
		if err != nil {
			return err
		}
		acct, err := d.account(o.AccountID)
		if err != nil {
			return err
		}
		refund := o.Remaining() * o.Price
		o.Status = model.OrderCancelled
		d.markOrder(o)
		if err := d.credit(acct, refund, model.JournalRefund, o.ID); err != nil {
			return err
		}

		result.OrdersCancelled++
		result.ReservationRefund += refund
	}
	return nil
}

// updateExposureSnapshot refreshes total and tier without a pullback pass;
// used by resolution paths, which are not fills.
func (e *Engine) updateExposureSnapshot(d *draft) (*model.Exposure, bool, error) {
	positions, err := d.activePositionsByAccount(e.risk.BotAccountID())
	if err != nil {
		return nil, false, err
	}
	exposure := e.risk.Exposure(positions)

	prev, err := d.exposureSnapshot()
	if err != nil {
		return nil, false, err
	}
	snap := &model.Exposure{
		TotalAtRisk:    exposure,
		Tier:           e.risk.Tier(exposure),
		LastPullbackAt: prev.LastPullbackAt,
	}
	d.markExposure(snap)
	return snap, false, nil
}

// --- Reads ---

// GetExposure recomputes the bot's worst-case loss from open positions; the
// last-pullback timestamp comes from the stored snapshot.
func (e *Engine) GetExposure(ctx context.Context) (*model.Exposure, error) {
	positions, err := e.store.ListActivePositionsByAccount(ctx, e.risk.BotAccountID())
	if err != nil {
		return nil, err
	}
	exposure := e.risk.Exposure(positions)

	snap, err := e.store.GetExposure(ctx)
	if err != nil {
		return nil, err
	}
	return &model.Exposure{
		TotalAtRisk:    exposure,
		Tier:           e.risk.Tier(exposure),
		LastPullbackAt: snap.LastPullbackAt,
	}, nil
}

// BookSnapshot aggregates a market's resting orders into price levels,
// YES levels before NO, best price (for the opposite taker) first.
func (e *Engine) BookSnapshot(ctx context.Context, marketID string) ([]BookLevel, error) {
	if _, err := e.store.GetMarket(ctx, marketID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("market %s: %w", marketID, ErrNotFound)
		}
		return nil, err
	}

	orders, err := e.store.ListRestingOrders(ctx, marketID, "")
	if err != nil {
		return nil, err
	}

	type key struct {
		side  model.Side
		price int64
	}
	agg := make(map[key]*BookLevel)
	for i := range orders {
		o := &orders[i]
		k := key{o.Side, o.Price}
		lvl, ok := agg[k]
		if !ok {
			lvl = &BookLevel{Side: o.Side, Price: o.Price}
			agg[k] = lvl
		}
		lvl.Shares += o.Remaining()
		lvl.Orders++
	}

	levels := make([]BookLevel, 0, len(agg))
	for _, lvl := range agg {
		levels = append(levels, *lvl)
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Side != levels[j].Side {
			return levels[i].Side == model.SideYes
		}
		return levels[i].Price > levels[j].Price
	})
	return levels, nil
}

// --- sorting helpers shared with the draft ---

func sortOrders(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}

func sortPositions(positions []model.Position) {
	sort.Slice(positions, func(i, j int) bool {
		if !positions[i].CreatedAt.Equal(positions[j].CreatedAt) {
			return positions[i].CreatedAt.Before(positions[j].CreatedAt)
		}
		return positions[i].ID < positions[j].ID
	})
}
