package book

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flipside/market-engine/internal/model"
	"github.com/flipside/market-engine/internal/store"
)

// draft is the working state of one atomic operation: a read-through overlay
// on the store plus the accumulated mutations. Reads consult the overlay
// first so the operation always sees its own writes; commit produces a
// single ChangeSet and nothing reaches the store before Apply.
type draft struct {
	ctx context.Context
	st  store.Store
	now time.Time

	accounts  map[string]*model.Account
	markets   map[string]*model.Market
	orders    map[string]*model.Order
	positions map[string]*model.Position
	exposure  *model.Exposure

	dirtyAccounts  map[string]bool
	dirtyMarkets   map[string]bool
	dirtyOrders    map[string]bool
	dirtyPositions map[string]bool
	dirtyExposure  bool

	journal []model.JournalEntry
}

func newDraft(ctx context.Context, st store.Store) *draft {
	return &draft{
		ctx:            ctx,
		st:             st,
		now:            time.Now().UTC(),
		accounts:       make(map[string]*model.Account),
		markets:        make(map[string]*model.Market),
		orders:         make(map[string]*model.Order),
		positions:      make(map[string]*model.Position),
		dirtyAccounts:  make(map[string]bool),
		dirtyMarkets:   make(map[string]bool),
		dirtyOrders:    make(map[string]bool),
		dirtyPositions: make(map[string]bool),
	}
}

// --- Loads (overlay first, store second) ---

func (d *draft) account(id string) (*model.Account, error) {
	if a, ok := d.accounts[id]; ok {
		return a, nil
	}
	a, err := d.st.GetAccount(d.ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	d.accounts[id] = a
	return a, nil
}

func (d *draft) market(id string) (*model.Market, error) {
	if m, ok := d.markets[id]; ok {
		return m, nil
	}
	m, err := d.st.GetMarket(d.ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	d.markets[id] = m
	return m, nil
}

func (d *draft) order(id string) (*model.Order, error) {
	if o, ok := d.orders[id]; ok {
		return o, nil
	}
	o, err := d.st.GetOrder(d.ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	d.orders[id] = o
	return o, nil
}

// restingOrders merges the store's resting orders with the overlay: orders
// already loaded keep their draft state (and drop out once no longer
// resting), and draft-created orders join the set.
func (d *draft) restingOrders(marketID string, side model.Side) ([]model.Order, error) {
	stored, err := d.st.ListRestingOrders(d.ctx, marketID, side)
	if err != nil {
		return nil, err
	}
	return d.mergeOrders(stored, func(o *model.Order) bool {
		return o.MarketID == marketID && o.Resting() && (side == "" || o.Side == side)
	}), nil
}

// restingOrdersByAccount is the cross-market variant used by the pullback
// pass and deployment.
func (d *draft) restingOrdersByAccount(accountID string) ([]model.Order, error) {
	stored, err := d.st.ListRestingOrdersByAccount(d.ctx, accountID)
	if err != nil {
		return nil, err
	}
	return d.mergeOrders(stored, func(o *model.Order) bool {
		return o.AccountID == accountID && o.Resting()
	}), nil
}

func (d *draft) mergeOrders(stored []model.Order, match func(*model.Order) bool) []model.Order {
	seen := make(map[string]bool, len(stored))
	merged := make([]model.Order, 0, len(stored))
	for _, o := range stored {
		seen[o.ID] = true
		if cached, ok := d.orders[o.ID]; ok {
			if match(cached) {
				merged = append(merged, *cached)
			}
			continue
		}
		merged = append(merged, o)
	}
	for id, o := range d.orders {
		if !seen[id] && match(o) {
			merged = append(merged, *o)
		}
	}
	sortOrders(merged)
	return merged
}

// activePositionsByAccount merges store and overlay, ordered oldest first.
func (d *draft) activePositionsByAccount(accountID string) ([]model.Position, error) {
	stored, err := d.st.ListActivePositionsByAccount(d.ctx, accountID)
	if err != nil {
		return nil, err
	}
	return d.mergePositions(stored, func(p *model.Position) bool {
		return p.Status == model.PositionActive &&
			(p.YesAccountID == accountID || p.NoAccountID == accountID)
	}), nil
}

func (d *draft) activePositionsByMarket(marketID string) ([]model.Position, error) {
	stored, err := d.st.ListActivePositions(d.ctx, marketID)
	if err != nil {
		return nil, err
	}
	return d.mergePositions(stored, func(p *model.Position) bool {
		return p.Status == model.PositionActive && p.MarketID == marketID
	}), nil
}

func (d *draft) mergePositions(stored []model.Position, match func(*model.Position) bool) []model.Position {
	seen := make(map[string]bool, len(stored))
	merged := make([]model.Position, 0, len(stored))
	for _, p := range stored {
		seen[p.ID] = true
		if cached, ok := d.positions[p.ID]; ok {
			if match(cached) {
				merged = append(merged, *cached)
			}
			continue
		}
		merged = append(merged, p)
	}
	for id, p := range d.positions {
		if !seen[id] && match(p) {
			merged = append(merged, *p)
		}
	}
	sortPositions(merged)
	return merged
}

// position fetches a row already in the overlay or seeds it from a listed
// copy; callers pass the listed value so no extra store round trip is needed.
func (d *draft) position(p model.Position) *model.Position {
	if cached, ok := d.positions[p.ID]; ok {
		return cached
	}
	copy := p
	d.positions[p.ID] = &copy
	return &copy
}

func (d *draft) exposureSnapshot() (*model.Exposure, error) {
	if d.exposure != nil {
		return d.exposure, nil
	}
	e, err := d.st.GetExposure(d.ctx)
	if err != nil {
		return nil, err
	}
	d.exposure = e
	return e, nil
}

// --- Mutations ---

func (d *draft) markAccount(a *model.Account)   { d.accounts[a.ID] = a; d.dirtyAccounts[a.ID] = true }
func (d *draft) markMarket(m *model.Market)     { d.markets[m.ID] = m; d.dirtyMarkets[m.ID] = true }
func (d *draft) markOrder(o *model.Order)       { d.orders[o.ID] = o; d.dirtyOrders[o.ID] = true }
func (d *draft) markPosition(p *model.Position) { d.positions[p.ID] = p; d.dirtyPositions[p.ID] = true }

func (d *draft) markExposure(e *model.Exposure) {
	d.exposure = e
	d.dirtyExposure = true
}

// credit adds amount to the account balance and journals the movement.
// A negative amount is an invariant violation, never a disguised debit.
func (d *draft) credit(a *model.Account, amount int64, kind model.JournalKind, refID string) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return fmt.Errorf("credit %d to account %s: %w", amount, a.ID, ErrInvariant)
	}
	a.Balance += amount
	d.markAccount(a)
	d.appendJournal(a.ID, kind, amount, refID)
	return nil
}

// debit subtracts amount from the account balance. A negative amount or a
// balance that would go negative is an invariant violation: callers check
// funds before reserving, so this firing means the operation's own
// arithmetic is wrong.
func (d *draft) debit(a *model.Account, amount int64, kind model.JournalKind, refID string) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 || a.Balance-amount < 0 {
		return fmt.Errorf("debit %d from account %s (balance %d): %w",
			amount, a.ID, a.Balance, ErrInvariant)
	}
	a.Balance -= amount
	d.markAccount(a)
	d.appendJournal(a.ID, kind, -amount, refID)
	return nil
}

func (d *draft) appendJournal(accountID string, kind model.JournalKind, amount int64, refID string) {
	d.journal = append(d.journal, model.JournalEntry{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Kind:      kind,
		Amount:    amount,
		RefID:     refID,
		CreatedAt: d.now,
	})
}

// changeset collects every dirty row into one atomic write.
func (d *draft) changeset() *store.ChangeSet {
	cs := &store.ChangeSet{Journal: d.journal}
	for id := range d.dirtyAccounts {
		cs.Accounts = append(cs.Accounts, *d.accounts[id])
	}
	for id := range d.dirtyMarkets {
		cs.Markets = append(cs.Markets, *d.markets[id])
	}
	for id := range d.dirtyOrders {
		cs.Orders = append(cs.Orders, *d.orders[id])
	}
	for id := range d.dirtyPositions {
		cs.Positions = append(cs.Positions, *d.positions[id])
	}
	if d.dirtyExposure {
		e := *d.exposure
		cs.Exposure = &e
	}
	return cs
}

func (d *draft) commit() error {
	cs := d.changeset()
	if cs.Empty() {
		return nil
	}
	return d.st.Apply(d.ctx, cs)
}
