package book_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flipside/market-engine/internal/book"
	"github.com/flipside/market-engine/internal/model"
	"github.com/flipside/market-engine/internal/risk"
	"github.com/flipside/market-engine/internal/store"
)

const testSymbol = "FLIP-POL-SENATE-CONTROL-20261103"

// newTestEngine wires an engine over the in-memory store with a bot risk
// controller capped at maxLoss.
func newTestEngine(t *testing.T, maxLoss int64) (*book.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	rc := risk.NewController(risk.Config{
		BotAccountID: "bot",
		MaxLoss:      maxLoss,
	})
	return book.NewEngine(ms, rc), ms
}

func seedAccount(t *testing.T, e *book.Engine, id string, balance int64) {
	t.Helper()
	if _, err := e.CreateAccount(context.Background(), id, balance); err != nil {
		t.Fatalf("failed to seed account %s: %v", id, err)
	}
}

func seedMarket(t *testing.T, e *book.Engine) string {
	t.Helper()
	m, err := e.CreateMarket(context.Background(), testSymbol, "Which party controls the Senate?")
	if err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	return m.ID
}

func place(t *testing.T, e *book.Engine, account, market string, side model.Side, price, shares int64) *book.PlaceResult {
	t.Helper()
	res, err := e.PlaceOrder(context.Background(), account, market, side, price, shares)
	if err != nil {
		t.Fatalf("place %s %s %d×%d: %v", account, side, shares, price, err)
	}
	return res
}

func balance(t *testing.T, ms *store.MemoryStore, id string) int64 {
	t.Helper()
	acct, err := ms.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load account %s: %v", id, err)
	}
	return acct.Balance
}

// --- Validation ---

func TestPlaceOrder_Validation(t *testing.T) {
	e, _ := newTestEngine(t, 100_000)
	seedAccount(t, e, "alice", 100_000)
	market := seedMarket(t, e)

	cases := []struct {
		name   string
		side   model.Side
		price  int64
		shares int64
	}{
		{"bad side", "maybe", 500, 10},
		{"price zero", model.SideYes, 0, 10},
		{"price too high", model.SideYes, 1000, 10},
		{"price negative", model.SideNo, -5, 10},
		{"zero shares", model.SideYes, 500, 0},
		{"negative shares", model.SideYes, 500, -1},
		{"shares above cap", model.SideYes, 999, model.MaxOrderShares + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.PlaceOrder(context.Background(), "alice", market, tc.side, tc.price, tc.shares)
			if !errors.Is(err, book.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestPlaceOrder_UnknownAccountAndMarket(t *testing.T) {
	e, _ := newTestEngine(t, 100_000)
	seedAccount(t, e, "alice", 100_000)
	market := seedMarket(t, e)

	if _, err := e.PlaceOrder(context.Background(), "ghost", market, model.SideYes, 500, 1); !errors.Is(err, book.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown account, got %v", err)
	}
	if _, err := e.PlaceOrder(context.Background(), "alice", "nope", model.SideYes, 500, 1); !errors.Is(err, book.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown market, got %v", err)
	}
}

func TestPlaceOrder_InsufficientFunds(t *testing.T) {
	e, _ := newTestEngine(t, 100_000)
	seedAccount(t, e, "alice", 4_999)
	market := seedMarket(t, e)

	_, err := e.PlaceOrder(context.Background(), "alice", market, model.SideYes, 500, 10)
	var funds *book.InsufficientFundsError
	if !errors.As(err, &funds) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if funds.Required != 5_000 || funds.Available != 4_999 {
		t.Errorf("expected required=5000 available=4999, got %+v", funds)
	}
}

// A share count big enough to wrap shares×price negative must be rejected
// outright; a wrapped reservation would pass the funds check and a negative
// debit would mint money.
func TestPlaceOrder_HugeShareCountRejected(t *testing.T) {
	e, ms := newTestEngine(t, 100_000)
	seedAccount(t, e, "alice", 1_000)
	market := seedMarket(t, e)

	_, err := e.PlaceOrder(context.Background(), "alice", market, model.SideYes, 999, 9_300_000_000_000_000)
	if !errors.Is(err, book.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if got := balance(t, ms, "alice"); got != 1_000 {
		t.Errorf("balance changed on rejected order: %d", got)
	}
	if levels, err := e.BookSnapshot(context.Background(), market); err != nil || len(levels) != 0 {
		t.Errorf("expected empty book, got %v (err %v)", levels, err)
	}
}

// --- Resting and reservation ---

func TestPlaceOrder_RestsWithReservation(t *testing.T) {
	e, ms := newTestEngine(t, 100_000)
	seedAccount(t, e, "alice", 10_000)
	market := seedMarket(t, e)

	res := place(t, e, "alice", market, model.SideYes, 700, 10)

	if res.Order.Status != model.OrderOpen {
		t.Errorf("expected open order, got %s", res.Order.Status)
	}
	if res.Reserved != 7_000 {
		t.Errorf("expected reservation 7000, got %d", res.Reserved)
	}
	if got := balance(t, ms, "alice"); got != 3_000 {
		t.Errorf("expected balance 3000 after reservation, got %d", got)
	}
	if len(res.Fills) != 0 {
		t.Errorf("expected no fills on an empty book, got %d", len(res.Fills))
	}
}

// --- Matching ---

func TestMatch_ExecutesAtMakerPrice(t *testing.T) {
	e, ms := newTestEngine(t, 100_000)
	seedAccount(t, e, "maker", 10_000)
	seedAccount(t, e, "taker", 10_000)
	market := seedMarket(t, e)

	// Maker offers NO at 400; a YES taker at 700 crosses (400+700 ≥ 1000)
	// and pays the maker's complement price, 600.
	place(t, e, "maker", market, model.SideNo, 400, 10)
	res := place(t, e, "taker", market, model.SideYes, 700, 10)

	if res.Order.Status != model.OrderFilled {
		t.Fatalf("expected filled order, got %s", res.Order.Status)
	}
	if len(res.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(res.Fills))
	}
	f := res.Fills[0]
	if f.TradePrice != 600 {
		t.Errorf("expected trade price 600, got %d", f.TradePrice)
	}
	if f.TakerCost != 6_000 {
		t.Errorf("expected taker cost 6000, got %d", f.TakerCost)
	}
	if res.Refund != 1_000 {
		t.Errorf("expected price-improvement refund 1000, got %d", res.Refund)
	}

	// Taker paid 6000, maker paid 4000; together they fund the full payout.
	if got := balance(t, ms, "taker"); got != 4_000 {
		t.Errorf("expected taker balance 4000, got %d", got)
	}
	if got := balance(t, ms, "maker"); got != 6_000 {
		t.Errorf("expected maker balance 6000, got %d", got)
	}

	positions, err := ms.ListActivePositions(context.Background(), market)
	if err != nil {
		t.Fatalf("failed to list positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	p := positions[0]
	if p.YesAccountID != "taker" || p.NoAccountID != "maker" {
		t.Errorf("unexpected holders: yes=%s no=%s", p.YesAccountID, p.NoAccountID)
	}
	if p.TradePrice != 600 || p.Shares != 10 {
		t.Errorf("unexpected position: price=%d shares=%d", p.TradePrice, p.Shares)
	}
}

func TestMatch_PartialFillRests(t *testing.T) {
	e, _ := newTestEngine(t, 100_000)
	seedAccount(t, e, "maker", 10_000)
	seedAccount(t, e, "taker", 10_000)
	market := seedMarket(t, e)

	place(t, e, "maker", market, model.SideNo, 500, 4)
	res := place(t, e, "taker", market, model.SideYes, 500, 10)

	if res.Order.Status != model.OrderPartial {
		t.Errorf("expected partial order, got %s", res.Order.Status)
	}
	if res.Order.Filled != 4 {
		t.Errorf("expected 4 filled, got %d", res.Order.Filled)
	}
	if res.Order.Remaining() != 6 {
		t.Errorf("expected 6 resting, got %d", res.Order.Remaining())
	}
	// 4 shares at the maker's 500 plus 6 still reserved at the limit price:
	// no refund is due.
	if res.Refund != 0 {
		t.Errorf("expected no refund, got %d", res.Refund)
	}
}

func TestMatch_PriceTimePriority(t *testing.T) {
	e, _ := newTestEngine(t, 100_000)
	seedAccount(t, e, "cheap", 20_000)
	seedAccount(t, e, "rich", 20_000)
	seedAccount(t, e, "taker", 20_000)
	market := seedMarket(t, e)

	// A higher NO price means a cheaper YES fill. The 600 maker must fill
	// before the 500 maker despite arriving later.
	first := place(t, e, "cheap", market, model.SideNo, 500, 5)
	second := place(t, e, "rich", market, model.SideNo, 600, 5)

	res := place(t, e, "taker", market, model.SideYes, 600, 8)
	if len(res.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(res.Fills))
	}
	if res.Fills[0].MakerOrderID != second.Order.ID {
		t.Errorf("expected best-priced maker to fill first")
	}
	if res.Fills[0].TradePrice != 400 || res.Fills[0].Shares != 5 {
		t.Errorf("unexpected first fill: %+v", res.Fills[0])
	}
	if res.Fills[1].MakerOrderID != first.Order.ID {
		t.Errorf("expected second maker to fill the remainder")
	}
	if res.Fills[1].TradePrice != 500 || res.Fills[1].Shares != 3 {
		t.Errorf("unexpected second fill: %+v", res.Fills[1])
	}
}

func TestMatch_TimePriorityAtSamePrice(t *testing.T) {
	e, _ := newTestEngine(t, 100_000)
	seedAccount(t, e, "early", 20_000)
	seedAccount(t, e, "late", 20_000)
	seedAccount(t, e, "taker", 20_000)
	market := seedMarket(t, e)

	early := place(t, e, "early", market, model.SideNo, 500, 5)
	place(t, e, "late", market, model.SideNo, 500, 5)

	res := place(t, e, "taker", market, model.SideYes, 500, 3)
	if len(res.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(res.Fills))
	}
	if res.Fills[0].MakerOrderID != early.Order.ID {
		t.Errorf("expected earliest maker at equal price to fill first")
	}
}

func TestMatch_SkipsOwnOrders(t *testing.T) {
	e, _ := newTestEngine(t, 100_000)
	seedAccount(t, e, "alice", 20_000)
	market := seedMarket(t, e)

	place(t, e, "alice", market, model.SideNo, 500, 10)
	res := place(t, e, "alice", market, model.SideYes, 500, 10)

	if len(res.Fills) != 0 {
		t.Errorf("expected no self-trade fills, got %d", len(res.Fills))
	}
	if res.Order.Status != model.OrderOpen {
		t.Errorf("expected order to rest, got %s", res.Order.Status)
	}
}

func TestMatch_NoCrossNoFill(t *testing.T) {
	e, _ := newTestEngine(t, 100_000)
	seedAccount(t, e, "maker", 10_000)
	seedAccount(t, e, "taker", 10_000)
	market := seedMarket(t, e)

	// 400 + 500 = 900 < 1000: prices do not cross.
	place(t, e, "maker", market, model.SideNo, 400, 10)
	res := place(t, e, "taker", market, model.SideYes, 500, 10)

	if len(res.Fills) != 0 {
		t.Errorf("expected no fills, got %d", len(res.Fills))
	}
}

// --- Auto-settle ---

func TestAutoSettle_NetsOffsettingHoldings(t *testing.T) {
	e, ms := newTestEngine(t, 1_000_000)
	seedAccount(t, e, "alice", 20_000)
	seedAccount(t, e, "bob", 20_000)
	seedAccount(t, e, "carol", 20_000)
	market := seedMarket(t, e)

	// Alice buys YES 10 from Bob, then NO 10 from Carol. Her hedged pair
	// nets to a guaranteed payout; Bob and Carol are re-paired.
	place(t, e, "bob", market, model.SideNo, 400, 10)
	place(t, e, "alice", market, model.SideYes, 600, 10)

	place(t, e, "carol", market, model.SideYes, 700, 10)
	res := place(t, e, "alice", market, model.SideNo, 300, 10)

	if res.AutoSettle == nil {
		t.Fatal("expected auto-settle")
	}
	if res.AutoSettle.NettedShares != 10 {
		t.Errorf("expected 10 netted shares, got %d", res.AutoSettle.NettedShares)
	}
	if res.AutoSettle.Credited != 10_000 {
		t.Errorf("expected 10000 credited, got %d", res.AutoSettle.Credited)
	}

	// Alice paid 600×10 for YES and 300×10 for NO, then got the payout back.
	if got := balance(t, ms, "alice"); got != 20_000-6_000-3_000+10_000 {
		t.Errorf("expected alice balance 21000, got %d", got)
	}

	positions, err := ms.ListActivePositions(context.Background(), market)
	if err != nil {
		t.Fatalf("failed to list positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 novated position, got %d", len(positions))
	}
	p := positions[0]
	if p.YesAccountID != "carol" || p.NoAccountID != "bob" {
		t.Errorf("expected carol-vs-bob novation, got yes=%s no=%s", p.YesAccountID, p.NoAccountID)
	}
	if p.Shares != 10 {
		t.Errorf("expected 10 shares, got %d", p.Shares)
	}

	alicePositions, err := ms.ListActivePositionsByAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("failed to list alice positions: %v", err)
	}
	if len(alicePositions) != 0 {
		t.Errorf("expected alice flat, got %d active positions", len(alicePositions))
	}
}

func TestAutoSettle_PartialNet(t *testing.T) {
	e, ms := newTestEngine(t, 1_000_000)
	seedAccount(t, e, "alice", 20_000)
	seedAccount(t, e, "bob", 20_000)
	seedAccount(t, e, "carol", 20_000)
	market := seedMarket(t, e)

	place(t, e, "bob", market, model.SideNo, 500, 10)
	place(t, e, "alice", market, model.SideYes, 500, 10)

	place(t, e, "carol", market, model.SideYes, 600, 4)
	res := place(t, e, "alice", market, model.SideNo, 400, 4)

	if res.AutoSettle == nil || res.AutoSettle.NettedShares != 4 {
		t.Fatalf("expected 4 netted shares, got %+v", res.AutoSettle)
	}

	alicePositions, err := ms.ListActivePositionsByAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("failed to list alice positions: %v", err)
	}
	if len(alicePositions) != 1 {
		t.Fatalf("expected 1 remaining alice position, got %d", len(alicePositions))
	}
	if alicePositions[0].Shares != 6 {
		t.Errorf("expected 6 YES shares left, got %d", alicePositions[0].Shares)
	}
	_ = ms
}

// --- Cancellation ---

func TestCancelOrder_RefundsRemaining(t *testing.T) {
	e, ms := newTestEngine(t, 100_000)
	seedAccount(t, e, "alice", 10_000)
	market := seedMarket(t, e)

	res := place(t, e, "alice", market, model.SideYes, 700, 10)
	if got := balance(t, ms, "alice"); got != 3_000 {
		t.Fatalf("expected balance 3000 after reservation, got %d", got)
	}

	cancel, err := e.CancelOrder(context.Background(), "alice", res.Order.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancel.Refunded != 7_000 {
		t.Errorf("expected refund 7000, got %d", cancel.Refunded)
	}
	if cancel.Order.Status != model.OrderCancelled {
		t.Errorf("expected cancelled, got %s", cancel.Order.Status)
	}
	if got := balance(t, ms, "alice"); got != 10_000 {
		t.Errorf("expected full balance back, got %d", got)
	}
}

func TestCancelOrder_Errors(t *testing.T) {
	e, _ := newTestEngine(t, 100_000)
	seedAccount(t, e, "alice", 10_000)
	seedAccount(t, e, "bob", 10_000)
	market := seedMarket(t, e)

	res := place(t, e, "alice", market, model.SideYes, 500, 10)

	if _, err := e.CancelOrder(context.Background(), "bob", res.Order.ID); !errors.Is(err, book.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := e.CancelOrder(context.Background(), "alice", "missing"); !errors.Is(err, book.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := e.CancelOrder(context.Background(), "alice", res.Order.ID); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	if _, err := e.CancelOrder(context.Background(), "alice", res.Order.ID); !errors.Is(err, book.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on double cancel, got %v", err)
	}
}

// --- Resolution ---

func TestResolveMarket_PaysWinnersAndRefundsOrders(t *testing.T) {
	e, ms := newTestEngine(t, 1_000_000)
	seedAccount(t, e, "alice", 20_000)
	seedAccount(t, e, "bob", 20_000)
	seedAccount(t, e, "carol", 20_000)
	market := seedMarket(t, e)

	place(t, e, "bob", market, model.SideNo, 400, 10)
	place(t, e, "alice", market, model.SideYes, 600, 10)
	place(t, e, "carol", market, model.SideYes, 300, 5) // rests

	res, err := e.ResolveMarket(context.Background(), market, model.SideYes)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.PositionsSettled != 1 || res.PaidOut != 10_000 {
		t.Errorf("expected 1 position and 10000 paid, got %+v", res)
	}
	if res.OrdersCancelled != 1 || res.ReservationRefund != 1_500 {
		t.Errorf("expected 1 cancelled order refunding 1500, got %+v", res)
	}

	// Alice paid 6000 and won 10000; Bob loses his 4000 stake; Carol is whole.
	if got := balance(t, ms, "alice"); got != 24_000 {
		t.Errorf("expected alice 24000, got %d", got)
	}
	if got := balance(t, ms, "bob"); got != 16_000 {
		t.Errorf("expected bob 16000, got %d", got)
	}
	if got := balance(t, ms, "carol"); got != 20_000 {
		t.Errorf("expected carol 20000, got %d", got)
	}

	m, err := ms.GetMarket(context.Background(), market)
	if err != nil {
		t.Fatalf("failed to load market: %v", err)
	}
	if m.Status != model.MarketResolved || m.Resolution != model.SideYes {
		t.Errorf("expected resolved YES, got %s/%s", m.Status, m.Resolution)
	}
}

func TestResolveMarket_SecondResolutionRejected(t *testing.T) {
	e, ms := newTestEngine(t, 1_000_000)
	seedAccount(t, e, "alice", 20_000)
	seedAccount(t, e, "bob", 20_000)
	market := seedMarket(t, e)

	place(t, e, "bob", market, model.SideNo, 400, 10)
	place(t, e, "alice", market, model.SideYes, 600, 10)

	if _, err := e.ResolveMarket(context.Background(), market, model.SideYes); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	before := balance(t, ms, "alice")

	if _, err := e.ResolveMarket(context.Background(), market, model.SideYes); !errors.Is(err, book.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on re-resolution, got %v", err)
	}
	if got := balance(t, ms, "alice"); got != before {
		t.Errorf("double payout: balance moved from %d to %d", before, got)
	}
}

func TestCancelMarket_RefundsBothSides(t *testing.T) {
	e, ms := newTestEngine(t, 1_000_000)
	seedAccount(t, e, "alice", 20_000)
	seedAccount(t, e, "bob", 20_000)
	market := seedMarket(t, e)

	place(t, e, "bob", market, model.SideNo, 400, 10)
	place(t, e, "alice", market, model.SideYes, 600, 10)

	if _, err := e.CancelMarket(context.Background(), market); err != nil {
		t.Fatalf("cancel market failed: %v", err)
	}

	// Entry costs come back: nobody wins, nobody loses.
	if got := balance(t, ms, "alice"); got != 20_000 {
		t.Errorf("expected alice refunded to 20000, got %d", got)
	}
	if got := balance(t, ms, "bob"); got != 20_000 {
		t.Errorf("expected bob refunded to 20000, got %d", got)
	}
}

// --- Money conservation ---

func TestMoneyConservation(t *testing.T) {
	e, ms := newTestEngine(t, 1_000_000)
	accounts := []string{"alice", "bob", "carol", "dave"}
	var total int64
	for _, id := range accounts {
		seedAccount(t, e, id, 50_000)
		total += 50_000
	}
	market := seedMarket(t, e)

	place(t, e, "alice", market, model.SideNo, 450, 20)
	place(t, e, "bob", market, model.SideYes, 600, 15)
	place(t, e, "carol", market, model.SideYes, 550, 10)
	place(t, e, "dave", market, model.SideNo, 500, 8)
	place(t, e, "bob", market, model.SideNo, 480, 5)

	if _, err := e.ResolveMarket(context.Background(), market, model.SideNo); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// After resolution every reservation and escrow has unwound; the sum of
	// balances must equal the sum of deposits.
	var final int64
	for _, id := range accounts {
		final += balance(t, ms, id)
	}
	if final != total {
		t.Errorf("money not conserved: started %d, ended %d", total, final)
	}
}

// --- Risk pullback ---

func TestPullback_TierCrossingShrinksBotOrders(t *testing.T) {
	e, ms := newTestEngine(t, 10_000)
	seedAccount(t, e, "bot", 100_000)
	seedAccount(t, e, "taker", 100_000)
	market := seedMarket(t, e)

	// Quote the bot cannot match against the taker (400+500 < 1000) so it
	// stays resting through the fill.
	standing := place(t, e, "bot", market, model.SideNo, 400, 10)
	place(t, e, "bot", market, model.SideNo, 500, 2)

	// Two shares fill against the bot: exposure 2×1000 = 2000 of the 10000
	// ceiling crosses from tier 0 to tier 2.
	res := place(t, e, "taker", market, model.SideYes, 500, 2)

	if !res.PullbackTriggered {
		t.Fatal("expected pullback")
	}
	if res.Exposure == nil || res.Exposure.TotalAtRisk != 2_000 {
		t.Fatalf("expected exposure 2000, got %+v", res.Exposure)
	}
	if res.Exposure.Tier != 2 {
		t.Errorf("expected tier 2, got %d", res.Exposure.Tier)
	}
	if res.Exposure.LastPullbackAt.IsZero() {
		t.Error("expected pullback timestamp")
	}

	// floor(10 × (10000−2000)/10000) = 8: the standing quote gives back 2.
	o, err := ms.GetOrder(context.Background(), standing.Order.ID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if o.Remaining() != 8 {
		t.Errorf("expected 8 shares remaining, got %d", o.Remaining())
	}
}

func TestPullback_FullExposureCancelsQuotes(t *testing.T) {
	e, ms := newTestEngine(t, 2_000)
	seedAccount(t, e, "bot", 100_000)
	seedAccount(t, e, "taker", 100_000)
	market := seedMarket(t, e)

	standing := place(t, e, "bot", market, model.SideNo, 400, 10)
	place(t, e, "bot", market, model.SideNo, 500, 2)

	// Exposure 2000 reaches the ceiling: ratio 0, every quote cancelled.
	res := place(t, e, "taker", market, model.SideYes, 500, 2)
	if !res.PullbackTriggered {
		t.Fatal("expected pullback")
	}

	o, err := ms.GetOrder(context.Background(), standing.Order.ID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if o.Status != model.OrderCancelled {
		t.Errorf("expected cancelled quote, got %s", o.Status)
	}

	resting, err := ms.ListRestingOrdersByAccount(context.Background(), "bot")
	if err != nil {
		t.Fatalf("failed to list bot orders: %v", err)
	}
	if len(resting) != 0 {
		t.Errorf("expected no resting bot orders, got %d", len(resting))
	}
}

func TestPullback_NoTriggerWithinTier(t *testing.T) {
	e, _ := newTestEngine(t, 1_000_000)
	seedAccount(t, e, "bot", 100_000)
	seedAccount(t, e, "taker", 100_000)
	market := seedMarket(t, e)

	place(t, e, "bot", market, model.SideNo, 500, 2)
	place(t, e, "bot", market, model.SideNo, 400, 10)

	// Exposure 2000 of 1e6 stays inside tier 0: snapshot updates, no shrink.
	res := place(t, e, "taker", market, model.SideYes, 500, 2)
	if res.PullbackTriggered {
		t.Error("expected no pullback inside the tier")
	}
	if res.Exposure == nil || res.Exposure.TotalAtRisk != 2_000 {
		t.Errorf("expected snapshot exposure 2000, got %+v", res.Exposure)
	}
}

// --- Reads ---

func TestGetExposure_LiveRecompute(t *testing.T) {
	e, _ := newTestEngine(t, 10_000)
	seedAccount(t, e, "bot", 100_000)
	seedAccount(t, e, "taker", 100_000)
	market := seedMarket(t, e)

	place(t, e, "bot", market, model.SideNo, 500, 4)
	place(t, e, "taker", market, model.SideYes, 500, 4)

	exp, err := e.GetExposure(context.Background())
	if err != nil {
		t.Fatalf("exposure failed: %v", err)
	}
	if exp.TotalAtRisk != 4_000 {
		t.Errorf("expected exposure 4000, got %d", exp.TotalAtRisk)
	}
	if exp.Tier != 4 {
		t.Errorf("expected tier 4, got %d", exp.Tier)
	}
}

func TestBookSnapshot_AggregatesLevels(t *testing.T) {
	e, _ := newTestEngine(t, 1_000_000)
	seedAccount(t, e, "alice", 100_000)
	seedAccount(t, e, "bob", 100_000)
	market := seedMarket(t, e)

	place(t, e, "alice", market, model.SideYes, 300, 5)
	place(t, e, "bob", market, model.SideYes, 300, 7)
	place(t, e, "alice", market, model.SideNo, 400, 3)

	levels, err := e.BookSnapshot(context.Background(), market)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if levels[0].Side != model.SideYes || levels[0].Shares != 12 || levels[0].Orders != 2 {
		t.Errorf("unexpected YES level: %+v", levels[0])
	}
	if levels[1].Side != model.SideNo || levels[1].Shares != 3 {
		t.Errorf("unexpected NO level: %+v", levels[1])
	}

	if _, err := e.BookSnapshot(context.Background(), "missing"); !errors.Is(err, book.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Accounts ---

func TestCreateAccount_DuplicateRejected(t *testing.T) {
	e, _ := newTestEngine(t, 100_000)
	seedAccount(t, e, "alice", 1_000)

	if _, err := e.CreateAccount(context.Background(), "alice", 500); !errors.Is(err, book.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for duplicate account, got %v", err)
	}
	if _, err := e.CreateAccount(context.Background(), "neg", -1); !errors.Is(err, book.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for negative balance, got %v", err)
	}
}

func TestCreateMarket_InvalidSymbol(t *testing.T) {
	e, _ := newTestEngine(t, 100_000)

	if _, err := e.CreateMarket(context.Background(), "NOPE-123", "?"); !errors.Is(err, book.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
