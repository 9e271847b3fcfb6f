package ledger

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultbook/vaultbook/pkg/core"
	"github.com/vaultbook/vaultbook/pkg/core/order"
	"github.com/vaultbook/vaultbook/pkg/util"
)

// setupTrade builds the standard fixture: BTC-USDC (tick 1, min 1), alice
// holding 100 USDC with bid order 1, bob holding 50 BTC with ask order 2.
func setupTrade(t *testing.T, e *Engine, takerQty, makerQty int64) {
	t.Helper()
	newTestMarket(t, e)
	mustCreateAccount(t, e, alice)
	mustCreateAccount(t, e, bob)
	mustDeposit(t, e, alice, "USDC", 100)
	mustDeposit(t, e, bob, "BTC", 50)

	if _, err := e.PlaceOrder(&order.Order{
		Owner: alice, ClientOrderID: 1, Symbol: "BTC-USDC",
		Side: order.Bid, Price: 4, Quantity: takerQty,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder(&order.Order{
		Owner: bob, ClientOrderID: 2, Symbol: "BTC-USDC",
		Side: order.Ask, Price: 4, Quantity: makerQty,
	}); err != nil {
		t.Fatal(err)
	}
}

func trade(qty, price int64) *order.Trade {
	return &order.Trade{
		Symbol:       "BTC-USDC",
		Taker:        alice,
		Maker:        bob,
		TakerOrderID: 1,
		MakerOrderID: 2,
		Price:        price,
		Quantity:     qty,
		TakerSide:    order.Bid,
	}
}

func TestExecuteTrade(t *testing.T) {
	e, _ := newTestEngine(t)
	setupTrade(t, e, 10, 50)

	if err := e.ExecuteTrade(authority, trade(10, 4)); err != nil {
		t.Fatalf("ExecuteTrade failed: %v", err)
	}

	a, _ := e.Account(alice)
	if a.Balance("BTC") != 10 || a.Balance("USDC") != 60 {
		t.Errorf("taker balances = %d BTC, %d USDC; want 10, 60", a.Balance("BTC"), a.Balance("USDC"))
	}
	b, _ := e.Account(bob)
	if b.Balance("BTC") != 40 || b.Balance("USDC") != 40 {
		t.Errorf("maker balances = %d BTC, %d USDC; want 40, 40", b.Balance("BTC"), b.Balance("USDC"))
	}
	if a.TotalVolumeTraded != 10 || b.TotalVolumeTraded != 10 {
		t.Errorf("account volumes = %d, %d; want 10, 10", a.TotalVolumeTraded, b.TotalVolumeTraded)
	}

	m, _ := e.Market("BTC-USDC")
	if m.TotalVolume != 10 {
		t.Errorf("market volume = %d, want 10", m.TotalVolume)
	}

	// Taker order filled whole; maker order keeps resting.
	ta, _ := e.Order(alice, 1)
	if ta.Status != order.Filled || ta.Remaining != 0 {
		t.Errorf("taker order = %s/%d, want filled/0", ta.Status, ta.Remaining)
	}
	if a.OpenOrders != 0 {
		t.Errorf("taker openOrders = %d, want 0", a.OpenOrders)
	}
	mo, _ := e.Order(bob, 2)
	if mo.Status != order.PartiallyFilled || mo.Remaining != 40 {
		t.Errorf("maker order = %s/%d, want partially_filled/40", mo.Status, mo.Remaining)
	}
	if b.OpenOrders != 1 {
		t.Errorf("maker openOrders = %d, want 1", b.OpenOrders)
	}

	// Settlement moves value between accounts only.
	vb, _ := e.Vault("BTC")
	vq, _ := e.Vault("USDC")
	if vb.Balance != 50 || vq.Balance != 100 {
		t.Errorf("vaults = %d BTC, %d USDC; want 50, 100", vb.Balance, vq.Balance)
	}
	checkConservation(t, e, "BTC", "USDC")

	trades, err := e.RecentTrades("BTC-USDC", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || trades[0].Quantity != 10 || trades[0].Price != 4 {
		t.Errorf("trade record missing or wrong: %+v", trades)
	}
}

func TestExecuteTradeFillsAcrossMultipleTrades(t *testing.T) {
	e, _ := newTestEngine(t)
	setupTrade(t, e, 10, 50)

	if err := e.ExecuteTrade(authority, trade(4, 4)); err != nil {
		t.Fatal(err)
	}
	o, _ := e.Order(alice, 1)
	if o.Status != order.PartiallyFilled || o.Remaining != 6 {
		t.Errorf("after first fill: %s/%d, want partially_filled/6", o.Status, o.Remaining)
	}

	if err := e.ExecuteTrade(authority, trade(6, 4)); err != nil {
		t.Fatal(err)
	}
	o, _ = e.Order(alice, 1)
	if o.Status != order.Filled || o.Remaining != 0 {
		t.Errorf("after second fill: %s/%d, want filled/0", o.Status, o.Remaining)
	}

	// A filled order cannot be settled against again.
	if err := e.ExecuteTrade(authority, trade(1, 4)); !errors.Is(err, core.ErrInsufficientOrderSize) {
		t.Errorf("settle against filled err = %v, want ErrInsufficientOrderSize", err)
	}
}

func TestMarketSnapshotStableDuringSettlement(t *testing.T) {
	e, _ := newTestEngine(t)
	setupTrade(t, e, 10, 50)

	before, err := e.Market("BTC-USDC")
	if err != nil {
		t.Fatal(err)
	}

	// Hammer market reads while settlements run; records handed out are
	// immutable snapshots, so nothing here may observe a write in flight.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				m, err := e.Market("BTC-USDC")
				if err != nil {
					return
				}
				_ = m.TotalVolume
			}
		}
	}()

	if err := e.ExecuteTrade(authority, trade(4, 4)); err != nil {
		t.Fatal(err)
	}
	if err := e.ExecuteTrade(authority, trade(6, 4)); err != nil {
		t.Fatal(err)
	}
	close(stop)
	<-done

	if before.TotalVolume != 0 {
		t.Errorf("pre-settlement snapshot volume = %d, want 0", before.TotalVolume)
	}
	after, _ := e.Market("BTC-USDC")
	if after.TotalVolume != 10 {
		t.Errorf("volume = %d, want 10", after.TotalVolume)
	}
}

func TestExecuteTradeUnauthorized(t *testing.T) {
	e, _ := newTestEngine(t)
	setupTrade(t, e, 10, 50)

	if err := e.ExecuteTrade(bob, trade(10, 4)); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	// Nothing moved.
	a, _ := e.Account(alice)
	if a.Balance("USDC") != 100 || a.Balance("BTC") != 0 {
		t.Error("failed settlement must not move balances")
	}
}

func TestExecuteTradeValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	setupTrade(t, e, 10, 50)

	tr := trade(0, 4)
	if err := e.ExecuteTrade(authority, tr); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("zero qty err = %v", err)
	}
	tr = trade(10, 0)
	if err := e.ExecuteTrade(authority, tr); !errors.Is(err, core.ErrInvalidPrice) {
		t.Errorf("zero price err = %v", err)
	}
	tr = trade(10, 4)
	tr.Timestamp = -1
	if err := e.ExecuteTrade(authority, tr); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("negative timestamp err = %v", err)
	}

	tr = trade(10, 4)
	tr.MakerOrderID = 99
	if err := e.ExecuteTrade(authority, tr); !errors.Is(err, core.ErrOrderNotFound) {
		t.Errorf("missing maker err = %v", err)
	}

	// Both referenced orders on the same side cannot match.
	tr = trade(10, 4)
	tr.TakerSide = order.Ask
	if err := e.ExecuteTrade(authority, tr); !errors.Is(err, core.ErrOrderNotFound) {
		t.Errorf("side mismatch err = %v", err)
	}

	// Quantity beyond the taker order's remaining.
	tr = trade(11, 4)
	if err := e.ExecuteTrade(authority, tr); !errors.Is(err, core.ErrInsufficientOrderSize) {
		t.Errorf("oversize err = %v", err)
	}
}

func TestExecuteTradeInsufficientBalanceIsAtomic(t *testing.T) {
	e, _ := newTestEngine(t)
	setupTrade(t, e, 10, 50)

	// Notional 10*11 = 110 > alice's 100 USDC. The order states, volume
	// counters, and balances must all stay untouched.
	err := e.ExecuteTrade(authority, trade(10, 11))
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	a, _ := e.Account(alice)
	b, _ := e.Account(bob)
	if a.Balance("USDC") != 100 || a.Balance("BTC") != 0 || b.Balance("BTC") != 50 || b.Balance("USDC") != 0 {
		t.Error("failed settlement must not move balances")
	}
	if a.TotalVolumeTraded != 0 || b.TotalVolumeTraded != 0 {
		t.Error("failed settlement must not count volume")
	}
	ta, _ := e.Order(alice, 1)
	mo, _ := e.Order(bob, 2)
	if ta.Status != order.Open || ta.Remaining != 10 || mo.Status != order.Open || mo.Remaining != 50 {
		t.Error("failed settlement must not touch orders")
	}
	m, _ := e.Market("BTC-USDC")
	if m.TotalVolume != 0 {
		t.Error("failed settlement must not count market volume")
	}
	if trades, _ := e.RecentTrades("BTC-USDC", 10); len(trades) != 0 {
		t.Error("failed settlement must not record a trade")
	}
}

func TestExecuteTradeOverflow(t *testing.T) {
	e, _ := newTestEngine(t)
	newTestMarket(t, e)
	mustCreateAccount(t, e, alice)
	mustCreateAccount(t, e, bob)
	mustDeposit(t, e, alice, "USDC", 100)
	mustDeposit(t, e, bob, "BTC", math.MaxInt64)

	big := int64(math.MaxInt64 / 2)
	if _, err := e.PlaceOrder(&order.Order{
		Owner: alice, ClientOrderID: 1, Symbol: "BTC-USDC",
		Side: order.Bid, Price: 3, Quantity: big,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder(&order.Order{
		Owner: bob, ClientOrderID: 2, Symbol: "BTC-USDC",
		Side: order.Ask, Price: 3, Quantity: big,
	}); err != nil {
		t.Fatal(err)
	}

	// price * quantity exceeds int64: fail closed, nothing changes.
	if err := e.ExecuteTrade(authority, trade(big, 3)); !errors.Is(err, core.ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
	a, _ := e.Account(alice)
	if a.Balance("USDC") != 100 {
		t.Error("overflowed settlement must not move balances")
	}
}

func TestExecuteTradeExpiredOrder(t *testing.T) {
	e, clock := newTestEngine(t)
	newTestMarket(t, e)
	mustCreateAccount(t, e, alice)
	mustCreateAccount(t, e, bob)
	mustDeposit(t, e, alice, "USDC", 100)
	mustDeposit(t, e, bob, "BTC", 50)

	expiry := clock.Now().Add(time.Second).UnixMilli()
	if _, err := e.PlaceOrder(&order.Order{
		Owner: alice, ClientOrderID: 1, Symbol: "BTC-USDC",
		Side: order.Bid, Price: 4, Quantity: 10, Expiry: expiry,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder(&order.Order{
		Owner: bob, ClientOrderID: 2, Symbol: "BTC-USDC",
		Side: order.Ask, Price: 4, Quantity: 50,
	}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Second)

	// The settlement fails, but the expiry transition it surfaced sticks.
	if err := e.ExecuteTrade(authority, trade(10, 4)); !errors.Is(err, core.ErrOrderExpired) {
		t.Fatalf("err = %v, want ErrOrderExpired", err)
	}
	o, _ := e.Order(alice, 1)
	if o.Status != order.Expired {
		t.Errorf("taker status = %s, want expired", o.Status)
	}
	a, _ := e.Account(alice)
	if a.OpenOrders != 0 {
		t.Errorf("taker openOrders = %d, want 0", a.OpenOrders)
	}
	if a.Balance("USDC") != 100 {
		t.Error("expired settlement must not move balances")
	}
}

func TestExecuteTradeIOC(t *testing.T) {
	e, _ := newTestEngine(t)
	newTestMarket(t, e)
	mustCreateAccount(t, e, alice)
	mustCreateAccount(t, e, bob)
	mustDeposit(t, e, alice, "USDC", 100)
	mustDeposit(t, e, bob, "BTC", 50)

	if _, err := e.PlaceOrder(&order.Order{
		Owner: alice, ClientOrderID: 1, Symbol: "BTC-USDC",
		Side: order.Bid, Price: 4, Quantity: 10, TimeInForce: order.ImmediateOrCancel,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder(&order.Order{
		Owner: bob, ClientOrderID: 2, Symbol: "BTC-USDC",
		Side: order.Ask, Price: 4, Quantity: 50,
	}); err != nil {
		t.Fatal(err)
	}

	// Partial fill: the IOC remainder cancels instead of resting.
	if err := e.ExecuteTrade(authority, trade(4, 4)); err != nil {
		t.Fatal(err)
	}
	o, _ := e.Order(alice, 1)
	if o.Status != order.Cancelled {
		t.Errorf("IOC taker status = %s, want cancelled", o.Status)
	}
	if o.Remaining != 6 {
		t.Errorf("remaining = %d, want 6", o.Remaining)
	}
	a, _ := e.Account(alice)
	if a.OpenOrders != 0 {
		t.Errorf("openOrders = %d, want 0", a.OpenOrders)
	}
	// The filled portion settled normally.
	if a.Balance("BTC") != 4 || a.Balance("USDC") != 84 {
		t.Errorf("balances = %d BTC, %d USDC; want 4, 84", a.Balance("BTC"), a.Balance("USDC"))
	}
}

func TestExecuteTradeFOK(t *testing.T) {
	e, _ := newTestEngine(t)
	newTestMarket(t, e)
	mustCreateAccount(t, e, alice)
	mustCreateAccount(t, e, bob)
	mustDeposit(t, e, alice, "USDC", 100)
	mustDeposit(t, e, bob, "BTC", 50)

	if _, err := e.PlaceOrder(&order.Order{
		Owner: alice, ClientOrderID: 1, Symbol: "BTC-USDC",
		Side: order.Bid, Price: 4, Quantity: 10, TimeInForce: order.FillOrKill,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder(&order.Order{
		Owner: bob, ClientOrderID: 2, Symbol: "BTC-USDC",
		Side: order.Ask, Price: 4, Quantity: 50,
	}); err != nil {
		t.Fatal(err)
	}

	if err := e.ExecuteTrade(authority, trade(4, 4)); !errors.Is(err, core.ErrInsufficientOrderSize) {
		t.Fatalf("partial FOK err = %v, want ErrInsufficientOrderSize", err)
	}
	if err := e.ExecuteTrade(authority, trade(10, 4)); err != nil {
		t.Fatalf("full FOK failed: %v", err)
	}
	o, _ := e.Order(alice, 1)
	if o.Status != order.Filled {
		t.Errorf("status = %s, want filled", o.Status)
	}
}

func TestSelfTradePolicies(t *testing.T) {
	setup := func(t *testing.T, behavior order.SelfTradeBehavior) *Engine {
		e, _ := newTestEngine(t)
		newTestMarket(t, e)
		mustCreateAccount(t, e, alice)
		mustDeposit(t, e, alice, "USDC", 100)
		mustDeposit(t, e, alice, "BTC", 50)

		if _, err := e.PlaceOrder(&order.Order{
			Owner: alice, ClientOrderID: 1, Symbol: "BTC-USDC",
			Side: order.Bid, Price: 4, Quantity: 10, SelfTrade: behavior,
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := e.PlaceOrder(&order.Order{
			Owner: alice, ClientOrderID: 2, Symbol: "BTC-USDC",
			Side: order.Ask, Price: 4, Quantity: 10,
		}); err != nil {
			t.Fatal(err)
		}
		return e
	}

	selfTrade := func() *order.Trade {
		return &order.Trade{
			Symbol: "BTC-USDC", Taker: alice, Maker: alice,
			TakerOrderID: 1, MakerOrderID: 2,
			Price: 4, Quantity: 10, TakerSide: order.Bid,
		}
	}

	t.Run("reject", func(t *testing.T) {
		e := setup(t, order.Reject)
		if err := e.ExecuteTrade(authority, selfTrade()); !errors.Is(err, core.ErrSelfTrade) {
			t.Fatalf("err = %v, want ErrSelfTrade", err)
		}
		for _, id := range []uint64{1, 2} {
			o, _ := e.Order(alice, id)
			if o.Status != order.Open {
				t.Errorf("order %d status = %s, want open", id, o.Status)
			}
		}
	})

	t.Run("cancel resting", func(t *testing.T) {
		e := setup(t, order.CancelResting)
		if err := e.ExecuteTrade(authority, selfTrade()); err != nil {
			t.Fatalf("cancel_resting should succeed with no fill: %v", err)
		}
		taker, _ := e.Order(alice, 1)
		maker, _ := e.Order(alice, 2)
		if taker.Status != order.Open {
			t.Errorf("taker status = %s, want open", taker.Status)
		}
		if maker.Status != order.Cancelled {
			t.Errorf("maker status = %s, want cancelled", maker.Status)
		}
		a, _ := e.Account(alice)
		if a.OpenOrders != 1 {
			t.Errorf("openOrders = %d, want 1", a.OpenOrders)
		}
		if a.Balance("USDC") != 100 || a.Balance("BTC") != 50 {
			t.Error("self-trade cancel must not move value")
		}
	})

	t.Run("cancel incoming", func(t *testing.T) {
		e := setup(t, order.CancelIncoming)
		if err := e.ExecuteTrade(authority, selfTrade()); err != nil {
			t.Fatalf("cancel_incoming should succeed with no fill: %v", err)
		}
		taker, _ := e.Order(alice, 1)
		maker, _ := e.Order(alice, 2)
		if taker.Status != order.Cancelled {
			t.Errorf("taker status = %s, want cancelled", taker.Status)
		}
		if maker.Status != order.Open {
			t.Errorf("maker status = %s, want open", maker.Status)
		}
	})

	t.Run("same order both sides", func(t *testing.T) {
		e := setup(t, order.CancelResting)
		tr := selfTrade()
		tr.MakerOrderID = 1
		tr.TakerOrderID = 1
		if err := e.ExecuteTrade(authority, tr); !errors.Is(err, core.ErrSelfTrade) {
			t.Errorf("err = %v, want ErrSelfTrade", err)
		}
	})
}

func TestTradeSeqSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	clock := util.NewFakeClock(time.UnixMilli(1_000_000))

	e, err := NewEngine(Options{DBPath: dir, Clock: clock})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateMarket("BTC", "USDC", 1, 1, authority); err != nil {
		t.Fatal(err)
	}
	for _, owner := range []common.Address{alice, bob} {
		if _, err := e.CreateAccount(owner); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Deposit(alice, "BTC-USDC", "USDC", 100); err != nil {
		t.Fatal(err)
	}
	if err := e.Deposit(bob, "BTC-USDC", "BTC", 50); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder(&order.Order{Owner: alice, ClientOrderID: 1, Symbol: "BTC-USDC", Side: order.Bid, Price: 4, Quantity: 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder(&order.Order{Owner: bob, ClientOrderID: 2, Symbol: "BTC-USDC", Side: order.Ask, Price: 4, Quantity: 50}); err != nil {
		t.Fatal(err)
	}
	if err := e.ExecuteTrade(authority, trade(10, 4)); err != nil {
		t.Fatal(err)
	}
	e.Close()

	e2, err := NewEngine(Options{DBPath: dir, Clock: clock})
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()

	trades, err := e2.RecentTrades("BTC-USDC", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	m, _ := e2.Market("BTC-USDC")
	if m.TotalVolume != 10 {
		t.Errorf("volume = %d, want 10", m.TotalVolume)
	}
}
