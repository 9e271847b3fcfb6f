package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultbook/vaultbook/pkg/core"
	"github.com/vaultbook/vaultbook/pkg/core/order"
)

// ExecuteTrade applies one externally-decided match atomically. Only the
// market's authority may call it. Every precondition is checked before any
// record is touched; the mutations then commit as one Pebble batch, so a
// failure at any point leaves balances, order statuses, and volume counters
// exactly as they were.
//
// Value moves between the two accounts only; vault totals are untouched
// because both parties' funds are already in custody.
func (e *Engine) ExecuteTrade(caller common.Address, t *order.Trade) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(t.Symbol)
	if err != nil {
		return err
	}
	if caller != m.Authority {
		return fmt.Errorf("%w: %s is not the authority for %s", core.ErrUnauthorized, caller.Hex(), t.Symbol)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("%w: trade quantity %d", core.ErrInvalidAmount, t.Quantity)
	}
	if t.Price <= 0 {
		return fmt.Errorf("%w: trade price %d", core.ErrInvalidPrice, t.Price)
	}
	// Trade keys are time-ordered; a negative timestamp would break that.
	if t.Timestamp < 0 {
		return fmt.Errorf("%w: trade timestamp %d", core.ErrInvalidAmount, t.Timestamp)
	}

	takerRef := orderRef{t.Taker, t.TakerOrderID}
	makerRef := orderRef{t.Maker, t.MakerOrderID}
	if takerRef == makerRef {
		return fmt.Errorf("%w: taker and maker reference the same order", core.ErrSelfTrade)
	}

	takerOrd, ok := e.orders[takerRef]
	if !ok {
		return fmt.Errorf("%w: taker order %s/%d", core.ErrOrderNotFound, t.Taker.Hex(), t.TakerOrderID)
	}
	makerOrd, ok := e.orders[makerRef]
	if !ok {
		return fmt.Errorf("%w: maker order %s/%d", core.ErrOrderNotFound, t.Maker.Hex(), t.MakerOrderID)
	}
	if takerOrd.Symbol != t.Symbol || makerOrd.Symbol != t.Symbol {
		return fmt.Errorf("%w: order not on market %s", core.ErrOrderNotFound, t.Symbol)
	}
	if takerOrd.Side != t.TakerSide || makerOrd.Side == t.TakerSide {
		return fmt.Errorf("%w: order sides do not match the trade", core.ErrOrderNotFound)
	}

	// Lazy expiry: an expired-but-untouched order is not matchable. The
	// transition to Expired is durable even though the settlement fails.
	takerOrd, takerExpired, err := e.resolveExpiryLocked(takerOrd)
	if err != nil {
		return err
	}
	makerOrd, makerExpired, err := e.resolveExpiryLocked(makerOrd)
	if err != nil {
		return err
	}
	if takerExpired || makerExpired {
		return fmt.Errorf("%w: settlement against expired order", core.ErrOrderExpired)
	}

	if takerOrd.Status.Terminal() || makerOrd.Status.Terminal() {
		return fmt.Errorf("%w: order in terminal state", core.ErrInsufficientOrderSize)
	}
	if takerOrd.Remaining < t.Quantity || makerOrd.Remaining < t.Quantity {
		return fmt.Errorf("%w: quantity %d, taker remaining %d, maker remaining %d",
			core.ErrInsufficientOrderSize, t.Quantity, takerOrd.Remaining, makerOrd.Remaining)
	}
	// Fill-or-kill admits exactly one full execution.
	if takerOrd.TimeInForce == order.FillOrKill && t.Quantity != takerOrd.Remaining {
		return fmt.Errorf("%w: fill-or-kill taker requires full fill of %d", core.ErrInsufficientOrderSize, takerOrd.Remaining)
	}
	if makerOrd.TimeInForce == order.FillOrKill && t.Quantity != makerOrd.Remaining {
		return fmt.Errorf("%w: fill-or-kill maker requires full fill of %d", core.ErrInsufficientOrderSize, makerOrd.Remaining)
	}

	if t.Taker == t.Maker {
		return e.applySelfTradeLocked(takerOrd, makerOrd)
	}

	notional, err := mulChecked(t.Price, t.Quantity)
	if err != nil {
		return err
	}

	// Taker bid: taker pays quote, receives base; symmetric for ask.
	takerPayAsset, takerPayAmt := m.QuoteAsset, notional
	takerGetAsset, takerGetAmt := m.BaseAsset, t.Quantity
	if t.TakerSide == order.Ask {
		takerPayAsset, takerPayAmt = m.BaseAsset, t.Quantity
		takerGetAsset, takerGetAmt = m.QuoteAsset, notional
	}

	takerAcct, ok := e.accounts[t.Taker]
	if !ok {
		return fmt.Errorf("%w: taker %s", core.ErrAccountNotFound, t.Taker.Hex())
	}
	makerAcct, ok := e.accounts[t.Maker]
	if !ok {
		return fmt.Errorf("%w: maker %s", core.ErrAccountNotFound, t.Maker.Hex())
	}

	if takerAcct.Balance(takerPayAsset) < takerPayAmt {
		return fmt.Errorf("%w: taker has %d %s, needs %d",
			core.ErrInsufficientBalance, takerAcct.Balance(takerPayAsset), takerPayAsset, takerPayAmt)
	}
	if makerAcct.Balance(takerGetAsset) < takerGetAmt {
		return fmt.Errorf("%w: maker has %d %s, needs %d",
			core.ErrInsufficientBalance, makerAcct.Balance(takerGetAsset), takerGetAsset, takerGetAmt)
	}

	// Stage every new value before mutating anything: the credits and the
	// volume counters must all fit.
	takerNewGet, err := addChecked(takerAcct.Balance(takerGetAsset), takerGetAmt)
	if err != nil {
		return err
	}
	makerNewGet, err := addChecked(makerAcct.Balance(takerPayAsset), takerPayAmt)
	if err != nil {
		return err
	}
	newMarketVol, err := addChecked(m.TotalVolume, t.Quantity)
	if err != nil {
		return err
	}
	takerNewVol, err := addChecked(takerAcct.TotalVolumeTraded, t.Quantity)
	if err != nil {
		return err
	}
	makerNewVol, err := addChecked(makerAcct.TotalVolumeTraded, t.Quantity)
	if err != nil {
		return err
	}

	now := e.nowMs()

	takerA := takerAcct.clone()
	takerA.Balances[takerPayAsset] -= takerPayAmt
	takerA.Balances[takerGetAsset] = takerNewGet
	takerA.TotalVolumeTraded = takerNewVol

	makerA := makerAcct.clone()
	makerA.Balances[takerGetAsset] -= takerGetAmt
	makerA.Balances[takerPayAsset] = makerNewGet
	makerA.TotalVolumeTraded = makerNewVol

	takerO := *takerOrd
	takerO.ApplyFill(t.Quantity, now)
	if takerO.Status == order.Filled {
		takerA.OpenOrders--
	} else if takerO.TimeInForce == order.ImmediateOrCancel {
		// IOC: the unfilled remainder never rests.
		takerO.Status = order.Cancelled
		takerA.OpenOrders--
	}

	makerO := *makerOrd
	makerO.ApplyFill(t.Quantity, now)
	if makerO.Status == order.Filled {
		makerA.OpenOrders--
	}

	mkt := *m
	mkt.TotalVolume = newMarketVol

	rec := *t
	if rec.Timestamp == 0 {
		rec.Timestamp = now
	}
	seq := e.tradeSeq + 1

	batch := e.store.NewBatch()
	defer batch.Close()
	if err := batch.SaveAccount(takerA); err != nil {
		return err
	}
	if err := batch.SaveAccount(makerA); err != nil {
		return err
	}
	if err := batch.SaveOrder(&takerO); err != nil {
		return err
	}
	if err := batch.SaveOrder(&makerO); err != nil {
		return err
	}
	if err := batch.SaveMarket(&mkt); err != nil {
		return err
	}
	if err := batch.SaveTrade(&rec, seq); err != nil {
		return err
	}
	if err := batch.set(metaTradeSeqKey, seq); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit trade: %w", err)
	}

	e.accounts[t.Taker] = takerA
	e.accounts[t.Maker] = makerA
	e.orders[takerRef] = &takerO
	e.orders[makerRef] = &makerO
	e.markets.Replace(&mkt)
	e.tradeSeq = seq

	e.log.Infow("trade_settled",
		"symbol", t.Symbol,
		"taker", t.Taker.Hex(),
		"maker", t.Maker.Hex(),
		"price", t.Price,
		"quantity", t.Quantity,
		"taker_side", t.TakerSide.String(),
		"taker_status", takerO.Status.String(),
		"maker_status", makerO.Status.String())
	return nil
}

// applySelfTradeLocked enforces the taker order's self-trade policy when a
// proposed match pairs an owner with themselves. No value ever moves; the
// cancel variants resolve the designated order and report success, Reject
// fails the settlement outright.
func (e *Engine) applySelfTradeLocked(takerOrd, makerOrd *order.Order) error {
	switch takerOrd.SelfTrade {
	case order.CancelResting:
		return e.cancelForSelfTradeLocked(makerOrd)
	case order.CancelIncoming:
		return e.cancelForSelfTradeLocked(takerOrd)
	default:
		return fmt.Errorf("%w: owner %s on both sides", core.ErrSelfTrade, takerOrd.Owner.Hex())
	}
}

func (e *Engine) cancelForSelfTradeLocked(o *order.Order) error {
	cancelled := *o
	cancelled.Status = order.Cancelled
	cancelled.UpdatedAt = e.nowMs()

	a := e.accounts[o.Owner].clone()
	a.OpenOrders--

	batch := e.store.NewBatch()
	defer batch.Close()
	if err := batch.SaveOrder(&cancelled); err != nil {
		return err
	}
	if err := batch.SaveAccount(a); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit self-trade cancel: %w", err)
	}

	e.orders[orderRef{o.Owner, o.ClientOrderID}] = &cancelled
	e.accounts[o.Owner] = a

	e.log.Infow("self_trade_cancel", "owner", o.Owner.Hex(), "id", o.ClientOrderID)
	return nil
}
