package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/vaultbook/vaultbook/pkg/core"
	"github.com/vaultbook/vaultbook/pkg/core/market"
	"github.com/vaultbook/vaultbook/pkg/core/order"
	"github.com/vaultbook/vaultbook/pkg/util"
)

// orderRef is the identity tuple of an order.
type orderRef struct {
	owner common.Address
	id    uint64
}

var metaTradeSeqKey = []byte("meta:trade_seq")

// Engine is the settlement engine: it owns every market, account, vault,
// and order record, serializes all operations behind one mutex, and commits
// each operation's mutations to Pebble as a single batch.
//
// Mutations are staged on cloned records and swapped into the in-memory
// cache only after the batch commits, so every operation is all-or-nothing
// in memory and on disk alike.
type Engine struct {
	mu    sync.Mutex
	store *Store
	log   *zap.SugaredLogger
	clock util.Clock

	markets  *market.Registry
	accounts map[common.Address]*Account
	vaults   map[string]*Vault
	orders   map[orderRef]*order.Order

	tradeSeq uint64
}

type Options struct {
	DBPath string
	Logger *zap.SugaredLogger
	Clock  util.Clock
}

// NewEngine opens the store and loads all persisted records into the cache.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}

	store, err := OpenStore(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	e := &Engine{
		store:    store,
		log:      opts.Logger,
		clock:    opts.Clock,
		markets:  market.NewRegistry(),
		accounts: make(map[common.Address]*Account),
		vaults:   make(map[string]*Vault),
		orders:   make(map[orderRef]*order.Order),
	}

	if err := e.load(); err != nil {
		store.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) load() error {
	markets, err := e.store.LoadMarkets()
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	for _, m := range markets {
		if err := e.markets.Register(m); err != nil {
			return err
		}
	}

	accounts, err := e.store.LoadAccounts()
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	for _, a := range accounts {
		e.accounts[a.Owner] = a
	}

	vaults, err := e.store.LoadVaults()
	if err != nil {
		return fmt.Errorf("load vaults: %w", err)
	}
	for _, v := range vaults {
		e.vaults[v.Asset] = v
	}

	orders, err := e.store.LoadOrders()
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	for _, o := range orders {
		e.orders[orderRef{o.Owner, o.ClientOrderID}] = o
	}

	if _, err := e.store.get(metaTradeSeqKey, &e.tradeSeq); err != nil {
		return fmt.Errorf("load trade seq: %w", err)
	}

	e.log.Infow("ledger_loaded",
		"markets", e.markets.Count(),
		"accounts", len(e.accounts),
		"vaults", len(e.vaults),
		"orders", len(e.orders))
	return nil
}

func (e *Engine) Close() error {
	return e.store.Close()
}

func (e *Engine) nowMs() int64 {
	return e.clock.Now().UnixMilli()
}

// CreateMarket registers a market for an asset pair and its two custody
// vaults. Exactly one market may exist per pair.
func (e *Engine) CreateMarket(baseAsset, quoteAsset string, tickSize, minOrderSize int64, authority common.Address) (*market.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol := market.SymbolFor(baseAsset, quoteAsset)
	if _, err := e.markets.Get(symbol); err == nil {
		return nil, fmt.Errorf("%w: market %s", core.ErrAlreadyExists, symbol)
	}

	m, err := market.New(baseAsset, quoteAsset, tickSize, minOrderSize, authority, e.nowMs())
	if err != nil {
		return nil, err
	}

	// Vaults are keyed by asset; a pair sharing an asset with an existing
	// market reuses that asset's pool.
	newVaults := make([]*Vault, 0, 2)
	for _, asset := range []string{baseAsset, quoteAsset} {
		if _, ok := e.vaults[asset]; !ok {
			newVaults = append(newVaults, &Vault{Asset: asset})
		}
	}

	batch := e.store.NewBatch()
	defer batch.Close()
	if err := batch.SaveMarket(m); err != nil {
		return nil, err
	}
	for _, v := range newVaults {
		if err := batch.SaveVault(v); err != nil {
			return nil, err
		}
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("commit market %s: %w", symbol, err)
	}

	if err := e.markets.Register(m); err != nil {
		return nil, err
	}
	for _, v := range newVaults {
		e.vaults[v.Asset] = v
	}

	e.log.Infow("market_created",
		"symbol", symbol,
		"tick_size", tickSize,
		"min_order_size", minOrderSize,
		"authority", authority.Hex())
	return m, nil
}

// CreateAccount initializes a trader's ledger record with zero balances.
func (e *Engine) CreateAccount(owner common.Address) (*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.accounts[owner]; ok {
		return nil, fmt.Errorf("%w: account %s", core.ErrAlreadyExists, owner.Hex())
	}

	a := NewAccount(owner, e.nowMs())
	if err := e.store.SaveAccount(a); err != nil {
		return nil, err
	}
	e.accounts[owner] = a

	e.log.Infow("account_created", "owner", owner.Hex())
	return a, nil
}

// Deposit credits a trader's balance and the asset vault symmetrically.
// The caller invokes this only after the external token transfer into
// custody is confirmed; the credit is never speculative.
func (e *Engine) Deposit(owner common.Address, symbol, asset string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(symbol)
	if err != nil {
		return err
	}
	if !m.HasAsset(asset) {
		return fmt.Errorf("%w: %s on %s", core.ErrInvalidAsset, asset, symbol)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: deposit %d", core.ErrInvalidAmount, amount)
	}

	acct, ok := e.accounts[owner]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrAccountNotFound, owner.Hex())
	}
	vault := e.vaults[asset]

	newBal, err := addChecked(acct.Balance(asset), amount)
	if err != nil {
		return err
	}
	newVault, err := addChecked(vault.Balance, amount)
	if err != nil {
		return err
	}

	a := acct.clone()
	a.Balances[asset] = newBal
	v := vault.clone()
	v.Balance = newVault

	if err := e.commitLedger(a, v); err != nil {
		return fmt.Errorf("commit deposit: %w", err)
	}
	e.accounts[owner] = a
	e.vaults[asset] = v

	e.log.Infow("deposit", "owner", owner.Hex(), "asset", asset, "amount", amount, "balance", newBal)
	return nil
}

// Withdraw debits a trader's balance and the asset vault symmetrically and
// triggers the external payout collaborator. A withdraw exceeding the
// balance fails whole; there is no partial withdrawal.
func (e *Engine) Withdraw(owner common.Address, symbol, asset string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(symbol)
	if err != nil {
		return err
	}
	if !m.HasAsset(asset) {
		return fmt.Errorf("%w: %s on %s", core.ErrInvalidAsset, asset, symbol)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: withdraw %d", core.ErrInvalidAmount, amount)
	}

	acct, ok := e.accounts[owner]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrAccountNotFound, owner.Hex())
	}
	if acct.Balance(asset) < amount {
		return fmt.Errorf("%w: have %d %s, want %d", core.ErrInsufficientBalance, acct.Balance(asset), asset, amount)
	}

	a := acct.clone()
	a.Balances[asset] -= amount
	v := e.vaults[asset].clone()
	v.Balance -= amount

	if err := e.commitLedger(a, v); err != nil {
		return fmt.Errorf("commit withdraw: %w", err)
	}
	e.accounts[owner] = a
	e.vaults[asset] = v

	e.log.Infow("withdraw", "owner", owner.Hex(), "asset", asset, "amount", amount, "balance", a.Balances[asset])
	return nil
}

func (e *Engine) commitLedger(a *Account, v *Vault) error {
	batch := e.store.NewBatch()
	defer batch.Close()
	if err := batch.SaveAccount(a); err != nil {
		return err
	}
	if err := batch.SaveVault(v); err != nil {
		return err
	}
	return batch.Commit()
}

// PlaceOrder validates the request against market rules and creates the
// order in Open state. No balance is moved or reserved at placement;
// sufficiency is enforced at settlement time.
func (e *Engine) PlaceOrder(req *order.Order) (*order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.markets.Get(req.Symbol)
	if err != nil {
		return nil, err
	}
	acct, ok := e.accounts[req.Owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrAccountNotFound, req.Owner.Hex())
	}

	if req.Type == order.Limit {
		if err := m.ValidatePrice(req.Price); err != nil {
			return nil, err
		}
	}
	if err := m.ValidateQuantity(req.Quantity); err != nil {
		return nil, err
	}

	ref := orderRef{req.Owner, req.ClientOrderID}
	if _, exists := e.orders[ref]; exists {
		return nil, fmt.Errorf("%w: %s/%d", core.ErrDuplicateOrderID, req.Owner.Hex(), req.ClientOrderID)
	}

	now := e.nowMs()
	if req.Expiry != 0 && now > req.Expiry {
		return nil, fmt.Errorf("%w: expiry %d already passed", core.ErrOrderExpired, req.Expiry)
	}

	o := &order.Order{
		Owner:         req.Owner,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		SelfTrade:     req.SelfTrade,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Remaining:     req.Quantity,
		Expiry:        req.Expiry,
		Status:        order.Open,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	a := acct.clone()
	a.OpenOrders++

	batch := e.store.NewBatch()
	defer batch.Close()
	if err := batch.SaveOrder(o); err != nil {
		return nil, err
	}
	if err := batch.SaveAccount(a); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}

	e.orders[ref] = o
	e.accounts[req.Owner] = a

	e.log.Infow("order_placed",
		"owner", o.Owner.Hex(),
		"id", o.ClientOrderID,
		"symbol", o.Symbol,
		"side", o.Side.String(),
		"type", o.Type.String(),
		"price", o.Price,
		"quantity", o.Quantity,
		"tif", o.TimeInForce.String())
	return o, nil
}

// CancelOrder transitions a non-terminal order to Cancelled. Only the
// order's owner may cancel it.
func (e *Engine) CancelOrder(caller, owner common.Address, clientOrderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != owner {
		return fmt.Errorf("%w: %s cannot cancel orders of %s", core.ErrUnauthorized, caller.Hex(), owner.Hex())
	}

	o, ok := e.orders[orderRef{owner, clientOrderID}]
	if !ok {
		return fmt.Errorf("%w: %s/%d", core.ErrOrderNotFound, owner.Hex(), clientOrderID)
	}

	o, expired, err := e.resolveExpiryLocked(o)
	if err != nil {
		return err
	}
	if expired || o.Status.Terminal() {
		return fmt.Errorf("%w: status %s", core.ErrNotCancellable, o.Status)
	}

	cancelled := *o
	cancelled.Status = order.Cancelled
	cancelled.UpdatedAt = e.nowMs()

	a := e.accounts[owner].clone()
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
		return fmt.Errorf("commit cancel: %w", err)
	}

	e.orders[orderRef{owner, clientOrderID}] = &cancelled
	e.accounts[owner] = a

	e.log.Infow("order_cancelled", "owner", owner.Hex(), "id", clientOrderID)
	return nil
}

// resolveExpiryLocked lazily transitions an order past its expiry to
// Expired, decrementing the owner's open-order count exactly once. The
// transition is durable even when the surrounding operation then fails.
func (e *Engine) resolveExpiryLocked(o *order.Order) (*order.Order, bool, error) {
	if !o.ExpiredAt(e.nowMs()) {
		return o, false, nil
	}

	expired := *o
	expired.Status = order.Expired
	expired.UpdatedAt = e.nowMs()

	a := e.accounts[o.Owner].clone()
	a.OpenOrders--

	batch := e.store.NewBatch()
	defer batch.Close()
	if err := batch.SaveOrder(&expired); err != nil {
		return nil, false, err
	}
	if err := batch.SaveAccount(a); err != nil {
		return nil, false, err
	}
	if err := batch.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit expiry: %w", err)
	}

	e.orders[orderRef{o.Owner, o.ClientOrderID}] = &expired
	e.accounts[o.Owner] = a

	e.log.Infow("order_expired", "owner", o.Owner.Hex(), "id", o.ClientOrderID)
	return &expired, true, nil
}

// Market returns the market record for a symbol.
func (e *Engine) Market(symbol string) (*market.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markets.Get(symbol)
}

// Markets returns a snapshot of all markets.
func (e *Engine) Markets() []*market.Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markets.List()
}

// Account returns a trader's ledger record.
func (e *Engine) Account(owner common.Address) (*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.accounts[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrAccountNotFound, owner.Hex())
	}
	return a, nil
}

// Order returns an order record, resolving lazy expiry first so a stale
// Open status is never observed.
func (e *Engine) Order(owner common.Address, clientOrderID uint64) (*order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderRef{owner, clientOrderID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", core.ErrOrderNotFound, owner.Hex(), clientOrderID)
	}
	o, _, err := e.resolveExpiryLocked(o)
	return o, err
}

// Vault returns the custody pool for an asset.
func (e *Engine) Vault(asset string) (*Vault, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.vaults[asset]
	if !ok {
		return nil, fmt.Errorf("%w: vault %s", core.ErrMarketNotFound, asset)
	}
	return v, nil
}

// RecentTrades returns up to limit execution records, newest first.
func (e *Engine) RecentTrades(symbol string, limit int) ([]*order.Trade, error) {
	return e.store.LoadRecentTrades(symbol, limit)
}

// VerifyConservation checks that the vault balance for an asset equals the
// sum of all account balances for that asset.
func (e *Engine) VerifyConservation(asset string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var sum int64
	var err error
	for _, a := range e.accounts {
		sum, err = addChecked(sum, a.Balance(asset))
		if err != nil {
			return err
		}
	}

	var vaultBal int64
	if v, ok := e.vaults[asset]; ok {
		vaultBal = v.Balance
	}
	if sum != vaultBal {
		return fmt.Errorf("conservation violated for %s: vault %d, account sum %d", asset, vaultBal, sum)
	}
	return nil
}
