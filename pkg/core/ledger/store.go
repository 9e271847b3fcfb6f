package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/vaultbook/vaultbook/pkg/core/market"
	"github.com/vaultbook/vaultbook/pkg/core/order"
)

// Store is the Pebble persistence layer for every ledger record. All access
// is serialized by the engine's mutex; the store itself holds no locks.
type Store struct {
	db *pebble.DB
}

// OpenStore opens (or creates) a Pebble database at path.
func OpenStore(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte, out any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) set(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// scan iterates a prefix range and hands each value to decode.
func (s *Store) scan(prefix []byte, decode func(value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("iter %s: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := decode(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// SaveMarket persists a market record.
func (s *Store) SaveMarket(m *market.Market) error {
	return s.set(marketKey(m.Symbol), m)
}

// LoadMarkets loads every market record (used at engine startup).
func (s *Store) LoadMarkets() ([]*market.Market, error) {
	var out []*market.Market
	err := s.scan([]byte(prefixMarket), func(value []byte) error {
		var m market.Market
		if err := json.Unmarshal(value, &m); err != nil {
			return fmt.Errorf("unmarshal market: %w", err)
		}
		out = append(out, &m)
		return nil
	})
	return out, err
}

// SaveAccount persists an account record.
func (s *Store) SaveAccount(a *Account) error {
	return s.set(accountKey(a.Owner), a)
}

// LoadAccounts loads every account record.
func (s *Store) LoadAccounts() ([]*Account, error) {
	var out []*Account
	err := s.scan([]byte(prefixAcct), func(value []byte) error {
		var a Account
		if err := json.Unmarshal(value, &a); err != nil {
			return fmt.Errorf("unmarshal account: %w", err)
		}
		if a.Balances == nil {
			a.Balances = make(map[string]int64)
		}
		out = append(out, &a)
		return nil
	})
	return out, err
}

// SaveVault persists a vault record.
func (s *Store) SaveVault(v *Vault) error {
	return s.set(vaultKey(v.Asset), v)
}

// LoadVaults loads every vault record.
func (s *Store) LoadVaults() ([]*Vault, error) {
	var out []*Vault
	err := s.scan([]byte(prefixVault), func(value []byte) error {
		var v Vault
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("unmarshal vault: %w", err)
		}
		out = append(out, &v)
		return nil
	})
	return out, err
}

// SaveOrder persists an order record.
func (s *Store) SaveOrder(o *order.Order) error {
	return s.set(orderKey(o.Owner, o.ClientOrderID), o)
}

// LoadOrders loads every order record, terminal ones included (they are
// retained for audit).
func (s *Store) LoadOrders() ([]*order.Order, error) {
	var out []*order.Order
	err := s.scan([]byte(prefixOrder), func(value []byte) error {
		var o order.Order
		if err := json.Unmarshal(value, &o); err != nil {
			return fmt.Errorf("unmarshal order: %w", err)
		}
		out = append(out, &o)
		return nil
	})
	return out, err
}

// LoadRecentTrades returns up to limit execution records for a symbol,
// newest first.
func (s *Store) LoadRecentTrades(symbol string, limit int) ([]*order.Trade, error) {
	prefix := tradePrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iter trades: %w", err)
	}
	defer iter.Close()

	var out []*order.Trade
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var t order.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("unmarshal trade: %w", err)
		}
		out = append(out, &t)
	}
	return out, iter.Error()
}

// Batch stages writes for one atomic commit. Settlement uses it so account,
// order, market, and trade records hit disk together or not at all.
type Batch struct {
	batch *pebble.Batch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) set(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.batch.Set(key, data, nil)
}

func (b *Batch) SaveMarket(m *market.Market) error {
	return b.set(marketKey(m.Symbol), m)
}

func (b *Batch) SaveAccount(a *Account) error {
	return b.set(accountKey(a.Owner), a)
}

func (b *Batch) SaveVault(v *Vault) error {
	return b.set(vaultKey(v.Asset), v)
}

func (b *Batch) SaveOrder(o *order.Order) error {
	return b.set(orderKey(o.Owner, o.ClientOrderID), o)
}

func (b *Batch) SaveTrade(t *order.Trade, seq uint64) error {
	return b.set(tradeKey(t.Symbol, t.Timestamp, seq), t)
}

// Commit writes the staged records atomically.
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (b *Batch) Close() error {
	return b.batch.Close()
}
