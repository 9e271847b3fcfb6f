// Package ledger implements the custody ledger and the settlement engine:
// user accounts, per-asset vaults, deposit/withdraw, order lifecycle, and
// atomic trade settlement.
package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Account is one trader's ledger record. Balances are held in custody (the
// matching vault holds the pooled tokens) and are always non-negative.
type Account struct {
	Owner common.Address

	// Balances maps asset id -> available balance in smallest units.
	Balances map[string]int64

	// OpenOrders counts this owner's orders in {Open, PartiallyFilled}.
	OpenOrders int64

	// TotalVolumeTraded is the cumulative quantity settled for this owner.
	TotalVolumeTraded int64

	CreatedAt int64 // unix ms
}

func NewAccount(owner common.Address, nowMs int64) *Account {
	return &Account{
		Owner:     owner,
		Balances:  make(map[string]int64),
		CreatedAt: nowMs,
	}
}

// Balance returns the available balance for an asset (zero if never funded).
func (a *Account) Balance(asset string) int64 {
	return a.Balances[asset]
}

// Validate checks the account's local invariants.
func (a *Account) Validate() error {
	for asset, bal := range a.Balances {
		if bal < 0 {
			return fmt.Errorf("negative balance for %s: %d", asset, bal)
		}
	}
	if a.OpenOrders < 0 {
		return fmt.Errorf("negative open order count: %d", a.OpenOrders)
	}
	if a.TotalVolumeTraded < 0 {
		return fmt.Errorf("negative volume counter: %d", a.TotalVolumeTraded)
	}
	return nil
}

// clone returns a deep copy. Mutations are staged on clones and swapped in
// only after the Pebble batch commits, so a failed commit leaves the cached
// state untouched.
func (a *Account) clone() *Account {
	cp := *a
	cp.Balances = make(map[string]int64, len(a.Balances))
	for k, v := range a.Balances {
		cp.Balances[k] = v
	}
	return &cp
}

// Vault is the pooled custody record for one asset. Its balance always
// equals the sum of all account balances for that asset: deposits and
// withdrawals move vault and account together, settlement only moves value
// between accounts.
type Vault struct {
	Asset   string
	Balance int64
}

func (v *Vault) clone() *Vault {
	cp := *v
	return &cp
}
