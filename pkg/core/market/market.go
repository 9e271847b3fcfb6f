// Package market defines the per-trading-pair configuration record and the
// one-market-per-pair registry.
package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultbook/vaultbook/pkg/core"
)

// Market holds the immutable configuration and aggregate statistics for one
// (base, quote) trading pair. BaseAsset, QuoteAsset, and Authority never
// change after creation; TotalVolume only grows.
type Market struct {
	Symbol     string // "BASE-QUOTE"
	BaseAsset  string
	QuoteAsset string

	// Authority is the only identity permitted to submit trade settlements.
	Authority common.Address

	// TickSize is the minimum price increment; all limit prices must be
	// exact multiples. MinOrderSize is the minimum order quantity. Both in
	// the asset's smallest unit.
	TickSize     int64
	MinOrderSize int64

	// TotalVolume is the cumulative base-asset quantity settled.
	TotalVolume int64

	CreatedAt int64 // unix ms
}

// SymbolFor is the canonical symbol for an asset pair.
func SymbolFor(baseAsset, quoteAsset string) string {
	return baseAsset + "-" + quoteAsset
}

// New validates configuration and builds a Market with zero volume.
func New(baseAsset, quoteAsset string, tickSize, minOrderSize int64, authority common.Address, nowMs int64) (*Market, error) {
	if baseAsset == "" || quoteAsset == "" {
		return nil, fmt.Errorf("%w: base and quote assets must be named", core.ErrInvalidConfig)
	}
	if baseAsset == quoteAsset {
		return nil, fmt.Errorf("%w: base and quote assets must differ", core.ErrInvalidConfig)
	}
	if tickSize <= 0 {
		return nil, fmt.Errorf("%w: tick size %d", core.ErrInvalidConfig, tickSize)
	}
	if minOrderSize <= 0 {
		return nil, fmt.Errorf("%w: min order size %d", core.ErrInvalidConfig, minOrderSize)
	}
	if (authority == common.Address{}) {
		return nil, fmt.Errorf("%w: authority must be set", core.ErrInvalidConfig)
	}

	return &Market{
		Symbol:       SymbolFor(baseAsset, quoteAsset),
		BaseAsset:    baseAsset,
		QuoteAsset:   quoteAsset,
		Authority:    authority,
		TickSize:     tickSize,
		MinOrderSize: minOrderSize,
		CreatedAt:    nowMs,
	}, nil
}

// HasAsset reports whether asset is one of the market's two assets.
func (m *Market) HasAsset(asset string) bool {
	return asset == m.BaseAsset || asset == m.QuoteAsset
}

// ValidatePrice checks a limit price against the tick grid.
func (m *Market) ValidatePrice(price int64) error {
	if price <= 0 || price%m.TickSize != 0 {
		return fmt.Errorf("%w: price %d, tick %d", core.ErrInvalidPrice, price, m.TickSize)
	}
	return nil
}

// ValidateQuantity checks an order quantity against the market minimum.
func (m *Market) ValidateQuantity(qty int64) error {
	if qty < m.MinOrderSize {
		return fmt.Errorf("%w: quantity %d, minimum %d", core.ErrBelowMinimumSize, qty, m.MinOrderSize)
	}
	return nil
}
