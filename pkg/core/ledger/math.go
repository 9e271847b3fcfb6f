package ledger

import (
	"fmt"
	"math/bits"

	"github.com/vaultbook/vaultbook/pkg/core"
)

// Fixed-point arithmetic helpers. All quantities and balances are int64 in
// the asset's smallest unit; products are computed with widening
// multiplication and fail closed rather than wrapping.

// mulChecked returns a*b for non-negative operands, or ErrOverflow if the
// product does not fit in int64.
func mulChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("%w: negative operand in %d*%d", core.ErrOverflow, a, b)
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > uint64(1<<63-1) {
		return 0, fmt.Errorf("%w: %d*%d", core.ErrOverflow, a, b)
	}
	return int64(lo), nil
}

// addChecked returns a+b for non-negative operands, or ErrOverflow.
func addChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("%w: negative operand in %d+%d", core.ErrOverflow, a, b)
	}
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("%w: %d+%d", core.ErrOverflow, a, b)
	}
	return sum, nil
}
