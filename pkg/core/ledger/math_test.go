package ledger

import (
	"errors"
	"math"
	"testing"

	"github.com/vaultbook/vaultbook/pkg/core"
)

func TestMulChecked(t *testing.T) {
	if v, err := mulChecked(4, 10); err != nil || v != 40 {
		t.Errorf("mulChecked(4, 10) = %d, %v", v, err)
	}
	if v, err := mulChecked(math.MaxInt64, 1); err != nil || v != math.MaxInt64 {
		t.Errorf("mulChecked(MaxInt64, 1) = %d, %v", v, err)
	}
	if _, err := mulChecked(math.MaxInt64, 2); !errors.Is(err, core.ErrOverflow) {
		t.Errorf("overflow err = %v", err)
	}
	if _, err := mulChecked(math.MaxInt64/2+1, 2); !errors.Is(err, core.ErrOverflow) {
		t.Errorf("boundary overflow err = %v", err)
	}
	if _, err := mulChecked(-1, 2); !errors.Is(err, core.ErrOverflow) {
		t.Errorf("negative operand err = %v", err)
	}
}

func TestAddChecked(t *testing.T) {
	if v, err := addChecked(40, 2); err != nil || v != 42 {
		t.Errorf("addChecked(40, 2) = %d, %v", v, err)
	}
	if _, err := addChecked(math.MaxInt64, 1); !errors.Is(err, core.ErrOverflow) {
		t.Errorf("overflow err = %v", err)
	}
	if _, err := addChecked(1, -1); !errors.Is(err, core.ErrOverflow) {
		t.Errorf("negative operand err = %v", err)
	}
}
