// Package order defines the order record, its lifecycle state machine, and
// the trade instruction settled against it.
package order

import (
	"github.com/ethereum/go-ethereum/common"
)

// Side of the book an order rests on.
type Side int8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Type distinguishes limit orders from market orders. Market orders carry no
// binding price constraint; the authority decides the execution price.
type Type int8

const (
	Limit Type = iota
	Market
)

func (t Type) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return "unknown"
	}
}

// TimeInForce controls how long an order may rest.
type TimeInForce int8

const (
	GoodTillCancel TimeInForce = iota
	ImmediateOrCancel
	FillOrKill
)

func (t TimeInForce) String() string {
	switch t {
	case GoodTillCancel:
		return "GTC"
	case ImmediateOrCancel:
		return "IOC"
	case FillOrKill:
		return "FOK"
	default:
		return "unknown"
	}
}

// SelfTradeBehavior is the per-order policy applied when a proposed match
// pairs an owner with themselves. The taker order's policy governs.
type SelfTradeBehavior int8

const (
	// Reject fails the settlement with no effect.
	Reject SelfTradeBehavior = iota
	// CancelResting cancels the maker order; no value moves.
	CancelResting
	// CancelIncoming cancels the taker order; no value moves.
	CancelIncoming
)

func (b SelfTradeBehavior) String() string {
	switch b {
	case Reject:
		return "reject"
	case CancelResting:
		return "cancel_resting"
	case CancelIncoming:
		return "cancel_incoming"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state. Transitions only move forward:
//
//	Open            -> PartiallyFilled | Filled | Cancelled | Expired
//	PartiallyFilled -> Filled | Cancelled | Expired
//
// Filled, Cancelled, and Expired are terminal; terminal orders are retained
// for audit but inert.
type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Expired
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled || s == Expired
}

// Order is one order submission, identified by (Owner, ClientOrderID).
// Records are never deleted; terminal orders stay for audit.
type Order struct {
	Owner         common.Address
	ClientOrderID uint64
	Symbol        string

	Side        Side
	Type        Type
	TimeInForce TimeInForce
	SelfTrade   SelfTradeBehavior

	// Price and Quantity are the original requested values; Remaining is
	// decremented on fill. Remaining == 0 iff Status == Filled.
	Price     int64
	Quantity  int64
	Remaining int64

	// Expiry is a unix-ms timestamp after which the order is void;
	// 0 means no expiry. Evaluated lazily on access, never by timer.
	Expiry int64

	Status Status

	CreatedAt int64 // unix ms
	UpdatedAt int64
}

// ExpiredAt reports whether the order's expiry has passed. Terminal orders
// never re-expire.
func (o *Order) ExpiredAt(nowMs int64) bool {
	return !o.Status.Terminal() && o.Expiry != 0 && nowMs > o.Expiry
}

// ApplyFill consumes qty from the remaining quantity and advances the
// status. The caller has already validated qty <= Remaining.
func (o *Order) ApplyFill(qty, nowMs int64) {
	o.Remaining -= qty
	if o.Remaining == 0 {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
	o.UpdatedAt = nowMs
}

// Trade is one externally-decided match, submitted by the market authority.
// It is the input to settlement; an execution record is persisted once
// applied.
type Trade struct {
	Symbol string

	Taker        common.Address
	Maker        common.Address
	TakerOrderID uint64
	MakerOrderID uint64

	Price     int64
	Quantity  int64
	TakerSide Side

	Timestamp int64 // unix ms, assigned by the authority
}
