package api

import (
	"fmt"

	"github.com/vaultbook/vaultbook/pkg/core/order"
)

// Request/response shapes for the REST surface and the authority channel.

type CreateMarketRequest struct {
	BaseAsset    string `json:"baseAsset"`
	QuoteAsset   string `json:"quoteAsset"`
	TickSize     int64  `json:"tickSize"`
	MinOrderSize int64  `json:"minOrderSize"`
	Authority    string `json:"authority"`
}

type CreateAccountRequest struct {
	Owner string `json:"owner"`
}

// TransferRequest covers deposit and withdraw; the account address is in
// the URL path.
type TransferRequest struct {
	Symbol string `json:"symbol"`
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

type PlaceOrderRequest struct {
	Owner         string `json:"owner"`
	Symbol        string `json:"symbol"`
	ClientOrderID uint64 `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         int64  `json:"price"`
	Quantity      int64  `json:"quantity"`
	TimeInForce   string `json:"timeInForce"`
	Expiry        int64  `json:"expiry,omitempty"`
	SelfTrade     string `json:"selfTradeBehavior,omitempty"`
}

type CancelOrderRequest struct {
	Caller        string `json:"caller"`
	Owner         string `json:"owner"`
	ClientOrderID uint64 `json:"clientOrderId"`
}

type MarketInfo struct {
	Symbol       string `json:"symbol"`
	BaseAsset    string `json:"baseAsset"`
	QuoteAsset   string `json:"quoteAsset"`
	Authority    string `json:"authority"`
	TickSize     int64  `json:"tickSize"`
	MinOrderSize int64  `json:"minOrderSize"`
	TotalVolume  int64  `json:"totalVolume"`
}

type AccountInfo struct {
	Owner             string           `json:"owner"`
	Balances          map[string]int64 `json:"balances"`
	OpenOrders        int64            `json:"openOrders"`
	TotalVolumeTraded int64            `json:"totalVolumeTraded"`
}

type OrderInfo struct {
	Owner         string `json:"owner"`
	ClientOrderID uint64 `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         int64  `json:"price"`
	Quantity      int64  `json:"quantity"`
	Remaining     int64  `json:"remaining"`
	TimeInForce   string `json:"timeInForce"`
	Expiry        int64  `json:"expiry,omitempty"`
	Status        string `json:"status"`
}

type TradeInfo struct {
	Symbol    string `json:"symbol"`
	Taker     string `json:"taker"`
	Maker     string `json:"maker"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	TakerSide string `json:"takerSide"`
	Timestamp int64  `json:"timestamp"`
}

type VaultInfo struct {
	Asset     string `json:"asset"`
	Balance   int64  `json:"balance"`
	Conserved bool   `json:"conserved"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// TradeInstruction is one signed settlement instruction streamed by the
// matching authority over the websocket channel.
type TradeInstruction struct {
	Symbol       string `json:"symbol"`
	Taker        string `json:"taker"`
	Maker        string `json:"maker"`
	TakerOrderID uint64 `json:"takerOrderId"`
	MakerOrderID uint64 `json:"makerOrderId"`
	Price        int64  `json:"price"`
	Quantity     int64  `json:"quantity"`
	TakerSide    string `json:"takerSide"`
	Timestamp    int64  `json:"timestamp"`
	Signature    string `json:"signature"` // 0x-prefixed 65-byte hex
}

// InstructionAck is the per-instruction reply on the authority channel.
type InstructionAck struct {
	TakerOrderID uint64 `json:"takerOrderId"`
	MakerOrderID uint64 `json:"makerOrderId"`
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
}

func parseSide(s string) (order.Side, error) {
	switch s {
	case "bid", "buy":
		return order.Bid, nil
	case "ask", "sell":
		return order.Ask, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func parseOrderType(s string) (order.Type, error) {
	switch s {
	case "", "limit":
		return order.Limit, nil
	case "market":
		return order.Market, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", s)
	}
}

func parseTimeInForce(s string) (order.TimeInForce, error) {
	switch s {
	case "", "GTC":
		return order.GoodTillCancel, nil
	case "IOC":
		return order.ImmediateOrCancel, nil
	case "FOK":
		return order.FillOrKill, nil
	default:
		return 0, fmt.Errorf("unknown time in force %q", s)
	}
}

func parseSelfTrade(s string) (order.SelfTradeBehavior, error) {
	switch s {
	case "", "reject":
		return order.Reject, nil
	case "cancel_resting":
		return order.CancelResting, nil
	case "cancel_incoming":
		return order.CancelIncoming, nil
	default:
		return 0, fmt.Errorf("unknown self-trade behavior %q", s)
	}
}

func orderInfo(o *order.Order) OrderInfo {
	return OrderInfo{
		Owner:         o.Owner.Hex(),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side.String(),
		Type:          o.Type.String(),
		Price:         o.Price,
		Quantity:      o.Quantity,
		Remaining:     o.Remaining,
		TimeInForce:   o.TimeInForce.String(),
		Expiry:        o.Expiry,
		Status:        o.Status.String(),
	}
}
