// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the pipeline — book levels,
// feature frames, action records, orders, fill portions, and trades. It has
// no dependencies on internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order or fill: buy or sell.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ActionKind occupies the low 3 bits of the action record's kind byte.
type ActionKind uint8

const (
	ActionLimit  ActionKind = 0
	ActionMarket ActionKind = 1
)

// OrderState is the lifecycle state of a submitted order.
type OrderState string

const (
	OrderPending         OrderState = "pending"
	OrderLive            OrderState = "live"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderFilled          OrderState = "filled"
	OrderCanceled        OrderState = "canceled"
	OrderRejected        OrderState = "rejected"
)

// Direction is the signed direction of a net position / trade.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// DirectionForSide maps a fill side to the trade direction it would start.
func DirectionForSide(s Side) Direction {
	if s == Buy {
		return Long
	}
	return Short
}

// ————————————————————————————————————————————————————————————————————————
// Book
// ————————————————————————————————————————————————————————————————————————

// BookLevel is a single price level on one side of the book.
// Volume and OrderCount are non-negative; a level with Volume == 0 must
// never be retained in a Side.
type BookLevel struct {
	Price      float64
	Volume     float64
	OrderCount float64
}

// LevelsPerSide is the fixed depth each side of the book must carry after
// every applied delta.
const LevelsPerSide = 400

// ————————————————————————————————————————————————————————————————————————
// Feature frame
// ————————————————————————————————————————————————————————————————————————

// DepthCutoffs are the depths at which the feature vector is computed.
var DepthCutoffs = [5]int{10, 20, 50, 100, 400}

// DepthFeatures is the four-value feature vector computed at one depth cutoff.
type DepthFeatures struct {
	VolumeImbalance     float64
	OrderCountImbalance float64
	BidVwapDisplacement float64
	AskVwapDisplacement float64
}

// FeatureFrame is the derived snapshot emitted by the Depth Engine after
// every successful book update.
type FeatureFrame struct {
	Bids          [LevelsPerSide]BookLevel
	Asks          [LevelsPerSide]BookLevel
	MidPrice      float64
	MidPriceCents uint32
	Features      [5]DepthFeatures // indexed in the order of DepthCutoffs
	SequenceID    uint16
}

// ————————————————————————————————————————————————————————————————————————
// Action record
// ————————————————————————————————————————————————————————————————————————

// ActionRecord is the decision emitted by the Decision Relay.
type ActionRecord struct {
	Kind           ActionKind
	PriceOffset    float64 // [-1.0, 1.0]
	VolumeFraction float64 // [0.0, 1.0]
	MidPriceCents  uint32
	StateID        uint16
}

// ————————————————————————————————————————————————————————————————————————
// Orders, fills, trades
// ————————————————————————————————————————————————————————————————————————

// FillPortion decomposes a single exchange-reported fill delta into the part
// that reduces the prior net position (IsClosing) and the part that opens
// against it.
type FillPortion struct {
	TradeID           string
	Size              float64
	Price             float64
	Timestamp         int64
	IsClosing         bool
	ExecutionFraction float64 // [0, 1]
}

// Order is a single submitted order and its accumulated fills.
type Order struct {
	LocalID          uint32 // == the state_id of the action that created it
	ExchangeID       string // empty until the exchange assigns one
	Side             Side
	IntendedVolume   float64
	IntendedPrice    float64
	CumulativeFilled float64
	AvgFillPrice     float64
	State            OrderState
	TradeID          string
	FillPortions     []FillPortion
	FillTime         int64
}

// Trade is a maximal run of fills from flat to flat.
type Trade struct {
	TradeID          string
	Direction        Direction
	NetSize          float64 // signed: positive = long, negative = short
	Orders           []*Order
	BuyQP            float64 // Σ fill_price × fill_size, buy side
	BuyQty           float64
	SellQP           float64
	SellQty          float64
	CumulativeReward float64
	ReducedQty       float64
}

// AvgBuy returns the side-averaged buy price, or 0 if no buy quantity yet.
func (t *Trade) AvgBuy() float64 {
	if t.BuyQty <= 0 {
		return 0
	}
	return t.BuyQP / t.BuyQty
}

// AvgSell returns the side-averaged sell price, or 0 if no sell quantity yet.
func (t *Trade) AvgSell() float64 {
	if t.SellQty <= 0 {
		return 0
	}
	return t.SellQP / t.SellQty
}

// ————————————————————————————————————————————————————————————————————————
// Exchange events
// ————————————————————————————————————————————————————————————————————————

// FillEvent is an inbound exchange fill report.
type FillEvent struct {
	ExchangeID       string
	CumulativeFilled float64
	AvgPrice         float64
	Side             Side
	State            string
	PnL              float64
	FillTime         int64
}

// OrderAck is emitted by the exchange client when an order receives a
// server-assigned id.
type OrderAck struct {
	LocalID    uint32
	ExchangeID string
	Rejected   bool
	Reason     string
}

// PositionUpdate carries the unrealised-PnL ratio used for maxdd tracking.
type PositionUpdate struct {
	UnrealizedPnLRatio float64
	Timestamp          time.Time
}

// CancelResult is the outcome of a cancel-order request.
type CancelResult struct {
	ExchangeID string
	Confirmed  bool
}

// BalanceUpdate carries the account's quote-currency balance used by order
// sizing. Emitted on connect and on every subsequent account-channel push.
type BalanceUpdate struct {
	Balance   float64
	Timestamp time.Time
}
