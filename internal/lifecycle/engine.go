package lifecycle

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/s4nngr10r/rtdppo/internal/metrics"
	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// Epsilon is the zero-floor used throughout fill accounting.
const Epsilon = 1e-8

// openingFloor is the minimum opening size that warrants a follow-on trade.
const openingFloor = 1e-3

// Engine owns the active-orders deque, known-orders map, current trade and
// next trade, all guarded by a single mutex with brief critical sections.
// Mutable scalars that any goroutine may read without holding the mutex are
// atomics (balance).
type Engine struct {
	mu sync.Mutex

	activeOrders []*types.Order       // FIFO deque, oldest first
	pendingLocal map[uint32]*types.Order
	knownOrders  map[string]*types.Order // exchange_id -> order, survives deque eviction
	cancelQueue  []string                // exchange ids awaiting cancellation, FIFO

	currentTrade *types.Trade
	nextTrade    *types.Trade

	dd       *DrawdownTracker
	toxicity *flowToxicity

	sizing          SizingParams
	maxActiveOrders int

	balance atomic.Uint64 // bits of a float64, via math.Float64bits

	exchange ExchangeClient
	reports  ReportPublisher
	logger   zerolog.Logger
}

// New creates an Engine with an empty order book.
func New(sizing SizingParams, maxActiveOrders int, exchange ExchangeClient, reports ReportPublisher, logger zerolog.Logger) *Engine {
	return &Engine{
		pendingLocal:    make(map[uint32]*types.Order),
		knownOrders:     make(map[string]*types.Order),
		dd:              &DrawdownTracker{},
		toxicity:        newFlowToxicity(60*time.Second, 0.8, 30*time.Second),
		sizing:          sizing,
		maxActiveOrders: maxActiveOrders,
		exchange:        exchange,
		reports:         reports,
		logger:          logger,
	}
}

// SetBalance updates the account balance read by order sizing. Safe for
// concurrent use without holding the engine mutex.
func (e *Engine) SetBalance(v float64) {
	e.balance.Store(math.Float64bits(v))
}

func (e *Engine) getBalance() float64 {
	return math.Float64frombits(e.balance.Load())
}

// ObservePosition feeds the unrealised-PnL ratio into the drawdown tracker.
// Position is an any-goroutine-write region: no mutex required.
func (e *Engine) ObservePosition(update types.PositionUpdate) {
	e.dd.Observe(update.UnrealizedPnLRatio)
	metrics.MaxDrawdown.Set(e.dd.Value())
}

// SubmitAction implements order submission from a decoded action frame.
func (e *Engine) SubmitAction(ctx context.Context, action *types.ActionRecord) error {
	mid := float64(action.MidPriceCents) / 100
	if mid <= 0 {
		metrics.OrdersRejected.WithLabelValues("no_mid").Inc()
		return nil
	}

	orderPrice := mid * (1 + action.PriceOffset/1000)
	side := types.Sell
	if action.PriceOffset < 0 {
		side = types.Buy
	}
	orderType := "limit"
	if action.Kind != types.ActionLimit {
		orderType = "market"
	}

	balance := e.getBalance()
	notionalMargin := balance * 0.001 * action.VolumeFraction
	size := math.Ceil(10*e.sizing.Leverage*notionalMargin*100/orderPrice) / 10

	if size < e.sizing.MinContract {
		metrics.OrdersRejected.WithLabelValues("below_min_contract").Inc()
		return nil
	}

	e.mu.Lock()
	existing := e.sideExposureLocked(side)
	e.mu.Unlock()

	adjusted, err := e.sizing.Evaluate(SizeRequest{
		Side:             side,
		RequestedSize:    size,
		ExistingExposure: existing,
		Balance:          balance,
		MidPrice:         mid,
	})
	if err != nil {
		metrics.OrdersRejected.WithLabelValues("sizing_policy").Inc()
		e.logger.Info().Err(err).Uint32("state_id", uint32(action.StateID)).Msg("sizing policy rejected order")
		return nil
	}

	order := &types.Order{
		LocalID:        uint32(action.StateID),
		Side:           side,
		IntendedVolume: adjusted,
		IntendedPrice:  orderPrice,
		State:          types.OrderPending,
	}

	e.mu.Lock()
	e.activeOrders = append(e.activeOrders, order)
	e.pendingLocal[order.LocalID] = order
	e.enforceActiveCapLocked()
	e.mu.Unlock()

	metrics.OrdersSubmitted.WithLabelValues(string(side)).Inc()
	metrics.ActiveOrders.Set(float64(len(e.activeOrders)))

	return e.exchange.Submit(ctx, SubmitRequest{
		LocalID:   order.LocalID,
		Side:      string(side),
		OrderType: orderType,
		Price:     orderPrice,
		Size:      adjusted,
	})
}

// sideExposureLocked sums filled + pending intended size attributed to side
// across both active orders and the current/next trade. Must be called
// with e.mu held.
//
// An active order's already-filled portion is reflected in the current/next
// trade's side quantity, not here, so only its remaining unfilled volume is
// counted against the deque to avoid double-counting a partially-filled
// order against both the trade and the deque.
func (e *Engine) sideExposureLocked(side types.Side) float64 {
	var total float64
	for _, o := range e.activeOrders {
		if o.Side == side {
			total += o.IntendedVolume - o.CumulativeFilled
		}
	}
	total += tradeSideQty(e.currentTrade, side)
	total += tradeSideQty(e.nextTrade, side)
	return total
}

// tradeSideQty returns the filled quantity a trade carries on side, or 0 if
// trade is nil.
func tradeSideQty(trade *types.Trade, side types.Side) float64 {
	if trade == nil {
		return 0
	}
	if side == types.Buy {
		return trade.BuyQty
	}
	return trade.SellQty
}

// enforceActiveCapLocked queues the oldest live, un-filled order for
// cancellation when the deque exceeds its cap. Must be called with e.mu
// held.
func (e *Engine) enforceActiveCapLocked() {
	for len(e.activeOrders) > e.maxActiveOrders {
		idx := -1
		for i, o := range e.activeOrders {
			if o.State == types.OrderLive && o.CumulativeFilled <= Epsilon {
				idx = i
				break
			}
		}
		if idx == -1 {
			return
		}
		victim := e.activeOrders[idx]
		e.activeOrders = append(e.activeOrders[:idx], e.activeOrders[idx+1:]...)
		if victim.ExchangeID != "" {
			e.cancelQueue = append(e.cancelQueue, victim.ExchangeID)
		}
	}
	metrics.CancelQueueDepth.Set(float64(len(e.cancelQueue)))
}

// OnOrderAck transitions a pending order to live and records the
// (exchange_id, local_id) mapping.
func (e *Engine) OnOrderAck(ack types.OrderAck) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.pendingLocal[ack.LocalID]
	if !ok {
		return
	}
	delete(e.pendingLocal, ack.LocalID)

	if ack.Rejected {
		order.State = types.OrderRejected
		e.removeFromActiveLocked(order)
		return
	}
	order.ExchangeID = ack.ExchangeID
	order.State = types.OrderLive
	e.knownOrders[ack.ExchangeID] = order
}

func (e *Engine) removeFromActiveLocked(order *types.Order) {
	for i, o := range e.activeOrders {
		if o == order {
			e.activeOrders = append(e.activeOrders[:i], e.activeOrders[i+1:]...)
			return
		}
	}
}

// ProcessCancelQueue sends one cancel request per call, matching the
// one-at-a-time cancellation sub-protocol.
func (e *Engine) ProcessCancelQueue(ctx context.Context) error {
	e.mu.Lock()
	if len(e.cancelQueue) == 0 {
		e.mu.Unlock()
		return nil
	}
	exchangeID := e.cancelQueue[0]
	e.mu.Unlock()

	return e.exchange.Cancel(ctx, CancelRequest{ExchangeID: exchangeID})
}

// OnCancelResult removes the confirmed entry from the cancel queue. If the
// entry is no longer present (a fill already restored the order), the
// confirmation is ignored.
func (e *Engine) OnCancelResult(result types.CancelResult) {
	if !result.Confirmed {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, id := range e.cancelQueue {
		if id == result.ExchangeID {
			e.cancelQueue = append(e.cancelQueue[:i], e.cancelQueue[i+1:]...)
			metrics.CancelQueueDepth.Set(float64(len(e.cancelQueue)))
			return
		}
	}
}

// reinsertActiveSortedLocked inserts order into the active deque keeping it
// sorted by FillTime ascending, for late fills of cancellation-queued
// orders. Must be called with e.mu held.
func (e *Engine) reinsertActiveSortedLocked(order *types.Order) {
	idx := sort.Search(len(e.activeOrders), func(i int) bool {
		return e.activeOrders[i].FillTime >= order.FillTime
	})
	e.activeOrders = append(e.activeOrders, nil)
	copy(e.activeOrders[idx+1:], e.activeOrders[idx:])
	e.activeOrders[idx] = order

	for i, id := range e.cancelQueue {
		if id == order.ExchangeID {
			e.cancelQueue = append(e.cancelQueue[:i], e.cancelQueue[i+1:]...)
			break
		}
	}
}

// isInActiveLocked reports whether order is currently in the active deque.
func (e *Engine) isInActiveLocked(order *types.Order) bool {
	for _, o := range e.activeOrders {
		if o == order {
			return true
		}
	}
	return false
}

func (e *Engine) publishReport(ctx context.Context, payload []byte) {
	if e.reports == nil {
		return
	}
	if err := e.reports.PublishReport(ctx, payload); err != nil {
		e.logger.Warn().Err(err).Msg("execution report publish failed")
	}
}

var errUnknownExchangeID = fmt.Errorf("lifecycle: unknown exchange id")
