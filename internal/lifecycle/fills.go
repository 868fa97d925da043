package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/s4nngr10r/rtdppo/internal/metrics"
	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// perExecutionReport is the per-execution execution-report shape (§6.2). The
// two flavours (with/without execution_percentage) are the same struct with
// the pointer field nil or set; json omits it when nil.
type perExecutionReport struct {
	StateID              uint32   `json:"state_id"`
	OKXID                string   `json:"okx_id"`
	IsTradeClosed        bool     `json:"is_trade_closed"`
	ExecutionPercentage *float64 `json:"execution_percentage,omitempty"`
}

// closureReport is the trade-closure execution-report shape (§6.2).
type closureReport struct {
	IsTradeClosed  bool                 `json:"is_trade_closed"`
	FilledPortions []map[string]float64 `json:"filled_portions"`
	Reward         float64              `json:"reward"`
}

func f64(v float64) *float64 { return &v }

// ProcessFill implements the fill-processing core (§4.4.3): recognition,
// fill delta, trade attribution (no-active / same-direction / flip), closure,
// and order-deque housekeeping. It is the only entry point that mutates
// trade state from an exchange fill event.
func (e *Engine) ProcessFill(ctx context.Context, fill types.FillEvent) error {
	e.mu.Lock()

	// Step 1 — recognition.
	order, ok := e.knownOrders[fill.ExchangeID]
	if !ok {
		e.mu.Unlock()
		metrics.FillsIgnored.WithLabelValues("unknown_exchange_id").Inc()
		e.logger.Warn().Str("exchange_id", fill.ExchangeID).Msg("fill for unrecognized order ignored")
		return nil
	}
	if !e.isInActiveLocked(order) {
		order.FillTime = fill.FillTime
		e.reinsertActiveSortedLocked(order)
	}

	// Step 2 — fill delta.
	delta := fill.CumulativeFilled - order.CumulativeFilled
	if delta <= Epsilon {
		e.mu.Unlock()
		metrics.FillsIgnored.WithLabelValues("non_positive_delta").Inc()
		return nil
	}
	order.CumulativeFilled = fill.CumulativeFilled
	order.AvgFillPrice = fill.AvgPrice
	order.FillTime = fill.FillTime
	order.Side = fill.Side

	e.toxicity.observe(fill.Side, time.UnixMilli(fill.FillTime))

	reports := e.attributeFillLocked(order, fill, delta)

	// Step 5 — order-deque housekeeping.
	if order.CumulativeFilled >= order.IntendedVolume-Epsilon {
		order.State = types.OrderFilled
		e.removeFromActiveLocked(order)
	} else {
		order.State = types.OrderPartiallyFilled
	}
	e.enforceActiveCapLocked()
	metrics.ActiveOrders.Set(float64(len(e.activeOrders)))
	metrics.FillsProcessed.Inc()

	e.mu.Unlock()

	for _, payload := range reports {
		e.publishReport(ctx, payload)
	}
	return nil
}

// attributeFillLocked implements step 3 (trade attribution) and step 4
// (closure). Must be called with e.mu held; it does not itself touch the
// network, returning the marshalled reports for the caller to publish after
// unlocking, since network I/O must never happen while the mutex is held.
func (e *Engine) attributeFillLocked(order *types.Order, fill types.FillEvent, delta float64) [][]byte {
	var reports [][]byte

	priorNet := 0.0
	if e.currentTrade != nil {
		priorNet = e.currentTrade.NetSize
	}

	switch {
	case absf(priorNet) < Epsilon:
		// No active trade: start one.
		trade := &types.Trade{
			TradeID:   fill.ExchangeID,
			Direction: types.DirectionForSide(fill.Side),
		}
		order.TradeID = trade.TradeID
		portion := types.FillPortion{
			TradeID:           trade.TradeID,
			Size:              delta,
			Price:             fill.AvgPrice,
			Timestamp:         fill.FillTime,
			IsClosing:         false,
			ExecutionFraction: order.CumulativeFilled / order.IntendedVolume,
		}
		order.FillPortions = append(order.FillPortions, portion)
		addToTradeSums(trade, fill.Side, delta, fill.AvgPrice)
		trade.Orders = append(trade.Orders, order)
		e.currentTrade = trade
		e.dd.Reset()

		reports = append(reports, mustMarshal(perExecutionReport{
			StateID:             order.LocalID,
			OKXID:               fill.ExchangeID,
			IsTradeClosed:       false,
			ExecutionPercentage: f64(portion.ExecutionFraction),
		}))

	case sameDirection(e.currentTrade.Direction, fill.Side):
		portion := types.FillPortion{
			TradeID:           e.currentTrade.TradeID,
			Size:              delta,
			Price:             fill.AvgPrice,
			Timestamp:         fill.FillTime,
			IsClosing:         false,
			ExecutionFraction: order.CumulativeFilled / order.IntendedVolume,
		}
		order.FillPortions = append(order.FillPortions, portion)
		if order.TradeID == "" {
			order.TradeID = e.currentTrade.TradeID
			e.currentTrade.Orders = append(e.currentTrade.Orders, order)
		}
		addToTradeSums(e.currentTrade, fill.Side, delta, fill.AvgPrice)

		reports = append(reports, mustMarshal(perExecutionReport{
			StateID:             order.LocalID,
			OKXID:               fill.ExchangeID,
			IsTradeClosed:       false,
			ExecutionPercentage: f64(portion.ExecutionFraction),
		}))

		if absf(e.currentTrade.NetSize) < Epsilon {
			reports = append(reports, e.closeCurrentTradeLocked())
		}

	default:
		// Opposite direction: closing/opening split.
		closing := minf(delta, absf(priorNet))
		opening := delta - closing

		closingPortion := types.FillPortion{
			TradeID:           e.currentTrade.TradeID,
			Size:              closing,
			Price:             fill.AvgPrice,
			Timestamp:         fill.FillTime,
			IsClosing:         true,
			ExecutionFraction: closing / order.IntendedVolume,
		}
		order.FillPortions = append(order.FillPortions, closingPortion)
		if order.TradeID == "" {
			order.TradeID = e.currentTrade.TradeID
			e.currentTrade.Orders = append(e.currentTrade.Orders, order)
		}
		addToTradeSums(e.currentTrade, fill.Side, closing, fill.AvgPrice)

		reports = append(reports, mustMarshal(perExecutionReport{
			StateID:             order.LocalID,
			OKXID:               fill.ExchangeID,
			IsTradeClosed:       false,
			ExecutionPercentage: f64(closingPortion.ExecutionFraction),
		}))

		if opening >= openingFloor {
			next := &types.Trade{
				TradeID:   fill.ExchangeID,
				Direction: types.DirectionForSide(fill.Side),
			}
			openingPortion := types.FillPortion{
				TradeID:           next.TradeID,
				Size:              opening,
				Price:             fill.AvgPrice,
				Timestamp:         fill.FillTime,
				IsClosing:         false,
				ExecutionFraction: opening / order.IntendedVolume,
			}
			order.FillPortions = append(order.FillPortions, openingPortion)
			addToTradeSums(next, fill.Side, opening, fill.AvgPrice)
			next.Orders = append(next.Orders, order)
			e.nextTrade = next

			reports = append(reports, mustMarshal(perExecutionReport{
				StateID:             order.LocalID,
				OKXID:               fill.ExchangeID,
				IsTradeClosed:       false,
				ExecutionPercentage: f64(openingPortion.ExecutionFraction),
			}))
		}

		if absf(e.currentTrade.NetSize) < Epsilon {
			reports = append(reports, e.closeCurrentTradeLocked())
		}
	}

	return reports
}

// closeCurrentTradeLocked implements step 4 (closure path). Must be called
// with e.mu held.
func (e *Engine) closeCurrentTradeLocked() []byte {
	trade := e.currentTrade
	reward := ComputeReward(string(trade.Direction), trade.AvgBuy(), trade.AvgSell(), e.dd.Value())
	trade.CumulativeReward = reward
	metrics.TradeReward.Set(reward)

	var portions []map[string]float64
	for _, o := range trade.Orders {
		for _, p := range o.FillPortions {
			if p.TradeID != trade.TradeID {
				continue
			}
			portions = append(portions, map[string]float64{o.ExchangeID: p.ExecutionFraction * 100})
		}
	}

	e.dd.Reset()
	if e.nextTrade != nil {
		e.currentTrade = e.nextTrade
		e.nextTrade = nil
	} else {
		e.currentTrade = nil
	}

	return mustMarshal(closureReport{
		IsTradeClosed:  true,
		FilledPortions: portions,
		Reward:         reward,
	})
}

func sameDirection(dir types.Direction, side types.Side) bool {
	return (dir == types.Long && side == types.Buy) || (dir == types.Short && side == types.Sell)
}

func addToTradeSums(trade *types.Trade, side types.Side, size, price float64) {
	if side == types.Buy {
		trade.BuyQP += price * size
		trade.BuyQty += size
	} else {
		trade.SellQP += price * size
		trade.SellQty += size
	}
	trade.NetSize = trade.BuyQty - trade.SellQty
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
