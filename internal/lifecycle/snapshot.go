package lifecycle

import (
	"math"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// Snapshot captures the engine state needed to survive a restart without
// losing attribution of in-flight orders or the current trade's
// closing/opening split. The cancel queue and pending-local map are not
// persisted and start empty after Restore: an OnOrderAck for an order that
// was still pending is then ignored, and a queued cancellation is not sent
// again.
type Snapshot struct {
	Balance      float64                 `json:"balance"`
	MaxDD        float64                 `json:"maxdd"`
	ActiveOrders []*types.Order          `json:"active_orders"`
	KnownOrders  map[string]*types.Order `json:"known_orders"`
	CurrentTrade *types.Trade            `json:"current_trade,omitempty"`
	NextTrade    *types.Trade            `json:"next_trade,omitempty"`
}

// Snapshot returns a copy of the engine's durable state for persistence.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	known := make(map[string]*types.Order, len(e.knownOrders))
	for id, o := range e.knownOrders {
		known[id] = o
	}

	return Snapshot{
		Balance:      e.getBalance(),
		MaxDD:        e.dd.Value(),
		ActiveOrders: append([]*types.Order(nil), e.activeOrders...),
		KnownOrders:  known,
		CurrentTrade: e.currentTrade,
		NextTrade:    e.nextTrade,
	}
}

// Restore reinstates state captured by Snapshot. Must only be called before
// the engine starts processing events.
func (e *Engine) Restore(s Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.balance.Store(math.Float64bits(s.Balance))
	e.dd.Reset()
	if s.MaxDD != 0 {
		e.dd.Observe(s.MaxDD)
	}
	e.activeOrders = s.ActiveOrders
	if s.KnownOrders != nil {
		e.knownOrders = s.KnownOrders
	}
	e.currentTrade = s.CurrentTrade
	e.nextTrade = s.NextTrade

	// The JSON round-trip decodes ActiveOrders and KnownOrders into distinct
	// *Order values even when they describe the same live order. Re-point
	// knownOrders at the activeOrders instance so isInActiveLocked's pointer
	// comparison (used by ProcessFill) still recognizes a restored order as
	// active.
	for _, o := range e.activeOrders {
		if o.ExchangeID != "" {
			e.knownOrders[o.ExchangeID] = o
		}
	}
}
