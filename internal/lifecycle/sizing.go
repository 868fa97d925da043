// Package lifecycle implements the Lifecycle Engine: order submission,
// position sizing, fill processing, reward computation and the
// cancellation sub-protocol. It owns the authoritative order book of this
// process's own submitted orders, not the market order book.
package lifecycle

import (
	"fmt"
	"math"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// SizingParams are the position-sizing policy's tunables.
type SizingParams struct {
	MarginCapPercent float64 // default 20
	Leverage         float64 // default 100
	MinContract      float64 // default 0.1
}

// MaxPerSide returns the largest per-side exposure the account may carry at
// the given mid price, rounded down to one decimal.
func (p SizingParams) MaxPerSide(balance, midPrice float64) float64 {
	if midPrice <= 0 {
		return 0
	}
	raw := (balance * p.MarginCapPercent / 100) * p.Leverage / (midPrice / 100)
	return math.Floor(raw*10) / 10
}

// SizeRequest carries the state the sizing policy needs to evaluate a
// proposed order against existing exposure on its side.
type SizeRequest struct {
	Side             types.Side
	RequestedSize    float64
	ExistingExposure float64 // filled + pending intended size already attributed to Side
	Balance          float64
	MidPrice         float64
}

// Evaluate applies the position-sizing policy: if the requested order would
// push side exposure past max_per_side, the size is reduced by the overrun;
// if the reduced size falls below min_contract, the order is rejected
// outright.
func (p SizingParams) Evaluate(req SizeRequest) (adjustedSize float64, err error) {
	maxPerSide := p.MaxPerSide(req.Balance, req.MidPrice)
	projected := req.ExistingExposure + req.RequestedSize

	size := req.RequestedSize
	if projected > maxPerSide {
		overrun := projected - maxPerSide
		size = req.RequestedSize - overrun
	}
	if size < p.MinContract {
		return 0, fmt.Errorf("%w: adjusted size %.4f below min_contract %.4f", ErrSizingRejected, size, p.MinContract)
	}
	return size, nil
}
