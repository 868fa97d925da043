package relay

import (
	"math"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// BaselineParams tunes a reservation-price/optimal-spread quoting model
// (Avellaneda-Stoikov), used as the Decision Relay's default DecisionFunc
// when no trained policy is wired in. The skew term that the original model
// drives from held inventory is driven here from the nearest-cutoff volume
// imbalance instead, since the relay never observes the Lifecycle Engine's
// position, only the feature frames on the wire: the relay decides from
// order-book shape alone, the same cyclic-ownership break applied between
// services.
type BaselineParams struct {
	Gamma              float64 // risk aversion: higher tightens the spread
	Sigma              float64 // volatility estimate
	K                  float64 // order arrival intensity
	T                  float64 // time horizon
	BaseVolumeFraction float64
}

// DefaultBaselineParams returns reasonable defaults for a BTC-USDT-SWAP-scale
// instrument.
func DefaultBaselineParams() BaselineParams {
	return BaselineParams{Gamma: 0.1, Sigma: 0.02, K: 1.5, T: 1.0, BaseVolumeFraction: 0.1}
}

// Decide implements DecisionFunc: reservation price skews away from the side
// with more resting volume, and the quoted offset widens with volatility and
// thins with arrival intensity, same shape as the reservation-price/
// optimal-spread formulas this is grounded on.
func (p BaselineParams) Decide(window []*types.FeatureFrame) (types.ActionKind, float64, float64) {
	latest := window[len(window)-1]
	imbalance := latest.Features[0].VolumeImbalance // nearest depth cutoff

	reservationSkew := imbalance * p.Gamma * p.Sigma * p.Sigma * p.T
	optSpread := p.Gamma*p.Sigma*p.Sigma*p.T + (2.0/p.Gamma)*math.Log(1+p.Gamma/p.K)

	priceOffset := clampOffset(-reservationSkew - optSpread/2)

	volumeFraction := p.BaseVolumeFraction * (1 - 0.5*math.Abs(imbalance))
	if volumeFraction < 0 {
		volumeFraction = 0
	}
	if volumeFraction > 1 {
		volumeFraction = 1
	}

	return types.ActionLimit, priceOffset, volumeFraction
}

func clampOffset(v float64) float64 {
	const bound = 0.999
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}
