package lifecycle

import (
	"math"
	"sync"
	"time"

	"github.com/s4nngr10r/rtdppo/internal/metrics"
	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// toxicFill is one fill-delta observation kept in the rolling window.
type toxicFill struct {
	side types.Side
	at   time.Time
}

// flowToxicity detects adverse selection by watching whether recent fills
// cluster on one side within a short window — a burst of same-side fills
// suggests an informed counterparty sweeping a stale quote rather than
// ordinary two-sided flow. Fed from every ProcessFill delta and exported as
// a gauge so an operator can see it without cross-referencing OKX fills by
// hand.
type flowToxicity struct {
	mu sync.Mutex

	window     time.Duration
	threshold  float64
	fills      []toxicFill
	lastToxic  time.Time
	inCooldown time.Duration
}

func newFlowToxicity(window time.Duration, threshold float64, cooldown time.Duration) *flowToxicity {
	return &flowToxicity{
		window:     window,
		threshold:  threshold,
		fills:      make([]toxicFill, 0, 64),
		inCooldown: cooldown,
	}
}

// observe records a fill-delta event and refreshes the exported gauge.
func (f *flowToxicity) observe(side types.Side, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fills = append(f.fills, toxicFill{side: side, at: at})
	f.evictStaleLocked(at)

	score := f.scoreLocked()
	metrics.FlowToxicity.Set(score)
	if score > f.threshold {
		f.lastToxic = at
	}
}

func (f *flowToxicity) evictStaleLocked(now time.Time) {
	cutoff := now.Add(-f.window)
	i := 0
	for ; i < len(f.fills); i++ {
		if f.fills[i].at.After(cutoff) {
			break
		}
	}
	f.fills = f.fills[i:]
}

// minToxicFills is the fewest fills in the window that can count as a
// same-side burst; a smaller window scores 0.
const minToxicFills = 3

// scoreLocked computes directional imbalance in [0,1]: the fraction of
// fills in the window that land on the dominant side, or 0 while the window
// holds fewer than minToxicFills fills. Must be called with the lock held.
func (f *flowToxicity) scoreLocked() float64 {
	if len(f.fills) < minToxicFills {
		return 0
	}
	var buy, sell int
	for _, fl := range f.fills {
		if fl.side == types.Buy {
			buy++
		} else {
			sell++
		}
	}
	dominant := math.Max(float64(buy), float64(sell))
	return dominant / float64(len(f.fills))
}

// isToxic reports whether flow is currently imbalanced past the threshold,
// or still within the cooldown period after the last time it was.
func (f *flowToxicity) isToxic(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scoreLocked() > f.threshold {
		return true
	}
	return !f.lastToxic.IsZero() && now.Sub(f.lastToxic) < f.inCooldown
}
