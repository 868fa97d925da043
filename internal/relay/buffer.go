// Package relay implements the Decision Relay: it turns feature frames into
// action frames and correlates execution reports back into completed trades
// for the training hook.
package relay

import "github.com/s4nngr10r/rtdppo/pkg/types"

// bufferCapacity is the maximum number of entries the frame/action rings
// retain, keyed by state_id.
const bufferCapacity = 1000

// NetworkWindow is the number of most-recent frames a decision is computed
// over.
const NetworkWindow = 80

// frameRing is a fixed-capacity, arrival-ordered buffer of feature frames
// keyed by their sequence id / state_id.
type frameRing struct {
	order []uint16
	byID  map[uint16]*types.FeatureFrame
}

func newFrameRing() *frameRing {
	return &frameRing{byID: make(map[uint16]*types.FeatureFrame)}
}

func (r *frameRing) push(f *types.FeatureFrame) {
	if _, exists := r.byID[f.SequenceID]; !exists {
		r.order = append(r.order, f.SequenceID)
	}
	r.byID[f.SequenceID] = f
	if len(r.order) > bufferCapacity {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.byID, evict)
	}
}

func (r *frameRing) len() int { return len(r.order) }

// window returns the newest n frames in arrival order.
func (r *frameRing) window(n int) []*types.FeatureFrame {
	if n > len(r.order) {
		n = len(r.order)
	}
	start := len(r.order) - n
	out := make([]*types.FeatureFrame, n)
	for i, id := range r.order[start:] {
		out[i] = r.byID[id]
	}
	return out
}

// stateIDs returns the state ids of the newest n frames in arrival order.
func (r *frameRing) stateIDs(n int) []uint16 {
	if n > len(r.order) {
		n = len(r.order)
	}
	start := len(r.order) - n
	out := make([]uint16, n)
	copy(out, r.order[start:])
	return out
}

// actionRing is the analogous bounded buffer for published actions.
type actionRing struct {
	order []uint16
	byID  map[uint16]*types.ActionRecord
}

func newActionRing() *actionRing {
	return &actionRing{byID: make(map[uint16]*types.ActionRecord)}
}

func (r *actionRing) push(a *types.ActionRecord) {
	if _, exists := r.byID[a.StateID]; !exists {
		r.order = append(r.order, a.StateID)
	}
	r.byID[a.StateID] = a
	if len(r.order) > bufferCapacity {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.byID, evict)
	}
}

func (r *actionRing) get(stateID uint16) (*types.ActionRecord, bool) {
	a, ok := r.byID[stateID]
	return a, ok
}
