// Package book maintains the dense, fixed-width order book the Depth Engine
// derives feature frames from.
//
// Book is single-owner: the depth-ingest goroutine is the only writer and
// the only reader, so no internal locking is provided. Callers
// that need to observe a just-built snapshot from a second goroutine must do
// so via the FeatureFrame a caller publishes, not by reaching back into Book.
package book

import (
	"math"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// historyDepth is the number of past side snapshots retained as an
// extensibility hook for change features. The current feature set does not
// consume this history.
const historyDepth = 10

// sideHistory is a fixed-capacity ring of past Side snapshots.
type sideHistory struct {
	entries []*Side
}

func (h *sideHistory) push(s *Side) {
	snap := &Side{descending: s.descending}
	snap.levels = append([]types.BookLevel(nil), s.levels...)
	h.entries = append(h.entries, snap)
	if len(h.entries) > historyDepth {
		h.entries = h.entries[len(h.entries)-historyDepth:]
	}
}

// Book maintains a 400-level-per-side book.
type Book struct {
	Bids *Side
	Asks *Side

	bidHistory sideHistory
	askHistory sideHistory

	hasSnapshot bool
	sequenceID  uint16
}

// New creates an empty book. A snapshot must be applied before any delta.
func New() *Book {
	return &Book{
		Bids: newSide(true),
		Asks: newSide(false),
	}
}

// ApplySnapshot clears both sides and repopulates them from full snapshot
// data. On success the sequence id resets to 0, since a new snapshot
// restarts the sequence.
func (b *Book) ApplySnapshot(bids, asks []types.BookLevel) error {
	if err := b.Bids.loadSnapshot(bids); err != nil {
		return err
	}
	if err := b.Asks.loadSnapshot(asks); err != nil {
		return err
	}
	b.hasSnapshot = true
	b.sequenceID = 0
	b.bidHistory = sideHistory{}
	b.askHistory = sideHistory{}
	return nil
}

// DeltaLevel is one (price, volume, orderCount) update within an update
// frame.
type DeltaLevel struct {
	Side       types.Side
	Price      float64
	Volume     float64
	OrderCount float64
}

// ApplyDelta applies a batch of per-level updates and re-asserts the
// 400-level invariant on both sides afterward. On failure the book's prior
// state is NOT guaranteed consistent for further deltas; the caller must
// abort the session and force a re-snapshot.
func (b *Book) ApplyDelta(deltas []DeltaLevel) error {
	if !b.hasSnapshot {
		return ErrMissingSnapshot
	}

	b.bidHistory.push(b.Bids)
	b.askHistory.push(b.Asks)

	for _, d := range deltas {
		switch d.Side {
		case types.Buy:
			b.Bids.applyDelta(d.Price, d.Volume, d.OrderCount)
		case types.Sell:
			b.Asks.applyDelta(d.Price, d.Volume, d.OrderCount)
		}
	}

	if err := b.Bids.validate(); err != nil {
		return err
	}
	if err := b.Asks.validate(); err != nil {
		return err
	}
	return nil
}

// MidPrice returns (bestBid+bestAsk)/2, or 0 if either side is empty.
func (b *Book) MidPrice() float64 {
	bid, ask := b.Bids.BestPrice(), b.Asks.BestPrice()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// imbalance computes (a-b)/(a+b), returning 0 when the denominator is zero.
func imbalance(a, b float64) float64 {
	denom := a + b
	if denom == 0 {
		return 0
	}
	return (a - b) / denom
}

// vwapDisplacement computes (vwap-mid)/mid for a side's first n levels,
// returning 0 on a zero denominator.
func vwapDisplacement(priceVolume, volume, mid float64) float64 {
	if volume == 0 || mid == 0 {
		return 0
	}
	vwap := priceVolume / volume
	return (vwap - mid) / mid
}

// ComputeFeatures computes the feature vector at every depth cutoff.
func (b *Book) ComputeFeatures() [5]types.DepthFeatures {
	mid := b.MidPrice()
	var out [5]types.DepthFeatures

	for i, d := range types.DepthCutoffs {
		bidVol, bidOC, bidPV := b.Bids.SumAt(d)
		askVol, askOC, askPV := b.Asks.SumAt(d)

		out[i] = types.DepthFeatures{
			VolumeImbalance:     imbalance(bidVol, askVol),
			OrderCountImbalance: imbalance(bidOC, askOC),
			BidVwapDisplacement: vwapDisplacement(bidPV, bidVol, mid),
			AskVwapDisplacement: vwapDisplacement(askPV, askVol, mid),
		}
	}
	return out
}

// MidPriceCents converts the current mid price to integer cents, rounded to
// the nearest cent (the wire format's "trustworthy absolute mid").
func (b *Book) MidPriceCents() uint32 {
	mid := b.MidPrice()
	if mid <= 0 {
		return 0
	}
	cents := math.Round(mid * 100)
	if cents < 0 {
		return 0
	}
	return uint32(cents)
}

// NextSequenceID returns the current sequence id and advances it, wrapping
// modulo 2^16.
func (b *Book) NextSequenceID() uint16 {
	id := b.sequenceID
	b.sequenceID++
	return id
}

// BuildFrame assembles a full FeatureFrame snapshot from the current book
// state, minting and advancing the sequence id.
func (b *Book) BuildFrame() *types.FeatureFrame {
	f := &types.FeatureFrame{
		MidPrice:      b.MidPrice(),
		MidPriceCents: b.MidPriceCents(),
		Features:      b.ComputeFeatures(),
		SequenceID:    b.NextSequenceID(),
	}
	copy(f.Bids[:], b.Bids.Levels())
	copy(f.Asks[:], b.Asks.Levels())
	return f
}
