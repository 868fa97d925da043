package book

import (
	"errors"
	"testing"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

func flatSnapshot(startBid, startAsk float64) (bids, asks []types.BookLevel) {
	bids = make([]types.BookLevel, types.LevelsPerSide)
	asks = make([]types.BookLevel, types.LevelsPerSide)
	for i := 0; i < types.LevelsPerSide; i++ {
		bids[i] = types.BookLevel{Price: startBid - 0.01*float64(i), Volume: 1, OrderCount: 1}
		asks[i] = types.BookLevel{Price: startAsk + 0.01*float64(i), Volume: 1, OrderCount: 1}
	}
	return bids, asks
}

func TestApplySnapshotEstablishesLevelCount(t *testing.T) {
	t.Parallel()
	b := New()
	bids, asks := flatSnapshot(100, 100.01)
	if err := b.ApplySnapshot(bids, asks); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	if b.Bids.Len() != types.LevelsPerSide || b.Asks.Len() != types.LevelsPerSide {
		t.Errorf("level counts = %d/%d, want %d/%d", b.Bids.Len(), b.Asks.Len(), types.LevelsPerSide, types.LevelsPerSide)
	}
}

func TestApplyDeltaBeforeSnapshotFails(t *testing.T) {
	t.Parallel()
	b := New()
	err := b.ApplyDelta([]DeltaLevel{{Side: types.Buy, Price: 100, Volume: 1, OrderCount: 1}})
	if !errors.Is(err, ErrMissingSnapshot) {
		t.Errorf("err = %v, want ErrMissingSnapshot", err)
	}
}

func TestApplyDeltaInsertThenRemoveKeepsLevelCount(t *testing.T) {
	t.Parallel()
	b := New()
	bids, asks := flatSnapshot(100, 100.01)
	if err := b.ApplySnapshot(bids, asks); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	worstBid := b.Bids.Levels()[types.LevelsPerSide-1].Price
	newPrice := 100.005
	deltas := []DeltaLevel{
		{Side: types.Buy, Price: newPrice, Volume: 2, OrderCount: 1},
		{Side: types.Buy, Price: worstBid, Volume: 0, OrderCount: 0},
	}
	if err := b.ApplyDelta(deltas); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if b.Bids.Len() != types.LevelsPerSide {
		t.Errorf("bid count after insert+remove = %d, want %d", b.Bids.Len(), types.LevelsPerSide)
	}
	idx, found := b.Bids.locate(newPrice)
	if !found {
		t.Fatalf("expected inserted price %v present", newPrice)
	}
	if b.Bids.levels[idx].Volume != 2 {
		t.Errorf("inserted level volume = %v, want 2", b.Bids.levels[idx].Volume)
	}
}

func TestApplyDeltaZeroVolumeRemovesExactlyOneLevel(t *testing.T) {
	t.Parallel()
	b := New()
	bids, asks := flatSnapshot(100, 100.01)
	if err := b.ApplySnapshot(bids, asks); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	target := b.Asks.Levels()[5].Price
	deltas := []DeltaLevel{
		{Side: types.Sell, Price: target, Volume: 0, OrderCount: 0},
		{Side: types.Sell, Price: asks[len(asks)-1].Price + 0.01, Volume: 1, OrderCount: 1},
	}
	if err := b.ApplyDelta(deltas); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if b.Asks.Len() != types.LevelsPerSide {
		t.Errorf("ask count = %d, want %d", b.Asks.Len(), types.LevelsPerSide)
	}
	if _, found := b.Asks.locate(target); found {
		t.Errorf("removed price %v still present", target)
	}
}

func TestApplyDeltaViolatingLevelCountIsFatal(t *testing.T) {
	t.Parallel()
	b := New()
	bids, asks := flatSnapshot(100, 100.01)
	if err := b.ApplySnapshot(bids, asks); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	worstBid := b.Bids.Levels()[types.LevelsPerSide-1].Price
	err := b.ApplyDelta([]DeltaLevel{{Side: types.Buy, Price: worstBid, Volume: 0, OrderCount: 0}})
	if !errors.Is(err, ErrLevelCount) {
		t.Errorf("err = %v, want ErrLevelCount", err)
	}
}

func TestComputeFeaturesZeroDenominatorYieldsZero(t *testing.T) {
	t.Parallel()
	b := New()
	feats := b.ComputeFeatures()
	for i, f := range feats {
		if f.VolumeImbalance != 0 || f.OrderCountImbalance != 0 || f.BidVwapDisplacement != 0 || f.AskVwapDisplacement != 0 {
			t.Errorf("cutoff %d on empty book = %+v, want all zero", i, f)
		}
	}
}

func TestComputeFeaturesSymmetricBookIsBalanced(t *testing.T) {
	t.Parallel()
	b := New()
	bids, asks := flatSnapshot(100, 100.01)
	if err := b.ApplySnapshot(bids, asks); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	feats := b.ComputeFeatures()
	for i, f := range feats {
		if f.VolumeImbalance != 0 {
			t.Errorf("cutoff %d VolumeImbalance = %v, want 0 for equal-size book", i, f.VolumeImbalance)
		}
		if f.OrderCountImbalance != 0 {
			t.Errorf("cutoff %d OrderCountImbalance = %v, want 0 for equal-size book", i, f.OrderCountImbalance)
		}
	}
}

func TestSequenceIDWrapsMod16Bit(t *testing.T) {
	t.Parallel()
	b := New()
	b.sequenceID = 65535
	first := b.NextSequenceID()
	second := b.NextSequenceID()
	if first != 65535 {
		t.Errorf("first = %d, want 65535", first)
	}
	if second != 0 {
		t.Errorf("second = %d, want 0 (wrapped)", second)
	}
}

func TestApplySnapshotResetsSequenceID(t *testing.T) {
	t.Parallel()
	b := New()
	bids, asks := flatSnapshot(100, 100.01)
	if err := b.ApplySnapshot(bids, asks); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	b.NextSequenceID()
	b.NextSequenceID()
	if err := b.ApplySnapshot(bids, asks); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	if b.sequenceID != 0 {
		t.Errorf("sequenceID after re-snapshot = %d, want 0", b.sequenceID)
	}
}

func TestBuildFrameCopiesLevels(t *testing.T) {
	t.Parallel()
	b := New()
	bids, asks := flatSnapshot(100, 100.01)
	if err := b.ApplySnapshot(bids, asks); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	f := b.BuildFrame()
	// mid = (100 + 100.01) / 2 = 100.005, rounded to the nearest cent.
	if f.MidPriceCents != 10001 {
		t.Errorf("MidPriceCents = %d, want 10001", f.MidPriceCents)
	}
	if f.Bids[0].Price != bids[0].Price {
		t.Errorf("frame Bids[0].Price = %v, want %v", f.Bids[0].Price, bids[0].Price)
	}
}
