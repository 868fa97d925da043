package codec

import (
	"math"
	"testing"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

func TestFeatureFrameRoundTrip(t *testing.T) {
	t.Parallel()
	f := &types.FeatureFrame{
		MidPrice:      0.001,
		MidPriceCents: 3_000_000,
		SequenceID:    65535,
	}
	for i := range f.Bids {
		f.Bids[i] = types.BookLevel{Price: -0.01 * float64(i) / 400, Volume: float64(i % 100), OrderCount: float64(i % 10)}
		f.Asks[i] = types.BookLevel{Price: 0.01 * float64(i) / 400, Volume: float64(i % 50), OrderCount: float64(i % 5)}
	}
	for i := range f.Features {
		f.Features[i] = types.DepthFeatures{
			VolumeImbalance:     0.1 * float64(i+1) / 10,
			OrderCountImbalance: -0.2,
			BidVwapDisplacement: 0.0001,
			AskVwapDisplacement: -0.0002,
		}
	}

	buf, err := EncodeFeatureFrame(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(buf) != FeatureFrameBytes {
		t.Fatalf("encoded length = %d, want %d", len(buf), FeatureFrameBytes)
	}

	got, err := DecodeFeatureFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SequenceID != f.SequenceID {
		t.Errorf("SequenceID = %d, want %d", got.SequenceID, f.SequenceID)
	}
	if got.MidPriceCents != f.MidPriceCents {
		t.Errorf("MidPriceCents = %d, want %d", got.MidPriceCents, f.MidPriceCents)
	}
	if math.Abs(got.Bids[399].Volume-f.Bids[399].Volume) > 1e-9 {
		t.Errorf("Bids[399].Volume = %v, want %v", got.Bids[399].Volume, f.Bids[399].Volume)
	}
}

func TestActionFrameRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []types.ActionRecord{
		{Kind: types.ActionLimit, PriceOffset: -0.5, VolumeFraction: 0.25, MidPriceCents: 3_000_000, StateID: 12345},
		{Kind: types.ActionMarket, PriceOffset: 1.0, VolumeFraction: 1.0, MidPriceCents: 0, StateID: 0},
		{Kind: 7, PriceOffset: -1.0, VolumeFraction: 0.0, MidPriceCents: MaxMidPriceCents, StateID: 65535},
	}
	for _, c := range cases {
		buf, err := EncodeAction(&c)
		if err != nil {
			t.Fatalf("encode %+v: %v", c, err)
		}
		if len(buf) != ActionFrameBytes {
			t.Fatalf("encoded length = %d, want %d", len(buf), ActionFrameBytes)
		}
		got, err := DecodeAction(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Kind != c.Kind&0x07 {
			t.Errorf("Kind = %v, want %v", got.Kind, c.Kind&0x07)
		}
		if got.MidPriceCents != c.MidPriceCents {
			t.Errorf("MidPriceCents = %d, want %d", got.MidPriceCents, c.MidPriceCents)
		}
		if got.StateID != c.StateID {
			t.Errorf("StateID = %d, want %d", got.StateID, c.StateID)
		}
		if math.Abs(got.PriceOffset-c.PriceOffset) > 1e-9 {
			t.Errorf("PriceOffset = %v, want %v", got.PriceOffset, c.PriceOffset)
		}
	}
}

func TestEncodeActionRejectsOutOfRangeMid(t *testing.T) {
	t.Parallel()
	a := &types.ActionRecord{MidPriceCents: MaxMidPriceCents + 1}
	if _, err := EncodeAction(a); err == nil {
		t.Errorf("expected error for mid price above %d cents", MaxMidPriceCents)
	}
}
