package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// Exact wire byte sizes for the feature-frame and action-frame encodings.
const (
	bookLevelBytes  = 24 // price (change) + volume (ob) + order count (ob), 8 bytes each
	bookSideBytes   = types.LevelsPerSide * bookLevelBytes
	depthBlockBytes = 4 * 8 // VI, OI, bidVwapDisp, askVwapDisp per depth cutoff
	FeatureFrameBytes = bookSideBytes*2 + 8 /*mid_change*/ + depthBlockBytes*len(types.DepthCutoffs) + 4 /*mid cents*/ + 2 /*seq*/

	ActionFrameBytes = 1 + 8 + 8 + 4 + 2

	// MaxMidPriceCents is the largest absolute mid price (in cents) the wire
	// format can carry: 0 ≤ value ≤ 100_000_000 cents == $1,000,000.00.
	MaxMidPriceCents = 100_000_000
)

// EncodeFeatureFrame serialises a feature frame to its binary wire form.
func EncodeFeatureFrame(f *types.FeatureFrame) ([]byte, error) {
	if f.MidPriceCents > MaxMidPriceCents {
		return nil, fmt.Errorf("codec: mid price %d cents exceeds %d", f.MidPriceCents, MaxMidPriceCents)
	}

	buf := make([]byte, FeatureFrameBytes)
	off := 0

	writeLevel := func(lvl types.BookLevel) {
		binary.LittleEndian.PutUint64(buf[off:], EncodeChange(lvl.Price))
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], EncodeOrderbook(lvl.Volume))
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], EncodeOrderbook(lvl.OrderCount))
		off += 8
	}

	for _, lvl := range f.Bids {
		writeLevel(lvl)
	}
	for _, lvl := range f.Asks {
		writeLevel(lvl)
	}

	binary.LittleEndian.PutUint64(buf[off:], EncodeChange(f.MidPrice))
	off += 8

	for _, feat := range f.Features {
		binary.LittleEndian.PutUint64(buf[off:], EncodeChange(feat.VolumeImbalance))
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], EncodeChange(feat.OrderCountImbalance))
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], EncodeChange(feat.BidVwapDisplacement))
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], EncodeChange(feat.AskVwapDisplacement))
		off += 8
	}

	binary.LittleEndian.PutUint32(buf[off:], f.MidPriceCents)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], f.SequenceID)
	off += 2

	if off != FeatureFrameBytes {
		return nil, fmt.Errorf("codec: internal encode length mismatch: wrote %d, want %d", off, FeatureFrameBytes)
	}
	return buf, nil
}

// DecodeFeatureFrame parses a feature frame from its binary wire form.
func DecodeFeatureFrame(buf []byte) (*types.FeatureFrame, error) {
	if len(buf) != FeatureFrameBytes {
		return nil, fmt.Errorf("codec: feature frame length %d, want %d", len(buf), FeatureFrameBytes)
	}

	f := &types.FeatureFrame{}
	off := 0

	readLevel := func() types.BookLevel {
		lvl := types.BookLevel{
			Price:      DecodeChange(binary.LittleEndian.Uint64(buf[off:])),
			Volume:     DecodeOrderbook(binary.LittleEndian.Uint64(buf[off+8:])),
			OrderCount: DecodeOrderbook(binary.LittleEndian.Uint64(buf[off+16:])),
		}
		off += 24
		return lvl
	}

	for i := 0; i < types.LevelsPerSide; i++ {
		f.Bids[i] = readLevel()
	}
	for i := 0; i < types.LevelsPerSide; i++ {
		f.Asks[i] = readLevel()
	}

	f.MidPrice = DecodeChange(binary.LittleEndian.Uint64(buf[off:]))
	off += 8

	for i := range f.Features {
		f.Features[i] = types.DepthFeatures{
			VolumeImbalance:     DecodeChange(binary.LittleEndian.Uint64(buf[off:])),
			OrderCountImbalance: DecodeChange(binary.LittleEndian.Uint64(buf[off+8:])),
			BidVwapDisplacement: DecodeChange(binary.LittleEndian.Uint64(buf[off+16:])),
			AskVwapDisplacement: DecodeChange(binary.LittleEndian.Uint64(buf[off+24:])),
		}
		off += 32
	}

	f.MidPriceCents = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	f.SequenceID = binary.LittleEndian.Uint16(buf[off:])
	off += 2

	return f, nil
}

// EncodeAction serialises an action record to its binary wire form.
func EncodeAction(a *types.ActionRecord) ([]byte, error) {
	if a.MidPriceCents > MaxMidPriceCents {
		return nil, fmt.Errorf("codec: mid price %d cents exceeds %d", a.MidPriceCents, MaxMidPriceCents)
	}
	if a.PriceOffset < -1.0 || a.PriceOffset > 1.0 {
		return nil, fmt.Errorf("codec: price_offset %v out of [-1, 1]", a.PriceOffset)
	}
	if a.VolumeFraction < 0.0 || a.VolumeFraction > 1.0 {
		return nil, fmt.Errorf("codec: volume_fraction %v out of [0, 1]", a.VolumeFraction)
	}

	buf := make([]byte, ActionFrameBytes)
	buf[0] = byte(a.Kind) & 0x07
	binary.LittleEndian.PutUint64(buf[1:], EncodeChange(a.PriceOffset))
	binary.LittleEndian.PutUint64(buf[9:], EncodeOrderbook(a.VolumeFraction))
	binary.LittleEndian.PutUint32(buf[17:], a.MidPriceCents)
	binary.LittleEndian.PutUint16(buf[21:], a.StateID)
	return buf, nil
}

// DecodeAction parses an action record from its binary wire form.
func DecodeAction(buf []byte) (*types.ActionRecord, error) {
	if len(buf) != ActionFrameBytes {
		return nil, fmt.Errorf("codec: action frame length %d, want %d", len(buf), ActionFrameBytes)
	}
	return &types.ActionRecord{
		Kind:           types.ActionKind(buf[0] & 0x07),
		PriceOffset:    DecodeChange(binary.LittleEndian.Uint64(buf[1:])),
		VolumeFraction: DecodeOrderbook(binary.LittleEndian.Uint64(buf[9:])),
		MidPriceCents:  binary.LittleEndian.Uint32(buf[17:]),
		StateID:        binary.LittleEndian.Uint16(buf[21:]),
	}, nil
}
