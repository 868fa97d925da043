// Package depth implements the Depth Engine: it consumes the exchange depth
// stream, maintains a dense order book, and emits one binary feature frame
// per successful update.
package depth

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// wireLevel is one [price, size, deprecated, order_count] element as the
// exchange sends it.
type wireLevel [4]string

// inboundFrame is the JSON envelope for both snapshot and update messages.
type inboundFrame struct {
	Action string      `json:"action"`
	Bids   []wireLevel `json:"bids"`
	Asks   []wireLevel `json:"asks"`
}

// parseFloat parses a signed decimal with optional exponent, independent of
// locale (strconv.ParseFloat already is; this wrapper exists so callers get
// a consistent error type across the package).
func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float %q: %w", s, err)
	}
	return v, nil
}

// decodeLevels converts wire levels into price/volume/orderCount triples,
// discarding the deprecated third field.
func decodeLevels(raw []wireLevel) ([]levelUpdate, error) {
	out := make([]levelUpdate, 0, len(raw))
	for _, lvl := range raw {
		price, err := parseFloat(lvl[0])
		if err != nil {
			return nil, err
		}
		size, err := parseFloat(lvl[1])
		if err != nil {
			return nil, err
		}
		orderCount, err := parseFloat(lvl[3])
		if err != nil {
			return nil, err
		}
		out = append(out, levelUpdate{Price: price, Volume: size, OrderCount: orderCount})
	}
	return out, nil
}

// levelUpdate is a parsed wire level prior to being attributed to a side.
type levelUpdate struct {
	Price      float64
	Volume     float64
	OrderCount float64
}

// parseInbound unmarshals and decodes one exchange depth message.
func parseInbound(raw []byte) (action string, bids, asks []levelUpdate, err error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", nil, nil, fmt.Errorf("unmarshal depth frame: %w", err)
	}
	bids, err = decodeLevels(frame.Bids)
	if err != nil {
		return "", nil, nil, err
	}
	asks, err = decodeLevels(frame.Asks)
	if err != nil {
		return "", nil, nil, err
	}
	return frame.Action, bids, asks, nil
}

func toBookLevels(ups []levelUpdate) []types.BookLevel {
	out := make([]types.BookLevel, len(ups))
	for i, u := range ups {
		out[i] = types.BookLevel{Price: u.Price, Volume: u.Volume, OrderCount: u.OrderCount}
	}
	return out
}
