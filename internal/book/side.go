package book

import (
	"fmt"
	"sort"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// Side is one ordered side of the order book: bids descending by price, asks
// ascending by price. It is not safe for concurrent use; the owning Book
// serialises access.
type Side struct {
	levels     []types.BookLevel
	descending bool
}

func newSide(descending bool) *Side {
	return &Side{
		levels:     make([]types.BookLevel, 0, types.LevelsPerSide),
		descending: descending,
	}
}

// Len returns the number of levels currently held.
func (s *Side) Len() int { return len(s.levels) }

// Levels returns the side's levels in their canonical order. The returned
// slice must not be retained across further mutation of the side.
func (s *Side) Levels() []types.BookLevel { return s.levels }

// less reports whether price a sorts before price b for this side's order.
func (s *Side) less(a, b float64) bool {
	if s.descending {
		return a > b
	}
	return a < b
}

// loadSnapshot replaces the side's contents, discarding non-positive-size
// levels, sorting into canonical order, and validating the level-count
// invariant.
func (s *Side) loadSnapshot(levels []types.BookLevel) error {
	filtered := make([]types.BookLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Volume <= 0 {
			continue
		}
		filtered = append(filtered, lvl)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return s.less(filtered[i].Price, filtered[j].Price)
	})
	s.levels = filtered
	return s.validate()
}

// locate performs a binary search for price, returning the index at which it
// either resides (found=true) or should be inserted to preserve order.
func (s *Side) locate(price float64) (idx int, found bool) {
	n := len(s.levels)
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		p := s.levels[mid].Price
		if p == price {
			return mid, true
		}
		if s.less(p, price) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}

// applyDelta applies one (price, volume, orderCount) update: removes the
// level if volume==0 and the price is known, overwrites it if known and
// volume>0, or inserts it in place if unknown and volume>0.
func (s *Side) applyDelta(price, volume, orderCount float64) {
	idx, found := s.locate(price)

	switch {
	case found && volume <= 0:
		s.levels = append(s.levels[:idx], s.levels[idx+1:]...)
	case found && volume > 0:
		s.levels[idx] = types.BookLevel{Price: price, Volume: volume, OrderCount: orderCount}
	case !found && volume > 0:
		s.levels = append(s.levels, types.BookLevel{})
		copy(s.levels[idx+1:], s.levels[idx:])
		s.levels[idx] = types.BookLevel{Price: price, Volume: volume, OrderCount: orderCount}
	}
	// !found && volume<=0: removing a price that isn't present is a no-op.
}

// validate checks this side's book invariants: exactly LevelsPerSide
// entries, strict monotonicity (implying no duplicates), and no
// zero-volume rows.
func (s *Side) validate() error {
	if len(s.levels) != types.LevelsPerSide {
		return fmt.Errorf("%w: have %d, want %d", ErrLevelCount, len(s.levels), types.LevelsPerSide)
	}
	for i, lvl := range s.levels {
		if lvl.Volume <= 0 {
			return fmt.Errorf("%w: zero-volume level at index %d", ErrLevelCount, i)
		}
		if i > 0 && !s.strictlyOrdered(s.levels[i-1].Price, lvl.Price) {
			return fmt.Errorf("%w: prices not strictly ordered at index %d", ErrLevelCount, i)
		}
	}
	return nil
}

func (s *Side) strictlyOrdered(prev, cur float64) bool {
	if s.descending {
		return prev > cur
	}
	return prev < cur
}

// BestPrice returns the top-of-book price for this side, or 0 if empty.
func (s *Side) BestPrice() float64 {
	if len(s.levels) == 0 {
		return 0
	}
	return s.levels[0].Price
}

// SumAt returns (Σvolume, ΣorderCount, Σ price*volume) over the first n
// levels (or all levels if fewer than n exist).
func (s *Side) SumAt(n int) (volume, orderCount, priceVolume float64) {
	if n > len(s.levels) {
		n = len(s.levels)
	}
	for i := 0; i < n; i++ {
		lvl := s.levels[i]
		volume += lvl.Volume
		orderCount += lvl.OrderCount
		priceVolume += lvl.Price * lvl.Volume
	}
	return
}
