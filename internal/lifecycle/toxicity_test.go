package lifecycle

import (
	"testing"
	"time"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

func TestFlowToxicityNoFills(t *testing.T) {
	ft := newFlowToxicity(60*time.Second, 0.8, 30*time.Second)

	if ft.isToxic(time.Now()) {
		t.Error("expected not toxic with no fills observed")
	}
}

func TestFlowToxicityOneSidedBurstIsToxic(t *testing.T) {
	ft := newFlowToxicity(60*time.Second, 0.8, 30*time.Second)

	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.observe(types.Buy, now.Add(time.Duration(i)*time.Second))
	}

	if !ft.isToxic(now.Add(5 * time.Second)) {
		t.Error("expected toxic after 5 consecutive same-side fills")
	}
}

func TestFlowToxicityBalancedFlowIsNotToxic(t *testing.T) {
	ft := newFlowToxicity(60*time.Second, 0.8, 30*time.Second)

	now := time.Now()
	sides := []types.Side{types.Buy, types.Sell, types.Buy, types.Sell, types.Buy, types.Sell}
	for i, s := range sides {
		ft.observe(s, now.Add(time.Duration(i)*time.Second))
	}

	if ft.isToxic(now.Add(6 * time.Second)) {
		t.Error("expected balanced two-sided flow to stay below the toxicity threshold")
	}
}

func TestFlowToxicityEvictsStaleFills(t *testing.T) {
	ft := newFlowToxicity(10*time.Second, 0.8, 5*time.Second)

	base := time.Now()
	for i := 0; i < 5; i++ {
		ft.observe(types.Buy, base)
	}
	if !ft.isToxic(base) {
		t.Fatal("expected toxic immediately after the burst")
	}

	later := base.Add(time.Minute)
	ft.observe(types.Sell, later)
	if ft.isToxic(later) {
		t.Error("expected old one-sided fills to have been evicted, no longer toxic")
	}
}

func TestFlowToxicityCooldownHoldsAfterRebalance(t *testing.T) {
	ft := newFlowToxicity(60*time.Second, 0.8, 30*time.Second)

	now := time.Now()
	for i := 0; i < 5; i++ {
		ft.observe(types.Buy, now.Add(time.Duration(i)*time.Second))
	}
	// Three offsetting sells bring the window's score back under the
	// threshold (5 buy / 8 total = 0.625), but the cooldown should still
	// hold since the burst tripped it moments ago.
	for i := 0; i < 3; i++ {
		ft.observe(types.Sell, now.Add(time.Duration(6+i)*time.Second))
	}

	if !ft.isToxic(now.Add(10 * time.Second)) {
		t.Error("expected toxic flag to hold during cooldown even after rebalancing fills")
	}
}
