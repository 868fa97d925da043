package relay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"

	"github.com/s4nngr10r/rtdppo/internal/codec"
	"github.com/s4nngr10r/rtdppo/internal/metrics"
	"github.com/s4nngr10r/rtdppo/pkg/types"
)

// explorationDecisions is the number of early decisions subject to the
// exploration gate.
const explorationDecisions = 1000

// DecisionFunc maps an 80-frame window to a raw action. Relay applies the
// exploration gate and state_id/mid assignment on top of its output.
type DecisionFunc func(window []*types.FeatureFrame) (kind types.ActionKind, priceOffset, volumeFraction float64)

// TrainingHook consumes completed trades for offline learning.
type TrainingHook interface {
	Observe(trade CompletedTrade)
}

// Publisher sends an encoded action frame downstream.
type Publisher interface {
	PublishAction(ctx context.Context, payload []byte) error
}

// Relay is the Decision Relay's state machine.
type Relay struct {
	mu sync.Mutex

	frames  *frameRing
	actions *actionRing

	decisionCount int
	skeleton      *tradeSkeleton

	decide DecisionFunc
	hook   TrainingHook
	pub    Publisher
	logger zerolog.Logger
}

// New creates a Relay driven by decide and reporting completed trades to hook.
func New(decide DecisionFunc, hook TrainingHook, pub Publisher, logger zerolog.Logger) *Relay {
	return &Relay{
		frames:   newFrameRing(),
		actions:  newActionRing(),
		skeleton: newTradeSkeleton(),
		decide:   decide,
		hook:     hook,
		pub:      pub,
		logger:   logger,
	}
}

// OnFrame buffers an inbound feature frame and, if the parity and window
// gates are satisfied, produces and publishes a decision.
func (r *Relay) OnFrame(ctx context.Context, frame *types.FeatureFrame) (*types.ActionRecord, error) {
	r.mu.Lock()
	r.frames.push(frame)

	if r.frames.len() < NetworkWindow || frame.SequenceID%2 != 0 {
		r.mu.Unlock()
		return nil, nil
	}

	window := r.frames.window(NetworkWindow)
	kind, priceOffset, volumeFraction := r.decide(window)

	if r.decisionCount < explorationDecisions && rand.Float64() < 0.5 {
		priceOffset = -priceOffset
		metrics.ExplorationFlips.Inc()
	}
	r.decisionCount++

	action := &types.ActionRecord{
		Kind:           kind,
		PriceOffset:    priceOffset,
		VolumeFraction: volumeFraction,
		MidPriceCents:  frame.MidPriceCents,
		StateID:        frame.SequenceID,
	}
	r.actions.push(action)
	r.mu.Unlock()

	if r.pub == nil {
		return action, nil
	}
	payload, err := codec.EncodeAction(action)
	if err != nil {
		return action, fmt.Errorf("encode action: %w", err)
	}
	if err := r.pub.PublishAction(ctx, payload); err != nil {
		return action, fmt.Errorf("publish action: %w", err)
	}
	metrics.ActionsPublished.Inc()

	return action, nil
}

// OnExecutionReport correlates an inbound execution report with the buffered
// actions and either extends the current trade skeleton or, on closure,
// hands the completed trade to the training hook.
func (r *Relay) OnExecutionReport(report ExecutionReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if report.IsTradeClosed {
		r.closeSkeleton(report)
		return
	}

	if _, ok := r.actions.get(uint16(report.StateID)); !ok {
		r.logger.Warn().Uint32("state_id", report.StateID).Msg("execution report references unknown action")
		return
	}
	if r.skeleton.seen[report.OKXID] {
		r.logger.Warn().Str("okx_id", report.OKXID).Msg("duplicate exchange id in execution report, ignoring")
		return
	}
	r.skeleton.seen[report.OKXID] = true

	fraction := 0.0
	if report.ExecutionPercentage != nil {
		fraction = *report.ExecutionPercentage
	}

	// Rebuild the window the action was decided against: up to NetworkWindow
	// buffered state ids ending at the action's own frame. If that frame has
	// already left the buffer, no window is recorded.
	var window []uint16
	stateID := uint16(report.StateID)
	for i := len(r.frames.order) - 1; i >= 0; i-- {
		if r.frames.order[i] == stateID {
			start := i + 1 - NetworkWindow
			if start < 0 {
				start = 0
			}
			window = append([]uint16(nil), r.frames.order[start:i+1]...)
			break
		}
	}
	r.skeleton.orders[report.OKXID] = &orderSkeleton{
		OKXID:             report.OKXID,
		StateIDWindow:     window,
		ExecutionFraction: fraction,
	}
}

func (r *Relay) closeSkeleton(report ExecutionReport) {
	for _, portion := range report.FilledPortions {
		for okxID, pct := range portion {
			ord, ok := r.skeleton.orders[okxID]
			if !ok {
				ord = &orderSkeleton{OKXID: okxID}
				r.skeleton.orders[okxID] = ord
			}
			ord.ExecutionFraction = pct
		}
	}

	reward := 0.0
	if report.Reward != nil {
		reward = *report.Reward
	}

	completed := CompletedTrade{Reward: reward}
	for _, ord := range r.skeleton.orders {
		completed.Orders = append(completed.Orders, *ord)
	}

	if r.hook != nil {
		r.hook.Observe(completed)
	}
	metrics.TradesCompleted.Inc()
	r.skeleton = newTradeSkeleton()
}
