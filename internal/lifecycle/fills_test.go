package lifecycle

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

type noopExchange struct{}

func (noopExchange) Submit(ctx context.Context, req SubmitRequest) error { return nil }
func (noopExchange) Cancel(ctx context.Context, req CancelRequest) error { return nil }

type capturingReports struct {
	payloads [][]byte
}

func (c *capturingReports) PublishReport(ctx context.Context, payload []byte) error {
	c.payloads = append(c.payloads, append([]byte(nil), payload...))
	return nil
}

func newTestEngine(reports *capturingReports) *Engine {
	return New(SizingParams{MarginCapPercent: 20, Leverage: 100, MinContract: 0.1}, 300, noopExchange{}, reports, zerolog.Nop())
}

// seedOrder installs an order directly into the active deque and known-orders
// map, bypassing submission, so fill-processing tests can exercise §4.4.3 in
// isolation.
func seedOrder(e *Engine, localID uint32, exchangeID string, side types.Side, intendedVolume float64) *types.Order {
	order := &types.Order{
		LocalID:        localID,
		ExchangeID:     exchangeID,
		Side:           side,
		IntendedVolume: intendedVolume,
		State:          types.OrderLive,
	}
	e.mu.Lock()
	e.activeOrders = append(e.activeOrders, order)
	e.knownOrders[exchangeID] = order
	e.mu.Unlock()
	return order
}

func closureFromReports(t *testing.T, payloads [][]byte) closureReport {
	t.Helper()
	for i := len(payloads) - 1; i >= 0; i-- {
		var probe struct {
			IsTradeClosed bool `json:"is_trade_closed"`
		}
		if err := json.Unmarshal(payloads[i], &probe); err != nil {
			t.Fatalf("unmarshal report: %v", err)
		}
		if probe.IsTradeClosed {
			var c closureReport
			if err := json.Unmarshal(payloads[i], &c); err != nil {
				t.Fatalf("unmarshal closure: %v", err)
			}
			return c
		}
	}
	t.Fatal("no closure report found")
	return closureReport{}
}

func TestScenarioLongRoundTripNoDrawdown(t *testing.T) {
	reports := &capturingReports{}
	e := newTestEngine(reports)
	buy := seedOrder(e, 1, "buy-1", types.Buy, 1.0)
	sell := seedOrder(e, 2, "sell-1", types.Sell, 1.0)

	ctx := context.Background()
	if err := e.ProcessFill(ctx, types.FillEvent{ExchangeID: buy.ExchangeID, CumulativeFilled: 1.0, AvgPrice: 30000, Side: types.Buy, FillTime: 1}); err != nil {
		t.Fatalf("buy fill: %v", err)
	}
	if err := e.ProcessFill(ctx, types.FillEvent{ExchangeID: sell.ExchangeID, CumulativeFilled: 1.0, AvgPrice: 30300, Side: types.Sell, FillTime: 2}); err != nil {
		t.Fatalf("sell fill: %v", err)
	}

	closure := closureFromReports(t, reports.payloads)
	if diff := closure.Reward - 100.0; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("reward = %v, want 100.0", closure.Reward)
	}
	if len(closure.FilledPortions) != 2 {
		t.Fatalf("filled_portions len = %d, want 2", len(closure.FilledPortions))
	}
}

func TestScenarioShortRoundTripNoDrawdown(t *testing.T) {
	reports := &capturingReports{}
	e := newTestEngine(reports)
	sellOpen := seedOrder(e, 1, "sell-open", types.Sell, 2.0)
	buyClose := seedOrder(e, 2, "buy-close", types.Buy, 2.0)

	ctx := context.Background()
	e.ProcessFill(ctx, types.FillEvent{ExchangeID: sellOpen.ExchangeID, CumulativeFilled: 2.0, AvgPrice: 40000, Side: types.Sell, FillTime: 1})
	e.ProcessFill(ctx, types.FillEvent{ExchangeID: buyClose.ExchangeID, CumulativeFilled: 2.0, AvgPrice: 39600, Side: types.Buy, FillTime: 2})

	closure := closureFromReports(t, reports.payloads)
	want := ((40000.0 - 39600.0) / 39600.0) * 10000
	if diff := closure.Reward - want; diff > 1e-4 || diff < -1e-4 {
		t.Errorf("reward = %v, want %v", closure.Reward, want)
	}
}

func TestScenarioFlipQueuesFollowOnTrade(t *testing.T) {
	reports := &capturingReports{}
	e := newTestEngine(reports)
	buy := seedOrder(e, 1, "buy-1", types.Buy, 1.0)
	sell := seedOrder(e, 2, "sell-3", types.Sell, 3.0)

	ctx := context.Background()
	e.ProcessFill(ctx, types.FillEvent{ExchangeID: buy.ExchangeID, CumulativeFilled: 1.0, AvgPrice: 30000, Side: types.Buy, FillTime: 1})
	e.ProcessFill(ctx, types.FillEvent{ExchangeID: sell.ExchangeID, CumulativeFilled: 3.0, AvgPrice: 30150, Side: types.Sell, FillTime: 2})

	closure := closureFromReports(t, reports.payloads)
	if diff := closure.Reward - 50.0; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("reward = %v, want 50.0", closure.Reward)
	}

	e.mu.Lock()
	next := e.currentTrade
	e.mu.Unlock()
	if next == nil {
		t.Fatal("expected follow-on trade to have become current trade")
	}
	if next.Direction != types.Short {
		t.Errorf("follow-on direction = %v, want short", next.Direction)
	}
	if diff := next.NetSize - (-2.0); diff > 1e-6 || diff < -1e-6 {
		t.Errorf("follow-on net_size = %v, want -2.0", next.NetSize)
	}
}

func TestScenarioPartialFillProgressionExecutionPercentageNeverRegresses(t *testing.T) {
	reports := &capturingReports{}
	e := newTestEngine(reports)
	order := seedOrder(e, 1, "partial-1", types.Buy, 1.0)

	ctx := context.Background()
	deltas := []float64{0.3, 0.8, 1.0}
	prices := []float64{30000, 30005, 30010}
	var lastPct float64
	for i, cum := range deltas {
		e.ProcessFill(ctx, types.FillEvent{ExchangeID: order.ExchangeID, CumulativeFilled: cum, AvgPrice: prices[i], Side: types.Buy, FillTime: int64(i + 1)})
	}

	if len(reports.payloads) != len(deltas) {
		t.Fatalf("got %d reports, want %d", len(reports.payloads), len(deltas))
	}
	for i, payload := range reports.payloads {
		var r perExecutionReport
		if err := json.Unmarshal(payload, &r); err != nil {
			t.Fatalf("unmarshal report %d: %v", i, err)
		}
		if r.ExecutionPercentage == nil {
			t.Fatalf("report %d missing execution_percentage", i)
		}
		if *r.ExecutionPercentage < lastPct {
			t.Errorf("report %d execution_percentage %v regressed below %v", i, *r.ExecutionPercentage, lastPct)
		}
		lastPct = *r.ExecutionPercentage
	}
	if diff := lastPct - 1.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("final execution_percentage = %v, want 1.0", lastPct)
	}
}

func TestUnknownExchangeIDIsIgnoredWithoutMutation(t *testing.T) {
	reports := &capturingReports{}
	e := newTestEngine(reports)

	if err := e.ProcessFill(context.Background(), types.FillEvent{ExchangeID: "ghost", CumulativeFilled: 1.0, AvgPrice: 100, Side: types.Buy, FillTime: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports.payloads) != 0 {
		t.Errorf("expected no reports published, got %d", len(reports.payloads))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentTrade != nil {
		t.Error("expected no trade to have been created")
	}
}

func TestFillAccountingInvariantClosingPlusOpeningEqualsDelta(t *testing.T) {
	reports := &capturingReports{}
	e := newTestEngine(reports)
	buy := seedOrder(e, 1, "buy-1", types.Buy, 1.0)
	sell := seedOrder(e, 2, "sell-3", types.Sell, 3.0)

	ctx := context.Background()
	e.ProcessFill(ctx, types.FillEvent{ExchangeID: buy.ExchangeID, CumulativeFilled: 1.0, AvgPrice: 30000, Side: types.Buy, FillTime: 1})

	e.mu.Lock()
	priorNet := e.currentTrade.NetSize
	e.mu.Unlock()

	delta := 3.0
	e.ProcessFill(ctx, types.FillEvent{ExchangeID: sell.ExchangeID, CumulativeFilled: 3.0, AvgPrice: 30150, Side: types.Sell, FillTime: 2})

	// Split the portions the engine recorded on the sell order into the
	// closing part (against the long trade) and the opening part.
	e.mu.Lock()
	var closing, opening float64
	for _, p := range sell.FillPortions {
		if p.IsClosing {
			closing += p.Size
		} else {
			opening += p.Size
		}
	}
	e.mu.Unlock()

	if closing > absf(priorNet) {
		t.Errorf("closing %v exceeds prior net %v", closing, priorNet)
	}
	if opening < 0 {
		t.Errorf("opening %v is negative", opening)
	}
	if diff := (closing + opening) - delta; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("closing+opening = %v, want delta %v", closing+opening, delta)
	}
}
