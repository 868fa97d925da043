package relay

// ExecutionReport is the inbound JSON from the execution-exchange queue.
// A single struct covers both per-execution and trade-closure shapes;
// callers branch on IsTradeClosed.
type ExecutionReport struct {
	StateID             uint32             `json:"state_id"`
	OKXID               string             `json:"okx_id"`
	IsTradeClosed       bool               `json:"is_trade_closed"`
	ExecutionPercentage *float64           `json:"execution_percentage,omitempty"`
	FilledPortions      []map[string]float64 `json:"filled_portions,omitempty"`
	Reward              *float64           `json:"reward,omitempty"`
}

// orderSkeleton is one order's contribution to the in-progress trade
// skeleton, carrying the 80-frame state-id window it was decided against.
type orderSkeleton struct {
	OKXID             string
	StateIDWindow     []uint16
	ExecutionFraction float64
}

// tradeSkeleton aggregates execution reports into a trade record for the
// training hook.
type tradeSkeleton struct {
	orders map[string]*orderSkeleton // keyed by okx_id
	seen   map[string]bool           // duplicate-okx_id guard
}

func newTradeSkeleton() *tradeSkeleton {
	return &tradeSkeleton{
		orders: make(map[string]*orderSkeleton),
		seen:   make(map[string]bool),
	}
}

// CompletedTrade is handed to the training hook at closure.
type CompletedTrade struct {
	Orders []orderSkeleton
	Reward float64
}
