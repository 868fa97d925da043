package lifecycle

import "context"

// SubmitRequest is what the Lifecycle Engine pushes into the exchange
// client's send queue.
type SubmitRequest struct {
	LocalID   uint32
	Side      string
	OrderType string
	Price     float64
	Size      float64
}

// CancelRequest asks the exchange client to cancel a live order.
type CancelRequest struct {
	ExchangeID string
}

// ExchangeClient is the stateful actor the exchange package exposes to break
// the cyclic-ownership hazard between Lifecycle and the exchange connection:
// Lifecycle only ever writes through Submit/Cancel and reads the typed
// event stream; no back-pointer into Lifecycle is required.
type ExchangeClient interface {
	Submit(ctx context.Context, req SubmitRequest) error
	Cancel(ctx context.Context, req CancelRequest) error
}

// ReportPublisher sends execution-report JSON to the execution-exchange.
type ReportPublisher interface {
	PublishReport(ctx context.Context, payload []byte) error
}
