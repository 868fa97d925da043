// ws.go implements the two independent WebSocket feeds consumed by this
// system: the public depth feed (Depth Engine) and the private account feed
// (Lifecycle Engine). Both auto-reconnect with exponential backoff (1s to
// 30s max) around a connect/reconnect/ping loop.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/s4nngr10r/rtdppo/pkg/types"
)

const (
	pingInterval     = 25 * time.Second
	readTimeout      = 60 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// DepthFeed streams the public order-book channel and forwards each message
// as a raw depth frame for depth.Engine.Ingest to decode. It does not itself
// know the book's shape: it is a thin, generic reconnecting transport, kept
// separate from the consumer that interprets its events.
type DepthFeed struct {
	url        string
	instrument string

	connMu sync.Mutex
	conn   *websocket.Conn

	frames chan []byte
	logger zerolog.Logger
}

// NewDepthFeed creates a public-channel feed for one instrument.
func NewDepthFeed(wsURL, instrument string, logger zerolog.Logger) *DepthFeed {
	return &DepthFeed{
		url:        wsURL,
		instrument: instrument,
		frames:     make(chan []byte, 256),
		logger:     logger.With().Str("component", "depth_feed").Logger(),
	}
}

// Frames returns the channel of raw depth-frame JSON ready for
// depth.Engine.Ingest.
func (f *DepthFeed) Frames() <-chan []byte { return f.frames }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *DepthFeed) Run(ctx context.Context) error {
	return runWithReconnect(ctx, f.logger, func() error { return f.connectAndRead(ctx) })
}

func (f *DepthFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	sub := map[string]any{
		"op": "subscribe",
		"args": []map[string]string{{
			"channel": "books",
			"instId":  f.instrument,
		}},
	}
	if err := writeJSON(conn, &f.connMu, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info().Msg("depth feed connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pingLoop(pingCtx, conn, &f.connMu, f.logger)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *DepthFeed) dispatch(raw []byte) {
	var envelope struct {
		Action string            `json:"action"`
		Data   []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Data) == 0 {
		return // event/subscribe ack or unrecognized frame; not a book update
	}

	var level struct {
		Bids json.RawMessage `json:"bids"`
		Asks json.RawMessage `json:"asks"`
	}
	if err := json.Unmarshal(envelope.Data[0], &level); err != nil {
		f.logger.Warn().Err(err).Msg("malformed depth data element")
		return
	}

	frame, err := json.Marshal(struct {
		Action string          `json:"action"`
		Bids   json.RawMessage `json:"bids"`
		Asks   json.RawMessage `json:"asks"`
	}{Action: envelope.Action, Bids: level.Bids, Asks: level.Asks})
	if err != nil {
		return
	}

	select {
	case f.frames <- frame:
	default:
		f.logger.Warn().Msg("depth frame channel full, dropping frame")
	}
}

// PrivateFeed streams the authenticated account channel: order
// acknowledgements, fills, position updates, account balance and cancel
// confirmations, the typed event stream half of the cyclic-ownership break.
// Lifecycle only ever reads from these channels; it never calls back into
// PrivateFeed.
type PrivateFeed struct {
	url        string
	instrument string
	balanceCcy string
	auth       *Auth

	connMu sync.Mutex
	conn   *websocket.Conn

	acks      chan types.OrderAck
	fills     chan types.FillEvent
	positions chan types.PositionUpdate
	balances  chan types.BalanceUpdate
	cancels   chan types.CancelResult

	logger zerolog.Logger
}

// NewPrivateFeed creates an authenticated feed for one instrument. balanceCcy
// selects which account-channel currency detail line funds order sizing
// (e.g. "USDT"); if empty, the account's totalEq is used instead.
func NewPrivateFeed(wsURL, instrument, balanceCcy string, auth *Auth, logger zerolog.Logger) *PrivateFeed {
	return &PrivateFeed{
		url:        wsURL,
		instrument: instrument,
		balanceCcy: balanceCcy,
		auth:       auth,
		acks:       make(chan types.OrderAck, 64),
		fills:      make(chan types.FillEvent, 64),
		positions:  make(chan types.PositionUpdate, 64),
		balances:   make(chan types.BalanceUpdate, 64),
		cancels:    make(chan types.CancelResult, 64),
		logger:     logger.With().Str("component", "private_feed").Logger(),
	}
}

func (f *PrivateFeed) OrderAcks() <-chan types.OrderAck       { return f.acks }
func (f *PrivateFeed) Fills() <-chan types.FillEvent          { return f.fills }
func (f *PrivateFeed) Positions() <-chan types.PositionUpdate { return f.positions }
func (f *PrivateFeed) Balances() <-chan types.BalanceUpdate   { return f.balances }
func (f *PrivateFeed) Cancels() <-chan types.CancelResult     { return f.cancels }

// Run connects, authenticates, and maintains the connection with
// auto-reconnect. Blocks until ctx is cancelled.
func (f *PrivateFeed) Run(ctx context.Context) error {
	return runWithReconnect(ctx, f.logger, func() error { return f.connectAndRead(ctx) })
}

func (f *PrivateFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	login, err := f.auth.LoginFrame()
	if err != nil {
		return fmt.Errorf("build login frame: %w", err)
	}
	if err := writeJSON(conn, &f.connMu, login); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	sub := map[string]any{
		"op": "subscribe",
		"args": []map[string]string{
			{"channel": "orders", "instId": f.instrument},
			{"channel": "positions", "instId": f.instrument},
			{"channel": "account"},
		},
	}
	if err := writeJSON(conn, &f.connMu, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info().Msg("private feed connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pingLoop(pingCtx, conn, &f.connMu, f.logger)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *PrivateFeed) dispatch(raw []byte) {
	var envelope struct {
		Arg struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Data) == 0 {
		return
	}

	switch envelope.Arg.Channel {
	case "orders":
		f.dispatchOrders(envelope.Data)
	case "positions":
		f.dispatchPositions(envelope.Data)
	case "account":
		f.dispatchAccount(envelope.Data)
	}
}

func (f *PrivateFeed) dispatchOrders(data []json.RawMessage) {
	for _, raw := range data {
		var evt struct {
			OrdID        string `json:"ordId"`
			ClOrdID      string `json:"clOrdId"`
			State        string `json:"state"`
			Side         string `json:"side"`
			AccFillSz    string `json:"accFillSz"`
			AvgPx        string `json:"avgPx"`
			UTime        string `json:"uTime"`
			RejectReason string `json:"sMsg"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil {
			f.logger.Warn().Err(err).Msg("malformed order event")
			continue
		}

		localID := parseLocalID(evt.ClOrdID)

		switch evt.State {
		case "live":
			f.sendAck(types.OrderAck{LocalID: localID, ExchangeID: evt.OrdID})
		case "canceled":
			f.sendCancel(types.CancelResult{ExchangeID: evt.OrdID, Confirmed: true})
		case "rejected":
			f.sendAck(types.OrderAck{LocalID: localID, ExchangeID: evt.OrdID, Rejected: true, Reason: evt.RejectReason})
		case "partially_filled", "filled":
			cumFilled, _ := parseFloat(evt.AccFillSz)
			avgPx, _ := parseFloat(evt.AvgPx)
			fillTime, _ := strconvAtoi64(evt.UTime)
			f.sendFill(types.FillEvent{
				ExchangeID:       evt.OrdID,
				CumulativeFilled: cumFilled,
				AvgPrice:         avgPx,
				Side:             types.Side(evt.Side),
				State:            evt.State,
				FillTime:         fillTime,
			})
		}
	}
}

func (f *PrivateFeed) dispatchPositions(data []json.RawMessage) {
	for _, raw := range data {
		var evt struct {
			UPL    string `json:"uplRatio"`
			UpdTime string `json:"uTime"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil {
			f.logger.Warn().Err(err).Msg("malformed position event")
			continue
		}
		ratio, _ := parseFloat(evt.UPL)
		f.sendPosition(types.PositionUpdate{UnrealizedPnLRatio: ratio, Timestamp: time.Now()})
	}
}

// dispatchAccount handles the account-channel push OKX sends on connect and
// on every balance change. When balanceCcy is set, the matching currency
// detail line's equity funds order sizing; otherwise the account's total
// equity is used.
func (f *PrivateFeed) dispatchAccount(data []json.RawMessage) {
	for _, raw := range data {
		var evt struct {
			TotalEq string `json:"totalEq"`
			Details []struct {
				Ccy string `json:"ccy"`
				Eq  string `json:"eq"`
			} `json:"details"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil {
			f.logger.Warn().Err(err).Msg("malformed account event")
			continue
		}

		balStr := evt.TotalEq
		if f.balanceCcy != "" {
			for _, d := range evt.Details {
				if d.Ccy == f.balanceCcy {
					balStr = d.Eq
					break
				}
			}
		}
		bal, err := parseFloat(balStr)
		if err != nil {
			f.logger.Warn().Err(err).Msg("malformed account balance")
			continue
		}
		f.sendBalance(types.BalanceUpdate{Balance: bal, Timestamp: time.Now()})
	}
}

func (f *PrivateFeed) sendAck(v types.OrderAck) {
	select {
	case f.acks <- v:
	default:
		f.logger.Warn().Msg("order-ack channel full, dropping event")
	}
}

func (f *PrivateFeed) sendFill(v types.FillEvent) {
	select {
	case f.fills <- v:
	default:
		f.logger.Warn().Msg("fill channel full, dropping event")
	}
}

func (f *PrivateFeed) sendCancel(v types.CancelResult) {
	select {
	case f.cancels <- v:
	default:
		f.logger.Warn().Msg("cancel channel full, dropping event")
	}
}

func (f *PrivateFeed) sendPosition(v types.PositionUpdate) {
	select {
	case f.positions <- v:
	default:
		f.logger.Warn().Msg("position channel full, dropping event")
	}
}

func (f *PrivateFeed) sendBalance(v types.BalanceUpdate) {
	select {
	case f.balances <- v:
	default:
		f.logger.Warn().Msg("balance channel full, dropping event")
	}
}

func strconvAtoi64(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

// parseFloat converts an OKX numeric string field to float64, returning 0 for
// an empty string (OKX omits fields that don't apply to an event's state
// rather than sending "0").
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseLocalID recovers the local_id embedded in a clOrdId of the form
// "l<local_id>" (see Client.Submit). Returns 0 if the clOrdId was not
// minted by this process (e.g. an order placed from another session).
func parseLocalID(clOrdID string) uint32 {
	var v uint32
	if len(clOrdID) < 2 || clOrdID[0] != 'l' {
		return 0
	}
	if _, err := fmt.Sscanf(clOrdID[1:], "%d", &v); err != nil {
		return 0
	}
	return v
}

func writeJSON(conn *websocket.Conn, mu *sync.Mutex, v any) error {
	mu.Lock()
	defer mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func pingLoop(ctx context.Context, conn *websocket.Conn, mu *sync.Mutex, logger zerolog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mu.Lock()
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				mu.Unlock()
				if err != nil {
					logger.Warn().Err(err).Msg("ping failed")
					return
				}
				continue
			}
			mu.Unlock()
		}
	}
}

// runWithReconnect runs connect until ctx is cancelled, backing off
// exponentially (1s to 30s) between attempts.
func runWithReconnect(ctx context.Context, logger zerolog.Logger, connect func() error) error {
	backoff := time.Second
	for {
		err := connect()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn().Err(err).Dur("backoff", backoff).Msg("websocket disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}
