package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/s4nngr10r/rtdppo/internal/lifecycle"
)

// orderRequest is the OKX /trade/order payload.
type orderRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	ClOrdID string `json:"clOrdId"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Px      string `json:"px,omitempty"`
	Sz      string `json:"sz"`
}

type cancelRequest struct {
	InstID string `json:"instId"`
	OrdID  string `json:"ordId"`
}

type okxEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

type orderAckData struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// Client is the OKX REST client. It implements lifecycle.ExchangeClient,
// letting the Lifecycle Engine submit and cancel orders without holding a
// pointer back into it.
type Client struct {
	http       *resty.Client
	auth       *Auth
	rl         *RateLimiter
	instrument string
	logger     zerolog.Logger
}

// NewClient creates a REST client with rate limiting and retry, built on a
// resty client.
func NewClient(baseURL, instrument string, auth *Auth, logger zerolog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:       httpClient,
		auth:       auth,
		rl:         NewRateLimiter(),
		instrument: instrument,
		logger:     logger,
	}
}

var _ lifecycle.ExchangeClient = (*Client)(nil)

// Submit places a single order.
func (c *Client) Submit(ctx context.Context, req lifecycle.SubmitRequest) error {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}

	// clOrdId carries the local_id back through the private order-event
	// feed so a subsequent ack/fill can be attributed to the order that
	// created it.
	clOrdID := fmt.Sprintf("l%d", req.LocalID)
	payload := orderRequest{
		InstID:  c.instrument,
		TdMode:  "cross",
		ClOrdID: clOrdID,
		Side:    req.Side,
		OrdType: req.OrderType,
		Sz:      strconv.FormatFloat(req.Size, 'f', -1, 64),
	}
	if req.OrderType == "limit" {
		payload.Px = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}

	body, headers, err := c.sign(http.MethodPost, "/api/v5/trade/order", payload)
	if err != nil {
		return err
	}

	var result okxEnvelope[orderAckData]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&result).
		Post("/api/v5/trade/order")
	if err != nil {
		return fmt.Errorf("submit order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("submit order: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info().Uint32("local_id", req.LocalID).Str("cl_ord_id", clOrdID).Msg("order submitted")
	return nil
}

// Cancel requests cancellation of one live order.
func (c *Client) Cancel(ctx context.Context, req lifecycle.CancelRequest) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	payload := cancelRequest{InstID: c.instrument, OrdID: req.ExchangeID}
	body, headers, err := c.sign(http.MethodPost, "/api/v5/trade/cancel-order", payload)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		Post("/api/v5/trade/cancel-order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) sign(method, path string, payload any) ([]byte, map[string]string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}
	headers, err := c.auth.Headers(method, path, string(body))
	if err != nil {
		return nil, nil, fmt.Errorf("sign request: %w", err)
	}
	return body, headers, nil
}
