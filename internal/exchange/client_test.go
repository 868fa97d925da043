package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/s4nngr10r/rtdppo/internal/lifecycle"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestClientSubmitLimitOrder(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody orderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		for _, h := range []string{"OK-ACCESS-KEY", "OK-ACCESS-SIGN", "OK-ACCESS-TIMESTAMP", "OK-ACCESS-PASSPHRASE"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(okxEnvelope[orderAckData]{
			Code: "0",
			Data: []orderAckData{{OrdID: "ex-1", ClOrdID: gotBody.ClOrdID, SCode: "0"}},
		})
	}))
	defer srv.Close()

	auth := NewAuth("key", "secret", "pass")
	client := NewClient(srv.URL, "BTC-USDT-SWAP", auth, testLogger())

	err := client.Submit(context.Background(), lifecycle.SubmitRequest{
		LocalID:   42,
		Side:      "buy",
		OrderType: "limit",
		Price:     50000.5,
		Size:      0.01,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if gotPath != "/api/v5/trade/order" {
		t.Errorf("path = %q, want /api/v5/trade/order", gotPath)
	}
	if gotBody.ClOrdID != "l42" {
		t.Errorf("clOrdId = %q, want l42", gotBody.ClOrdID)
	}
	if gotBody.InstID != "BTC-USDT-SWAP" {
		t.Errorf("instId = %q, want BTC-USDT-SWAP", gotBody.InstID)
	}
	if gotBody.Px == "" {
		t.Error("limit order submitted with empty px")
	}
}

func TestClientSubmitMarketOrderOmitsPrice(t *testing.T) {
	t.Parallel()

	var gotBody orderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(okxEnvelope[orderAckData]{Code: "0", Data: []orderAckData{{OrdID: "ex-2"}}})
	}))
	defer srv.Close()

	auth := NewAuth("key", "secret", "pass")
	client := NewClient(srv.URL, "BTC-USDT-SWAP", auth, testLogger())

	err := client.Submit(context.Background(), lifecycle.SubmitRequest{
		LocalID:   7,
		Side:      "sell",
		OrderType: "market",
		Size:      0.02,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gotBody.Px != "" {
		t.Errorf("market order carried px = %q, want empty", gotBody.Px)
	}
}

func TestClientSubmitErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"51000","msg":"invalid size"}`))
	}))
	defer srv.Close()

	auth := NewAuth("key", "secret", "pass")
	client := NewClient(srv.URL, "BTC-USDT-SWAP", auth, testLogger())

	err := client.Submit(context.Background(), lifecycle.SubmitRequest{
		LocalID:   1,
		Side:      "buy",
		OrderType: "limit",
		Price:     1,
		Size:      0,
	})
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestClientCancel(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody cancelRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(okxEnvelope[orderAckData]{Code: "0"})
	}))
	defer srv.Close()

	auth := NewAuth("key", "secret", "pass")
	client := NewClient(srv.URL, "BTC-USDT-SWAP", auth, testLogger())

	err := client.Cancel(context.Background(), lifecycle.CancelRequest{ExchangeID: "ex-9"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if gotPath != "/api/v5/trade/cancel-order" {
		t.Errorf("path = %q, want /api/v5/trade/cancel-order", gotPath)
	}
	if gotBody.OrdID != "ex-9" {
		t.Errorf("ordId = %q, want ex-9", gotBody.OrdID)
	}
}

func TestClientImplementsExchangeClient(t *testing.T) {
	var _ lifecycle.ExchangeClient = (*Client)(nil)
}
