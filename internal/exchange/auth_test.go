package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
)

func TestAuthHeadersSignature(t *testing.T) {
	a := NewAuth("key", "secret", "pass")

	headers, err := a.Headers("POST", "/api/v5/trade/order", `{"instId":"BTC-USDT-SWAP"}`)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}

	if headers["OK-ACCESS-KEY"] != "key" {
		t.Errorf("OK-ACCESS-KEY = %q, want %q", headers["OK-ACCESS-KEY"], "key")
	}
	if headers["OK-ACCESS-PASSPHRASE"] != "pass" {
		t.Errorf("OK-ACCESS-PASSPHRASE = %q, want %q", headers["OK-ACCESS-PASSPHRASE"], "pass")
	}
	ts := headers["OK-ACCESS-TIMESTAMP"]
	if ts == "" {
		t.Fatal("OK-ACCESS-TIMESTAMP is empty")
	}

	wantSig := hmacSign(t, "secret", ts+"POST"+"/api/v5/trade/order"+`{"instId":"BTC-USDT-SWAP"}`)
	if headers["OK-ACCESS-SIGN"] != wantSig {
		t.Errorf("OK-ACCESS-SIGN = %q, want %q", headers["OK-ACCESS-SIGN"], wantSig)
	}
}

func TestAuthHeadersEmptyBody(t *testing.T) {
	a := NewAuth("key", "secret", "pass")

	headers, err := a.Headers("GET", "/api/v5/account/balance", "")
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}

	ts := headers["OK-ACCESS-TIMESTAMP"]
	wantSig := hmacSign(t, "secret", ts+"GET"+"/api/v5/account/balance")
	if headers["OK-ACCESS-SIGN"] != wantSig {
		t.Errorf("OK-ACCESS-SIGN = %q, want %q", headers["OK-ACCESS-SIGN"], wantSig)
	}
}

func TestLoginFrameShape(t *testing.T) {
	a := NewAuth("key", "secret", "pass")

	frame, err := a.LoginFrame()
	if err != nil {
		t.Fatalf("LoginFrame: %v", err)
	}

	if frame["op"] != "login" {
		t.Errorf("op = %v, want \"login\"", frame["op"])
	}
	args, ok := frame["args"].([]map[string]string)
	if !ok || len(args) != 1 {
		t.Fatalf("args = %#v, want a single-element []map[string]string", frame["args"])
	}
	arg := args[0]
	if arg["apiKey"] != "key" || arg["passphrase"] != "pass" {
		t.Errorf("login arg = %+v, want apiKey=key passphrase=pass", arg)
	}
	if arg["sign"] == "" || arg["timestamp"] == "" {
		t.Errorf("login arg missing sign/timestamp: %+v", arg)
	}

	wantSig := hmacSign(t, "secret", arg["timestamp"]+"GET"+"/users/self/verify")
	if arg["sign"] != wantSig {
		t.Errorf("sign = %q, want %q", arg["sign"], wantSig)
	}
}

func TestAuthHeadersDifferOnBody(t *testing.T) {
	a := NewAuth("key", "secret", "pass")

	h1, err := a.Headers("POST", "/api/v5/trade/order", `{"sz":"1"}`)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	h2, err := a.Headers("POST", "/api/v5/trade/order", `{"sz":"2"}`)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}

	if h1["OK-ACCESS-SIGN"] == h2["OK-ACCESS-SIGN"] && h1["OK-ACCESS-TIMESTAMP"] == h2["OK-ACCESS-TIMESTAMP"] {
		t.Error("signatures for different bodies collided at the same timestamp")
	}
}

func TestLoginFrameTimestampIsUnixSeconds(t *testing.T) {
	a := NewAuth("key", "secret", "pass")
	frame, err := a.LoginFrame()
	if err != nil {
		t.Fatalf("LoginFrame: %v", err)
	}
	args := frame["args"].([]map[string]string)
	ts := args[0]["timestamp"]
	if strings.Contains(ts, ".") || strings.Contains(ts, "T") {
		t.Errorf("timestamp %q looks like ISO-8601, want unix seconds", ts)
	}
}

func hmacSign(t *testing.T, secret, message string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(message)); err != nil {
		t.Fatalf("hmac write: %v", err)
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
