// Package exchange implements the OKX REST and WebSocket clients used by
// the Lifecycle Engine to submit orders and consume the exchange's typed
// event stream (Submit/Cancel plus {OrderAck, Fill, Position, Cancel}), and
// by the Depth Engine to consume the public depth feed.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Auth signs OKX REST and WebSocket requests with HMAC-SHA256. OKX has a
// single auth tier rather than a two-tier EIP-712/HMAC scheme: there is no
// on-chain wallet involved here.
type Auth struct {
	apiKey     string
	secretKey  string
	passphrase string
}

// NewAuth builds an Auth from exchange credentials. All three fields must be
// non-empty; callers should check HasCredentials before constructing.
func NewAuth(apiKey, secretKey, passphrase string) *Auth {
	return &Auth{apiKey: apiKey, secretKey: secretKey, passphrase: passphrase}
}

// Headers produces the OK-ACCESS-* headers for a signed REST request.
// message = timestamp + method + requestPath [+ body], HMAC-SHA256 keyed by
// the secret, base64-encoded.
func (a *Auth) Headers(method, requestPath, body string) (map[string]string, error) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	sig, err := a.sign(timestamp, method, requestPath, body)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return map[string]string{
		"OK-ACCESS-KEY":        a.apiKey,
		"OK-ACCESS-SIGN":       sig,
		"OK-ACCESS-TIMESTAMP":  timestamp,
		"OK-ACCESS-PASSPHRASE": a.passphrase,
	}, nil
}

// LoginFrame builds the WebSocket login frame submitted immediately on
// connection to the private channel: HMAC-SHA256 of
// `timestamp + "GET" + "/users/self/verify"`, base64-encoded, with key and
// passphrase.
func (a *Auth) LoginFrame() (map[string]any, error) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	sig, err := a.sign(timestamp, "GET", "/users/self/verify", "")
	if err != nil {
		return nil, fmt.Errorf("sign login frame: %w", err)
	}
	return map[string]any{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":     a.apiKey,
			"passphrase": a.passphrase,
			"timestamp":  timestamp,
			"sign":       sig,
		}},
	}, nil
}

func (a *Auth) sign(timestamp, method, requestPath, body string) (string, error) {
	message := timestamp + method + requestPath + body
	mac := hmac.New(sha256.New, []byte(a.secretKey))
	if _, err := mac.Write([]byte(message)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
