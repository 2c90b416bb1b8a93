// Package auth provides Coinbase Exchange API authentication using
// HMAC-SHA256 signatures.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Header names sent with signed REST requests.
const (
	HeaderKey        = "CB-ACCESS-KEY"
	HeaderSign       = "CB-ACCESS-SIGN"
	HeaderTimestamp  = "CB-ACCESS-TIMESTAMP"
	HeaderPassphrase = "CB-ACCESS-PASSPHRASE"
)

// WebSocketPath is the path signed for feed subscriptions.
const WebSocketPath = "/users/self/verify"

// Credentials holds an API key and the secret used for signing requests.
type Credentials struct {
	Key        string
	Passphrase string
	secret     []byte // decoded HMAC key

	now func() time.Time
}

// NewCredentials decodes the base64 secret issued with the API key.
func NewCredentials(key, secret, passphrase string) (*Credentials, error) {
	if key == "" {
		return nil, errors.New("API key is required")
	}
	if passphrase == "" {
		return nil, errors.New("API passphrase is required")
	}
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode API secret: %w", err)
	}
	if len(decoded) == 0 {
		return nil, errors.New("API secret is required")
	}

	return &Credentials{
		Key:        key,
		Passphrase: passphrase,
		secret:     decoded,
		now:        time.Now,
	}, nil
}

// Sign generates authentication headers for a REST request. path includes
// the query string; body is the exact request body, empty for GET.
func (c *Credentials) Sign(method, path, body string) map[string]string {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)

	return map[string]string{
		HeaderKey:        c.Key,
		HeaderSign:       c.signature(timestamp, method, path, body),
		HeaderTimestamp:  timestamp,
		HeaderPassphrase: c.Passphrase,
	}
}

// SubscribeFields returns the fields merged into a feed subscribe message
// to authenticate the connection.
func (c *Credentials) SubscribeFields() map[string]string {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)

	return map[string]string{
		"key":        c.Key,
		"passphrase": c.Passphrase,
		"timestamp":  timestamp,
		"signature":  c.signature(timestamp, "GET", WebSocketPath, ""),
	}
}

// signature is base64(HMAC-SHA256(secret, timestamp + method + path + body)).
func (c *Credentials) signature(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
