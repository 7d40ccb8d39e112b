// Package razorpay creates checkout orders and verifies webhook deliveries.
package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

var ErrNotConfigured = errors.New("Payment gateway is not configured correctly.")

type OrderRequest struct {
	Amount   int64
	Currency string
	Notes    map[string]interface{}
}

type Client struct {
	keyID  string
	client *razorpay.Client
}

func NewClient(keyID, keySecret string) *Client {
	c := &Client{keyID: keyID}
	if keyID != "" && keySecret != "" {
		c.client = razorpay.NewClient(keyID, keySecret)
	}
	return c
}

// KeyID is the public key the checkout widget is opened with.
func (c *Client) KeyID() string {
	return c.keyID
}

// CreateOrder registers an order with Razorpay and returns the order object
// as Razorpay sent it.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (map[string]interface{}, error) {
	if c.client == nil {
		return nil, ErrNotConfigured
	}

	notes := req.Notes
	if notes == nil {
		notes = map[string]interface{}{}
	}
	order, err := c.client.Order.Create(map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  fmt.Sprintf("receipt_order_%d", time.Now().UnixMilli()),
		"notes":    notes,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create order with Razorpay: %w", err)
	}
	if order == nil {
		return nil, errors.New("Failed to create order with Razorpay.")
	}
	return order, nil
}

// VerifySignature reports whether signature is the hex HMAC-SHA256 of body
// under the webhook secret.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign returns the signature Razorpay would send for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
