package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// The payment processor is an external, untrusted collaborator. Transport
// failures and 5xx responses are ErrUnavailable (retryable, outcome
// unknown); 4xx responses are ErrRejected (non-retryable).
var (
	ErrUnavailable = errors.New("payment gateway unavailable")
	ErrRejected    = errors.New("payment gateway rejected request")
)

// Order is the processor's view of a created payment order. Amount is in
// paise, the processor's minor unit.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway is the sole boundary to the payment processor.
type Gateway interface {
	// CreateOrder registers an order for amount whole rupees.
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error)
	// VerifySignature checks a checkout settlement proof. It never trusts
	// the processor callback: the signature is recomputed locally.
	VerifySignature(orderID, paymentID, signature string) bool
	// FetchOrder re-reads processor state, used to reconcile an unknown
	// outcome after a timeout before deciding to retry.
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
}

type RazorpayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

func NewRazorpayClient() *RazorpayClient {
	viper.SetDefault("gateway.base_url", "https://api.razorpay.com")
	viper.SetDefault("gateway.timeout_seconds", 10)

	return &RazorpayClient{
		baseURL:   viper.GetString("gateway.base_url"),
		keyID:     viper.GetString("gateway.key_id"),
		keySecret: viper.GetString("gateway.key_secret"),
		client: &http.Client{
			Timeout: time.Duration(viper.GetInt("gateway.timeout_seconds")) * time.Second,
		},
	}
}

// CreateOrder creates an order for the given amount in whole rupees. The
// processor API takes paise, so the amount is scaled here and nowhere else.
func (c *RazorpayClient) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: order amount must be positive", ErrRejected)
	}

	payload, err := json.Marshal(map[string]any{
		"amount":   amount * 100,
		"currency": currency,
		"receipt":  receipt,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("[GATEWAY] Order creation request failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		log.Printf("[GATEWAY] Order creation returned status %d", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error struct {
				Description string `json:"description"`
			} `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		log.Printf("[GATEWAY] Order creation rejected: status %d, %s", resp.StatusCode, apiErr.Error.Description)
		return nil, fmt.Errorf("%w: %s", ErrRejected, apiErr.Error.Description)
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("%w: malformed order response: %v", ErrUnavailable, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: order response missing id", ErrUnavailable)
	}

	log.Printf("[GATEWAY] Order created: %s, amount: %d %s", order.ID, order.Amount, order.Currency)
	return &order, nil
}

// VerifySignature recomputes the checkout signature: HMAC-SHA256 over
// "orderID|paymentID" keyed with the API secret, hex encoded. Malformed
// proofs fail closed.
func (c *RazorpayClient) VerifySignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	h := hmac.New(sha256.New, []byte(c.keySecret))
	h.Write([]byte(orderID + "|" + paymentID))

	return hmac.Equal(h.Sum(nil), provided)
}

func (c *RazorpayClient) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("%w: malformed order response: %v", ErrUnavailable, err)
	}
	return &order, nil
}
