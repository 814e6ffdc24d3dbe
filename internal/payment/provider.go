package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/stagepass/checkout/internal/domain"
)

// ErrNoCheckoutURL is returned when order creation succeeds but the provider
// hands back no checkout URL to open.
var ErrNoCheckoutURL = errors.New("payment provider returned no checkout URL")

// Provider is the payment side the orchestrator drives: order creation,
// server-side confirmation, and failure logging.
type Provider interface {
	// CreateOrder submits the order and returns the checkout URL the buyer
	// opens in a separate browsing context.
	CreateOrder(ctx context.Context, order *domain.PaymentOrder) (string, error)
	// Confirm reconciles a provider-reported success server-side. A non-nil
	// error means the payment is NOT confirmed, regardless of what the
	// provider told the popup.
	Confirm(ctx context.Context, paymentKey, orderID string, amount int64) error
	// LogFailure forwards a failure code/message for the order. Best-effort;
	// callers ignore its error beyond logging.
	LogFailure(ctx context.Context, code, message, orderID string) error
}

// checkoutProvider speaks the default HTTP checkout contract.
type checkoutProvider struct {
	baseURL string
	http    *http.Client
}

func NewCheckoutProvider(baseURL string, timeout time.Duration) Provider {
	return &checkoutProvider{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type createOrderRequest struct {
	OrderName string             `json:"orderName"`
	Payments  []createOrderEntry `json:"payments"`
}

type createOrderEntry struct {
	ReservationID int64 `json:"reservationId"`
	Price         int64 `json:"price"`
}

type createOrderResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
}

func (p *checkoutProvider) CreateOrder(ctx context.Context, order *domain.PaymentOrder) (string, error) {
	entries := make([]createOrderEntry, 0, len(order.Items))
	for _, item := range order.Items {
		entries = append(entries, createOrderEntry{ReservationID: item.ReservationID, Price: item.Price})
	}

	payload, err := json.Marshal(createOrderRequest{OrderName: order.OrderName, Payments: entries})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/payments", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("payment creation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("payment creation returned %d", resp.StatusCode)
	}

	var body createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("malformed payment creation response: %w", err)
	}
	if body.CheckoutURL == "" {
		return "", ErrNoCheckoutURL
	}
	return body.CheckoutURL, nil
}

type confirmQuery struct {
	PaymentKey string `url:"paymentKey"`
	OrderID    string `url:"orderId"`
	Amount     int64  `url:"amount"`
}

type confirmResponse struct {
	Success bool `json:"success"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *checkoutProvider) Confirm(ctx context.Context, paymentKey, orderID string, amount int64) error {
	values, err := query.Values(confirmQuery{PaymentKey: paymentKey, OrderID: orderID, Amount: amount})
	if err != nil {
		return fmt.Errorf("failed to encode confirmation query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/payments/confirm?"+values.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build confirmation request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("payment confirmation failed: %w", err)
	}
	defer resp.Body.Close()

	var body confirmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("malformed confirmation response: %w", err)
	}

	if !body.Success {
		if body.Error != nil && body.Error.Message != "" {
			return fmt.Errorf("confirmation rejected: %s", body.Error.Message)
		}
		return errors.New("confirmation rejected")
	}
	return nil
}

type failureQuery struct {
	Code    string `url:"code"`
	Message string `url:"message"`
	OrderID string `url:"orderId"`
}

func (p *checkoutProvider) LogFailure(ctx context.Context, code, message, orderID string) error {
	values, err := query.Values(failureQuery{Code: code, Message: message, OrderID: orderID})
	if err != nil {
		return fmt.Errorf("failed to encode failure query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/payments/fail?"+values.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build failure log request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("failure log request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("failure log returned %d", resp.StatusCode)
	}
	return nil
}
