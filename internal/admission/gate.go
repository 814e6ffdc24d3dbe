package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stagepass/checkout/internal/domain"
	"github.com/stagepass/checkout/pkg/logger"
)

// Gate verifies and releases admission slots against the external
// waiting-room queue service.
type Gate interface {
	Check(ctx context.Context, buyerID, productID int64) domain.AdmissionResult
	Release(ctx context.Context, buyerID, productID int64) error
}

type gate struct {
	baseURL string
	client  *http.Client
}

func NewGate(baseURL string, timeout time.Duration) Gate {
	return &gate{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type statusResponse struct {
	Allowed bool    `json:"allowed"`
	Payload *string `json:"payload"`
}

// Check is fail-closed: the only pass is an explicit allowed=true with a
// null payload. Denials, residual payloads, non-2xx responses, network
// failures and malformed bodies all fail the gate; none are retried here.
func (g *gate) Check(ctx context.Context, buyerID, productID int64) domain.AdmissionResult {
	q := url.Values{}
	q.Set("userId", strconv.FormatInt(buyerID, 10))
	q.Set("productId", strconv.FormatInt(productID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/admissions/status?"+q.Encode(), nil)
	if err != nil {
		return domain.AdmissionFail("failed to build admission request")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		logger.WarnContext(ctx, "Admission status request failed", "error", err)
		return domain.AdmissionFail("admission status unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.AdmissionFail(fmt.Sprintf("admission status returned %d", resp.StatusCode))
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.AdmissionFail("malformed admission status response")
	}

	if !body.Allowed {
		return domain.AdmissionFail("admission not granted")
	}
	if body.Payload != nil {
		// Allowed but still carrying queue payload means the turn has not
		// fully arrived; treating it as a pass could let two tabs through.
		return domain.AdmissionFail("admission pending: " + *body.Payload)
	}

	return domain.AdmissionPass()
}

type releaseRequest struct {
	UserID    int64 `json:"userId"`
	ProductID int64 `json:"productId"`
}

// Release gives the admission slot back to the queue service. Callers treat
// it as best-effort; no response contract beyond the status code.
func (g *gate) Release(ctx context.Context, buyerID, productID int64) error {
	payload, err := json.Marshal(releaseRequest{UserID: buyerID, ProductID: productID})
	if err != nil {
		return fmt.Errorf("failed to marshal release request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/admissions/release", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build release request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("admission release failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("admission release returned %d", resp.StatusCode)
	}
	return nil
}
