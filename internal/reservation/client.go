package reservation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stagepass/checkout/internal/domain"
)

// Client creates reservation records on the reservation service, one seat
// per request.
type Client interface {
	Create(ctx context.Context, req CreateRequest) (*domain.Reservation, error)
}

type CreateRequest struct {
	ReserverID   int64  `json:"reserverId"`
	ReserverName string `json:"reserverName"`
	ProductID    int64  `json:"productId"`
	SeatID       int64  `json:"seatId"`
	SeatNumber   string `json:"seatNumber"`
	Price        int64  `json:"price"`
}

type client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) Client {
	return &client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type reservationDTO struct {
	ID           int64  `json:"id"`
	ReserverID   int64  `json:"reserverId"`
	ReserverName string `json:"reserverName"`
	ProductID    int64  `json:"productId"`
	SeatID       int64  `json:"seatId"`
	SeatNumber   string `json:"seatNumber"`
	Price        int64  `json:"price"`
	Status       string `json:"status"`
}

type errorDTO struct {
	Message string `json:"message"`
}

func (c *client) Create(ctx context.Context, req CreateRequest) (*domain.Reservation, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reservation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reservations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build reservation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("reservation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var errBody errorDTO
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil && errBody.Message != "" {
			return nil, fmt.Errorf("seat %s: %s", req.SeatNumber, errBody.Message)
		}
		return nil, fmt.Errorf("seat %s: reservation returned %d", req.SeatNumber, resp.StatusCode)
	}

	var dto reservationDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return nil, fmt.Errorf("malformed reservation response: %w", err)
	}

	status, ok := domain.ParseReservationStatus(dto.Status)
	if !ok {
		return nil, fmt.Errorf("seat %s: unknown reservation status %q", req.SeatNumber, dto.Status)
	}

	return &domain.Reservation{
		ID:           dto.ID,
		ReserverID:   dto.ReserverID,
		ReserverName: dto.ReserverName,
		ProductID:    dto.ProductID,
		SeatID:       dto.SeatID,
		SeatNumber:   dto.SeatNumber,
		Price:        dto.Price,
		Status:       status,
	}, nil
}
