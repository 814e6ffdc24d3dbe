package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stagepass/checkout/internal/domain"
)

// Client reads venue seat inventory and per-product reservation-seat state.
type Client interface {
	SeatsByStage(ctx context.Context, stageID int64) ([]domain.Seat, error)
	ReservationSeats(ctx context.Context, productID int64) ([]domain.SelectableSeat, error)
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

type seatDTO struct {
	ID         int64  `json:"id"`
	SeatNumber string `json:"seatNumber"`
	Status     string `json:"status"`
	Row        int    `json:"row"`
	Col        int    `json:"col"`
}

type reservationSeatDTO struct {
	SeatID     int64  `json:"seatId"`
	SeatNumber string `json:"seatNumber"`
	Grade      string `json:"grade"`
	Price      int64  `json:"price"`
	Status     string `json:"status"`
}

func (c *client) SeatsByStage(ctx context.Context, stageID int64) ([]domain.Seat, error) {
	var dtos []seatDTO
	url := c.baseURL + "/stages/" + strconv.FormatInt(stageID, 10) + "/seats"
	if err := c.getJSON(ctx, url, &dtos); err != nil {
		return nil, fmt.Errorf("failed to fetch stage seats: %w", err)
	}

	seats := make([]domain.Seat, 0, len(dtos))
	for _, d := range dtos {
		seats = append(seats, domain.Seat{
			ID:         d.ID,
			SeatNumber: d.SeatNumber,
			Status:     domain.SeatStatus(d.Status),
			Row:        d.Row,
			Col:        d.Col,
		})
	}
	return seats, nil
}

func (c *client) ReservationSeats(ctx context.Context, productID int64) ([]domain.SelectableSeat, error) {
	var dtos []reservationSeatDTO
	url := c.baseURL + "/products/" + strconv.FormatInt(productID, 10) + "/reservation-seats"
	if err := c.getJSON(ctx, url, &dtos); err != nil {
		return nil, fmt.Errorf("failed to fetch reservation seats: %w", err)
	}

	seats := make([]domain.SelectableSeat, 0, len(dtos))
	for _, d := range dtos {
		seats = append(seats, domain.SelectableSeat{
			SeatID:     d.SeatID,
			SeatNumber: d.SeatNumber,
			Grade:      d.Grade,
			Price:      d.Price,
			Status:     domain.ReservationSeatStatus(d.Status),
		})
	}
	return seats, nil
}

func (c *client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
