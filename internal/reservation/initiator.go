package reservation

import (
	"context"

	"github.com/stagepass/checkout/internal/domain"
	"github.com/stagepass/checkout/pkg/logger"
)

// Buyer identifies who the reservations are created for.
type Buyer struct {
	ID   int64
	Name string
}

// Initiator turns a seat selection into server-side reservation records.
type Initiator struct {
	client Client
}

func NewInitiator(client Client) *Initiator {
	return &Initiator{client: client}
}

// Reserve issues one creation request per seat, sequentially, carrying the
// price captured at selection time. The first failure aborts the remainder.
// Reservations created before the failure are returned alongside the error:
// they are valid server-side records and must never be hidden from the
// caller, even though the batch as a whole failed.
func (i *Initiator) Reserve(ctx context.Context, buyer Buyer, productID int64, seats []domain.SelectableSeat) ([]domain.Reservation, error) {
	created := make([]domain.Reservation, 0, len(seats))

	for _, seat := range seats {
		res, err := i.client.Create(ctx, CreateRequest{
			ReserverID:   buyer.ID,
			ReserverName: buyer.Name,
			ProductID:    productID,
			SeatID:       seat.SeatID,
			SeatNumber:   seat.SeatNumber,
			Price:        seat.Price,
		})
		if err != nil {
			logger.WarnContext(ctx, "Reservation batch aborted",
				"seat_number", seat.SeatNumber,
				"created_so_far", len(created),
				"error", err,
			)
			return created, err
		}
		created = append(created, *res)
	}

	return created, nil
}
