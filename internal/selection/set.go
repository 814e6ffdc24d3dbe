package selection

import (
	"errors"

	"github.com/stagepass/checkout/internal/domain"
)

// ErrSelectionFull is returned when a toggle would push the set past the
// per-person ticket cap. The set is left untouched.
var ErrSelectionFull = errors.New("selection is at the ticket limit")

// Set is an ordered collection of selected seats, unique by seat ID and
// bounded by the per-person cap. Not safe for concurrent use; the owning
// flow session serializes access.
type Set struct {
	cap   int
	seats []domain.SelectableSeat
}

func NewSet(cap int) *Set {
	return &Set{cap: cap}
}

// Toggle removes the seat if present (always allowed) and appends it
// otherwise. Appending past the cap is rejected, never truncated.
func (s *Set) Toggle(seat domain.SelectableSeat) error {
	for i, existing := range s.seats {
		if existing.SeatID == seat.SeatID {
			s.seats = append(s.seats[:i], s.seats[i+1:]...)
			return nil
		}
	}

	if len(s.seats) >= s.cap {
		return ErrSelectionFull
	}

	s.seats = append(s.seats, seat)
	return nil
}

func (s *Set) Contains(seatID int64) bool {
	for _, seat := range s.seats {
		if seat.SeatID == seatID {
			return true
		}
	}
	return false
}

func (s *Set) Size() int {
	return len(s.seats)
}

// Seats returns a copy in insertion order.
func (s *Set) Seats() []domain.SelectableSeat {
	out := make([]domain.SelectableSeat, len(s.seats))
	copy(out, s.seats)
	return out
}

// TotalPrice is a pure fold over the current members; nothing is cached.
func (s *Set) TotalPrice() int64 {
	var total int64
	for _, seat := range s.seats {
		total += seat.Price
	}
	return total
}
