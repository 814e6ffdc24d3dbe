package domain

// SeatStatus is the physical seat state in the venue inventory.
type SeatStatus string

const (
	SeatActive   SeatStatus = "ACTIVE"
	SeatInactive SeatStatus = "INACTIVE"
)

// Seat is one physical seat of a stage, as reported by the inventory service.
type Seat struct {
	ID         int64      `json:"id"`
	SeatNumber string     `json:"seat_number"`
	Status     SeatStatus `json:"status"`
	Row        int        `json:"row"`
	Col        int        `json:"col"`
}

// ReservationSeatStatus is the per-product sale state of a seat.
type ReservationSeatStatus string

const (
	SeatAvailable ReservationSeatStatus = "AVAILABLE"
	SeatReserved  ReservationSeatStatus = "RESERVED"
	SeatPreempted ReservationSeatStatus = "PREEMPTED"
)

// SelectableSeat binds a seat to its grade and price for one product.
// Immutable once fetched; the selection set holds references and never
// mutates fields, so the price a buyer saw at selection time is the price
// carried into reservation.
type SelectableSeat struct {
	SeatID     int64                 `json:"seat_id"`
	SeatNumber string                `json:"seat_number"`
	Grade      string                `json:"grade"`
	Price      int64                 `json:"price"`
	Status     ReservationSeatStatus `json:"status"`
}
