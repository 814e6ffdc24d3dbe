package domain

type ReservationStatus string

const (
	ReservationInit           ReservationStatus = "INIT"
	ReservationPendingPayment ReservationStatus = "PENDING_PAYMENT"
	ReservationConfirmed      ReservationStatus = "CONFIRMED"
	ReservationPaymentFailed  ReservationStatus = "PAYMENT_FAILED"
	ReservationCanceled       ReservationStatus = "CANCELED"
	ReservationExpired        ReservationStatus = "EXPIRED"
)

func ParseReservationStatus(s string) (ReservationStatus, bool) {
	switch ReservationStatus(s) {
	case ReservationInit, ReservationPendingPayment, ReservationConfirmed,
		ReservationPaymentFailed, ReservationCanceled, ReservationExpired:
		return ReservationStatus(s), true
	default:
		return "", false
	}
}

// Reservation is the server-issued record binding one seat to one buyer for
// one product at one price. Status moves only through server-side events;
// this service never writes it directly.
type Reservation struct {
	ID           int64             `json:"id"`
	ReserverID   int64             `json:"reserver_id"`
	ReserverName string            `json:"reserver_name"`
	ProductID    int64             `json:"product_id"`
	SeatID       int64             `json:"seat_id"`
	SeatNumber   string            `json:"seat_number"`
	Price        int64             `json:"price"`
	Status       ReservationStatus `json:"status"`
}
