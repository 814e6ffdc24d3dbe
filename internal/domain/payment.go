package domain

import "time"

// PaymentItem is one reservation's share of a payment order.
type PaymentItem struct {
	ReservationID int64 `json:"reservation_id"`
	Price         int64 `json:"price"`
}

// PaymentOrder groups reservations under a single checkout transaction. A
// retried payment after failure creates a new order over the same
// reservation set.
type PaymentOrder struct {
	OrderID     string        `json:"order_id"`
	OrderName   string        `json:"order_name"`
	Items       []PaymentItem `json:"items"`
	Amount      int64         `json:"amount"`
	CheckoutURL string        `json:"checkout_url"`
	PaymentKey  string        `json:"payment_key,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// OutcomeType is one of the three ways a payment attempt may conclude.
type OutcomeType string

const (
	OutcomeSuccess OutcomeType = "success"
	OutcomeFail    OutcomeType = "fail"
	OutcomeCancel  OutcomeType = "cancel"
)

func ParseOutcomeType(s string) (OutcomeType, bool) {
	switch OutcomeType(s) {
	case OutcomeSuccess, OutcomeFail, OutcomeCancel:
		return OutcomeType(s), true
	default:
		return "", false
	}
}

// PaymentOutcome is the terminal message a checkout popup reports back.
// Success carries paymentKey/orderId/amount; fail carries code/message;
// cancel carries nothing beyond its type.
type PaymentOutcome struct {
	Type       OutcomeType `json:"type"`
	PaymentKey string      `json:"paymentKey,omitempty"`
	OrderID    string      `json:"orderId,omitempty"`
	Amount     int64       `json:"amount,omitempty"`
	Code       string      `json:"code,omitempty"`
	Message    string      `json:"message,omitempty"`
}
