package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stagepass/checkout/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) (Subscription, error)
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

// Subscription is a live subject subscription that can be torn down when the
// listener is done, e.g. once a payment order has reached a terminal outcome.
type Subscription interface {
	Unsubscribe() error
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) (Subscription, error) {
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	// Payment events
	PaymentOrderCreated = "payment.order.created"
	PaymentConfirmed    = "payment.confirmed"
	PaymentFailed       = "payment.failed"

	// Admission events
	AdmissionReleased = "admission.released"

	// Flow events
	FlowExpired = "flow.expired"
)

// PaymentOutcomeSubject is the per-order subject the checkout popup's
// terminal outcome is relayed on.
func PaymentOutcomeSubject(orderID string) string {
	return "payment.outcome." + orderID
}

// Event payloads
type PaymentOrderCreatedEvent struct {
	OrderID        string    `json:"order_id"`
	FlowID         string    `json:"flow_id"`
	BuyerID        int64     `json:"buyer_id"`
	ProductID      int64     `json:"product_id"`
	Amount         int64     `json:"amount"`
	ReservationIDs []int64   `json:"reservation_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

type PaymentConfirmedEvent struct {
	OrderID     string    `json:"order_id"`
	PaymentKey  string    `json:"payment_key"`
	Amount      int64     `json:"amount"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

type PaymentFailedEvent struct {
	OrderID  string    `json:"order_id"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	FailedAt time.Time `json:"failed_at"`
}

type AdmissionReleasedEvent struct {
	BuyerID    int64     `json:"buyer_id"`
	ProductID  int64     `json:"product_id"`
	Trigger    string    `json:"trigger"` // beacon, sweep
	ReleasedAt time.Time `json:"released_at"`
}

type FlowExpiredEvent struct {
	FlowID    string    `json:"flow_id"`
	BuyerID   int64     `json:"buyer_id"`
	ProductID int64     `json:"product_id"`
	ExpiredAt time.Time `json:"expired_at"`
}
