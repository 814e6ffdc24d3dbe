package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stagepass/checkout/internal/domain"
	"github.com/stagepass/checkout/internal/repo/postgres"
	"github.com/stagepass/checkout/pkg/events"
	"github.com/stagepass/checkout/pkg/logger"
)

// OutcomeSink receives the single terminal outcome of a started order.
type OutcomeSink func(ctx context.Context, outcome domain.PaymentOutcome)

// Orchestrator creates payment orders and waits out their terminal outcome.
// The checkout runs in a separate browsing context; the only coordination
// with it is message passing over the outcome subject plus the popup
// liveness key, so a popup closed without ever posting a message still
// resolves — to a synthesized cancel.
type Orchestrator struct {
	provider Provider
	bus      events.EventBus
	monitor  PopupMonitor
	audit    postgres.PaymentAuditRepository

	openGrace    time.Duration
	pollInterval time.Duration
}

func NewOrchestrator(
	provider Provider,
	bus events.EventBus,
	monitor PopupMonitor,
	audit postgres.PaymentAuditRepository,
	openGrace, pollInterval time.Duration,
) *Orchestrator {
	return &Orchestrator{
		provider:     provider,
		bus:          bus,
		monitor:      monitor,
		audit:        audit,
		openGrace:    openGrace,
		pollInterval: pollInterval,
	}
}

// Start submits a payment order over the given reservations, registers the
// outcome listener, and returns the order with its checkout URL. The sink is
// invoked exactly once per started order: success, fail, or cancel. A retry
// goes through Start again with the same reservations and gets a fresh
// order ID; reservations are never re-created here.
func (o *Orchestrator) Start(
	ctx context.Context,
	flowID string,
	buyerID, productID int64,
	orderName string,
	reservations []domain.Reservation,
	sink OutcomeSink,
) (*domain.PaymentOrder, error) {
	if len(reservations) == 0 {
		return nil, fmt.Errorf("no reservations to pay for")
	}

	items := make([]domain.PaymentItem, 0, len(reservations))
	var amount int64
	for _, res := range reservations {
		items = append(items, domain.PaymentItem{ReservationID: res.ID, Price: res.Price})
		amount += res.Price
	}

	order := &domain.PaymentOrder{
		OrderID:   uuid.NewString(),
		OrderName: orderName,
		Items:     items,
		Amount:    amount,
		CreatedAt: time.Now(),
	}

	checkoutURL, err := o.provider.CreateOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment order: %w", err)
	}
	order.CheckoutURL = checkoutURL

	if err := o.audit.RecordOrder(ctx, flowID, buyerID, productID, order); err != nil {
		logger.ErrorContext(ctx, "Failed to record payment attempt", "error", err, "order_id", order.OrderID)
	}

	if err := o.bus.Publish(ctx, events.PaymentOrderCreated, events.PaymentOrderCreatedEvent{
		OrderID:        order.OrderID,
		FlowID:         flowID,
		BuyerID:        buyerID,
		ProductID:      productID,
		Amount:         order.Amount,
		ReservationIDs: reservationIDs(items),
		CreatedAt:      order.CreatedAt,
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish payment order event", "error", err, "order_id", order.OrderID)
	}

	// The listener must be live before the checkout URL is handed out, or a
	// fast popup could post its outcome into the void.
	outcomeCh := make(chan domain.PaymentOutcome, 1)
	sub, err := o.bus.Subscribe(events.PaymentOutcomeSubject(order.OrderID), func(msg *events.Message) {
		outcome, ok := parseOutcome(msg.Data, order.OrderID)
		if !ok {
			logger.Warn("Dropping malformed payment outcome message", "order_id", order.OrderID)
			return
		}
		select {
		case outcomeCh <- outcome:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe for payment outcome: %w", err)
	}

	go o.watch(order, sub, outcomeCh, sink)

	return order, nil
}

// parseOutcome validates the shape of an outcome message. Anything not
// matching the expected order and type domain is dropped, not interpreted.
func parseOutcome(data []byte, orderID string) (domain.PaymentOutcome, bool) {
	var outcome domain.PaymentOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return domain.PaymentOutcome{}, false
	}
	if _, ok := domain.ParseOutcomeType(string(outcome.Type)); !ok {
		return domain.PaymentOutcome{}, false
	}
	if outcome.OrderID != "" && outcome.OrderID != orderID {
		return domain.PaymentOutcome{}, false
	}
	outcome.OrderID = orderID
	return outcome, true
}

// watch resolves the order to exactly one terminal outcome: the first valid
// message, or a synthesized cancel once the popup's liveness lapses.
func (o *Orchestrator) watch(order *domain.PaymentOrder, sub events.Subscription, outcomeCh <-chan domain.PaymentOutcome, sink OutcomeSink) {
	ctx := context.Background()
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			logger.Error("Failed to unsubscribe payment outcome listener", "error", err, "order_id", order.OrderID)
		}
	}()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(o.openGrace)
	popupSeen := false

	for {
		select {
		case outcome := <-outcomeCh:
			o.resolve(ctx, order, outcome, sink)
			return

		case <-ticker.C:
			alive, err := o.monitor.Alive(ctx, order.OrderID)
			if err != nil {
				logger.Warn("Popup liveness check failed", "error", err, "order_id", order.OrderID)
				continue
			}
			if alive {
				popupSeen = true
				continue
			}
			// Not alive: either closed after being open, or never opened
			// within the grace window.
			if popupSeen || time.Now().After(deadline) {
				// An outcome racing the liveness expiry wins.
				select {
				case outcome := <-outcomeCh:
					o.resolve(ctx, order, outcome, sink)
				default:
					o.resolve(ctx, order, domain.PaymentOutcome{
						Type:    domain.OutcomeCancel,
						OrderID: order.OrderID,
					}, sink)
				}
				return
			}
		}
	}
}

func (o *Orchestrator) resolve(ctx context.Context, order *domain.PaymentOrder, outcome domain.PaymentOutcome, sink OutcomeSink) {
	if err := o.monitor.Clear(ctx, order.OrderID); err != nil {
		logger.Warn("Failed to clear popup liveness key", "error", err, "order_id", order.OrderID)
	}
	logger.Info("Payment outcome resolved", "order_id", order.OrderID, "type", string(outcome.Type))
	sink(ctx, outcome)
}

func reservationIDs(items []domain.PaymentItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ReservationID)
	}
	return ids
}
