package flow

import (
	"context"
	"time"

	"github.com/stagepass/checkout/internal/domain"
	"github.com/stagepass/checkout/internal/mailer"
	"github.com/stagepass/checkout/internal/payment"
	"github.com/stagepass/checkout/internal/repo/postgres"
	"github.com/stagepass/checkout/pkg/events"
	"github.com/stagepass/checkout/pkg/logger"
)

// Reconciler turns a popup's terminal outcome into flow state. The provider
// saying "paid" is not the end of it: the server-side confirmation is the
// authoritative word, and a rejected confirmation is a failure no matter
// what the popup showed.
type Reconciler struct {
	provider   payment.Provider
	audit      postgres.PaymentAuditRepository
	bus        events.Publisher
	mail       mailer.Service
	successURL string
}

func NewReconciler(
	provider payment.Provider,
	audit postgres.PaymentAuditRepository,
	bus events.Publisher,
	mail mailer.Service,
	successURL string,
) *Reconciler {
	return &Reconciler{
		provider:   provider,
		audit:      audit,
		bus:        bus,
		mail:       mail,
		successURL: successURL,
	}
}

// Resolve handles exactly one outcome for the session's current order.
func (r *Reconciler) Resolve(ctx context.Context, sess *Session, outcome domain.PaymentOutcome) {
	switch outcome.Type {
	case domain.OutcomeSuccess:
		r.resolveSuccess(ctx, sess, outcome)
	case domain.OutcomeFail:
		r.resolveFailure(ctx, sess, outcome)
	case domain.OutcomeCancel:
		r.resolveCancel(ctx, sess, outcome)
	}
}

func (r *Reconciler) resolveSuccess(ctx context.Context, sess *Session, outcome domain.PaymentOutcome) {
	if err := r.provider.Confirm(ctx, outcome.PaymentKey, outcome.OrderID, outcome.Amount); err != nil {
		logger.WarnContext(ctx, "Payment confirmation rejected",
			"error", err,
			"order_id", outcome.OrderID,
		)
		r.resolveFailure(ctx, sess, domain.PaymentOutcome{
			Type:    domain.OutcomeFail,
			OrderID: outcome.OrderID,
			Code:    "CONFIRMATION_REJECTED",
			Message: err.Error(),
		})
		return
	}

	sess.mu.Lock()
	sess.PaymentCompleted = true
	sess.AwaitingOutcome = false
	sess.LastFailure = nil
	if sess.Order != nil {
		sess.Order.PaymentKey = outcome.PaymentKey
	}
	sess.Completed = &Completion{
		OrderID:    outcome.OrderID,
		PaymentKey: outcome.PaymentKey,
		Amount:     outcome.Amount,
		RedirectTo: r.successURL,
	}
	buyerEmail := sess.BuyerEmail
	buyerName := sess.Buyer.Name
	orderName := ""
	if sess.Order != nil {
		orderName = sess.Order.OrderName
	}
	seatNumbers := make([]string, 0, len(sess.Reservations))
	for _, res := range sess.Reservations {
		seatNumbers = append(seatNumbers, res.SeatNumber)
	}
	sess.mu.Unlock()

	if err := r.audit.RecordOutcome(ctx, outcome.OrderID, outcome, true); err != nil {
		logger.ErrorContext(ctx, "Failed to record payment outcome", "error", err, "order_id", outcome.OrderID)
	}

	if err := r.bus.Publish(ctx, events.PaymentConfirmed, events.PaymentConfirmedEvent{
		OrderID:     outcome.OrderID,
		PaymentKey:  outcome.PaymentKey,
		Amount:      outcome.Amount,
		ConfirmedAt: time.Now(),
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish payment confirmed event", "error", err, "order_id", outcome.OrderID)
	}

	if buyerEmail != "" {
		if err := r.mail.SendPaymentConfirmation(buyerEmail, buyerName, orderName, outcome.Amount, seatNumbers); err != nil {
			logger.WarnContext(ctx, "Failed to send confirmation email", "error", err, "order_id", outcome.OrderID)
		}
	}

	logger.InfoContext(ctx, "Payment confirmed", "order_id", outcome.OrderID, "amount", outcome.Amount)
}

func (r *Reconciler) resolveFailure(ctx context.Context, sess *Session, outcome domain.PaymentOutcome) {
	// Best-effort: the provider's failure log must not block surfacing the
	// failure to the buyer.
	if err := r.provider.LogFailure(ctx, outcome.Code, outcome.Message, outcome.OrderID); err != nil {
		logger.WarnContext(ctx, "Failed to forward payment failure", "error", err, "order_id", outcome.OrderID)
	}

	message := outcome.Message
	if message == "" {
		message = "payment failed"
	}
	r.markFailed(ctx, sess, outcome, outcome.Code, message)
}

func (r *Reconciler) resolveCancel(ctx context.Context, sess *Session, outcome domain.PaymentOutcome) {
	r.markFailed(ctx, sess, outcome, "", "payment canceled")
}

func (r *Reconciler) markFailed(ctx context.Context, sess *Session, outcome domain.PaymentOutcome, code, message string) {
	sess.mu.Lock()
	sess.AwaitingOutcome = false
	sess.LastFailure = &Failure{Code: code, Message: message, At: time.Now()}
	sess.mu.Unlock()

	if err := r.audit.RecordOutcome(ctx, outcome.OrderID, outcome, false); err != nil {
		logger.ErrorContext(ctx, "Failed to record payment outcome", "error", err, "order_id", outcome.OrderID)
	}

	if err := r.bus.Publish(ctx, events.PaymentFailed, events.PaymentFailedEvent{
		OrderID:  outcome.OrderID,
		Code:     code,
		Message:  message,
		FailedAt: time.Now(),
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish payment failed event", "error", err, "order_id", outcome.OrderID)
	}
}
