package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stagepass/checkout/internal/domain"
	"github.com/stagepass/checkout/pkg/logger"
)

// stripeProvider backs the provider contract with Stripe Checkout Sessions.
// The session ID doubles as the payment key reported by the popup.
type stripeProvider struct {
	successURL string
	cancelURL  string
}

func NewStripeProvider(secretKey, successURL, cancelURL string) Provider {
	stripe.Key = secretKey
	return &stripeProvider{
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

func (p *stripeProvider) CreateOrder(ctx context.Context, order *domain.PaymentOrder) (string, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(order.Items))
	for _, item := range order.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(stripe.CurrencyKRW)),
				UnitAmount: stripe.Int64(item.Price),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("%s (reservation %d)", order.OrderName, item.ReservationID)),
				},
			},
			Quantity: stripe.Int64(1),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(p.successURL + "?orderId=" + order.OrderID + "&paymentKey={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(p.cancelURL + "?orderId=" + order.OrderID),
		ClientReferenceID: stripe.String(order.OrderID),
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	if sess.URL == "" {
		return "", ErrNoCheckoutURL
	}
	return sess.URL, nil
}

func (p *stripeProvider) Confirm(ctx context.Context, paymentKey, orderID string, amount int64) error {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := session.Get(paymentKey, params)
	if err != nil {
		return fmt.Errorf("failed to look up checkout session: %w", err)
	}

	if sess.ClientReferenceID != orderID {
		return fmt.Errorf("confirmation rejected: session belongs to order %s", sess.ClientReferenceID)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return fmt.Errorf("confirmation rejected: payment status %s", sess.PaymentStatus)
	}
	if sess.AmountTotal != amount {
		return fmt.Errorf("confirmation rejected: amount mismatch (charged %d, expected %d)", sess.AmountTotal, amount)
	}
	return nil
}

// Stripe keeps its own failure records; nothing to forward.
func (p *stripeProvider) LogFailure(ctx context.Context, code, message, orderID string) error {
	logger.WarnContext(ctx, "Stripe payment failed", "code", code, "message", message, "order_id", orderID)
	return nil
}
