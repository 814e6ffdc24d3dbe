package mailer

// Service sends buyer-facing notifications. Sending is always best-effort;
// a mail failure never blocks the checkout flow.
type Service interface {
	SendPaymentConfirmation(toEmail, toName, orderName string, amount int64, seatNumbers []string) error
}
