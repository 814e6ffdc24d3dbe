package mailer

import (
	"strings"

	"github.com/stagepass/checkout/pkg/logger"
)

type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendPaymentConfirmation(toEmail, toName, orderName string, amount int64, seatNumbers []string) error {
	logger.Info("[DEV MAIL] Payment confirmation",
		"to", toEmail,
		"name", toName,
		"order", orderName,
		"amount", amount,
		"seats", strings.Join(seatNumbers, ", "),
	)
	return nil
}
