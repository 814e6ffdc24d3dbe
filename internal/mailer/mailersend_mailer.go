package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

type MailerSendClient struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	enabled bool
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSendClient {
	m := &MailerSendClient{
		enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}

	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}

	return m
}

func (m *MailerSendClient) SendPaymentConfirmation(toEmail, toName, orderName string, amount int64, seatNumbers []string) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := fmt.Sprintf("Your tickets for %s are confirmed", orderName)
	seatList := strings.Join(seatNumbers, ", ")

	html := fmt.Sprintf(`
		<h2>Payment confirmed!</h2>
		<p>Hi %s,</p>
		<p>Your payment of <strong>%d</strong> for <strong>%s</strong> went through.</p>
		<p>Seats: <strong>%s</strong></p>
		<p>See you at the show.</p>
	`, toName, amount, orderName, seatList)

	text := fmt.Sprintf("Payment of %d for %s confirmed. Seats: %s", amount, orderName, seatList)

	return m.sendEmail(toEmail, toName, subject, text, html)
}

func (m *MailerSendClient) sendEmail(toEmail, toName, subject, text, html string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	message := m.client.Email.NewMessage()
	message.SetFrom(m.from)
	message.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	message.SetSubject(subject)
	message.SetText(text)
	message.SetHTML(html)

	_, err := m.client.Email.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
