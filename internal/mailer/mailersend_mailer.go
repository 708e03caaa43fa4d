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

func (m *MailerSendClient) SendVisitOutcome(toEmail, visitorName, roomID, outcome string) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := fmt.Sprintf("Your visit request for room %s", roomID)
	html := fmt.Sprintf(`
		<h2>Visit request update</h2>
		<p>Hi %s,</p>
		<p>Your visit request for room <strong>%s</strong> was <strong>%s</strong>.</p>
		<p>If you did not request this visit, please contact the front desk.</p>
	`, visitorName, roomID, outcome)

	text := fmt.Sprintf("Hi %s,\n\nYour visit request for room %s was %s.", visitorName, roomID, outcome)

	return m.sendEmail(toEmail, visitorName, subject, text, html)
}

func (m *MailerSendClient) SendCheckReceipt(toEmail, visitorName, roomID, kind string) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := fmt.Sprintf("Visit %s recorded for room %s", kind, roomID)
	html := fmt.Sprintf(`
		<h2>Visit %s recorded</h2>
		<p>Hi %s,</p>
		<p>Your %s for room <strong>%s</strong> has been recorded.</p>
	`, kind, visitorName, kind, roomID)

	text := fmt.Sprintf("Hi %s,\n\nYour %s for room %s has been recorded.", visitorName, kind, roomID)

	return m.sendEmail(toEmail, visitorName, subject, text, html)
}

func (m *MailerSendClient) sendEmail(toEmail, toName, subject, text, html string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(subject)

	if strings.TrimSpace(text) != "" {
		msg.SetText(text)
	}
	if strings.TrimSpace(html) != "" {
		msg.SetHTML(html)
	}

	_, err := m.client.Email.Send(ctx, msg)
	return err
}
