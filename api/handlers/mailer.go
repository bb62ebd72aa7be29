package handlers

import (
	"fmt"
	"os"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	templates "github.com/caresync/consult-chat-api/templates/html"
)

// Mailer sends the best-effort notification emails around chat lifecycle
// transitions.
type Mailer interface {
	SendChatClosed(toName, toEmail, appointmentID string) error
}

type sendgridMailer struct {
	apiKey    string
	fromEmail string
	fromName  string
}

// NewSendgridMailer builds the sendgrid-backed mailer, or nil when no
// SENDGRID_API_KEY is configured (notifications are then skipped).
func NewSendgridMailer() Mailer {
	apiKey := os.Getenv("SENDGRID_API_KEY")
	if apiKey == "" {
		return nil
	}
	fromEmail := os.Getenv("FROM_EMAIL")
	if fromEmail == "" {
		fromEmail = "no-reply@caresync.health"
	}
	return &sendgridMailer{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  "CareSync",
	}
}

func (m *sendgridMailer) SendChatClosed(toName, toEmail, appointmentID string) error {
	subject := "Your consultation chat has ended"
	plain := fmt.Sprintf("Hi %s,\n\nYour clinician has ended the consultation chat. You can still read the conversation from your appointments page.\n", toName)
	htmlBody := templates.RenderChatClosedEmail(toName)

	from := mail.NewEmail(m.fromName, m.fromEmail)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plain, htmlBody)

	client := sendgrid.NewSendClient(m.apiKey)
	response, err := client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status",
			"status", response.StatusCode,
			"appointment", appointmentID,
			"body", response.Body)
	}
	return nil
}
