package handlers

import (
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/aett-tours/tours-api/models"
	templates "github.com/aett-tours/tours-api/templates/html"
)

// Mailer sends a single email
type Mailer interface {
	Send(toEmail, toName, subject, htmlContent, plainText string) error
}

// SendGridMailer sends email through SendGrid
type SendGridMailer struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// Send sends an email using SendGrid
func (m SendGridMailer) Send(toEmail, toName, subject, htmlContent, plainText string) error {
	from := mail.NewEmail(m.FromName, m.FromEmail)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	client := sendgrid.NewSendClient(m.APIKey)
	response, err := client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}
	return nil
}

// sendNewSessionAlert tells the operators' inbox a guest opened a conversation
func (c *Chat) sendNewSessionAlert(session models.ChatSession) {
	subject, htmlContent, plainText := templates.RenderNewChatSessionEmail(session, c.DashboardURL)
	if err := c.Mailer.Send(c.AlertEmail, "Operators", subject, htmlContent, plainText); err != nil {
		zap.S().Errorw("failed to send new chat session alert",
			"sessionId", session.ID,
			"to", c.AlertEmail,
			"error", err)
		return
	}
	zap.S().Infow("new chat session alert sent",
		"sessionId", session.ID,
		"to", c.AlertEmail)
}
