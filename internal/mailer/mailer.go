package mailer

import (
	"fmt"
	"net/smtp"
	"os"

	"github.com/rs/zerolog"
)

// SendRegistrationEmail notifies the student about their registration state.
// Credentials come from the environment so the binary carries no secrets.
func SendRegistrationEmail(log *zerolog.Logger, eventTitle, status, recipientEmail string) error {
	from := os.Getenv("SMTP_FROM")
	pass := os.Getenv("SMTP_PASSWORD")
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		host = "smtp.gmail.com"
	}
	if from == "" || pass == "" {
		log.Warn().Msg("SMTP credentials not configured, skipping email")
		return nil
	}

	var subject, body string
	switch status {
	case "registered":
		subject = "Registration confirmed"
		body = fmt.Sprintf("Hello!\n\nYour registration for \"%s\" is confirmed. See you there!", eventTitle)
	case "cancelled":
		subject = "Registration cancelled"
		body = fmt.Sprintf("Hello!\n\nYour registration for \"%s\" has been cancelled.", eventTitle)
	default:
		subject = "Registration update"
		body = fmt.Sprintf("Hello!\n\nYour registration for \"%s\" is now %s.", eventTitle, status)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		from, recipientEmail, subject, body,
	)

	auth := smtp.PlainAuth("", from, pass, host)
	if err := smtp.SendMail(host+":587", auth, from, []string{recipientEmail}, []byte(msg)); err != nil {
		log.Warn().Msgf("Failed to send email to %s: %v", recipientEmail, err)
		return fmt.Errorf("send email: %w", err)
	}

	log.Info().Msgf("Email sent to %s (status: %s)", recipientEmail, status)
	return nil
}
