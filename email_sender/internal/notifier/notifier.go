package notifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	sl "email_sender/internal/lib/logger"
	"email_sender/internal/models"
)

var ErrMalformed = errors.New("malformed message")

type Sender interface {
	Send(to, subject, body string) error
}

type Notifier struct {
	log    *slog.Logger
	sender Sender
}

func New(log *slog.Logger, sender Sender) *Notifier {
	return &Notifier{log: log, sender: sender}
}

// Handle decodes one queue message and mails it. Malformed messages are rejected without retry.
func (n *Notifier) Handle(body []byte) error {
	const op = "notifier.Handle"

	log := n.log.With(slog.String("op", op))

	var msg models.EmailMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error("failed to unmarshal message", sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, ErrMalformed, err)
	}

	if msg.Email == "" {
		log.Error("message has no recipient")
		return fmt.Errorf("%s: %w: empty recipient", op, ErrMalformed)
	}

	subject := msg.Subject
	if subject == "" && msg.Purpose == models.PurposeReferralRedeemed {
		subject = "New referral"
	}

	if err := n.sender.Send(msg.Email, subject, msg.Body); err != nil {
		log.Error("failed to send message", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("message sent successfully", slog.String("purpose", msg.Purpose))

	return nil
}
