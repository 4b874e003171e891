package mailer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/models"

	"gopkg.in/gomail.v2"
)

var ErrNoRecipient = errors.New("message has no recipient")

type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (m *Mailer) Send(msg models.Message) error {
	const op = "mailer.Send"

	gm := gomail.NewMessage()
	gm.SetHeader("To", msg.Email)
	gm.SetHeader("From", m.From)
	gm.SetHeader("Subject", msg.Subject)

	gm.SetBody("text/plain", msg.Body)

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	if err := dialer.DialAndSend(gm); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

type Sender interface {
	Send(msg models.Message) error
}

// Handler decodes broker payloads and hands them to a Sender.
type Handler struct {
	log    *slog.Logger
	sender Sender
}

func NewHandler(log *slog.Logger, sender Sender) *Handler {
	return &Handler{log: log, sender: sender}
}

func (h *Handler) Handle(body []byte) error {
	const op = "mailer.Handle"

	log := h.log.With(slog.String("op", op))

	var msg models.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error("failed to unmarshal message", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if msg.Email == "" {
		log.Warn("dropping message without recipient", slog.String("purpose", msg.Purpose))
		return ErrNoRecipient
	}

	if err := h.sender.Send(msg); err != nil {
		log.Error("failed to send message", sl.Err(err))
		return err
	}

	log.Info("message sent successfully", slog.String("purpose", msg.Purpose))

	return nil
}
