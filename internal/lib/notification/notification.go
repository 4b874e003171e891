package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/models"
)

const PurposeAccountCreated = "account_created"

const publishTimeout = 5 * time.Second

type Publisher interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

// Notifier turns account events into broker messages. Publishing is best
// effort: failures are logged and never reach the caller.
type Notifier struct {
	log *slog.Logger
	pub Publisher
}

func New(log *slog.Logger, pub Publisher) *Notifier {
	return &Notifier{log: log, pub: pub}
}

func (n *Notifier) AccountCreated(ctx context.Context, user models.User) {
	const op = "notification.AccountCreated"

	if n.pub == nil {
		return
	}

	// * the request may finish before the broker answers
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	msg := AccountCreatedMessage(user)

	if err := n.pub.SendMessage(ctx, msg); err != nil {
		n.log.Error("failed to publish notification",
			slog.String("op", op),
			slog.String("uid", user.ID),
			sl.Err(err),
		)
		return
	}

	n.log.Debug("notification published", slog.String("op", op), slog.String("uid", user.ID))
}

func AccountCreatedMessage(user models.User) models.Message {
	name := user.Name
	if name == "" {
		name = user.Email
	}

	return models.Message{
		Email:   user.Email,
		Name:    name,
		Subject: "Welcome to the studio",
		Body: fmt.Sprintf(
			"Hi %s,\n\nyour account has been created. You can now book sessions and manage them from your profile.\n",
			name,
		),
		Purpose: PurposeAccountCreated,
	}
}
