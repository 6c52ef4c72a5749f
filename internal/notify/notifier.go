// Package notify turns outbox events into emails to the organization's
// support address. Delivery is best effort: the dispatcher marks an event
// dispatched once Handle returns nil, and a failed send keeps the event
// pending for the next pass.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowvane/creditdesk/internal/events"
	"github.com/flowvane/creditdesk/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Notifier struct {
	db    *gorm.DB
	log   *zap.Logger
	email email.Provider
}

func New(db *gorm.DB, log *zap.Logger, provider email.Provider) *Notifier {
	return &Notifier{
		db:    db,
		log:   log.Named("notify"),
		email: provider,
	}
}

func (n *Notifier) Handle(ctx context.Context, event events.OutboxEvent) error {
	subject, body := n.render(event)
	if subject == "" {
		// Not a customer-facing event type.
		return nil
	}

	to, err := n.recipient(ctx, event)
	if err != nil {
		return err
	}
	if to == "" {
		n.log.Info("no recipient for event",
			zap.String("event_type", event.EventType),
			zap.String("org_id", event.OrgID.String()),
		)
		return nil
	}

	return n.email.Send(ctx, []string{to}, subject, body)
}

func (n *Notifier) render(event events.OutboxEvent) (string, string) {
	switch event.EventType {
	case events.EventOrderPaid:
		return "Your credit purchase is confirmed",
			fmt.Sprintf("<p>Your purchase of <b>%s</b> is confirmed. %s minutes were added to your balance.</p>",
				event.PayloadString("bundle_name"), event.PayloadString("minutes"))
	case events.EventRenewalGranted:
		return "Your monthly hours have renewed",
			fmt.Sprintf("<p>%s minutes were added for the new billing period.</p>",
				event.PayloadString("minutes"))
	case events.EventWorkLogged:
		return "Work was logged against your balance",
			fmt.Sprintf("<p>%s minutes of %s work were logged against your balance.</p>",
				event.PayloadString("minutes"), event.PayloadString("category"))
	case events.EventLotExpired:
		return "Some of your credit hours expired",
			fmt.Sprintf("<p>%s unused minutes passed their expiry date and were written off.</p>",
				event.PayloadString("minutes_written_off"))
	case events.EventInviteCreated:
		return "You have been invited",
			fmt.Sprintf("<p>You have been invited to join an organization. Invite id: %s</p>",
				event.PayloadString("invite_id"))
	default:
		return "", ""
	}
}

func (n *Notifier) recipient(ctx context.Context, event events.OutboxEvent) (string, error) {
	if event.EventType == events.EventInviteCreated {
		return strings.TrimSpace(event.PayloadString("email")), nil
	}

	var row struct {
		SupportEmail string
	}
	err := n.db.WithContext(ctx).Raw(
		`SELECT support_email FROM organizations WHERE id = ?`,
		event.OrgID,
	).Scan(&row).Error
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(row.SupportEmail), nil
}

var Module = fx.Module("notify",
	fx.Provide(fx.Annotate(New, fx.As(new(events.Handler)))),
)
