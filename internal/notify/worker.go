package notify

import (
	"context"
	"fmt"
	"log/slog"

	"payrecon/internal/common/events"
	"payrecon/internal/common/nats"
)

// ConsumerName is the durable JetStream consumer the worker reads from.
const ConsumerName = "payrecon-notify"

// AlertSender delivers an alert to a Slack webhook.
type AlertSender interface {
	SendSlackAlert(ctx context.Context, webhook, text string) error
}

// Worker turns selected domain events into ops alerts.
type Worker struct {
	sender  AlertSender
	webhook string
	logger  *slog.Logger
}

// NewWorker creates a notification worker
func NewWorker(sender AlertSender, webhook string, logger *slog.Logger) *Worker {
	return &Worker{sender: sender, webhook: webhook, logger: logger}
}

// Subjects are the event subjects the worker consumes.
func Subjects() []string {
	return []string{
		nats.Subject(events.EventDisputeOpened),
		nats.Subject(events.EventSettlementOnHold),
		nats.Subject(events.EventWebhookFailed),
	}
}

// Run consumes events until ctx is done.
func (w *Worker) Run(ctx context.Context, client *nats.Client, stream string) error {
	consumer, err := client.EnsureEventConsumer(ctx, stream, ConsumerName, Subjects()...)
	if err != nil {
		return err
	}
	return client.Consume(ctx, consumer, w.Handle)
}

// Handle sends the alert for one event. Events the worker does not alert on
// are acknowledged without action.
func (w *Worker) Handle(ctx context.Context, event *events.Event) error {
	text, err := alertText(event)
	if err != nil {
		w.logger.Warn("dropping undecodable event", "event_id", event.ID, "type", event.Type, "error", err)
		return nil
	}
	if text == "" {
		return nil
	}

	if err := w.sender.SendSlackAlert(ctx, w.webhook, text); err != nil {
		return fmt.Errorf("slack alert for %s: %w", event.Type, err)
	}
	w.logger.Info("alert sent", "event_id", event.ID, "type", event.Type)
	return nil
}

func alertText(event *events.Event) (string, error) {
	switch event.Type {
	case events.EventDisputeOpened:
		var d events.DisputeChangedData
		if err := event.DecodeData(&d); err != nil {
			return "", err
		}
		return fmt.Sprintf(":warning: Dispute %s opened on settlement %s by %s (%s): %s",
			d.DisputeID, d.SettlementID, d.ActorID, d.ActorRole, d.Reason), nil

	case events.EventSettlementOnHold:
		var d events.SettlementChangedData
		if err := event.DecodeData(&d); err != nil {
			return "", err
		}
		text := fmt.Sprintf(":pause_button: Settlement %s for partner %s put on hold by %s",
			d.SettlementID, d.PartnerID, d.ActorID)
		if d.Remark != "" {
			text += ": " + d.Remark
		}
		return text, nil

	case events.EventWebhookFailed:
		var d events.WebhookFailedData
		if err := event.DecodeData(&d); err != nil {
			return "", err
		}
		return fmt.Sprintf(":rotating_light: Gateway webhook %s (%s) failed after %d attempts: %s",
			d.EventID, d.EventType, d.Attempts, d.Error), nil
	}
	return "", nil
}
