package workers

import (
	"context"

	"quest-progress-engine/models"
	"quest-progress-engine/services"
	"quest-progress-engine/utils"

	"go.uber.org/zap"
)

// Publisher hands one message to the broker. utils.RabbitMQPublisher satisfies it.
type Publisher interface {
	Publish(routingKey, messageID string, data interface{}) error
}

// NotificationMessage is the body consumers receive
type NotificationMessage struct {
	ID      string                  `json:"id"`
	UserID  string                  `json:"user_id"`
	Kind    models.NotificationKind `json:"kind"`
	Title   string                  `json:"title"`
	Body    string                  `json:"body"`
	Payload map[string]interface{}  `json:"payload,omitempty"`
	At      string                  `json:"created_at"`
}

// NotificationDispatcher drains the outbox into the broker
type NotificationDispatcher struct {
	Notifications *services.NotificationService
	Publisher     Publisher
	RoutingPrefix string
	BatchSize     int
	MaxAttempts   int
}

func NewNotificationDispatcher(ns *services.NotificationService, pub Publisher, routingPrefix string, batch, maxAttempts int) *NotificationDispatcher {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &NotificationDispatcher{
		Notifications: ns,
		Publisher:     pub,
		RoutingPrefix: routingPrefix,
		BatchSize:     batch,
		MaxAttempts:   maxAttempts,
	}
}

// DispatchOnce publishes one batch and returns how many intents went out.
// A failed publish is recorded on the intent and retried next round.
func (d *NotificationDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	intents, err := d.Notifications.Pending(d.BatchSize, d.MaxAttempts)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, n := range intents {
		if ctx.Err() != nil {
			break
		}
		msg := NotificationMessage{
			ID:      n.ID,
			UserID:  n.UserID,
			Kind:    n.Kind,
			Title:   n.Title,
			Body:    n.Body,
			Payload: n.Payload,
			At:      n.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		if err := d.Publisher.Publish(d.routingKey(n.Kind), n.ID, msg); err != nil {
			utils.Logger.Warn("notification publish failed",
				zap.String("intent_id", n.ID), zap.Int("attempt", n.Attempts+1), zap.Error(err))
			if markErr := d.Notifications.MarkFailed(n.ID, err); markErr != nil {
				utils.Logger.Error("mark notification failed", zap.String("intent_id", n.ID), zap.Error(markErr))
			}
			continue
		}
		if err := d.Notifications.MarkDispatched(n.ID); err != nil {
			// consumers dedupe on message id; a re-send after this is harmless
			utils.Logger.Error("mark notification dispatched", zap.String("intent_id", n.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *NotificationDispatcher) routingKey(kind models.NotificationKind) string {
	if d.RoutingPrefix == "" {
		return string(kind)
	}
	return d.RoutingPrefix + "." + string(kind)
}

// LogPublisher stands in for the broker when MQ_URL is unset.
type LogPublisher struct{}

func (LogPublisher) Publish(routingKey, messageID string, data interface{}) error {
	utils.Logger.Info("notification", zap.String("routing_key", routingKey), zap.String("id", messageID), zap.Any("message", data))
	return nil
}
