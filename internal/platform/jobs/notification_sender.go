package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

// NotificationMessage is the Pub/Sub payload consumed by the mail worker.
type NotificationMessage struct {
	Kind           domain.NotificationKind `json:"kind"`
	Recipient      string                  `json:"recipient"`
	Order          services.OrderSnapshot  `json:"order"`
	IdempotencyKey string                  `json:"idempotencyKey"`
}

var notificationKeyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("notifications"))

// PubSubNotificationSender publishes order notifications to a Pub/Sub topic.
type PubSubNotificationSender struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.NotificationSender = (*PubSubNotificationSender)(nil)

// NewPubSubNotificationSender constructs a Pub/Sub backed notification sender.
func NewPubSubNotificationSender(topic *pubsub.Topic) (*PubSubNotificationSender, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification sender: topic is required")
	}
	return &PubSubNotificationSender{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// NotificationKey is stable per order and kind so the worker can drop duplicate publishes.
func NotificationKey(orderID string, kind domain.NotificationKind) string {
	return uuid.NewSHA1(notificationKeyNamespace, []byte(orderID+"/"+string(kind))).String()
}

// Send publishes one notification and returns the Pub/Sub message id.
func (p *PubSubNotificationSender) Send(ctx context.Context, kind domain.NotificationKind, recipient string, order services.OrderSnapshot) (services.SendResult, error) {
	if p == nil || p.topic == nil {
		return services.SendResult{}, errors.New("pubsub notification sender: not initialised")
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return services.SendResult{}, errors.New("pubsub notification sender: recipient is required")
	}

	message := NotificationMessage{
		Kind:           kind,
		Recipient:      recipient,
		Order:          order,
		IdempotencyKey: NotificationKey(order.OrderID, kind),
	}
	data, err := p.marshal(message)
	if err != nil {
		return services.SendResult{}, fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", string(kind))
	setAttr(attrs, "orderId", order.OrderID)
	setAttr(attrs, "orderNumber", order.OrderNumber)
	setAttr(attrs, "idempotencyKey", message.IdempotencyKey)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return services.SendResult{}, fmt.Errorf("publish notification: %w", err)
	}
	return services.SendResult{MessageID: id}, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
