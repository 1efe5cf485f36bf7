package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

func TestPubSubNotificationSenderPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	sender, err := NewPubSubNotificationSender(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotificationSender: %v", err)
	}

	snapshot := services.OrderSnapshot{OrderID: "01J0000000000000000000000A", OrderNumber: "ORD-20250101-000001", Total: "253.40"}
	result, err := sender.Send(ctx, domain.NotificationCustomerConfirmation, "buyer@example.com", snapshot)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.MessageID == "" {
		t.Fatalf("expected message id")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload NotificationMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Recipient != "buyer@example.com" || payload.Order.OrderNumber != snapshot.OrderNumber {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["kind"] != string(domain.NotificationCustomerConfirmation) || attrs["orderId"] != snapshot.OrderID {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	if attrs["idempotencyKey"] != NotificationKey(snapshot.OrderID, domain.NotificationCustomerConfirmation) {
		t.Fatalf("expected stable idempotency key, got %q", attrs["idempotencyKey"])
	}
}

func TestNotificationKeyDiffersPerKind(t *testing.T) {
	a := NotificationKey("order-1", domain.NotificationCustomerConfirmation)
	b := NotificationKey("order-1", domain.NotificationInternalNewOrder)
	if a == b || a != NotificationKey("order-1", domain.NotificationCustomerConfirmation) {
		t.Fatalf("unexpected keys %s %s", a, b)
	}
}

func TestPubSubNotificationSenderRequiresTopic(t *testing.T) {
	if _, err := NewPubSubNotificationSender(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
