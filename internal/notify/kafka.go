package notify

import (
	"context"
	"fmt"
	"time"

	"pos-service/internal/models"

	"github.com/google/uuid"
)

// EventProducer publishes a keyed event; broker.Producer satisfies it
type EventProducer interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// KafkaSMSNotifier hands SMS requests to the gateway topic. Delivery and
// retries are the gateway's job.
type KafkaSMSNotifier struct {
	producer EventProducer
}

func NewKafkaSMSNotifier(producer EventProducer) *KafkaSMSNotifier {
	return &KafkaSMSNotifier{producer: producer}
}

func (n *KafkaSMSNotifier) Notify(ctx context.Context, phoneNumber, message string) error {
	event := &models.SMSRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSMSRequested,
			Timestamp: time.Now().UTC(),
		},
		PhoneNumber: phoneNumber,
		Message:     message,
	}

	if err := n.producer.PublishEvent(ctx, phoneNumber, event); err != nil {
		return fmt.Errorf("failed to request sms: %w", err)
	}
	return nil
}
