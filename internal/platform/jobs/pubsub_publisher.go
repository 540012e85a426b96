package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/cartledger/api/internal/services"
)

// PubSubRepairPublisher publishes cart reconciliation repair jobs to a Pub/Sub topic.
type PubSubRepairPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubRepairPublisher constructs a Pub/Sub backed repair job publisher.
func NewPubSubRepairPublisher(topic *pubsub.Topic) (*PubSubRepairPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub repair publisher: topic is required")
	}
	return &PubSubRepairPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishRepairJob enqueues a reconciliation repair message on the configured topic.
func (p *PubSubRepairPublisher) PublishRepairJob(ctx context.Context, message services.ReconcileRepairMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub repair publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal repair job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "cartId", message.CartID)
	setAttr(attrs, "shopId", message.ShopID)
	setAttr(attrs, "reason", message.Reason)
	if len(message.PendingSteps) > 0 {
		attrs["pendingSteps"] = strings.Join(message.PendingSteps, ",")
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish repair job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
