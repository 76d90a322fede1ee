package reviewqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/paycore/pkg/db/models"
)

const (
	eventTypeReviewOpened = "payment.review_opened"
	publishTimeout        = 10 * time.Second
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubNotifier publishes review_opened events to a Pub/Sub topic.
type PubSubNotifier struct {
	pub publisher
}

// NewPubSubNotifier wraps a Pub/Sub publisher. A nil publisher yields a nil notifier.
func NewPubSubNotifier(p *gcppubsub.Publisher) *PubSubNotifier {
	if p == nil {
		return nil
	}
	return &PubSubNotifier{pub: &gcpPublisher{Publisher: p}}
}

type reviewOpenedEvent struct {
	EntryID   string          `json:"entryId"`
	IntentID  *string         `json:"intentId,omitempty"`
	Reason    string          `json:"reason"`
	DedupeKey string          `json:"dedupeKey"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ReviewOpened publishes the entry and waits for the server ack.
func (n *PubSubNotifier) ReviewOpened(ctx context.Context, entry models.ManualReviewEntry) error {
	if n == nil || n.pub == nil {
		return nil
	}
	event := reviewOpenedEvent{
		EntryID:   entry.ID.String(),
		Reason:    string(entry.Reason),
		DedupeKey: entry.DedupeKey,
		Details:   entry.Details,
		CreatedAt: entry.CreatedAt,
	}
	if entry.IntentID != nil {
		id := entry.IntentID.String()
		event.IntentID = &id
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	result := n.pub.Publish(publishCtx, &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_type": eventTypeReviewOpened,
			"reason":     string(entry.Reason),
		},
	})
	if result == nil {
		return errors.New("publish result is nil")
	}
	_, err = result.Get(publishCtx)
	return err
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
