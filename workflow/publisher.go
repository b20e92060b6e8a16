package workflow

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/config"
	"github.com/mmdatafocus/freight_backend/utils"
	"github.com/sirupsen/logrus"
)

// Publisher fans committed audit entries out to downstream consumers. It is
// called after the commit and must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, entries []audit.Entry)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, []audit.Entry) {}

const publishTimeout = 10 * time.Second

// PubSubPublisher sends each entry as one Pub/Sub message. Delivery results
// are checked in the background and failures are only logged.
type PubSubPublisher struct {
	topic  *pubsub.Topic
	logger *logrus.Logger
}

func NewPubSubPublisher(client *pubsub.Client, topicID string) *PubSubPublisher {
	return &PubSubPublisher{topic: client.Topic(topicID), logger: config.GetLogger()}
}

func (p *PubSubPublisher) Publish(ctx context.Context, entries []audit.Entry) {
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			config.LogError(p.logger, "workflow", "PubSubPublisher.Publish", "marshal entry", e.ID, err)
			continue
		}
		attrs := map[string]string{
			"event_type":  string(e.EventType),
			"entity_type": string(e.EntityType),
			"entity_id":   e.EntityID,
		}
		if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && cid != "" {
			attrs["correlation_id"] = cid
		}
		res := p.topic.Publish(context.WithoutCancel(ctx), &pubsub.Message{
			Data:       data,
			Attributes: attrs,
		})
		go func(id string) {
			gctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if _, err := res.Get(gctx); err != nil {
				config.LogError(p.logger, "workflow", "PubSubPublisher.Publish", "publish result", id, err)
			}
		}(e.ID)
	}
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}
