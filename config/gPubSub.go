package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubPublisher publishes ledger events to one topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubPublisher uses Application Default Credentials unless CredentialsJSON is set.
func NewPubSubPublisher(ctx context.Context, s PubSubSettings) (*PubSubPublisher, error) {
	if s.ProjectId == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID not set")
	}
	if s.Topic == "" {
		return nil, errors.New("PUBSUB_TOPIC is required")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if s.CredentialsJSON != "" {
		c, err = pubsub.NewClient(ctx, s.ProjectId, option.WithCredentialsJSON([]byte(s.CredentialsJSON)))
	} else {
		c, err = pubsub.NewClient(ctx, s.ProjectId)
	}
	if err != nil {
		return nil, fmt.Errorf("init pubsub client (project_id=%s): %w", s.ProjectId, err)
	}

	t, err := CreateTopicIfNotExists(ctx, c, s.Topic)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	log.Printf("pubsub publisher ready (project_id=%s topic=%s)", s.ProjectId, s.Topic)
	return &PubSubPublisher{client: c, topic: t}, nil
}

func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// Publish returns the Pub/Sub server-assigned message ID.
func (p *PubSubPublisher) Publish(ctx context.Context, msg models.LedgerEventMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"share_id":         fmt.Sprint(msg.ShareId),
			"transaction_type": string(msg.TransactionType),
			"correlation_id":   msg.CorrelationId,
		},
	})
	return result.Get(ctx)
}

func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
