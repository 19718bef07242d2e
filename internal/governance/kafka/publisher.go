// Package kafka mirrors deletion audit rows to a compliance topic so
// external retention tooling sees every governance action as it happens.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"commhub/internal/governance/models"
)

type Publisher struct {
	client *kgo.Client
	topic  string
	log    *slog.Logger
}

// NewPublisher connects to the brokers and returns a publisher for the
// given topic. Returns nil when no brokers are configured; governance
// treats a nil publisher as "no mirror".
func NewPublisher(brokers []string, topic string, log *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Publisher{client: client, topic: topic, log: log}, nil
}

// PublishAudit sends one audit row. The entity id keys the record so all
// actions on an entity land in one partition, in order.
func (p *Publisher) PublishAudit(ctx context.Context, a *models.DeletionAudit) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal audit row: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(a.EntityID),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit row: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Close()
}
