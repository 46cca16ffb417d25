// Package relay streams committed audit entries to Kafka for the SIEM
// pipeline. The durable audit_log row is the source of truth; the relay is an
// export, so it may lag or drop under pressure without affecting commands.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"shadowgate/internal/audit"
	"shadowgate/internal/platform/config"
)

// Relay consumes audit entries from a channel and produces them to Kafka.
type Relay struct {
	client *kgo.Client
	topic  string
	inbox  <-chan audit.Entry
	logger *slog.Logger
}

// New connects to the brokers and ensures the audit topic exists.
// Returns nil if no brokers are configured (export disabled).
func New(cfg config.KafkaConfig, inbox <-chan audit.Entry, logger *slog.Logger) (*Relay, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	if err := ensureTopic(client, cfg.Topic); err != nil {
		client.Close()
		return nil, err
	}

	return &Relay{client: client, topic: cfg.Topic, inbox: inbox, logger: logger}, nil
}

func ensureTopic(client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	ctx := context.Background()

	topics, err := adm.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list kafka topics: %w", err)
	}
	if topics.Has(topic) {
		return nil
	}

	if _, err := adm.CreateTopic(ctx, 3, 1, nil, topic); err != nil {
		return fmt.Errorf("create kafka topic %q: %w", topic, err)
	}
	return nil
}

// Run drains the inbox until ctx is canceled. Produce failures are logged and
// the entry dropped; the durable row already exists.
func (r *Relay) Run(ctx context.Context) error {
	defer r.client.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-r.inbox:
			r.produce(ctx, entry)
		}
	}
}

func (r *Relay) produce(ctx context.Context, entry audit.Entry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		r.logger.Warn("audit export marshal failed", "entry_id", entry.ID, "error", err)
		return
	}

	record := &kgo.Record{
		Topic: r.topic,
		Key:   []byte(entry.UserID),
		Value: payload,
	}
	r.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			r.logger.Warn("audit export produce failed",
				"entry_id", entry.ID,
				"action", entry.Action,
				"error", err,
			)
		}
	})
}
