package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"doccontrol/internal/model"
)

// KafkaSink mirrors audit entries to a Kafka topic as JSON, keyed by entry id.
type KafkaSink struct {
	client *kgo.Client
}

// NewKafkaSink connects a producer to the given seed brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka audit topic is required")
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("doccontrol-audit"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: cl}, nil
}

// Publish produces the entry and waits for the broker acknowledgement.
func (s *KafkaSink) Publish(ctx context.Context, entry model.AuditEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	rec := &kgo.Record{
		Key:   []byte(entry.ID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(entry.Action)},
		},
	}
	return s.client.ProduceSync(ctx, rec).FirstErr()
}

// Close releases the producer.
func (s *KafkaSink) Close() {
	s.client.Close()
}
