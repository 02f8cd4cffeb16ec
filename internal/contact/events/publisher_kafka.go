package events

import (
	"context"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the slice of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher produces events keyed by primary contact id, so every event
// of one identity lands on the same partition in order.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, batch []Event) error {
	records := make([]*kgo.Record, 0, len(batch))
	for _, e := range batch {
		records = append(records, toRecord(p.topic, e))
	}
	if err := p.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce contact events: %w", err)
	}
	return nil
}

func toRecord(topic string, e Event) *kgo.Record {
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(e.PrimaryContactID, 10)),
		Value: e.Payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_id", Value: []byte(e.ID.String())},
			{Key: "event_type", Value: []byte(e.Type)},
		},
		Timestamp: e.CreatedAt,
	}
}
