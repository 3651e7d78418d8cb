package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"mellium.im/xmpp/jid"
)

// event is the wire record published per lifecycle change.
type event struct {
	Type string    `json:"type"`
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// KafkaSink publishes lifecycle events to a Kafka topic, keyed by the
// subscriber's bare address so per-pair ordering is preserved. Produce is
// asynchronous; a failed produce is logged and dropped.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	log    *slog.Logger
}

// NewKafkaSink connects to the given brokers.
func NewKafkaSink(brokers []string, topic string, log *slog.Logger) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &KafkaSink{client: client, topic: topic, log: log}, nil
}

func (s *KafkaSink) Subscribed(ctx context.Context, from, to jid.JID) {
	s.publish(ctx, "subscribed", from, to)
}

func (s *KafkaSink) Unsubscribed(ctx context.Context, from, to jid.JID) {
	s.publish(ctx, "unsubscribed", from, to)
}

func (s *KafkaSink) publish(ctx context.Context, typ string, from, to jid.JID) {
	payload, err := json.Marshal(event{
		Type: typ,
		From: from.Bare().String(),
		To:   to.Bare().String(),
		At:   time.Now().UTC(),
	})
	if err != nil {
		s.log.Error("event encode failed", "type", typ, "error", err)
		return
	}
	record := &kgo.Record{
		Key:   []byte(from.Bare().String()),
		Value: payload,
	}
	s.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			s.log.Warn("event publish failed", "type", typ, "error", err)
		}
	})
}

// Close flushes pending records and releases the client.
func (s *KafkaSink) Close(ctx context.Context) error {
	if err := s.client.Flush(ctx); err != nil {
		return err
	}
	s.client.Close()
	return nil
}
