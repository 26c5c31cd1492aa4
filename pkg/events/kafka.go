package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/chris/p2p-escrow-ledger/pkg/metrics"
)

// KafkaEmitter publishes events as JSON to one topic, keyed by Event.Key.
type KafkaEmitter struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewKafkaProducer dials the brokers with idempotent, fully acknowledged writes.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

func NewKafkaEmitter(producer sarama.SyncProducer, topic string, logger *slog.Logger, m *metrics.Metrics) *KafkaEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaEmitter{producer: producer, topic: topic, logger: logger, metrics: m}
}

func (k *KafkaEmitter) Emit(ctx context.Context, evt Event) {
	if ctx.Err() != nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		k.logger.Error("marshal event failed", "type", evt.Type, "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(evt.Key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(evt.Type)},
		},
	}

	start := time.Now()
	_, _, err = k.producer.SendMessage(msg)
	k.metrics.ObservePublish(k.topic, err, time.Since(start))
	if err != nil {
		k.logger.Error("kafka publish failed", "topic", k.topic, "type", evt.Type, "key", evt.Key, "error", err)
	}
}

func (k *KafkaEmitter) Close() error {
	if k.producer == nil {
		return nil
	}
	return k.producer.Close()
}
