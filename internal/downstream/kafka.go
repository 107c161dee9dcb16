package downstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaNotifier publishes notifications with franz-go. Records are produced
// asynchronously; delivery failures are logged and dropped, never surfaced
// to the caller.
type KafkaNotifier struct {
	client *kgo.Client
	logger *slog.Logger
}

type KafkaOption func(n *KafkaNotifier)

func WithLogger(logger *slog.Logger) KafkaOption {
	return func(n *KafkaNotifier) { n.logger = logger }
}

// NewKafkaNotifier connects a producer to the given brokers.
func NewKafkaNotifier(brokers []string, opts ...KafkaOption) (*KafkaNotifier, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("proveniq-ops"),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	n := &KafkaNotifier{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *KafkaNotifier) TierChanged(ctx context.Context, note TierChange) {
	n.produce(ctx, TopicTierChanged, note.AssetID, note)
}

func (n *KafkaNotifier) AttestationIssued(ctx context.Context, note AttestationIssued) {
	n.produce(ctx, TopicAttestationIssued, note.AssetID, note)
}

func (n *KafkaNotifier) produce(ctx context.Context, topic, key string, note any) {
	value, err := json.Marshal(note)
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to marshal notification",
			"topic", topic, "error", err)
		return
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	n.client.Produce(ctx, record, func(record *kgo.Record, err error) {
		if err != nil {
			n.logger.WarnContext(ctx, "notification delivery failed",
				"topic", record.Topic, "error", err)
		}
	})
}

// Close flushes buffered records and releases the producer.
func (n *KafkaNotifier) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.client.Flush(ctx); err != nil {
		n.logger.Warn("failed to flush notifications on shutdown", "error", err)
	}
	n.client.Close()
}
