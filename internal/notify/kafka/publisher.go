// Package kafka publishes punishment lifecycle notifications to a Kafka
// topic, keyed by serialized subject so one subject's records stay ordered.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"warden/internal/platform/config"
	"warden/internal/punishment/events"
)

// Record is the JSON value of every published message.
type Record struct {
	Action     string `json:"action"`
	Type       string `json:"type"`
	Subject    string `json:"subject"`
	Operator   string `json:"operator"`
	Reason     string `json:"reason"`
	Date       int64  `json:"date"`
	Expiration int64  `json:"expiration"`
	Automatic  bool   `json:"automatic"`
}

// NewRecord flattens a post-action event.
func NewRecord(ev events.Event) Record {
	p := ev.Punishment
	return Record{
		Action:     string(ev.Action),
		Type:       string(p.Type),
		Subject:    p.Subject.String(),
		Operator:   p.Operator.String(),
		Reason:     p.Reason,
		Date:       p.DateMillis(),
		Expiration: p.ExpirationMillis(),
		Automatic:  ev.Automatic,
	}
}

// producer is the part of *kgo.Client the publisher uses.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

type Publisher struct {
	client producer
	admin  *kadm.Client
	topic  string
	logger *slog.Logger
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New connects a producer for cfg. It does not contact the brokers until
// the first record or EnsureTopic.
func New(cfg config.Kafka, opts ...Option) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression(), kgo.NoCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	p := newPublisher(client, cfg.Topic, opts...)
	p.admin = kadm.NewClient(client)
	return p, nil
}

func newPublisher(client producer, topic string, opts ...Option) *Publisher {
	p := &Publisher{client: client, topic: topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureTopic creates the topic with one partition per broker default when
// it does not exist yet.
func (p *Publisher) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	if p.admin == nil {
		return nil
	}
	resp, err := p.admin.CreateTopic(ctx, partitions, replication, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", p.topic, resp.Err)
	}
	return nil
}

// OnPost is a post-action listener. Delivery is asynchronous; failures are
// logged.
func (p *Publisher) OnPost(ctx context.Context, ev events.Event) {
	rec := NewRecord(ev)
	value, err := json.Marshal(rec)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode lifecycle record", "error", err)
		return
	}
	p.client.Produce(ctx, &kgo.Record{Topic: p.topic, Key: []byte(rec.Subject), Value: value},
		func(r *kgo.Record, err error) {
			if err != nil {
				p.logger.Error("failed to publish lifecycle record",
					"topic", r.Topic, "subject", string(r.Key), "action", rec.Action, "error", err)
			}
		})
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
