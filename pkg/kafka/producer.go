package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
)

// Publisher writes payloads to Kafka with a fixed Content-Type header.
type Publisher struct {
	producer    sarama.SyncProducer
	contentType string
	log         *zap.Logger
}

// NewPublisher connects a synchronous producer with exponential backoff.
func NewPublisher(ctx context.Context, config Config, contentType string, log *zap.Logger) (*Publisher, error) {
	log = logger.OrNamed(log, "kafka-producer")
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	cfg := newSaramaConfig(&config)
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	retries := config.ConnectRetries
	if retries <= 0 {
		retries = 5
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute

	var producer sarama.SyncProducer
	err := backoff.Retry(func() error {
		var err error
		producer, err = sarama.NewSyncProducer(config.Brokers, cfg)
		if err != nil {
			log.Warn("failed to connect to Kafka", zap.Strings("brokers", config.Brokers), zap.Error(err))
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish Kafka connection: %w", err)
	}
	log.Info("connected Kafka producer", zap.Strings("brokers", config.Brokers))
	return newPublisher(producer, contentType, log), nil
}

func newPublisher(producer sarama.SyncProducer, contentType string, log *zap.Logger) *Publisher {
	return &Publisher{producer: producer, contentType: contentType, log: logger.OrNamed(log, "kafka-producer")}
}

// PublishMessage sends payload to topic and waits for the broker acknowledgement.
func (p *Publisher) PublishMessage(topic string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now().UTC(),
	}
	if p.contentType != "" {
		msg.Headers = []sarama.RecordHeader{{Key: []byte(contentTypeHeader), Value: []byte(p.contentType)}}
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	p.log.Debug("published Kafka message",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *Publisher) Close() {
	if err := p.producer.Close(); err != nil {
		p.log.Warn("error closing Kafka producer", zap.Error(err))
	}
}
