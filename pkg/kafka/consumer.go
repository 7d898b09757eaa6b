// Package kafka moves PubSub envelopes through Kafka topics with sarama.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
)

const (
	DefaultGroupID     = "consumer-group"
	DefaultContentType = "application/json"
	contentTypeHeader  = "Content-Type"
)

type Config struct {
	Brokers       []string `mapstructure:"brokers"`
	GroupID       string   `mapstructure:"group_id"`
	Topic         string   `mapstructure:"topic"`
	MetadataTopic string   `mapstructure:"metadata_topic"`
	// AutoOffsetReset is "earliest" or "latest".
	AutoOffsetReset    string `mapstructure:"auto_offset_reset"`
	SecurityProtocol   string `mapstructure:"security_protocol"` // PLAINTEXT, SSL, SASL_PLAINTEXT, SASL_SSL
	SASLMechanism      string `mapstructure:"sasl_mechanism"`
	SASLUsername       string `mapstructure:"sasl_username"`
	SASLPassword       string `mapstructure:"sasl_password"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	ConnectRetries     int    `mapstructure:"connect_retries"`
}

// Topics lists the data topic followed by the metadata topic when one is set.
func (c *Config) Topics() []string {
	topics := []string{c.Topic}
	if c.MetadataTopic != "" && c.MetadataTopic != c.Topic {
		topics = append(topics, c.MetadataTopic)
	}
	return topics
}

// MessageHandler receives one record value with its broker timestamp and content type.
type MessageHandler func(payload []byte, receivedAt time.Time, contentType string)

// Consumer is a sarama.ConsumerGroupHandler that feeds every record to a MessageHandler.
type Consumer struct {
	config  Config
	handler MessageHandler
	log     *zap.Logger

	client sarama.Client
	group  sarama.ConsumerGroup
	ready  atomic.Bool
}

func NewConsumer(config Config, handler MessageHandler, log *zap.Logger) *Consumer {
	if config.GroupID == "" {
		config.GroupID = DefaultGroupID
	}
	return &Consumer{
		config:  config,
		handler: handler,
		log:     logger.OrNamed(log, "kafka-consumer"),
	}
}

// Connected reports whether the consumer group is currently joined.
func (kc *Consumer) Connected() bool {
	return kc.ready.Load()
}

// Run connects to the cluster and consumes until ctx is done.
func (kc *Consumer) Run(ctx context.Context) error {
	if len(kc.config.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	if kc.config.Topic == "" {
		return errors.New("no kafka topic configured")
	}
	if err := kc.connect(ctx); err != nil {
		return err
	}
	defer kc.close()

	topics := kc.config.Topics()
	kc.log.Info("subscribed to Kafka topics",
		zap.Strings("topics", topics),
		zap.String("consumer_group", kc.config.GroupID))

	for {
		if err := kc.group.Consume(ctx, topics, kc); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			kc.log.Error("consumer group error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (kc *Consumer) connect(ctx context.Context) error {
	retries := kc.config.ConnectRetries
	if retries <= 0 {
		retries = 5
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute

	cfg := kc.buildSaramaConfig()
	err := backoff.Retry(func() error {
		client, err := sarama.NewClient(kc.config.Brokers, cfg)
		if err != nil {
			kc.log.Warn("failed to connect to Kafka", zap.Strings("brokers", kc.config.Brokers), zap.Error(err))
			return err
		}
		group, err := sarama.NewConsumerGroupFromClient(kc.config.GroupID, client)
		if err != nil {
			_ = client.Close()
			return backoff.Permanent(fmt.Errorf("failed to create consumer group: %w", err))
		}
		kc.client, kc.group = client, group
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return fmt.Errorf("could not establish Kafka connection: %w", err)
	}
	return nil
}

func (kc *Consumer) close() {
	kc.ready.Store(false)
	if kc.group != nil {
		if err := kc.group.Close(); err != nil {
			kc.log.Warn("error closing consumer group", zap.Error(err))
		}
	}
	if kc.client != nil && !kc.client.Closed() {
		_ = kc.client.Close()
	}
	kc.log.Info("Kafka consumer closed")
}

func (kc *Consumer) buildSaramaConfig() *sarama.Config {
	config := newSaramaConfig(&kc.config)

	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Return.Errors = true

	switch strings.ToLower(kc.config.AutoOffsetReset) {
	case "latest":
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	return config
}

// newSaramaConfig builds the client settings shared by consumers and producers.
func newSaramaConfig(c *Config) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "uadashboard"
	config.Version = sarama.V2_1_0_0

	protocol := strings.ToUpper(c.SecurityProtocol)
	if protocol == "SASL_SSL" || protocol == "SSL" {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // operator opt-in
		}
	}

	if c.SASLMechanism != "" || strings.HasPrefix(protocol, "SASL") {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = c.SASLUsername
		config.Net.SASL.Password = c.SASLPassword

		switch strings.ToUpper(c.SASLMechanism) {
		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	return config
}

// Setup implements sarama.ConsumerGroupHandler
func (kc *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	kc.ready.Store(true)
	kc.log.Debug("consumer group session started", zap.String("member", session.MemberID()))
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler
func (kc *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	kc.ready.Store(false)
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler
func (kc *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			kc.processMessage(session, message)
		case <-session.Context().Done():
			return nil
		}
	}
}

func (kc *Consumer) processMessage(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) {
	receivedAt := message.Timestamp.UTC()
	if message.Timestamp.IsZero() {
		receivedAt = time.Now().UTC()
	}
	if kc.handler != nil {
		kc.handler(message.Value, receivedAt, ContentType(message.Headers))
	}
	session.MarkMessage(message, "")

	kc.log.Debug("processed Kafka message",
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset))
}

// ContentType returns the record's Content-Type header, or DefaultContentType.
func ContentType(headers []*sarama.RecordHeader) string {
	for _, h := range headers {
		if h == nil || !strings.EqualFold(string(h.Key), contentTypeHeader) {
			continue
		}
		if v := strings.TrimSpace(string(h.Value)); v != "" {
			return v
		}
	}
	return DefaultContentType
}
