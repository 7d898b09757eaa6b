// Package natsbus receives and publishes PubSub envelopes on NATS subjects.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
)

const contentTypeHeader = "Content-Type"

type Config struct {
	URL             string        `mapstructure:"url"`
	Subject         string        `mapstructure:"subject"`
	MetadataSubject string        `mapstructure:"metadata_subject"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Token           string        `mapstructure:"token"`
	ClientName      string        `mapstructure:"client_name"`
	MaxReconnects   int           `mapstructure:"max_reconnects"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ConnectRetries  int           `mapstructure:"connect_retries"`
}

// Subjects lists the data subject followed by the metadata subject when one is set.
func (c *Config) Subjects() []string {
	subjects := []string{c.Subject}
	if c.MetadataSubject != "" && c.MetadataSubject != c.Subject {
		subjects = append(subjects, c.MetadataSubject)
	}
	return subjects
}

func (c *Config) options(log *zap.Logger) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Warn("NATS async error", zap.String("subject", subject), zap.Error(err))
		}),
	}
	if c.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(c.ReconnectWait))
	}
	if c.Timeout > 0 {
		opts = append(opts, nats.Timeout(c.Timeout))
	}
	if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}
	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	}
	if c.ClientName != "" {
		opts = append(opts, nats.Name(c.ClientName))
	}
	return opts
}

// Connect dials the server with exponential backoff.
func Connect(ctx context.Context, cfg *Config, log *zap.Logger) (*nats.Conn, error) {
	log = logger.OrNamed(log, "nats")
	if cfg.URL == "" {
		return nil, errors.New("no NATS url configured")
	}
	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 5
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var conn *nats.Conn
	err := backoff.Retry(func() error {
		var err error
		conn, err = nats.Connect(cfg.URL, cfg.options(log)...)
		if err != nil {
			log.Warn("failed to connect to NATS", zap.String("url", cfg.URL), zap.Error(err))
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish NATS connection: %w", err)
	}
	log.Info("connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return conn, nil
}

// MessageHandler receives one message payload with its arrival time and content type.
type MessageHandler func(payload []byte, receivedAt time.Time, contentType string)

// Subscriber feeds every message on the configured subjects to a MessageHandler.
type Subscriber struct {
	config  Config
	handler MessageHandler
	log     *zap.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

func NewSubscriber(config Config, handler MessageHandler, log *zap.Logger) *Subscriber {
	return &Subscriber{
		config:  config,
		handler: handler,
		log:     logger.OrNamed(log, "nats-subscriber"),
	}
}

// Connected reports whether the underlying connection is up.
func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.IsConnected()
}

// Run connects, subscribes every subject and blocks until ctx is done, then drains.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.config.Subject == "" {
		return errors.New("no NATS subject configured")
	}
	conn, err := Connect(ctx, &s.config, s.log)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	for _, subject := range s.config.Subjects() {
		if _, err := conn.Subscribe(subject, s.handle); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.log.Info("subscribed", zap.String("subject", subject))
	}

	<-ctx.Done()
	if err := conn.Drain(); err != nil {
		s.log.Warn("error draining NATS connection", zap.Error(err))
		conn.Close()
	}
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	if s.handler == nil {
		return
	}
	s.handler(msg.Data, time.Now().UTC(), ContentType(msg))
}

// ContentType returns the message's Content-Type header, or "" when absent.
func ContentType(msg *nats.Msg) string {
	if msg == nil || msg.Header == nil {
		return ""
	}
	if v := msg.Header.Get(contentTypeHeader); v != "" {
		return v
	}
	for k, v := range msg.Header {
		if strings.EqualFold(k, contentTypeHeader) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Publisher sends payloads with a fixed Content-Type header.
type Publisher struct {
	conn        *nats.Conn
	contentType string
}

func NewPublisher(conn *nats.Conn, contentType string) *Publisher {
	return &Publisher{conn: conn, contentType: contentType}
}

// PublishMessage publishes payload on subject.
func (p *Publisher) PublishMessage(subject string, payload []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = payload
	if p.contentType != "" {
		msg.Header.Set(contentTypeHeader, p.contentType)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}
