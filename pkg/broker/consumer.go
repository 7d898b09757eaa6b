package broker

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
)

// Handler processes one message received on topic.
type Handler func(topic string, message mqtt.Message) error

type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

// Subscription is one topic filter and its QoS.
type Subscription struct {
	Topic string
	QoS   byte
}

// Consumer subscribes a set of topics on a shared client.
type Consumer struct {
	client  mqtt.Client
	subs    []Subscription
	handler Handler
	log     *zap.Logger
}

func NewConsumer(client mqtt.Client, subs []Subscription, handler Handler, log *zap.Logger) *Consumer {
	return &Consumer{
		client:  client,
		subs:    subs,
		handler: handler,
		log:     logger.OrNamed(log, "mqtt-consumer"),
	}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

func (c *Consumer) callback(topic string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if c.handler == nil {
			c.log.Warn("no handler set", zap.String("topic", topic))
			return
		}
		if err := c.handler(topic, msg); err != nil {
			c.log.Warn("error handling message", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	}
}

// ConsumeMessage subscribes every topic and blocks until ctx is done, then
// unsubscribes. It fails fast when a subscription is refused.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	filters := make(map[string]byte, len(c.subs))
	for _, s := range c.subs {
		filters[s.Topic] = s.QoS
	}
	for _, s := range c.subs {
		token := c.client.Subscribe(s.Topic, s.QoS, c.callback(s.Topic))
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.Topic, err)
		}
		c.log.Info("subscribed", zap.String("topic", s.Topic), zap.Uint8("qos", s.QoS))
	}

	<-ctx.Done()

	topics := make([]string, 0, len(filters))
	for t := range filters {
		topics = append(topics, t)
	}
	if c.client.IsConnectionOpen() {
		c.client.Unsubscribe(topics...).Wait()
	}
	return nil
}
