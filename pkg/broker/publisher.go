package broker

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type IPublisher interface {
	PublishMessage(topic string, payload []byte) error
	Close()
}

type Publisher struct {
	client   mqtt.Client
	qos      byte
	retained bool
}

func NewPublisher(client mqtt.Client, qos byte, retained bool) *Publisher {
	return &Publisher{client: client, qos: qos, retained: retained}
}

// PublishMessage publishes payload and waits for the broker acknowledgement.
func (p *Publisher) PublishMessage(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, p.retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() {
	CloseMQTTConn(p.client)
}
