package ingest

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/pkg/broker"
	"github.com/LeonardoBeccarini/uadashboard/pkg/dedup"
	"github.com/LeonardoBeccarini/uadashboard/pkg/metrics"
)

const (
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"
	TransportNATS  = "nats"
)

// NewMQTTHandler feeds MQTT messages to p. MQTT 3.1.1 carries no content
// type, so the decoder sniffs the format. A QoS>0 message flagged as a
// redelivery is dropped when its topic and payload were already seen.
func NewMQTTHandler(p *Processor, d *dedup.Deduper) broker.Handler {
	return func(_ string, m mqtt.Message) error {
		metrics.MessagesReceived.WithLabelValues(TransportMQTT).Inc()
		if m.Qos() > 0 && d != nil {
			fresh := d.ShouldProcess(dedup.Key(m.Topic(), m.Payload()))
			if !fresh && m.Duplicate() {
				p.log.Debug("redelivered message skipped", zap.String("topic", m.Topic()))
				return nil
			}
		}
		p.ProcessMessage(m.Payload(), time.Now().UTC(), "")
		return nil
	}
}

// Sink returns a message callback for transports that carry their own
// timestamp and content type.
func (p *Processor) Sink(transport string) func(payload []byte, receivedAt time.Time, contentType string) {
	return func(payload []byte, receivedAt time.Time, contentType string) {
		metrics.MessagesReceived.WithLabelValues(transport).Inc()
		if receivedAt.IsZero() {
			receivedAt = time.Now().UTC()
		}
		p.ProcessMessage(payload, receivedAt, contentType)
	}
}
