package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/uadashboard/pkg/broker"
)

// clearEnv blanks the plain aliases so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, aliases := range envAliases {
		for _, name := range aliases {
			t.Setenv(name, "")
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, TransportMQTT, cfg.Transport)
	assert.Equal(t, "localhost", cfg.MQTT.Host)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.False(t, cfg.MQTT.CleanSession)
	assert.Equal(t, time.Second, cfg.PushInterval)
	assert.True(t, cfg.PublisherFallback)
	assert.Equal(t, "consumer-group", cfg.Kafka.GroupID)
	assert.Equal(t, "PLAINTEXT", cfg.Kafka.SecurityProtocol)
	assert.Equal(t, 256, cfg.Hub.SendQueue)
	assert.Empty(t, cfg.Simulator.DataTopic)
	cfg.ResolveSimulatorTopics()
	assert.Equal(t, "uadashboard/data/simulator", cfg.Simulator.DataTopic)
	assert.Equal(t, "uadashboard/metadata/simulator", cfg.Simulator.MetadataTopic)
	assert.Equal(t, []broker.Subscription{
		{Topic: "uadashboard/data/#"},
		{Topic: "uadashboard/metadata/#"},
	}, cfg.MQTT.Subscriptions())
}

func TestEnvAliasesAndPrefix(t *testing.T) {
	clearEnv(t)
	t.Setenv("MQTT_BROKER_NAME", "mosquitto")
	t.Setenv("MQTT_BROKER_PORT", "8883")
	t.Setenv("MQTT_USE_TLS", "true")
	t.Setenv("MQTT_TOPIC", "plant/+/json")
	t.Setenv("BROKER_NAME", "hub.servicebus.windows.net")
	t.Setenv("BROKER_PORT", "9093")
	t.Setenv("USERNAME", "$ConnectionString")
	t.Setenv("PASSWORD", "secret")
	t.Setenv("UADASH_PUSH_INTERVAL", "250ms")
	t.Setenv("UADASH_MQTT_CLIENT_ID", "dash-1")
	t.Setenv("MQTT_CLIENT_NAME", "ignored")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mosquitto", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.True(t, cfg.MQTT.UseTLS)
	assert.Equal(t, "plant/+/json", cfg.MQTT.Topic)
	assert.Equal(t, "dash-1", cfg.MQTT.ClientID)
	assert.Equal(t, 250*time.Millisecond, cfg.PushInterval)
	assert.Equal(t, []string{"hub.servicebus.windows.net:9093"}, cfg.Kafka.Brokers)
	assert.Equal(t, "SASL_SSL", cfg.Kafka.SecurityProtocol)
	assert.Equal(t, "$ConnectionString", cfg.Kafka.SASLUsername)
}

func TestYAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "uadashboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport: nats
push_interval: 2s
nats:
  url: nats://nats:4222
  subject: plant.>
hub:
  send_queue: 16
simulator:
  publisher_id: press
  encoding: uadp
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, TransportNATS, cfg.Transport)
	assert.Equal(t, 2*time.Second, cfg.PushInterval)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, 16, cfg.Hub.SendQueue)
	assert.Equal(t, "uadp", cfg.Simulator.Encoding)
	cfg.ResolveSimulatorTopics()
	assert.Equal(t, "plant.press", cfg.Simulator.DataTopic)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Transport = "amqp"
	bad.PushInterval = 0
	err = bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "amqp")
	assert.Contains(t, err.Error(), "push interval")

	bad = *cfg
	bad.Transport = TransportKafka
	bad.Kafka.Topic = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalid)

	bad = *cfg
	bad.MQTT.QoS = 3
	assert.ErrorIs(t, bad.Validate(), ErrInvalid)
}

func TestValidateGRPCHealthInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv("UADASH_GRPC_HEALTH_INTERVAL", "0s")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.GRPC.HealthInterval)

	err = cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "grpc health interval")

	cfg.GRPC.Addr = ""
	assert.NoError(t, cfg.Validate())
}
