// Package config loads the dashboard configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/uadashboard/internal/services/dashboard"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/simulator"
	"github.com/LeonardoBeccarini/uadashboard/pkg/broker"
	"github.com/LeonardoBeccarini/uadashboard/pkg/kafka"
	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
	"github.com/LeonardoBeccarini/uadashboard/pkg/natsbus"
)

const EnvPrefix = "UADASH"

const (
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"
	TransportNATS  = "nats"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Logger            logger.Config       `mapstructure:"logger"`
	Transport         string              `mapstructure:"transport"`
	MQTT              MQTTConfig          `mapstructure:"mqtt"`
	Kafka             kafka.Config        `mapstructure:"kafka"`
	NATS              natsbus.Config      `mapstructure:"nats"`
	HTTP              HTTPConfig          `mapstructure:"http"`
	GRPC              GRPCConfig          `mapstructure:"grpc"`
	PushInterval      time.Duration       `mapstructure:"push_interval"`
	PublisherFallback bool                `mapstructure:"publisher_fallback"`
	MaxInflated       int64               `mapstructure:"max_inflated"`
	Dedup             DedupConfig         `mapstructure:"dedup"`
	Hub               dashboard.HubConfig `mapstructure:"hub"`
	Simulator         simulator.Config    `mapstructure:"simulator"`
}

type MQTTConfig struct {
	broker.Config `mapstructure:",squash"`
	Topic         string `mapstructure:"topic"`
	MetadataTopic string `mapstructure:"metadata_topic"`
	QoS           byte   `mapstructure:"qos"`
}

// Subscriptions lists the data filter and, when distinct, the metadata filter.
func (m *MQTTConfig) Subscriptions() []broker.Subscription {
	subs := []broker.Subscription{{Topic: m.Topic, QoS: m.QoS}}
	if m.MetadataTopic != "" && m.MetadataTopic != m.Topic {
		subs = append(subs, broker.Subscription{Topic: m.MetadataTopic, QoS: m.QoS})
	}
	return subs
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GRPCConfig configures the gRPC health endpoint; an empty Addr disables it.
type GRPCConfig struct {
	Addr           string        `mapstructure:"addr"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type DedupConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
	Max int           `mapstructure:"max"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.development", false)
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("logger.output_paths", []string{"stdout"})

	v.SetDefault("transport", TransportMQTT)

	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "uadashboard")
	v.SetDefault("mqtt.use_tls", false)
	v.SetDefault("mqtt.insecure_skip_verify", false)
	v.SetDefault("mqtt.clean_session", false)
	v.SetDefault("mqtt.connect_retries", 5)
	v.SetDefault("mqtt.connect_timeout", 30*time.Second)
	v.SetDefault("mqtt.topic", "uadashboard/data/#")
	v.SetDefault("mqtt.metadata_topic", "uadashboard/metadata/#")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.broker_name", "")
	v.SetDefault("kafka.broker_port", 9092)
	v.SetDefault("kafka.group_id", kafka.DefaultGroupID)
	v.SetDefault("kafka.topic", "uadashboard-data")
	v.SetDefault("kafka.metadata_topic", "")
	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("kafka.security_protocol", "")
	v.SetDefault("kafka.sasl_mechanism", "")
	v.SetDefault("kafka.sasl_username", "")
	v.SetDefault("kafka.sasl_password", "")
	v.SetDefault("kafka.insecure_skip_verify", false)
	v.SetDefault("kafka.connect_retries", 5)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "uadashboard.data")
	v.SetDefault("nats.metadata_subject", "uadashboard.metadata")
	v.SetDefault("nats.username", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.client_name", "uadashboard")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.timeout", 5*time.Second)
	v.SetDefault("nats.connect_retries", 5)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("grpc.health_interval", 5*time.Second)

	v.SetDefault("push_interval", time.Second)
	v.SetDefault("publisher_fallback", true)
	v.SetDefault("max_inflated", 16<<20)
	v.SetDefault("dedup.ttl", 2*time.Minute)
	v.SetDefault("dedup.max", 10000)

	hub := dashboard.DefaultHubConfig()
	v.SetDefault("hub.send_queue", hub.SendQueue)
	v.SetDefault("hub.write_timeout", hub.WriteTimeout)
	v.SetDefault("hub.ping_interval", hub.PingInterval)
	v.SetDefault("hub.read_timeout", hub.ReadTimeout)
	v.SetDefault("hub.breaker_failures", hub.BreakerFailures)
	v.SetDefault("hub.breaker_open", hub.BreakerOpen)

	v.SetDefault("simulator.publisher_id", "simulator")
	v.SetDefault("simulator.asset", "Simulated")
	v.SetDefault("simulator.writers", 1)
	v.SetDefault("simulator.fields", []string{"Temperature", "Pressure"})
	v.SetDefault("simulator.encoding", simulator.EncodingJSON)
	v.SetDefault("simulator.interval", time.Second)
	v.SetDefault("simulator.metadata_every", 0)
	v.SetDefault("simulator.gzip", false)
	v.SetDefault("simulator.data_topic", "")
	v.SetDefault("simulator.metadata_topic", "")
	v.SetDefault("simulator.seed", 0)
}

// envAliases maps config keys to the plain variable names deployments already use.
var envAliases = map[string][]string{
	"logger.level":         {"LOG_LEVEL"},
	"mqtt.host":            {"MQTT_BROKER_NAME"},
	"mqtt.port":            {"MQTT_BROKER_PORT"},
	"mqtt.client_id":       {"MQTT_CLIENT_NAME"},
	"mqtt.username":        {"MQTT_USERNAME"},
	"mqtt.password":        {"MQTT_PASSWORD"},
	"mqtt.topic":           {"MQTT_TOPIC"},
	"mqtt.metadata_topic":  {"MQTT_METADATA_TOPIC"},
	"mqtt.use_tls":         {"MQTT_USE_TLS"},
	"kafka.broker_name":    {"BROKER_NAME"},
	"kafka.broker_port":    {"BROKER_PORT"},
	"kafka.topic":          {"TOPIC"},
	"kafka.metadata_topic": {"METADATA_TOPIC"},
	"kafka.sasl_username":  {"USERNAME"},
	"kafka.sasl_password":  {"PASSWORD"},
}

// Load reads defaults, then path when it is not empty, then the environment.
// Prefixed variables (UADASH_MQTT_HOST) win over the plain aliases (MQTT_BROKER_NAME).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{envName(key)}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.derive(v)
	return &cfg, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// derive fills settings that depend on other settings.
func (c *Config) derive(v *viper.Viper) {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))

	if name := v.GetString("kafka.broker_name"); name != "" {
		c.Kafka.Brokers = []string{net.JoinHostPort(name, v.GetString("kafka.broker_port"))}
	}
	if c.Kafka.SecurityProtocol == "" {
		c.Kafka.SecurityProtocol = "PLAINTEXT"
		if c.Kafka.SASLUsername != "" {
			c.Kafka.SecurityProtocol = "SASL_SSL"
		}
	}
}

// ResolveSimulatorTopics fills unset simulator topics from the subscription
// filters of the active transport. Call it after every override is applied.
func (c *Config) ResolveSimulatorTopics() {
	if c.Simulator.DataTopic == "" {
		c.Simulator.DataTopic = c.publishTopic(false)
	}
	if c.Simulator.MetadataTopic == "" {
		c.Simulator.MetadataTopic = c.publishTopic(true)
	}
}

// publishTopic turns the subscribed filter of the active transport into a
// concrete topic the simulator can publish on.
func (c *Config) publishTopic(metadata bool) string {
	var filter string
	switch c.Transport {
	case TransportKafka:
		filter = c.Kafka.Topic
		if metadata && c.Kafka.MetadataTopic != "" {
			filter = c.Kafka.MetadataTopic
		}
	case TransportNATS:
		filter = c.NATS.Subject
		if metadata && c.NATS.MetadataSubject != "" {
			filter = c.NATS.MetadataSubject
		}
	default:
		filter = c.MQTT.Topic
		if metadata && c.MQTT.MetadataTopic != "" {
			filter = c.MQTT.MetadataTopic
		}
	}
	for _, wildcard := range []string{"#", "+", ">", "*"} {
		if strings.HasSuffix(filter, wildcard) {
			return strings.TrimSuffix(filter, wildcard) + c.Simulator.PublisherID
		}
	}
	return filter
}

// Validate checks the settings the serve command depends on.
func (c *Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportMQTT:
		if c.MQTT.Host == "" || c.MQTT.Port <= 0 {
			errs = append(errs, errors.New("mqtt host and port are required"))
		}
		if c.MQTT.Topic == "" {
			errs = append(errs, errors.New("mqtt topic is required"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt qos %d out of range", c.MQTT.QoS))
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka brokers are required"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka topic is required"))
		}
	case TransportNATS:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats url is required"))
		}
		if c.NATS.Subject == "" {
			errs = append(errs, errors.New("nats subject is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.PushInterval <= 0 {
		errs = append(errs, fmt.Errorf("push interval must be positive, got %s", c.PushInterval))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if c.GRPC.Addr != "" && c.GRPC.HealthInterval <= 0 {
		errs = append(errs, fmt.Errorf("grpc health interval must be positive, got %s", c.GRPC.HealthInterval))
	}
	if c.MaxInflated <= 0 {
		errs = append(errs, errors.New("max inflated size must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
