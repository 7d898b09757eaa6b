package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/internal/config"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/simulator"
	"github.com/LeonardoBeccarini/uadashboard/pkg/broker"
	"github.com/LeonardoBeccarini/uadashboard/pkg/kafka"
	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
	"github.com/LeonardoBeccarini/uadashboard/pkg/natsbus"
)

func newSimulateCmd(configFile *string) *cobra.Command {
	var transport, encoding, publisherID string
	var writers int
	var interval time.Duration
	var gzip bool

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish synthetic PubSub telemetry",
		Long: `Publish one metadata envelope per dataset writer, then a data envelope with
random-walk values every interval, on the same transport the dashboard reads.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile, func(c *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("transport") {
					c.Transport = transport
				}
				if flags.Changed("encoding") {
					c.Simulator.Encoding = encoding
				}
				if flags.Changed("publisher-id") {
					c.Simulator.PublisherID = publisherID
				}
				if flags.Changed("writers") {
					c.Simulator.Writers = writers
				}
				if flags.Changed("interval") {
					c.Simulator.Interval = interval
				}
				if flags.Changed("gzip") {
					c.Simulator.Gzip = gzip
				}
			})
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runSimulate(cfg, logger.Get())
		},
	}
	cmd.Flags().StringVarP(&transport, "transport", "t", config.TransportMQTT, "Transport to publish on (mqtt, kafka, nats)")
	cmd.Flags().StringVarP(&encoding, "encoding", "e", simulator.EncodingJSON, "Envelope encoding (json, uadp)")
	cmd.Flags().StringVar(&publisherID, "publisher-id", "simulator", "PublisherId written into every envelope")
	cmd.Flags().IntVar(&writers, "writers", 1, "Number of dataset writers")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Interval between data envelopes")
	cmd.Flags().BoolVar(&gzip, "gzip", false, "Gzip every payload")
	return cmd
}

func runSimulate(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.ResolveSimulatorTopics()

	contentType := "application/json"
	if strings.EqualFold(cfg.Simulator.Encoding, simulator.EncodingUADP) {
		contentType = "application/octet-stream"
	}
	if cfg.Simulator.Gzip {
		contentType += "+gzip"
	}

	var pub broker.IPublisher
	switch cfg.Transport {
	case config.TransportMQTT:
		client, err := broker.NewMQTTConn(ctx, &cfg.MQTT.Config, log)
		if err != nil {
			return err
		}
		pub = broker.NewPublisher(client, cfg.MQTT.QoS, false)
	case config.TransportKafka:
		p, err := kafka.NewPublisher(ctx, cfg.Kafka, contentType, log)
		if err != nil {
			return err
		}
		pub = p
	case config.TransportNATS:
		conn, err := natsbus.Connect(ctx, &cfg.NATS, log)
		if err != nil {
			return err
		}
		pub = natsbus.NewPublisher(conn, contentType)
	default:
		return fmt.Errorf("%w: unknown transport %q", config.ErrInvalid, cfg.Transport)
	}

	sim, err := simulator.New(cfg.Simulator, pub, log)
	if err != nil {
		pub.Close()
		return err
	}
	return sim.Start(ctx)
}
