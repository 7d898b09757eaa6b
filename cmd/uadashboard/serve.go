package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/internal/config"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/aggregator"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/dashboard"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/decoder"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/health"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/ingest"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/schema"
	"github.com/LeonardoBeccarini/uadashboard/pkg/broker"
	"github.com/LeonardoBeccarini/uadashboard/pkg/dedup"
	"github.com/LeonardoBeccarini/uadashboard/pkg/kafka"
	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
	"github.com/LeonardoBeccarini/uadashboard/pkg/metrics"
	"github.com/LeonardoBeccarini/uadashboard/pkg/natsbus"
)

func newServeCmd(configFile *string) *cobra.Command {
	var transport, httpAddr string
	var pushInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Ingest PubSub telemetry and serve the live dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile, func(c *config.Config) {
				if cmd.Flags().Changed("transport") {
					c.Transport = transport
				}
				if cmd.Flags().Changed("http-addr") {
					c.HTTP.Addr = httpAddr
				}
				if cmd.Flags().Changed("push-interval") {
					c.PushInterval = pushInterval
				}
			})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			defer logger.Sync()
			return runServe(cfg, logger.Get())
		},
	}
	cmd.Flags().StringVarP(&transport, "transport", "t", config.TransportMQTT, "Transport to ingest from (mqtt, kafka, nats)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "Dashboard HTTP listen address")
	cmd.Flags().DurationVar(&pushInterval, "push-interval", time.Second, "Interval between live pushes to viewers")
	return cmd
}

// transportRunner consumes until ctx is done.
type transportRunner func(ctx context.Context) error

func runServe(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := schema.NewRegistry()
	dec := decoder.New(registry, decoder.Options{
		PublisherFallback: cfg.PublisherFallback,
		MaxInflated:       cfg.MaxInflated,
	}, log)
	store := aggregator.NewStore()
	processor := ingest.NewProcessor(dec, store, log)

	hub := dashboard.NewHub(cfg.Hub, log)
	scheduler := aggregator.NewScheduler(store, hub, cfg.PushInterval, log)
	hub.OnConnect(scheduler.ViewerReconnected)
	hub.OnReset(processor.Clear)

	checker := health.NewChecker()
	run, err := startTransport(ctx, cfg, processor, checker, log)
	if err != nil {
		return err
	}

	// === HTTP ===
	mux := http.NewServeMux()
	dashboard.Register(mux, hub, processor, store)
	mux.Handle("GET /healthz", health.NewHealthHandler(checker))
	mux.Handle("GET /readyz", health.NewReadyHandler(checker))
	mux.Handle("GET /metrics", metrics.Handler())

	hs := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTP.Addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			stop()
		}
	}()

	// === gRPC health ===
	var grpcServer *health.GRPCServer
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			stop()
			_ = hs.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = health.NewGRPCServer(checker, log)
		go grpcServer.Watch(ctx, cfg.GRPC.HealthInterval)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
				stop()
			}
		}()
	}

	// === Consumer ===
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := run(ctx); err != nil {
			errCh <- fmt.Errorf("%s transport: %w", cfg.Transport, err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shCancel()
	if err := hs.Shutdown(shCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	hub.Close()
	if grpcServer != nil {
		grpcServer.Stop()
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// startTransport connects the configured transport and registers its readiness probe.
func startTransport(ctx context.Context, cfg *config.Config, p *ingest.Processor, checker *health.Checker, log *zap.Logger) (transportRunner, error) {
	switch cfg.Transport {
	case config.TransportKafka:
		kc := kafka.NewConsumer(cfg.Kafka, p.Sink(ingest.TransportKafka), log)
		checker.Add(health.Probe{Name: ingest.TransportKafka, Check: kc.Connected})
		return kc.Run, nil

	case config.TransportNATS:
		sub := natsbus.NewSubscriber(cfg.NATS, p.Sink(ingest.TransportNATS), log)
		checker.Add(health.Probe{Name: ingest.TransportNATS, Check: sub.Connected})
		return sub.Run, nil

	case config.TransportMQTT:
		client, err := broker.NewMQTTConn(ctx, &cfg.MQTT.Config, log)
		if err != nil {
			return nil, err
		}
		handler := ingest.NewMQTTHandler(p, dedup.New(cfg.Dedup.TTL, cfg.Dedup.Max))
		consumer := broker.NewConsumer(client, cfg.MQTT.Subscriptions(), handler, log)
		checker.Add(health.Probe{Name: ingest.TransportMQTT, Check: client.IsConnectionOpen})
		return consumer.ConsumeMessage, nil
	}
	return nil, fmt.Errorf("%w: unknown transport %q", config.ErrInvalid, cfg.Transport)
}
