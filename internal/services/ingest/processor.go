// Package ingest connects transports to the decoder and the aggregation store.
package ingest

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/internal/services/aggregator"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/decoder"
	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
	"github.com/LeonardoBeccarini/uadashboard/pkg/metrics"
)

type Processor struct {
	decoder *decoder.Decoder
	store   *aggregator.Store
	log     *zap.Logger
}

func NewProcessor(dec *decoder.Decoder, store *aggregator.Store, log *zap.Logger) *Processor {
	return &Processor{
		decoder: dec,
		store:   store,
		log:     logger.OrNamed(log, "ingest"),
	}
}

// ProcessMessage decodes one transport message and applies its values to the
// store. Failures are logged and counted, never returned.
func (p *Processor) ProcessMessage(payload []byte, receivedAt time.Time, contentType string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Envelopes.WithLabelValues("panic", "unknown").Inc()
			p.log.Error("message processing panicked",
				zap.Any("panic", r),
				zap.Int("bytes", len(payload)),
				zap.String("content_type", contentType))
		}
	}()

	for _, res := range p.decoder.Decode(payload, receivedAt, contentType) {
		switch r := res.(type) {
		case decoder.Metadata:
			metrics.Envelopes.WithLabelValues("metadata", r.Format.String()).Inc()
			p.log.Info("stream schema registered",
				zap.Stringer("stream", r.Key),
				zap.String("name", r.Entry.Name),
				zap.Int("fields", len(r.Entry.Fields)))
		case decoder.Data:
			metrics.Envelopes.WithLabelValues("data", r.Format.String()).Inc()
			updates := aggregator.Flatten(r.Frames...)
			p.store.Apply(updates)
		case decoder.Malformed:
			metrics.Envelopes.WithLabelValues("malformed", r.Format.String()).Inc()
			p.logMalformed(r)
		default:
			panic(fmt.Sprintf("unexpected decode result %T", res))
		}
	}
}

func (p *Processor) logMalformed(m decoder.Malformed) {
	fields := []zap.Field{zap.Stringer("format", m.Format), zap.Error(m.Err)}
	if m.Key != nil {
		fields = append(fields, zap.Stringer("stream", m.Key))
	}
	if errors.Is(m.Err, decoder.ErrUnattributed) {
		p.log.Debug("frame dropped", fields...)
		return
	}
	p.log.Warn("envelope dropped", fields...)
}

// Clear empties the aggregation store.
func (p *Processor) Clear() {
	p.store.Clear()
	p.log.Info("aggregation store cleared")
}
