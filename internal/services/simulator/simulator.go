// Package simulator publishes synthetic PubSub telemetry for demos and smoke tests.
package simulator

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/internal/model"
	"github.com/LeonardoBeccarini/uadashboard/internal/model/messages"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/decoder"
	"github.com/LeonardoBeccarini/uadashboard/pkg/broker"
	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
)

const (
	EncodingJSON = "json"
	EncodingUADP = "uadp"
)

type Config struct {
	PublisherID string        `mapstructure:"publisher_id"`
	Asset       string        `mapstructure:"asset"`
	Writers     int           `mapstructure:"writers"`
	Fields      []string      `mapstructure:"fields"`
	Encoding    string        `mapstructure:"encoding"`
	Interval    time.Duration `mapstructure:"interval"`
	// MetadataEvery republishes the schemas every N data ticks; 0 sends them once.
	MetadataEvery int    `mapstructure:"metadata_every"`
	Gzip          bool   `mapstructure:"gzip"`
	DataTopic     string `mapstructure:"data_topic"`
	MetadataTopic string `mapstructure:"metadata_topic"`
	Seed          int64  `mapstructure:"seed"`
}

type Simulator struct {
	cfg  Config
	pub  broker.IPublisher
	gens [][]*Generator
	seq  uint32
	tick int
	log  *zap.Logger
}

func New(cfg Config, pub broker.IPublisher, log *zap.Logger) (*Simulator, error) {
	cfg.Encoding = strings.ToLower(strings.TrimSpace(cfg.Encoding))
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}
	if cfg.Encoding != EncodingJSON && cfg.Encoding != EncodingUADP {
		return nil, fmt.Errorf("unknown encoding %q", cfg.Encoding)
	}
	if cfg.PublisherID == "" {
		return nil, fmt.Errorf("publisher id is required")
	}
	if cfg.DataTopic == "" {
		return nil, fmt.Errorf("data topic is required")
	}
	if cfg.MetadataTopic == "" {
		cfg.MetadataTopic = cfg.DataTopic
	}
	if cfg.Writers <= 0 {
		cfg.Writers = 1
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = []string{"Temperature", "Pressure"}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	gens := make([][]*Generator, cfg.Writers)
	for w := range gens {
		gens[w] = make([]*Generator, len(cfg.Fields))
		for f := range cfg.Fields {
			start := 20 + 10*float64(f) + float64(w)
			gens[w][f] = NewGenerator(cfg.Seed+int64(w*len(cfg.Fields)+f), start, 0.5, 0, 100)
		}
	}
	return &Simulator{cfg: cfg, pub: pub, gens: gens, log: logger.OrNamed(log, "simulator")}, nil
}

// Entry returns the schema announced for writer w.
func (s *Simulator) Entry(w int) model.SchemaEntry {
	var entry model.SchemaEntry
	if asset := s.cfg.Asset; asset != "" {
		if s.cfg.Writers > 1 {
			asset += strconv.Itoa(w + 1)
		}
		entry.Name = asset + ";simulated"
	}
	for _, f := range s.cfg.Fields {
		entry.Fields = append(entry.Fields, model.FieldDescriptor{Name: f, TypeHint: model.TypeDouble})
	}
	return entry
}

// Start publishes the schemas, then one data envelope per interval until ctx is done.
func (s *Simulator) Start(ctx context.Context) error {
	defer s.pub.Close()

	if err := s.PublishMetadata(); err != nil {
		return err
	}
	s.log.Info("simulator started",
		zap.String("publisher_id", s.cfg.PublisherID),
		zap.String("encoding", s.cfg.Encoding),
		zap.Int("writers", s.cfg.Writers),
		zap.Duration("interval", s.cfg.Interval))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("simulator stopped", zap.Uint32("messages", s.seq))
			return nil
		case now := <-ticker.C:
			if err := s.PublishData(now.UTC()); err != nil {
				s.log.Warn("publish error", zap.Error(err))
			}
		}
	}
}

// PublishMetadata sends one schema envelope per writer.
func (s *Simulator) PublishMetadata() error {
	for w := 0; w < s.cfg.Writers; w++ {
		payload, err := s.encodeMetadata(w)
		if err != nil {
			return fmt.Errorf("encode metadata for writer %d: %w", w, err)
		}
		if err := s.publish(s.cfg.MetadataTopic, payload); err != nil {
			return err
		}
	}
	return nil
}

// PublishData samples every generator and sends one data envelope.
func (s *Simulator) PublishData(now time.Time) error {
	s.tick++
	if s.cfg.MetadataEvery > 0 && s.tick%s.cfg.MetadataEvery == 0 {
		if err := s.PublishMetadata(); err != nil {
			return err
		}
	}

	s.seq++
	values := make([][]float64, len(s.gens))
	for w, row := range s.gens {
		values[w] = make([]float64, len(row))
		for f, g := range row {
			values[w][f] = g.Next()
		}
	}
	payload, err := s.encodeData(now, values)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	s.log.Debug("publishing data", zap.Uint32("seq", s.seq), zap.Int("bytes", len(payload)))
	return s.publish(s.cfg.DataTopic, payload)
}

func (s *Simulator) publish(topic string, payload []byte) error {
	if s.cfg.Gzip {
		var err error
		if payload, err = compress(payload); err != nil {
			return err
		}
	}
	return s.pub.PublishMessage(topic, payload)
}

func (s *Simulator) encodeMetadata(w int) ([]byte, error) {
	entry := s.Entry(w)
	if s.cfg.Encoding == EncodingUADP {
		return decoder.EncodeUADPMetaData(s.cfg.PublisherID, uint16(w), entry)
	}

	meta := &messages.DataSetMetaData{Name: entry.Name}
	for _, f := range entry.Fields {
		meta.Fields = append(meta.Fields, messages.FieldMetaData{Name: f.Name, BuiltInType: byte(f.TypeHint)})
	}
	return gojson.Marshal(messages.NetworkMessage{
		MessageID:       fmt.Sprintf("%s-meta-%d", s.cfg.PublisherID, w),
		MessageType:     messages.MessageTypeMetaData,
		PublisherID:     messages.FlexString(s.cfg.PublisherID),
		DataSetWriterID: messages.WriterID(w),
		MetaData:        meta,
	})
}

func (s *Simulator) encodeData(now time.Time, values [][]float64) ([]byte, error) {
	if s.cfg.Encoding == EncodingUADP {
		sets := make([]decoder.DataSet, len(values))
		for w, row := range values {
			vals := make([]any, len(row))
			for i, v := range row {
				vals[i] = v
			}
			sets[w] = decoder.DataSet{WriterID: uint16(w), Sequence: uint16(s.seq), Timestamp: now, Values: vals}
		}
		return decoder.EncodeUADPData(s.cfg.PublisherID, decoder.EncodingVariant, sets...)
	}

	msg := messages.NetworkMessage{
		MessageID:   fmt.Sprintf("%s-%d", s.cfg.PublisherID, s.seq),
		MessageType: messages.MessageTypeData,
		PublisherID: messages.FlexString(s.cfg.PublisherID),
	}
	for w, row := range values {
		payload := make(messages.Payload, len(row))
		for i, v := range row {
			payload[i] = messages.PayloadEntry{
				Name:  s.cfg.Fields[i],
				Value: messages.DataValue{Value: v, SourceTimestamp: now},
			}
		}
		msg.Messages = append(msg.Messages, messages.DataSetMessage{
			DataSetWriterID: messages.WriterID(w),
			SequenceNumber:  s.seq,
			Timestamp:       now,
			Payload:         payload,
		})
	}
	return gojson.Marshal(msg)
}

func compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}
