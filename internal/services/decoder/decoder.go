// Package decoder turns raw PubSub envelopes (JSON or UADP) into schema updates
// and named, timestamped field values.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/internal/model"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/schema"
	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
)

var (
	ErrMalformed    = errors.New("malformed envelope")
	ErrTruncated    = errors.New("truncated frame")
	ErrUnsupported  = errors.New("unsupported encoding")
	ErrUnattributed = errors.New("stream has no asset name")
)

// DefaultMaxInflated bounds the size of a gzip-inflated payload.
const DefaultMaxInflated = 16 << 20

// Result is one decoded envelope: Metadata, Data or Malformed.
type Result interface {
	result()
}

// Metadata is returned after a schema announcement was stored in the registry.
type Metadata struct {
	Format model.Format
	Key    model.StreamKey
	Entry  model.SchemaEntry
}

// Data carries the frames of one data envelope.
type Data struct {
	Format model.Format
	Frames []model.DecodedFrame
}

// Malformed reports an envelope, batch element or frame that was dropped.
type Malformed struct {
	Format model.Format
	Key    *model.StreamKey
	Err    error
}

func (Metadata) result()  {}
func (Data) result()      {}
func (Malformed) result() {}

func (m Malformed) Error() string {
	if m.Key != nil {
		return fmt.Sprintf("%s %s: %v", m.Format, m.Key, m.Err)
	}
	return fmt.Sprintf("%s: %v", m.Format, m.Err)
}

func (m Malformed) Unwrap() error { return m.Err }

type Options struct {
	// PublisherFallback names fields after the publisher id when no schema name is known.
	PublisherFallback bool
	// MaxInflated bounds gzip output; zero means DefaultMaxInflated.
	MaxInflated int64
}

type Decoder struct {
	registry *schema.Registry
	opts     Options
	log      *zap.Logger
}

func New(registry *schema.Registry, opts Options, log *zap.Logger) *Decoder {
	if opts.MaxInflated <= 0 {
		opts.MaxInflated = DefaultMaxInflated
	}
	return &Decoder{
		registry: registry,
		opts:     opts,
		log:      logger.OrNamed(log, "decoder"),
	}
}

// Decode decodes one transport message. It never fails as a whole: every problem
// is reported as a Malformed result next to whatever else could be decoded.
func (d *Decoder) Decode(payload []byte, receivedAt time.Time, contentType string) []Result {
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	ct := strings.ToLower(contentType)

	if strings.Contains(ct, "gzip") || isGzip(payload) {
		inflated, err := d.inflate(payload)
		if err != nil {
			return []Result{Malformed{Format: guessFormat(ct, nil), Err: err}}
		}
		payload = inflated
	}

	if guessFormat(ct, payload) == model.FormatUADP {
		return d.decodeUADP(payload, receivedAt)
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return d.decodeBatch(trimmed, receivedAt)
	}
	return d.decodeJSON(trimmed, receivedAt)
}

func (d *Decoder) decodeBatch(payload []byte, receivedAt time.Time) []Result {
	var elems []gojson.RawMessage
	if err := gojson.Unmarshal(payload, &elems); err != nil {
		return []Result{Malformed{Format: model.FormatJSON, Err: fmt.Errorf("%w: batch: %v", ErrMalformed, err)}}
	}
	out := make([]Result, 0, len(elems))
	for i, elem := range elems {
		res := d.decodeJSON(elem, receivedAt)
		for _, r := range res {
			if m, ok := r.(Malformed); ok {
				d.log.Debug("batch element dropped", zap.Int("index", i), zap.Error(m))
			}
		}
		out = append(out, res...)
	}
	return out
}

func (d *Decoder) inflate(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrMalformed, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, d.opts.MaxInflated+1))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrMalformed, err)
	}
	if int64(len(out)) > d.opts.MaxInflated {
		return nil, fmt.Errorf("%w: inflated payload exceeds %d bytes", ErrMalformed, d.opts.MaxInflated)
	}
	return out, nil
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

// guessFormat trusts the payload over the content type: a body that cannot
// start a JSON envelope is decoded as UADP even when labelled JSON.
func guessFormat(contentType string, payload []byte) model.Format {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		if strings.Contains(contentType, "json") {
			return model.FormatJSON
		}
		return model.FormatUADP
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return model.FormatJSON
	}
	return model.FormatUADP
}

// assetFor resolves the asset part of display names for a stream.
func (d *Decoder) assetFor(entry model.SchemaEntry, key model.StreamKey) (string, error) {
	if asset := entry.AssetName(); asset != "" {
		return asset, nil
	}
	if d.opts.PublisherFallback && key.PublisherID != "" {
		return key.PublisherID, nil
	}
	return "", ErrUnattributed
}

// DisplayName builds "<asset>_<label>_<writerId>".
func DisplayName(asset, label string, writerID uint16) string {
	return asset + "_" + label + "_" + strconv.FormatUint(uint64(writerID), 10)
}

func fieldLabel(name string, entry model.SchemaEntry, index int) string {
	if name != "" {
		return name
	}
	if n := entry.FieldName(index); n != "" {
		return n
	}
	return strconv.Itoa(index)
}

func stamp(field, dataset, received time.Time) time.Time {
	switch {
	case !field.IsZero():
		return field
	case !dataset.IsZero():
		return dataset
	default:
		return received
	}
}
