package simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/internal/model"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/decoder"
	"github.com/LeonardoBeccarini/uadashboard/internal/services/schema"
)

type sent struct {
	topic   string
	payload []byte
}

type recordingPublisher struct {
	mu     sync.Mutex
	sent   []sent
	closed bool
}

func (p *recordingPublisher) PublishMessage(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{topic: topic, payload: payload})
	return nil
}

func (p *recordingPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *recordingPublisher) messages() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sent(nil), p.sent...)
}

func TestGeneratorStaysInBounds(t *testing.T) {
	g := NewGenerator(1, 99.9, 5, 0, 100)
	for i := 0; i < 1000; i++ {
		v := g.Next()
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 100.0)
	}
	a, b := NewGenerator(7, 50, 1, 0, 100), NewGenerator(7, 50, 1, 0, 100)
	assert.Equal(t, a.Next(), b.Next())
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{PublisherID: "p", DataTopic: "d", Encoding: "xml"}, &recordingPublisher{}, zap.NewNop())
	require.Error(t, err)
	_, err = New(Config{DataTopic: "d"}, &recordingPublisher{}, zap.NewNop())
	require.Error(t, err)
	_, err = New(Config{PublisherID: "p"}, &recordingPublisher{}, zap.NewNop())
	require.Error(t, err)
}

func TestEntryNames(t *testing.T) {
	s, err := New(Config{PublisherID: "p", DataTopic: "d", Asset: "Boiler", Writers: 2, Fields: []string{"Temp"}}, &recordingPublisher{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "Boiler2", s.Entry(1).AssetName())
	assert.Equal(t, []model.FieldDescriptor{{Name: "Temp", TypeHint: model.TypeDouble}}, s.Entry(0).Fields)

	anon, err := New(Config{PublisherID: "p", DataTopic: "d", Writers: 2}, &recordingPublisher{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "", anon.Entry(1).Name)
}

func decodeAll(t *testing.T, dec *decoder.Decoder, msgs []sent) []decoder.Result {
	t.Helper()
	var out []decoder.Result
	for _, m := range msgs {
		out = append(out, dec.Decode(m.payload, time.Now(), "")...)
	}
	return out
}

func TestRoundTripThroughDecoder(t *testing.T) {
	for _, tc := range []struct {
		encoding string
		gzip     bool
		format   model.Format
	}{
		{EncodingJSON, false, model.FormatJSON},
		{EncodingUADP, false, model.FormatUADP},
		{EncodingUADP, true, model.FormatUADP},
		{EncodingJSON, true, model.FormatJSON},
	} {
		t.Run(tc.encoding, func(t *testing.T) {
			pub := &recordingPublisher{}
			s, err := New(Config{
				PublisherID:   "sim",
				Asset:         "Line",
				Writers:       2,
				Fields:        []string{"Temp", "Flow"},
				Encoding:      tc.encoding,
				Gzip:          tc.gzip,
				DataTopic:     "ua/data",
				MetadataTopic: "ua/meta",
				Seed:          3,
			}, pub, zap.NewNop())
			require.NoError(t, err)

			require.NoError(t, s.PublishMetadata())
			now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
			require.NoError(t, s.PublishData(now))

			msgs := pub.messages()
			require.Len(t, msgs, 3)
			assert.Equal(t, "ua/meta", msgs[0].topic)
			assert.Equal(t, "ua/data", msgs[2].topic)
			if tc.gzip {
				assert.Equal(t, []byte{0x1f, 0x8b}, msgs[2].payload[:2])
			}

			dec := decoder.New(schema.NewRegistry(), decoder.Options{}, zap.NewNop())
			results := decodeAll(t, dec, msgs)
			require.Len(t, results, 3)
			meta, ok := results[1].(decoder.Metadata)
			require.True(t, ok, "%#v", results[1])
			assert.Equal(t, model.StreamKey{PublisherID: "sim", WriterID: 1}, meta.Key)

			data, ok := results[2].(decoder.Data)
			require.True(t, ok, "%#v", results[2])
			assert.Equal(t, tc.format, data.Format)
			require.Len(t, data.Frames, 2)
			var names []string
			for _, f := range data.Frames {
				for _, v := range f.Fields {
					names = append(names, v.DisplayName)
					assert.Equal(t, now, v.SourceTimestamp.UTC())
				}
			}
			assert.Equal(t, []string{"Line1_Temp_0", "Line1_Flow_0", "Line2_Temp_1", "Line2_Flow_1"}, names)
		})
	}
}

func TestMetadataRepublished(t *testing.T) {
	pub := &recordingPublisher{}
	s, err := New(Config{PublisherID: "p", DataTopic: "d", MetadataTopic: "m", MetadataEvery: 2}, pub, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.PublishData(time.Now()))
	require.NoError(t, s.PublishData(time.Now()))
	var topics []string
	for _, m := range pub.messages() {
		topics = append(topics, m.topic)
	}
	assert.Equal(t, []string{"d", "m", "d"}, topics)
}

func TestStartStopsAndCloses(t *testing.T) {
	pub := &recordingPublisher{}
	s, err := New(Config{PublisherID: "p", DataTopic: "d", Interval: 5 * time.Millisecond}, pub, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return len(pub.messages()) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	pub.mu.Lock()
	assert.True(t, pub.closed)
	pub.mu.Unlock()
}
