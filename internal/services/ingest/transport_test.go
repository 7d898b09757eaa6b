package ingest

import (
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/uadashboard/internal/services/decoder"
	"github.com/LeonardoBeccarini/uadashboard/pkg/dedup"
	"github.com/LeonardoBeccarini/uadashboard/pkg/kafka"
)

type fakeMessage struct {
	mqtt.Message
	topic     string
	payload   []byte
	qos       byte
	duplicate bool
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }
func (m fakeMessage) Qos() byte       { return m.qos }
func (m fakeMessage) Duplicate() bool { return m.duplicate }

const dataMsg = `{"MessageType":"ua-data","PublisherId":"pub1",
	"Messages":[{"DataSetWriterId":0,"Payload":{"Temp":{"Value":1}}}]}`

func TestMQTTHandlerSkipsRedeliveries(t *testing.T) {
	p, store, _, _ := setup(true)
	h := NewMQTTHandler(p, dedup.New(time.Minute, 100))

	first := fakeMessage{topic: "ua/data", payload: []byte(dataMsg), qos: 1}
	require.NoError(t, h("ua/#", first))
	require.Len(t, store.Latest(), 1)
	assert.Equal(t, 1, store.SeriesLen())

	redelivered := first
	redelivered.duplicate = true
	require.NoError(t, h("ua/#", redelivered))
	assert.Equal(t, 1, store.SeriesLen())

	// identical payloads without the duplicate flag are genuine samples
	require.NoError(t, h("ua/#", first))
	assert.Equal(t, []string{"pub1_Temp_0"}, store.Columns())
}

func TestMQTTHandlerQoS0BypassesDedup(t *testing.T) {
	p, store, _, _ := setup(true)
	d := dedup.New(time.Minute, 100)
	h := NewMQTTHandler(p, d)

	require.NoError(t, h("ua/#", fakeMessage{topic: "ua/data", payload: []byte(dataMsg), duplicate: true}))
	assert.Equal(t, 0, d.Len())
	assert.Len(t, store.Latest(), 1)
}

func TestSinkDefaultsReceivedAt(t *testing.T) {
	p, store, _, _ := setup(true)
	sink := p.Sink(TransportKafka)

	sink([]byte(dataMsg), time.Time{}, "application/json")
	rows := store.Latest()
	require.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].Timestamp)

	T := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sink([]byte(`{"MessageType":"ua-data","PublisherId":"pub1",
		"Messages":[{"DataSetWriterId":0,"Payload":{"Temp":{"Value":2}}}]}`), T, "")
	assert.Equal(t, T.Format(time.RFC3339Nano), store.Latest()[0].Timestamp)
}

func TestKafkaSinkDecodesHeaderlessUADP(t *testing.T) {
	p, store, _, _ := setup(true)
	sink := p.Sink(TransportKafka)

	b, err := decoder.EncodeUADPData("plc", decoder.EncodingVariant, decoder.DataSet{WriterID: 2, Values: []any{12.25}})
	require.NoError(t, err)

	sink(b, time.Now(), kafka.ContentType(nil))
	rows := store.Latest()
	require.Len(t, rows, 1)
	assert.Equal(t, "plc_0_2", rows[0].Name)
	assert.Equal(t, "12.25", rows[0].Value)
}
