package decoder

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/uadashboard/internal/model"
)

var boilerSchema = model.SchemaEntry{
	Name: "Boiler2;Hall",
	Fields: []model.FieldDescriptor{
		{Name: "Temp", TypeHint: model.TypeDouble},
		{Name: "Running", TypeHint: model.TypeBoolean},
		{Name: "Count", TypeHint: model.TypeUInt32},
	},
}

func TestUADPMetadataRoundTrip(t *testing.T) {
	dec, reg := newDecoder(false)

	b, err := EncodeUADPMetaData("plc-7", 4, boilerSchema)
	require.NoError(t, err)

	res := dec.Decode(b, receivedAt, "application/octet-stream")
	require.Len(t, res, 1)
	md, ok := res[0].(Metadata)
	require.True(t, ok, "got %#v", res[0])
	assert.Equal(t, model.FormatUADP, md.Format)
	assert.Equal(t, model.StreamKey{PublisherID: "plc-7", WriterID: 4}, md.Key)
	assert.Equal(t, boilerSchema.Name, md.Entry.Name)
	assert.Equal(t, boilerSchema.Fields, md.Entry.Fields)

	stored, ok := reg.Lookup(md.Key)
	require.True(t, ok)
	assert.Equal(t, "Boiler2", stored.AssetName())
}

func TestUADPVariantData(t *testing.T) {
	dec, _ := newDecoder(false)
	meta, err := EncodeUADPMetaData("plc-7", 4, boilerSchema)
	require.NoError(t, err)
	dec.Decode(meta, receivedAt, "")

	ts := time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC)
	b, err := EncodeUADPData("plc-7", EncodingVariant, DataSet{
		WriterID:  4,
		Sequence:  9,
		Timestamp: ts,
		Values:    []any{71.25, true, uint32(12)},
	})
	require.NoError(t, err)

	d := onlyData(t, dec.Decode(b, receivedAt, ""))
	require.Len(t, d.Frames, 1)
	f := d.Frames[0].Fields
	require.Len(t, f, 3)
	assert.Equal(t, "Boiler2_Temp_4", f[0].DisplayName)
	assert.Equal(t, 71.25, f[0].Value)
	assert.True(t, ts.Equal(f[0].SourceTimestamp))
	assert.Equal(t, "Boiler2_Running_4", f[1].DisplayName)
	assert.Equal(t, true, f[1].Value)
	assert.Equal(t, uint32(12), f[2].Value)
}

func TestUADPRawDataNeedsSchema(t *testing.T) {
	dec, _ := newDecoder(true)

	b, err := EncodeUADPData("plc-7", EncodingRawData, DataSet{WriterID: 4, Values: []any{71.25, true, uint32(12)}})
	require.NoError(t, err)

	bad := malformed(dec.Decode(b, receivedAt, ""))
	require.Len(t, bad, 1)
	assert.ErrorIs(t, bad[0], ErrUnsupported)

	meta, err := EncodeUADPMetaData("plc-7", 4, boilerSchema)
	require.NoError(t, err)
	dec.Decode(meta, receivedAt, "")

	d := onlyData(t, dec.Decode(b, receivedAt, ""))
	f := d.Frames[0].Fields
	require.Len(t, f, 3)
	assert.Equal(t, 71.25, f[0].Value)
	assert.Equal(t, true, f[1].Value)
	assert.Equal(t, uint32(12), f[2].Value)
	assert.Equal(t, receivedAt, f[0].SourceTimestamp)
}

func TestUADPDataValueEncoding(t *testing.T) {
	dec, _ := newDecoder(true)

	b, err := EncodeUADPData("plc-9", EncodingDataValue, DataSet{WriterID: 1, Values: []any{float64(3)}})
	require.NoError(t, err)

	d := onlyData(t, dec.Decode(b, receivedAt, ""))
	f := d.Frames[0].Fields
	require.Len(t, f, 1)
	assert.Equal(t, "plc-9_0_1", f[0].DisplayName)
	assert.Equal(t, float64(3), f[0].Value)
	assert.False(t, f[0].Bad)
}

func TestUADPMultipleDataSets(t *testing.T) {
	dec, _ := newDecoder(true)

	b, err := EncodeUADPData("plc-1", EncodingVariant,
		DataSet{WriterID: 1, Values: []any{1.5}},
		DataSet{WriterID: 2, Values: []any{2.5, "on"}},
	)
	require.NoError(t, err)

	d := onlyData(t, dec.Decode(b, receivedAt, ""))
	require.Len(t, d.Frames, 2)
	assert.Equal(t, uint16(1), d.Frames[0].Key.WriterID)
	assert.Equal(t, "plc-1_0_1", d.Frames[0].Fields[0].DisplayName)
	assert.Equal(t, uint16(2), d.Frames[1].Key.WriterID)
	assert.Equal(t, "plc-1_1_2", d.Frames[1].Fields[1].DisplayName)
	assert.Equal(t, "on", d.Frames[1].Fields[1].Value)
}

func TestUADPNumericPublisherID(t *testing.T) {
	dec, _ := newDecoder(true)

	// flags: version 1, PublisherId, PayloadHeader, ExtFlags1; UInt16 publisher id 513.
	b := []byte{0xd1, 0x01, 0x01, 0x02, 0x01, 0x05, 0x00}
	// dataset: valid, variant encoding, one Double field.
	b = append(b, 0x01, 0x01, 0x00)
	b = append(b, 0x0b, 0, 0, 0, 0, 0, 0, 0xf0, 0x3f)

	d := onlyData(t, dec.Decode(b, receivedAt, ""))
	assert.Equal(t, model.StreamKey{PublisherID: "513", WriterID: 5}, d.Frames[0].Key)
	assert.Equal(t, 1.0, d.Frames[0].Fields[0].Value)
}

func TestUADPTruncated(t *testing.T) {
	dec, _ := newDecoder(true)

	b, err := EncodeUADPData("plc-1", EncodingVariant, DataSet{WriterID: 1, Values: []any{1.5, 2.5}})
	require.NoError(t, err)

	bad := malformed(dec.Decode(b[:len(b)-3], receivedAt, ""))
	require.Len(t, bad, 1)
	assert.Equal(t, model.FormatUADP, bad[0].Format)

	bad = malformed(dec.Decode(b[:4], receivedAt, ""))
	require.Len(t, bad, 1)
	assert.ErrorIs(t, bad[0], ErrTruncated)
}

func TestUADPRejectsSecurityAndChunks(t *testing.T) {
	dec, _ := newDecoder(true)

	bad := malformed(dec.Decode([]byte{0x81, 0x10}, receivedAt, ""))
	require.Len(t, bad, 1)
	assert.ErrorIs(t, bad[0], ErrUnsupported)

	bad = malformed(dec.Decode([]byte{0x81, 0x80, 0x01}, receivedAt, ""))
	require.Len(t, bad, 1)
	assert.ErrorIs(t, bad[0], ErrUnsupported)

	bad = malformed(dec.Decode([]byte{0x02}, receivedAt, ""))
	require.Len(t, bad, 1)
	assert.ErrorIs(t, bad[0], ErrUnsupported)
}

func TestUADPKeepAliveAndInvalidYieldNothing(t *testing.T) {
	dec, _ := newDecoder(true)

	keepAlive := []byte{0xd1, 0x04, 0x01, 0, 0, 0, 'p', 0x01, 0x05, 0x00, 0x81, dsKeepAlive}
	assert.Empty(t, dec.Decode(keepAlive, receivedAt, ""))

	invalid := []byte{0xd1, 0x04, 0x01, 0, 0, 0, 'p', 0x01, 0x05, 0x00, 0x00}
	assert.Empty(t, dec.Decode(invalid, receivedAt, ""))
}

func TestTicksRoundTrip(t *testing.T) {
	ts := time.Date(2023, 12, 24, 18, 30, 15, 123456700, time.UTC)
	assert.True(t, ts.Equal(fromTicks(toTicks(ts))))
	assert.True(t, fromTicks(0).IsZero())
	assert.Equal(t, int64(0), toTicks(time.Time{}))
}

func TestUADPLabelledAsJSON(t *testing.T) {
	dec, _ := newDecoder(true)

	b, err := EncodeUADPData("plc-9", EncodingVariant, DataSet{WriterID: 3, Values: []any{12.25}})
	require.NoError(t, err)

	d := onlyData(t, dec.Decode(b, receivedAt, "application/json"))
	assert.Equal(t, model.FormatUADP, d.Format)
	require.Len(t, d.Frames[0].Fields, 1)
	assert.Equal(t, "plc-9_0_3", d.Frames[0].Fields[0].DisplayName)
}

func TestTicksOutOfRange(t *testing.T) {
	far := time.Date(2500, 1, 1, 0, 0, 0, 0, time.UTC).Unix()*10_000_000 + epochDelta
	assert.True(t, fromTicks(far).IsZero())
	assert.True(t, fromTicks(math.MaxInt64).IsZero())
	assert.Equal(t, 2262, fromTicks(maxTicks).Year())

	dataset := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	assert.Equal(t, dataset, stamp(fromTicks(far), dataset, receivedAt))
}
