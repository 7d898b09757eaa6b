package decoder

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/internal/model"
)

const uadpVersion = 1

// NetworkMessage header flags.
const (
	nmPublisherID   = 0x10
	nmGroupHeader   = 0x20
	nmPayloadHeader = 0x40
	nmExtFlags1     = 0x80

	ext1PublisherIDType = 0x07
	ext1DataSetClassID  = 0x08
	ext1Security        = 0x10
	ext1Timestamp       = 0x20
	ext1PicoSeconds     = 0x40
	ext1ExtFlags2       = 0x80

	ext2Chunk          = 0x01
	ext2PromotedFields = 0x02
)

const (
	pubIDByte = iota
	pubIDUInt16
	pubIDUInt32
	pubIDUInt64
	pubIDString
)

const (
	msgTypeData = iota
	msgTypeDiscoveryRequest
	msgTypeDiscoveryResponse
)

const discoveryDataSetMetaData = 2

// GroupHeader flags.
const (
	grpWriterGroupID        = 0x01
	grpGroupVersion         = 0x02
	grpNetworkMessageNumber = 0x04
	grpSequenceNumber       = 0x08
)

// DataSetMessage header flags.
const (
	ds1Valid        = 0x01
	ds1Sequence     = 0x08
	ds1Status       = 0x10
	ds1MajorVersion = 0x20
	ds1MinorVersion = 0x40
	ds1Flags2       = 0x80

	ds2Timestamp   = 0x10
	ds2PicoSeconds = 0x20
)

// FieldEncoding is how the fields of a UADP dataset message are encoded.
type FieldEncoding byte

const (
	EncodingVariant FieldEncoding = iota
	EncodingRawData
	EncodingDataValue
)

const (
	dsKeyFrame = iota
	dsDeltaFrame
	dsEvent
	dsKeepAlive
)

const statusBad = 0x80000000

type uadpHeader struct {
	publisherID  string
	msgType      byte
	responseType byte
	writerIDs    []uint16
	sizes        []uint16
	timestamp    time.Time
}

func (d *Decoder) decodeUADP(payload []byte, receivedAt time.Time) []Result {
	r := newReader(payload)
	h, err := readNetworkHeader(r)
	if err != nil {
		return []Result{Malformed{Format: model.FormatUADP, Err: err}}
	}

	switch h.msgType {
	case msgTypeData:
		return d.uadpData(r, h, receivedAt)
	case msgTypeDiscoveryResponse:
		return []Result{d.uadpDiscovery(r, h)}
	default:
		return []Result{Malformed{Format: model.FormatUADP, Err: fmt.Errorf("%w: network message type %d", ErrUnsupported, h.msgType)}}
	}
}

func readNetworkHeader(r *reader) (uadpHeader, error) {
	var h uadpHeader

	flags := r.u8("version/flags")
	if r.err != nil {
		return h, r.err
	}
	if v := flags & 0x0f; v != uadpVersion {
		return h, fmt.Errorf("%w: UADP version %d", ErrUnsupported, v)
	}

	var ext1, ext2 byte
	if flags&nmExtFlags1 != 0 {
		ext1 = r.u8("extended flags 1")
		if ext1&ext1ExtFlags2 != 0 {
			ext2 = r.u8("extended flags 2")
		}
	}
	if ext1&ext1Security != 0 {
		return h, fmt.Errorf("%w: secured network message", ErrUnsupported)
	}
	if ext2&ext2Chunk != 0 {
		return h, fmt.Errorf("%w: chunked network message", ErrUnsupported)
	}
	h.msgType = (ext2 >> 2) & 0x07

	if flags&nmPublisherID != 0 {
		switch ext1 & ext1PublisherIDType {
		case pubIDByte:
			h.publisherID = strconv.FormatUint(uint64(r.u8("publisher id")), 10)
		case pubIDUInt16:
			h.publisherID = strconv.FormatUint(uint64(r.u16("publisher id")), 10)
		case pubIDUInt32:
			h.publisherID = strconv.FormatUint(uint64(r.u32("publisher id")), 10)
		case pubIDUInt64:
			h.publisherID = strconv.FormatUint(r.u64("publisher id"), 10)
		case pubIDString:
			h.publisherID = r.str("publisher id")
		default:
			return h, fmt.Errorf("%w: publisher id type %d", ErrMalformed, ext1&ext1PublisherIDType)
		}
	}
	if ext1&ext1DataSetClassID != 0 {
		r.skip(16, "dataset class id")
	}

	if flags&nmGroupHeader != 0 {
		g := r.u8("group flags")
		if g&grpWriterGroupID != 0 {
			r.u16("writer group id")
		}
		if g&grpGroupVersion != 0 {
			r.u32("group version")
		}
		if g&grpNetworkMessageNumber != 0 {
			r.u16("network message number")
		}
		if g&grpSequenceNumber != 0 {
			r.u16("sequence number")
		}
	}

	switch h.msgType {
	case msgTypeData:
		if flags&nmPayloadHeader != 0 {
			n := int(r.u8("dataset count"))
			h.writerIDs = make([]uint16, 0, n)
			for i := 0; i < n && r.err == nil; i++ {
				h.writerIDs = append(h.writerIDs, r.u16("dataset writer id"))
			}
		}
	case msgTypeDiscoveryResponse:
		h.responseType = r.u8("discovery response type")
		r.u16("discovery sequence number")
	}

	if ext1&ext1Timestamp != 0 {
		h.timestamp = r.dateTime("timestamp")
	}
	if ext1&ext1PicoSeconds != 0 {
		r.u16("picoseconds")
	}
	if ext2&ext2PromotedFields != 0 {
		n := r.u16("promoted fields size")
		r.skip(int(n), "promoted fields")
	}

	if h.msgType == msgTypeData && len(h.writerIDs) > 1 {
		h.sizes = make([]uint16, 0, len(h.writerIDs))
		for range h.writerIDs {
			h.sizes = append(h.sizes, r.u16("dataset message size"))
		}
	}
	return h, r.err
}

func (d *Decoder) uadpData(r *reader, h uadpHeader, receivedAt time.Time) []Result {
	writerIDs := h.writerIDs
	if len(writerIDs) == 0 {
		writerIDs = []uint16{0}
	}

	bodies := make([][]byte, 0, len(writerIDs))
	if len(h.sizes) > 0 {
		for i, size := range h.sizes {
			b := r.bytes(int(size), "dataset message "+strconv.Itoa(i))
			if r.err != nil {
				return []Result{Malformed{Format: model.FormatUADP, Err: r.err}}
			}
			bodies = append(bodies, b)
		}
	} else {
		bodies = append(bodies, r.rest())
	}

	var (
		out    []Result
		frames = make([]model.DecodedFrame, 0, len(bodies))
	)
	for i, body := range bodies {
		key := model.StreamKey{PublisherID: h.publisherID, WriterID: writerIDs[i]}
		frame, ok, err := d.uadpDataSet(key, body, h.timestamp, receivedAt)
		if err != nil {
			k := key
			out = append(out, Malformed{Format: model.FormatUADP, Key: &k, Err: err})
			continue
		}
		if ok {
			frames = append(frames, frame)
		}
	}
	if len(frames) > 0 {
		out = append([]Result{Data{Format: model.FormatUADP, Frames: frames}}, out...)
	}
	return out
}

// uadpDataSet decodes one DataSetMessage. ok is false for messages that carry no
// values (invalid or keep-alive).
func (d *Decoder) uadpDataSet(key model.StreamKey, body []byte, netTimestamp, receivedAt time.Time) (model.DecodedFrame, bool, error) {
	r := newReader(body)

	f1 := r.u8("dataset flags 1")
	if r.err != nil {
		return model.DecodedFrame{}, false, r.err
	}
	if f1&ds1Valid == 0 {
		return model.DecodedFrame{}, false, nil
	}
	enc := FieldEncoding((f1 >> 1) & 0x03)
	if enc > EncodingDataValue {
		return model.DecodedFrame{}, false, fmt.Errorf("%w: field encoding %d", ErrMalformed, enc)
	}

	var f2 byte
	if f1&ds1Flags2 != 0 {
		f2 = r.u8("dataset flags 2")
	}
	if f1&ds1Sequence != 0 {
		r.u16("dataset sequence number")
	}
	var dsTimestamp time.Time
	if f2&ds2Timestamp != 0 {
		dsTimestamp = r.dateTime("dataset timestamp")
	}
	if f2&ds2PicoSeconds != 0 {
		r.u16("dataset picoseconds")
	}
	var status uint16
	if f1&ds1Status != 0 {
		status = r.u16("dataset status")
	}
	if f1&ds1MajorVersion != 0 {
		r.u32("major version")
	}
	if f1&ds1MinorVersion != 0 {
		r.u32("minor version")
	}
	if r.err != nil {
		return model.DecodedFrame{}, false, r.err
	}
	if dsTimestamp.IsZero() {
		dsTimestamp = netTimestamp
	}
	dsBad := uint32(status)<<16&statusBad != 0

	msgType := f2 & 0x0f
	if msgType == dsKeepAlive {
		return model.DecodedFrame{}, false, nil
	}

	entry := d.registry.Resolve(key, model.FormatUADP)
	asset, err := d.assetFor(entry, key)
	if err != nil {
		return model.DecodedFrame{}, false, err
	}

	frame := model.DecodedFrame{Key: key}
	add := func(index int, f field) {
		frame.Fields = append(frame.Fields, model.FieldValue{
			DisplayName:     DisplayName(asset, fieldLabel("", entry, index), key.WriterID),
			Value:           scalar(f.value),
			SourceTimestamp: stamp(f.timestamp, dsTimestamp, receivedAt),
			Bad:             dsBad || f.bad,
		})
	}

	switch msgType {
	case dsKeyFrame:
		var count int
		if enc == EncodingRawData {
			if entry.Default || len(entry.Fields) == 0 {
				return model.DecodedFrame{}, false, fmt.Errorf("%w: raw data fields without metadata", ErrUnsupported)
			}
			count = len(entry.Fields)
		} else {
			count = int(r.u16("field count"))
		}
		for i := 0; i < count; i++ {
			f, err := readField(r, enc, entry.FieldType(i))
			if err != nil {
				return model.DecodedFrame{}, false, fmt.Errorf("field %d: %w", i, err)
			}
			add(i, f)
		}
	case dsDeltaFrame:
		count := int(r.u16("field count"))
		for i := 0; i < count; i++ {
			idx := int(r.u16("field index"))
			f, err := readField(r, enc, entry.FieldType(idx))
			if err != nil {
				return model.DecodedFrame{}, false, fmt.Errorf("field %d: %w", idx, err)
			}
			add(idx, f)
		}
	case dsEvent:
		count := int(r.u16("field count"))
		for i := 0; i < count; i++ {
			f, err := readField(r, EncodingVariant, 0)
			if err != nil {
				return model.DecodedFrame{}, false, fmt.Errorf("event field %d: %w", i, err)
			}
			add(i, f)
		}
	default:
		return model.DecodedFrame{}, false, fmt.Errorf("%w: dataset message type %d", ErrUnsupported, msgType)
	}
	if r.err != nil {
		return model.DecodedFrame{}, false, r.err
	}
	return frame, true, nil
}

type field struct {
	value     any
	timestamp time.Time
	bad       bool
}

func readField(r *reader, enc FieldEncoding, hint model.BuiltInType) (field, error) {
	switch enc {
	case EncodingVariant:
		if r.err != nil {
			return field{}, r.err
		}
		var v ua.Variant
		n, err := v.Decode(r.rest())
		if err != nil {
			return field{}, fmt.Errorf("%w: variant: %v", ErrMalformed, err)
		}
		r.skip(n, "variant")
		return field{value: v.Value()}, r.err
	case EncodingDataValue:
		if r.err != nil {
			return field{}, r.err
		}
		var dv ua.DataValue
		n, err := dv.Decode(r.rest())
		if err != nil {
			return field{}, fmt.Errorf("%w: data value: %v", ErrMalformed, err)
		}
		r.skip(n, "data value")
		f := field{
			timestamp: dv.SourceTimestamp,
			bad:       uint32(dv.Status)&statusBad != 0,
		}
		if dv.Value != nil {
			f.value = dv.Value.Value()
		}
		return f, r.err
	default:
		v, err := readRaw(r, hint)
		return field{value: v}, err
	}
}

func readRaw(r *reader, t model.BuiltInType) (any, error) {
	var v any
	switch t {
	case model.TypeBoolean:
		v = r.u8("boolean") != 0
	case model.TypeSByte:
		v = int8(r.u8("sbyte"))
	case model.TypeByte:
		v = r.u8("byte")
	case model.TypeInt16:
		v = int16(r.u16("int16"))
	case model.TypeUInt16:
		v = r.u16("uint16")
	case model.TypeInt32:
		v = int32(r.u32("int32"))
	case model.TypeUInt32:
		v = r.u32("uint32")
	case model.TypeInt64:
		v = int64(r.u64("int64"))
	case model.TypeUInt64:
		v = r.u64("uint64")
	case model.TypeFloat:
		v = math.Float32frombits(r.u32("float"))
	case model.TypeDouble:
		v = math.Float64frombits(r.u64("double"))
	case model.TypeString:
		v = r.str("string")
	case model.TypeDateTime:
		v = r.dateTime("datetime")
	default:
		return nil, fmt.Errorf("%w: raw data of built-in type %d", ErrUnsupported, t)
	}
	return v, r.err
}

func (d *Decoder) uadpDiscovery(r *reader, h uadpHeader) Result {
	if h.responseType != discoveryDataSetMetaData {
		return Malformed{Format: model.FormatUADP, Err: fmt.Errorf("%w: discovery response type %d", ErrUnsupported, h.responseType)}
	}

	writerID := r.u16("dataset writer id")
	entry, err := readMetaData(r)
	if err != nil {
		return Malformed{Format: model.FormatUADP, Err: err}
	}
	status := r.u32("status code")
	if r.err != nil {
		return Malformed{Format: model.FormatUADP, Err: r.err}
	}
	key := model.StreamKey{PublisherID: h.publisherID, WriterID: writerID}
	if status&statusBad != 0 {
		return Malformed{Format: model.FormatUADP, Key: &key, Err: fmt.Errorf("%w: metadata status 0x%08x", ErrMalformed, status)}
	}

	d.registry.Upsert(key, entry)
	d.log.Debug("schema updated",
		zap.Stringer("stream", key),
		zap.String("name", entry.Name),
		zap.Int("fields", len(entry.Fields)))
	return Metadata{Format: model.FormatUADP, Key: key, Entry: entry}
}

// readMetaData reads a DataSetMetaDataType. Type descriptions are not supported.
func readMetaData(r *reader) (model.SchemaEntry, error) {
	var entry model.SchemaEntry

	for i, n := 0, r.arrayLen("namespaces"); i < n; i++ {
		r.str("namespace")
	}
	for _, what := range []string{"structure data types", "enum data types", "simple data types"} {
		if n := r.arrayLen(what); n > 0 {
			return entry, fmt.Errorf("%w: metadata with %s", ErrUnsupported, what)
		}
	}
	entry.Name = r.str("metadata name")
	readLocalizedText(r)

	n := r.arrayLen("fields")
	entry.Fields = make([]model.FieldDescriptor, 0, n)
	for i := 0; i < n; i++ {
		name := r.str("field name")
		readLocalizedText(r)
		r.u16("field flags")
		bt := r.u8("built-in type")
		if err := skipNodeID(r); err != nil {
			return entry, err
		}
		r.u32("value rank")
		dims := r.arrayLen("array dimensions")
		r.skip(4*dims, "array dimensions")
		r.u32("max string length")
		r.skip(16, "dataset field id")
		for j, np := 0, r.arrayLen("properties"); j < np; j++ {
			r.u16("property namespace")
			r.str("property name")
			if _, err := readField(r, EncodingVariant, 0); err != nil {
				return entry, fmt.Errorf("property: %w", err)
			}
		}
		if r.err != nil {
			return entry, r.err
		}
		entry.Fields = append(entry.Fields, model.FieldDescriptor{Name: name, TypeHint: model.BuiltInType(bt)})
	}
	r.skip(16, "dataset class id")
	r.u32("configuration major version")
	r.u32("configuration minor version")
	return entry, r.err
}

func readLocalizedText(r *reader) {
	mask := r.u8("localized text mask")
	if mask&0x01 != 0 {
		r.str("locale")
	}
	if mask&0x02 != 0 {
		r.str("text")
	}
}

func skipNodeID(r *reader) error {
	if r.err != nil {
		return r.err
	}
	var id ua.NodeID
	n, err := id.Decode(r.rest())
	if err != nil {
		return fmt.Errorf("%w: data type node id: %v", ErrMalformed, err)
	}
	r.skip(n, "node id")
	return r.err
}
