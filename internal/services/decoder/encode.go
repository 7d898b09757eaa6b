package decoder

import (
	"fmt"
	"math"
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/LeonardoBeccarini/uadashboard/internal/model"
)

// DataSet is one key-frame dataset message to encode.
type DataSet struct {
	WriterID  uint16
	Sequence  uint16
	Timestamp time.Time
	Values    []any
}

// EncodeUADPData encodes key-frame dataset messages into one UADP network message
// with a string publisher id and a payload header.
func EncodeUADPData(publisherID string, enc FieldEncoding, sets ...DataSet) ([]byte, error) {
	if len(sets) == 0 || len(sets) > math.MaxUint8 {
		return nil, fmt.Errorf("dataset count %d out of range", len(sets))
	}

	bodies := make([][]byte, 0, len(sets))
	for _, ds := range sets {
		b, err := encodeDataSet(enc, ds)
		if err != nil {
			return nil, fmt.Errorf("writer %d: %w", ds.WriterID, err)
		}
		bodies = append(bodies, b)
	}

	w := &writer{}
	w.u8(uadpVersion | nmPublisherID | nmPayloadHeader | nmExtFlags1)
	w.u8(pubIDString)
	w.str(publisherID)
	w.u8(byte(len(sets)))
	for _, ds := range sets {
		w.u16(ds.WriterID)
	}
	if len(bodies) > 1 {
		for _, b := range bodies {
			if len(b) > math.MaxUint16 {
				return nil, fmt.Errorf("dataset message of %d bytes", len(b))
			}
			w.u16(uint16(len(b)))
		}
	}
	for _, b := range bodies {
		w.raw(b)
	}
	return w.b, nil
}

func encodeDataSet(enc FieldEncoding, ds DataSet) ([]byte, error) {
	w := &writer{}
	f1 := byte(ds1Valid) | byte(enc)<<1 | ds1Sequence
	var f2 byte = dsKeyFrame
	if !ds.Timestamp.IsZero() {
		f1 |= ds1Flags2
		f2 |= ds2Timestamp
	}
	w.u8(f1)
	if f1&ds1Flags2 != 0 {
		w.u8(f2)
	}
	w.u16(ds.Sequence)
	if f2&ds2Timestamp != 0 {
		w.dateTime(ds.Timestamp)
	}

	if enc != EncodingRawData {
		w.u16(uint16(len(ds.Values)))
	}
	for i, v := range ds.Values {
		if err := writeField(w, enc, v); err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
	}
	return w.b, nil
}

func writeField(w *writer, enc FieldEncoding, v any) error {
	switch enc {
	case EncodingVariant:
		vr, err := ua.NewVariant(v)
		if err != nil {
			return err
		}
		b, err := vr.Encode()
		if err != nil {
			return err
		}
		w.raw(b)
	case EncodingDataValue:
		vr, err := ua.NewVariant(v)
		if err != nil {
			return err
		}
		dv := &ua.DataValue{EncodingMask: ua.DataValueValue, Value: vr}
		b, err := dv.Encode()
		if err != nil {
			return err
		}
		w.raw(b)
	case EncodingRawData:
		return writeRaw(w, v)
	default:
		return fmt.Errorf("%w: field encoding %d", ErrUnsupported, enc)
	}
	return nil
}

func writeRaw(w *writer, v any) error {
	switch x := v.(type) {
	case bool:
		if x {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case int8:
		w.u8(byte(x))
	case uint8:
		w.u8(x)
	case int16:
		w.u16(uint16(x))
	case uint16:
		w.u16(x)
	case int32:
		w.u32(uint32(x))
	case uint32:
		w.u32(x)
	case int64:
		w.u64(uint64(x))
	case uint64:
		w.u64(x)
	case float32:
		w.u32(math.Float32bits(x))
	case float64:
		w.u64(math.Float64bits(x))
	case string:
		w.str(x)
	case time.Time:
		w.dateTime(x)
	default:
		return fmt.Errorf("%w: raw data of %T", ErrUnsupported, v)
	}
	return nil
}

// RawType returns the built-in type that writeRaw uses for v.
func RawType(v any) model.BuiltInType {
	switch v.(type) {
	case bool:
		return model.TypeBoolean
	case int8:
		return model.TypeSByte
	case uint8:
		return model.TypeByte
	case int16:
		return model.TypeInt16
	case uint16:
		return model.TypeUInt16
	case int32:
		return model.TypeInt32
	case uint32:
		return model.TypeUInt32
	case int64:
		return model.TypeInt64
	case uint64:
		return model.TypeUInt64
	case float32:
		return model.TypeFloat
	case float64:
		return model.TypeDouble
	case string:
		return model.TypeString
	case time.Time:
		return model.TypeDateTime
	}
	return 0
}

// EncodeUADPMetaData encodes a discovery response announcing the schema of one writer.
func EncodeUADPMetaData(publisherID string, writerID uint16, entry model.SchemaEntry) ([]byte, error) {
	w := &writer{}
	w.u8(uadpVersion | nmPublisherID | nmExtFlags1)
	w.u8(pubIDString | ext1ExtFlags2)
	w.u8(msgTypeDiscoveryResponse << 2)
	w.str(publisherID)
	w.u8(discoveryDataSetMetaData)
	w.u16(0)

	w.u16(writerID)
	w.u32(0) // namespaces
	w.u32(0) // structure data types
	w.u32(0) // enum data types
	w.u32(0) // simple data types
	w.str(entry.Name)
	w.u8(0)
	w.u32(uint32(len(entry.Fields)))
	for _, f := range entry.Fields {
		w.str(f.Name)
		w.u8(0)
		w.u16(0)
		w.u8(byte(f.TypeHint))
		id, err := ua.NewNumericNodeID(0, uint32(f.TypeHint)).Encode()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		w.raw(id)
		w.u32(math.MaxUint32) // scalar value rank
		w.u32(math.MaxUint32) // no array dimensions
		w.u32(0)
		w.raw(make([]byte, 16))
		w.u32(0)
	}
	w.raw(make([]byte, 16))
	w.u32(1)
	w.u32(0)

	w.u32(0) // status Good
	return w.b, nil
}
