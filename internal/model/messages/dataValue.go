package messages

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
)

// statusSeverityBad is the severity bit of an OPC UA status code.
const statusSeverityBad = 0x80000000

// DataValue is a payload field: a value with optional status and timestamps.
// Raw (non-DataValue) payload entries decode with only Value set.
type DataValue struct {
	Value           any
	Status          uint32
	SourceTimestamp time.Time
	ServerTimestamp time.Time
}

// Bad reports whether the status code has bad severity.
func (d DataValue) Bad() bool {
	return d.Status&statusSeverityBad != 0
}

var dataValueKeys = []string{"Value", "StatusCode", "Status", "SourceTimestamp", "ServerTimestamp"}

func (d *DataValue) UnmarshalJSON(b []byte) error {
	*d = DataValue{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		v, err := decodeValue(b)
		if err != nil {
			return err
		}
		d.Value = v
		return nil
	}

	var obj map[string]gojson.RawMessage
	if err := gojson.Unmarshal(b, &obj); err != nil {
		return err
	}
	if !hasAny(obj, dataValueKeys) {
		v, err := decodeValue(b)
		if err != nil {
			return err
		}
		d.Value = v
		return nil
	}

	if raw, ok := obj["Value"]; ok {
		v, err := decodeValue(raw)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		d.Value = v
	}
	for _, k := range []string{"StatusCode", "Status"} {
		if raw, ok := obj[k]; ok {
			code, err := decodeStatus(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			d.Status = code
			break
		}
	}
	if raw, ok := obj["SourceTimestamp"]; ok {
		t, err := decodeTime(raw)
		if err != nil {
			return fmt.Errorf("source timestamp: %w", err)
		}
		d.SourceTimestamp = t
	}
	if raw, ok := obj["ServerTimestamp"]; ok {
		t, err := decodeTime(raw)
		if err != nil {
			return fmt.Errorf("server timestamp: %w", err)
		}
		d.ServerTimestamp = t
	}
	return nil
}

// decodeValue decodes a JSON value, unwrapping a reversible {"Type","Body"} variant.
// Numbers are kept as gojson.Number so integers survive beyond 2^53.
func decodeValue(b []byte) (any, error) {
	var v any
	dec := gojson.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok && len(m) <= 3 {
		if body, ok := m["Body"]; ok {
			if _, typed := m["Type"]; typed {
				return body, nil
			}
		}
	}
	return v, nil
}

func decodeStatus(b []byte) (uint32, error) {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return 0, nil
	}
	if len(b) > 0 && b[0] == '{' {
		var s struct {
			Code uint32 `json:"Code"`
		}
		if err := gojson.Unmarshal(b, &s); err != nil {
			return 0, err
		}
		return s.Code, nil
	}
	var code uint32
	if err := gojson.Unmarshal(b, &code); err != nil {
		return 0, err
	}
	return code, nil
}

func decodeTime(b []byte) (time.Time, error) {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		return time.Time{}, nil
	}
	var t time.Time
	if err := gojson.Unmarshal(b, &t); err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func hasAny(obj map[string]gojson.RawMessage, keys []string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

// PayloadEntry is one named field of a dataset payload.
type PayloadEntry struct {
	Name  string
	Value DataValue
}

// Payload is a dataset payload in the order the publisher wrote its fields.
type Payload []PayloadEntry

var errPayloadNotObject = errors.New("payload is not a JSON object")

func (p *Payload) UnmarshalJSON(b []byte) error {
	*p = nil
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	dec := gojson.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(gojson.Delim); !ok || delim != '{' {
		return errPayloadNotObject
	}

	out := make(Payload, 0, 8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("payload key %v is not a string", tok)
		}
		var raw gojson.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("payload field %q: %w", name, err)
		}
		var dv DataValue
		if err := dv.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("payload field %q: %w", name, err)
		}
		out = append(out, PayloadEntry{Name: name, Value: dv})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// MarshalJSON writes the payload back as an object, preserving field order.
func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := gojson.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := gojson.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON writes the non-reversible DataValue form.
func (d DataValue) MarshalJSON() ([]byte, error) {
	out := struct {
		Value           any        `json:"Value"`
		StatusCode      uint32     `json:"StatusCode,omitempty"`
		SourceTimestamp *time.Time `json:"SourceTimestamp,omitempty"`
		ServerTimestamp *time.Time `json:"ServerTimestamp,omitempty"`
	}{Value: d.Value, StatusCode: d.Status}
	if !d.SourceTimestamp.IsZero() {
		t := d.SourceTimestamp.UTC()
		out.SourceTimestamp = &t
	}
	if !d.ServerTimestamp.IsZero() {
		t := d.ServerTimestamp.UTC()
		out.ServerTimestamp = &t
	}
	return gojson.Marshal(out)
}
