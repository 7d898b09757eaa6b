package model

import (
	"strconv"
	"strings"
	"time"
)

// Format is the wire encoding an envelope arrived in.
type Format int

const (
	FormatJSON Format = iota
	FormatUADP
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatUADP:
		return "uadp"
	default:
		return "unknown"
	}
}

// StreamKey identifies one logical telemetry stream.
type StreamKey struct {
	PublisherID string
	WriterID    uint16
}

func (k StreamKey) String() string {
	return k.PublisherID + "/" + strconv.FormatUint(uint64(k.WriterID), 10)
}

// BuiltInType is the OPC UA built-in type id of a field (0 when unknown).
type BuiltInType byte

const (
	TypeBoolean BuiltInType = iota + 1
	TypeSByte
	TypeByte
	TypeInt16
	TypeUInt16
	TypeInt32
	TypeUInt32
	TypeInt64
	TypeUInt64
	TypeFloat
	TypeDouble
	TypeString
	TypeDateTime
)

// FieldDescriptor describes one field of a dataset.
type FieldDescriptor struct {
	Name     string
	TypeHint BuiltInType
}

// SchemaEntry is the most recent field layout announced for a stream.
type SchemaEntry struct {
	Name   string
	Fields []FieldDescriptor

	// Default marks the positional fallback entry of a wire format.
	Default bool
}

// assetSeparator ends the asset part of a dataset name ("Boiler1;Line3").
const assetSeparator = ";"

// AssetName returns the schema name truncated at its first separator.
func (s SchemaEntry) AssetName() string {
	name := strings.TrimSpace(s.Name)
	if i := strings.Index(name, assetSeparator); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// FieldName returns the name of field i, or "" when the layout does not cover it.
func (s SchemaEntry) FieldName(i int) string {
	if i < 0 || i >= len(s.Fields) {
		return ""
	}
	return s.Fields[i].Name
}

// FieldType returns the type hint of field i.
func (s SchemaEntry) FieldType(i int) BuiltInType {
	if i < 0 || i >= len(s.Fields) {
		return 0
	}
	return s.Fields[i].TypeHint
}

// FieldValue is one decoded, named, timestamped reading.
type FieldValue struct {
	DisplayName     string
	Value           any
	SourceTimestamp time.Time
	Bad             bool
}

// DecodedFrame is the output of decoding one dataset message.
type DecodedFrame struct {
	Key    StreamKey
	Fields []FieldValue
}
