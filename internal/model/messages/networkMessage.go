package messages

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
)

const (
	MessageTypeData     = "ua-data"
	MessageTypeMetaData = "ua-metadata"
)

// NetworkMessage is a JSON-encoded PubSub network message. Data messages carry
// Messages; metadata messages carry DataSetWriterId and MetaData.
type NetworkMessage struct {
	MessageID      string          `json:"MessageId"`
	MessageType    string          `json:"MessageType"`
	PublisherID    FlexString      `json:"PublisherId"`
	DataSetClassID string          `json:"DataSetClassId,omitempty"`
	Messages       DataSetMessages `json:"Messages,omitempty"`

	DataSetWriterID WriterID         `json:"DataSetWriterId,omitempty"`
	MetaData        *DataSetMetaData `json:"MetaData,omitempty"`
}

// IsMetadata reports whether the envelope announces a schema instead of data.
func (m NetworkMessage) IsMetadata() bool {
	if strings.EqualFold(m.MessageType, MessageTypeMetaData) {
		return true
	}
	return m.MessageType == "" && m.MetaData != nil && len(m.Messages) == 0
}

// DataSetMessage is one dataset inside a data network message.
type DataSetMessage struct {
	DataSetWriterID WriterID              `json:"DataSetWriterId"`
	PublisherID     FlexString            `json:"PublisherId,omitempty"`
	SequenceNumber  uint32                `json:"SequenceNumber,omitempty"`
	MetaDataVersion *ConfigurationVersion `json:"MetaDataVersion,omitempty"`
	MessageType     string                `json:"MessageType,omitempty"`
	Timestamp       time.Time             `json:"Timestamp,omitempty"`
	Payload         Payload               `json:"Payload"`
}

// DataSetMessages accepts either an array of dataset messages or a single object.
type DataSetMessages []DataSetMessage

func (d *DataSetMessages) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = nil
		return nil
	}
	if b[0] == '{' {
		var one DataSetMessage
		if err := gojson.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = DataSetMessages{one}
		return nil
	}
	var many []DataSetMessage
	if err := gojson.Unmarshal(b, &many); err != nil {
		return err
	}
	*d = many
	return nil
}

// ConfigurationVersion is the metadata version a dataset was encoded against.
type ConfigurationVersion struct {
	MajorVersion uint32 `json:"MajorVersion"`
	MinorVersion uint32 `json:"MinorVersion"`
}

// FlexString accepts a JSON string or number (publisher ids may be either).
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := gojson.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n gojson.Number
	if err := gojson.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("publisher id: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// WriterID accepts a JSON number or numeric string.
type WriterID uint16

func (w *WriterID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*w = 0
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := gojson.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*w = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return fmt.Errorf("dataset writer id %q: %w", s, err)
	}
	*w = WriterID(n)
	return nil
}
