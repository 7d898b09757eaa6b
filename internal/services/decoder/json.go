package decoder

import (
	"fmt"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/internal/model"
	"github.com/LeonardoBeccarini/uadashboard/internal/model/messages"
)

func (d *Decoder) decodeJSON(raw []byte, receivedAt time.Time) []Result {
	var msg messages.NetworkMessage
	if err := gojson.Unmarshal(raw, &msg); err != nil {
		return []Result{Malformed{Format: model.FormatJSON, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}}
	}

	if msg.IsMetadata() {
		return []Result{d.jsonMetadata(msg)}
	}
	if msg.MessageType != "" && !strings.EqualFold(msg.MessageType, messages.MessageTypeData) {
		return []Result{Malformed{Format: model.FormatJSON, Err: fmt.Errorf("%w: message type %q", ErrUnsupported, msg.MessageType)}}
	}
	if len(msg.Messages) == 0 {
		return []Result{Malformed{Format: model.FormatJSON, Err: fmt.Errorf("%w: no dataset messages", ErrMalformed)}}
	}

	var (
		out    []Result
		frames = make([]model.DecodedFrame, 0, len(msg.Messages))
	)
	for _, dsm := range msg.Messages {
		pub := string(dsm.PublisherID)
		if pub == "" {
			pub = string(msg.PublisherID)
		}
		key := model.StreamKey{PublisherID: pub, WriterID: uint16(dsm.DataSetWriterID)}

		frame, err := d.jsonFrame(key, dsm, receivedAt)
		if err != nil {
			k := key
			out = append(out, Malformed{Format: model.FormatJSON, Key: &k, Err: err})
			continue
		}
		frames = append(frames, frame)
	}
	if len(frames) > 0 {
		out = append([]Result{Data{Format: model.FormatJSON, Frames: frames}}, out...)
	}
	return out
}

func (d *Decoder) jsonMetadata(msg messages.NetworkMessage) Result {
	if msg.MetaData == nil {
		return Malformed{Format: model.FormatJSON, Err: fmt.Errorf("%w: metadata message without MetaData", ErrMalformed)}
	}
	key := model.StreamKey{
		PublisherID: string(msg.PublisherID),
		WriterID:    uint16(msg.DataSetWriterID),
	}
	entry := model.SchemaEntry{
		Name:   msg.MetaData.Name,
		Fields: make([]model.FieldDescriptor, 0, len(msg.MetaData.Fields)),
	}
	for _, f := range msg.MetaData.Fields {
		entry.Fields = append(entry.Fields, model.FieldDescriptor{
			Name:     f.Name,
			TypeHint: model.BuiltInType(f.BuiltInType),
		})
	}
	d.registry.Upsert(key, entry)
	d.log.Debug("schema updated",
		zap.Stringer("stream", key),
		zap.String("name", entry.Name),
		zap.Int("fields", len(entry.Fields)))
	return Metadata{Format: model.FormatJSON, Key: key, Entry: entry}
}

func (d *Decoder) jsonFrame(key model.StreamKey, dsm messages.DataSetMessage, receivedAt time.Time) (model.DecodedFrame, error) {
	entry := d.registry.Resolve(key, model.FormatJSON)
	asset, err := d.assetFor(entry, key)
	if err != nil {
		return model.DecodedFrame{}, err
	}

	frame := model.DecodedFrame{
		Key:    key,
		Fields: make([]model.FieldValue, 0, len(dsm.Payload)),
	}
	for i, e := range dsm.Payload {
		frame.Fields = append(frame.Fields, model.FieldValue{
			DisplayName:     DisplayName(asset, fieldLabel(e.Name, entry, i), key.WriterID),
			Value:           scalar(e.Value.Value),
			SourceTimestamp: stamp(e.Value.SourceTimestamp, dsm.Timestamp, receivedAt),
			Bad:             e.Value.Bad(),
		})
	}
	return frame, nil
}
