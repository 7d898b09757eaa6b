package messages

import (
	"bytes"

	gojson "github.com/goccy/go-json"
)

// DataSetMetaData describes the layout of a dataset writer's messages.
type DataSetMetaData struct {
	Name                 string                `json:"Name"`
	Description          LocalizedText         `json:"Description,omitempty"`
	Fields               []FieldMetaData       `json:"Fields"`
	DataSetClassID       string                `json:"DataSetClassId,omitempty"`
	ConfigurationVersion *ConfigurationVersion `json:"ConfigurationVersion,omitempty"`
}

// FieldMetaData describes one dataset field.
type FieldMetaData struct {
	Name           string        `json:"Name"`
	Description    LocalizedText `json:"Description,omitempty"`
	BuiltInType    byte          `json:"BuiltInType"`
	DataType       any           `json:"DataType,omitempty"`
	ValueRank      int32         `json:"ValueRank,omitempty"`
	DataSetFieldID string        `json:"DataSetFieldId,omitempty"`
}

// LocalizedText accepts either a bare string or {"Locale","Text"}.
type LocalizedText struct {
	Locale string `json:"Locale,omitempty"`
	Text   string `json:"Text,omitempty"`
}

func (l *LocalizedText) UnmarshalJSON(b []byte) error {
	*l = LocalizedText{}
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return gojson.Unmarshal(b, &l.Text)
	}
	type plain LocalizedText
	var p plain
	if err := gojson.Unmarshal(b, &p); err != nil {
		return err
	}
	*l = LocalizedText(p)
	return nil
}
