package decoder

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
)

// scalar degrades composite values (arrays, maps, structures) to their JSON text
// so that everything past the decoder handles scalars only.
func scalar(v any) any {
	switch x := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, time.Time:
		return v
	case gojson.Number:
		return number(x)
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case fmt.Stringer:
		if isComposite(reflect.ValueOf(v)) {
			return jsonText(v)
		}
		return x.String()
	}
	return jsonText(v)
}

// number narrows a JSON number to int64, uint64 or float64, in that order.
func number(n gojson.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if u, err := strconv.ParseUint(string(n), 10, 64); err == nil {
		return u
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return string(n)
}

func isComposite(rv reflect.Value) bool {
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}

func jsonText(v any) any {
	b, err := gojson.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
