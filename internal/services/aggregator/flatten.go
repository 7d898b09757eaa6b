package aggregator

import (
	"fmt"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/LeonardoBeccarini/uadashboard/internal/model"
)

// TimeLayout is the text form of every timestamp kept in the store.
const TimeLayout = time.RFC3339Nano

// Update is one flattened reading ready for the store.
type Update struct {
	Name  string
	Value string
	Time  string
}

// Flatten turns decoded frames into updates in frame order. A display name that
// appears more than once is kept only the first time; bad or unrenderable fields
// are skipped.
func Flatten(frames ...model.DecodedFrame) []Update {
	var n int
	for _, f := range frames {
		n += len(f.Fields)
	}
	out := make([]Update, 0, n)
	seen := make(map[string]struct{}, n)

	for _, f := range frames {
		for _, fv := range f.Fields {
			if fv.Bad || fv.DisplayName == "" {
				continue
			}
			if _, dup := seen[fv.DisplayName]; dup {
				continue
			}
			text, ok := ValueText(fv.Value)
			if !ok {
				continue
			}
			seen[fv.DisplayName] = struct{}{}
			out = append(out, Update{
				Name:  fv.DisplayName,
				Value: text,
				Time:  fv.SourceTimestamp.UTC().Format(TimeLayout),
			})
		}
	}
	return out
}

// ValueText renders a scalar as the text stored in the latest table.
func ValueText(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return formatFloat(x, 64)
	case float32:
		return formatFloat(float64(x), 32)
	case int:
		return strconv.Itoa(x), true
	case int8:
		return strconv.FormatInt(int64(x), 10), true
	case int16:
		return strconv.FormatInt(int64(x), 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint8:
		return strconv.FormatUint(uint64(x), 10), true
	case uint16:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case time.Time:
		return x.UTC().Format(TimeLayout), true
	case fmt.Stringer:
		return x.String(), true
	}
	b, err := gojson.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func formatFloat(f float64, bits int) (string, bool) {
	return strconv.FormatFloat(f, 'f', -1, bits), true
}
