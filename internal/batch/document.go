package batch

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/rohankatakam/revgraph/internal/errors"
)

var fieldPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Document is an opaque entity payload: named fields holding primitive
// values. Byte slices are stored as standard base64 text.
type Document map[string]any

// Fields returns the field names in sorted order.
func (d Document) Fields() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Properties converts the document into store-ready property values.
func (d Document) Properties() (map[string]any, error) {
	props := make(map[string]any, len(d))
	for field, v := range d {
		if !fieldPattern.MatchString(field) {
			return nil, errors.ValidationErrorf("invalid field name %q", field)
		}
		pv, err := propertyValue(v)
		if err != nil {
			return nil, errors.ValidationErrorf("field %s: %v", field, err)
		}
		props[field] = pv
	}
	return props, nil
}

// Canonical returns the JSON form recorded on the command node. Keys are
// sorted, so equal documents always produce equal payloads.
func (d Document) Canonical() (string, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(d))
	if err != nil {
		return "", errors.ValidationErrorf("encode payload: %v", err)
	}
	return string(b), nil
}

// DecodeDocument parses a stored command payload.
func DecodeDocument(payload string) (Document, error) {
	var d Document
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return d, nil
}

// Bytes decodes a byte field read back from the store or a decoded payload.
func (d Document) Bytes(field string) ([]byte, error) {
	switch v := d[field].(type) {
	case []byte:
		return v, nil
	case string:
		return base64.StdEncoding.DecodeString(v)
	default:
		return nil, fmt.Errorf("field %s is %T, not bytes", field, v)
	}
}

func propertyValue(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
