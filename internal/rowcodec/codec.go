package rowcodec

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"time"
)

// reflectNew allocates a new addressable zero value of zero's concrete
// type and returns a pointer to it, suitable as a json.Unmarshal target.
func reflectNew(zero any) any {
	if zero == nil {
		return nil
	}
	t := reflect.TypeOf(zero)
	return reflect.New(t).Interface()
}

// reflectDeref unwraps the pointer produced by reflectNew back into a
// plain value of the original concrete type.
func reflectDeref(ptr any) any {
	return reflect.ValueOf(ptr).Elem().Interface()
}

// EncodeRow converts one entity's Fields() into a Row following the
// supplied canonical column order (spec.md §4.6). Complex fields that are
// not natively scalar-compatible fall back to sorted-key JSON stored as a
// blob (spec.md §6).
func EncodeRow(t Table, columns []Column) (Row, error) {
	fields := t.Fields()
	row := make(Row, len(columns))
	for _, col := range columns {
		v, ok := fields[col.Name]
		if !ok {
			row[col.Name] = Null
			continue
		}
		s, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("rowcodec: encode column %q: %w", col.Name, err)
		}
		row[col.Name] = s
	}
	// id is always present and non-null once assigned.
	row["id"] = Uint64Value(uint64(t.RowID()))
	return row, nil
}

// EncodeValues is EncodeRow projected into the exact positional order of
// columns, the shape a batched INSERT needs (spec.md §4.6).
func EncodeValues(t Table, columns []Column) ([]Scalar, error) {
	row, err := EncodeRow(t, columns)
	if err != nil {
		return nil, err
	}
	out := make([]Scalar, len(columns))
	for i, col := range columns {
		out[i] = row[col.Name]
	}
	return out, nil
}

func encodeValue(v any) (Scalar, error) {
	switch t := v.(type) {
	case nil:
		return Null, nil
	case Scalar:
		return t, nil
	case *url.URL:
		return URLValue(t)
	case time.Time:
		return DateValue(t), nil
	case *time.Time:
		if t == nil {
			return Null, nil
		}
		return DateValue(*t), nil
	case RawRepresentable:
		return encodeValue(t.RawValue())
	case bool, string, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return FromAny(t), nil
	}

	// Named types with a scalar underlying kind (string- or int-based
	// enums). Pointer fields are not dereferenced here: FromAny yields Null
	// for them, so they fall through to the JSON blob below, and a nil
	// pointer is stored as the JSON text null rather than SQL NULL.
	if s := FromAny(v); !s.IsNull() {
		return s, nil
	}

	// Unknown complex type: blob of sorted-key JSON (spec.md §6).
	b, err := sortedJSON(v)
	if err != nil {
		return Scalar{}, err
	}
	return BlobValue(b), nil
}

// RawRepresentable is implemented by enum-like values that persist as
// their underlying scalar raw value (spec.md §4.4 "Enum-like
// rawrepresentable values store as their raw scalar").
type RawRepresentable interface {
	RawValue() any
}

// sortedJSON marshals v through a generic map so object keys come out
// sorted, matching spec.md §6's "blob containing UTF-8 JSON with sorted
// keys" for unknown complex types.
func sortedJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		// Not an object/array shape worth re-sorting (e.g. a bare number or
		// string) -- the original encoding is already canonical.
		return raw, nil
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf []byte
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		var buf []byte
		buf = append(buf, '[')
		for i, e := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := marshalSorted(e)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(t)
	}
}

// DecodeRow applies a Row onto target using the inverse of EncodeRow's
// conversions (spec.md §4.6). For each target field it looks up the column
// by exact name, then by its underscore-stripped form; unknown complex
// fields are JSON-decoded from the stored blob, and missing columns fall
// back to the field's zero value already present on target.
func DecodeRow(row Row, target Table) error {
	fields := target.Fields()
	out := make(map[string]any, len(fields))
	for name, zero := range fields {
		s, ok := row[name]
		if !ok {
			s, ok = row[stripUnderscore(name)]
		}
		if !ok {
			out[name] = zero
			continue
		}
		v, err := decodeValue(s, zero)
		if err != nil {
			return fmt.Errorf("rowcodec: decode column %q: %w", name, err)
		}
		out[name] = v
	}
	target.SetFields(out)
	if idScalar, ok := row["id"]; ok {
		if id, err := idScalar.ToUint64(); err == nil {
			target.SetRowID(AutoId(id))
		}
	}
	return nil
}

func stripUnderscore(name string) string {
	if len(name) > 0 && name[0] == '_' {
		return name[1:]
	}
	return name
}

func decodeValue(s Scalar, zero any) (any, error) {
	switch zero.(type) {
	case time.Time:
		return s.ToDate()
	case *url.URL:
		return s.ToURL()
	case bool:
		return s.ToBool()
	case string:
		return s.ToText()
	case []byte:
		return s.ToBlob()
	case int:
		v, err := s.ToInt64()
		return int(v), err
	case int8:
		return s.ToInt8()
	case int16:
		return s.ToInt16()
	case int32:
		return s.ToInt32()
	case int64:
		return s.ToInt64()
	case uint:
		v, err := s.ToUint64()
		return uint(v), err
	case uint8:
		return s.ToUint8()
	case uint16:
		return s.ToUint16()
	case uint32:
		return s.ToUint32()
	case uint64:
		return s.ToUint64()
	case float32:
		v, err := s.ToFloat64()
		return float32(v), err
	case float64:
		return s.ToFloat64()
	}

	if s.IsNull() {
		return zero, nil
	}
	b, err := s.ToBlob()
	if err != nil {
		return zero, nil
	}
	// JSON-decode into a fresh value shaped like zero's concrete type; a
	// plain `json.Unmarshal(b, &zero)` would decode into a bare `any` and
	// lose the target's concrete type.
	target := reflectNew(zero)
	if target == nil {
		return zero, nil
	}
	if err := json.Unmarshal(b, target); err != nil {
		return zero, nil
	}
	return reflectDeref(target), nil
}
