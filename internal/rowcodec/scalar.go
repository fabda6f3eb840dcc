// Package rowcodec implements the typed scalar variant, row representation,
// and entity<->row translation described in spec.md §4.4, §4.6 (C4, C7).
package rowcodec

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// AutoId is the 64-bit unsigned row identifier (spec.md §3.1). Zero means
// "unset".
type AutoId uint64

// GenerateID produces a fresh AutoId with the top 4 bits clear, per
// spec.md §3.1 / §6: generate_id = rand_u64(1..u64::MAX) >> 4.
func GenerateID() AutoId {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand failing is a process-fatal condition; fall back
			// to a time-seeded value rather than looping forever.
			v := AutoId(time.Now().UnixNano()) >> 4
			if v != 0 {
				return v
			}
			continue
		}
		v := AutoId(binary.BigEndian.Uint64(buf[:])) >> 4
		if v != 0 {
			return v
		}
	}
}

// Kind tags the dynamic type carried by a Scalar.
type Kind int

const (
	KindNull Kind = iota
	KindUint64
	KindInt64
	KindFloat64
	KindText
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindUint64:
		return "uint64"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "double"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Scalar is the tagged union described in spec.md §3.1/§4.4.
type Scalar struct {
	kind  Kind
	u64   uint64
	i64   int64
	f64   float64
	text  string
	blob  []byte
}

var ErrBadConversion = errors.New("rowcodec: value cannot be converted to requested type")

// Null is the null scalar.
var Null = Scalar{kind: KindNull}

func (s Scalar) Kind() Kind   { return s.kind }
func (s Scalar) IsNull() bool { return s.kind == KindNull }

func Uint64Value(v uint64) Scalar  { return Scalar{kind: KindUint64, u64: v} }
func Int64Value(v int64) Scalar    { return Scalar{kind: KindInt64, i64: v} }
func Float64Value(v float64) Scalar { return Scalar{kind: KindFloat64, f64: v} }
func TextValue(v string) Scalar    { return Scalar{kind: KindText, text: v} }
func BlobValue(v []byte) Scalar    { return Scalar{kind: KindBlob, blob: v} }
func BoolValue(v bool) Scalar {
	if v {
		return Int64Value(1)
	}
	return Int64Value(0)
}

// DateValue stores a time.Time as a real, unix seconds with fraction.
func DateValue(t time.Time) Scalar {
	return Float64Value(float64(t.UnixNano()) / float64(time.Second))
}

// URLValue stores an absolute URL as text.
func URLValue(u *url.URL) (Scalar, error) {
	if u == nil {
		return Null, nil
	}
	if !u.IsAbs() {
		return Scalar{}, fmt.Errorf("rowcodec: URL %q is not absolute: %w", u.String(), ErrBadConversion)
	}
	return TextValue(u.String()), nil
}

// FromAny classifies v by dynamic kind, per spec.md §4.4. Unsigned integer
// Go types route to KindUint64 to avoid sign corruption of the high bit.
func FromAny(v any) Scalar {
	if v == nil {
		return Null
	}
	switch t := v.(type) {
	case Scalar:
		return t
	case bool:
		return BoolValue(t)
	case string:
		return TextValue(t)
	case []byte:
		return BlobValue(t)
	case time.Time:
		return DateValue(t)
	case *url.URL:
		s, err := URLValue(t)
		if err != nil {
			return Null
		}
		return s
	case float32:
		return Float64Value(float64(t))
	case float64:
		return Float64Value(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Uint64Value(rv.Uint())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int64Value(rv.Int())
	case reflect.Float32, reflect.Float64:
		return Float64Value(rv.Float())
	case reflect.String:
		return TextValue(rv.String())
	case reflect.Bool:
		return BoolValue(rv.Bool())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return BlobValue(rv.Bytes())
		}
	}
	return Null
}

func (s Scalar) asFloat() (float64, bool) {
	switch s.kind {
	case KindUint64:
		return float64(s.u64), true
	case KindInt64:
		return float64(s.i64), true
	case KindFloat64:
		return s.f64, true
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(s.text), 64)
		return f, err == nil
	}
	return 0, false
}

func (s Scalar) asInt() (int64, bool) {
	switch s.kind {
	case KindUint64:
		return int64(s.u64), true
	case KindInt64:
		return s.i64, true
	case KindFloat64:
		return int64(s.f64), true
	case KindText:
		i, err := strconv.ParseInt(strings.TrimSpace(s.text), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func (s Scalar) asUint() (uint64, bool) {
	switch s.kind {
	case KindUint64:
		return s.u64, true
	case KindInt64:
		return uint64(s.i64), true
	case KindFloat64:
		return uint64(s.f64), true
	case KindText:
		u, err := strconv.ParseUint(strings.TrimSpace(s.text), 10, 64)
		return u, err == nil
	}
	return 0, false
}

// ToUint64/ToInt64/... implement the bidirectional width conversions of
// spec.md §4.4.
func (s Scalar) ToUint64() (uint64, error) {
	if v, ok := s.asUint(); ok {
		return v, nil
	}
	return 0, ErrBadConversion
}

func (s Scalar) ToUint32() (uint32, error) {
	v, err := s.ToUint64()
	if err != nil || v > math.MaxUint32 {
		return 0, ErrBadConversion
	}
	return uint32(v), nil
}

func (s Scalar) ToUint16() (uint16, error) {
	v, err := s.ToUint64()
	if err != nil || v > math.MaxUint16 {
		return 0, ErrBadConversion
	}
	return uint16(v), nil
}

func (s Scalar) ToUint8() (uint8, error) {
	v, err := s.ToUint64()
	if err != nil || v > math.MaxUint8 {
		return 0, ErrBadConversion
	}
	return uint8(v), nil
}

func (s Scalar) ToInt64() (int64, error) {
	if v, ok := s.asInt(); ok {
		return v, nil
	}
	return 0, ErrBadConversion
}

func (s Scalar) ToInt32() (int32, error) {
	v, err := s.ToInt64()
	if err != nil || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, ErrBadConversion
	}
	return int32(v), nil
}

func (s Scalar) ToInt16() (int16, error) {
	v, err := s.ToInt64()
	if err != nil || v > math.MaxInt16 || v < math.MinInt16 {
		return 0, ErrBadConversion
	}
	return int16(v), nil
}

func (s Scalar) ToInt8() (int8, error) {
	v, err := s.ToInt64()
	if err != nil || v > math.MaxInt8 || v < math.MinInt8 {
		return 0, ErrBadConversion
	}
	return int8(v), nil
}

func (s Scalar) ToFloat64() (float64, error) {
	if v, ok := s.asFloat(); ok {
		return v, nil
	}
	return 0, ErrBadConversion
}

func (s Scalar) ToBool() (bool, error) {
	v, err := s.ToInt64()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (s Scalar) ToDate() (time.Time, error) {
	f, err := s.ToFloat64()
	if err != nil {
		return time.Time{}, err
	}
	secs := int64(f)
	nanos := int64((f - float64(secs)) * float64(time.Second))
	return time.Unix(secs, nanos).UTC(), nil
}

func (s Scalar) ToURL() (*url.URL, error) {
	if s.IsNull() {
		return nil, nil
	}
	if s.kind != KindText {
		return nil, ErrBadConversion
	}
	u, err := url.Parse(s.text)
	if err != nil || !u.IsAbs() {
		return nil, ErrBadConversion
	}
	return u, nil
}

func (s Scalar) ToText() (string, error) {
	switch s.kind {
	case KindText:
		return s.text, nil
	case KindBlob:
		return string(s.blob), nil
	case KindUint64:
		return strconv.FormatUint(s.u64, 10), nil
	case KindInt64:
		return strconv.FormatInt(s.i64, 10), nil
	case KindFloat64:
		return strconv.FormatFloat(s.f64, 'g', -1, 64), nil
	}
	return "", nil
}

func (s Scalar) ToBlob() ([]byte, error) {
	switch s.kind {
	case KindBlob:
		return s.blob, nil
	case KindText:
		return []byte(s.text), nil
	}
	return nil, ErrBadConversion
}

// SQLLiteral renders s as a SQL literal per spec.md §4.4/§6.
func (s Scalar) SQLLiteral() string {
	switch s.kind {
	case KindNull:
		return "NULL"
	case KindUint64:
		return strconv.FormatUint(s.u64, 10)
	case KindInt64:
		return strconv.FormatInt(s.i64, 10)
	case KindFloat64:
		return strconv.FormatFloat(s.f64, 'g', -1, 64)
	case KindText:
		return "'" + strings.ReplaceAll(s.text, "'", "''") + "'"
	case KindBlob:
		var b strings.Builder
		b.WriteString("X'")
		for _, by := range s.blob {
			fmt.Fprintf(&b, "%02X", by)
		}
		b.WriteString("'")
		return b.String()
	}
	return "NULL"
}

// Interface returns the value suitable for passing to database/sql as a
// bind parameter.
func (s Scalar) Interface() any {
	switch s.kind {
	case KindNull:
		return nil
	case KindUint64:
		// SQLite has no native unsigned type; store the bit pattern of the
		// signed view (spec.md §6); ToUint64 recovers it on read by
		// reinterpreting the stored int64.
		return int64(s.u64)
	case KindInt64:
		return s.i64
	case KindFloat64:
		return s.f64
	case KindText:
		return s.text
	case KindBlob:
		return s.blob
	}
	return nil
}

// Compare implements the cross-tag ordering of spec.md §4.4: comparison
// converts b into a's tag before comparing.
func Compare(a, b Scalar) int {
	if a.kind == KindNull && b.kind == KindNull {
		return 0
	}
	if a.kind == KindNull {
		return -1
	}
	if b.kind == KindNull {
		return 1
	}
	switch a.kind {
	case KindText:
		bt, _ := b.ToText()
		return strings.Compare(a.text, bt)
	case KindBlob:
		bb, _ := b.ToBlob()
		return strings.Compare(string(a.blob), string(bb))
	case KindUint64:
		bu, err := b.ToUint64()
		if err != nil {
			return 1
		}
		switch {
		case a.u64 < bu:
			return -1
		case a.u64 > bu:
			return 1
		default:
			return 0
		}
	case KindInt64:
		bi, err := b.ToInt64()
		if err != nil {
			return 1
		}
		switch {
		case a.i64 < bi:
			return -1
		case a.i64 > bi:
			return 1
		default:
			return 0
		}
	case KindFloat64:
		bf, err := b.ToFloat64()
		if err != nil {
			return 1
		}
		switch {
		case a.f64 < bf:
			return -1
		case a.f64 > bf:
			return 1
		default:
			return 0
		}
	}
	return 0
}
