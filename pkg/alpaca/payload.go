package alpaca

import (
	"encoding"
	"encoding/json"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the UTC ISO-8601 form, with millisecond precision, used
// for every date sent to the broker.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

var (
	timeType          = reflect.TypeOf(time.Time{})
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// normalizePayload returns a copy of v where every time.Time is replaced by its
// TimestampLayout string. Maps, slices, arrays and structs are walked; structs
// become maps keyed the way encoding/json would name their fields. Values with
// their own JSON or text encoding are returned as is.
func normalizePayload(v any) any {
	if v == nil {
		return nil
	}

	return normalizeValue(reflect.ValueOf(v))
}

func normalizeValue(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}

	if rv.Type() == timeType {
		return FormatTimestamp(rv.Interface().(time.Time))
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}

		return normalizeValue(rv.Elem())
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}

		if rv.Type().Elem() != timeType && encodesItself(rv.Type()) {
			return rv.Interface()
		}

		return normalizeValue(rv.Elem())
	}

	if encodesItself(rv.Type()) {
		return rv.Interface()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() || rv.Type().Key().Kind() != reflect.String {
			return rv.Interface()
		}

		out := make(map[string]any, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizeValue(iter.Value())
		}

		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return rv.Interface()
		}

		// []byte keeps its base64 encoding.
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}

		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeValue(rv.Index(i))
		}

		return out
	case reflect.Struct:
		return normalizeStruct(rv)
	default:
		return rv.Interface()
	}
}

func normalizeStruct(rv reflect.Value) map[string]any {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	promoted := map[string]any{}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}

		if !field.IsExported() {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		value := rv.Field(i)

		if field.Anonymous && name == "" {
			embedded, ok := embeddedStruct(value)
			if ok {
				for k, v := range normalizeStruct(embedded) {
					promoted[k] = v
				}

				continue
			}
		}

		if name == "" {
			name = field.Name
		}

		if hasTagOption(opts, "omitempty") && isEmptyValue(value) {
			continue
		}

		if hasTagOption(opts, "omitzero") && value.IsZero() {
			continue
		}

		out[name] = normalizeValue(value)
	}

	// Fields declared on the outer struct win over promoted ones.
	for k, v := range promoted {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}

	return out
}

func embeddedStruct(value reflect.Value) (reflect.Value, bool) {
	if value.Kind() == reflect.Pointer {
		if value.IsNil() || value.Type().Elem().Kind() != reflect.Struct {
			return reflect.Value{}, false
		}

		value = value.Elem()
	}

	if value.Kind() != reflect.Struct || value.Type() == timeType || encodesItself(value.Type()) {
		return reflect.Value{}, false
	}

	return value, true
}

func encodesItself(t reflect.Type) bool {
	return t.Implements(marshalerType) || t.Implements(textMarshalerType)
}

func hasTagOption(opts, option string) bool {
	for opts != "" {
		var current string

		current, opts, _ = strings.Cut(opts, ",")
		if current == option {
			return true
		}
	}

	return false
}

// isEmptyValue follows the omitempty rules of encoding/json.
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}

	return false
}

// query builds url.Values while skipping unset parameters.
type query url.Values

func newQuery() query {
	return query(url.Values{})
}

func (q query) str(key, value string) query {
	if value != "" {
		url.Values(q).Set(key, value)
	}

	return q
}

func (q query) int(key string, value int) query {
	if value != 0 {
		url.Values(q).Set(key, strconv.Itoa(value))
	}

	return q
}

func (q query) bool(key string, value bool) query {
	if value {
		url.Values(q).Set(key, "true")
	}

	return q
}

func (q query) time(key string, value *time.Time) query {
	if value != nil && !value.IsZero() {
		url.Values(q).Set(key, FormatTimestamp(*value))
	}

	return q
}

func (q query) list(key string, values []string) query {
	if len(values) > 0 {
		url.Values(q).Set(key, strings.Join(values, ","))
	}

	return q
}

func (q query) values() url.Values {
	if len(q) == 0 {
		return nil
	}

	return url.Values(q)
}
