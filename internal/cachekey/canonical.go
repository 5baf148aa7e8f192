package cachekey

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrCircularStructure is returned when the parameter tree references itself.
var ErrCircularStructure = errors.New("circular structure in parameters")

// maxExactInteger bounds the range in which float64 represents every
// integer exactly. Integers beyond it serialize as decimal strings to avoid
// precision loss.
const maxExactInteger = 1 << 53

// Canonicalize renders a JSON-representable value into its canonical string
// form: object keys in byte-sorted order, arrays in order, numbers and
// strings in JSON form. Unserializable values (functions, channels, non-finite
// floats) are dropped from objects and become null inside arrays.
func Canonicalize(value interface{}) (string, error) {
	var sb strings.Builder
	seen := make(map[uintptr]struct{})
	if unserializable(value) {
		return "null", nil
	}
	if err := writeCanonical(&sb, value, seen); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// unserializable reports whether a value has no JSON representation at all.
func unserializable(value interface{}) bool {
	if value == nil {
		return false
	}
	switch v := value.(type) {
	case float64:
		return math.IsNaN(v) || math.IsInf(v, 0)
	case float32:
		f := float64(v)
		return math.IsNaN(f) || math.IsInf(f, 0)
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return true
	default:
		return false
	}
}

func writeCanonical(sb *strings.Builder, value interface{}, seen map[uintptr]struct{}) error {
	if value == nil {
		sb.WriteString("null")
		return nil
	}

	switch v := value.(type) {
	case string:
		writeJSONString(sb, v)
		return nil
	case bool:
		if v {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
		return nil
	case float64:
		return writeFloat(sb, v)
	case float32:
		return writeFloat(sb, float64(v))
	case int:
		writeInt(sb, int64(v))
		return nil
	case int8:
		writeInt(sb, int64(v))
		return nil
	case int16:
		writeInt(sb, int64(v))
		return nil
	case int32:
		writeInt(sb, int64(v))
		return nil
	case int64:
		writeInt(sb, v)
		return nil
	case uint:
		writeUint(sb, uint64(v))
		return nil
	case uint8:
		writeUint(sb, uint64(v))
		return nil
	case uint16:
		writeUint(sb, uint64(v))
		return nil
	case uint32:
		writeUint(sb, uint64(v))
		return nil
	case uint64:
		writeUint(sb, v)
		return nil
	case json.Number:
		return writeNumber(sb, v)
	case time.Time:
		writeJSONString(sb, v.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
		return nil
	case []byte:
		writeJSONString(sb, base64.StdEncoding.EncodeToString(v))
		return nil
	case map[string]interface{}:
		return writeObject(sb, v, seen)
	case []interface{}:
		return writeArray(sb, v, seen)
	case json.Marshaler:
		return writeMarshaled(sb, v, seen)
	}

	return writeReflected(sb, reflect.ValueOf(value), seen)
}

func writeObject(sb *strings.Builder, m map[string]interface{}, seen map[uintptr]struct{}) error {
	ptr := reflect.ValueOf(m).Pointer()
	if _, cyclic := seen[ptr]; cyclic {
		return ErrCircularStructure
	}
	seen[ptr] = struct{}{}
	defer delete(seen, ptr)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteByte('{')
	first := true
	for _, k := range keys {
		if unserializable(m[k]) {
			continue
		}
		if !first {
			sb.WriteByte(',')
		}
		first = false
		writeJSONString(sb, k)
		sb.WriteByte(':')
		if err := writeCanonical(sb, m[k], seen); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

func writeArray(sb *strings.Builder, arr []interface{}, seen map[uintptr]struct{}) error {
	if len(arr) > 0 {
		ptr := reflect.ValueOf(arr).Pointer()
		if _, cyclic := seen[ptr]; cyclic {
			return ErrCircularStructure
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
	}

	sb.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			sb.WriteByte(',')
		}
		if unserializable(item) {
			sb.WriteString("null")
			continue
		}
		if err := writeCanonical(sb, item, seen); err != nil {
			return err
		}
	}
	sb.WriteByte(']')
	return nil
}

// writeMarshaled re-serializes a value through its MarshalJSON hook so that
// custom representations are canonicalized like any other tree.
func writeMarshaled(sb *strings.Builder, m json.Marshaler, seen map[uintptr]struct{}) error {
	raw, err := m.MarshalJSON()
	if err != nil {
		if strings.Contains(err.Error(), "cycle") {
			return ErrCircularStructure
		}
		return fmt.Errorf("failed to marshal value for cache key: %w", err)
	}
	return writeRawJSON(sb, raw, seen)
}

func writeReflected(sb *strings.Builder, v reflect.Value, seen map[uintptr]struct{}) error {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			sb.WriteString("null")
			return nil
		}
		if v.Kind() == reflect.Ptr {
			ptr := v.Pointer()
			if _, cyclic := seen[ptr]; cyclic {
				return ErrCircularStructure
			}
			seen[ptr] = struct{}{}
			defer delete(seen, ptr)
		}
		return writeCanonical(sb, v.Elem().Interface(), seen)

	case reflect.Map:
		ptr := v.Pointer()
		if _, cyclic := seen[ptr]; cyclic {
			return ErrCircularStructure
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)

		converted := make(map[string]interface{}, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := iter.Key()
			var name string
			if key.Kind() == reflect.String {
				name = key.String()
			} else {
				name = fmt.Sprint(key.Interface())
			}
			converted[name] = iter.Value().Interface()
		}
		return writeObject(sb, converted, seen)

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice {
			if v.IsNil() {
				sb.WriteString("null")
				return nil
			}
			ptr := v.Pointer()
			if _, cyclic := seen[ptr]; cyclic {
				return ErrCircularStructure
			}
			seen[ptr] = struct{}{}
			defer delete(seen, ptr)
		}
		converted := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			converted[i] = v.Index(i).Interface()
		}
		return writeArray(sb, converted, seen)

	case reflect.Struct:
		// Structs round-trip through encoding/json so tags apply.
		raw, err := json.Marshal(v.Interface())
		if err != nil {
			if strings.Contains(err.Error(), "cycle") {
				return ErrCircularStructure
			}
			return fmt.Errorf("failed to marshal struct for cache key: %w", err)
		}
		return writeRawJSON(sb, raw, seen)

	default:
		// Remaining kinds were filtered by unserializable; treat anything
		// unexpected as null.
		sb.WriteString("null")
		return nil
	}
}

func writeRawJSON(sb *strings.Builder, raw []byte, seen map[uintptr]struct{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("failed to decode marshaled value: %w", err)
	}
	if unserializable(decoded) {
		sb.WriteString("null")
		return nil
	}
	return writeCanonical(sb, decoded, seen)
}

func writeFloat(sb *strings.Builder, f float64) error {
	if f == 0 {
		// Negative zero serializes as plain zero.
		sb.WriteByte('0')
		return nil
	}
	// Non-finite floats were filtered by unserializable before reaching here.
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to serialize number: %w", err)
	}
	sb.Write(raw)
	return nil
}

func writeInt(sb *strings.Builder, n int64) {
	if n > maxExactInteger || n < -maxExactInteger {
		writeJSONString(sb, strconv.FormatInt(n, 10))
		return
	}
	sb.WriteString(strconv.FormatInt(n, 10))
}

func writeUint(sb *strings.Builder, n uint64) {
	if n > maxExactInteger {
		writeJSONString(sb, strconv.FormatUint(n, 10))
		return
	}
	sb.WriteString(strconv.FormatUint(n, 10))
}

// writeNumber serializes a json.Number. Integers beyond float64's exact range
// become decimal strings; everything else is re-rendered through float64 so
// equal values share one canonical form.
func writeNumber(sb *strings.Builder, n json.Number) error {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			writeInt(sb, i)
			return nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			writeUint(sb, u)
			return nil
		}
		// Integer too large for int64: keep the decimal digits as a string.
		writeJSONString(sb, s)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		sb.WriteString("null")
		return nil
	}
	return writeFloat(sb, f)
}

func writeJSONString(sb *strings.Builder, s string) {
	raw, err := json.Marshal(s)
	if err != nil {
		// Marshaling a string cannot fail; keep the fallback total anyway.
		sb.WriteString(strconv.Quote(s))
		return
	}
	sb.Write(raw)
}
