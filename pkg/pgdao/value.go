package pgdao

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// prepareValue converts an application value into the form that belongs in
// a Bind message's parameter list, per spec §6:
//
//   - []byte passes through unchanged.
//   - time.Time is rendered RFC3339 with an explicit zone offset.
//   - slices/arrays become a Postgres array literal "{...}", nested arrays
//     escaped, byte slices inside an array hex-encoded.
//   - nil becomes SQL NULL (represented here as untyped nil).
//   - any other struct/map falls back to JSON.
//   - primitives use their natural string form.
func prepareValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case []byte:
		return val, nil
	case time.Time:
		return val.Format(time.RFC3339Nano), nil
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return val, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return arrayLiteral(rv)
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return prepareValue(rv.Elem().Interface())
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, newParseError("prepareValue", fmt.Errorf("cannot serialize value of type %T: %w", v, err))
		}
		return string(b), nil
	}
}

// arrayLiteral renders rv (a slice or array) as a Postgres array literal.
func arrayLiteral(rv reflect.Value) (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		elem := rv.Index(i).Interface()
		switch e := elem.(type) {
		case []byte:
			b.WriteString(`\\x`)
			b.WriteString(hex.EncodeToString(e))
		default:
			erv := reflect.ValueOf(elem)
			if erv.IsValid() && (erv.Kind() == reflect.Slice || erv.Kind() == reflect.Array) {
				nested, err := arrayLiteral(erv)
				if err != nil {
					return "", err
				}
				b.WriteString(nested)
				continue
			}
			b.WriteString(quoteArrayElement(elem))
		}
	}
	b.WriteByte('}')
	return b.String(), nil
}

func quoteArrayElement(v any) string {
	s := fmt.Sprint(v)
	if needsArrayQuoting(s) {
		var b strings.Builder
		b.WriteByte('"')
		for _, r := range s {
			if r == '"' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('"')
		return b.String()
	}
	return s
}

func needsArrayQuoting(s string) bool {
	if s == "" || strings.EqualFold(s, "null") {
		return true
	}
	for _, r := range s {
		switch r {
		case ',', '{', '}', '"', '\\', ' ':
			return true
		}
	}
	return false
}

// needsBinding reports whether a literal value must instead be passed as a
// bound $N parameter: any string containing a quote or backslash, per spec
// §4.4's literalization-vs-binding rule.
func needsBinding(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return strings.ContainsAny(s, "'\\")
}

// sqlLiteral renders v inline for INSERT/UPDATE statements, escaping quotes.
// Only called for values that needsBinding has already said do not require
// parameterization.
func sqlLiteral(v any) string {
	if v == nil {
		return "NULL"
	}
	switch val := v.(type) {
	case bool:
		return strconv.FormatBool(val)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%v", val)
	case time.Time:
		return "'" + val.Format(time.RFC3339Nano) + "'"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			lit, err := arrayLiteral(rv)
			if err != nil {
				return "NULL"
			}
			return "'" + lit + "'"
		}
		return fmt.Sprintf("'%v'", val)
	}
}
