package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the variant tag of a Value
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a read-only JSON-shaped tree. Objects keep the key order they were decoded with and
// numbers keep their literal text, so converting a response into a Value loses nothing.
//
// The zero Value is a JSON null.
type Value struct {
	kind   Kind
	b      bool
	num    json.Number
	str    string
	items  []Value
	keys   []string
	fields map[string]Value
}

// Parse decodes a single JSON value from data.
func Parse(data []byte) (Value, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a single JSON value from r. Anything but whitespace after the value is an error.
func Decode(r io.Reader) (Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errors.New("document: unexpected data after top-level value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("document: %w", err)
	}

	switch t := tok.(type) {
	case nil:
		return Value{}, nil
	case bool:
		return Value{kind: Bool, b: t}, nil
	case json.Number:
		return Value{kind: Number, num: t}, nil
	case string:
		return Value{kind: String, str: t}, nil
	case json.Delim:
		switch t {
		case '{':
			obj := Value{kind: Object, fields: make(map[string]Value)}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("document: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("document: object key is %T, not string", keyTok)
				}
				child, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.set(key, child)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("document: %w", err)
			}
			return obj, nil

		case '[':
			arr := Value{kind: Array, items: []Value{}}
			for dec.More() {
				child, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr.items = append(arr.items, child)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("document: %w", err)
			}
			return arr, nil
		}
	}

	return Value{}, fmt.Errorf("document: unexpected token %v", tok)
}

// set adds or replaces a field. A repeated key keeps its first position and its last value.
func (v *Value) set(key string, child Value) {
	if _, exists := v.fields[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.fields[key] = child
}

// FromAny converts values produced by encoding/json (maps, slices, strings, numbers, bools, nil)
// into a Value. Map keys are sorted since Go maps carry no order. Other types are round-tripped
// through json.Marshal.
func FromAny(in any) (Value, error) {
	switch t := in.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case bool:
		return Value{kind: Bool, b: t}, nil
	case string:
		return Value{kind: String, str: t}, nil
	case json.Number:
		return Value{kind: Number, num: t}, nil
	case float64:
		return Value{kind: Number, num: json.Number(strconv.FormatFloat(t, 'g', -1, 64))}, nil
	case float32:
		return Value{kind: Number, num: json.Number(strconv.FormatFloat(float64(t), 'g', -1, 32))}, nil
	case int:
		return Value{kind: Number, num: json.Number(strconv.Itoa(t))}, nil
	case int64:
		return Value{kind: Number, num: json.Number(strconv.FormatInt(t, 10))}, nil
	case []any:
		arr := Value{kind: Array, items: make([]Value, 0, len(t))}
		for i, item := range t {
			child, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			arr.items = append(arr.items, child)
		}
		return arr, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		obj := Value{kind: Object, fields: make(map[string]Value, len(t))}
		for _, k := range keys {
			child, err := FromAny(t[k])
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			obj.set(k, child)
		}
		return obj, nil
	default:
		data, err := json.Marshal(in)
		if err != nil {
			return Value{}, fmt.Errorf("document: %w", err)
		}
		return Parse(data)
	}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == Null }

// Field returns the named field of an object. It reports false for a missing field or when v is
// not an object.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	child, ok := v.fields[name]
	return child, ok
}

// Index returns the i-th element of an array.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != Array || i < 0 || i >= len(v.items) {
		return Value{}, false
	}
	return v.items[i], true
}

// Len is the number of elements of an array or fields of an object, and 0 for scalars.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.items)
	case Object:
		return len(v.keys)
	default:
		return 0
	}
}

// Keys returns the object's field names in wire order.
func (v Value) Keys() []string {
	if v.kind != Object {
		return nil
	}
	return append([]string(nil), v.keys...)
}

// Items returns the elements of an array.
func (v Value) Items() []Value {
	if v.kind != Array {
		return nil
	}
	return append([]Value(nil), v.items...)
}

// Lookup walks a dotted path such as "targeting.hosts.0.name". Numeric segments index arrays,
// every other segment names an object field. An empty path returns v.
func (v Value) Lookup(path string) (Value, bool) {
	if path == "" {
		return v, true
	}

	cur := v
	for _, seg := range strings.Split(path, ".") {
		var ok bool
		switch cur.kind {
		case Object:
			cur, ok = cur.Field(seg)
		case Array:
			i, err := strconv.Atoi(seg)
			if err != nil {
				return Value{}, false
			}
			cur, ok = cur.Index(i)
		}
		if !ok {
			return Value{}, false
		}
	}
	return cur, true
}

// Text renders a scalar as plain text: strings unquoted, numbers in their literal form, null as
// the empty string. Arrays and objects render as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case Null:
		return ""
	case Bool:
		return strconv.FormatBool(v.b)
	case Number:
		return v.num.String()
	case String:
		return v.str
	default:
		data, _ := v.MarshalJSON()
		return string(data)
	}
}

// Int64 converts a number, or a string holding an integer, to int64.
func (v Value) Int64() (int64, bool) {
	switch v.kind {
	case Number:
		if n, err := v.num.Int64(); err == nil {
			return n, true
		}
		f, err := v.num.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.str), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Float64 converts a number, or a string holding one, to float64.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case Number:
		f, err := v.num.Float64()
		return f, err == nil
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (v Value) Bool() (bool, bool) {
	if v.kind != Bool {
		return false, false
	}
	return v.b, true
}

// Equal reports deep structural equality. Object field order does not matter, numbers compare by
// value.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == other.b
	case String:
		return v.str == other.str
	case Number:
		if v.num == other.num {
			return true
		}
		a, errA := v.num.Float64()
		b, errB := other.num.Float64()
		return errA == nil && errB == nil && a == b
	case Array:
		if len(v.items) != len(other.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(v.fields) != len(other.fields) {
			return false
		}
		for k, child := range v.fields {
			otherChild, ok := other.fields[k]
			if !ok || !child.Equal(otherChild) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts v back into the shapes encoding/json produces with UseNumber:
// map[string]any, []any, string, json.Number, bool and nil.
func (v Value) Interface() any {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return v.num
	case String:
		return v.str
	case Array:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case Object:
		out := make(map[string]any, len(v.fields))
		for k, child := range v.fields {
			out[k] = child.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes v with object keys in their original order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.b))
	case Number:
		buf.WriteString(v.num.String())
	case String:
		data, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(data)
	case Array:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := v.fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// String returns compact JSON, which keeps log output readable.
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid document: %v>", err)
	}
	return string(data)
}
