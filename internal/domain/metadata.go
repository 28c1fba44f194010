package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the type held by a Value.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindNumber
	KindBool
	KindMap
)

// Value is a metadata value: a string, number, boolean or nested Metadata.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	m    Metadata
}

func String(s string) Value { return Value{kind: KindString, s: s} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func Int(n int) Value { return Value{kind: KindNumber, n: float64(n)} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Map(m Metadata) Value { return Value{kind: KindMap, m: m.Clone()} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) Str() string { return v.s }
func (v Value) Num() float64 { return v.n }
func (v Value) Bool() bool { return v.b }
func (v Value) Map() Metadata { return v.m.Clone() }

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindMap:
		return v.m.Equal(o.m)
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return fmt.Sprint(v.n)
	case KindBool:
		return fmt.Sprint(v.b)
	case KindMap:
		b, _ := json.Marshal(v.m)
		return string(b)
	}
	return ""
}

type field struct {
	key   string
	value Value
}

// Metadata is an ordered string-keyed mapping of Values.
// The zero value is an empty mapping ready to use.
type Metadata struct {
	fields []field
}

// NewMetadata builds Metadata from alternating key, value pairs. Keys must be
// strings and values one of Value, string, bool, Metadata or a Go integer or
// float type. It panics on an odd argument count or any other key or value
// type, like strings.NewReplacer.
func NewMetadata(pairs ...any) Metadata {
	if len(pairs)%2 != 0 {
		panic(fmt.Sprintf("domain.NewMetadata: odd argument count %d", len(pairs)))
	}
	var m Metadata
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("domain.NewMetadata: key %d is %T, not string", i/2, pairs[i]))
		}
		v, err := valueOf(pairs[i+1])
		if err != nil {
			panic(fmt.Sprintf("domain.NewMetadata: key %q: %v", key, err))
		}
		m.Set(key, v)
	}
	return m
}

func valueOf(x any) (Value, error) {
	switch v := x.(type) {
	case Value:
		if v.kind == 0 {
			return Value{}, errors.New("empty Value")
		}
		return v, nil
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case Metadata:
		return Map(v), nil
	case int:
		return Int(v), nil
	case int8:
		return Number(float64(v)), nil
	case int16:
		return Number(float64(v)), nil
	case int32:
		return Number(float64(v)), nil
	case int64:
		return Number(float64(v)), nil
	case uint:
		return Number(float64(v)), nil
	case uint8:
		return Number(float64(v)), nil
	case uint16:
		return Number(float64(v)), nil
	case uint32:
		return Number(float64(v)), nil
	case uint64:
		return Number(float64(v)), nil
	case float32:
		return Number(float64(v)), nil
	case float64:
		return Number(v), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

// Set replaces the value for key in place, or appends it.
func (m *Metadata) Set(key string, v Value) {
	for i := range m.fields {
		if m.fields[i].key == key {
			m.fields[i].value = v
			return
		}
	}
	m.fields = append(m.fields, field{key: key, value: v})
}

func (m Metadata) Get(key string) (Value, bool) {
	for _, f := range m.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return Value{}, false
}

// Keys returns keys in insertion order.
func (m Metadata) Keys() []string {
	keys := make([]string, len(m.fields))
	for i, f := range m.fields {
		keys[i] = f.key
	}
	return keys
}

func (m Metadata) Len() int { return len(m.fields) }

func (m Metadata) Clone() Metadata {
	if len(m.fields) == 0 {
		return Metadata{}
	}
	out := Metadata{fields: make([]field, len(m.fields))}
	for i, f := range m.fields {
		if f.value.kind == KindMap {
			f.value.m = f.value.m.Clone()
		}
		out.fields[i] = f
	}
	return out
}

func (m Metadata) Equal(o Metadata) bool {
	if len(m.fields) != len(o.fields) {
		return false
	}
	for i := range m.fields {
		if m.fields[i].key != o.fields[i].key || !m.fields[i].value.Equal(o.fields[i].value) {
			return false
		}
	}
	return true
}

// MarshalJSON writes keys in insertion order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := f.value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindNumber:
		return json.Marshal(v.n)
	case KindBool:
		return json.Marshal(v.b)
	case KindMap:
		return v.m.MarshalJSON()
	}
	return nil, errors.New("metadata: empty value")
}

// UnmarshalJSON keeps the document's key order.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*m = out
	return nil
}

func decodeObject(dec *json.Decoder) (Metadata, error) {
	tok, err := dec.Token()
	if err != nil {
		return Metadata{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Metadata{}, fmt.Errorf("metadata: expected object, got %v", tok)
	}
	var m Metadata
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Metadata{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Metadata{}, fmt.Errorf("metadata: expected key, got %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return Metadata{}, fmt.Errorf("metadata %q: %w", key, err)
		}
		m.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	if !dec.More() {
		return Value{}, errors.New("missing value")
	}
	raw := json.RawMessage{}
	if err := dec.Decode(&raw); err != nil {
		return Value{}, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		nested, err := decodeObject(json.NewDecoder(bytes.NewReader(trimmed)))
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindMap, m: nested}, nil
	}
	var scalar any
	inner := json.NewDecoder(bytes.NewReader(trimmed))
	inner.UseNumber()
	if err := inner.Decode(&scalar); err != nil {
		return Value{}, err
	}
	switch s := scalar.(type) {
	case string:
		return String(s), nil
	case json.Number:
		n, err := s.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(n), nil
	case bool:
		return Bool(s), nil
	}
	return Value{}, fmt.Errorf("unsupported value %s", string(trimmed))
}
