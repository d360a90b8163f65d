package dbsock

import (
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Kind of a field value
type Kind uint8

const (
	KindText Kind = iota
	KindInteger
	KindBoolean
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindTimestamp:
		return "timestamp"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

var errNotConvertible = errors.New("value not convertible")

// Value is a single message field. The zero Value is empty text.
type Value struct {
	kind Kind
	s    string
	i    int64
	b    bool
	t    time.Time
}

func Text(s string) Value         { return Value{kind: KindText, s: s} }
func Integer(i int64) Value       { return Value{kind: KindInteger, i: i} }
func Boolean(b bool) Value        { return Value{kind: KindBoolean, b: b} }
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

func (v Value) Kind() Kind { return v.kind }

// String returns the wire form of the value
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindTimestamp:
		return FormatTimestamp(v.t)
	}
	return v.s
}

// Int returns the value as an integer. Text is parsed as base 10.
func (v Value) Int() (int64, error) {
	switch v.kind {
	case KindInteger:
		return v.i, nil
	case KindText:
		return strconv.ParseInt(v.s, 10, 64)
	}
	return 0, errNotConvertible
}

// Bool returns the value as a boolean. Text must be "true" or "false".
func (v Value) Bool() (bool, error) {
	switch v.kind {
	case KindBoolean:
		return v.b, nil
	case KindText:
		switch v.s {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, errNotConvertible
}

// Time returns the timestamp held by v. ok is false for any other kind.
func (v Value) Time() (t time.Time, ok bool) {
	if v.kind != KindTimestamp {
		return time.Time{}, false
	}
	return v.t, true
}

// Decimal parses the value as an arbitrary precision number, e.g. an item quantity
func (v Value) Decimal() (decimal.Decimal, error) {
	switch v.kind {
	case KindInteger:
		return decimal.NewFromInt(v.i), nil
	case KindText:
		return decimal.NewFromString(v.s)
	}
	return decimal.Zero, errNotConvertible
}

// Equal reports whether a and b have the same kind and content.
// Timestamps compare as instants.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == o.i
	case KindBoolean:
		return v.b == o.b
	case KindTimestamp:
		return v.t.Equal(o.t)
	}
	return v.s == o.s
}

// -----------------------------------------------------------------------------------------------

// Fields is an insertion-ordered mapping from field name to Value.
// The zero value is ready to use.
type Fields struct {
	keys []string
	vals map[string]Value
}

func NewFields() *Fields {
	return &Fields{vals: make(map[string]Value)}
}

// Set assigns v to name. Overwriting keeps the original position.
func (f *Fields) Set(name string, v Value) *Fields {
	if f.vals == nil {
		f.vals = make(map[string]Value)
	}
	if _, ok := f.vals[name]; !ok {
		f.keys = append(f.keys, name)
	}
	f.vals[name] = v
	return f
}

func (f *Fields) Get(name string) (Value, bool) {
	if f == nil {
		return Value{}, false
	}
	v, ok := f.vals[name]
	return v, ok
}

// Text returns the wire form of field name, or "" if absent
func (f *Fields) Text(name string) string {
	v, _ := f.Get(name)
	return v.String()
}

func (f *Fields) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

func (f *Fields) Delete(name string) {
	if f == nil {
		return
	}
	if _, ok := f.vals[name]; !ok {
		return
	}
	delete(f.vals, name)
	for i, k := range f.keys {
		if k == name {
			f.keys = append(f.keys[:i:i], f.keys[i+1:]...)
			break
		}
	}
}

func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Keys returns the field names in insertion order
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.keys...)
}

// Range calls fn for each field in insertion order until fn returns false
func (f *Fields) Range(fn func(name string, v Value) bool) {
	if f == nil {
		return
	}
	for _, k := range f.keys {
		if !fn(k, f.vals[k]) {
			return
		}
	}
}

func (f *Fields) Clone() *Fields {
	c := NewFields()
	f.Range(func(k string, v Value) bool {
		c.Set(k, v)
		return true
	})
	return c
}

// Map returns the fields rendered in wire form
func (f *Fields) Map() map[string]string {
	m := make(map[string]string, f.Len())
	f.Range(func(k string, v Value) bool {
		m[k] = v.String()
		return true
	})
	return m
}
