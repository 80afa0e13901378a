package attr

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// Type tags the stored representation of an attribute value.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeInt16
	TypeUint32
	TypeFloat64
	TypeBool
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeInt16:
		return "int16"
	case TypeUint32:
		return "uint32"
	case TypeFloat64:
		return "float64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Scalar is the set of fixed-size attribute value types.
type Scalar interface {
	int16 | uint32 | float64 | bool
}

const (
	maxNameLen  = math.MaxUint8
	maxValueLen = math.MaxUint16
)

type entry struct {
	typ  Type
	data []byte
}

// Table is an ordered set of named, typed attribute values. The zero value
// is not usable; use NewTable.
type Table struct {
	names  []string
	values map[string]entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{values: make(map[string]entry)}
}

// Len returns the number of attributes in the table.
func (t *Table) Len() int {
	return len(t.names)
}

// Names returns attribute names in insertion order.
func (t *Table) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Has reports whether name is present.
func (t *Table) Has(name string) bool {
	_, ok := t.values[name]
	return ok
}

// TypeOf returns the stored type of name.
func (t *Table) TypeOf(name string) (Type, bool) {
	e, ok := t.values[name]
	return e.typ, ok
}

// Delete removes name. It reports whether the attribute was present.
func (t *Table) Delete(name string) bool {
	if _, ok := t.values[name]; !ok {
		return false
	}
	delete(t.values, name)
	t.names = slices.DeleteFunc(t.names, func(n string) bool { return n == name })
	return true
}

func (t *Table) clone() *Table {
	c := &Table{
		names:  make([]string, len(t.names)),
		values: make(map[string]entry, len(t.values)),
	}
	copy(c.names, t.names)
	for k, v := range t.values {
		c.values[k] = v
	}
	return c
}

func (t *Table) put(name string, e entry) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("invalid attribute name %q", name)
	}
	if len(e.data) > maxValueLen {
		return fmt.Errorf("attribute %q value too large: %d bytes", name, len(e.data))
	}
	if _, ok := t.values[name]; !ok {
		t.names = append(t.names, name)
	}
	t.values[name] = e
	return nil
}

func (t *Table) get(name string, want Type) ([]byte, error) {
	e, ok := t.values[name]
	if !ok {
		return nil, ErrMissing
	}
	if e.typ != want {
		return nil, fmt.Errorf("%w: stored %s, requested %s", ErrType, e.typ, want)
	}
	return e.data, nil
}

// PutScalar creates or overwrites a scalar attribute.
func PutScalar[T Scalar](t *Table, name string, v T) error {
	var e entry
	switch x := any(v).(type) {
	case int16:
		e = entry{typ: TypeInt16, data: binary.LittleEndian.AppendUint16(nil, uint16(x))}
	case uint32:
		e = entry{typ: TypeUint32, data: binary.LittleEndian.AppendUint32(nil, x)}
	case float64:
		e = entry{typ: TypeFloat64, data: binary.LittleEndian.AppendUint64(nil, math.Float64bits(x))}
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		e = entry{typ: TypeBool, data: []byte{b}}
	}
	return t.put(name, e)
}

// GetScalar returns the scalar attribute name.
func GetScalar[T Scalar](t *Table, name string) (T, error) {
	var zero T
	var out any
	switch any(zero).(type) {
	case int16:
		data, err := t.get(name, TypeInt16)
		if err != nil {
			return zero, err
		}
		out = int16(binary.LittleEndian.Uint16(data))
	case uint32:
		data, err := t.get(name, TypeUint32)
		if err != nil {
			return zero, err
		}
		out = binary.LittleEndian.Uint32(data)
	case float64:
		data, err := t.get(name, TypeFloat64)
		if err != nil {
			return zero, err
		}
		out = math.Float64frombits(binary.LittleEndian.Uint64(data))
	case bool:
		data, err := t.get(name, TypeBool)
		if err != nil {
			return zero, err
		}
		out = data[0] != 0
	}
	return out.(T), nil
}

// PutString creates or overwrites a string attribute.
func (t *Table) PutString(name, v string) error {
	return t.put(name, entry{typ: TypeString, data: []byte(v)})
}

// GetString returns the string attribute name.
func (t *Table) GetString(name string) (string, error) {
	data, err := t.get(name, TypeString)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MarshalBinary encodes the table as
//
//	count u16 | { nameLen u8 | name | type u8 | valueLen u16 | value }*
func (t *Table) MarshalBinary() ([]byte, error) {
	if len(t.names) > math.MaxUint16 {
		return nil, fmt.Errorf("too many attributes: %d", len(t.names))
	}
	buf := binary.LittleEndian.AppendUint16(nil, uint16(len(t.names)))
	for _, name := range t.names {
		e := t.values[name]
		buf = append(buf, byte(len(name)))
		buf = append(buf, name...)
		buf = append(buf, byte(e.typ))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.data)))
		buf = append(buf, e.data...)
	}
	return buf, nil
}

// UnmarshalBinary replaces the table contents with the decoded data.
func (t *Table) UnmarshalBinary(data []byte) error {
	fresh := NewTable()
	if len(data) < 2 {
		return fmt.Errorf("%w: short table header", ErrCorrupt)
	}
	count := int(binary.LittleEndian.Uint16(data))
	p := 2
	for i := 0; i < count; i++ {
		if p >= len(data) {
			return fmt.Errorf("%w: entry %d truncated", ErrCorrupt, i)
		}
		n := int(data[p])
		p++
		if p+n+3 > len(data) {
			return fmt.Errorf("%w: entry %d truncated", ErrCorrupt, i)
		}
		name := string(data[p : p+n])
		p += n
		typ := Type(data[p])
		vlen := int(binary.LittleEndian.Uint16(data[p+1:]))
		p += 3
		if p+vlen > len(data) {
			return fmt.Errorf("%w: value of %q truncated", ErrCorrupt, name)
		}
		if err := checkWidth(typ, vlen); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrCorrupt, name, err)
		}
		value := make([]byte, vlen)
		copy(value, data[p:p+vlen])
		p += vlen
		if err := fresh.put(name, entry{typ: typ, data: value}); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	*t = *fresh
	return nil
}

func checkWidth(typ Type, n int) error {
	want := -1
	switch typ {
	case TypeInt16:
		want = 2
	case TypeUint32:
		want = 4
	case TypeFloat64:
		want = 8
	case TypeBool:
		want = 1
	case TypeString:
		return nil
	default:
		return fmt.Errorf("unknown type %d", typ)
	}
	if n != want {
		return fmt.Errorf("%s value has %d bytes, want %d", typ, n, want)
	}
	return nil
}
