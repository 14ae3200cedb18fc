package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Value: tagged runtime value
// ---------------------------------------------------------------------------

// ValueKind identifies the variant held by a Value.
type ValueKind uint8

const (
	KindNil ValueKind = iota
	KindBool
	KindNumber
	KindObject
)

var valueKindNames = [...]string{
	KindNil:    "nil",
	KindBool:   "bool",
	KindNumber: "number",
	KindObject: "object",
}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return fmt.Sprintf("ValueKind(%d)", k)
}

// Value is a closed tagged union of the runtime types the machine knows
// about. The zero Value is nil.
type Value struct {
	kind ValueKind
	num  float64
	obj  Object
}

// Nil is the nil value.
var Nil = Value{}

// Number returns a number value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// String returns a value holding a string object.
func String(s string) Value { return Value{kind: KindObject, obj: &StringObject{Chars: s}} }

// FromObject wraps an object in a value.
func FromObject(o Object) Value {
	if o == nil {
		return Nil
	}
	return Value{kind: KindObject, obj: o}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNil() bool     { return v.kind == KindNil }
func (v Value) IsBool() bool    { return v.kind == KindBool }
func (v Value) IsNumber() bool  { return v.kind == KindNumber }
func (v Value) IsObject() bool  { return v.kind == KindObject }

// IsString reports whether v holds a string object.
func (v Value) IsString() bool {
	_, ok := v.obj.(*StringObject)
	return v.kind == KindObject && ok
}

// AsNumber returns the number payload. It is zero for non-numbers.
func (v Value) AsNumber() float64 {
	if v.kind != KindNumber {
		return 0
	}
	return v.num
}

// AsBool returns the boolean payload. It is false for non-booleans.
func (v Value) AsBool() bool { return v.kind == KindBool && v.num != 0 }

// AsObject returns the object payload, or nil.
func (v Value) AsObject() Object { return v.obj }

// AsString returns the characters of a string object and whether v held one.
func (v Value) AsString() (string, bool) {
	if s, ok := v.obj.(*StringObject); ok && v.kind == KindObject {
		return s.Chars, true
	}
	return "", false
}

// IsFalsey reports whether v counts as false in a condition: nil and false
// are falsey, everything else is truthy.
func (v Value) IsFalsey() bool {
	return v.kind == KindNil || (v.kind == KindBool && v.num == 0)
}

// Equal compares two values. Values of different kinds are never equal.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool, KindNumber:
		return v.num == other.num
	case KindObject:
		return objectsEqual(v.obj, other.obj)
	}
	return false
}

// Less orders two values of the same kind. Cross-kind pairs are unordered
// and always report false.
func (v Value) Less(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool, KindNumber:
		return v.num < other.num
	case KindObject:
		a, aok := v.AsString()
		b, bok := other.AsString()
		return aok && bok && a < b
	}
	return false
}

// Greater is Less with the operands swapped.
func (v Value) Greater(other Value) bool { return other.Less(v) }

// String renders the value the way print displays it.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.num != 0)
	case KindNumber:
		return formatNumber(v.num)
	case KindObject:
		if v.obj == nil {
			return "nil"
		}
		return v.obj.String()
	}
	return fmt.Sprintf("<%s>", v.kind)
}

// GoString is used by %#v in test failures.
func (v Value) GoString() string {
	if s, ok := v.AsString(); ok {
		return fmt.Sprintf("String(%q)", s)
	}
	return fmt.Sprintf("%s(%s)", v.kind, v.String())
}

func formatNumber(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "NaN"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

// ObjectType tags the heap object variants.
type ObjectType uint8

const (
	ObjString ObjectType = iota + 1
)

// Object is implemented by every value that lives behind KindObject.
// Objects are owned directly by the values referring to them; there is no
// collector.
type Object interface {
	Type() ObjectType
	String() string
}

// StringObject is an immutable character buffer.
type StringObject struct {
	Chars string
}

func (s *StringObject) Type() ObjectType { return ObjString }
func (s *StringObject) String() string   { return s.Chars }

func objectsEqual(a, b Object) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() {
		return false
	}
	switch x := a.(type) {
	case *StringObject:
		return x.Chars == b.(*StringObject).Chars
	}
	return a == b
}
