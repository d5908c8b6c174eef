package value

import (
	"fmt"
	"strconv"
)

type ValueType int

const (
	VAL_NIL ValueType = iota
	VAL_BOOL
	VAL_INT
	VAL_FLOAT
	VAL_PTR
	VAL_STRING
	VAL_NATIVE
	VAL_FUNCTION // *ObjFunction or *ObjClosure in Obj
)

// Value is the tagged variant every stack slot, constant and global holds.
// Strings carry their hash, computed once at construction.
type Value struct {
	Type    ValueType
	AsBool  bool
	AsInt   int64
	AsFloat float64
	Str     string
	Hash    uint32
	Ptr     interface{} // opaque host pointer
	Obj     interface{} // heap allocated object
}

type FuncType int

const (
	TypeScript FuncType = iota
	TypeFunction
)

// ObjFunction is immutable once compilation of its body finishes.
// Chunk is typed as interface{} to keep value free of a chunk import cycle.
type ObjFunction struct {
	Name         string
	Arity        int
	UpvalueCount int
	FuncType     FuncType
	Chunk        interface{}
}

// ObjUpvalue points into the value stack while the captured local is live,
// and at Closed once the slot leaves the stack. Slot is the stack index of
// Location while the upvalue is open; -1 after it closes.
type ObjUpvalue struct {
	Location *Value
	Slot     int
	Closed   Value
	Next     *ObjUpvalue
}

type ObjClosure struct {
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

type NativeFunc func(args []Value) Value

type ObjNative struct {
	Name string
	Fn   NativeFunc
}

func (v Value) String() string {
	switch v.Type {
	case VAL_NIL:
		return "nil"
	case VAL_BOOL:
		return fmt.Sprintf("%t", v.AsBool)
	case VAL_INT:
		return fmt.Sprintf("%d", v.AsInt)
	case VAL_FLOAT:
		return strconv.FormatFloat(v.AsFloat, 'g', -1, 64)
	case VAL_PTR:
		return fmt.Sprintf("<ptr %v>", v.Ptr)
	case VAL_STRING:
		return v.Str
	case VAL_NATIVE:
		return fmt.Sprintf("<native fn %s>", v.Obj.(*ObjNative).Name)
	case VAL_FUNCTION:
		switch obj := v.Obj.(type) {
		case *ObjFunction:
			return functionName(obj)
		case *ObjClosure:
			return functionName(obj.Function)
		}
		return "<fn ?>"
	default:
		return "unknown"
	}
}

func functionName(fn *ObjFunction) string {
	if fn.FuncType == TypeScript {
		return "<script>"
	}
	if fn.Name == "" {
		return "<fn>"
	}
	return fmt.Sprintf("<fn %s>", fn.Name)
}

// IsFalsey reports the non-boolean falsey set: nil, integer zero, float
// zero and a nil host pointer. Booleans are handled explicitly at the
// branch sites, never here.
func (v Value) IsFalsey() bool {
	switch v.Type {
	case VAL_NIL:
		return true
	case VAL_INT:
		return v.AsInt == 0
	case VAL_FLOAT:
		return v.AsFloat == 0
	case VAL_PTR:
		return v.Ptr == nil
	default:
		return false
	}
}

// Equal compares scalars structurally. Strings of equal hash compare
// equal; the hash stands in for the bytes. Mismatched types are never
// equal, so 1 == 1.0 is false.
func Equal(a, b Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case VAL_NIL:
		return true
	case VAL_BOOL:
		return a.AsBool == b.AsBool
	case VAL_INT:
		return a.AsInt == b.AsInt
	case VAL_FLOAT:
		return a.AsFloat == b.AsFloat
	case VAL_STRING:
		return a.Hash == b.Hash
	default:
		return false
	}
}

// Helper constructors
func NewNil() Value {
	return Value{Type: VAL_NIL}
}

func NewBool(v bool) Value {
	return Value{Type: VAL_BOOL, AsBool: v}
}

func NewInt(v int64) Value {
	return Value{Type: VAL_INT, AsInt: v}
}

func NewFloat(v float64) Value {
	return Value{Type: VAL_FLOAT, AsFloat: v}
}

func NewPointer(p interface{}) Value {
	return Value{Type: VAL_PTR, Ptr: p}
}

func NewString(s string) Value {
	return Value{Type: VAL_STRING, Str: s, Hash: HashString(s)}
}

func NewFunction(fn *ObjFunction) Value {
	return Value{Type: VAL_FUNCTION, Obj: fn}
}

func NewClosure(c *ObjClosure) Value {
	return Value{Type: VAL_FUNCTION, Obj: c}
}

func NewNative(name string, fn NativeFunc) Value {
	return Value{Type: VAL_NATIVE, Obj: &ObjNative{Name: name, Fn: fn}}
}
