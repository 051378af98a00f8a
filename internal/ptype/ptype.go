// Package ptype defines the primitive scalar types of the pipeline
// definition language and the safe implicit widening relation between them.
package ptype

// Type is one of the eight primitive type tags a port or parameter can carry.
type Type int

const (
	Void Type = iota
	Int8
	Int16
	Int32
	Float
	Double
	Cfloat
	Cdouble
)

func (t Type) String() string {
	switch t {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float:
		return "float"
	case Double:
		return "double"
	case Cfloat:
		return "cfloat"
	case Cdouble:
		return "cdouble"
	default:
		return "void"
	}
}

// Parse converts a type name as it appears in source (explicit type
// arguments, manifest JSON) into a Type. ok is false for unknown names.
func Parse(name string) (Type, bool) {
	switch name {
	case "int8":
		return Int8, true
	case "int16":
		return Int16, true
	case "int32":
		return Int32, true
	case "float":
		return Float, true
	case "double":
		return Double, true
	case "cfloat":
		return Cfloat, true
	case "cdouble":
		return Cdouble, true
	default:
		return Void, false
	}
}

// rank reports (family, rank) for types that participate in widening.
// family 0 is the real chain, family 1 the complex chain. Void never widens.
func rank(t Type) (family, level int, ok bool) {
	switch t {
	case Int8:
		return 0, 0, true
	case Int16:
		return 0, 1, true
	case Int32:
		return 0, 2, true
	case Float:
		return 0, 3, true
	case Double:
		return 0, 4, true
	case Cfloat:
		return 1, 0, true
	case Cdouble:
		return 1, 1, true
	default:
		return 0, 0, false
	}
}

// CanWiden reports whether from can be implicitly widened to to: same type
// is always allowed; otherwise both must be in the same family with from's
// rank strictly below to's.
func CanWiden(from, to Type) bool {
	if from == to {
		return true
	}
	ffam, flvl, fok := rank(from)
	tfam, tlvl, tok := rank(to)
	if !fok || !tok {
		return false
	}
	return ffam == tfam && flvl < tlvl
}

// CommonWidening returns the least upper bound of a and b in the widening
// chain, if one exists.
func CommonWidening(a, b Type) (Type, bool) {
	if a == b {
		return a, true
	}
	if CanWiden(a, b) {
		return b, true
	}
	if CanWiden(b, a) {
		return a, true
	}
	return Void, false
}
