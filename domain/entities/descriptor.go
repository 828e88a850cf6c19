package entities

import (
	"fmt"
	"strings"
)

// ScalarKind identifies the native element type behind a TypeDescriptor.
type ScalarKind uint8

// Scalar kinds understood by the bridge. The zero value is invalid.
const (
	ScalarInvalid ScalarKind = iota
	ScalarByte
	ScalarShort
	ScalarInt
	ScalarLong
	ScalarFloat
	ScalarDouble
	ScalarBool
	ScalarString
)

// arraySuffix marks the array form of a scalar type name.
const arraySuffix = "[]"

var scalarNames = map[ScalarKind]string{
	ScalarByte:   "byte",
	ScalarShort:  "short",
	ScalarInt:    "int",
	ScalarLong:   "long",
	ScalarFloat:  "float",
	ScalarDouble: "double",
	ScalarBool:   "bool",
	ScalarString: "string",
}

var scalarsByName = func() map[string]ScalarKind {
	m := make(map[string]ScalarKind, len(scalarNames))
	for k, name := range scalarNames {
		m[name] = k
	}
	return m
}()

// String returns the vocabulary name of the scalar kind.
func (k ScalarKind) String() string {
	if name, ok := scalarNames[k]; ok {
		return name
	}
	return fmt.Sprintf("scalar(%d)", uint8(k))
}

// IsNumeric reports whether the kind carries an integral or floating value.
func (k ScalarKind) IsNumeric() bool {
	switch k {
	case ScalarByte, ScalarShort, ScalarInt, ScalarLong, ScalarFloat, ScalarDouble:
		return true
	default:
		return false
	}
}

// IsIntegral reports whether the kind is a signed integer.
func (k ScalarKind) IsIntegral() bool {
	switch k {
	case ScalarByte, ScalarShort, ScalarInt, ScalarLong:
		return true
	default:
		return false
	}
}

// TypeDescriptor is the parsed form of a type name such as "int" or "double[]".
type TypeDescriptor struct {
	Scalar ScalarKind
	Array  bool
}

// ParseTypeDescriptor parses a vocabulary type name.
// Surrounding whitespace is not accepted; type names are matched exactly.
func ParseTypeDescriptor(name string) (TypeDescriptor, bool) {
	array := strings.HasSuffix(name, arraySuffix)
	base := strings.TrimSuffix(name, arraySuffix)

	kind, ok := scalarsByName[base]
	if !ok {
		return TypeDescriptor{}, false
	}
	return TypeDescriptor{Scalar: kind, Array: array}, true
}

// String returns the vocabulary name of the descriptor.
func (d TypeDescriptor) String() string {
	if d.Array {
		return d.Scalar.String() + arraySuffix
	}
	return d.Scalar.String()
}

// IsValid reports whether the descriptor names a known scalar.
func (d TypeDescriptor) IsValid() bool {
	_, ok := scalarNames[d.Scalar]
	return ok
}

// TypeNames lists every type name in the vocabulary, scalars first.
func TypeNames() []string {
	names := make([]string, 0, 2*len(scalarNames))
	for k := ScalarByte; k <= ScalarString; k++ {
		names = append(names, k.String())
	}
	for k := ScalarByte; k <= ScalarString; k++ {
		names = append(names, k.String()+arraySuffix)
	}
	return names
}
