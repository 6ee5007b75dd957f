package emit

import (
	"strings"

	"classweave/internal/bytecode"
)

// Verification type tags, as encoded in StackMapTable.
const (
	tagTop               = 0
	tagInteger           = 1
	tagFloat             = 2
	tagDouble            = 3
	tagLong              = 4
	tagNull              = 5
	tagUninitializedThis = 6
	tagObject            = 7
	tagUninitialized     = 8
)

// vtype is one verification type. Name is the internal class name (arrays in
// descriptor form) for tagObject; Offset is the allocating pc for
// tagUninitialized.
type vtype struct {
	Tag    uint8
	Name   string
	Offset int
}

var (
	top         = vtype{Tag: tagTop}
	integer     = vtype{Tag: tagInteger}
	float       = vtype{Tag: tagFloat}
	long        = vtype{Tag: tagLong}
	double      = vtype{Tag: tagDouble}
	null        = vtype{Tag: tagNull}
	uninitThis  = vtype{Tag: tagUninitializedThis}
	objectType  = object(rootType)
	throwable   = object("java/lang/Throwable")
	stringType  = object("java/lang/String")
	classObject = object("java/lang/Class")
)

const rootType = "java/lang/Object"

func object(name string) vtype { return vtype{Tag: tagObject, Name: name} }

func uninit(offset int) vtype { return vtype{Tag: tagUninitialized, Offset: offset} }

// wide reports whether t occupies two slots.
func (t vtype) wide() bool { return t.Tag == tagLong || t.Tag == tagDouble }

func (t vtype) isReference() bool {
	switch t.Tag {
	case tagObject, tagNull, tagUninitialized, tagUninitializedThis:
		return true
	}
	return false
}

func (t vtype) isArray() bool { return t.Tag == tagObject && strings.HasPrefix(t.Name, "[") }

func (t vtype) String() string {
	switch t.Tag {
	case tagTop:
		return "top"
	case tagInteger:
		return "int"
	case tagFloat:
		return "float"
	case tagLong:
		return "long"
	case tagDouble:
		return "double"
	case tagNull:
		return "null"
	case tagUninitializedThis:
		return "uninitializedThis"
	case tagUninitialized:
		return "uninitialized"
	}
	return t.Name
}

// fromDesc converts a field descriptor to a verification type.
func fromDesc(desc string) vtype {
	if desc == "" {
		return top
	}
	switch desc[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return integer
	case 'F':
		return float
	case 'J':
		return long
	case 'D':
		return double
	case '[':
		return object(desc)
	case 'L':
		return object(bytecode.DescClassName(desc))
	}
	return top
}

// elementType returns the component type of an array type.
func elementType(arr vtype) vtype {
	if arr.Tag == tagNull {
		return null
	}
	if !arr.isArray() {
		return objectType
	}
	return fromDesc(arr.Name[1:])
}

// arrayOf returns the array type whose elements have the given descriptor.
func arrayOf(elemDesc string) vtype { return object("[" + elemDesc) }

// primitiveArray maps a newarray operand to its array descriptor.
func primitiveArray(code int32) vtype {
	switch code {
	case 4:
		return arrayOf("Z")
	case 5:
		return arrayOf("C")
	case 6:
		return arrayOf("F")
	case 7:
		return arrayOf("D")
	case 8:
		return arrayOf("B")
	case 9:
		return arrayOf("S")
	case 10:
		return arrayOf("I")
	case 11:
		return arrayOf("J")
	}
	return objectType
}
