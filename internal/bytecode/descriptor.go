package bytecode

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadDescriptor = errors.New("bytecode: malformed descriptor")

// MethodType is a parsed method descriptor.
type MethodType struct {
	Args []string // field descriptors
	Ret  string   // field descriptor, or "V"
}

// ParseMethodDesc parses "(Ljava/lang/String;Z)Ljava/lang/Class;".
func ParseMethodDesc(desc string) (MethodType, error) {
	var mt MethodType
	if !strings.HasPrefix(desc, "(") {
		return mt, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldDescLen(desc[i:])
		if err != nil {
			return mt, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
		}
		mt.Args = append(mt.Args, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return mt, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		n, err := fieldDescLen(ret)
		if err != nil || n != len(ret) {
			return mt, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
		}
	}
	mt.Ret = ret
	return mt, nil
}

// String re-encodes the descriptor.
func (mt MethodType) String() string {
	return "(" + strings.Join(mt.Args, "") + ")" + mt.Ret
}

// ArgSlots returns the number of stack words the arguments occupy.
func (mt MethodType) ArgSlots() int {
	n := 0
	for _, a := range mt.Args {
		n += DescSize(a)
	}
	return n
}

// ValidFieldDesc reports whether desc is exactly one field descriptor.
func ValidFieldDesc(desc string) bool {
	n, err := fieldDescLen(desc)
	return err == nil && n == len(desc)
}

func fieldDescLen(s string) (int, error) {
	dims := 0
	for dims < len(s) && s[dims] == '[' {
		dims++
	}
	if dims > 255 || dims >= len(s) {
		return 0, ErrBadDescriptor
	}
	switch s[dims] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return dims + 1, nil
	case 'L':
		end := strings.IndexByte(s[dims:], ';')
		if end <= 1 {
			return 0, ErrBadDescriptor
		}
		return dims + end + 1, nil
	}
	return 0, ErrBadDescriptor
}

// DescSize returns 2 for long and double, 0 for void, 1 otherwise.
func DescSize(desc string) int {
	switch desc {
	case "J", "D":
		return 2
	case "V":
		return 0
	}
	return 1
}

// ObjectDesc returns the field descriptor for an internal class name; array
// names are already descriptors.
func ObjectDesc(name string) string {
	if strings.HasPrefix(name, "[") {
		return name
	}
	return "L" + name + ";"
}

// DescClassName is the inverse of ObjectDesc for reference descriptors.
func DescClassName(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return desc[1 : len(desc)-1]
	}
	return desc
}

// ArgCount returns the number of declared arguments in a method descriptor,
// or -1 if it does not parse.
func ArgCount(desc string) int {
	mt, err := ParseMethodDesc(desc)
	if err != nil {
		return -1
	}
	return len(mt.Args)
}
