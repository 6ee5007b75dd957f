package bytecode

import (
	"fmt"
	"strings"

	"classweave/internal/classfile"
)

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation.
type Annotator func(inst Inst) string

// Operands renders the operand text of in, resolving constant pool
// references through pool when it is non-nil.
func Operands(in Inst, pool *classfile.Pool) string {
	switch {
	case in.Op == Bipush, in.Op == Sipush:
		return fmt.Sprint(in.Value)
	case in.Op == Newarray:
		return arrayTypeName(in.Value)
	case in.Op == Iinc:
		return fmt.Sprintf("%d %d", in.Index, in.Value)
	case isLocalOp(in.Op):
		return fmt.Sprint(in.Index)
	case in.IsBranch():
		return fmt.Sprint(in.Target)
	case in.IsSwitch():
		var b strings.Builder
		for i, k := range in.Switch.Keys {
			fmt.Fprintf(&b, "%d:%d ", k, in.Switch.Targets[i])
		}
		fmt.Fprintf(&b, "default:%d", in.Switch.Default)
		return b.String()
	case in.Op == Ldc, isCPOp(in.Op), in.Op == Invokeinterface, in.Op == Invokedynamic, in.Op == Multianewarray:
		s := fmt.Sprintf("#%d", in.Index)
		if pool != nil {
			if txt := constantText(pool, in.Index); txt != "" {
				s += " " + txt
			}
		}
		if in.Op == Multianewarray {
			s += fmt.Sprintf(" dim %d", in.Value)
		}
		return s
	}
	return ""
}

func constantText(pool *classfile.Pool, i uint16) string {
	c, err := pool.Entry(i)
	if err != nil {
		return ""
	}
	switch c.Tag {
	case classfile.TagClass:
		name, _ := pool.ClassName(i)
		return name
	case classfile.TagString:
		s, _ := pool.Utf8(c.Index1)
		if len(s) > 50 {
			s = s[:47] + "..."
		}
		return fmt.Sprintf("%q", s)
	case classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref:
		ref, err := pool.Member(i)
		if err != nil {
			return ""
		}
		return ref.Owner + "." + ref.Name + ":" + ref.Desc
	case classfile.TagInvokeDynamic, classfile.TagDynamic:
		name, desc, err := pool.DynamicDesc(i)
		if err != nil {
			return ""
		}
		return name + ":" + desc
	case classfile.TagInteger, classfile.TagFloat, classfile.TagLong, classfile.TagDouble:
		return fmt.Sprintf("0x%x", c.Raw)
	}
	return ""
}

func arrayTypeName(t int32) string {
	switch t {
	case 4:
		return "boolean"
	case 5:
		return "char"
	case 6:
		return "float"
	case 7:
		return "double"
	case 8:
		return "byte"
	case 9:
		return "short"
	case 10:
		return "int"
	case 11:
		return "long"
	}
	return fmt.Sprintf("type%d", t)
}

// Format renders instructions as stable text, one per line:
// <pc>  <mnemonic> <operands>  ; <comment>
// Annotators are checked in order; the first non-empty result is used.
func Format(insts []Inst, pool *classfile.Pool, annotators ...Annotator) string {
	var b strings.Builder
	for _, in := range insts {
		if in.PC >= 0 {
			fmt.Fprintf(&b, "%5d  ", in.PC)
		} else {
			b.WriteString("    +  ")
		}
		b.WriteString(in.Op.String())
		if in.Wide {
			b.WriteString("_w")
		}
		if ops := Operands(in, pool); ops != "" {
			b.WriteByte(' ')
			b.WriteString(ops)
		}
		for _, ann := range annotators {
			if s := ann(in); s != "" {
				fmt.Fprintf(&b, "  ; %s", s)
				break
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
