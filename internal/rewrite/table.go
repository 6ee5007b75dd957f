package rewrite

import (
	"errors"
	"fmt"
	"strings"

	"classweave/internal/bytecode"
	"classweave/internal/config"
)

var ErrBadTable = errors.New("rewrite: invalid call-site table")

// Kind is the invocation form of a recognised call.
type Kind uint8

const (
	Virtual Kind = iota
	Static
)

func (k Kind) String() string {
	if k == Static {
		return "static"
	}
	return "virtual"
}

// Action selects the stack protocol applied to a recognised call.
type Action uint8

const (
	LoadClass Action = iota
	ForName1
	ForName3
	GetResource
	GetResources
	GetResourceAsStream
	GetBundle3
	GetBundle4
)

var actionNames = [...]string{
	LoadClass:           "loadClass",
	ForName1:            "forName/1",
	ForName3:            "forName/3",
	GetResource:         "getResource",
	GetResources:        "getResources",
	GetResourceAsStream: "getResourceAsStream",
	GetBundle3:          "getBundle/3",
	GetBundle4:          "getBundle/4",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", a)
}

func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Action) UnmarshalText(b []byte) error {
	for i, name := range actionNames {
		if name == string(b) {
			*a = Action(i)
			return nil
		}
	}
	return fmt.Errorf("rewrite: unknown action %q", b)
}

// Signature identifies one call shape exactly.
type Signature struct {
	Kind  Kind
	Owner string
	Name  string
	Desc  string
}

func (s Signature) String() string {
	return s.Owner + "." + s.Name + s.Desc
}

// Entry maps a recognised call to its replacement static call.
type Entry struct {
	Match  Signature
	Action Action
	Target Signature // always Static
}

// Table is the fixed set of recognised call shapes.
type Table struct {
	entries map[Signature]Entry
	order   []Signature
}

// Well-known JDK types and descriptors.
const (
	classType          = "java/lang/Class"
	classLoaderType    = "java/lang/ClassLoader"
	resourceBundleType = "java/util/ResourceBundle"

	descString  = "Ljava/lang/String;"
	descClass   = "Ljava/lang/Class;"
	descLoader  = "Ljava/lang/ClassLoader;"
	descURL     = "Ljava/net/URL;"
	descEnum    = "Ljava/util/Enumeration;"
	descStream  = "Ljava/io/InputStream;"
	descLocale  = "Ljava/util/Locale;"
	descBundle  = "Ljava/util/ResourceBundle;"
	descControl = "Ljava/util/ResourceBundle$Control;"
)

// NewTable builds the call-site table for a resolver configuration and
// validates every descriptor in it.
func NewTable(r config.Resolver) (*Table, error) {
	if r.Owner == "" || strings.Contains(r.Owner, ".") {
		return nil, fmt.Errorf("%w: resolver owner %q", ErrBadTable, r.Owner)
	}
	if r.ContextType == "" || strings.Contains(r.ContextType, ".") {
		return nil, fmt.Errorf("%w: context type %q", ErrBadTable, r.ContextType)
	}
	ctx := bytecode.ObjectDesc(r.ContextType)
	static := func(name, desc string) Signature {
		return Signature{Kind: Static, Owner: r.Owner, Name: name, Desc: desc}
	}

	t := &Table{entries: make(map[Signature]Entry)}
	for _, loader := range r.ClassLoaderTypes {
		if loader == "" || strings.Contains(loader, ".") {
			return nil, fmt.Errorf("%w: class loader type %q", ErrBadTable, loader)
		}
		virtual := func(name, desc string) Signature {
			return Signature{Kind: Virtual, Owner: loader, Name: name, Desc: desc}
		}
		t.add(virtual("loadClass", "("+descString+")"+descClass), LoadClass,
			static("loadClass", "("+descString+ctx+descLoader+")"+descClass))
		t.add(virtual("getResource", "("+descString+")"+descURL), GetResource,
			static("getResource", "("+descString+ctx+descLoader+")"+descURL))
		t.add(virtual("getResources", "("+descString+")"+descEnum), GetResources,
			static("getResources", "("+descString+ctx+descLoader+")"+descEnum))
		t.add(virtual("getResourceAsStream", "("+descString+")"+descStream), GetResourceAsStream,
			static("getResourceAsStream", "("+descString+ctx+descLoader+")"+descStream))
	}
	t.add(Signature{Static, classType, "forName", "(" + descString + ")" + descClass}, ForName1,
		static("classForName", "("+descString+ctx+descClass+")"+descClass))
	t.add(Signature{Static, classType, "forName", "(" + descString + "Z" + descLoader + ")" + descClass}, ForName3,
		static("classForName", "("+descString+"Z"+ctx+descLoader+")"+descClass))
	t.add(Signature{Static, resourceBundleType, "getBundle", "(" + descString + descLocale + descLoader + ")" + descBundle}, GetBundle3,
		static("getBundle", "("+descString+descLocale+descLoader+descClass+")"+descBundle))
	t.add(Signature{Static, resourceBundleType, "getBundle", "(" + descString + descLocale + descLoader + descControl + ")" + descBundle}, GetBundle4,
		static("getBundle", "("+descString+descLocale+descLoader+descControl+descClass+")"+descBundle))

	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) add(match Signature, a Action, target Signature) {
	if _, dup := t.entries[match]; dup {
		return
	}
	t.entries[match] = Entry{Match: match, Action: a, Target: target}
	t.order = append(t.order, match)
}

// extraArgs is how many arguments each protocol adds to the original call.
func (a Action) extraArgs() int {
	switch a {
	case ForName3, GetBundle3, GetBundle4:
		return 1
	}
	return 2 // receiver becomes an argument, plus the context; or context plus identity
}

func (t *Table) validate() error {
	for _, sig := range t.order {
		e := t.entries[sig]
		match, err := bytecode.ParseMethodDesc(e.Match.Desc)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadTable, e.Match, err)
		}
		target, err := bytecode.ParseMethodDesc(e.Target.Desc)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadTable, e.Target, err)
		}
		if match.Ret != target.Ret {
			return fmt.Errorf("%w: %s returns %s, replacement returns %s", ErrBadTable, e.Match, match.Ret, target.Ret)
		}
		if len(target.Args) != len(match.Args)+e.Action.extraArgs() {
			return fmt.Errorf("%w: %s: replacement %s has %d arguments", ErrBadTable, e.Action, e.Target, len(target.Args))
		}
	}
	return nil
}

// Lookup returns the entry for an exact call shape.
func (t *Table) Lookup(sig Signature) (Entry, bool) {
	e, ok := t.entries[sig]
	return e, ok
}

// Entries returns the table in construction order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.order))
	for i, sig := range t.order {
		out[i] = t.entries[sig]
	}
	return out
}
