// Package bundle reads and updates component metadata held in a jar's
// META-INF/MANIFEST.MF.
package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"classweave/internal/eligibility"
)

// ManifestPath is the archive entry holding the manifest.
const ManifestPath = "META-INF/MANIFEST.MF"

// Well-known headers.
const (
	HeaderManifestVersion = "Manifest-Version"
	HeaderSymbolicName    = "Bundle-SymbolicName"
	HeaderDynamicImport   = "DynamicImport-Package"
)

// maxLine is the longest manifest line in bytes, excluding the line break.
const maxLine = 72

var ErrMalformed = errors.New("bundle: malformed manifest")

// Attr is one header.
type Attr struct {
	Name  string
	Value string
}

// Section is an ordered header group. Names compare case-insensitively.
type Section struct {
	Attrs []Attr
}

func (s *Section) index(name string) int {
	for i, a := range s.Attrs {
		if strings.EqualFold(a.Name, name) {
			return i
		}
	}
	return -1
}

// Get returns the value of a header.
func (s *Section) Get(name string) (string, bool) {
	if i := s.index(name); i >= 0 {
		return s.Attrs[i].Value, true
	}
	return "", false
}

// Set replaces a header's value in place, or appends it.
func (s *Section) Set(name, value string) {
	if i := s.index(name); i >= 0 {
		s.Attrs[i].Value = value
		return
	}
	s.Attrs = append(s.Attrs, Attr{Name: name, Value: value})
}

// Manifest is a parsed manifest: the main section followed by per-entry
// sections, in file order.
type Manifest struct {
	Main    Section
	Entries []Section
}

// ParseManifest decodes manifest text. Lines may end in CRLF, LF or CR; a
// line starting with a space continues the previous header.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	cur := &m.Main
	inMain := true
	started := false

	lines := splitLines(data)
	for n, line := range lines {
		switch {
		case line == "":
			if started {
				inMain = false
				started = false
			}
		case line[0] == ' ':
			if cur == nil || len(cur.Attrs) == 0 || !started {
				return nil, fmt.Errorf("%w: line %d: continuation without header", ErrMalformed, n+1)
			}
			cur.Attrs[len(cur.Attrs)-1].Value += line[1:]
		default:
			name, value, ok := strings.Cut(line, ":")
			if !ok || name == "" || !validName(name) {
				return nil, fmt.Errorf("%w: line %d: %q", ErrMalformed, n+1, line)
			}
			value = strings.TrimPrefix(value, " ")
			if !started && !inMain {
				m.Entries = append(m.Entries, Section{})
				cur = &m.Entries[len(m.Entries)-1]
			}
			started = true
			cur.Attrs = append(cur.Attrs, Attr{Name: name, Value: value})
		}
	}
	return m, nil
}

func splitLines(data []byte) []string {
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

func validName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Bytes encodes the manifest with CRLF line breaks, folding lines longer
// than 72 bytes. A manifest without Manifest-Version gets "1.0" first.
func (m *Manifest) Bytes() []byte {
	var b bytes.Buffer
	main := m.Main
	if _, ok := main.Get(HeaderManifestVersion); !ok {
		main.Attrs = append([]Attr{{HeaderManifestVersion, "1.0"}}, main.Attrs...)
	}
	writeSection(&b, main)
	b.WriteString("\r\n")
	for _, s := range m.Entries {
		writeSection(&b, s)
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

func writeSection(b *bytes.Buffer, s Section) {
	for _, a := range s.Attrs {
		writeFolded(b, a.Name+": "+a.Value)
	}
}

// writeFolded splits line into chunks of at most 72 bytes, continuation
// chunks carrying a leading space, without splitting a UTF-8 sequence.
func writeFolded(b *bytes.Buffer, line string) {
	limit := maxLine
	for len(line) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		b.WriteString(line[:cut])
		b.WriteString("\r\n ")
		line = line[cut:]
		limit = maxLine - 1
	}
	b.WriteString(line)
	b.WriteString("\r\n")
}

// Get returns a main-section header.
func (m *Manifest) Get(name string) (string, bool) { return m.Main.Get(name) }

// Component returns the eligibility view of the manifest. The symbolic name
// drops any directives after the first ';'.
func (m *Manifest) Component() eligibility.Component {
	c := eligibility.Component{Headers: make(map[string]string, len(m.Main.Attrs))}
	for _, a := range m.Main.Attrs {
		c.Headers[a.Name] = a.Value
	}
	if v, ok := m.Get(HeaderSymbolicName); ok {
		name, _, _ := strings.Cut(v, ";")
		c.SymbolicName = strings.TrimSpace(name)
	}
	return c
}

// AddDynamicImport appends clause to DynamicImport-Package unless an equal
// clause is already declared. It reports whether the manifest changed.
func (m *Manifest) AddDynamicImport(clause string) bool {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return false
	}
	cur, ok := m.Get(HeaderDynamicImport)
	if !ok || strings.TrimSpace(cur) == "" {
		m.Main.Set(HeaderDynamicImport, clause)
		return true
	}
	for _, c := range SplitClauses(cur) {
		if c == clause {
			return false
		}
	}
	m.Main.Set(HeaderDynamicImport, cur+","+clause)
	return true
}

// SplitClauses splits a header value at top-level commas; commas inside
// double quotes belong to the clause. Clauses are trimmed.
func SplitClauses(v string) []string {
	var (
		out    []string
		quoted bool
		start  int
	)
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				out = append(out, strings.TrimSpace(v[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(v[start:]); rest != "" || len(out) > 0 {
		out = append(out, rest)
	}
	return out
}
