// Package classpath provides byte-sources that resolve internal class names
// to raw class binaries: directories, jars, in-memory maps, and
// combinations of those. Every source here is safe for concurrent reads.
package classpath

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"classweave/internal/hierarchy"
)

// ClassSuffix is the file extension of class binaries.
const ClassSuffix = ".class"

// EntryName returns the archive path of an internal class name.
func EntryName(class string) string { return class + ClassSuffix }

// ClassName returns the internal class name of an archive path, or "" when
// the path is not a class binary.
func ClassName(entry string) string {
	if !strings.HasSuffix(entry, ClassSuffix) {
		return ""
	}
	return strings.TrimSuffix(entry, ClassSuffix)
}

// Dir reads class binaries from a directory tree laid out by package.
type Dir string

func (d Dir) ClassBytes(name string) ([]byte, bool) {
	if name == "" || strings.Contains(name, "..") {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(string(d), filepath.FromSlash(EntryName(name))))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Map is an in-memory byte-source keyed by internal class name.
type Map map[string][]byte

func (m Map) ClassBytes(name string) ([]byte, bool) {
	b, ok := m[name]
	return b, ok
}

// Chain consults each source in order; the first hit wins.
type Chain []hierarchy.Source

func (c Chain) ClassBytes(name string) ([]byte, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if b, ok := src.ClassBytes(name); ok {
			return b, true
		}
	}
	return nil, false
}

// Overlay serves one class from memory and defers everything else to Base.
// The class being rewritten is overlaid this way so its own superclass is
// readable even before the output archive exists.
type Overlay struct {
	Name  string
	Bytes []byte
	Base  hierarchy.Source
}

func (o Overlay) ClassBytes(name string) ([]byte, bool) {
	if name == o.Name {
		return o.Bytes, true
	}
	if o.Base == nil {
		return nil, false
	}
	return o.Base.ClassBytes(name)
}

// Jar is a byte-source over a zip archive.
type Jar struct {
	r      *zip.Reader
	closer io.Closer
	files  map[string]*zip.File
}

// OpenJar opens the archive at path. Close releases the file.
func OpenJar(path string) (*Jar, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("classpath: open %s: %w", path, err)
	}
	j := NewJar(&zr.Reader)
	j.closer = zr
	return j, nil
}

// NewJar wraps an already open archive.
func NewJar(r *zip.Reader) *Jar {
	j := &Jar{r: r, files: make(map[string]*zip.File, len(r.File))}
	for _, f := range r.File {
		if _, dup := j.files[f.Name]; !dup {
			j.files[f.Name] = f
		}
	}
	return j
}

// Close closes the underlying file when the jar was opened by path.
func (j *Jar) Close() error {
	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

// Reader exposes the archive for callers that copy it entry by entry.
func (j *Jar) Reader() *zip.Reader { return j.r }

// File reads an arbitrary entry.
func (j *Jar) File(entry string) ([]byte, bool) {
	f, ok := j.files[entry]
	if !ok {
		return nil, false
	}
	rc, err := f.Open()
	if err != nil {
		return nil, false
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (j *Jar) ClassBytes(name string) ([]byte, bool) {
	return j.File(EntryName(name))
}

// Classes lists the internal names of every class binary in the archive,
// sorted.
func (j *Jar) Classes() []string {
	var out []string
	for name := range j.files {
		if c := ClassName(name); c != "" && !strings.HasPrefix(name, "META-INF/") {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

var (
	_ hierarchy.Source = Dir("")
	_ hierarchy.Source = Map(nil)
	_ hierarchy.Source = Chain(nil)
	_ hierarchy.Source = Overlay{}
	_ hierarchy.Source = (*Jar)(nil)
)
