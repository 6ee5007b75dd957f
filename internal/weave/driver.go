// Package weave rewrites every eligible class of a jar.
//
// Each class gets its own engine run; a run that fails leaves that class's
// original bytes in place and never affects its siblings.
package weave

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"classweave/internal/bundle"
	"classweave/internal/classpath"
	"classweave/internal/eligibility"
	"classweave/internal/emit"
	"classweave/internal/hierarchy"
	"classweave/internal/rewrite"
)

// Status is the fate of one class.
type Status string

const (
	StatusRewritten Status = "rewritten"
	StatusUnchanged Status = "unchanged"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome records what happened to one class.
type Outcome struct {
	Class  string         `json:"class"`
	Status Status         `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Sites  []rewrite.Site `json:"sites,omitempty"`
}

// Report summarises one jar.
type Report struct {
	Component      string    `json:"component"`
	Eligible       bool      `json:"eligible"`
	Reason         string    `json:"reason,omitempty"`
	DynamicImports []string  `json:"dynamic_imports,omitempty"`
	Outcomes       []Outcome `json:"outcomes"`
}

// Count returns how many classes ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Driver weaves jars.
type Driver struct {
	Engine *rewrite.Engine
	Policy *eligibility.Policy
	Logger *slog.Logger
	Jobs   int // concurrent classes; 0 means GOMAXPROCS
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// WeaveFile weaves the jar at inPath into outPath. The output is written to
// a temporary file in the same directory and renamed into place.
func (d *Driver) WeaveFile(ctx context.Context, inPath, outPath string, extra hierarchy.Source) (*Report, error) {
	in, err := classpath.OpenJar(inPath)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".classweave-*.jar")
	if err != nil {
		return nil, fmt.Errorf("weave: %w", err)
	}
	defer os.Remove(tmp.Name())

	rep, err := d.WeaveJar(ctx, in, tmp, extra)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("weave: %w", cerr)
	}
	if err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return nil, fmt.Errorf("weave: %w", err)
	}
	return rep, nil
}

// WeaveJar weaves the classes of in and, when out is non-nil, writes the
// resulting archive to it. extra supplies ancestors that live outside the
// jar (platform and dependency classes); it may be nil.
func (d *Driver) WeaveJar(ctx context.Context, in *classpath.Jar, out io.Writer, extra hierarchy.Source) (*Report, error) {
	log := d.logger()

	manifest := &bundle.Manifest{}
	if data, ok := in.File(bundle.ManifestPath); ok {
		m, err := bundle.ParseManifest(data)
		if err != nil {
			return nil, err
		}
		manifest = m
	}
	component := manifest.Component()
	rep := &Report{Component: component.SymbolicName}

	classes := in.Classes()
	rep.Outcomes = make([]Outcome, len(classes))
	for i, name := range classes {
		rep.Outcomes[i] = Outcome{Class: name, Status: StatusSkipped}
	}

	if !d.Policy.ComponentEligible(component) {
		rep.Reason = fmt.Sprintf("component %q is not eligible", component.SymbolicName)
		for i := range rep.Outcomes {
			rep.Outcomes[i].Reason = rep.Reason
		}
		log.Info("component not eligible", "component", component.SymbolicName, "classes", len(classes))
		if out != nil {
			return rep, copyJar(in, out, nil, nil)
		}
		return rep, nil
	}
	rep.Eligible = true

	engine := d.Engine.WithComponent(component.SymbolicName)
	src := classpath.Chain{in, extra}
	woven := make([][]byte, len(classes))
	imports := make([][]string, len(classes))

	jobs := d.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, name := range classes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			o := &rep.Outcomes[i]
			defer func() {
				if r := recover(); r != nil {
					o.Status, o.Reason, o.Sites = StatusFailed, fmt.Sprintf("panic: %v", r), nil
					log.Error("panic while rewriting class; class left unchanged",
						"component", component.SymbolicName, "class", name, "panic", r)
				}
			}()
			bin, ok := in.ClassBytes(name)
			if !ok {
				o.Status, o.Reason = StatusFailed, "unreadable archive entry"
				log.Warn("cannot read class", "component", component.SymbolicName, "class", name)
				return nil
			}
			dec := d.Policy.Eligible(component, name, bin)
			if !dec.Eligible {
				o.Reason = dec.Reason
				log.Debug("skip class", "class", name, "reason", dec.Reason)
				return nil
			}

			res, err := engine.Weave(name, bin, src)
			if err != nil {
				o.Status, o.Reason = StatusFailed, err.Error()
				d.logFailure(component.SymbolicName, name, err)
				return nil
			}
			o.Sites = res.Sites
			if !res.Modified {
				o.Status = StatusUnchanged
				return nil
			}
			o.Status = StatusRewritten
			woven[i] = res.Binary
			imports[i] = res.DynamicImports
			log.Debug("rewrote class", "class", name, "sites", len(res.Sites))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	replaced := make(map[string][]byte)
	for i, bin := range woven {
		if bin == nil {
			continue
		}
		replaced[classpath.EntryName(classes[i])] = bin
		for _, clause := range imports[i] {
			manifest.AddDynamicImport(clause)
		}
	}
	if len(replaced) > 0 {
		if v, ok := manifest.Get(bundle.HeaderDynamicImport); ok {
			rep.DynamicImports = bundle.SplitClauses(v)
		}
	}

	log.Info("woven component",
		"component", component.SymbolicName,
		"classes", len(classes),
		"rewritten", rep.Count(StatusRewritten),
		"unchanged", rep.Count(StatusUnchanged),
		"skipped", rep.Count(StatusSkipped),
		"failed", rep.Count(StatusFailed),
	)

	if out == nil {
		return rep, nil
	}
	var newManifest []byte
	if len(replaced) > 0 {
		newManifest = manifest.Bytes()
	}
	return rep, copyJar(in, out, replaced, newManifest)
}

// logFailure reports a class left in its original form. A common
// superclass outside the component's visibility is expected in practice
// and carries both type names.
func (d *Driver) logFailure(component, class string, err error) {
	var nf *emit.CommonSuperclassNotFoundError
	if errors.As(err, &nf) {
		d.logger().Warn("common superclass not visible; class left unchanged",
			"component", component, "class", class, "type1", nf.Type1, "type2", nf.Type2)
		return
	}
	d.logger().Warn("cannot rewrite class; class left unchanged",
		"component", component, "class", class, "err", err)
}

// copyJar writes every entry of in to out in order. Entries named in
// replaced get new contents; a non-nil manifest replaces or, when absent,
// precedes the archive's own.
func copyJar(in *classpath.Jar, out io.Writer, replaced map[string][]byte, manifest []byte) error {
	zw := zip.NewWriter(out)
	files := in.Reader().File

	hasManifest := false
	for _, f := range files {
		if f.Name == bundle.ManifestPath {
			hasManifest = true
			break
		}
	}
	if manifest != nil && !hasManifest {
		if err := writeEntry(zw, &zip.FileHeader{Name: bundle.ManifestPath, Method: zip.Deflate}, manifest); err != nil {
			return err
		}
	}

	for _, f := range files {
		data, ok := replaced[f.Name]
		if f.Name == bundle.ManifestPath && manifest != nil {
			data, ok = manifest, true
		}
		if !ok {
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("weave: copy %s: %w", f.Name, err)
			}
			continue
		}
		hdr := &zip.FileHeader{
			Name:     f.Name,
			Comment:  f.Comment,
			Method:   f.Method,
			Modified: f.Modified,
		}
		hdr.SetMode(f.Mode())
		if err := writeEntry(zw, hdr, data); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("weave: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, hdr *zip.FileHeader, data []byte) error {
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("weave: %s: %w", hdr.Name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("weave: %s: %w", hdr.Name, err)
	}
	return nil
}
