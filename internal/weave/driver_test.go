package weave

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classweave/internal/bundle"
	"classweave/internal/classfile"
	"classweave/internal/classpath"
	"classweave/internal/config"
	"classweave/internal/eligibility"
	"classweave/internal/hierarchy"
	"classweave/internal/logger"
	"classweave/internal/rewrite"
)

const forNameDesc = "(Ljava/lang/String;)Ljava/lang/Class;"

func u2(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

// loader returns a class whose static method calls Class.forName.
func loader(t *testing.T, name string, major uint16) []byte {
	t.Helper()
	cf, err := classfile.New(name, "java/lang/Object", major)
	require.NoError(t, err)
	forName, err := cf.Pool.AddMethodref("java/lang/Class", "forName", forNameDesc)
	require.NoError(t, err)
	code := append(append([]byte{0x2a, 0xb8}, u2(forName)...), 0xb0)
	require.NoError(t, cf.AddMethod(classfile.AccStatic, "load", forNameDesc, &classfile.Code{MaxStack: 1, MaxLocals: 1, Bytecode: code}))
	return cf.Bytes()
}

// plain returns a class with no classloading calls.
func plain(t *testing.T, name string) []byte {
	t.Helper()
	cf, err := classfile.New(name, "java/lang/Object", 52)
	require.NoError(t, err)
	require.NoError(t, cf.AddMethod(classfile.AccStatic, "run", "()V", &classfile.Code{Bytecode: []byte{0xb1}}))
	return cf.Bytes()
}

// unresolvable merges a p/A with the result of forName, whose common
// superclass needs java/lang/Class, which the jar does not contain.
func unresolvable(t *testing.T, name string) []byte {
	t.Helper()
	cf, err := classfile.New(name, "java/lang/Object", 52)
	require.NoError(t, err)
	a, _ := cf.Pool.AddClass("p/A")
	forName, _ := cf.Pool.AddMethodref("java/lang/Class", "forName", forNameDesc)
	var code []byte
	code = append(code, 0x1a, 0x99, 0x00, 0x0a, 0x01, 0xc0)
	code = append(code, u2(a)...)
	code = append(code, 0xa7, 0x00, 0x07, 0x2b, 0xb8)
	code = append(code, u2(forName)...)
	code = append(code, 0xb0)
	require.NoError(t, cf.AddMethod(classfile.AccStatic, "pick", "(ZLjava/lang/String;)Ljava/lang/Object;",
		&classfile.Code{MaxStack: 1, MaxLocals: 2, Bytecode: code}))
	return cf.Bytes()
}

type entry struct {
	name string
	data []byte
}

func buildJar(t *testing.T, entries ...entry) *classpath.Jar {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	return classpath.NewJar(zr)
}

func readJar(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = b
	}
	return out
}

func manifestFor(symbolicName string, extra ...string) []byte {
	text := "Manifest-Version: 1.0\r\nBundle-SymbolicName: " + symbolicName + "\r\n"
	for _, h := range extra {
		text += h + "\r\n"
	}
	return []byte(text + "\r\n")
}

func newDriver(t *testing.T) *Driver {
	t.Helper()
	cfg := config.Default()
	engine, err := rewrite.NewEngine(cfg.Resolver)
	require.NoError(t, err)
	policy, err := eligibility.NewPolicy(cfg.Policy)
	require.NoError(t, err)
	return &Driver{Engine: engine, Policy: policy, Logger: logger.Discard(), Jobs: 2}
}

func outcomes(rep *Report) map[string]Outcome {
	m := make(map[string]Outcome, len(rep.Outcomes))
	for _, o := range rep.Outcomes {
		m[o.Class] = o
	}
	return m
}

func TestWeaveJar_AllowListedComponent(t *testing.T) {
	web := loader(t, "p/Web", 52)
	old := loader(t, "p/Old", 49)
	bad := unresolvable(t, "p/Bad")
	jar := buildJar(t,
		entry{bundle.ManifestPath, manifestFor("com.liferay.faces.util")},
		entry{"p/Web.class", web},
		entry{"p/Plain.class", plain(t, "p/Plain")},
		entry{"p/Old.class", old},
		entry{"p/Bad.class", bad},
		entry{"com/liferay/faces/osgi/util/Own.class", loader(t, "com/liferay/faces/osgi/util/Own", 52)},
		entry{"p/messages.properties", []byte("greeting=hi\n")},
	)

	var out bytes.Buffer
	rep, err := newDriver(t).WeaveJar(context.Background(), jar, &out, nil)
	require.NoError(t, err)
	assert.True(t, rep.Eligible)
	assert.Equal(t, "com.liferay.faces.util", rep.Component)

	got := outcomes(rep)
	assert.Equal(t, StatusRewritten, got["p/Web"].Status)
	assert.Len(t, got["p/Web"].Sites, 1)
	assert.Equal(t, StatusUnchanged, got["p/Plain"].Status)
	assert.Equal(t, StatusSkipped, got["p/Old"].Status)
	assert.Contains(t, got["p/Old"].Reason, "below")
	assert.Equal(t, StatusSkipped, got["com/liferay/faces/osgi/util/Own"].Status)
	assert.Equal(t, StatusFailed, got["p/Bad"].Status)
	assert.Contains(t, got["p/Bad"].Reason, "common superclass")
	assert.Equal(t, 1, rep.Count(StatusRewritten))

	files := readJar(t, out.Bytes())
	assert.Len(t, files, 7)
	assert.NotEqual(t, web, files["p/Web.class"])
	_, err = classfile.Parse(files["p/Web.class"])
	assert.NoError(t, err)
	assert.Equal(t, old, files["p/Old.class"])
	assert.Equal(t, bad, files["p/Bad.class"], "failed classes keep their original bytes")
	assert.Equal(t, []byte("greeting=hi\n"), files["p/messages.properties"])

	m, err := bundle.ParseManifest(files[bundle.ManifestPath])
	require.NoError(t, err)
	v, ok := m.Get(bundle.HeaderDynamicImport)
	require.True(t, ok)
	assert.Equal(t, config.Default().Resolver.DynamicImport, v)
	assert.Equal(t, []string{v}, rep.DynamicImports)
}

func TestWeaveJar_ExtraClasspathResolvesAncestors(t *testing.T) {
	jar := buildJar(t,
		entry{bundle.ManifestPath, manifestFor("com.liferay.faces.util")},
		entry{"p/Bad.class", unresolvable(t, "p/Bad")},
	)
	extra := classpath.Map{}
	for _, name := range []string{"p/A", "java/lang/Class"} {
		cf, err := classfile.New(name, "java/lang/Object", 52)
		require.NoError(t, err)
		extra[name] = cf.Bytes()
	}

	rep, err := newDriver(t).WeaveJar(context.Background(), jar, nil, extra)
	require.NoError(t, err)
	assert.Equal(t, StatusRewritten, outcomes(rep)["p/Bad"].Status)
}

func TestWeaveJar_WebModule(t *testing.T) {
	jar := buildJar(t,
		entry{bundle.ManifestPath, manifestFor("com.example.portlet",
			"Web-ContextPath: /portlet",
			"Import-Package: javax.faces,javax.faces.context")},
		entry{"p/Web.class", loader(t, "p/Web", 52)},
	)
	rep, err := newDriver(t).WeaveJar(context.Background(), jar, nil, nil)
	require.NoError(t, err)
	assert.True(t, rep.Eligible)
	assert.Equal(t, StatusRewritten, outcomes(rep)["p/Web"].Status)
}

func TestWeaveJar_IneligibleComponentCopiedVerbatim(t *testing.T) {
	web := loader(t, "p/Web", 52)
	mf := manifestFor("com.example.other")
	jar := buildJar(t,
		entry{bundle.ManifestPath, mf},
		entry{"p/Web.class", web},
	)

	var out bytes.Buffer
	rep, err := newDriver(t).WeaveJar(context.Background(), jar, &out, nil)
	require.NoError(t, err)
	assert.False(t, rep.Eligible)
	assert.Equal(t, StatusSkipped, outcomes(rep)["p/Web"].Status)
	assert.Empty(t, rep.DynamicImports)

	files := readJar(t, out.Bytes())
	assert.Equal(t, web, files["p/Web.class"])
	assert.Equal(t, mf, files[bundle.ManifestPath])
}

func TestWeaveJar_MissingManifestIsIneligible(t *testing.T) {
	jar := buildJar(t, entry{"p/Web.class", loader(t, "p/Web", 52)})
	rep, err := newDriver(t).WeaveJar(context.Background(), jar, nil, nil)
	require.NoError(t, err)
	assert.False(t, rep.Eligible)
}

func TestWeaveJar_Cancelled(t *testing.T) {
	jar := buildJar(t,
		entry{bundle.ManifestPath, manifestFor("com.liferay.faces.util")},
		entry{"p/Web.class", loader(t, "p/Web", 52)},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newDriver(t).WeaveJar(ctx, jar, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWeaveFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jar")
	outPath := filepath.Join(dir, "out.jar")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range []entry{
		{bundle.ManifestPath, manifestFor("com.liferay.faces.util")},
		{"p/Web.class", loader(t, "p/Web", 52)},
	} {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(in, buf.Bytes(), 0o644))

	rep, err := newDriver(t).WeaveFile(context.Background(), in, outPath, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(StatusRewritten))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, readJar(t, data), "p/Web.class")

	leftovers, err := filepath.Glob(filepath.Join(dir, ".classweave-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWeaveJar_PanickingClassLeavesSiblings(t *testing.T) {
	web := loader(t, "p/Web", 52)
	bad := unresolvable(t, "p/Bad")
	jar := buildJar(t,
		entry{bundle.ManifestPath, manifestFor("com.liferay.faces.util")},
		entry{"p/Web.class", web},
		entry{"p/Bad.class", bad},
	)
	// Ancestor lookups for p/Bad fall through to this source.
	extra := hierarchy.SourceFunc(func(name string) ([]byte, bool) {
		panic("lookup of " + name)
	})

	var out bytes.Buffer
	rep, err := newDriver(t).WeaveJar(context.Background(), jar, &out, extra)
	require.NoError(t, err)

	got := outcomes(rep)
	assert.Equal(t, StatusRewritten, got["p/Web"].Status)
	assert.Equal(t, StatusFailed, got["p/Bad"].Status)
	assert.Contains(t, got["p/Bad"].Reason, "panic")

	files := readJar(t, out.Bytes())
	assert.NotEqual(t, web, files["p/Web.class"])
	assert.Equal(t, bad, files["p/Bad.class"])
}
