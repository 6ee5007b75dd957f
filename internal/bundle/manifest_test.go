package bundle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "Manifest-Version: 1.0\r\n" +
	"Bundle-SymbolicName: com.example.web;singleton:=true\r\n" +
	"Import-Package: javax.faces;version=\"[2.2,3)\",javax.faces.co\r\n" +
	" ntext,org.osgi.framework\r\n" +
	"Web-ContextPath: /example\r\n" +
	"\r\n" +
	"Name: com/example/Util.class\r\n" +
	"SHA-256-Digest: abc=\r\n" +
	"\r\n"

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sample))
	require.NoError(t, err)

	v, ok := m.Get("import-package")
	require.True(t, ok, "header names are case-insensitive")
	assert.Equal(t, `javax.faces;version="[2.2,3)",javax.faces.context,org.osgi.framework`, v)

	require.Len(t, m.Entries, 1)
	name, _ := m.Entries[0].Get("Name")
	assert.Equal(t, "com/example/Util.class", name)
}

func TestParseManifest_LineEndings(t *testing.T) {
	for _, sep := range []string{"\n", "\r", "\r\n"} {
		text := strings.Join([]string{"Manifest-Version: 1.0", "A: x", " y", ""}, sep)
		m, err := ParseManifest([]byte(text))
		require.NoError(t, err)
		v, _ := m.Get("A")
		assert.Equal(t, "xy", v)
	}
}

func TestParseManifest_Malformed(t *testing.T) {
	for _, text := range []string{
		" orphan continuation\n",
		"no colon here\n",
		"Bad Name: x\n",
	} {
		_, err := ParseManifest([]byte(text))
		assert.ErrorIs(t, err, ErrMalformed, "%q", text)
	}
}

func TestManifestBytes_FoldsLongLines(t *testing.T) {
	m := &Manifest{}
	long := strings.Repeat("p", 200)
	m.Main.Set("Export-Package", long)
	m.Main.Set("Bundle-Name", strings.Repeat("é", 60))

	out := m.Bytes()
	for _, line := range strings.Split(strings.TrimSuffix(string(out), "\r\n\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), 72, "line %q", line)
	}
	assert.True(t, strings.HasPrefix(string(out), "Manifest-Version: 1.0\r\n"))

	back, err := ParseManifest(out)
	require.NoError(t, err)
	v, _ := back.Get("Export-Package")
	assert.Equal(t, long, v)
	v, _ = back.Get("Bundle-Name")
	assert.Equal(t, strings.Repeat("é", 60), v)
}

func TestComponent(t *testing.T) {
	m, err := ParseManifest([]byte(sample))
	require.NoError(t, err)
	c := m.Component()
	assert.Equal(t, "com.example.web", c.SymbolicName)
	v, ok := c.Header("Web-ContextPath")
	assert.True(t, ok)
	assert.Equal(t, "/example", v)
}

func TestAddDynamicImport(t *testing.T) {
	const clause = "com.liferay.faces.osgi.util;bundle-symbolic-name=com.liferay.faces.osgi.util"

	m, err := ParseManifest([]byte(sample))
	require.NoError(t, err)
	assert.True(t, m.AddDynamicImport(clause))
	assert.False(t, m.AddDynamicImport(clause), "second add is a no-op")
	v, _ := m.Get(HeaderDynamicImport)
	assert.Equal(t, clause, v)

	m.Main.Set(HeaderDynamicImport, `org.example;version="[1,2)", *`)
	assert.True(t, m.AddDynamicImport(clause))
	v, _ = m.Get(HeaderDynamicImport)
	assert.Equal(t, []string{`org.example;version="[1,2)"`, "*", clause}, SplitClauses(v))
	assert.False(t, m.AddDynamicImport(" "+clause+" "))
}

func TestSplitClauses(t *testing.T) {
	assert.Empty(t, SplitClauses(""))
	assert.Equal(t, []string{"a", "b;x=\"1,2\"", "c"}, SplitClauses(` a , b;x="1,2",c`))
}
