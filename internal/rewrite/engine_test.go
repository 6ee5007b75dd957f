package rewrite

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classweave/internal/bytecode"
	"classweave/internal/classfile"
	"classweave/internal/classpath"
	"classweave/internal/config"
	"classweave/internal/emit"
	"classweave/internal/hierarchy"
)

const (
	resolverOwner = "com/liferay/faces/osgi/util/OSGiClassProviderUtil"
	contextType   = "javax/faces/context/FacesContext"
	contextAccess = contextType + ".getCurrentInstance()L" + contextType + ";"

	forNameDesc   = "(Ljava/lang/String;)Ljava/lang/Class;"
	forName3Desc  = "(Ljava/lang/String;ZLjava/lang/ClassLoader;)Ljava/lang/Class;"
	loadClassDesc = "(Ljava/lang/String;)Ljava/lang/Class;"
	bundle3Desc   = "(Ljava/lang/String;Ljava/util/Locale;Ljava/lang/ClassLoader;)Ljava/util/ResourceBundle;"
)

func u2(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func cat(parts ...[]byte) []byte { return bytes.Join(parts, nil) }

func newEngine(t *testing.T, guard string) *Engine {
	t.Helper()
	r := config.Default().Resolver
	r.ContextInitGuard = guard
	e, err := NewEngine(r)
	require.NoError(t, err)
	return e
}

func newClass(t *testing.T, name, super string) *classfile.ClassFile {
	t.Helper()
	cf, err := classfile.New(name, super, 52)
	require.NoError(t, err)
	return cf
}

func addMethod(t *testing.T, cf *classfile.ClassFile, access uint16, name, desc string, maxStack, maxLocals uint16, body []byte) {
	t.Helper()
	require.NoError(t, cf.AddMethod(access, name, desc, &classfile.Code{MaxStack: maxStack, MaxLocals: maxLocals, Bytecode: body}))
}

// body decodes the named method of a class binary.
func body(t *testing.T, bin []byte, name string) (*classfile.ClassFile, *classfile.Code, []bytecode.Inst) {
	t.Helper()
	cf, err := classfile.Parse(bin)
	require.NoError(t, err)
	for _, m := range cf.Methods {
		n, _, err := cf.MemberName(m)
		require.NoError(t, err)
		if n != name {
			continue
		}
		code, _, err := cf.MethodCode(m)
		require.NoError(t, err)
		insts, err := bytecode.Decode(code.Bytecode)
		require.NoError(t, err)
		return cf, code, insts
	}
	t.Fatalf("method %s not found", name)
	return nil, nil, nil
}

// listing renders insts as "op" or "op operand" strings, resolving pool
// references.
func listing(t *testing.T, cf *classfile.ClassFile, insts []bytecode.Inst) []string {
	t.Helper()
	out := make([]string, len(insts))
	for i, in := range insts {
		s := in.Op.String()
		switch {
		case in.IsInvoke():
			ref, err := cf.Pool.Member(in.Index)
			require.NoError(t, err)
			s += " " + ref.Owner + "." + ref.Name + ref.Desc
		case in.Op == bytecode.Ldc || in.Op == bytecode.LdcW:
			name, err := cf.Pool.ClassName(in.Index)
			require.NoError(t, err)
			s += " " + name
		}
		out[i] = s
	}
	return out
}

func TestWeave_ForNameInStaticMethod(t *testing.T) {
	cf := newClass(t, "p/Web", hierarchy.Root)
	forName, _ := cf.Pool.AddMethodref("java/lang/Class", "forName", forNameDesc)
	addMethod(t, cf, classfile.AccPublic|classfile.AccStatic, "load", forNameDesc, 1, 1,
		cat([]byte{0x2a, 0xb8}, u2(forName), []byte{0xb0}))

	res, err := newEngine(t, config.GuardForName).Weave("p.Web", cf.Bytes(), nil)
	require.NoError(t, err)
	require.True(t, res.Modified)
	assert.Equal(t, []string{config.Default().Resolver.DynamicImport}, res.DynamicImports)
	require.Len(t, res.Sites, 1)
	assert.Equal(t, Site{Method: "load" + forNameDesc, PC: 1, Action: ForName1, Call: "java/lang/Class.forName" + forNameDesc}, res.Sites[0])

	out, code, insts := body(t, res.Binary, "load")
	assert.Equal(t, []string{
		"aload_0",
		"invokestatic " + contextAccess,
		"ldc p/Web",
		"invokestatic " + resolverOwner + ".classForName(Ljava/lang/String;L" + contextType + ";Ljava/lang/Class;)Ljava/lang/Class;",
		"areturn",
	}, listing(t, out, insts))
	assert.EqualValues(t, 3, code.MaxStack)
}

func TestWeave_ForNameInInstanceMethodUsesGetClass(t *testing.T) {
	cf := newClass(t, "p/Web", hierarchy.Root)
	forName, _ := cf.Pool.AddMethodref("java/lang/Class", "forName", forNameDesc)
	addMethod(t, cf, classfile.AccPublic, "load", forNameDesc, 1, 2,
		cat([]byte{0x2b, 0xb8}, u2(forName), []byte{0xb0}))

	res, err := newEngine(t, config.GuardForName).Weave("p/Web", cf.Bytes(), nil)
	require.NoError(t, err)
	out, _, insts := body(t, res.Binary, "load")
	assert.Equal(t, []string{
		"aload_1",
		"invokestatic " + contextAccess,
		"aload_0",
		"invokevirtual java/lang/Object.getClass()Ljava/lang/Class;",
		"invokestatic " + resolverOwner + ".classForName(Ljava/lang/String;L" + contextType + ";Ljava/lang/Class;)Ljava/lang/Class;",
		"areturn",
	}, listing(t, out, insts))
}

func TestWeave_LoadClassMovesReceiver(t *testing.T) {
	cf := newClass(t, "p/Web", hierarchy.Root)
	loadClass, _ := cf.Pool.AddMethodref("java/lang/ClassLoader", "loadClass", loadClassDesc)
	addMethod(t, cf, classfile.AccPublic, "find", "(Ljava/lang/ClassLoader;Ljava/lang/String;)Ljava/lang/Class;", 2, 3,
		cat([]byte{0x2b, 0x2c, 0xb6}, u2(loadClass), []byte{0xb0}))

	res, err := newEngine(t, config.GuardForName).Weave("", cf.Bytes(), nil)
	require.NoError(t, err)
	out, code, insts := body(t, res.Binary, "find")
	assert.Equal(t, []string{
		"aload_1",
		"aload_2",
		"swap",
		"invokestatic " + contextAccess,
		"swap",
		"invokestatic " + resolverOwner + ".loadClass(Ljava/lang/String;L" + contextType + ";Ljava/lang/ClassLoader;)Ljava/lang/Class;",
		"areturn",
	}, listing(t, out, insts))
	assert.EqualValues(t, 3, code.MaxStack)
	require.Len(t, res.Sites, 1)
	assert.Equal(t, LoadClass, res.Sites[0].Action)
	assert.Equal(t, 2, res.Sites[0].PC)
}

func TestWeave_ForNameWithLoader(t *testing.T) {
	cf := newClass(t, "p/Web", hierarchy.Root)
	forName, _ := cf.Pool.AddMethodref("java/lang/Class", "forName", forName3Desc)
	addMethod(t, cf, classfile.AccStatic, "load", "(Ljava/lang/String;Ljava/lang/ClassLoader;)Ljava/lang/Class;", 3, 2,
		cat([]byte{0x2a, 0x04, 0x2b, 0xb8}, u2(forName), []byte{0xb0}))

	res, err := newEngine(t, config.GuardForName).Weave("p/Web", cf.Bytes(), nil)
	require.NoError(t, err)
	out, _, insts := body(t, res.Binary, "load")
	assert.Equal(t, []string{
		"aload_0",
		"iconst_1",
		"aload_1",
		"invokestatic " + contextAccess,
		"swap",
		"invokestatic " + resolverOwner + ".classForName(Ljava/lang/String;ZL" + contextType + ";Ljava/lang/ClassLoader;)Ljava/lang/Class;",
		"areturn",
	}, listing(t, out, insts))
}

func TestWeave_GetBundleAppendsCaller(t *testing.T) {
	cf := newClass(t, "p/Web", hierarchy.Root)
	getBundle, _ := cf.Pool.AddMethodref("java/util/ResourceBundle", "getBundle", bundle3Desc)
	addMethod(t, cf, classfile.AccStatic, "messages", bundle3Desc, 3, 3,
		cat([]byte{0x2a, 0x2b, 0x2c, 0xb8}, u2(getBundle), []byte{0xb0}))

	res, err := newEngine(t, config.GuardForName).Weave("p/Web", cf.Bytes(), nil)
	require.NoError(t, err)
	out, code, insts := body(t, res.Binary, "messages")
	assert.Equal(t, []string{
		"aload_0",
		"aload_1",
		"aload_2",
		"ldc p/Web",
		"invokestatic " + resolverOwner + ".getBundle(Ljava/lang/String;Ljava/util/Locale;Ljava/lang/ClassLoader;Ljava/lang/Class;)Ljava/util/ResourceBundle;",
		"areturn",
	}, listing(t, out, insts))
	assert.EqualValues(t, 4, code.MaxStack)
}

func TestWeave_UnrelatedClassUnchanged(t *testing.T) {
	cf := newClass(t, "p/Plain", hierarchy.Root)
	hash, _ := cf.Pool.AddMethodref(hierarchy.Root, "hashCode", "()I")
	addMethod(t, cf, classfile.AccPublic, "h", "()I", 1, 1, cat([]byte{0x2a, 0xb6}, u2(hash), []byte{0xac}))
	bin := cf.Bytes()

	res, err := newEngine(t, config.GuardForName).Weave("p/Plain", bin, nil)
	require.NoError(t, err)
	assert.False(t, res.Modified)
	assert.Empty(t, res.Sites)
	assert.Empty(t, res.DynamicImports)
	assert.Equal(t, bin, res.Binary)
}

func TestWeave_Idempotent(t *testing.T) {
	cf := newClass(t, "p/Web", hierarchy.Root)
	forName, _ := cf.Pool.AddMethodref("java/lang/Class", "forName", forNameDesc)
	loadClass, _ := cf.Pool.AddMethodref("java/lang/ClassLoader", "loadClass", loadClassDesc)
	addMethod(t, cf, classfile.AccStatic, "load", forNameDesc, 1, 1,
		cat([]byte{0x2a, 0xb8}, u2(forName), []byte{0xb0}))
	addMethod(t, cf, classfile.AccPublic, "find", "(Ljava/lang/ClassLoader;Ljava/lang/String;)Ljava/lang/Class;", 2, 3,
		cat([]byte{0x2b, 0x2c, 0xb6}, u2(loadClass), []byte{0xb0}))

	e := newEngine(t, config.GuardForName)
	first, err := e.Weave("p/Web", cf.Bytes(), nil)
	require.NoError(t, err)
	require.True(t, first.Modified)
	assert.Len(t, first.Sites, 2)

	second, err := e.Weave("p/Web", first.Binary, nil)
	require.NoError(t, err)
	assert.False(t, second.Modified)
	assert.Empty(t, second.Sites)
	assert.Equal(t, first.Binary, second.Binary)
}

// contextSubclass declares p/Ctx extends the context type with a static
// initialiser calling forName and loadClass.
func contextSubclass(t *testing.T) []byte {
	t.Helper()
	cf := newClass(t, "p/Ctx", contextType)
	forName, _ := cf.Pool.AddMethodref("java/lang/Class", "forName", forNameDesc)
	loadClass, _ := cf.Pool.AddMethodref("java/lang/ClassLoader", "loadClass", loadClassDesc)
	name, _ := cf.Pool.AddString("p.Impl")
	// aconst_null; ldc "p.Impl"; invokevirtual loadClass; pop
	// ldc "p.Impl"; invokestatic forName; pop; return
	addMethod(t, cf, classfile.AccStatic, "<clinit>", "()V", 2, 0, cat(
		[]byte{0x01, 0x12, byte(name), 0xb6}, u2(loadClass), []byte{0x57},
		[]byte{0x12, byte(name), 0xb8}, u2(forName), []byte{0x57, 0xb1},
	))
	return cf.Bytes()
}

func TestWeave_ContextInitGuard(t *testing.T) {
	bin := contextSubclass(t)

	tests := []struct {
		guard       string
		wantGuarded []Action
		wantWoven   []Action
	}{
		{config.GuardForName, []Action{ForName1}, []Action{LoadClass}},
		{config.GuardMethod, []Action{LoadClass, ForName1}, nil},
		{config.GuardOff, nil, []Action{LoadClass, ForName1}},
	}
	for _, tt := range tests {
		t.Run(tt.guard, func(t *testing.T) {
			res, err := newEngine(t, tt.guard).Weave("p/Ctx", bin, nil)
			require.NoError(t, err)

			var guarded, woven []Action
			for _, s := range res.Sites {
				if s.Guarded {
					guarded = append(guarded, s.Action)
				} else {
					woven = append(woven, s.Action)
				}
			}
			assert.Equal(t, tt.wantGuarded, guarded)
			assert.Equal(t, tt.wantWoven, woven)
			assert.Equal(t, len(tt.wantWoven) > 0, res.Modified)
		})
	}
}

func TestWeave_GuardOnlyAppliesToContextSubtypes(t *testing.T) {
	cf := newClass(t, "p/Other", hierarchy.Root)
	forName, _ := cf.Pool.AddMethodref("java/lang/Class", "forName", forNameDesc)
	name, _ := cf.Pool.AddString("p.Impl")
	addMethod(t, cf, classfile.AccStatic, "<clinit>", "()V", 1, 0,
		cat([]byte{0x12, byte(name), 0xb8}, u2(forName), []byte{0x57, 0xb1}))

	res, err := newEngine(t, config.GuardMethod).Weave("p/Other", cf.Bytes(), nil)
	require.NoError(t, err)
	assert.True(t, res.Modified)
	require.Len(t, res.Sites, 1)
	assert.False(t, res.Sites[0].Guarded)
}

// branchToClass merges a p/A with the result of forName, so frame
// computation needs the common superclass of p/A and java/lang/Class.
//
//	0  iload_0
//	1  ifeq 11
//	4  aconst_null
//	5  checkcast p/A
//	8  goto 15
//	11 aload_1
//	12 invokestatic forName
//	15 areturn
func branchToClass(t *testing.T) []byte {
	t.Helper()
	cf := newClass(t, "p/Web", hierarchy.Root)
	a, _ := cf.Pool.AddClass("p/A")
	forName, _ := cf.Pool.AddMethodref("java/lang/Class", "forName", forNameDesc)
	addMethod(t, cf, classfile.AccStatic, "pick", "(ZLjava/lang/String;)Ljava/lang/Object;", 1, 2, cat(
		[]byte{0x1a, 0x99, 0x00, 0x0a, 0x01, 0xc0}, u2(a),
		[]byte{0xa7, 0x00, 0x07, 0x2b, 0xb8}, u2(forName),
		[]byte{0xb0},
	))
	return cf.Bytes()
}

func TestWeave_FramesUseComponentHierarchy(t *testing.T) {
	src := classpath.Map{}
	for name, super := range map[string]string{"p/A": hierarchy.Root, "java/lang/Class": hierarchy.Root} {
		src[name] = newClass(t, name, super).Bytes()
	}

	res, err := newEngine(t, config.GuardForName).Weave("p/Web", branchToClass(t), src)
	require.NoError(t, err)
	require.True(t, res.Modified)

	out, code, insts := body(t, res.Binary, "pick")
	assert.Contains(t, listing(t, out, insts), "ldc p/Web")
	assert.GreaterOrEqual(t, int(code.MaxStack), 3)
	assert.GreaterOrEqual(t, out.FindAttribute(code.Attributes, classfile.AttrStackMapTable), 0)
}

func TestWeave_CommonSuperclassNotVisible(t *testing.T) {
	src := classpath.Map{"p/A": newClass(t, "p/A", hierarchy.Root).Bytes()}

	_, err := newEngine(t, config.GuardForName).WithComponent("com.example.web").Weave("p/Web", branchToClass(t), src)
	require.ErrorIs(t, err, emit.ErrCommonSuperclassNotFound)
	var nf *emit.CommonSuperclassNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "com.example.web", nf.Component)
}

func TestWeave_ClassNameMismatch(t *testing.T) {
	bin := newClass(t, "p/Web", hierarchy.Root).Bytes()
	_, err := newEngine(t, config.GuardForName).Weave("p/Other", bin, nil)
	assert.ErrorIs(t, err, ErrClassName)
}

func TestWeave_MalformedBinary(t *testing.T) {
	_, err := newEngine(t, config.GuardForName).Weave("", []byte{0xca, 0xfe}, nil)
	assert.Error(t, err)
}

func TestScan_ReportsWithoutRewriting(t *testing.T) {
	bin := contextSubclass(t)
	sites, err := newEngine(t, config.GuardForName).Scan(bin, nil)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, LoadClass, sites[0].Action)
	assert.False(t, sites[0].Guarded)
	assert.Equal(t, ForName1, sites[1].Action)
	assert.True(t, sites[1].Guarded)
	assert.Equal(t, "java/lang/ClassLoader.loadClass"+loadClassDesc, sites[0].Call)
}

func TestNewEngine_Validation(t *testing.T) {
	r := config.Default().Resolver
	r.ContextInitGuard = "sometimes"
	_, err := NewEngine(r)
	assert.ErrorIs(t, err, config.ErrInvalid)

	r = config.Default().Resolver
	r.Owner = "com.example.Resolver"
	_, err = NewEngine(r)
	assert.ErrorIs(t, err, ErrBadTable)

	r = config.Default().Resolver
	r.ContextInitGuard = ""
	e, err := NewEngine(r)
	require.NoError(t, err)
	assert.Equal(t, config.GuardForName, e.guard)
}

func TestPlan_MarksInsertedInstructions(t *testing.T) {
	cf := newClass(t, "p/Web", hierarchy.Root)
	forName, _ := cf.Pool.AddMethodref("java/lang/Class", "forName", forNameDesc)
	addMethod(t, cf, classfile.AccStatic, "load", forNameDesc, 1, 1,
		cat([]byte{0x2a, 0xb8}, u2(forName), []byte{0xb0}))
	addMethod(t, cf, classfile.AccStatic, "noop", "()V", 0, 0, []byte{0xb1})

	out, plans, err := newEngine(t, config.GuardForName).Plan(cf.Bytes(), nil)
	require.NoError(t, err)
	require.Len(t, plans, 2)

	load := plans[0]
	assert.True(t, load.Modified)
	assert.Len(t, load.Original, 3)
	var pcs []int
	for _, in := range load.Insts {
		pcs = append(pcs, in.PC)
	}
	assert.Equal(t, []int{0, 1, -1, -1, 4}, pcs)
	assert.Contains(t, bytecode.Format(load.Insts, out.Pool), "classForName")

	assert.False(t, plans[1].Modified)
	assert.Equal(t, plans[1].Original, plans[1].Insts)
}

func TestWeave_LoadClassInStaticMethod(t *testing.T) {
	cf := newClass(t, "p/Web", hierarchy.Root)
	loadClass, _ := cf.Pool.AddMethodref("java/lang/ClassLoader", "loadClass", loadClassDesc)
	addMethod(t, cf, classfile.AccStatic, "f", "(Ljava/lang/ClassLoader;Ljava/lang/String;)Ljava/lang/Class;", 2, 2,
		cat([]byte{0x2a, 0x2b, 0xb6}, u2(loadClass), []byte{0xb0}))

	res, err := newEngine(t, config.GuardForName).Weave("p/Web", cf.Bytes(), nil)
	require.NoError(t, err)
	require.True(t, res.Modified)
	out, code, insts := body(t, res.Binary, "f")
	assert.Equal(t, []string{
		"aload_0",
		"aload_1",
		"swap",
		"invokestatic " + contextAccess,
		"swap",
		"invokestatic " + resolverOwner + ".loadClass(Ljava/lang/String;L" + contextType + ";Ljava/lang/ClassLoader;)Ljava/lang/Class;",
		"areturn",
	}, listing(t, out, insts))
	assert.EqualValues(t, 3, code.MaxStack)
}

func TestWeave_GetResourceFamily(t *testing.T) {
	tests := []struct {
		name   string
		ret    string
		action Action
	}{
		{"getResource", "Ljava/net/URL;", GetResource},
		{"getResources", "Ljava/util/Enumeration;", GetResources},
		{"getResourceAsStream", "Ljava/io/InputStream;", GetResourceAsStream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := "(Ljava/lang/String;)" + tt.ret
			cf := newClass(t, "p/Web", hierarchy.Root)
			ref, _ := cf.Pool.AddMethodref("java/lang/ClassLoader", tt.name, desc)
			addMethod(t, cf, classfile.AccPublic, "find", "(Ljava/lang/ClassLoader;Ljava/lang/String;)"+tt.ret, 2, 3,
				cat([]byte{0x2b, 0x2c, 0xb6}, u2(ref), []byte{0xb0}))

			res, err := newEngine(t, config.GuardForName).Weave("p/Web", cf.Bytes(), nil)
			require.NoError(t, err)
			require.True(t, res.Modified)
			require.Len(t, res.Sites, 1)
			assert.Equal(t, tt.action, res.Sites[0].Action)

			out, code, insts := body(t, res.Binary, "find")
			assert.Equal(t, []string{
				"aload_1",
				"aload_2",
				"swap",
				"invokestatic " + contextAccess,
				"swap",
				"invokestatic " + resolverOwner + "." + tt.name + "(Ljava/lang/String;L" + contextType + ";Ljava/lang/ClassLoader;)" + tt.ret,
				"areturn",
			}, listing(t, out, insts))
			assert.EqualValues(t, 3, code.MaxStack)
		})
	}
}

func TestWeave_GetBundleWithControl(t *testing.T) {
	const (
		control    = "Ljava/util/ResourceBundle$Control;"
		bundle4Arg = "(Ljava/lang/String;Ljava/util/Locale;Ljava/lang/ClassLoader;" + control + ")Ljava/util/ResourceBundle;"
	)
	cf := newClass(t, "p/Web", hierarchy.Root)
	getBundle, _ := cf.Pool.AddMethodref("java/util/ResourceBundle", "getBundle", bundle4Arg)
	addMethod(t, cf, classfile.AccStatic, "messages", bundle4Arg, 4, 4,
		cat([]byte{0x2a, 0x2b, 0x2c, 0x2d, 0xb8}, u2(getBundle), []byte{0xb0}))

	res, err := newEngine(t, config.GuardForName).Weave("p/Web", cf.Bytes(), nil)
	require.NoError(t, err)
	require.Len(t, res.Sites, 1)
	assert.Equal(t, GetBundle4, res.Sites[0].Action)

	out, code, insts := body(t, res.Binary, "messages")
	assert.Equal(t, []string{
		"aload_0",
		"aload_1",
		"aload_2",
		"aload_3",
		"ldc p/Web",
		"invokestatic " + resolverOwner + ".getBundle(Ljava/lang/String;Ljava/util/Locale;Ljava/lang/ClassLoader;" + control + "Ljava/lang/Class;)Ljava/util/ResourceBundle;",
		"areturn",
	}, listing(t, out, insts))
	assert.EqualValues(t, 5, code.MaxStack)
}

// A constructor names its caller with the class literal, before and after
// the superclass constructor runs.
func TestWeave_ForNameInConstructorUsesClassLiteral(t *testing.T) {
	cf := newClass(t, "p/Web", hierarchy.Root)
	super, _ := cf.Pool.AddMethodref(hierarchy.Root, "<init>", "()V")
	forName, _ := cf.Pool.AddMethodref("java/lang/Class", "forName", forNameDesc)
	// aload_0; invokespecial Object.<init>; aload_1; invokestatic forName; pop; return
	addMethod(t, cf, classfile.AccPublic, "<init>", "(Ljava/lang/String;)V", 1, 2, cat(
		[]byte{0x2a, 0xb7}, u2(super),
		[]byte{0x2b, 0xb8}, u2(forName),
		[]byte{0x57, 0xb1},
	))

	res, err := newEngine(t, config.GuardForName).Weave("p/Web", cf.Bytes(), nil)
	require.NoError(t, err)
	require.True(t, res.Modified)
	out, code, insts := body(t, res.Binary, "<init>")
	assert.Equal(t, []string{
		"aload_0",
		"invokespecial java/lang/Object.<init>()V",
		"aload_1",
		"invokestatic " + contextAccess,
		"ldc p/Web",
		"invokestatic " + resolverOwner + ".classForName(Ljava/lang/String;L" + contextType + ";Ljava/lang/Class;)Ljava/lang/Class;",
		"pop",
		"return",
	}, listing(t, out, insts))
	assert.EqualValues(t, 3, code.MaxStack)
}
