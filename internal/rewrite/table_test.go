package rewrite

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classweave/internal/bytecode"
	"classweave/internal/classfile"
	"classweave/internal/config"
)

func TestNewTable_Default(t *testing.T) {
	tab, err := NewTable(config.Default().Resolver)
	require.NoError(t, err)

	// Four loader calls per loader type, two forName shapes, two getBundle shapes.
	assert.Len(t, tab.Entries(), 8)

	e, ok := tab.Lookup(Signature{Kind: Static, Owner: "java/lang/Class", Name: "forName", Desc: forNameDesc})
	require.True(t, ok)
	assert.Equal(t, ForName1, e.Action)
	assert.Equal(t, Static, e.Target.Kind)
	assert.Equal(t, resolverOwner, e.Target.Owner)

	_, ok = tab.Lookup(Signature{Kind: Virtual, Owner: "java/lang/Class", Name: "forName", Desc: forNameDesc})
	assert.False(t, ok, "kind is part of the key")

	_, ok = tab.Lookup(Signature{Kind: Virtual, Owner: "java/lang/ClassLoader", Name: "loadClass", Desc: "(Ljava/lang/String;Z)Ljava/lang/Class;"})
	assert.False(t, ok, "only exact descriptors match")
}

func TestNewTable_ExtraLoaderTypes(t *testing.T) {
	r := config.Default().Resolver
	r.ClassLoaderTypes = append(r.ClassLoaderTypes, "java/net/URLClassLoader", "java/lang/ClassLoader")
	tab, err := NewTable(r)
	require.NoError(t, err)
	assert.Len(t, tab.Entries(), 12)

	e, ok := tab.Lookup(Signature{Kind: Virtual, Owner: "java/net/URLClassLoader", Name: "getResources", Desc: "(Ljava/lang/String;)Ljava/util/Enumeration;"})
	require.True(t, ok)
	assert.Equal(t, GetResources, e.Action)
}

func TestNewTable_Rejects(t *testing.T) {
	for name, mutate := range map[string]func(*config.Resolver){
		"empty owner":       func(r *config.Resolver) { r.Owner = "" },
		"dotted context":    func(r *config.Resolver) { r.ContextType = "javax.faces.context.FacesContext" },
		"dotted loader":     func(r *config.Resolver) { r.ClassLoaderTypes = []string{"java.lang.ClassLoader"} },
		"empty loader":      func(r *config.Resolver) { r.ClassLoaderTypes = []string{""} },
		"malformed context": func(r *config.Resolver) { r.ContextType = "a;b" },
	} {
		t.Run(name, func(t *testing.T) {
			r := config.Default().Resolver
			mutate(&r)
			_, err := NewTable(r)
			assert.ErrorIs(t, err, ErrBadTable)
		})
	}
}

func TestAction_Text(t *testing.T) {
	data, err := json.Marshal(Site{Action: GetBundle4})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"getBundle/4"`)

	var back Site
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, GetBundle4, back.Action)

	var a Action
	assert.Error(t, a.UnmarshalText([]byte("defineClass")))
	assert.Equal(t, "action(200)", Action(200).String())
}

func TestMethodRewriter_UnchangedReturnsInput(t *testing.T) {
	tab, err := NewTable(config.Default().Resolver)
	require.NoError(t, err)
	pool := classfile.NewPool()
	hash, _ := pool.AddMethodref("java/lang/Object", "hashCode", "()I")
	insts := []bytecode.Inst{
		{PC: 0, Op: bytecode.Aload0},
		{PC: 1, Op: bytecode.Invokevirtual, Index: hash},
		{PC: 4, Op: bytecode.Ireturn},
	}
	before := pool.Len()

	rw := &MethodRewriter{Table: tab, Pool: pool, Method: Method{Class: "p/Web", Name: "h", Desc: "()I"},
		ContextType: contextType, ContextMethod: "getCurrentInstance"}
	out, modified, err := rw.Rewrite(insts)
	require.NoError(t, err)
	assert.False(t, modified)
	assert.Same(t, &insts[0], &out[0])
	assert.Equal(t, before, pool.Len(), "no constants added")
	assert.Empty(t, rw.Sites)
}

func TestMethodRewriter_ReplacementKeepsLabel(t *testing.T) {
	tab, err := NewTable(config.Default().Resolver)
	require.NoError(t, err)
	pool := classfile.NewPool()
	forName, _ := pool.AddMethodref("java/lang/Class", "forName", forNameDesc)
	insts := []bytecode.Inst{
		{PC: 0, Op: bytecode.Aload0},
		{PC: 1, Op: bytecode.Invokestatic, Index: forName},
		{PC: 4, Op: bytecode.Areturn},
	}
	rw := &MethodRewriter{Table: tab, Pool: pool,
		Method:      Method{Class: "p/Web", Name: "<init>", Desc: "(Ljava/lang/String;)V"},
		ContextType: contextType, ContextMethod: "getCurrentInstance"}
	out, modified, err := rw.Rewrite(insts)
	require.NoError(t, err)
	require.True(t, modified)

	// Constructors push the class literal rather than calling getClass.
	require.Len(t, out, 5)
	assert.Equal(t, []int{0, 1, -1, -1, 4}, []int{out[0].PC, out[1].PC, out[2].PC, out[3].PC, out[4].PC})
	assert.Equal(t, bytecode.Invokestatic, out[1].Op)
	assert.Equal(t, bytecode.Ldc, out[2].Op)
	name, err := pool.ClassName(out[2].Index)
	require.NoError(t, err)
	assert.Equal(t, "p/Web", name)
	assert.Equal(t, bytecode.Aload0, insts[0].Op, "input slice untouched")
	assert.Equal(t, forName, insts[1].Index)
}

func TestMethodRewriter_IgnoresInterfaceRefs(t *testing.T) {
	tab, err := NewTable(config.Default().Resolver)
	require.NoError(t, err)
	pool := classfile.NewPool()
	iface, _ := pool.AddInterfaceMethodref("java/lang/ClassLoader", "loadClass", loadClassDesc)
	insts := []bytecode.Inst{{PC: 0, Op: bytecode.Invokestatic, Index: iface}}
	rw := &MethodRewriter{Table: tab, Pool: pool, Method: Method{Class: "p/Web", Name: "m", Desc: "()V", Access: classfile.AccStatic}}
	_, modified, err := rw.Rewrite(insts)
	require.NoError(t, err)
	assert.False(t, modified)
}
