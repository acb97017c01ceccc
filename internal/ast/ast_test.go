package ast

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/worker"
)

// Test Plan for Ast:
// - A clean function definition yields one Function node and no errors
// - Appending an unfinished definition keeps the earlier function and adds exactly one error
// - Repeated Get for the same key returns the identical Ast
// - Concurrent Gets share one build
// - Incrementally edited text converges with a from-scratch build of the same text
// - An unparseable revision yields a single Error node that is not cached
// - Imports become Import nodes carrying imported names, aliases and flags
// - Parameters are declared inside the function scope, the name outside
// - Class bases are walked in the enclosing scope
// - NodeAt and ScopeAt find the innermost node and scope
// - DebugString renders kinds, names and nesting
// - A build that panics still yields a degraded Ast, never nil
// - Versions evicted from the cache are not tracked forever
// - TypeScript exports mark declarations inside export statements

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	pool := worker.New(2)
	t.Cleanup(pool.Close)
	m, err := NewManager(pool, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func build(t *testing.T, language, text string) *Ast {
	t.Helper()
	m := newManager(t)
	a, err := m.Get(context.Background(), document.NewRevision("file:///t/a", language, 0, text))
	require.NoError(t, err)
	return a
}

func names(a *Ast, kind Kind) []string {
	var out []string
	a.Walk(func(n Node) bool {
		if n.Kind == kind {
			out = append(out, n.Name)
		}
		return true
	})
	return out
}

func TestManager_CleanFunction(t *testing.T) {
	t.Parallel()

	a := build(t, "python", "def foo(): pass")

	assert.Equal(t, []string{"foo"}, names(a, KindFunction))
	assert.Empty(t, a.Errors())
	assert.False(t, a.Degraded())
	assert.Equal(t, KindModule, a.Node(a.Root()).Kind)
}

func TestManager_UnfinishedDefinition(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	ctx := context.Background()

	rev0 := document.NewRevision("file:///t/a.py", "python", 0, "def foo(): pass")
	_, err := m.Get(ctx, rev0)
	require.NoError(t, err)

	rev1, err := rev0.Next([]document.Edit{document.Append(rev0.Text, "\ndef bar(")})
	require.NoError(t, err)

	a, err := m.Get(ctx, rev1)
	require.NoError(t, err)

	assert.Contains(t, names(a, KindFunction), "foo")
	assert.Len(t, a.Errors(), 1)
	assert.True(t, a.Degraded())
}

func TestManager_Idempotent(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	rev := document.NewRevision("file:///t/a.py", "python", 3, "x = 1\n")

	first, err := m.Get(context.Background(), rev)
	require.NoError(t, err)
	second, err := m.Get(context.Background(), rev)
	require.NoError(t, err)

	assert.Same(t, first, second)

	cached, ok := m.Lookup(rev.URI, 3)
	require.True(t, ok)
	assert.Same(t, first, cached)
}

func TestManager_ConcurrentGetsShareBuild(t *testing.T) {
	t.Parallel()

	var builds atomic.Int32
	m := newManager(t, WithObserver(func(*Ast) { builds.Add(1) }))
	rev := document.NewRevision("file:///t/a.py", "python", 0, strings.Repeat("def f(x):\n    return x\n", 50))

	results := make([]*Ast, 16)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := m.Get(context.Background(), rev)
			assert.NoError(t, err)
			results[i] = a
		}(i)
	}
	wg.Wait()

	for _, a := range results {
		assert.Same(t, results[0], a)
	}
	assert.Equal(t, int32(1), builds.Load())
}

func TestManager_CancelledCallerStopsWaiting(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rev := document.NewRevision("file:///t/a.py", "python", 0, "x = 1\n")
	_, err := m.Get(ctx, rev)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	// The shared build still completes for later callers.
	a, err := m.Get(context.Background(), rev)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, names(a, KindVariable))
}

func TestManager_Convergence(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	ctx := context.Background()

	rev := document.NewRevision("file:///t/a.py", "python", 0, "def foo():\n    return 1\n")
	_, err := m.Get(ctx, rev)
	require.NoError(t, err)

	edits := [][]document.Edit{
		{document.Append("def foo():\n    return 1\n", "\nclass A:\n    pass\n")},
		{{Range: &document.Range{
			Start: document.Position{Line: 1, Character: 11},
			End:   document.Position{Line: 1, Character: 12},
		}, Text: "x"}},
		{{Range: &document.Range{
			Start: document.Position{Line: 0, Character: 8},
			End:   document.Position{Line: 0, Character: 8},
		}, Text: "x"}},
	}
	var final *Ast
	for _, e := range edits {
		rev, err = rev.Next(e)
		require.NoError(t, err)
		final, err = m.Get(ctx, rev)
		require.NoError(t, err)
	}

	require.Equal(t, "def foo(x):\n    return x\n\nclass A:\n    pass\n", rev.Text)

	scratch := build(t, "python", rev.Text)
	assert.True(t, final.Equal(scratch), "incremental:\n%s\nscratch:\n%s", final.DebugString(), scratch.DebugString())
}

func TestManager_FailedParse(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	rev := document.NewRevision("file:///t/a.cob", "cobol", 0, "IDENTIFICATION DIVISION.")

	a, err := m.Get(context.Background(), rev)
	require.NoError(t, err)

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, KindError, a.Node(0).Kind)
	assert.Equal(t, []NodeID{0}, a.Errors())

	_, cached := m.Lookup(rev.URI, rev.Version)
	assert.False(t, cached)
}

func TestManager_PanickingBuildYieldsFailedAst(t *testing.T) {
	t.Parallel()

	m := newManager(t, WithObserver(func(*Ast) { panic("observer") }))
	rev := document.NewRevision("file:///t/a.py", "python", 0, "x = 1\n")

	a, err := m.Get(context.Background(), rev)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, rev.Version, a.Version())
	assert.True(t, a.Degraded())
}

func TestManager_PrunesEvictedVersions(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	const uri = "file:///t/a.py"
	for v := 0; v < 2; v++ {
		_, err := m.Get(context.Background(), document.NewRevision(uri, "python", v, "x = 1\n"))
		require.NoError(t, err)
	}
	m.cache.Delete(Key(uri, 0))

	_, err := m.Get(context.Background(), document.NewRevision(uri, "python", 2, "x = 2\n"))
	require.NoError(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, []int{1, 2}, m.versions[uri])
}

func TestTranslate_PythonImports(t *testing.T) {
	t.Parallel()

	a := build(t, "python", "from pkg.mod import a as b, c\nimport os.path\nimport numpy as np\nfrom x import *\n")

	imports := a.Find(KindImport, "pkg.mod")
	require.Len(t, imports, 1)
	from := a.Node(imports[0])
	require.Len(t, from.Children, 2)
	assert.Equal(t, "a", a.Node(from.Children[0]).Name)
	assert.Equal(t, "b", a.Node(from.Children[0]).Binding())
	assert.Equal(t, "c", a.Node(from.Children[1]).Binding())

	osImport := a.Find(KindImport, "os")
	require.Len(t, osImport, 1)
	assert.True(t, a.Node(osImport[0]).Namespace)
	assert.Equal(t, "os", a.Node(osImport[0]).Binding())

	np := a.Find(KindImport, "numpy")
	require.Len(t, np, 1)
	assert.Equal(t, "np", a.Node(np[0]).Binding())

	wildcard := a.Find(KindImport, "x")
	require.Len(t, wildcard, 1)
	assert.True(t, a.Node(wildcard[0]).Wildcard)
}

func TestTranslate_ParameterScopes(t *testing.T) {
	t.Parallel()

	a := build(t, "python", "def f(a, b=1, *rest, **kw):\n    return a\n")

	fn := a.Find(KindFunction, "f")
	require.Len(t, fn, 1)
	assert.Equal(t, a.Root(), a.Node(fn[0]).Parent)

	var params []string
	for _, child := range a.Children(fn[0]) {
		if n := a.Node(child); n.Kind == KindParameter {
			params = append(params, n.Name)
		}
	}
	assert.Equal(t, []string{"a", "b", "rest", "kw"}, params)

	refs := a.Find(KindReference, "a")
	require.Len(t, refs, 1)
	assert.Equal(t, fn[0], a.Scope(refs[0]))
}

func TestTranslate_ClassBasesInOuterScope(t *testing.T) {
	t.Parallel()

	a := build(t, "python", "class B(Base):\n    x = 1\n")

	base := a.Find(KindReference, "Base")
	require.Len(t, base, 1)
	assert.Equal(t, a.Root(), a.Scope(base[0]))

	x := a.Find(KindVariable, "x")
	require.Len(t, x, 1)
	cls := a.Find(KindClass, "B")
	require.Len(t, cls, 1)
	assert.Equal(t, cls[0], a.Scope(x[0]))
}

func TestAst_NodeAtAndScopeAt(t *testing.T) {
	t.Parallel()

	text := "def foo(y):\n    return y\n"
	a := build(t, "python", text)

	ref := a.NodeAt(strings.LastIndex(text, "y"))
	require.NotEqual(t, NoNode, ref)
	assert.Equal(t, KindReference, a.Node(ref).Kind)
	assert.Equal(t, "y", a.Node(ref).Name)

	fn := a.Find(KindFunction, "foo")[0]
	assert.Equal(t, fn, a.ScopeAt(strings.LastIndex(text, "y")))
	// The name of a function belongs to the enclosing scope.
	assert.Equal(t, a.Root(), a.ScopeAt(strings.Index(text, "foo")))
}

func TestAst_DebugString(t *testing.T) {
	t.Parallel()

	a := build(t, "python", "def foo(): pass")
	out := a.DebugString()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[0], "Module"))
	assert.Contains(t, lines[1], `  Function "foo" [0:0-0:15]`)
}

func TestTranslate_TypeScriptExports(t *testing.T) {
	t.Parallel()

	a := build(t, "typescript", "export function f() {}\nconst hidden = 1\nexport const shown = 2\n")

	f := a.Find(KindFunction, "f")
	require.Len(t, f, 1)
	assert.True(t, a.Node(f[0]).Exported)

	hidden := a.Find(KindVariable, "hidden")
	require.Len(t, hidden, 1)
	assert.False(t, a.Node(hidden[0]).Exported)

	shown := a.Find(KindVariable, "shown")
	require.Len(t, shown, 1)
	assert.True(t, a.Node(shown[0]).Exported)
}
