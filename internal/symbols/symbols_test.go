package symbols

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/worker"
	"github.com/mvp-joe/cortex-lsp/internal/workspace"
)

// Test Plan for Symbol Tables:
// - `from b import x` resolves to b's x, and goes unresolved once b renames x
// - Inner declarations shadow outer ones and later assignments win
// - Python class bodies are not visible from nested functions
// - Builtins resolve without a location
// - Wildcard imports bind public names only
// - Namespace imports bind the module itself
// - Import cycles terminate, report a cycle and keep local names resolvable
// - Tables are identical regardless of the order files were opened
// - Latest never moves back to an older version
// - A relative import of a missing module is diagnosed
// - Unknown names are diagnosed only for languages that report them
// - Forget drops tables that depend on the forgotten file
// - Cache hits are reported with the caller's snapshot
// - A build that panics fails with ErrBuildFailed instead of a nil table
// - Keys of evicted tables are pruned

type fixture struct {
	w  *workspace.Workspace
	m  *Manager
	ma *ast.Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	pool := worker.New(2)
	t.Cleanup(pool.Close)

	asts, err := ast.NewManager(pool)
	require.NoError(t, err)
	t.Cleanup(asts.Close)

	m, err := NewManager(asts, pool, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	return &fixture{w: workspace.New("python"), m: m, ma: asts}
}

func (f *fixture) open(t *testing.T, uri, text string) {
	t.Helper()
	_, err := f.w.OpenFile(uri, text)
	require.NoError(t, err)
}

func (f *fixture) change(t *testing.T, uri, text string) {
	t.Helper()
	_, err := f.w.ChangeFile(uri, []document.Edit{document.Replace(text)})
	require.NoError(t, err)
}

func (f *fixture) table(t *testing.T, uri string) *Table {
	t.Helper()
	tbl, err := f.m.Get(context.Background(), f.w.Snapshot(), uri)
	require.NoError(t, err)
	return tbl
}

// refAt returns the reference at the nth occurrence of needle in the table's text.
func refAt(t *testing.T, tbl *Table, needle string, nth int) Reference {
	t.Helper()
	text := tbl.Ast().Text()
	offset := -1
	for i := 0; i <= nth; i++ {
		next := strings.Index(text[offset+1:], needle)
		require.GreaterOrEqual(t, next, 0, "occurrence %d of %q", nth, needle)
		offset += next + 1
	}
	ref, ok := tbl.ReferenceAt(offset)
	require.True(t, ok, "no reference at %q #%d", needle, nth)
	return ref
}

func codes(tbl *Table) []string {
	var out []string
	for _, d := range tbl.Diagnostics() {
		out = append(out, d.Code)
	}
	return out
}

func TestManager_ImportResolvesAcrossFiles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "from b import x\nprint(x)\n")
	f.open(t, "file:///p/b.py", "x = 1\n")

	tbl := f.table(t, "file:///p/a.py")
	ref := refAt(t, tbl, "x)", 0)
	assert.Equal(t, Resolved, ref.Status)
	assert.Equal(t, "file:///p/b.py", ref.Target.URI)
	assert.Equal(t, 0, ref.Target.Version)
	assert.Equal(t, ast.KindVariable, ref.Target.Kind)
	assert.Equal(t, []string{"file:///p/b.py"}, tbl.Dependencies())
	assert.Empty(t, tbl.Diagnostics())

	f.change(t, "file:///p/b.py", "y = 1\n")

	tbl = f.table(t, "file:///p/a.py")
	ref = refAt(t, tbl, "x)", 0)
	assert.Equal(t, Unresolved, ref.Status)
	assert.Equal(t, ReasonNotExported, ref.Reason)
	assert.Equal(t, []string{CodeNotExported}, codes(tbl))
}

func TestManager_Shadowing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "x = 1\nx = 2\ndef f(x):\n    return x\nprint(x)\n")
	tbl := f.table(t, "file:///p/a.py")

	inner := refAt(t, tbl, "x\nprint", 0)
	require.Equal(t, Resolved, inner.Status)
	assert.Equal(t, ast.KindParameter, inner.Target.Kind)

	outer := refAt(t, tbl, "x)\n", 0)
	require.Equal(t, Resolved, outer.Status)
	assert.Equal(t, ast.KindVariable, outer.Target.Kind)
	assert.Equal(t, strings.Index(tbl.Ast().Text(), "x = 2"), outer.Target.Span.Start)
}

func TestManager_ClassScopeIsOpaque(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "class A:\n    y = 1\n    z = y\n    def m(self):\n        return y\n")
	tbl := f.table(t, "file:///p/a.py")

	inBody := refAt(t, tbl, "y\n    def", 0)
	assert.Equal(t, Resolved, inBody.Status)

	inMethod := refAt(t, tbl, "y\n", 1)
	assert.Equal(t, Unresolved, inMethod.Status)
	assert.Equal(t, ReasonNotFound, inMethod.Reason)
	assert.Equal(t, []string{CodeUndefined}, codes(tbl))
}

func TestManager_Builtins(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "print(len([]))\n")
	tbl := f.table(t, "file:///p/a.py")

	for _, name := range []string{"print", "len"} {
		ref := refAt(t, tbl, name, 0)
		assert.Equal(t, Resolved, ref.Status, name)
		assert.True(t, ref.Target.Builtin, name)
		assert.Empty(t, ref.Target.URI, name)
	}
	assert.Empty(t, tbl.Diagnostics())
}

func TestManager_WildcardImport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "from b import *\nprint(pub, _priv)\n")
	f.open(t, "file:///p/b.py", "pub = 1\n_priv = 2\n")
	tbl := f.table(t, "file:///p/a.py")

	pub := refAt(t, tbl, "pub", 0)
	assert.Equal(t, Resolved, pub.Status)
	assert.Equal(t, "file:///p/b.py", pub.Target.URI)

	priv := refAt(t, tbl, "_priv", 0)
	assert.Equal(t, Unresolved, priv.Status)
	assert.Equal(t, ReasonNotFound, priv.Reason)
}

func TestManager_NamespaceImport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "import b\nb.x\n")
	f.open(t, "file:///p/b.py", "x = 1\n")
	tbl := f.table(t, "file:///p/a.py")

	ref := refAt(t, tbl, "b.x", 0)
	require.Equal(t, Resolved, ref.Status)
	assert.Equal(t, ast.KindModule, ref.Target.Kind)
	assert.Equal(t, "file:///p/b.py", ref.Target.URI)
}

func TestManager_ImportCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "from b import y\nx = 1\nprint(y)\n")
	f.open(t, "file:///p/b.py", "from a import x\ny = 2\nprint(x)\n")

	a := f.table(t, "file:///p/a.py")
	y := refAt(t, a, "y)", 0)
	assert.Equal(t, Resolved, y.Status)
	assert.Equal(t, "file:///p/b.py", y.Target.URI)

	require.Len(t, a.Imports(), 1)
	assert.Equal(t, []string{"file:///p/a.py", "file:///p/b.py", "file:///p/a.py"}, a.Imports()[0].Cycle)
	assert.Equal(t, []string{CodeCycle}, codes(a))

	b := f.table(t, "file:///p/b.py")
	x := refAt(t, b, "x)", 0)
	assert.Equal(t, Resolved, x.Status)
	assert.Equal(t, "file:///p/a.py", x.Target.URI)
}

func TestManager_ImportCycleThroughReexport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// a -> b -> c -> a, where c re-imports a name a only imports.
	f.open(t, "file:///p/a.py", "from b import q\n")
	f.open(t, "file:///p/b.py", "from c import q\n")
	f.open(t, "file:///p/c.py", "from a import q\n")

	tbl := f.table(t, "file:///p/a.py")
	decls := tbl.TopLevel()
	require.Len(t, decls, 1)
	assert.Equal(t, Unresolved, decls[0].Status)
	assert.Equal(t, ReasonCycle, decls[0].Reason)
}

func TestManager_DeterministicAcrossOpenOrder(t *testing.T) {
	t.Parallel()

	files := [][2]string{
		{"file:///p/a.py", "from b import x\nfrom c import *\nprint(x, z)\n"},
		{"file:///p/b.py", "from c import z as x\n"},
		{"file:///p/c.py", "z = 3\n"},
	}

	render := func(order []int) []Reference {
		f := newFixture(t)
		for _, i := range order {
			f.open(t, files[i][0], files[i][1])
		}
		return f.table(t, "file:///p/a.py").References()
	}

	first := render([]int{0, 1, 2})
	assert.Equal(t, first, render([]int{2, 1, 0}))
	assert.Equal(t, first, render([]int{1, 2, 0}))

	for _, ref := range first {
		assert.Equal(t, Resolved, ref.Status, ref.Name)
	}
}

func TestManager_LatestIsMonotonic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "x = 1\n")
	old := f.w.Snapshot()
	f.change(t, "file:///p/a.py", "x = 2\n")

	tbl := f.table(t, "file:///p/a.py")
	require.Equal(t, 1, tbl.Version())

	stale, err := f.m.Get(context.Background(), old, "file:///p/a.py")
	require.NoError(t, err)
	assert.Equal(t, 0, stale.Version())

	latest, ok := f.m.Latest("file:///p/a.py")
	require.True(t, ok)
	assert.Equal(t, 1, latest.Version())
}

func TestManager_CachesByDependencyVersions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "from b import x\n")
	f.open(t, "file:///p/b.py", "x = 1\n")

	first := f.table(t, "file:///p/a.py")
	assert.Same(t, first, f.table(t, "file:///p/a.py"))

	f.change(t, "file:///p/b.py", "x = 2\n")
	second := f.table(t, "file:///p/a.py")
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Version(), second.Version())
	assert.NotEqual(t, first.Key(), second.Key())
}

func TestManager_RelativeModuleNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "from .missing import z\nimport absent\nprint(z)\n")
	tbl := f.table(t, "file:///p/a.py")

	assert.Equal(t, []string{CodeModuleNotFound}, codes(tbl))
	assert.Equal(t, []string{".missing", "absent"}, tbl.Missing())

	ref := refAt(t, tbl, "z)", 0)
	assert.Equal(t, Unresolved, ref.Status)
	assert.Equal(t, ReasonModuleNotFound, ref.Reason)
}

func TestManager_ReportUnresolvedPerLanguage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "print(nothing)\n")
	f.open(t, "file:///p/a.ts", "console.log(nothing);\n")

	py := f.table(t, "file:///p/a.py")
	assert.Equal(t, []string{CodeUndefined}, codes(py))

	ts := f.table(t, "file:///p/a.ts")
	assert.Empty(t, ts.Diagnostics())
	ref := refAt(t, ts, "nothing", 0)
	assert.Equal(t, Unresolved, ref.Status)
	assert.Equal(t, ReasonNotFound, ref.Reason)
}

func TestManager_TypeScriptExportsOnlyMarked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/main.ts", "import { a, b } from './lib';\nconsole.log(a, b);\n")
	f.open(t, "file:///p/lib.ts", "export const a = 1;\nconst b = 2;\n")
	tbl := f.table(t, "file:///p/main.ts")

	a := refAt(t, tbl, "a,", 1)
	assert.Equal(t, Resolved, a.Status)
	assert.Equal(t, "file:///p/lib.ts", a.Target.URI)

	b := refAt(t, tbl, "b)", 0)
	assert.Equal(t, Unresolved, b.Status)
	assert.Equal(t, ReasonNotExported, b.Reason)
}

func TestManager_ForgetDropsDependents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "from b import x\n")
	f.open(t, "file:///p/b.py", "x = 1\n")

	first := f.table(t, "file:///p/a.py")
	f.m.Forget("file:///p/b.py")
	assert.NotSame(t, first, f.table(t, "file:///p/a.py"))
}

func TestManager_HitObserverSeesCachedTables(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		hits []*workspace.Snapshot
	)
	f := newFixture(t, WithHitObserver(func(tbl *Table, snap *workspace.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		hits = append(hits, snap)
	}))
	f.open(t, "file:///p/a.py", "import os\nos.getcwd()\n")
	first := f.table(t, "file:///p/a.py")

	f.open(t, "file:///p/c.py", "y = 1\n")
	snap := f.w.Snapshot()
	second, err := f.m.Get(context.Background(), snap, "file:///p/a.py")
	require.NoError(t, err)
	assert.Same(t, first, second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 1)
	assert.Same(t, snap, hits[0])
}

func TestManager_PanickingBuildFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithObserver(func(*Table, *workspace.Snapshot) { panic("observer") }))
	f.open(t, "file:///p/a.py", "x = 1\n")

	_, err := f.m.Get(context.Background(), f.w.Snapshot(), "file:///p/a.py")
	assert.ErrorIs(t, err, ErrBuildFailed)
}

func TestManager_PrunesEvictedKeys(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t, "file:///p/a.py", "from b import x\n")
	f.open(t, "file:///p/b.py", "x = 1\n")
	first := f.table(t, "file:///p/a.py")

	f.m.cache.Delete(first.Key())
	f.change(t, "file:///p/b.py", "x = 2\n")
	second := f.table(t, "file:///p/a.py")

	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	assert.NotContains(t, f.m.keys["file:///p/a.py"], first.Key())
	assert.Contains(t, f.m.keys["file:///p/b.py"], second.Key())
	assert.NotContains(t, f.m.keys["file:///p/b.py"], first.Key())
}

func TestManager_UnknownFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.m.Get(context.Background(), f.w.Snapshot(), "file:///p/none.py")
	assert.ErrorIs(t, err, workspace.ErrUnknownFile)
}

func TestTable_Queries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	text := "x = 1\ndef f(a):\n    return a + x\n"
	f.open(t, "file:///p/a.py", text)
	tbl := f.table(t, "file:///p/a.py")

	names := func(ds []Decl) []string {
		var out []string
		for _, d := range ds {
			out = append(out, d.Name)
		}
		return out
	}
	assert.Equal(t, []string{"x", "f"}, names(tbl.TopLevel()))

	inside := strings.Index(text, "a + x")
	assert.Equal(t, []string{"a", "x", "f"}, names(tbl.Visible(inside, true)))

	d, ok := tbl.DeclAt(strings.Index(text, "f("))
	require.True(t, ok)
	assert.Equal(t, ast.KindFunction, d.Kind)

	x := refAt(t, tbl, "x\n", 0)
	spans := tbl.Occurrences(x.Target)
	require.Len(t, spans, 2)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, x.Span, spans[1])

	tgt, ok := tbl.TargetAt(0)
	require.True(t, ok)
	assert.Equal(t, x.Target, tgt)
	tgt, ok = tbl.TargetAt(strings.LastIndex(text, "a"))
	require.True(t, ok)
	assert.Equal(t, ast.KindParameter, tgt.Kind)
}
