package lua

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/plugin"
	"github.com/mvp-joe/cortex-lsp/internal/worker"
)

// Test Plan for the Lua host:
// - Scripts register handlers with cortex.register and are dispatched like Go plugins
// - Requests expose the position, the node under the cursor and its name
// - Strings, single item tables and item lists all convert to items
// - The sandbox exposes no io, os, require or code loading
// - A runaway handler is stopped by the invocation timeout and counts as a failure
// - Script errors and undeclared features fail registration with a LoadError
// - Discover returns valid plugins and reports invalid manifests

func writePlugin(t *testing.T, root, id, manifest, script string) string {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFile), []byte(manifest), 0o644))
	if script != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(script), 0o644))
	}
	return dir
}

func loadPlugin(t *testing.T, dir string) *Plugin {
	t.Helper()
	m, err := plugin.LoadManifestFromDir(dir)
	require.NoError(t, err)
	return New(*m)
}

func newManager(t *testing.T, timeout time.Duration) *plugin.Manager {
	t.Helper()
	cfg := plugin.DefaultManagerConfig()
	cfg.Timeout = timeout
	m := plugin.NewManager(cfg)
	t.Cleanup(m.Close)
	return m
}

func buildAst(t *testing.T, text string) *ast.Ast {
	t.Helper()
	pool := worker.New(1)
	t.Cleanup(pool.Close)
	asts, err := ast.NewManager(pool)
	require.NoError(t, err)
	t.Cleanup(asts.Close)

	a, err := asts.Get(context.Background(), document.NewRevision("file:///p/a.py", "python", 1, text))
	require.NoError(t, err)
	return a
}

const completionScript = `
cortex.register("completion", function(req)
  return {
    "pass",
    { label = req.word, kind = "variable", detail = req.node_kind },
  }
end, 5, "words")

cortex.register("hover", function(req)
  return "hover " .. req.word .. " at " .. req.line .. ":" .. req.character
end)

cortex.register("definition", function(req)
  return { label = req.word, line = 0, character = 8, end_character = 9 }
end)
`

func TestPlugin_Dispatch(t *testing.T) {
	t.Parallel()

	dir := writePlugin(t, t.TempDir(), "words",
		"id: words\nfeatures: [completion, hover, definition]\n", completionScript)
	m := newManager(t, time.Second)
	require.NoError(t, m.Register(context.Background(), loadPlugin(t, dir)))

	text := "def foo(y):\n    return y\n"
	a := buildAst(t, text)
	pos := a.Lines().Position(strings.LastIndex(text, "y"))

	got, err := m.Dispatch(context.Background(), feature.Completion, feature.NewRequest(feature.Completion, a, nil, pos))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pass", got[0].Label)
	assert.Equal(t, "y", got[1].Label)
	assert.Equal(t, feature.KindVariable, got[1].Kind)
	assert.Equal(t, "Reference", got[1].Detail)
	assert.Equal(t, "words", got[1].Source)

	got, err = m.Dispatch(context.Background(), feature.Hover, feature.NewRequest(feature.Hover, a, nil, pos))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hover y at 1:11", got[0].Contents)

	got, err = m.Dispatch(context.Background(), feature.Definition, feature.NewRequest(feature.Definition, a, nil, pos))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "file:///p/a.py", got[0].URI)
	assert.Equal(t, document.Range{
		Start: document.Position{Line: 0, Character: 8},
		End:   document.Position{Line: 0, Character: 9},
	}, got[0].Range)

	info := m.Plugins()
	require.Len(t, info, 1)
	assert.Equal(t, 1, info[0].Functions[feature.Completion])
}

func TestPlugin_Sandbox(t *testing.T) {
	t.Parallel()

	script := `
assert(os == nil, "os")
assert(io == nil, "io")
assert(debug == nil, "debug")
assert(require == nil, "require")
assert(dofile == nil and loadfile == nil and load == nil and loadstring == nil, "loaders")
assert(string.upper("a") == "A")
assert(math.max(1, 2) == 2)
cortex.register("hover", function(req) return tostring(#cortex.features) end)
`
	dir := writePlugin(t, t.TempDir(), "sandboxed", "id: sandboxed\nfeatures: [hover]\n", script)
	m := newManager(t, time.Second)
	require.NoError(t, m.Register(context.Background(), loadPlugin(t, dir)))

	got, err := m.Dispatch(context.Background(), feature.Hover, &feature.Request{Feature: feature.Hover, URI: "file:///p/a.py"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "6", got[0].Contents)
}

func TestPlugin_RunawayHandlerTimesOut(t *testing.T) {
	t.Parallel()

	script := `
cortex.register("hover", function(req)
  while true do end
end)
`
	dir := writePlugin(t, t.TempDir(), "spin", "id: spin\nfeatures: [hover]\n", script)

	var failures []*plugin.FunctionFailure
	cfg := plugin.DefaultManagerConfig()
	cfg.Timeout = 50 * time.Millisecond
	m := plugin.NewManager(cfg, plugin.WithFailureHook(func(f *plugin.FunctionFailure) {
		failures = append(failures, f)
	}))
	t.Cleanup(m.Close)
	require.NoError(t, m.Register(context.Background(), loadPlugin(t, dir)))

	req := &feature.Request{Feature: feature.Hover, URI: "file:///p/a.py"}
	for range 2 {
		got, err := m.Dispatch(context.Background(), feature.Hover, req)
		require.NoError(t, err)
		assert.Empty(t, got)
	}

	st, err := m.State("spin")
	require.NoError(t, err)
	assert.Equal(t, plugin.StateDegraded, st)
	require.Len(t, failures, 2)
	assert.True(t, failures[0].Timeout)
}

func TestPlugin_LoadErrors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	tests := []struct {
		name     string
		manifest string
		script   string
		wantErr  error
	}{
		{"syntax error", "id: broken\nfeatures: [hover]\n", "cortex.register(", nil},
		{"runtime error", "id: raises\nfeatures: [hover]\n", `error("nope")`, nil},
		{"unknown feature", "id: unknown\nfeatures: [hover]\n", `cortex.register("rename", function() end)`, nil},
		{"undeclared feature", "id: undeclared\nfeatures: [hover]\n", `cortex.register("completion", function() end)`, plugin.ErrUndeclaredFeature},
		{"missing main", "id: nomain\nfeatures: [hover]\n", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := writePlugin(t, root, strings.ReplaceAll(tt.name, " ", "-"), tt.manifest, tt.script)
			m := newManager(t, time.Second)
			err := m.Register(context.Background(), loadPlugin(t, dir))
			require.Error(t, err)
			assert.ErrorIs(t, err, plugin.ErrPluginLoad)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Empty(t, m.Plugins())
		})
	}
}

func TestToItems_Errors(t *testing.T) {
	t.Parallel()

	script := `
cortex.register("hover", function(req) return 42 end, 0, "number")
cortex.register("hover", function(req) return { { detail = "no label" } } end, 0, "empty")
`
	dir := writePlugin(t, t.TempDir(), "bad-items", "id: bad-items\nfeatures: [hover]\n", script)

	var failures atomic.Int32
	m := plugin.NewManager(plugin.DefaultManagerConfig(), plugin.WithFailureHook(func(*plugin.FunctionFailure) {
		failures.Add(1)
	}))
	t.Cleanup(m.Close)
	require.NoError(t, m.Register(context.Background(), loadPlugin(t, dir)))

	got, err := m.Dispatch(context.Background(), feature.Hover, &feature.Request{Feature: feature.Hover})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(2), failures.Load())
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "b-good", "id: b-good\nfeatures: [hover]\n", `cortex.register("hover", function() return "b" end)`)
	writePlugin(t, root, "a-good", "id: a-good\nfeatures: [hover]\n", `cortex.register("hover", function() return "a" end)`)
	writePlugin(t, root, "bad", "id: Not Valid\n", "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no-manifest"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("plugins"), 0o644))

	plugins, err := Discover([]string{root, filepath.Join(root, "missing")})
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrPluginLoad)
	require.Len(t, plugins, 2)
	assert.Equal(t, "a-good", plugins[0].Manifest().ID)
	assert.Equal(t, "b-good", plugins[1].Manifest().ID)
}
