// Package lua hosts plugins written in Lua. Each plugin gets its own
// sandboxed state driven by a single executor goroutine; a plugin's
// init script registers handlers through the cortex module:
//
//	cortex.register("completion", function(req)
//	  return { { label = "self", kind = "keyword" } }
//	end, 10)
package lua

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/op/go-logging"
	lua "github.com/yuin/gopher-lua"

	"github.com/mvp-joe/cortex-lsp/internal/ast"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/lang"
	"github.com/mvp-joe/cortex-lsp/internal/plugin"
	"github.com/mvp-joe/cortex-lsp/internal/symbols"
)

var log = logging.MustGetLogger("lua")

// Plugin is a plugin.Plugin backed by a Lua script.
type Plugin struct {
	manifest plugin.Manifest
	exec     *executor
}

var _ plugin.Plugin = (*Plugin)(nil)

// New creates a Lua plugin for a manifest loaded from disk.
func New(m plugin.Manifest) *Plugin {
	return &Plugin{manifest: m}
}

// Discover loads a plugin from each subdirectory of dirs holding a
// manifest. Directories that do not exist are skipped. Invalid manifests
// are reported in the joined error; the valid plugins are still returned.
func Discover(dirs []string) ([]*Plugin, error) {
	var plugins []*Plugin
	var errs []error
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			pluginDir := filepath.Join(dir, e.Name())
			if _, err := os.Stat(filepath.Join(pluginDir, plugin.ManifestFile)); err != nil {
				continue
			}
			m, err := plugin.LoadManifestFromDir(pluginDir)
			if err != nil {
				errs = append(errs, &plugin.LoadError{ID: e.Name(), Err: err})
				continue
			}
			plugins = append(plugins, New(*m))
		}
	}
	return plugins, errors.Join(errs...)
}

func (p *Plugin) Manifest() plugin.Manifest { return p.manifest }

type registration struct {
	feature  string
	name     string
	priority int
	fn       *lua.LFunction
}

// Load runs the plugin's main script and registers the handlers it
// declares. ctx bounds the script's execution.
func (p *Plugin) Load(ctx context.Context, r *plugin.Registry) error {
	if p.exec != nil {
		return fmt.Errorf("plugin %s already loaded", p.manifest.ID)
	}
	p.exec = newExecutor(newSandboxedState(p.manifest.ID), 0)

	var regs []registration
	err := p.exec.Execute(ctx, func(L *lua.LState) error {
		L.SetGlobal("cortex", p.module(L, &regs))
		return L.DoFile(p.manifest.MainPath())
	})
	if err != nil {
		p.exec.Close()
		p.exec = nil
		return err
	}

	for _, reg := range regs {
		err := r.Register(plugin.Function{
			Feature:  reg.feature,
			Name:     reg.name,
			Priority: reg.priority,
			Handler:  p.handler(reg.fn),
		})
		if err != nil {
			p.exec.Close()
			p.exec = nil
			return err
		}
	}
	log.Debugf("loaded lua plugin %s: %d handlers", p.manifest.ID, len(regs))
	return nil
}

// Close stops the plugin's executor and closes its state.
func (p *Plugin) Close() error {
	if p.exec != nil {
		p.exec.Close()
	}
	return nil
}

// module builds the cortex table exposed to scripts.
func (p *Plugin) module(L *lua.LState, regs *[]registration) *lua.LTable {
	mod := L.NewTable()

	// register(feature, fn [, priority [, name]])
	L.SetField(mod, "register", L.NewFunction(func(L *lua.LState) int {
		reg := registration{
			feature:  L.CheckString(1),
			fn:       L.CheckFunction(2),
			priority: L.OptInt(3, 0),
			name:     L.OptString(4, ""),
		}
		if !feature.Known(reg.feature) {
			L.ArgError(1, "unknown feature "+reg.feature)
		}
		*regs = append(*regs, reg)
		return 0
	}))

	L.SetField(mod, "log", L.NewFunction(func(L *lua.LState) int {
		log.Infof("[%s] %s", p.manifest.ID, L.CheckString(1))
		return 0
	}))

	features := L.NewTable()
	for _, name := range feature.Names() {
		features.Append(lua.LString(name))
	}
	L.SetField(mod, "features", features)
	L.SetField(mod, "plugin", lua.LString(p.manifest.ID))
	return mod
}

// handler adapts a registered Lua function to a plugin.Handler.
func (p *Plugin) handler(fn *lua.LFunction) plugin.Handler {
	return func(ctx context.Context, req *feature.Request) ([]feature.Item, error) {
		var items []feature.Item
		err := p.exec.Execute(ctx, func(L *lua.LState) error {
			arg := requestTable(L, req)
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, arg); err != nil {
				return err
			}
			ret := L.Get(-1)
			L.Pop(1)

			var err error
			items, err = toItems(ret, req)
			return err
		})
		if err != nil {
			return nil, err
		}
		return items, nil
	}
}

// requestTable exposes a request to a script as a plain table.
func requestTable(L *lua.LState, req *feature.Request) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "feature", lua.LString(req.Feature))
	L.SetField(t, "uri", lua.LString(req.URI))
	L.SetField(t, "version", lua.LNumber(req.Version))
	L.SetField(t, "line", lua.LNumber(req.Position.Line))
	L.SetField(t, "character", lua.LNumber(req.Position.Character))
	L.SetField(t, "offset", lua.LNumber(req.Offset))

	if a := req.Ast; a != nil {
		L.SetField(t, "language", lua.LString(a.Language()))
		L.SetField(t, "text", lua.LString(a.Text()))
		if id := a.NodeAt(req.Offset); id != ast.NoNode {
			n := a.Node(id)
			L.SetField(t, "node_kind", lua.LString(n.Kind.String()))
			if n.Name != "" {
				L.SetField(t, "word", lua.LString(n.Name))
			}
		}
	}

	if tbl := req.Symbols; tbl != nil {
		opaque := false
		if l, err := lang.Get(tbl.Language()); err == nil {
			opaque = l.OpaqueClassScope
		}
		visible := L.NewTable()
		for _, d := range tbl.Visible(req.Offset, opaque) {
			visible.Append(declTable(L, req, d.Name, d.Kind, d.NameSpan))
		}
		L.SetField(t, "visible", visible)

		top := L.NewTable()
		for _, d := range tbl.TopLevel() {
			top.Append(declTable(L, req, d.Name, d.Kind, d.NameSpan))
		}
		L.SetField(t, "symbols", top)

		if ref, ok := tbl.ReferenceAt(req.Offset); ok {
			L.SetField(t, "word", lua.LString(ref.Name))
			L.SetField(t, "resolved", lua.LBool(ref.Status == symbols.Resolved))
		}
	}
	return t
}

func declTable(L *lua.LState, req *feature.Request, name string, kind ast.Kind, span ast.Span) *lua.LTable {
	d := L.NewTable()
	L.SetField(d, "name", lua.LString(name))
	L.SetField(d, "kind", lua.LString(feature.KindOf(kind)))
	if req.Ast != nil {
		pos := req.Ast.Range(span).Start
		L.SetField(d, "line", lua.LNumber(pos.Line))
		L.SetField(d, "character", lua.LNumber(pos.Character))
	}
	return d
}

// toItems converts a handler's return value. nil means no items, a string
// is a single item, a table with a label, contents or message field is a
// single item, and any other table is a list of items.
func toItems(v lua.LValue, req *feature.Request) ([]feature.Item, error) {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LString:
		s := string(v)
		return []feature.Item{{Label: s, Contents: s}}, nil
	case *lua.LTable:
		if isItem(v) {
			it, err := toItem(v, req)
			if err != nil {
				return nil, err
			}
			return []feature.Item{it}, nil
		}
		var items []feature.Item
		var err error
		v.ForEach(func(_, el lua.LValue) {
			if err != nil {
				return
			}
			var it feature.Item
			switch el := el.(type) {
			case lua.LString:
				it = feature.Item{Label: string(el), Contents: string(el)}
			case *lua.LTable:
				it, err = toItem(el, req)
			default:
				err = fmt.Errorf("item must be a table or string, got %s", el.Type())
			}
			if err == nil {
				items = append(items, it)
			}
		})
		if err != nil {
			return nil, err
		}
		return items, nil
	default:
		return nil, fmt.Errorf("handler must return a table, string or nil, got %s", v.Type())
	}
}

func isItem(t *lua.LTable) bool {
	for _, key := range []string{"label", "contents", "message"} {
		if t.RawGetString(key) != lua.LNil {
			return true
		}
	}
	return false
}

func toItem(t *lua.LTable, req *feature.Request) (feature.Item, error) {
	it := feature.Item{
		Label:     stringField(t, "label"),
		Kind:      feature.ItemKind(stringField(t, "kind")),
		Detail:    stringField(t, "detail"),
		Contents:  stringField(t, "contents"),
		Container: stringField(t, "container"),
		Code:      stringField(t, "code"),
		Message:   stringField(t, "message"),
		URI:       stringField(t, "uri"),
	}
	if it.Label == "" && it.Contents == "" && it.Message == "" {
		return it, errors.New("item has no label, contents or message")
	}
	if n, ok := t.RawGetString("severity").(lua.LNumber); ok {
		it.Severity = int(n)
	}
	if line, ok := t.RawGetString("line").(lua.LNumber); ok {
		start := document.Position{Line: int(line), Character: intField(t, "character", 0)}
		end := document.Position{
			Line:      intField(t, "end_line", start.Line),
			Character: intField(t, "end_character", start.Character),
		}
		it.Range = document.Range{Start: start, End: end}
		if it.URI == "" {
			it.URI = req.URI
		}
	}
	return it, nil
}

func stringField(t *lua.LTable, key string) string {
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func intField(t *lua.LTable, key string, def int) int {
	if n, ok := t.RawGetString(key).(lua.LNumber); ok {
		return int(n)
	}
	return def
}
