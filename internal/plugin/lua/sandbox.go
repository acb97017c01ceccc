package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// newSandboxedState creates a Lua state with only the safe standard
// libraries. The io, os, debug, package and channel libraries are never
// opened, and the file and string loaders are removed.
func newSandboxedState(pluginID string) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // We'll open selectively
	})

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	// Remove functions that load code from files or strings
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}

	// print goes to the server log, never to stdout
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		log.Infof("[%s] %s", pluginID, strings.Join(parts, "\t"))
		return 0
	}))

	return L
}
