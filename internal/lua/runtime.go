package lua

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ChunkName is the name errors are reported against, as in "script:12: ...".
const ChunkName = "script"

// Runtime executes one document script against a Capabilities set in a
// fresh interpreter.
type Runtime struct {
	caps *Capabilities
}

// NewRuntime creates a runtime bound to caps.
func NewRuntime(caps *Capabilities) *Runtime {
	return &Runtime{caps: caps}
}

// Execute compiles and runs source. The interpreter is interrupted between
// instructions once ctx is done. Syntax errors are returned as
// *lua.ApiError with Type ApiErrorSyntax.
func (r *Runtime) Execute(ctx context.Context, source string) error {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: false,
	})
	defer L.Close()
	L.SetContext(ctx)

	r.openSafeLibs(L)
	r.registerAPI(L)

	fn, err := L.Load(strings.NewReader(source), ChunkName)
	if err != nil {
		return err
	}
	L.Push(fn)
	if err := L.PCall(0, 0, nil); err != nil {
		return err
	}
	return nil
}

// openSafeLibs loads only the safe standard libraries
func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove dynamic loading and environment tampering from base.
	for _, name := range []string{
		"loadfile", "dofile", "load", "loadstring",
		"collectgarbage", "getfenv", "setfenv", "_printregs", "newproxy",
		"require", "module",
	} {
		L.SetGlobal(name, lua.LNil)
	}

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Remove non-deterministic math functions
	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

// registerAPI exposes the capability table as globals.
func (r *Runtime) registerAPI(L *lua.LState) {
	c := r.caps

	L.SetGlobal("print", L.NewFunction(c.luaPrint(c.Stdout)))
	L.SetGlobal("warn", L.NewFunction(c.luaPrint(c.Stderr)))
	L.SetGlobal("log", L.NewFunction(c.luaPrint(c.Stdout)))

	L.SetGlobal("doc", c.docTable(L))
	L.SetGlobal("add_caption", L.NewFunction(c.luaAddCaption))
	L.SetGlobal("render_mermaid", L.NewFunction(c.luaRenderMermaid))
	L.SetGlobal("plt", c.pltTable(L))
	L.SetGlobal("pd", c.pdTable(L))
	L.SetGlobal("np", c.npTable(L))
	L.SetGlobal("output_dir", c.outputDirTable(L))
}

// IsScript reports whether path names a Lua document script.
func IsScript(path string) bool {
	return filepath.Ext(path) == ".lua"
}

func argError(L *lua.LState, format string, args ...any) int {
	L.RaiseError("%s", fmt.Sprintf(format, args...))
	return 0
}
