package lua

import (
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/docforge/internal/charts"
)

// pltTable builds the matplotlib-flavoured plotting module. Drawing calls
// go to the current figure; ax objects returned by subplots draw on the
// figure they were created with.
func (c *Capabilities) pltTable(L *lua.LState) *lua.LTable {
	plt := L.NewTable()
	current := func() *charts.Figure { return c.Canvas.Current() }

	c.setDrawFuncs(L, plt, current)

	L.SetField(plt, "figure", L.NewFunction(func(L *lua.LState) int {
		w, h := figureSize(L, selfOffset(L, plt)+1)
		if _, err := c.Canvas.NewFigure(w, h); err != nil {
			return argError(L, "figure: %v", err)
		}
		L.Push(L.NewTable())
		return 1
	}))
	L.SetField(plt, "subplots", L.NewFunction(func(L *lua.LState) int {
		w, h := figureSize(L, selfOffset(L, plt)+1)
		fig, err := c.Canvas.NewFigure(w, h)
		if err != nil {
			return argError(L, "subplots: %v", err)
		}
		ax := L.NewTable()
		c.setDrawFuncs(L, ax, func() *charts.Figure { return fig })
		L.Push(L.NewTable())
		L.Push(ax)
		return 2
	}))
	L.SetField(plt, "savefig", L.NewFunction(c.luaSavefig(plt)))
	L.SetField(plt, "close", L.NewFunction(func(L *lua.LState) int {
		c.Canvas.Close()
		return 0
	}))
	for _, name := range []string{"legend", "grid", "tight_layout", "xticks", "yticks", "show"} {
		L.SetField(plt, name, L.NewFunction(func(*lua.LState) int { return 0 }))
	}
	return plt
}

// figureSize reads either figure(w, h) or figure{width=, height=}.
func figureSize(L *lua.LState, idx int) (int, int) {
	if opts, ok := L.Get(idx).(*lua.LTable); ok {
		return int(lua.LVAsNumber(opts.RawGetString("width"))), int(lua.LVAsNumber(opts.RawGetString("height")))
	}
	return L.OptInt(idx, 0), L.OptInt(idx+1, 0)
}

func (c *Capabilities) setDrawFuncs(L *lua.LState, tbl *lua.LTable, fig func() *charts.Figure) {
	draw := func(fn func(L *lua.LState, f *charts.Figure, base int) error) *lua.LFunction {
		return L.NewFunction(func(L *lua.LState) int {
			if err := fn(L, fig(), selfOffset(L, tbl)); err != nil {
				return argError(L, "%v", err)
			}
			return 0
		})
	}

	bar := draw(func(L *lua.LState, f *charts.Figure, b int) error {
		return f.Bar(toStrings(L.Get(b+1)), toFloats(L.Get(b+2)))
	})
	barh := draw(func(L *lua.LState, f *charts.Figure, b int) error {
		return f.BarH(toStrings(L.Get(b+1)), toFloats(L.Get(b+2)))
	})
	line := draw(func(L *lua.LState, f *charts.Figure, b int) error {
		// plot(y) or plot(x, y[, label])
		if _, ok := L.Get(b + 2).(*lua.LTable); !ok {
			return f.Line(L.OptString(b+2, ""), nil, toFloats(L.Get(b+1)))
		}
		return f.Line(L.OptString(b+3, ""), toFloats(L.Get(b+1)), toFloats(L.Get(b+2)))
	})
	scatter := draw(func(L *lua.LState, f *charts.Figure, b int) error {
		return f.Scatter(L.OptString(b+3, ""), toFloats(L.Get(b+1)), toFloats(L.Get(b+2)))
	})
	hist := draw(func(L *lua.LState, f *charts.Figure, b int) error {
		return f.Hist(toFloats(L.Get(b+1)), L.OptInt(b+2, charts.DefaultBins))
	})
	heatmap := draw(func(L *lua.LState, f *charts.Figure, b int) error {
		return f.Heatmap(toMatrix(L.Get(b+1)), toStrings(L.Get(b+2)))
	})
	box := draw(func(L *lua.LState, f *charts.Figure, b int) error {
		return f.Box(toMatrix(L.Get(b+1)), toStrings(L.Get(b+2)))
	})
	violin := draw(func(L *lua.LState, f *charts.Figure, b int) error {
		return f.Violin(toMatrix(L.Get(b+1)), toStrings(L.Get(b+2)))
	})
	pie := draw(func(L *lua.LState, f *charts.Figure, b int) error {
		return f.Pie(toStrings(L.Get(b+2)), toFloats(L.Get(b+1)))
	})
	label := func(set func(f *charts.Figure, s string)) *lua.LFunction {
		return draw(func(L *lua.LState, f *charts.Figure, b int) error {
			set(f, L.CheckString(b+1))
			return nil
		})
	}
	title := label(func(f *charts.Figure, s string) { f.Title = s })
	xlabel := label(func(f *charts.Figure, s string) { f.XLabel = s })
	ylabel := label(func(f *charts.Figure, s string) { f.YLabel = s })

	funcs := map[string]*lua.LFunction{
		"bar":        bar,
		"barh":       barh,
		"line":       line,
		"plot":       line,
		"scatter":    scatter,
		"hist":       hist,
		"histogram":  hist,
		"heatmap":    heatmap,
		"box":        box,
		"boxplot":    box,
		"violin":     violin,
		"violinplot": violin,
		"pie":        pie,
		"title":      title,
		"set_title":  title,
		"xlabel":     xlabel,
		"set_xlabel": xlabel,
		"ylabel":     ylabel,
		"set_ylabel": ylabel,
	}
	for name, fn := range funcs {
		L.SetField(tbl, name, fn)
	}
}

// luaSavefig implements plt.savefig(target) -> path. target is a bare file
// name or a path inside the output directory; the image always lands in
// image_assets under the target's base name.
func (c *Capabilities) luaSavefig(plt *lua.LTable) lua.LGFunction {
	return func(L *lua.LState) int {
		target := L.CheckString(selfOffset(L, plt) + 1)
		if _, err := c.resolveWritable(target); err != nil {
			return argError(L, "savefig: %v", err)
		}
		name := filepath.Base(target)
		if filepath.Ext(name) == "" {
			name += ".png"
		}
		if err := CheckOutputName(name, ".png"); err != nil {
			return argError(L, "savefig: %v", err)
		}

		png, err := c.Canvas.Current().PNG()
		if err != nil {
			return argError(L, "savefig: %v", err)
		}
		path, err := c.writeAsset(ImageAssetsDir, name, png)
		if err != nil {
			return argError(L, "savefig: %v", err)
		}
		c.charts++
		c.Logger.Debug("chart saved", "name", name, "bytes", len(png))
		L.Push(lua.LString(path))
		return 1
	}
}

// resolveWritable checks that a save target does not escape the output directory.
func (c *Capabilities) resolveWritable(target string) (string, error) {
	if filepath.Base(target) == target {
		return target, nil
	}
	return c.resolvePath(target)
}
