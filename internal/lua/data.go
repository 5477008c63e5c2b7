package lua

import (
	"math"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

const frameTypeName = "pd.frame"

// pdTable exposes pd.DataFrame{col = {...}}. A frame is the column table
// itself with helper methods attached through a metatable, so df.Revenue
// keeps working as a plain list.
func (c *Capabilities) pdTable(L *lua.LState) *lua.LTable {
	mt := L.NewTypeMetatable(frameTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"columns": frameColumns,
		"nrows":   frameRows,
		"col":     frameCol,
		"row":     frameRow,
	}))

	pd := L.NewTable()
	L.SetField(pd, "DataFrame", L.NewFunction(func(L *lua.LState) int {
		src := L.CheckTable(selfOffset(L, pd) + 1)
		df := L.NewTable()
		src.ForEach(func(k, v lua.LValue) {
			if col, ok := v.(*lua.LTable); ok {
				df.RawSet(k, copyList(L, col))
			}
		})
		L.SetMetatable(df, mt)
		L.Push(df)
		return 1
	}))
	return pd
}

func copyList(L *lua.LState, src *lua.LTable) *lua.LTable {
	dst := L.CreateTable(src.Len(), 0)
	for i := 1; i <= src.Len(); i++ {
		dst.RawSetInt(i, src.RawGetInt(i))
	}
	return dst
}

func frameNames(df *lua.LTable) []string {
	var names []string
	df.ForEach(func(k, _ lua.LValue) {
		if s, ok := k.(lua.LString); ok {
			names = append(names, string(s))
		}
	})
	sort.Strings(names)
	return names
}

func frameColumns(L *lua.LState) int {
	out := L.NewTable()
	for _, n := range frameNames(L.CheckTable(1)) {
		out.Append(lua.LString(n))
	}
	L.Push(out)
	return 1
}

func frameRows(L *lua.LState) int {
	df := L.CheckTable(1)
	n := 0
	df.ForEach(func(_, v lua.LValue) {
		if col, ok := v.(*lua.LTable); ok {
			n = max(n, col.Len())
		}
	})
	L.Push(lua.LNumber(n))
	return 1
}

func frameCol(L *lua.LState) int {
	L.Push(L.CheckTable(1).RawGetString(L.CheckString(2)))
	return 1
}

// frameRow returns row i (1-based) as a table keyed by column name.
func frameRow(L *lua.LState) int {
	df := L.CheckTable(1)
	i := L.CheckInt(2)
	row := L.NewTable()
	for _, n := range frameNames(df) {
		if col, ok := df.RawGetString(n).(*lua.LTable); ok {
			row.RawSetString(n, col.RawGetInt(i))
		}
	}
	L.Push(row)
	return 1
}

// npTable exposes the numeric helpers scripts use to prepare chart data.
func (c *Capabilities) npTable(L *lua.LState) *lua.LTable {
	np := L.NewTable()
	list := func(v []float64) *lua.LTable {
		t := L.CreateTable(len(v), 0)
		for _, x := range v {
			t.Append(lua.LNumber(x))
		}
		return t
	}
	reduce := func(fn func([]float64) float64) lua.LGFunction {
		return func(L *lua.LState) int {
			L.Push(lua.LNumber(fn(toFloats(L.Get(selfOffset(L, np) + 1)))))
			return 1
		}
	}

	L.SetFuncs(np, map[string]lua.LGFunction{
		"arange": func(L *lua.LState) int {
			b := selfOffset(L, np)
			start, stop := float64(L.CheckNumber(b+1)), 0.0
			if L.GetTop() >= b+2 {
				stop = float64(L.CheckNumber(b + 2))
			} else {
				start, stop = 0, start
			}
			step := float64(L.OptNumber(b+3, 1))
			if step == 0 {
				return argError(L, "arange: step must not be zero")
			}
			var out []float64
			for x := start; (step > 0 && x < stop) || (step < 0 && x > stop); x += step {
				out = append(out, x)
				if len(out) > 1_000_000 {
					return argError(L, "arange: too many elements")
				}
			}
			L.Push(list(out))
			return 1
		},
		"linspace": func(L *lua.LState) int {
			b := selfOffset(L, np)
			start, stop := float64(L.CheckNumber(b+1)), float64(L.CheckNumber(b+2))
			n := L.OptInt(b+3, 50)
			if n < 0 || n > 1_000_000 {
				return argError(L, "linspace: invalid count %d", n)
			}
			out := make([]float64, n)
			for i := range out {
				if n == 1 {
					out[i] = start
					break
				}
				out[i] = start + (stop-start)*float64(i)/float64(n-1)
			}
			L.Push(list(out))
			return 1
		},
		"cumsum": func(L *lua.LState) int {
			v := toFloats(L.Get(selfOffset(L, np) + 1))
			var acc float64
			for i, x := range v {
				acc += x
				v[i] = acc
			}
			L.Push(list(v))
			return 1
		},
		"round": func(L *lua.LState) int {
			b := selfOffset(L, np)
			x := float64(L.CheckNumber(b + 1))
			p := math.Pow(10, float64(L.OptInt(b+2, 0)))
			L.Push(lua.LNumber(math.Round(x*p) / p))
			return 1
		},
		"sum":  reduce(sum),
		"mean": reduce(func(v []float64) float64 { return safeDiv(sum(v), float64(len(v))) }),
		"min":  reduce(func(v []float64) float64 { return extreme(v, math.Min) }),
		"max":  reduce(func(v []float64) float64 { return extreme(v, math.Max) }),
	})
	return np
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func extreme(v []float64, pick func(a, b float64) float64) float64 {
	if len(v) == 0 {
		return 0
	}
	out := v[0]
	for _, x := range v[1:] {
		out = pick(out, x)
	}
	return out
}

// toFloats reads a Lua list of numbers. Numeric strings are accepted and
// anything else becomes 0.
func toFloats(v lua.LValue) []float64 {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	out := make([]float64, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		switch x := t.RawGetInt(i).(type) {
		case lua.LNumber:
			out = append(out, float64(x))
		case lua.LString:
			f, _ := strconv.ParseFloat(string(x), 64)
			out = append(out, f)
		default:
			out = append(out, 0)
		}
	}
	return out
}

func toStrings(v lua.LValue) []string {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	out := make([]string, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		out = append(out, lua.LVAsString(t.RawGetInt(i)))
	}
	return out
}

func toMatrix(v lua.LValue) [][]float64 {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	out := make([][]float64, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		out = append(out, toFloats(t.RawGetInt(i)))
	}
	return out
}
