package lua

import (
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/docforge/internal/docx"
)

const tableTypeName = "docx.table"

func (c *Capabilities) docTable(L *lua.LState) *lua.LTable {
	doc := L.NewTable()
	method := func(fn func(L *lua.LState, base int) int) *lua.LFunction {
		return L.NewFunction(func(L *lua.LState) int {
			return fn(L, selfOffset(L, doc))
		})
	}

	L.SetField(doc, "add_heading", method(func(L *lua.LState, base int) int {
		text := L.CheckString(base + 1)
		level := L.OptInt(base+2, 1)
		if err := c.Doc.AddHeading(text, level); err != nil {
			return argError(L, "add_heading: %v", err)
		}
		return 0
	}))
	L.SetField(doc, "add_paragraph", method(func(L *lua.LState, base int) int {
		c.Doc.AddParagraph(L.OptString(base+1, ""), L.OptString(base+2, ""))
		return 0
	}))
	L.SetField(doc, "add_bullet", method(func(L *lua.LState, base int) int {
		c.Doc.AddBullet(L.CheckString(base + 1))
		return 0
	}))
	L.SetField(doc, "add_page_break", method(func(L *lua.LState, base int) int {
		c.Doc.AddPageBreak()
		return 0
	}))
	L.SetField(doc, "add_caption", method(func(L *lua.LState, base int) int {
		c.Doc.AddCaption(L.CheckString(base + 1))
		return 0
	}))
	L.SetField(doc, "add_table", method(c.luaAddTable))
	L.SetField(doc, "add_picture", method(func(L *lua.LState, base int) int {
		path, err := c.resolve(L.CheckString(base + 1))
		if err != nil {
			return argError(L, "add_picture: %v", err)
		}
		width := float64(L.OptNumber(base+2, lua.LNumber(c.PictureWidth)))
		data, err := os.ReadFile(path)
		if err != nil {
			return argError(L, "add_picture: %v", err)
		}
		if err := c.Doc.AddPicture(data, path, width); err != nil {
			return argError(L, "add_picture: %v", err)
		}
		return 0
	}))

	registerTableType(L)
	return doc
}

// luaAddTable implements doc:add_table(rows, cols) and doc:add_table(data)
// where data is a list of rows whose first row is the header.
func (c *Capabilities) luaAddTable(L *lua.LState, base int) int {
	var (
		t   *docx.Table
		err error
	)
	if data, ok := L.Get(base + 1).(*lua.LTable); ok {
		rows := tableRows(data)
		cols := 0
		for _, r := range rows {
			cols = max(cols, len(r))
		}
		if t, err = c.Doc.AddTable(len(rows), max(cols, 1)); err != nil {
			return argError(L, "add_table: %v", err)
		}
		for i, r := range rows {
			for j, cell := range r {
				t.SetCell(i, j, cell)
			}
		}
	} else {
		rows := L.CheckInt(base + 1)
		cols := L.CheckInt(base + 2)
		if t, err = c.Doc.AddTable(rows, cols); err != nil {
			return argError(L, "add_table: %v", err)
		}
	}
	if style := L.OptString(base+3, ""); style != "" {
		t.SetStyle(style)
	}

	ud := L.NewUserData()
	ud.Value = t
	L.SetMetatable(ud, L.GetTypeMetatable(tableTypeName))
	L.Push(ud)
	return 1
}

func tableRows(data *lua.LTable) [][]string {
	var rows [][]string
	for i := 1; i <= data.Len(); i++ {
		rt, ok := data.RawGetInt(i).(*lua.LTable)
		if !ok {
			continue
		}
		var row []string
		for j := 1; j <= rt.Len(); j++ {
			row = append(row, lua.LVAsString(rt.RawGetInt(j)))
		}
		rows = append(rows, row)
	}
	return rows
}

func registerTableType(L *lua.LState) {
	mt := L.NewTypeMetatable(tableTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"cell":      tableCell,
		"set":       tableSet,
		"add_row":   tableAddRow,
		"set_style": tableSetStyle,
		"rows":      func(L *lua.LState) int { L.Push(lua.LNumber(checkTable(L).Rows())); return 1 },
		"cols":      func(L *lua.LState) int { L.Push(lua.LNumber(checkTable(L).Cols())); return 1 },
	}))
}

func checkTable(L *lua.LState) *docx.Table {
	ud := L.CheckUserData(1)
	if t, ok := ud.Value.(*docx.Table); ok {
		return t
	}
	L.ArgError(1, "table expected")
	return nil
}

// tableCell implements t:cell(row, col) with 1-based indices.
func tableCell(L *lua.LState) int {
	t := checkTable(L)
	text, err := t.Cell(L.CheckInt(2)-1, L.CheckInt(3)-1)
	if err != nil {
		return argError(L, "cell: %v", err)
	}
	L.Push(lua.LString(text))
	return 1
}

func tableSet(L *lua.LState) int {
	t := checkTable(L)
	if err := t.SetCell(L.CheckInt(2)-1, L.CheckInt(3)-1, lua.LVAsString(L.Get(4))); err != nil {
		return argError(L, "set: %v", err)
	}
	return 0
}

// tableAddRow appends a row, optionally filled from a list, and returns its 1-based index.
func tableAddRow(L *lua.LState) int {
	t := checkTable(L)
	r, err := t.AddRow()
	if err != nil {
		return argError(L, "add_row: %v", err)
	}
	if values, ok := L.Get(2).(*lua.LTable); ok {
		for i := 1; i <= values.Len() && i <= t.Cols(); i++ {
			t.SetCell(r, i-1, lua.LVAsString(values.RawGetInt(i)))
		}
	}
	L.Push(lua.LNumber(r + 1))
	return 1
}

func tableSetStyle(L *lua.LState) int {
	checkTable(L).SetStyle(L.CheckString(2))
	return 0
}
