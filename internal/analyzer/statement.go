package analyzer

import (
	"strings"

	"github.com/yuin/gopher-lua/ast"
)

// call is one function or method invocation found in a statement.
type call struct {
	recv string // root identifier of the receiver, "" for plain function calls
	name string
	args []ast.Expr
}

// statement is a top-level statement with the facts the predicates need.
type statement struct {
	node  ast.Stmt
	start int
	end   int

	binds []string
	refs  map[string]bool
	calls []call

	// literal is the string assigned by a single-name assignment, if any.
	literal string
}

func (s *statement) references(names map[string]bool) bool {
	for n := range names {
		if s.refs[n] {
			return true
		}
	}
	return false
}

func (s *statement) has(recv, name string) bool {
	for _, c := range s.calls {
		if c.recv == recv && c.name == name {
			return true
		}
	}
	return false
}

func (s *statement) find(recv, name string) (call, bool) {
	for _, c := range s.calls {
		if c.recv == recv && c.name == name {
			return c, true
		}
	}
	return call{}, false
}

func (s *statement) isAssignment() bool {
	switch s.node.(type) {
	case *ast.AssignStmt, *ast.LocalAssignStmt:
		return true
	}
	return false
}

// buildStatements turns parsed chunks into statement records with line
// ranges computed against the source lines.
func buildStatements(chunk []ast.Stmt, lines []string) []*statement {
	stmts := make([]*statement, 0, len(chunk))
	prev := 1
	for _, n := range chunk {
		start := n.Line()
		if start < prev || start > len(lines) {
			start = prev
		}
		prev = start
		s := &statement{node: n, start: start, refs: map[string]bool{}}
		w := walker{s: s}
		w.stmt(n, true)
		stmts = append(stmts, s)
	}
	for i, s := range stmts {
		end := len(lines)
		if i+1 < len(stmts) {
			end = stmts[i+1].start - 1
		}
		for end > s.start && isFiller(lines[end-1]) {
			end--
		}
		s.end = max(end, s.start)
	}
	return stmts
}

func isFiller(line string) bool {
	t := strings.TrimSpace(line)
	return t == "" || strings.HasPrefix(t, "--")
}

type walker struct {
	s *statement
}

func (w walker) stmt(n ast.Stmt, top bool) {
	switch st := n.(type) {
	case *ast.LocalAssignStmt:
		if top {
			w.s.binds = append(w.s.binds, st.Names...)
			if len(st.Names) == 1 && len(st.Exprs) == 1 {
				if lit, ok := st.Exprs[0].(*ast.StringExpr); ok {
					w.s.literal = lit.Value
				}
			}
		}
		w.exprs(st.Exprs)
	case *ast.AssignStmt:
		for _, lhs := range st.Lhs {
			if id, ok := lhs.(*ast.IdentExpr); ok {
				if top {
					w.s.binds = append(w.s.binds, id.Value)
				}
				continue
			}
			w.expr(lhs)
		}
		if top && len(st.Lhs) == 1 && len(st.Rhs) == 1 {
			if lit, ok := st.Rhs[0].(*ast.StringExpr); ok {
				w.s.literal = lit.Value
			}
		}
		w.exprs(st.Rhs)
	case *ast.FuncCallStmt:
		w.expr(st.Expr)
	case *ast.DoBlockStmt:
		w.stmts(st.Stmts)
	case *ast.WhileStmt:
		w.expr(st.Condition)
		w.stmts(st.Stmts)
	case *ast.RepeatStmt:
		w.stmts(st.Stmts)
		w.expr(st.Condition)
	case *ast.IfStmt:
		w.expr(st.Condition)
		w.stmts(st.Then)
		w.stmts(st.Else)
	case *ast.NumberForStmt:
		w.expr(st.Init)
		w.expr(st.Limit)
		w.expr(st.Step)
		w.stmts(st.Stmts)
	case *ast.GenericForStmt:
		w.exprs(st.Exprs)
		w.stmts(st.Stmts)
	case *ast.FuncDefStmt:
		if st.Name != nil {
			if id, ok := st.Name.Func.(*ast.IdentExpr); ok && top && st.Name.Receiver == nil {
				w.s.binds = append(w.s.binds, id.Value)
			} else {
				w.expr(st.Name.Func)
				w.expr(st.Name.Receiver)
			}
		}
		if st.Func != nil {
			w.stmts(st.Func.Stmts)
		}
	case *ast.ReturnStmt:
		w.exprs(st.Exprs)
	}
}

func (w walker) stmts(list []ast.Stmt) {
	for _, n := range list {
		w.stmt(n, false)
	}
}

func (w walker) exprs(list []ast.Expr) {
	for _, e := range list {
		w.expr(e)
	}
}

func (w walker) expr(e ast.Expr) {
	switch ex := e.(type) {
	case nil:
	case *ast.IdentExpr:
		w.s.refs[ex.Value] = true
	case *ast.AttrGetExpr:
		w.expr(ex.Object)
		if _, ok := ex.Key.(*ast.StringExpr); !ok {
			w.expr(ex.Key)
		}
	case *ast.FuncCallExpr:
		c := call{args: ex.Args}
		if ex.Method != "" {
			c.recv, c.name = rootName(ex.Receiver), ex.Method
			w.expr(ex.Receiver)
		} else {
			switch fn := ex.Func.(type) {
			case *ast.IdentExpr:
				c.name = fn.Value
			case *ast.AttrGetExpr:
				if key, ok := fn.Key.(*ast.StringExpr); ok {
					c.recv, c.name = rootName(fn.Object), key.Value
				}
			}
			w.expr(ex.Func)
		}
		w.s.calls = append(w.s.calls, c)
		w.exprs(ex.Args)
	case *ast.TableExpr:
		for _, f := range ex.Fields {
			if _, ok := f.Key.(*ast.StringExpr); !ok {
				w.expr(f.Key)
			}
			w.expr(f.Value)
		}
	case *ast.LogicalOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.RelationalOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.StringConcatOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.ArithmeticOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.UnaryMinusOpExpr:
		w.expr(ex.Expr)
	case *ast.UnaryNotOpExpr:
		w.expr(ex.Expr)
	case *ast.UnaryLenOpExpr:
		w.expr(ex.Expr)
	case *ast.FunctionExpr:
		w.stmts(ex.Stmts)
	}
}

// rootName returns the leftmost identifier of a receiver chain such as
// fig.axes[1] or doc.
func rootName(e ast.Expr) string {
	switch ex := e.(type) {
	case *ast.IdentExpr:
		return ex.Value
	case *ast.AttrGetExpr:
		return rootName(ex.Object)
	case *ast.FuncCallExpr:
		if ex.Receiver != nil {
			return rootName(ex.Receiver)
		}
		return rootName(ex.Func)
	}
	return ""
}

// firstString returns the first string literal found in e, searching
// nested calls and concatenations left to right.
func firstString(e ast.Expr) (string, bool) {
	switch ex := e.(type) {
	case *ast.StringExpr:
		return ex.Value, true
	case *ast.FuncCallExpr:
		for _, a := range ex.Args {
			if s, ok := firstString(a); ok {
				return s, true
			}
		}
	case *ast.StringConcatOpExpr:
		if s, ok := firstString(ex.Lhs); ok {
			return s, true
		}
		return firstString(ex.Rhs)
	}
	return "", false
}
