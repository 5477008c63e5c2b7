// Package analyzer slices a document script into diagram, table and chart
// snippets without running it.
package analyzer

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/mpataki/docforge/internal/models"
)

// Options tunes chart boundary detection.
type Options struct {
	// ChartLookback is how many preceding assignments a chart may absorb.
	ChartLookback int
	// ChartLookahead is how far a DataFrame may sit before its first plot call.
	ChartLookahead int

	Logger *slog.Logger
}

func DefaultOptions() Options {
	return Options{ChartLookback: 3, ChartLookahead: 4}
}

// Analyze returns the snippet package for script. It never fails: a script
// that does not parse yields an empty package.
func Analyze(script models.Script, opts Options) (pkg models.SnippetPackage) {
	pkg = models.NewSnippetPackage()
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("analyzer panic, returning empty package", "stage", script.Stage, "panic", r)
			pkg = models.NewSnippetPackage()
		}
	}()

	source := strings.ReplaceAll(script.Source, "\r\n", "\n")
	chunk, err := parse.Parse(strings.NewReader(source), "script")
	if err != nil {
		log.Info("script does not parse, no snippets", "stage", script.Stage, "error", err)
		return pkg
	}

	lines := strings.Split(source, "\n")
	s := newScanner(buildStatements(chunk, lines), lines, opts)
	return s.scan()
}

type scanner struct {
	stmts   []*statement
	lines   []string
	opts    Options
	claimed []bool

	// handles are names bound from plt.figure or plt.subplots.
	handles map[string]bool
}

func newScanner(stmts []*statement, lines []string, opts Options) *scanner {
	s := &scanner{
		stmts:   stmts,
		lines:   lines,
		opts:    opts,
		claimed: make([]bool, len(stmts)),
		handles: map[string]bool{},
	}
	for _, st := range stmts {
		if st.has("plt", "figure") || st.has("plt", "subplots") {
			for _, b := range st.binds {
				s.handles[b] = true
			}
		}
	}
	return s
}

// block is a half-open range of statement indexes.
type block struct {
	from, to int
}

func (s *scanner) scan() models.SnippetPackage {
	pkg := models.NewSnippetPackage()
	for i := 0; i < len(s.stmts); i++ {
		if s.claimed[i] {
			continue
		}
		var (
			b    block
			kind models.SnippetKind
			ok   bool
		)
		switch {
		case s.isDiagramStart(i):
			b, kind, ok = s.diagramBlock(i), models.SnippetDiagram, true
		case s.isTableStart(i):
			b, kind, ok = s.tableBlock(i), models.SnippetTable, true
		case s.isChartStart(i):
			b, ok = s.chartBlock(i)
			kind = models.SnippetChart
		}
		if !ok {
			continue
		}
		for j := b.from; j < b.to; j++ {
			s.claimed[j] = true
		}
		pkg = s.emit(pkg, kind, b)
		i = b.to - 1
	}
	return pkg
}

func (s *scanner) diagramBlock(i int) block {
	tracked := map[string]bool{}
	for _, n := range s.stmts[i].binds {
		tracked[n] = true
	}
	j := i + 1
	for ; j < len(s.stmts) && !s.claimed[j] && s.stmts[j].references(tracked); j++ {
		for _, n := range s.stmts[j].binds {
			tracked[n] = true
		}
	}
	if j < len(s.stmts) && !s.claimed[j] && s.isCaption(j) {
		j++
	}
	return block{i, j}
}

func (s *scanner) tableBlock(i int) block {
	tracked := map[string]bool{s.stmts[i].binds[0]: true}
	j := i + 1
	for j < len(s.stmts) && !s.claimed[j] && s.stmts[j].references(tracked) {
		j++
	}
	return block{i, j}
}

// chartBlock grows a chart around start. It reports false when no
// plt.close follows before a claimed statement or structural boundary.
func (s *scanner) chartBlock(start int) (block, bool) {
	from := start
	for k := 0; k < s.opts.ChartLookback && from > 0; k++ {
		p := from - 1
		if s.claimed[p] || s.isBoundary(p) || !s.stmts[p].isAssignment() || s.plots(p) {
			break
		}
		from = p
	}

	end := -1
	for j := start; j < len(s.stmts); j++ {
		if j > start && (s.claimed[j] || s.isBoundary(j)) {
			break
		}
		if s.closes(j) {
			end = j
			break
		}
	}
	if end < 0 {
		return block{}, false
	}

	bound := map[string]bool{}
	var targets []string
	for j := from; j <= end; j++ {
		for _, n := range s.stmts[j].binds {
			bound[n] = true
		}
		if t, ok := s.saveTarget(j); ok {
			targets = append(targets, stripExt(t))
		}
	}

	to := end + 1
	for to < len(s.stmts) && !s.claimed[to] && s.isPicture(to) && s.picturesBlock(to, bound, targets) {
		to++
		if to < len(s.stmts) && !s.claimed[to] && s.isCaption(to) {
			to++
		}
	}
	return block{from, to}, true
}

// picturesBlock reports whether the add_picture at i inserts an image the
// chart block produced.
func (s *scanner) picturesBlock(i int, bound map[string]bool, targets []string) bool {
	st := s.stmts[i]
	if st.references(bound) {
		return true
	}
	c, _ := st.find("doc", "add_picture")
	if len(c.args) == 0 {
		return false
	}
	lit, ok := firstString(c.args[0])
	if !ok {
		return false
	}
	for _, t := range targets {
		if strings.EqualFold(stripExt(path.Base(lit)), path.Base(t)) {
			return true
		}
	}
	return false
}

// saveTarget returns the file name given to plt.savefig or fig:savefig.
func (s *scanner) saveTarget(i int) (string, bool) {
	for _, c := range s.stmts[i].calls {
		if c.name != "savefig" || !(c.recv == "plt" || s.handles[c.recv]) || len(c.args) == 0 {
			continue
		}
		return firstString(c.args[0])
	}
	return "", false
}

func (s *scanner) emit(pkg models.SnippetPackage, kind models.SnippetKind, b block) models.SnippetPackage {
	first, last := s.stmts[b.from], s.stmts[b.to-1]
	snip := models.Snippet{
		Kind:      kind,
		StartLine: first.start,
		EndLine:   last.end,
		Code:      strings.Join(s.lines[first.start-1:last.end], "\n"),
	}
	switch kind {
	case models.SnippetDiagram:
		snip.ID = fmt.Sprintf("diagram_%d", len(pkg.Diagrams)+1)
		snip.Title = s.title(b, "Diagram", len(pkg.Diagrams)+1, s.diagramName)
		pkg.Diagrams = append(pkg.Diagrams, snip)
	case models.SnippetTable:
		snip.ID = fmt.Sprintf("table_%d", len(pkg.Tables)+1)
		snip.Title = s.title(b, "Table", len(pkg.Tables)+1, nil)
		pkg.Tables = append(pkg.Tables, snip)
	case models.SnippetChart:
		snip.ID = fmt.Sprintf("chart_%d", len(pkg.Charts)+1)
		snip.Title = s.title(b, "Chart", len(pkg.Charts)+1, s.saveTarget)
		pkg.Charts = append(pkg.Charts, snip)
	}
	return pkg
}

// title prefers a literal target name found by lookup, then the first
// bound variable name, then a numbered fallback.
func (s *scanner) title(b block, fallback string, n int, lookup func(int) (string, bool)) string {
	if lookup != nil {
		for j := b.from; j < b.to; j++ {
			if t, ok := lookup(j); ok {
				if title := normalizeTitle(t); title != "" {
					return title
				}
			}
		}
	}
	for j := b.from; j < b.to; j++ {
		for _, name := range s.stmts[j].binds {
			if title := normalizeTitle(name); title != "" {
				return title
			}
		}
	}
	return fmt.Sprintf("%s %d", fallback, n)
}

// diagramName returns the name passed to render_mermaid.
func (s *scanner) diagramName(i int) (string, bool) {
	c, ok := s.stmts[i].find("", "render_mermaid")
	if !ok || len(c.args) < 2 {
		return "", false
	}
	lit, ok := c.args[1].(*ast.StringExpr)
	if !ok {
		return "", false
	}
	return lit.Value, true
}
