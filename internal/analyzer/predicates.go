package analyzer

import "strings"

var mermaidKeywords = []string{
	"flowchart", "graph", "sequenceDiagram", "gantt", "classDiagram",
	"stateDiagram", "stateDiagram-v2", "erDiagram", "pie", "journey",
	"mindmap", "timeline", "gitGraph", "quadrantChart",
}

var diagramPrefixes = []string{"mermaid", "diagram"}

var drawCalls = map[string]bool{
	"bar": true, "barh": true, "line": true, "plot": true, "scatter": true,
	"heatmap": true, "hist": true, "histogram": true, "box": true,
	"boxplot": true, "violin": true, "violinplot": true, "pie": true,
}

func isMermaid(text string) bool {
	t := strings.TrimSpace(text)
	word := t
	if i := strings.IndexAny(t, " \t\r\n;"); i >= 0 {
		word = t[:i]
	}
	for _, k := range mermaidKeywords {
		if word == k {
			return true
		}
	}
	return false
}

// isDiagramStart matches an assignment of a multi-line string that names
// or looks like a Mermaid diagram.
func (s *scanner) isDiagramStart(i int) bool {
	st := s.stmts[i]
	if !st.isAssignment() || len(st.binds) != 1 || !strings.Contains(st.literal, "\n") {
		return false
	}
	name := strings.ToLower(st.binds[0])
	for _, p := range diagramPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return isMermaid(st.literal)
}

// isTableStart matches t = doc:add_table(...) or doc.add_table(doc, ...)
// bound to exactly one name.
func (s *scanner) isTableStart(i int) bool {
	st := s.stmts[i]
	return st.isAssignment() && len(st.binds) == 1 && st.has("doc", "add_table")
}

// isChartStart matches a plot setup call, a draw call, or a DataFrame
// assignment followed within the lookahead window by a plotting call.
func (s *scanner) isChartStart(i int) bool {
	if s.plots(i) {
		return true
	}
	st := s.stmts[i]
	if !st.isAssignment() || !st.has("pd", "DataFrame") {
		return false
	}
	for j := i + 1; j < len(s.stmts) && j <= i+s.opts.ChartLookahead; j++ {
		if s.claimed[j] || s.isBoundary(j) {
			return false
		}
		if s.plots(j) {
			return true
		}
	}
	return false
}

// plots reports whether statement i sets up a figure or draws on one.
func (s *scanner) plots(i int) bool {
	for _, c := range s.stmts[i].calls {
		if c.recv == "plt" && (c.name == "figure" || c.name == "subplots") {
			return true
		}
		if drawCalls[c.name] && (c.recv == "plt" || s.handles[c.recv]) {
			return true
		}
	}
	return false
}

func (s *scanner) closes(i int) bool {
	return s.stmts[i].has("plt", "close")
}

// isBoundary reports structural calls no chart extends across.
func (s *scanner) isBoundary(i int) bool {
	st := s.stmts[i]
	return st.has("doc", "add_heading") || st.has("doc", "add_page_break")
}

func (s *scanner) isCaption(i int) bool {
	st := s.stmts[i]
	return st.has("", "add_caption") || st.has("doc", "add_caption")
}

func (s *scanner) isPicture(i int) bool {
	return s.stmts[i].has("doc", "add_picture")
}
