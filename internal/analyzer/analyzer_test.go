package analyzer

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/mpataki/docforge/internal/logging"
	"github.com/mpataki/docforge/internal/models"
)

func analyze(src string) models.SnippetPackage {
	opts := DefaultOptions()
	opts.Logger = logging.Discard()
	return Analyze(models.Script{Source: src, Stage: models.StageFinal}, opts)
}

const financeScript = `doc:add_heading("Financials", 1)
local quarters = {"Q1", "Q2", "Q3"}
local df = pd.DataFrame{quarter = quarters, revenue = {10, 12, 15}}
plt.figure(8, 5)
plt.bar(df:col("quarter"), df:col("revenue"))
plt.savefig("revenue_by_quarter")
plt.close()
doc:add_picture("revenue_by_quarter.png")
add_caption("Figure 1: Revenue")
doc:add_paragraph("Next section")
`

func TestChartBlock(t *testing.T) {
	pkg := analyze(financeScript)
	if len(pkg.Charts) != 1 || len(pkg.Tables) != 0 || len(pkg.Diagrams) != 0 {
		t.Fatalf("got %d charts, %d tables, %d diagrams", len(pkg.Charts), len(pkg.Tables), len(pkg.Diagrams))
	}
	c := pkg.Charts[0]
	if c.ID != "chart_1" || c.Kind != models.SnippetChart {
		t.Errorf("id=%q kind=%q", c.ID, c.Kind)
	}
	if c.Title != "Revenue By Quarter" {
		t.Errorf("title = %q", c.Title)
	}
	if c.StartLine != 2 || c.EndLine != 9 {
		t.Errorf("lines = %d-%d, want 2-9", c.StartLine, c.EndLine)
	}
	if !strings.HasPrefix(c.Code, "local quarters") || !strings.HasSuffix(c.Code, `add_caption("Figure 1: Revenue")`) {
		t.Errorf("code = %q", c.Code)
	}
}

func TestChartSpansDataFrameSetupDrawClose(t *testing.T) {
	src := `local df = pd.DataFrame{month = {"Jan", "Feb"}, sales = {3, 4}}
plt.figure()
plt.line(df:col("month"), df:col("sales"))
plt.savefig(output_dir:join("monthly-sales.png"))
plt.close()`
	pkg := analyze(src)
	if len(pkg.Charts) != 1 {
		t.Fatalf("charts = %d", len(pkg.Charts))
	}
	c := pkg.Charts[0]
	if c.StartLine != 1 || c.EndLine != 5 || c.Code != src {
		t.Errorf("lines %d-%d code %q", c.StartLine, c.EndLine, c.Code)
	}
	if c.Title != "Monthly Sales" {
		t.Errorf("title = %q", c.Title)
	}
}

func TestChartWithoutCloseIsUnclassified(t *testing.T) {
	pkg := analyze(`plt.bar({"a", "b"}, {1, 2})
plt.savefig("orphan")
doc:add_picture("orphan.png")
`)
	if len(pkg.Charts) != 0 {
		t.Errorf("charts = %+v", pkg.Charts)
	}
}

func TestChartStopsAtHeading(t *testing.T) {
	pkg := analyze(`plt.figure()
plt.bar({"a"}, {1})
doc:add_heading("Elsewhere", 2)
plt.close()
`)
	if len(pkg.Charts) != 0 {
		t.Errorf("a heading inside an unclosed figure must not be absorbed: %+v", pkg.Charts)
	}
}

func TestChartLookback(t *testing.T) {
	src := `local a = 1
local b = 2
local c = 3
local d = 4
local e = 5
plt.figure()
plt.bar({"x"}, {a + b + c + d + e})
plt.close()
`
	tests := []struct {
		lookback  int
		wantStart int
	}{
		{3, 3},
		{1, 5},
		{0, 6},
	}
	for _, tt := range tests {
		opts := Options{ChartLookback: tt.lookback, ChartLookahead: 4, Logger: logging.Discard()}
		pkg := Analyze(models.Script{Source: src}, opts)
		if len(pkg.Charts) != 1 {
			t.Fatalf("lookback %d: charts = %d", tt.lookback, len(pkg.Charts))
		}
		if got := pkg.Charts[0].StartLine; got != tt.wantStart {
			t.Errorf("lookback %d: start = %d, want %d", tt.lookback, got, tt.wantStart)
		}
	}
}

func TestDataFrameBeyondLookahead(t *testing.T) {
	src := `local df = pd.DataFrame{v = {1, 2}}
doc:add_paragraph("one")
doc:add_paragraph("two")
doc:add_paragraph("three")
doc:add_paragraph("four")
doc:add_paragraph("five")
plt.figure()
plt.hist(df:col("v"))
plt.close()
`
	pkg := analyze(src)
	if len(pkg.Charts) != 1 {
		t.Fatalf("charts = %d", len(pkg.Charts))
	}
	if pkg.Charts[0].StartLine != 7 {
		t.Errorf("start = %d, want 7", pkg.Charts[0].StartLine)
	}
}

func TestSubplotHandles(t *testing.T) {
	src := `local fig, ax = plt.subplots()
ax:line({1, 2, 3}, {4, 5, 6})
ax:set_title("Trend")
plt.savefig("trend")
plt.close()

doc:add_paragraph("between")

ax:scatter({1, 2}, {2, 1})
plt.savefig("spread.png")
plt.close()
`
	pkg := analyze(src)
	if len(pkg.Charts) != 2 {
		t.Fatalf("charts = %d", len(pkg.Charts))
	}
	want := []struct {
		id, title  string
		start, end int
	}{
		{"chart_1", "Trend", 1, 5},
		{"chart_2", "Spread", 9, 11},
	}
	for i, w := range want {
		c := pkg.Charts[i]
		if c.ID != w.id || c.Title != w.title || c.StartLine != w.start || c.EndLine != w.end {
			t.Errorf("chart %d = %s %q %d-%d, want %s %q %d-%d", i, c.ID, c.Title, c.StartLine, c.EndLine, w.id, w.title, w.start, w.end)
		}
	}
}

func TestTableBlock(t *testing.T) {
	src := `doc:add_heading("Plan", 1)
local budget_table = doc:add_table({{"Phase", "Weeks"}, {"Build", 6}})
budget_table:add_row({"Test", 2})
for i = 1, 2 do
  budget_table:set(i, 1, "x")
end

doc:add_paragraph("after")
`
	pkg := analyze(src)
	if len(pkg.Tables) != 1 {
		t.Fatalf("tables = %d", len(pkg.Tables))
	}
	tb := pkg.Tables[0]
	if tb.ID != "table_1" || tb.Title != "Budget Table" {
		t.Errorf("id=%q title=%q", tb.ID, tb.Title)
	}
	if tb.StartLine != 2 || tb.EndLine != 6 {
		t.Errorf("lines = %d-%d, want 2-6", tb.StartLine, tb.EndLine)
	}
}

func TestTableCalledWithExplicitSelf(t *testing.T) {
	pkg := analyze(`local risks = doc.add_table(doc, 3, 2)
risks:set(1, 1, "Risk")
`)
	if len(pkg.Tables) != 1 || pkg.Tables[0].EndLine != 2 {
		t.Errorf("tables = %+v", pkg.Tables)
	}
}

func TestDiagramBlock(t *testing.T) {
	src := `local mermaid_arch = [[
graph TD
  A --> B
]]
local path = render_mermaid(mermaid_arch, "system_architecture")
doc:add_picture(path)
add_caption("Figure 2: Architecture")
doc:add_paragraph("done")
`
	pkg := analyze(src)
	if len(pkg.Diagrams) != 1 {
		t.Fatalf("diagrams = %d", len(pkg.Diagrams))
	}
	d := pkg.Diagrams[0]
	if d.ID != "diagram_1" || d.Title != "System Architecture" {
		t.Errorf("id=%q title=%q", d.ID, d.Title)
	}
	if d.StartLine != 1 || d.EndLine != 7 {
		t.Errorf("lines = %d-%d, want 1-7", d.StartLine, d.EndLine)
	}
}

func TestDiagramDetectedByContent(t *testing.T) {
	pkg := analyze(`local flow = [[
sequenceDiagram
  A->>B: hello
]]
local notes = [[
just some
prose
]]
`)
	if len(pkg.Diagrams) != 1 || pkg.Diagrams[0].Title != "Flow" {
		t.Errorf("diagrams = %+v", pkg.Diagrams)
	}
}

func TestSyntaxErrorYieldsEmptyPackage(t *testing.T) {
	pkg := analyze("local = = 3\nplt.figure(\n")
	if pkg.Len() != 0 {
		t.Errorf("len = %d", pkg.Len())
	}
	data, err := json.Marshal(pkg)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"diagrams":[],"tables":[],"charts":[]}` {
		t.Errorf("json = %s", data)
	}
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	src := financeScript + `
local mermaid_flow = [[
flowchart LR
  a --> b
]]
render_mermaid(mermaid_flow, "flow")
local t = doc:add_table(2, 2)
t:set(1, 1, "a")
`
	first := analyze(src)
	second := analyze(src)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("analysis differs between runs:\n%+v\n%+v", first, second)
	}
	if first.Len() != 3 {
		t.Errorf("len = %d, want 3", first.Len())
	}
}

func TestIsMermaid(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"  flowchart LR\n a-->b", true},
		{"stateDiagram-v2\n[*] --> A", true},
		{"graph TD;A-->B", true},
		{"graphs are fun", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isMermaid(tt.text); got != tt.want {
			t.Errorf("isMermaid(%q) = %v", tt.text, got)
		}
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := map[string]string{
		"q3_revenue-chart.png":     "Q3 Revenue Chart",
		"system.architecture":      "System Architecture",
		"/tmp/out/budget_plan.PNG": "Budget Plan",
		"__":                       "",
		"TIMELINE":                 "Timeline",
	}
	for in, want := range tests {
		if got := normalizeTitle(in); got != want {
			t.Errorf("normalizeTitle(%q) = %q, want %q", in, got, want)
		}
	}
}
