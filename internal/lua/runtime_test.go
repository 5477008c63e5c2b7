package lua

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/docforge/internal/diagram"
	"github.com/mpataki/docforge/internal/logging"
)

func onePixelPNG() []byte {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(0, 0, color.Black)
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func fakeRenderer() diagram.Renderer {
	return diagram.RendererFunc(func(context.Context, string) ([]byte, error) {
		return onePixelPNG(), nil
	})
}

func newCaps(t *testing.T) (*Capabilities, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	caps := NewCapabilities(t.TempDir(), fakeRenderer(), &stdout, &stderr, logging.Discard())
	return caps, &stdout, &stderr
}

func TestExecuteBuildsDocument(t *testing.T) {
	caps, stdout, _ := newCaps(t)
	script := `
doc:add_heading("Proposal", 0)
doc:add_paragraph("Intro")

local pricing = doc:add_table(1, 2)
pricing:set(1, 1, "Item")
pricing:set(1, 2, "Cost")
pricing:add_row({"Build", 1200})
pricing:set_style("Light Grid Accent 1")

local df = pd.DataFrame{Quarter = {"Q1", "Q2", "Q3"}, Revenue = {10, 14, 12}}
plt.figure{width = 640, height = 480}
plt.bar(df.Quarter, df.Revenue)
plt.title("Revenue")
local chart = plt.savefig("revenue.png")
plt.close()
doc:add_picture(chart, 5)
add_caption("Figure 1: Revenue")

local flow = render_mermaid([[
graph TD
  A --> B
]], "flow")
doc:add_picture(flow)
print("rows", pricing:rows(), np.sum({1, 2, 3}))
`
	if err := NewRuntime(caps).Execute(context.Background(), script); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	counts := caps.Doc.Counts()
	if counts.Headings != 1 || counts.Tables != 1 || counts.Pictures != 2 {
		t.Errorf("counts = %+v", counts)
	}
	if caps.Charts() != 1 || caps.DiagramsRendered() != 1 {
		t.Errorf("charts=%d diagrams=%d", caps.Charts(), caps.DiagramsRendered())
	}
	for _, p := range []string{
		filepath.Join(caps.OutputDir, ImageAssetsDir, "revenue.png"),
		filepath.Join(caps.OutputDir, DiagramsDir, "flow.png"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected asset %s: %v", p, err)
		}
	}
	if got := strings.TrimSpace(stdout.String()); got != "rows\t2\t6" {
		t.Errorf("stdout = %q", got)
	}
}

func TestDangerousGlobalsAreAbsent(t *testing.T) {
	caps, stdout, _ := newCaps(t)
	script := `
for _, name in ipairs({"os", "io", "debug", "package", "require", "module", "load", "loadstring", "dofile", "loadfile", "collectgarbage", "setfenv"}) do
  if _G[name] ~= nil then print(name) end
end
if math.random ~= nil then print("math.random") end
`
	if err := NewRuntime(caps).Execute(context.Background(), script); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if stdout.Len() != 0 {
		t.Errorf("globals still reachable: %q", stdout.String())
	}
}

func TestModuleLoadersCannotBeAliased(t *testing.T) {
	for _, script := range []string{
		"local r = require\nr('os')",
		"local m = module\nm('x')",
		"require('io')",
	} {
		t.Run(script, func(t *testing.T) {
			caps, _, _ := newCaps(t)
			if err := NewRuntime(caps).Execute(context.Background(), script); err == nil {
				t.Fatalf("script %q ran without error", script)
			}
		})
	}
}

func TestOversizedOutputIsRejected(t *testing.T) {
	for _, script := range []string{
		"doc:add_table(1000000, 1000)",
		"plt.figure(100000, 100000)",
		"plt.figure{width = 5000, height = 400}",
		"local fig, ax = plt.subplots(800, 40000)",
	} {
		t.Run(script, func(t *testing.T) {
			caps, _, _ := newCaps(t)
			err := NewRuntime(caps).Execute(context.Background(), script)
			if err == nil || !strings.Contains(err.Error(), "exceeds") {
				t.Fatalf("err = %v, want limit error", err)
			}
		})
	}
}

func TestChartInputErrorsAreDescriptive(t *testing.T) {
	tests := []struct {
		script string
		want   string
	}{
		{"plt.hist({0/0, 1, 2})", "hist: value 1 is NaN"},
		{"plt.plot({1, 2}, {1, math.huge})", "line: value 2 is infinite"},
		{"plt.bar({'a'}, {1})\nplt.bar({'b'}, {2})", "figure already has a bar series"},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			caps, _, _ := newCaps(t)
			err := NewRuntime(caps).Execute(context.Background(), tt.script)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestSyntaxErrorIsApiSyntax(t *testing.T) {
	caps, _, _ := newCaps(t)
	err := NewRuntime(caps).Execute(context.Background(), "doc:add_heading(\n\nlocal = 3")
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) || apiErr.Type != lua.ApiErrorSyntax {
		t.Fatalf("err = %#v, want syntax ApiError", err)
	}
}

func TestUndefinedGlobalCall(t *testing.T) {
	caps, _, _ := newCaps(t)
	err := NewRuntime(caps).Execute(context.Background(), "doc:add_heading('x')\nsns.barplot({})\n")
	if err == nil || !strings.Contains(err.Error(), "nil") {
		t.Fatalf("err = %v", err)
	}
}

func TestContextInterruptsLoop(t *testing.T) {
	caps, _, _ := newCaps(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewRuntime(caps).Execute(ctx, "while true do end")
	if err == nil {
		t.Fatal("expected interruption")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("interruption took %v", time.Since(start))
	}
}

func TestPicturesCannotEscapeOutputDir(t *testing.T) {
	caps, _, _ := newCaps(t)
	err := NewRuntime(caps).Execute(context.Background(), `doc:add_picture("../../etc/passwd")`)
	if err == nil || !strings.Contains(err.Error(), "outside the output directory") {
		t.Fatalf("err = %v", err)
	}
}

func TestSavefigRejectsBadNames(t *testing.T) {
	caps, _, _ := newCaps(t)
	script := `plt.bar({"a", "b"}, {1, 2})
plt.savefig("chart.svg")`
	if err := NewRuntime(caps).Execute(context.Background(), script); err == nil {
		t.Fatal("expected extension error")
	}
	if caps.Charts() != 0 {
		t.Error("rejected savefig must not count")
	}
}

func TestCheckOutputName(t *testing.T) {
	valid := []string{"chart.png", "q3_revenue-by-region", "A1.PNG"}
	for _, n := range valid {
		if err := CheckOutputName(n, ".png"); err != nil {
			t.Errorf("%q: %v", n, err)
		}
	}
	invalid := []string{"", "../x.png", "a/b.png", "sp ace.png", "x.exe", strings.Repeat("a", 101)}
	for _, n := range invalid {
		if err := CheckOutputName(n, ".png"); err == nil {
			t.Errorf("%q should be rejected", n)
		}
	}
}

func TestSubplotsDrawOnTheirFigure(t *testing.T) {
	caps, _, _ := newCaps(t)
	script := `
local fig, ax = plt.subplots(800, 400)
ax:plot({1, 2, 3}, {3, 1, 2}, "trend")
ax:set_title("Trend")
plt.savefig(output_dir:join("trend.png"))
plt.close()
`
	if err := NewRuntime(caps).Execute(context.Background(), script); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if caps.Charts() != 1 {
		t.Errorf("charts = %d", caps.Charts())
	}
	if caps.Close() != 0 {
		t.Error("closed figure reported as open")
	}
}
