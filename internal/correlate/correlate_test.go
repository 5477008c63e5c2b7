package correlate

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mpataki/docforge/internal/docx"
	"github.com/mpataki/docforge/internal/logging"
	"github.com/mpataki/docforge/internal/models"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func asset(name string) models.Asset {
	return models.Asset{Filename: name, Payload: []byte(name), ContentType: "image/png"}
}

func TestExactNameWinsAndIsClaimedOnce(t *testing.T) {
	pkg := models.NewSnippetPackage()
	pkg.Charts = []models.Snippet{
		{ID: "chart_1", Title: "Other", Code: `plt.bar({1}, {2})
plt.savefig("x.png")
plt.close()`},
		{ID: "chart_2", Title: "Unrelated", Code: `plt.savefig("X")
plt.close()`},
	}
	out := Correlate(pkg, NewAssetDirectory(asset("y.png"), asset("x.png")), nil, logging.Discard())

	if got := out.Charts[0].AssetFilename; got != "x.png" {
		t.Errorf("chart_1 bound to %q, want x.png", got)
	}
	if got := out.Charts[1].AssetFilename; got != "y.png" {
		t.Errorf("chart_2 bound to %q, want the remaining y.png", got)
	}
	if pkg.Charts[0].Asset != nil {
		t.Error("input package was modified")
	}
}

func TestTitleSubstringPass(t *testing.T) {
	pkg := models.NewSnippetPackage()
	pkg.Diagrams = []models.Snippet{
		{ID: "diagram_1", Title: "System Architecture", Code: `render_mermaid(src)`},
	}
	pkg.Charts = []models.Snippet{
		{ID: "chart_1", Title: "Budget", Code: `plt.savefig(name)`},
	}
	dir := NewAssetDirectory(asset("a_first.png"), asset("q3_budget_split.png"), asset("system-architecture.png"))
	out := Correlate(pkg, dir, nil, logging.Discard())

	if got := out.Diagrams[0].AssetFilename; got != "system-architecture.png" {
		t.Errorf("diagram bound to %q", got)
	}
	if got := out.Charts[0].AssetFilename; got != "q3_budget_split.png" {
		t.Errorf("chart bound to %q", got)
	}
}

func TestMoreSnippetsThanAssets(t *testing.T) {
	pkg := models.NewSnippetPackage()
	pkg.Charts = []models.Snippet{{ID: "chart_1"}, {ID: "chart_2"}}
	out := Correlate(pkg, NewAssetDirectory(asset("only.png")), nil, logging.Discard())
	if out.Charts[0].AssetFilename != "only.png" || out.Charts[1].Asset != nil {
		t.Errorf("bindings = %q, %v", out.Charts[0].AssetFilename, out.Charts[1].Asset)
	}
}

func TestCandidates(t *testing.T) {
	code := `local p = render_mermaid(flow, "architecture")
plt.savefig(output_dir:join("growth.png"))
doc:add_picture('Growth.PNG')
doc:add_picture("/abs/path/logo.jpg")`
	got := candidates(code)
	want := []string{"architecture.png", "growth.png", "logo.jpg"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("candidates = %v, want %v", got, want)
	}
}

func TestLoadAssets(t *testing.T) {
	root := t.TempDir()
	images := filepath.Join(root, "image_assets")
	diagrams := filepath.Join(root, "diagrams")
	for _, dir := range []string{images, diagrams} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	img := pngBytes(t)
	files := map[string][]byte{
		filepath.Join(images, "b_chart.png"):  img,
		filepath.Join(images, "notes.txt"):    []byte("skip me"),
		filepath.Join(diagrams, "a_flow.png"): img,
		filepath.Join(diagrams, "logo.svg"):   []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`),
	}
	for p, data := range files {
		if err := os.WriteFile(p, data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	d, err := LoadAssets(images, diagrams, filepath.Join(root, "missing"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Len() != 3 {
		t.Fatalf("len = %d, want 3", d.Len())
	}
	names := []string{d.assets[0].Filename, d.assets[1].Filename, d.assets[2].Filename}
	if strings.Join(names, ",") != "a_flow.png,b_chart.png,logo.svg" {
		t.Errorf("order = %v", names)
	}
	if d.assets[0].ContentType != "image/png" || d.assets[2].ContentType != "image/svg+xml" {
		t.Errorf("content types = %q, %q", d.assets[0].ContentType, d.assets[2].ContentType)
	}
}

func buildDocument(t *testing.T) []byte {
	t.Helper()
	doc := docx.New()
	doc.AddParagraph("intro", "")
	first, err := doc.AddTable(2, 2)
	if err != nil {
		t.Fatal(err)
	}
	first.SetCell(0, 0, "Phase")
	first.SetCell(0, 1, "Weeks")
	first.SetCell(1, 0, "<b>Build</b>")
	first.SetCell(1, 1, "6")
	second, err := doc.AddTable(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	second.SetCell(0, 0, "Risk")
	data, err := doc.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestTablePreviews(t *testing.T) {
	pkg := models.NewSnippetPackage()
	pkg.Tables = []models.Snippet{{ID: "table_1"}, {ID: "table_2"}, {ID: "table_3"}}
	out := Correlate(pkg, nil, buildDocument(t), logging.Discard())

	first := out.Tables[0].HTMLPreview
	for _, want := range []string{
		`<table class="docforge-table">`,
		`<th class="docforge-table-header">Phase</th>`,
		`<td class="docforge-table-cell">&lt;b&gt;Build&lt;/b&gt;</td>`,
	} {
		if !strings.Contains(first, want) {
			t.Errorf("preview missing %s:\n%s", want, first)
		}
	}
	if !strings.Contains(out.Tables[1].HTMLPreview, "Risk") {
		t.Errorf("second preview = %q", out.Tables[1].HTMLPreview)
	}
	if out.Tables[2].HTMLPreview != "" {
		t.Error("third snippet has no matching table and must stay empty")
	}
}

func TestUnreadableArtifactDegrades(t *testing.T) {
	pkg := models.NewSnippetPackage()
	pkg.Tables = []models.Snippet{{ID: "table_1"}}
	out := Correlate(pkg, nil, []byte("not a document"), logging.Discard())
	if len(out.Tables) != 1 || out.Tables[0].HTMLPreview != "" {
		t.Errorf("tables = %+v", out.Tables)
	}
}

func TestMarkdown(t *testing.T) {
	pkg := models.NewSnippetPackage()
	pkg.Tables = []models.Snippet{{ID: "table_1", Title: "Plan", Code: "local t = doc:add_table(2, 2)", StartLine: 3, EndLine: 3}}
	out := Correlate(pkg, nil, buildDocument(t), logging.Discard())

	md, err := Markdown(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"## Plan (table_1)", "Lines 3-3", "```lua", "Phase", "Weeks", "|"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}
