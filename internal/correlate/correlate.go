// Package correlate binds analyzed snippets to the images and tables a
// script actually produced.
package correlate

import (
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/mpataki/docforge/internal/docx"
	"github.com/mpataki/docforge/internal/models"
)

var (
	imageLiteral = regexp.MustCompile(`(?i)["']([^"'\n]+\.(?:png|jpe?g|gif|svg))["']`)
	mermaidName  = regexp.MustCompile(`render_mermaid\s*\([^,]*,\s*["']([^"'\n]+)["']`)
	savefigName  = regexp.MustCompile(`savefig\s*\(\s*(?:output_dir\s*[:.]\s*join\s*\(\s*)?["']([^"'\n]+)["']`)
)

// Correlate returns a copy of pkg with assets bound to diagram and chart
// snippets and HTML previews attached to table snippets. artifact is the
// rendered document; when it cannot be read tables get no preview.
func Correlate(pkg models.SnippetPackage, assets *AssetDirectory, artifact []byte, logger *slog.Logger) models.SnippetPackage {
	if logger == nil {
		logger = slog.Default()
	}
	out := models.SnippetPackage{
		Diagrams: clone(pkg.Diagrams),
		Tables:   clone(pkg.Tables),
		Charts:   clone(pkg.Charts),
	}

	visual := make([]*models.Snippet, 0, len(out.Diagrams)+len(out.Charts))
	for i := range out.Diagrams {
		visual = append(visual, &out.Diagrams[i])
	}
	for i := range out.Charts {
		visual = append(visual, &out.Charts[i])
	}
	bindAssets(visual, newPool(assets))

	bindTables(out.Tables, artifact, logger)
	return out
}

func clone(in []models.Snippet) []models.Snippet {
	out := make([]models.Snippet, len(in))
	copy(out, in)
	return out
}

// bindAssets runs three passes: exact filename, title substring, then any
// unclaimed asset. An asset is claimed at most once.
func bindAssets(snippets []*models.Snippet, p *pool) {
	for _, s := range snippets {
		names := candidates(s.Code)
		if a := p.claim(func(a *models.Asset) bool {
			for _, n := range names {
				if strings.EqualFold(n, a.Filename) {
					return true
				}
			}
			return false
		}); a != nil {
			s.Bind(a)
		}
	}
	for _, s := range snippets {
		title := normalize(s.Title)
		if s.Asset != nil || title == "" {
			continue
		}
		if a := p.claim(func(a *models.Asset) bool {
			return strings.Contains(normalize(a.Filename), title)
		}); a != nil {
			s.Bind(a)
		}
	}
	for _, s := range snippets {
		if s.Asset != nil {
			continue
		}
		if a := p.claim(func(*models.Asset) bool { return true }); a != nil {
			s.Bind(a)
		}
	}
}

// candidates lists the image file names a snippet refers to.
func candidates(code string) []string {
	var names []string
	seen := map[string]bool{}
	add := func(n string) {
		n = path.Base(strings.ReplaceAll(n, `\`, "/"))
		if path.Ext(n) == "" {
			n += ".png"
		}
		if !seen[strings.ToLower(n)] {
			seen[strings.ToLower(n)] = true
			names = append(names, n)
		}
	}
	for _, re := range []*regexp.Regexp{mermaidName, savefigName, imageLiteral} {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			add(m[1])
		}
	}
	return names
}

// normalize lower-cases a name and reduces separators and the extension
// to single spaces so titles and filenames compare.
func normalize(s string) string {
	s = strings.ToLower(s)
	if ext := path.Ext(s); ext != "" && imageExts[ext] {
		s = strings.TrimSuffix(s, ext)
	}
	s = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// bindTables pairs the n-th table snippet with the n-th top-level table of
// the rendered document.
func bindTables(tables []models.Snippet, artifact []byte, logger *slog.Logger) {
	if len(tables) == 0 || len(artifact) == 0 {
		return
	}
	contents, err := docx.Read(artifact)
	if err != nil {
		logger.Warn("failed to read tables from document, previews skipped", "error", err)
		return
	}
	for i := range tables {
		if i >= len(contents.Tables) {
			break
		}
		preview, err := TablePreview(contents.Tables[i])
		if err != nil {
			logger.Warn("failed to build table preview", "snippet", tables[i].ID, "error", err)
			continue
		}
		tables[i].HTMLPreview = preview
	}
}
