package correlate

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/mpataki/docforge/internal/models"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// Markdown renders a package for terminal output: one section per snippet
// with its source, bound asset and table preview.
func Markdown(pkg models.SnippetPackage) (string, error) {
	var b strings.Builder
	for _, s := range pkg.All() {
		fmt.Fprintf(&b, "## %s (%s)\n\n", s.Title, s.ID)
		fmt.Fprintf(&b, "Lines %d-%d\n\n", s.StartLine, s.EndLine)
		fmt.Fprintf(&b, "```lua\n%s\n```\n\n", s.Code)
		if s.AssetFilename != "" {
			fmt.Fprintf(&b, "Asset: `%s` (%s, %d bytes)\n\n", s.AssetFilename, s.AssetContentType, len(s.AssetPayload))
		}
		if s.HTMLPreview != "" {
			md, err := mdConverter.ConvertString(s.HTMLPreview)
			if err != nil {
				return "", fmt.Errorf("failed to convert preview of %s: %w", s.ID, err)
			}
			b.WriteString(strings.TrimSpace(md))
			b.WriteString("\n\n")
		}
	}
	return b.String(), nil
}
