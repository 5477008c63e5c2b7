package correlate

import (
	"bytes"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	tableClass  = "docforge-table"
	headerClass = "docforge-table-header"
	cellClass   = "docforge-table-cell"
)

var previewPolicy = newPreviewPolicy()

func newPreviewPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("table", "thead", "tbody", "tr", "th", "td")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^docforge-[a-z-]+$`)).OnElements("table", "tr", "th", "td")
	return p
}

// TablePreview renders rows as an HTML table. The first row becomes the
// header. Cell text is escaped and the markup is sanitized.
func TablePreview(rows [][]string) (string, error) {
	table := element(atom.Table, tableClass)
	if len(rows) > 0 {
		thead := element(atom.Thead, "")
		thead.AppendChild(row(rows[0], atom.Th, headerClass))
		table.AppendChild(thead)
	}
	if len(rows) > 1 {
		tbody := element(atom.Tbody, "")
		for _, r := range rows[1:] {
			tbody.AppendChild(row(r, atom.Td, cellClass))
		}
		table.AppendChild(tbody)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, table); err != nil {
		return "", err
	}
	return previewPolicy.Sanitize(buf.String()), nil
}

func row(cells []string, cell atom.Atom, class string) *html.Node {
	tr := element(atom.Tr, "")
	for _, text := range cells {
		c := element(cell, class)
		c.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		tr.AppendChild(c)
	}
	return tr
}

func element(a atom.Atom, class string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	if class != "" {
		n.Attr = []html.Attribute{{Key: "class", Val: class}}
	}
	return n
}
