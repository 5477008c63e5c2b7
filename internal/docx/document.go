// Package docx builds and inspects Office Open XML word documents.
package docx

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"
)

// EMU per inch, the DrawingML length unit.
const emuPerInch = 914400

// DefaultPictureWidth is used when a picture is added without a width.
const DefaultPictureWidth = 6.0

type blockKind int

const (
	blockParagraph blockKind = iota
	blockTable
	blockPicture
	blockPageBreak
)

type block struct {
	kind    blockKind
	style   string
	text    string
	table   *Table
	picture *picture
}

type picture struct {
	relID  string
	name   string
	cx, cy int64
}

type media struct {
	name  string
	relID string
	data  []byte
}

// Counts tallies what has been added to a document.
type Counts struct {
	Headings   int
	Paragraphs int
	Tables     int
	Pictures   int
	PageBreaks int
}

// Document is an in-memory word document. It is not safe for concurrent use.
type Document struct {
	blocks []block
	media  []media
	counts Counts
}

func New() *Document {
	return &Document{}
}

// AddHeading appends a heading paragraph. Level 0 is the document title.
func (d *Document) AddHeading(text string, level int) error {
	if level < 0 || level > 9 {
		return fmt.Errorf("heading level must be between 0 and 9, got %d", level)
	}
	style := "Title"
	if level > 0 {
		style = fmt.Sprintf("Heading%d", level)
	}
	d.blocks = append(d.blocks, block{kind: blockParagraph, style: style, text: text})
	d.counts.Headings++
	return nil
}

// AddParagraph appends a body paragraph with an optional style id.
func (d *Document) AddParagraph(text, style string) {
	d.blocks = append(d.blocks, block{kind: blockParagraph, style: style, text: text})
	d.counts.Paragraphs++
}

func (d *Document) AddBullet(text string) {
	d.AddParagraph(text, "ListBullet")
}

func (d *Document) AddCaption(text string) {
	d.blocks = append(d.blocks, block{kind: blockParagraph, style: "Caption", text: text})
	d.counts.Paragraphs++
}

func (d *Document) AddPageBreak() {
	d.blocks = append(d.blocks, block{kind: blockPageBreak})
	d.counts.PageBreaks++
}

// MaxTableCells bounds rows x cols for a single table.
const MaxTableCells = 100000

// AddTable appends an empty rows x cols grid.
func (d *Document) AddTable(rows, cols int) (*Table, error) {
	if rows < 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid table shape %dx%d", rows, cols)
	}
	if int64(rows)*int64(cols) > MaxTableCells || cols > MaxTableCells {
		return nil, fmt.Errorf("table %dx%d exceeds the %d cell limit", rows, cols, MaxTableCells)
	}
	t := &Table{cols: cols, style: "TableGrid"}
	t.rows = make([][]string, rows)
	for i := range t.rows {
		t.rows[i] = make([]string, cols)
	}
	d.blocks = append(d.blocks, block{kind: blockTable, table: t})
	d.counts.Tables++
	return t, nil
}

// AddPicture embeds an image scaled to widthInches, keeping its aspect ratio.
func (d *Document) AddPicture(data []byte, name string, widthInches float64) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("unsupported image %s: %w", name, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("image %s has no pixels", name)
	}
	if widthInches <= 0 {
		widthInches = DefaultPictureWidth
	}

	n := len(d.media) + 1
	m := media{
		name:  fmt.Sprintf("image%d.%s", n, extFor(format)),
		relID: fmt.Sprintf("rIdImg%d", n),
		data:  data,
	}
	d.media = append(d.media, m)

	cx := int64(widthInches * emuPerInch)
	cy := cx * int64(cfg.Height) / int64(cfg.Width)
	d.blocks = append(d.blocks, block{
		kind:    blockPicture,
		picture: &picture{relID: m.relID, name: filepath.Base(name), cx: cx, cy: cy},
	})
	d.counts.Pictures++
	return nil
}

func (d *Document) Counts() Counts {
	return d.counts
}

func extFor(format string) string {
	switch format {
	case "jpeg":
		return "jpeg"
	case "gif":
		return "gif"
	default:
		return "png"
	}
}

// Table is a grid of plain-text cells.
type Table struct {
	cols  int
	style string
	rows  [][]string
}

func (t *Table) Rows() int { return len(t.rows) }
func (t *Table) Cols() int { return t.cols }

// AddRow appends an empty row and returns its index.
func (t *Table) AddRow() (int, error) {
	if (len(t.rows)+1)*t.cols > MaxTableCells {
		return 0, fmt.Errorf("row %d would exceed the %d cell limit", len(t.rows)+1, MaxTableCells)
	}
	t.rows = append(t.rows, make([]string, t.cols))
	return len(t.rows) - 1, nil
}

func (t *Table) SetCell(row, col int, text string) error {
	if row < 0 || row >= len(t.rows) || col < 0 || col >= t.cols {
		return fmt.Errorf("cell (%d,%d) out of range for %dx%d table", row, col, len(t.rows), t.cols)
	}
	t.rows[row][col] = text
	return nil
}

func (t *Table) Cell(row, col int) (string, error) {
	if row < 0 || row >= len(t.rows) || col < 0 || col >= t.cols {
		return "", fmt.Errorf("cell (%d,%d) out of range for %dx%d table", row, col, len(t.rows), t.cols)
	}
	return t.rows[row][col], nil
}

// SetStyle sets the table style id. Spaces are dropped, so "Light Grid Accent 1"
// and "LightGridAccent1" name the same style.
func (t *Table) SetStyle(style string) {
	t.style = strings.ReplaceAll(style, " ", "")
}
