package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Paragraph is a top-level body paragraph as read back from an archive.
type Paragraph struct {
	Style string
	Text  string
}

// Contents is the text structure of a document body.
type Contents struct {
	Paragraphs []Paragraph
	// Tables holds every top-level table in document order as rows of cell text.
	// Nested tables contribute their text to the enclosing cell.
	Tables [][][]string
}

// Read parses word/document.xml out of a docx archive.
func Read(data []byte) (*Contents, error) {
	if !bytes.HasPrefix(data, Magic) {
		return nil, errors.New("not a zip archive")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in archive")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	return decodeBody(rc)
}

func decodeBody(r io.Reader) (*Contents, error) {
	decoder := xml.NewDecoder(r)
	out := &Contents{}

	var (
		tblDepth  int
		inPara    bool
		paraStyle string
		paraText  strings.Builder
		cellText  []string
		row       []string
		table     [][]string
	)

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tblDepth++
				if tblDepth == 1 {
					table = nil
				}
			case "tr":
				if tblDepth == 1 {
					row = nil
				}
			case "tc":
				if tblDepth == 1 {
					cellText = nil
				}
			case "p":
				inPara = true
				paraStyle = ""
				paraText.Reset()
			case "pStyle":
				if inPara {
					paraStyle = attr(t, "val")
				}
			case "br", "cr":
				if inPara && attr(t, "type") != "page" {
					paraText.WriteByte('\n')
				}
			case "tab":
				if inPara {
					paraText.WriteByte('\t')
				}
			}

		case xml.CharData:
			if inPara {
				paraText.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				inPara = false
				text := paraText.String()
				if tblDepth > 0 {
					cellText = append(cellText, text)
				} else {
					out.Paragraphs = append(out.Paragraphs, Paragraph{Style: paraStyle, Text: text})
				}
			case "tc":
				if tblDepth == 1 {
					row = append(row, strings.Join(cellText, "\n"))
				}
			case "tr":
				if tblDepth == 1 {
					table = append(table, row)
				}
			case "tbl":
				if tblDepth == 1 {
					out.Tables = append(out.Tables, table)
				}
				tblDepth--
			}
		}
	}

	return out, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
