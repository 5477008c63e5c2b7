package models

type SnippetKind string

const (
	SnippetDiagram SnippetKind = "diagram"
	SnippetTable   SnippetKind = "table"
	SnippetChart   SnippetKind = "chart"
)

type Asset struct {
	Filename    string
	Payload     []byte
	ContentType string
}

// Snippet is a contiguous line range of a script that produces one visual element.
type Snippet struct {
	ID          string      `json:"id"`
	Kind        SnippetKind `json:"kind"`
	Title       string      `json:"title"`
	Code        string      `json:"code"`
	StartLine   int         `json:"start_line"`
	EndLine     int         `json:"end_line"`
	Asset       *Asset      `json:"-"`
	HTMLPreview string      `json:"html_preview,omitempty"`

	// AssetFilename and friends are the wire form of Asset.
	AssetFilename    string `json:"asset_filename,omitempty"`
	AssetPayload     []byte `json:"asset_payload_base64,omitempty"`
	AssetContentType string `json:"asset_content_type,omitempty"`
}

// Bind attaches an asset and mirrors it into the wire fields.
func (s *Snippet) Bind(a *Asset) {
	s.Asset = a
	if a == nil {
		s.AssetFilename, s.AssetPayload, s.AssetContentType = "", nil, ""
		return
	}
	s.AssetFilename = a.Filename
	s.AssetPayload = a.Payload
	s.AssetContentType = a.ContentType
}

type SnippetPackage struct {
	Diagrams []Snippet `json:"diagrams"`
	Tables   []Snippet `json:"tables"`
	Charts   []Snippet `json:"charts"`
}

// NewSnippetPackage returns an empty package whose lists marshal as [] rather than null.
func NewSnippetPackage() SnippetPackage {
	return SnippetPackage{Diagrams: []Snippet{}, Tables: []Snippet{}, Charts: []Snippet{}}
}

func (p SnippetPackage) Len() int {
	return len(p.Diagrams) + len(p.Tables) + len(p.Charts)
}

// All returns every snippet, diagrams first, then tables, then charts.
func (p SnippetPackage) All() []Snippet {
	out := make([]Snippet, 0, p.Len())
	out = append(out, p.Diagrams...)
	out = append(out, p.Tables...)
	return append(out, p.Charts...)
}
