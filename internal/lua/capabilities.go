package lua

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/docforge/internal/charts"
	"github.com/mpataki/docforge/internal/diagram"
	"github.com/mpataki/docforge/internal/docx"
)

// Output subdirectories scripts write into.
const (
	ImageAssetsDir = "image_assets"
	DiagramsDir    = "diagrams"
)

const maxOutputName = 100

var outputNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// CheckOutputName validates a file name a script asks to write: a bare
// name of at most 100 characters made of letters, digits, '_' and '-',
// with an optional extension from exts.
func CheckOutputName(name string, exts ...string) error {
	if name == "" {
		return fmt.Errorf("output name must not be empty")
	}
	if len(name) > maxOutputName {
		return fmt.Errorf("output name %q exceeds %d characters", name, maxOutputName)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("output name %q must not contain path components", name)
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext != "" {
		ok := false
		for _, e := range exts {
			if strings.EqualFold(ext, e) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("output name %q must have one of the extensions %v", name, exts)
		}
	}
	if !outputNamePattern.MatchString(base) {
		return fmt.Errorf("output name %q may only contain letters, digits, '_' and '-'", name)
	}
	return nil
}

// Capabilities is everything a document script can reach. One value serves
// exactly one execution.
type Capabilities struct {
	Doc       *docx.Document
	Canvas    *charts.Canvas
	Diagrams  diagram.Renderer
	OutputDir string
	Stdout    io.Writer
	Stderr    io.Writer
	Logger    *slog.Logger

	// PictureWidth is the default width in inches for add_picture.
	PictureWidth float64

	charts   int
	diagrams int
}

// NewCapabilities returns a fresh capability set writing under outputDir.
func NewCapabilities(outputDir string, renderer diagram.Renderer, stdout, stderr io.Writer, logger *slog.Logger) *Capabilities {
	if renderer == nil {
		renderer = diagram.Unavailable{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if abs, err := filepath.Abs(outputDir); err == nil {
		outputDir = abs
	}
	return &Capabilities{
		Doc:          docx.New(),
		Canvas:       charts.NewCanvas(),
		Diagrams:     renderer,
		OutputDir:    outputDir,
		Stdout:       stdout,
		Stderr:       stderr,
		Logger:       logger,
		PictureWidth: docx.DefaultPictureWidth,
	}
}

// Charts and DiagramsRendered report how many images the script produced.
func (c *Capabilities) Charts() int           { return c.charts }
func (c *Capabilities) DiagramsRendered() int { return c.diagrams }

// Close releases plotting state. It returns how many figures were left open.
func (c *Capabilities) Close() int {
	return c.Canvas.CloseAll()
}

// writeAsset stores data as name under the given output subdirectory.
func (c *Capabilities) writeAsset(subdir, name string, data []byte) (string, error) {
	dir := filepath.Join(c.OutputDir, subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", subdir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return path, nil
}

// resolve maps a script-supplied path to a file inside the output
// directory. Bare names are looked up in the asset directories.
func (c *Capabilities) resolve(p string) (string, error) {
	if !filepath.IsAbs(p) && !strings.ContainsAny(p, `/\`) {
		for _, sub := range []string{ImageAssetsDir, DiagramsDir} {
			candidate := filepath.Join(c.OutputDir, sub, p)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("image %q not found in output directory", p)
	}
	return c.resolvePath(p)
}

// resolvePath cleans p against the output directory and rejects anything
// that would land outside it.
func (c *Capabilities) resolvePath(p string) (string, error) {
	root, err := filepath.Abs(c.OutputDir)
	if err != nil {
		return "", err
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, p)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the output directory", p)
	}
	return abs, nil
}

func (c *Capabilities) luaPrint(w io.Writer) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		if w != nil {
			fmt.Fprintln(w, strings.Join(parts, "\t"))
		}
		return 0
	}
}

func (c *Capabilities) luaAddCaption(L *lua.LState) int {
	c.Doc.AddCaption(L.CheckString(1))
	return 0
}

// luaRenderMermaid implements render_mermaid(source, name) -> path.
func (c *Capabilities) luaRenderMermaid(L *lua.LState) int {
	source := L.CheckString(1)
	name := L.OptString(2, fmt.Sprintf("diagram_%d", c.diagrams+1))
	if filepath.Ext(name) == "" {
		name += ".png"
	}
	if err := CheckOutputName(name, ".png"); err != nil {
		return argError(L, "render_mermaid: %v", err)
	}

	png, err := c.Diagrams.Render(L.Context(), source)
	if err != nil {
		return argError(L, "render_mermaid: %v", err)
	}
	path, err := c.writeAsset(DiagramsDir, name, png)
	if err != nil {
		return argError(L, "render_mermaid: %v", err)
	}
	c.diagrams++
	c.Logger.Debug("diagram rendered", "name", name, "bytes", len(png))
	L.Push(lua.LString(path))
	return 1
}

func (c *Capabilities) outputDirTable(L *lua.LState) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "path", lua.LString(c.OutputDir))
	L.SetField(tbl, "join", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(selfOffset(L, tbl) + 1)
		if err := CheckOutputName(name, ".png"); err != nil {
			return argError(L, "output_dir:join: %v", err)
		}
		L.Push(lua.LString(filepath.Join(c.OutputDir, ImageAssetsDir, name)))
		return 1
	}))
	return tbl
}

// selfOffset returns 1 when the function was invoked with method syntax on self.
func selfOffset(L *lua.LState, self lua.LValue) int {
	if L.GetTop() > 0 && L.Get(1) == self {
		return 1
	}
	return 0
}
