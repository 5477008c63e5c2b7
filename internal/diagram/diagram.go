// Package diagram turns Mermaid source into PNG images.
package diagram

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable means no renderer backend is installed or configured.
var ErrUnavailable = errors.New("diagram renderer is not available")

// Renderer converts Mermaid source to a PNG.
type Renderer interface {
	Render(ctx context.Context, source string) ([]byte, error)
}

// Options controls the rendered image.
type Options struct {
	Theme      string `json:"theme"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Background string `json:"background"`
}

func (o Options) withDefaults() Options {
	if o.Theme == "" {
		o.Theme = "default"
	}
	if o.Width <= 0 {
		o.Width = 1200
	}
	if o.Height <= 0 {
		o.Height = 800
	}
	if o.Background == "" {
		o.Background = "white"
	}
	return o
}

// Unavailable is the renderer used when diagrams are disabled.
type Unavailable struct{}

func (Unavailable) Render(context.Context, string) ([]byte, error) {
	return nil, ErrUnavailable
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, source string) ([]byte, error)

func (f RendererFunc) Render(ctx context.Context, source string) ([]byte, error) {
	return f(ctx, source)
}

// Spec selects and configures a renderer. It is serialisable so a worker
// process can rebuild the same renderer.
type Spec struct {
	Renderer string        `json:"renderer"` // "mmdc", "chrome" or "none"
	MmdcPath string        `json:"mmdc_path,omitempty"`
	Options  Options       `json:"options"`
	Timeout  time.Duration `json:"timeout"`
}

// New builds the renderer named by spec. Unknown names yield Unavailable.
func New(spec Spec) Renderer {
	switch spec.Renderer {
	case "mmdc":
		return NewMermaidCLI(spec.MmdcPath, spec.Options, spec.Timeout)
	case "chrome":
		return NewChrome(spec.Options, spec.Timeout)
	default:
		return Unavailable{}
	}
}

// Close releases renderer resources when the renderer holds any.
func Close(r Renderer) error {
	if c, ok := r.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
