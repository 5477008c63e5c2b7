package diagram

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MermaidCLI renders through the mermaid-cli binary.
type MermaidCLI struct {
	Path    string
	Options Options
	Timeout time.Duration

	once      sync.Once
	available bool
}

func NewMermaidCLI(path string, opts Options, timeout time.Duration) *MermaidCLI {
	if path == "" {
		path = "mmdc"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &MermaidCLI{Path: path, Options: opts.withDefaults(), Timeout: timeout}
}

// Available probes `mmdc --version` once and caches the answer.
func (m *MermaidCLI) Available(ctx context.Context) bool {
	m.once.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		m.available = exec.CommandContext(ctx, m.Path, "--version").Run() == nil
	})
	return m.available
}

func (m *MermaidCLI) Render(ctx context.Context, source string) ([]byte, error) {
	if !m.Available(ctx) {
		return nil, fmt.Errorf("%w: %s not found, install with npm install -g @mermaid-js/mermaid-cli", ErrUnavailable, m.Path)
	}

	dir, err := os.MkdirTemp("", "docforge-mmd-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "diagram.mmd")
	out := filepath.Join(dir, "diagram.png")
	if err := os.WriteFile(in, []byte(source), 0600); err != nil {
		return nil, fmt.Errorf("failed to write diagram source: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.Path,
		"-i", in,
		"-o", out,
		"-t", m.Options.Theme,
		"-w", strconv.Itoa(m.Options.Width),
		"-H", strconv.Itoa(m.Options.Height),
		"-b", m.Options.Background,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("mermaid conversion timed out after %s", m.Timeout)
		}
		return nil, fmt.Errorf("mermaid conversion failed: %s", strings.TrimSpace(stderr.String()))
	}

	png, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered diagram: %w", err)
	}
	return png, nil
}
