package diagram

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// DefaultMermaidScript is loaded into the page when no script URL is configured.
const DefaultMermaidScript = "https://cdn.jsdelivr.net/npm/mermaid@10/dist/mermaid.min.js"

// Chrome renders diagrams in a headless browser. The browser is launched on
// first use and reused until Close.
type Chrome struct {
	// RemoteURL connects to an existing DevTools endpoint instead of launching.
	RemoteURL string
	ScriptURL string
	Options   Options
	Timeout   time.Duration

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

func NewChrome(opts Options, timeout time.Duration) *Chrome {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Chrome{ScriptURL: DefaultMermaidScript, Options: opts.withDefaults(), Timeout: timeout}
}

func (c *Chrome) connect() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		return c.browser, nil
	}

	wsURL := c.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: launch chrome: %v", ErrUnavailable, err)
		}
		wsURL = u
		c.lnch = l
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("%w: connect chrome: %v", ErrUnavailable, err)
	}
	c.browser = b
	return b, nil
}

func (c *Chrome) Render(ctx context.Context, source string) ([]byte, error) {
	b, err := c.connect()
	if err != nil {
		return nil, err
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(c.Timeout)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  c.Options.Width,
		Height: c.Options.Height,
	}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if err := page.SetDocumentContent(c.pageHTML(source)); err != nil {
		return nil, fmt.Errorf("load diagram page: %w", err)
	}

	el, err := page.Element("#diagram svg")
	if err != nil {
		return nil, fmt.Errorf("mermaid conversion failed: %w", err)
	}
	png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("capture diagram: %w", err)
	}
	return png, nil
}

func (c *Chrome) pageHTML(source string) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><body style="margin:0;background:%s">`+
		`<pre class="mermaid" id="diagram">%s</pre>`+
		`<script src="%s"></script>`+
		`<script>mermaid.initialize({startOnLoad:true,theme:%q});</script>`+
		`</body></html>`,
		html.EscapeString(c.Options.Background), html.EscapeString(source),
		html.EscapeString(c.ScriptURL), c.Options.Theme)
}

// Close shuts down the browser and any launched Chrome process.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.browser != nil {
		err = c.browser.Close()
		c.browser = nil
	}
	if c.lnch != nil {
		c.lnch.Kill()
		c.lnch = nil
	}
	return err
}
