package orchestrator

import (
	"fmt"
	"os"
	"strings"

	"github.com/mpataki/docforge/internal/docx"
)

const maxFallbackScript = 8 * 1024

// writeFallback saves a document explaining why generation failed, so an
// exhausted run still hands back a readable artifact.
func writeFallback(path string, errs []string, source string, attempts int) ([]byte, error) {
	d := docx.New()
	if err := d.AddHeading("Document generation failed", 0); err != nil {
		return nil, err
	}

	reason := "unknown error"
	if n := len(errs); n > 0 {
		reason = errs[n-1]
	}
	d.AddParagraph(fmt.Sprintf("The script failed after %d attempt(s).", attempts), "")
	d.AddParagraph("Reason: "+reason, "")

	if len(errs) > 1 {
		if err := d.AddHeading("Errors", 1); err != nil {
			return nil, err
		}
		for _, e := range errs {
			d.AddBullet(e)
		}
	}

	if err := d.AddHeading("Last script", 1); err != nil {
		return nil, err
	}
	for _, line := range strings.Split(truncate(source, maxFallbackScript), "\n") {
		d.AddParagraph(line, "")
	}

	if err := d.Save(path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "\n-- [truncated]"
}
