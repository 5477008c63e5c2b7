package executor

import (
	"regexp"
	"strings"

	glua "github.com/yuin/gopher-lua"

	"github.com/mpataki/docforge/internal/lua"
)

type denyRule struct {
	pattern *regexp.Regexp
	reason  string
}

// denylist is checked before a script runs. Matching is textual, so a
// forbidden name inside a string literal is rejected too.
var denylist = []denyRule{
	{regexp.MustCompile(`\bos\s*\.\s*execute\b`), "process execution (os.execute)"},
	{regexp.MustCompile(`\bio\s*\.\s*popen\b`), "process spawning (io.popen)"},
	{regexp.MustCompile(`\bos\s*\.\s*exit\b`), "process termination (os.exit)"},
	{regexp.MustCompile(`\b(spawn|fork|kill)\s*\(`), "process control"},
	{regexp.MustCompile(`\b(sh|bash|cmd)\s+-c\b`), "shell invocation"},
	{regexp.MustCompile(`\bos\s*\.\s*remove\b`), "file deletion (os.remove)"},
	{regexp.MustCompile(`\bos\s*\.\s*rename\b`), "file moves (os.rename)"},
	{regexp.MustCompile(`\bos\s*\.\s*getenv\b`), "environment access (os.getenv)"},
	{regexp.MustCompile(`\bio\s*\.\s*(open|lines|read|write|output|input)\b`), "raw file access (io)"},
	{regexp.MustCompile(`\blfs\s*\.`), "filesystem library (lfs)"},
	{regexp.MustCompile(`\bsocket\b`), "network access (socket)"},
	{regexp.MustCompile(`\bhttp\s*\.\s*(request|get|post)\b`), "network access (http)"},
	{regexp.MustCompile(`\b(curl|wget)\b`), "network tools"},
	{regexp.MustCompile(`\b(loadstring|loadfile|dofile)\b`), "dynamic code evaluation"},
	{regexp.MustCompile(`\bload\s*\(`), "dynamic code evaluation (load)"},
	{regexp.MustCompile(`\brequire\s*[("']`), "module loading (require)"},
	{regexp.MustCompile(`\bpackage\s*\.\s*(loadlib|path|cpath|loaded|preload)\b`), "module loader access"},
	{regexp.MustCompile(`\bstring\s*\.\s*dump\b`), "bytecode serialization (string.dump)"},
	{regexp.MustCompile(`\bdebug\s*\.`), "debug library"},
	{regexp.MustCompile(`\b(setfenv|getfenv)\b`), "environment tampering"},
	{regexp.MustCompile(`\bcollectgarbage\b`), "interpreter control (collectgarbage)"},
	{regexp.MustCompile(`\bffi\b`), "foreign function interface"},
}

// Validate performs the static checks that run before any side effect.
func Validate(source string, maxBytes int) error {
	if strings.TrimSpace(source) == "" {
		return validationError("script is empty")
	}
	if maxBytes > 0 && len(source) > maxBytes {
		return validationError("script is %d bytes, exceeding the maximum of %d bytes", len(source), maxBytes)
	}
	for _, rule := range denylist {
		if loc := rule.pattern.FindStringIndex(source); loc != nil {
			line := strings.Count(source[:loc[0]], "\n") + 1
			err := validationError("script uses a forbidden operation: %s", rule.reason)
			err.Line = line
			return err
		}
	}
	return nil
}

// CheckSyntax compiles source without running it.
func CheckSyntax(source string) error {
	L := glua.NewState(glua.Options{SkipOpenLibs: true})
	defer L.Close()
	if _, err := L.Load(strings.NewReader(source), lua.ChunkName); err != nil {
		return classify(err, source)
	}
	return nil
}
