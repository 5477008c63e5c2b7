package executor

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	glua "github.com/yuin/gopher-lua"

	"github.com/mpataki/docforge/internal/models"
)

var (
	// ErrValidation marks scripts rejected before execution.
	ErrValidation = errors.New("script validation failed")
	// ErrTimeout marks executions stopped by the wall-clock budget or cancellation.
	ErrTimeout = errors.New("script execution timed out")
	// ErrArtifact marks runs that finished without a usable document.
	ErrArtifact = errors.New("document artifact invalid")
	// ErrScript covers syntax, name and runtime errors raised by the script.
	ErrScript = errors.New("script error")
)

// ScriptError is a classified execution failure. Message is written for the
// regeneration model and for humans reading run history.
type ScriptError struct {
	Kind    models.FailureKind
	Message string
	Line    int
	Err     error
}

func (e *ScriptError) Error() string {
	if e.Line > 0 && !strings.Contains(e.Message, "line") {
		return fmt.Sprintf("%s: %s (line %d)", e.Kind, e.Message, e.Line)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ScriptError) Unwrap() error { return e.Err }

func (e *ScriptError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == models.FailureValidation
	case ErrTimeout:
		return e.Kind == models.FailureTimeout
	case ErrArtifact:
		return e.Kind == models.FailureArtifact
	case ErrScript:
		return e.Kind == models.FailureSyntax || e.Kind == models.FailureName || e.Kind == models.FailureRuntime
	}
	return false
}

func validationError(format string, args ...any) *ScriptError {
	return &ScriptError{Kind: models.FailureValidation, Message: fmt.Sprintf(format, args...)}
}

func artifactError(format string, args ...any) *ScriptError {
	return &ScriptError{Kind: models.FailureArtifact, Message: fmt.Sprintf(format, args...)}
}

var (
	syntaxLine  = regexp.MustCompile(`line:(\d+)`)
	runtimeLine = regexp.MustCompile(`script:(\d+):`)
	nilAccess   = regexp.MustCompile(`attempt to (call a non-function object|index a non-table object\(nil\)|call a nil value|index a nil value)`)
	identAtCall = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*[.:(\[]`)
	localDecl   = regexp.MustCompile(`(?:local\s+(?:function\s+)?|function\s+|for\s+)([A-Za-z_][A-Za-z0-9_]*(?:\s*,\s*[A-Za-z_][A-Za-z0-9_]*)*)`)
	globalAssig = regexp.MustCompile(`(?m)^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=[^=]`)
)

// classify turns an interpreter error into a ScriptError.
func classify(err error, source string) *ScriptError {
	var apiErr *glua.ApiError
	if errors.As(err, &apiErr) && apiErr.Type == glua.ApiErrorSyntax {
		msg := strings.TrimSpace(apiErr.Error())
		line := firstInt(syntaxLine, msg)
		text := "Syntax error in script: " + msg
		if line > 0 {
			text = fmt.Sprintf("Syntax error in script: %s at line %d", msg, line)
		}
		return &ScriptError{Kind: models.FailureSyntax, Message: text, Line: line, Err: err}
	}

	msg := err.Error()
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	msg = strings.TrimSpace(msg)
	line := firstInt(runtimeLine, msg)

	if nilAccess.MatchString(msg) {
		text := msg
		if name := undefinedName(source, line); name != "" {
			text = fmt.Sprintf("name '%s' is not defined (%s)", name, msg)
		}
		return &ScriptError{Kind: models.FailureName, Message: text, Line: line, Err: err}
	}
	return &ScriptError{Kind: models.FailureRuntime, Message: "RuntimeError: " + msg, Line: line, Err: err}
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

var luaKeywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true, "end": true,
	"false": true, "for": true, "function": true, "if": true, "in": true, "local": true,
	"nil": true, "not": true, "or": true, "repeat": true, "return": true, "then": true,
	"true": true, "until": true, "while": true,
}

// knownGlobals are names a script can always resolve.
var knownGlobals = map[string]bool{
	"doc": true, "plt": true, "pd": true, "np": true, "output_dir": true,
	"render_mermaid": true, "add_caption": true, "print": true, "warn": true, "log": true,
	"string": true, "table": true, "math": true, "ipairs": true, "pairs": true,
	"tostring": true, "tonumber": true, "type": true, "error": true, "pcall": true,
	"assert": true, "select": true, "unpack": true, "next": true, "xpcall": true,
	"setmetatable": true, "getmetatable": true, "rawget": true, "rawset": true, "rawequal": true,
}

// undefinedName guesses which identifier on the failing line was never
// defined, so the message can name it.
func undefinedName(source string, line int) string {
	lines := strings.Split(source, "\n")
	if line <= 0 || line > len(lines) {
		return ""
	}

	defined := map[string]bool{}
	for _, m := range localDecl.FindAllStringSubmatch(source, -1) {
		for _, n := range strings.Split(m[1], ",") {
			defined[strings.TrimSpace(n)] = true
		}
	}
	for _, m := range globalAssig.FindAllStringSubmatch(source, -1) {
		defined[m[1]] = true
	}

	text := lines[line-1]
	for _, m := range identAtCall.FindAllStringSubmatchIndex(text, -1) {
		// Skip fields and methods such as x.name or x:name.
		if m[2] > 0 && (text[m[2]-1] == '.' || text[m[2]-1] == ':') {
			continue
		}
		name := text[m[2]:m[3]]
		if luaKeywords[name] || knownGlobals[name] || defined[name] {
			continue
		}
		return name
	}
	return ""
}
