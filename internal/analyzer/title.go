package analyzer

import (
	"path"
	"strings"
	"unicode"
)

// normalizeTitle turns a file or variable name into a display title:
// "q3_revenue-chart.png" becomes "Q3 Revenue Chart".
func normalizeTitle(name string) string {
	name = stripExt(path.Base(strings.ReplaceAll(name, `\`, "/")))
	name = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)

	words := strings.Fields(name)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// stripExt drops a short alphanumeric extension such as ".png".
func stripExt(name string) string {
	ext := path.Ext(name)
	if ext == "" || len(ext) > 6 || ext == name {
		return name
	}
	for _, r := range ext[1:] {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return name
		}
	}
	return strings.TrimSuffix(name, ext)
}
