package render

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/pretty"
)

const (
	trimMarker    = `..."`
	maxQueryLines = 20
)

// PrettyQuery indents doc so that short arrays and objects stay on one line
// of at most width columns. Output longer than maxQueryLines lines of width
// characters is cut and ends with `..."`.
func PrettyQuery(doc interface{}, width int) string {
	data, err := json.Marshal(doc)
	if err != nil {
		return err.Error()
	}
	out := strings.TrimRight(string(pretty.PrettyOptions(data, &pretty.Options{
		Width:  width,
		Indent: "  ",
	})), "\n")

	limit := width * maxQueryLines
	if limit > 0 && len(out) > limit {
		for limit > 0 && !utf8.RuneStart(out[limit]) {
			limit--
		}
		out = out[:limit] + trimMarker
	}
	return out
}

// Trimmed reports whether PrettyQuery had to cut s.
func Trimmed(s string) bool {
	return strings.HasSuffix(s, trimMarker)
}
