package executor

import (
	"encoding/json"
	"reflect"
	"strings"
)

func normalizeOutput(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// OutputsMatch compares actual and expected output. Values that both parse as
// JSON are compared structurally, so `[0, 1]` matches `[0,1]`. A JSON string
// result also matches its unquoted text, so `"olleh"` matches `olleh`.
func OutputsMatch(actual, expected string) bool {
	a, e := normalizeOutput(actual), normalizeOutput(expected)
	if a == e {
		return true
	}
	var av, ev any
	aErr, eErr := json.Unmarshal([]byte(a), &av), json.Unmarshal([]byte(e), &ev)
	if aErr == nil && eErr == nil && reflect.DeepEqual(av, ev) {
		return true
	}
	if s, ok := av.(string); ok && aErr == nil {
		return normalizeOutput(s) == e
	}
	return false
}
