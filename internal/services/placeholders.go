package services

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// FillPlaceholders replaces {{name}} markers in text with values from vars.
// Markers without a value are left untouched.
func FillPlaceholders(text string, vars map[string]interface{}) string {
	if len(vars) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(text, -1) {
		value, ok := vars[text[m[2]:m[3]]]
		if !ok {
			continue
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(fmt.Sprint(value))
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}
