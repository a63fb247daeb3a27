package orchestrator

import "strings"

// FormatPrompt substitutes {text} and any {key} placeholders into the
// template. Unknown placeholders are left untouched.
func FormatPrompt(template, text string, vars map[string]string) string {
	pairs := make([]string, 0, 2+2*len(vars))
	pairs = append(pairs, "{text}", text)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
