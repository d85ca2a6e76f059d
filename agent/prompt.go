package agent

import (
	"strings"
)

// RenderPrompt interpolates {variable} placeholders in a system prompt
// template from the supplied variables. Placeholders with no matching
// variable are left as-is; a template author may legitimately want literal
// braces in the prompt.
func RenderPrompt(template string, variables map[string]string) string {
	if len(variables) == 0 || !strings.Contains(template, "{") {
		return template
	}

	var sb strings.Builder
	sb.Grow(len(template))

	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			sb.WriteString(template[i:])
			break
		}
		open += i
		sb.WriteString(template[i:open])

		close := strings.IndexByte(template[open:], '}')
		if close < 0 {
			sb.WriteString(template[open:])
			break
		}
		close += open

		name := template[open+1 : close]
		if value, ok := variables[name]; ok {
			sb.WriteString(value)
		} else {
			sb.WriteString(template[open : close+1])
		}
		i = close + 1
	}

	return sb.String()
}
