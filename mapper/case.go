package mapper

import (
	"strings"
	"unicode"
)

// ToSnake converts camelCase or PascalCase to snake_case. Acronyms are kept
// together: "HTTPStatus" becomes "http_status".
func ToSnake(s string) string {
	runes := []rune(s)
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					sb.WriteByte('_')
				}
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// ToCamel converts snake_case to camelCase. Leading underscores are kept.
func ToCamel(s string) string {
	trimmed := strings.TrimLeft(s, "_")
	lead := s[:len(s)-len(trimmed)]
	if !strings.Contains(trimmed, "_") {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	sb.WriteString(lead)
	upperNext := false
	for _, r := range trimmed {
		if r == '_' {
			upperNext = true
			continue
		}
		if upperNext {
			sb.WriteRune(unicode.ToUpper(r))
			upperNext = false
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
