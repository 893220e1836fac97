package identity

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxUsernameRunes caps client-supplied display names.
const MaxUsernameRunes = 32

// strict removes all HTML. bluemonday policies are safe for concurrent use.
var strict = bluemonday.StrictPolicy()

// SanitizeUsername strips markup, collapses whitespace and truncates to MaxUsernameRunes.
// An empty result means the caller should allocate a name instead.
func SanitizeUsername(raw string) string {
	clean := strings.Join(strings.Fields(strict.Sanitize(raw)), " ")

	if utf8.RuneCountInString(clean) <= MaxUsernameRunes {
		return clean
	}

	runes := []rune(clean)
	return strings.TrimSpace(string(runes[:MaxUsernameRunes]))
}

// SanitizeValue strips markup from every string inside a decoded JSON value.
// Numbers, booleans and nil pass through unchanged.
func SanitizeValue(value any) any {
	switch v := value.(type) {
	case string:
		return strict.Sanitize(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = SanitizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = SanitizeValue(item)
		}
		return out
	default:
		return value
	}
}
