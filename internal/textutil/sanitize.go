package textutil

import "strings"

// maxTokenRunes bounds a sanitized token so long meeting titles keep file
// names well under common path limits.
const maxTokenRunes = 60

// SanitizeToken turns free text into a lowercase file-name segment. Accents
// are stripped, letters and digits kept, '-' preserved, and every other run
// of characters collapses to a single '_'. Empty results become "unknown".
func SanitizeToken(value string) string {
	folded := Fold(strings.TrimSpace(value))
	var b strings.Builder
	pendingSep := false
	written := 0
	for _, r := range folded {
		if written >= maxTokenRunes {
			break
		}
		keep := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
		if !keep {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('_')
			written++
		}
		pendingSep = false
		b.WriteRune(r)
		written++
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}
