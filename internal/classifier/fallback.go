package classifier

import (
	"strings"
	"unicode"
)

// Fallback derives a topic without any external call:
// lowercased source type (or "general") joined with the first three
// alphanumeric words of the title, truncated to the topic length limit.
// It never fails — it is the last line of defense before the decision
// engine's fail-open path.
func Fallback(req Request) *Result {
	prefix := strings.ToLower(strings.TrimSpace(req.SourceType))
	if prefix == "" {
		prefix = "general"
	}

	parts := []string{prefix}
	parts = append(parts, firstAlnumWords(req.Title, 3)...)

	topic := NormalizeTopic(strings.Join(parts, "_"))
	if topic == "" {
		topic = "general"
	}

	return &Result{
		Topic:    topic,
		Category: "general",
	}
}

// firstAlnumWords returns up to n lowercased words of s, each stripped to
// its alphanumeric runes. Words with nothing alphanumeric in them are
// skipped.
func firstAlnumWords(s string, n int) []string {
	var words []string
	for _, field := range strings.Fields(strings.ToLower(s)) {
		var b strings.Builder
		for _, r := range field {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		if b.Len() == 0 {
			continue
		}
		words = append(words, b.String())
		if len(words) == n {
			break
		}
	}
	return words
}
