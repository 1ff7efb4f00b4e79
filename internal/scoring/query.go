// Package scoring ranks indexed canonical items against a new item.
package scoring

import (
	"strings"
	"unicode"
)

// MinTokenLength is the shortest token that takes part in a query
const MinTokenLength = 3

// Tokenize returns the distinct lowercased alphanumeric tokens of at least
// MinTokenLength characters, in order of first occurrence. Stopwords are kept.
func Tokenize(texts ...string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, text := range texts {
		for _, tok := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
			if len([]rune(tok)) < MinTokenLength || seen[tok] {
				continue
			}
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// BuildQuery OR-combines the tokens as quoted FTS5 strings.
// Returns "" when there are no tokens.
func BuildQuery(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}
