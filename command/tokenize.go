package command

import (
	"regexp"
	"strings"
)

// tokenPattern matches either a bare word or a single-/double-quoted run.
// Quoted runs keep embedded whitespace and lose their quotes.
var tokenPattern = regexp.MustCompile(`([^\s"']+)|"([^"]*)"|'([^']*)'`)

// Tokenize splits a raw request line into lowercased tokens. Quoted (single
// or double) substrings become one token each. An empty or all-whitespace
// line yields no tokens.
func Tokenize(line string) []string {
	var tokens []string
	for _, m := range tokenPattern.FindAllStringSubmatchIndex(line, -1) {
		// Groups 1..3; submatch indexes are -1 for the alternatives that
		// did not participate. An empty quoted string is still a token.
		for g := 1; g <= 3; g++ {
			if m[2*g] >= 0 {
				tokens = append(tokens, strings.ToLower(line[m[2*g]:m[2*g+1]]))
				break
			}
		}
	}
	return tokens
}
