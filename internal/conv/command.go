package conv

import (
	"fmt"
	"strings"
)

// BuildCommand splits a converter template on spaces and substitutes the
// [input] and [output] placeholders in each token. The first token is the
// program, the rest are its arguments.
func BuildCommand(template, input, output string) (string, []string, error) {
	var tokens []string
	for _, tok := range strings.Split(template, " ") {
		if tok == "" {
			continue
		}
		tok = strings.ReplaceAll(tok, "[input]", input)
		tok = strings.ReplaceAll(tok, "[output]", output)
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 {
		return "", nil, fmt.Errorf("conv: empty converter command template")
	}
	return tokens[0], tokens[1:], nil
}
