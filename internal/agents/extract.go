package agents

import "errors"

// ErrNoJSON means no balanced JSON object or array was found in the text.
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON isolates the first balanced-bracket JSON substring from
// free-form text. LLM responses routinely wrap the payload in prose or
// markdown fences, so the extractor scans for the first '{' or '[' and
// tracks bracket depth, string literals and escapes until the opener is
// balanced.
func ExtractJSON(text string) (string, error) {
	start := -1
	var opener, closer byte
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			start, opener, closer = i, '{', '}'
		case '[':
			start, opener, closer = i, '[', ']'
		default:
			continue
		}
		break
	}
	if start < 0 {
		return "", ErrNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSON
}
