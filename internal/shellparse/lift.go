package shellparse

import "strings"

// interpreterHeredocVerbs are the verbs whose heredoc bodies are lifted
// into segments. Heredocs fed to anything else (e.g. "cat <<EOF") are
// plain data, not code.
var interpreterHeredocVerbs = map[string]struct{}{
	"bash":    {},
	"sh":      {},
	"zsh":     {},
	"dash":    {},
	"python":  {},
	"python3": {},
	"node":    {},
	"ruby":    {},
	"perl":    {},
}

// collectLiftedBodies extracts the bodies of $(...), backticks, <(...),
// >(...), and interpreter heredocs, recursing into each body so nested
// substitutions surface too. Bodies are returned in discovery order.
// Unterminated constructs contribute their remaining text to end of
// string.
func collectLiftedBodies(s string) []string {
	var bodies []string

	add := func(body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		bodies = append(bodies, body)
		bodies = append(bodies, collectLiftedBodies(body)...)
	}

	for _, body := range extractDollarParens(s) {
		add(body)
	}
	for _, body := range extractBackticks(s) {
		add(body)
	}
	for _, body := range extractProcessSubstitutions(s) {
		add(body)
	}
	for _, body := range extractInterpreterHeredocs(s) {
		add(body)
	}

	return bodies
}

// extractDollarParens returns the bodies of top-level $(...) occurrences
// using balanced parenthesis counting. Nested $(...) inside a body is
// discovered when the caller recurses.
func extractDollarParens(s string) []string {
	var bodies []string
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		if runes[i] != '$' || runes[i+1] != '(' {
			continue
		}
		depth := 1
		j := i + 2
		for j < len(runes) && depth > 0 {
			switch runes[j] {
			case '(':
				depth++
			case ')':
				depth--
			}
			j++
		}
		end := j
		if depth == 0 {
			end = j - 1
		}
		bodies = append(bodies, string(runes[i+2:end]))
		i = end
	}
	return bodies
}

// extractBackticks returns the bodies between backtick pairs. A trailing
// unmatched backtick takes the rest of the string.
func extractBackticks(s string) []string {
	var bodies []string
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '`' {
			continue
		}
		j := i + 1
		for j < len(runes) && runes[j] != '`' {
			j++
		}
		bodies = append(bodies, string(runes[i+1:j]))
		i = j
	}
	return bodies
}

// extractProcessSubstitutions returns the bodies of <(...) and >(...)
// with balanced parenthesis counting.
func extractProcessSubstitutions(s string) []string {
	var bodies []string
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		if (runes[i] != '<' && runes[i] != '>') || runes[i+1] != '(' {
			continue
		}
		// "$(" is handled separately, and "<<(" is not a process substitution
		if i > 0 && (runes[i-1] == '$' || runes[i-1] == runes[i]) {
			continue
		}
		depth := 1
		j := i + 2
		for j < len(runes) && depth > 0 {
			switch runes[j] {
			case '(':
				depth++
			case ')':
				depth--
			}
			j++
		}
		end := j
		if depth == 0 {
			end = j - 1
		}
		bodies = append(bodies, string(runes[i+2:end]))
		i = end
	}
	return bodies
}

// extractInterpreterHeredocs returns heredoc bodies whose receiving verb
// is a known interpreter. The heredoc marker form is <<[-]['"]DELIM['"],
// and the body runs from the following newline to a line whose trimmed
// content equals the delimiter (or to end of string).
func extractInterpreterHeredocs(s string) []string {
	var bodies []string

	for idx := 0; idx < len(s); idx++ {
		pos := strings.Index(s[idx:], "<<")
		if pos < 0 {
			break
		}
		pos += idx
		idx = pos + 1

		// "<<<" is a here-string, not a heredoc
		if pos+2 < len(s) && s[pos+2] == '<' {
			idx = pos + 2
			continue
		}

		if verb := heredocVerb(s[:pos]); verb != "" {
			if _, ok := interpreterHeredocVerbs[verb]; !ok {
				continue
			}
		} else {
			continue
		}

		// Parse the delimiter after <<, skipping "-" and quotes.
		j := pos + 2
		if j < len(s) && s[j] == '-' {
			j++
		}
		for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
			j++
		}
		var quote byte
		if j < len(s) && (s[j] == '\'' || s[j] == '"') {
			quote = s[j]
			j++
		}
		start := j
		for j < len(s) && isDelimChar(s[j]) {
			j++
		}
		delim := s[start:j]
		if delim == "" {
			continue
		}
		if quote != 0 && j < len(s) && s[j] == quote {
			j++
		}

		nl := strings.IndexByte(s[j:], '\n')
		if nl < 0 {
			continue
		}

		body, end := heredocBody(s[j+nl+1:], delim)
		bodies = append(bodies, body)
		idx = j + nl + end
	}

	return bodies
}

// heredocBody returns the text preceding the delimiter line and the
// offset just past the body within rest.
func heredocBody(rest, delim string) (string, int) {
	offset := 0
	var lines []string
	for offset <= len(rest) {
		nl := strings.IndexByte(rest[offset:], '\n')
		var line string
		if nl < 0 {
			line = rest[offset:]
			if strings.TrimSpace(line) == delim {
				return strings.Join(lines, "\n"), offset
			}
			lines = append(lines, line)
			offset = len(rest)
			break
		}
		line = rest[offset : offset+nl]
		if strings.TrimSpace(line) == delim {
			return strings.Join(lines, "\n"), offset
		}
		lines = append(lines, line)
		offset += nl + 1
	}
	return strings.Join(lines, "\n"), offset
}

// heredocVerb returns the first token of the command text immediately
// preceding a heredoc marker.
func heredocVerb(before string) string {
	// The receiving command starts after the last operator or newline.
	start := 0
	for _, sep := range []string{";", "|", "&", "\n"} {
		if i := strings.LastIndex(before, sep); i >= 0 && i+1 > start {
			start = i + 1
		}
	}
	fields := strings.Fields(before[start:])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func isDelimChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
