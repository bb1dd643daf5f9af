package snippet

import "strings"

// Span widens the byte range [start, end) of a parsed node to its full
// source extent. The parser drops parentheses, so a node such as
// `(a + b) * c` reports a range starting inside the parenthesis.
func Span(text string, start, end int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start > end {
		return start, start
	}

	unopened, unclosed := parenBalance(text[start:end])
	for ; unopened > 0; unopened-- {
		p := prevNonSpace(text, start)
		if p < 0 || text[p] != '(' {
			break
		}
		start = p
	}
	for ; unclosed > 0; unclosed-- {
		n := nextNonSpace(text, end)
		if n >= len(text) || text[n] != ')' {
			break
		}
		end = n + 1
	}
	// wrapping parentheses
	for {
		p := prevNonSpace(text, start)
		n := nextNonSpace(text, end)
		if p < 0 || n >= len(text) || text[p] != '(' || text[n] != ')' {
			break
		}
		start, end = p, n+1
	}
	return start, end
}

// parenBalance reports how many closing parentheses in s lack an opener and
// how many opening parentheses are left unclosed. Quoted text and comments
// are skipped.
func parenBalance(s string) (unopened, unclosed int) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\'', '`':
			i = skipQuoted(s, i)
		case '/':
			switch {
			case strings.HasPrefix(s[i:], "//"):
				if nl := strings.IndexByte(s[i:], '\n'); nl >= 0 {
					i += nl
				} else {
					i = len(s)
				}
			case strings.HasPrefix(s[i:], "/*"):
				if e := strings.Index(s[i+2:], "*/"); e >= 0 {
					i += e + 3
				} else {
					i = len(s)
				}
			}
		case '(':
			depth++
		case ')':
			if depth == 0 {
				unopened++
			} else {
				depth--
			}
		}
	}
	return unopened, depth
}

// skipQuoted returns the index of the quote closing the literal opened at i.
func skipQuoted(s string, i int) int {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j
		}
	}
	return len(s)
}

func prevNonSpace(text string, i int) int {
	for i--; i >= 0; i-- {
		switch text[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return i
	}
	return -1
}

func nextNonSpace(text string, i int) int {
	for ; i < len(text); i++ {
		switch text[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return i
	}
	return len(text)
}
