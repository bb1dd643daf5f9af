package snippet

import (
	"errors"
	"strings"
)

// Status is the completeness verdict for a piece of input.
type Status string

const (
	StatusComplete   Status = "complete"
	StatusIncomplete Status = "incomplete"
	StatusInvalid    Status = "invalid"
)

const msgEndOfInput = "Unexpected end of input"

// Completeness tells a front end whether to submit the buffer or keep
// reading. Indent is a suggested prefix for the next line.
type Completeness struct {
	Status Status `json:"status"`
	Indent string `json:"indent,omitempty"`
}

// IsComplete classifies text and decides whether more input could still make
// it valid.
func IsComplete(text string) Completeness {
	if strings.TrimSpace(text) == "" {
		return Completeness{Status: StatusComplete}
	}
	_, err := Classify(text)
	if err == nil {
		return Completeness{Status: StatusComplete}
	}
	var cerr *ClassifyError
	if errors.As(err, &cerr) {
		for _, d := range cerr.Diagnostics {
			if d.Message == msgEndOfInput {
				return Completeness{
					Status: StatusIncomplete,
					Indent: strings.Repeat("  ", openDepth(text)),
				}
			}
		}
	}
	return Completeness{Status: StatusInvalid}
}

// openDepth counts brackets left open at the end of text. Brackets inside
// quotes and comments are ignored on a best-effort basis.
func openDepth(text string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case c == '\\':
				i++
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '/':
			if i+1 < len(text) && text[i+1] == '/' {
				if nl := strings.IndexByte(text[i:], '\n'); nl >= 0 {
					i += nl
				} else {
					i = len(text)
				}
			}
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			if depth > 0 {
				depth--
			}
		}
	}
	return depth
}
