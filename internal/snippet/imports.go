package snippet

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Import is a top-level import declaration. The goja parser only accepts
// scripts, so import declarations are recognised here and blanked out of the
// text before parsing.
type Import struct {
	Specifier string
	// SpecStart and SpecEnd delimit the quoted specifier in the submission.
	SpecStart int
	SpecEnd   int
	Default   string
	Namespace string
	Named     []ImportName
}

// ImportName is one `imported as local` pair of a named import.
type ImportName struct {
	Imported string
	Local    string
}

// Bare reports whether the import only loads the module for its effects.
func (im *Import) Bare() bool {
	return im.Default == "" && im.Namespace == "" && len(im.Named) == 0
}

// Locals returns the names the import binds, in source order. A bare import
// binds its quoted specifier so that it can still be tracked as an entity.
func (im *Import) Locals() []string {
	if im.Bare() {
		return []string{`"` + im.Specifier + `"`}
	}
	var names []string
	if im.Default != "" {
		names = append(names, im.Default)
	}
	if im.Namespace != "" {
		names = append(names, im.Namespace)
	}
	for _, n := range im.Named {
		names = append(names, n.Local)
	}
	return names
}

type importError struct {
	offset int
	msg    string
}

// importScanner is a tiny tokenizer for the import declaration grammar.
type importScanner struct {
	src string
	pos int
}

// isImportKeyword reports whether an `import` declaration starts at offset.
// Dynamic import() and import.meta are left to the parser.
func isImportKeyword(src string, offset int) bool {
	if !strings.HasPrefix(src[offset:], "import") {
		return false
	}
	if offset > 0 {
		r, _ := utf8.DecodeLastRuneInString(src[:offset])
		if isIdentRune(r) {
			return false
		}
	}
	s := &importScanner{src: src, pos: offset + len("import")}
	if s.pos < len(src) {
		r, _ := utf8.DecodeRuneInString(src[s.pos:])
		if isIdentRune(r) {
			return false
		}
	}
	s.skipSpace()
	return !s.peek('(') && !s.peek('.')
}

// parseImport parses the import declaration at offset and returns it with
// the offset just past its end (including an optional semicolon).
func parseImport(src string, offset int) (*Import, int, *importError) {
	s := &importScanner{src: src, pos: offset + len("import")}
	im := &Import{}

	s.skipSpace()
	if s.peekQuote() {
		if err := s.specifier(im); err != nil {
			return nil, 0, err
		}
		return im, s.end(), nil
	}

	if name, ok := s.ident(); ok {
		im.Default = name
		s.skipSpace()
		if s.accept(',') {
			s.skipSpace()
			if err := s.clause(im); err != nil {
				return nil, 0, err
			}
		}
	} else if err := s.clause(im); err != nil {
		return nil, 0, err
	}

	s.skipSpace()
	if name, ok := s.ident(); !ok || name != "from" {
		return nil, 0, s.fail("expected 'from' in import declaration")
	}
	s.skipSpace()
	if err := s.specifier(im); err != nil {
		return nil, 0, err
	}
	return im, s.end(), nil
}

// clause parses a namespace import or a braced list of named imports.
func (s *importScanner) clause(im *Import) *importError {
	switch {
	case s.accept('*'):
		s.skipSpace()
		if kw, ok := s.ident(); !ok || kw != "as" {
			return s.fail("expected 'as' after '*' in import declaration")
		}
		s.skipSpace()
		name, ok := s.ident()
		if !ok {
			return s.fail("expected namespace name in import declaration")
		}
		im.Namespace = name
		return nil
	case s.accept('{'):
		for {
			s.skipSpace()
			if s.accept('}') {
				return nil
			}
			imported, ok := s.ident()
			if !ok {
				return s.fail("expected imported name")
			}
			local := imported
			s.skipSpace()
			save := s.pos
			if kw, ok := s.ident(); ok && kw == "as" {
				s.skipSpace()
				if local, ok = s.ident(); !ok {
					return s.fail("expected local name after 'as'")
				}
			} else {
				s.pos = save
			}
			im.Named = append(im.Named, ImportName{Imported: imported, Local: local})
			s.skipSpace()
			if s.accept(',') {
				continue
			}
			if s.accept('}') {
				return nil
			}
			return s.fail("expected ',' or '}' in import list")
		}
	}
	return s.fail("malformed import declaration")
}

func (s *importScanner) specifier(im *Import) *importError {
	if !s.peekQuote() {
		return s.fail("expected module specifier string")
	}
	quote := s.src[s.pos]
	start := s.pos
	var b strings.Builder
	for i := s.pos + 1; i < len(s.src); i++ {
		switch c := s.src[i]; c {
		case '\\':
			if i+1 < len(s.src) {
				i++
				b.WriteByte(s.src[i])
			}
		case '\n':
			return &importError{offset: start, msg: "unterminated module specifier"}
		case quote:
			im.Specifier = b.String()
			im.SpecStart = start
			im.SpecEnd = i + 1
			s.pos = i + 1
			if im.Specifier == "" {
				return &importError{offset: start, msg: "empty module specifier"}
			}
			return nil
		default:
			b.WriteByte(c)
		}
	}
	return &importError{offset: start, msg: "unterminated module specifier"}
}

// end consumes an optional trailing semicolon and returns the end offset.
func (s *importScanner) end() int {
	after := s.pos
	s.skipSpace()
	if s.accept(';') {
		return s.pos
	}
	return after
}

func (s *importScanner) skipSpace() {
	for s.pos < len(s.src) {
		switch {
		case strings.HasPrefix(s.src[s.pos:], "//"):
			nl := strings.IndexByte(s.src[s.pos:], '\n')
			if nl < 0 {
				s.pos = len(s.src)
				return
			}
			s.pos += nl
		case strings.HasPrefix(s.src[s.pos:], "/*"):
			end := strings.Index(s.src[s.pos+2:], "*/")
			if end < 0 {
				s.pos = len(s.src)
				return
			}
			s.pos += end + 4
		default:
			r, size := utf8.DecodeRuneInString(s.src[s.pos:])
			if !unicode.IsSpace(r) {
				return
			}
			s.pos += size
		}
	}
}

func (s *importScanner) ident() (string, bool) {
	start := s.pos
	for s.pos < len(s.src) {
		r, size := utf8.DecodeRuneInString(s.src[s.pos:])
		if !isIdentRune(r) || (s.pos == start && unicode.IsDigit(r)) {
			break
		}
		s.pos += size
	}
	return s.src[start:s.pos], s.pos > start
}

func (s *importScanner) peek(c byte) bool {
	return s.pos < len(s.src) && s.src[s.pos] == c
}

func (s *importScanner) peekQuote() bool {
	return s.peek('"') || s.peek('\'')
}

func (s *importScanner) accept(c byte) bool {
	if s.peek(c) {
		s.pos++
		return true
	}
	return false
}

func (s *importScanner) fail(msg string) *importError {
	return &importError{offset: s.pos, msg: msg}
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// blank replaces src[start:end] with spaces, keeping line breaks so that
// every other offset and line number is unchanged.
func blank(src string, start, end int) string {
	b := []byte(src)
	for i := start; i < end; i++ {
		if b[i] != '\n' && b[i] != '\r' {
			b[i] = ' '
		}
	}
	return string(b)
}
