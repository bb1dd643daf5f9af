package compiler

import (
	"sort"
	"strings"

	"github.com/itsmostafa/gocell/internal/snippet"
)

// segment maps a run of generated text back to the submission. A copied
// segment maps byte for byte; a pinned segment maps every byte to src.
type segment struct {
	gen    int
	src    int
	n      int
	pinned bool
}

// source accumulates generated program text and remembers where each piece
// came from so positions can be reported in submission coordinates.
type source struct {
	buf  strings.Builder
	segs []segment
}

// copy appends text taken from the submission at offset src.
func (s *source) copy(text string, src int) {
	s.segs = append(s.segs, segment{gen: s.buf.Len(), src: src, n: len(text)})
	s.buf.WriteString(text)
}

// pin appends generated text that stands for the submission offset src.
func (s *source) pin(src int, text string) {
	s.segs = append(s.segs, segment{gen: s.buf.Len(), src: src, n: len(text), pinned: true})
	s.buf.WriteString(text)
}

// synth appends text with no submission counterpart of its own.
func (s *source) synth(text string) {
	s.buf.WriteString(text)
}

func (s *source) len() int {
	return s.buf.Len()
}

func (s *source) String() string {
	return s.buf.String()
}

// resolve maps a generated offset to a submission offset. It reports false
// for text generated before the first mapped segment.
func (s *source) resolve(gen int) (int, bool) {
	i := sort.Search(len(s.segs), func(i int) bool { return s.segs[i].gen > gen }) - 1
	if i < 0 {
		return 0, false
	}
	seg := s.segs[i]
	switch {
	case seg.pinned:
		return seg.src, true
	case gen < seg.gen+seg.n:
		return seg.src + gen - seg.gen, true
	default:
		return seg.src + seg.n, true
	}
}

// sourceMap is the frozen mapping of one generated program.
type sourceMap struct {
	text  string
	lines *snippet.LineIndex
	src   *source
}

func (s *source) freeze() *sourceMap {
	text := s.String()
	return &sourceMap{text: text, lines: snippet.NewLineIndex(text), src: s}
}

// locate maps a 1-based line and column of the generated program to a
// submission offset.
func (m *sourceMap) locate(line, column int) (int, bool) {
	return m.src.resolve(m.lines.Offset(line, column))
}
