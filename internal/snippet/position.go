package snippet

import (
	"fmt"
	"sort"
)

// Diagnostic is a positioned problem in submission coordinates.
// Line and Column are 1-based, Start and End are byte offsets into the
// submission text (End exclusive).
type Diagnostic struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Line == 0 {
		return d.Message
	}
	return fmt.Sprintf("%d:%d: %s", d.Line, d.Column, d.Message)
}

// LineIndex converts between byte offsets and line/column pairs.
type LineIndex struct {
	starts []int
	size   int
}

// NewLineIndex indexes the line starts of text.
func NewLineIndex(text string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{starts: starts, size: len(text)}
}

// Position returns the 1-based line and column of offset.
func (li *LineIndex) Position(offset int) (line, column int) {
	offset = li.clamp(offset)
	i := sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset }) - 1
	return i + 1, offset - li.starts[i] + 1
}

// Offset returns the byte offset of a 1-based line and column.
func (li *LineIndex) Offset(line, column int) int {
	if line < 1 {
		return 0
	}
	if line > len(li.starts) {
		return li.size
	}
	return li.clamp(li.starts[line-1] + column - 1)
}

// Line returns the text of the 1-based line without its terminator.
func (li *LineIndex) Line(text string, line int) string {
	if line < 1 || line > len(li.starts) {
		return ""
	}
	start := li.starts[line-1]
	end := li.size
	if line < len(li.starts) {
		end = li.starts[line] - 1
	}
	if end > 0 && end <= len(text) && end > start && text[end-1] == '\r' {
		end--
	}
	return text[start:end]
}

// Lines is the number of lines in the indexed text.
func (li *LineIndex) Lines() int {
	return len(li.starts)
}

func (li *LineIndex) clamp(offset int) int {
	if offset < 0 {
		return 0
	}
	if offset > li.size {
		return li.size
	}
	return offset
}

// Diagnose builds a diagnostic for the byte range [start, end).
func (li *LineIndex) Diagnose(start, end int, format string, args ...any) Diagnostic {
	start = li.clamp(start)
	end = li.clamp(end)
	if end < start {
		end = start
	}
	line, col := li.Position(start)
	return Diagnostic{
		Line:    line,
		Column:  col,
		Start:   start,
		End:     end,
		Message: fmt.Sprintf(format, args...),
	}
}
