package document

import (
	"sort"
	"unicode/utf16"
)

// Position is a zero-based line and UTF-16 column, as used on the editor wire.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span of Positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Contains reports whether p lies inside r. The end position is inclusive
// so a cursor placed right after an identifier still hits it.
func (r Range) Contains(p Position) bool {
	if p.Line < r.Start.Line || p.Line > r.End.Line {
		return false
	}
	if p.Line == r.Start.Line && p.Character < r.Start.Character {
		return false
	}
	if p.Line == r.End.Line && p.Character > r.End.Character {
		return false
	}
	return true
}

// Point is a zero-based row and byte column, as used by the parser.
type Point struct {
	Row    uint
	Column uint
}

// Lines indexes line starts of a text so offsets, Points and Positions can
// be converted without rescanning the whole text.
type Lines struct {
	text   string
	starts []int
}

// NewLines builds the line index for text.
func NewLines(text string) *Lines {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &Lines{text: text, starts: starts}
}

// Count returns the number of lines. An empty text has one line.
func (l *Lines) Count() int {
	return len(l.starts)
}

// line returns the content of line n without its terminator.
func (l *Lines) line(n int) string {
	start := l.starts[n]
	end := len(l.text)
	if n+1 < len(l.starts) {
		end = l.starts[n+1] - 1
	}
	if end > start && l.text[end-1] == '\r' {
		end--
	}
	return l.text[start:end]
}

// Offset converts an editor Position to a byte offset, clamping positions
// past the end of a line or of the text.
func (l *Lines) Offset(pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(l.starts) {
		return len(l.text)
	}
	content := l.line(pos.Line)
	return l.starts[pos.Line] + utf16ToByteOffset(content, pos.Character)
}

// Position converts a byte offset to an editor Position.
func (l *Lines) Position(offset int) Position {
	if offset <= 0 {
		return Position{}
	}
	if offset > len(l.text) {
		offset = len(l.text)
	}
	n := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
	content := l.line(n)
	col := offset - l.starts[n]
	if col > len(content) {
		col = len(content)
	}
	return Position{Line: n, Character: byteToUTF16Offset(content, col)}
}

// Point converts a byte offset to a parser Point.
func (l *Lines) Point(offset int) Point {
	if offset <= 0 {
		return Point{}
	}
	if offset > len(l.text) {
		offset = len(l.text)
	}
	n := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
	return Point{Row: uint(n), Column: uint(offset - l.starts[n])}
}

// RangeOf converts a byte span to an editor Range.
func (l *Lines) RangeOf(start, end int) Range {
	return Range{Start: l.Position(start), End: l.Position(end)}
}

// byteToUTF16Offset counts the UTF-16 code units in the first n bytes of s.
func byteToUTF16Offset(s string, n int) int {
	units := 0
	for i, r := range s {
		if i >= n {
			break
		}
		if w := utf16.RuneLen(r); w > 0 {
			units += w
		} else {
			units++
		}
	}
	return units
}

// utf16ToByteOffset returns the byte offset of UTF-16 column col in s.
func utf16ToByteOffset(s string, col int) int {
	units := 0
	for i, r := range s {
		if units >= col {
			return i
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		units += n
	}
	return len(s)
}
