// Package document holds immutable file revisions and the conversions between
// editor edits (line and UTF-16 column) and parser edits (bytes and points).
package document

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidRange indicates an edit whose range ends before it starts.
	ErrInvalidRange = errors.New("invalid edit range")
)

// Edit is a single editor change. A nil Range replaces the whole text.
type Edit struct {
	Range *Range `json:"range,omitempty"`
	Text  string `json:"text"`
}

// Change is an Edit expressed in bytes and parser points, relative to the
// text produced by the previous Change of the same revision.
type Change struct {
	StartByte   uint
	OldEndByte  uint
	NewEndByte  uint
	StartPoint  Point
	OldEndPoint Point
	NewEndPoint Point
}

// Origin records who owns a file's text.
type Origin int

const (
	// OriginEditor means the editor has the file open and sends edits.
	OriginEditor Origin = iota
	// OriginDisk means the file was loaded from disk and is refreshed by the watcher.
	OriginDisk
)

// String returns the origin name.
func (o Origin) String() string {
	switch o {
	case OriginEditor:
		return "editor"
	case OriginDisk:
		return "disk"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// Revision is one immutable version of a file's text.
//
// Base is the version the Changes were applied to, or -1 when the revision
// was created from scratch (open, reload, full replacement).
type Revision struct {
	URI      string
	Language string
	Version  int
	Text     string
	Base     int
	Changes  []Change

	linesOnce sync.Once
	lines     *Lines
}

// NewRevision creates a from-scratch revision.
func NewRevision(uri, language string, version int, text string) *Revision {
	return &Revision{
		URI:      uri,
		Language: language,
		Version:  version,
		Text:     text,
		Base:     -1,
	}
}

// Lines returns the line index of the revision text, built on first use.
func (r *Revision) Lines() *Lines {
	r.linesOnce.Do(func() {
		r.lines = NewLines(r.Text)
	})
	return r.lines
}

// Incremental reports whether the revision carries byte-level changes on
// top of its base version.
func (r *Revision) Incremental() bool {
	return r.Base >= 0 && len(r.Changes) > 0
}

// Next applies edits to r and returns the following revision. A full
// replacement anywhere in the sequence makes the result non-incremental.
func (r *Revision) Next(edits []Edit) (*Revision, error) {
	text, changes, err := Apply(r.Text, edits)
	if err != nil {
		return nil, err
	}

	next := &Revision{
		URI:      r.URI,
		Language: r.Language,
		Version:  r.Version + 1,
		Text:     text,
		Base:     r.Version,
		Changes:  changes,
	}
	if changes == nil {
		next.Base = -1
	}
	return next, nil
}

// Apply applies edits in order and returns the new text along with the
// parser changes. changes is nil when any edit replaced the whole text.
func Apply(text string, edits []Edit) (string, []Change, error) {
	changes := make([]Change, 0, len(edits))
	full := false

	for i, edit := range edits {
		if edit.Range == nil {
			text = edit.Text
			full = true
			continue
		}

		lines := NewLines(text)
		start := lines.Offset(edit.Range.Start)
		end := lines.Offset(edit.Range.End)
		if end < start {
			return "", nil, fmt.Errorf("%w: edit %d ends before it starts", ErrInvalidRange, i)
		}

		updated := text[:start] + edit.Text + text[end:]
		newEnd := start + len(edit.Text)

		changes = append(changes, Change{
			StartByte:   uint(start),
			OldEndByte:  uint(end),
			NewEndByte:  uint(newEnd),
			StartPoint:  lines.Point(start),
			OldEndPoint: lines.Point(end),
			NewEndPoint: NewLines(updated).Point(newEnd),
		})
		text = updated
	}

	if full {
		return text, nil, nil
	}
	return text, changes, nil
}

// Append returns an edit that inserts s at the end of text.
func Append(text, s string) Edit {
	end := NewLines(text).Position(len(text))
	return Edit{Range: &Range{Start: end, End: end}, Text: s}
}

// Replace returns an edit that replaces the whole text.
func Replace(s string) Edit {
	return Edit{Text: s}
}
