// Package reference builds and holds the normalized reference motion that live
// sessions are compared against.
package reference

import (
	"errors"
	"sync/atomic"

	"github.com/ayusman/formcheck/internal/pose"
)

// ErrReferenceUnavailable is returned when the reference source is missing,
// unreadable or yields no frames.
var ErrReferenceUnavailable = errors.New("reference unavailable")

// Sequence is an ordered, immutable list of normalized reference frames.
// It is never empty and is safe for concurrent reads.
type Sequence struct {
	frames []pose.NormalizedFrame
	source string
}

// Build normalizes every source frame, in order. It fails with
// ErrReferenceUnavailable when frames is empty.
func Build(frames []pose.Frame) (*Sequence, error) {
	return BuildFrom("", frames)
}

// BuildFrom is Build with a description of where the frames came from.
func BuildFrom(source string, frames []pose.Frame) (*Sequence, error) {
	if len(frames) == 0 {
		return nil, ErrReferenceUnavailable
	}
	return &Sequence{
		frames: pose.NormalizeAll(frames),
		source: source,
	}, nil
}

// Len returns the number of frames in the sequence.
func (s *Sequence) Len() int {
	return len(s.frames)
}

// Frame returns the frame at position i mod Len, so any non-negative position
// is valid and the motion loops indefinitely.
func (s *Sequence) Frame(i int) *pose.NormalizedFrame {
	return &s.frames[i%len(s.frames)]
}

// Source returns the description of the sequence's origin.
func (s *Sequence) Source() string {
	return s.source
}

// Store holds the current reference sequence. Replacing it is a single atomic
// swap, so readers always see either the old or the new sequence in full.
type Store struct {
	current atomic.Pointer[Sequence]
}

// NewStore creates an empty Store. Until a sequence is set, Current returns nil.
func NewStore() *Store {
	return &Store{}
}

// Current returns the current sequence, or nil when no reference is loaded.
func (s *Store) Current() *Sequence {
	return s.current.Load()
}

// Available reports whether a reference is loaded.
func (s *Store) Available() bool {
	return s.current.Load() != nil
}

// Set replaces the current sequence.
func (s *Store) Set(seq *Sequence) {
	s.current.Store(seq)
}

// Load builds a sequence from frames and makes it current. On failure the
// previously loaded sequence stays in place.
func (s *Store) Load(source string, frames []pose.Frame) (*Sequence, error) {
	seq, err := BuildFrom(source, frames)
	if err != nil {
		return nil, err
	}
	s.current.Store(seq)
	return seq, nil
}
