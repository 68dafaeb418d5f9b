package deviation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Set accumulates deviations keyed by magnitude.
//
// This keeps the report format of the session logging service, where deviations
// are an object of magnitude -> label. Magnitude is not a unique key: a later entry
// with exactly the same magnitude overwrites the label of the earlier one and the
// earlier one is lost. Len therefore counts distinct magnitudes, not deviations.
//
// The zero value is an empty set ready to use. A Set is not safe for concurrent use.
type Set struct {
	order  []float64
	labels map[float64]Label
}

// NewSet returns a set holding the given entries, merged in order.
func NewSet(entries ...Entry) *Set {
	s := &Set{}
	s.Merge(entries)
	return s
}

// Put records one entry. An existing key keeps its position and takes the new label.
func (s *Set) Put(e Entry) {
	if s.labels == nil {
		s.labels = make(map[float64]Label)
	}
	if _, ok := s.labels[e.Magnitude]; !ok {
		s.order = append(s.order, e.Magnitude)
	}
	s.labels[e.Magnitude] = e.Label
}

// Merge records entries in order.
func (s *Set) Merge(entries []Entry) {
	for _, e := range entries {
		s.Put(e)
	}
}

// Len returns the number of distinct magnitudes held.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Label returns the label stored under a magnitude.
func (s *Set) Label(magnitude float64) (Label, bool) {
	if s == nil {
		return "", false
	}
	l, ok := s.labels[magnitude]
	return l, ok
}

// Entries returns the held entries in first-insertion order.
func (s *Set) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, 0, len(s.order))
	for _, m := range s.order {
		out = append(out, Entry{Label: s.labels[m], Magnitude: m})
	}
	return out
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	return NewSet(s.Entries()...)
}

// MarshalJSON encodes the set as an object of formatted magnitude -> label,
// in insertion order.
func (s *Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.Entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(FormatMagnitude(e.Magnitude))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(string(e.Label))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object of magnitude -> label. Key order is preserved.
func (s *Set) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("deviation set: expected object, got %v", tok)
	}

	*s = Set{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		m, err := strconv.ParseFloat(key, 64)
		if err != nil {
			return err
		}
		var label string
		if err := dec.Decode(&label); err != nil {
			return err
		}
		s.Put(Entry{Label: Label(label), Magnitude: m})
	}
	_, err = dec.Token()
	return err
}

// FormatMagnitude renders a magnitude the way the logging service expects object
// keys: the shortest round-trip decimal, always with a fractional part ("50.0").
func FormatMagnitude(m float64) string {
	s := strconv.FormatFloat(m, 'f', -1, 64)
	if !math.IsInf(m, 0) && !math.IsNaN(m) && !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
