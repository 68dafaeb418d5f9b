// Package session tracks per-session comparison state and aggregates the
// deviations observed over a session into a summary.
package session

import (
	"sync"
	"time"

	"github.com/ayusman/formcheck/internal/deviation"
)

// State is the lifecycle state of a session.
type State int

const (
	// Created sessions exist but have not recorded a compared frame yet.
	Created State = iota
	// Active sessions have recorded at least one compared frame.
	Active
	// Finalized sessions produced a summary and were removed.
	Finalized
	// Abandoned sessions were removed without a summary, after a disconnect or an idle timeout.
	Abandoned
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Active:
		return "active"
	case Finalized:
		return "finalized"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Cursor is a session's position in the reference sequence. It starts at 0 and
// only moves forward.
type Cursor struct {
	pos int
}

// Next returns the reference index for the current position given a sequence
// of length n. It returns 0 when n is not positive.
func (c *Cursor) Next(n int) int {
	if n <= 0 {
		return 0
	}
	return c.pos % n
}

// Advance moves the cursor forward by one frame.
func (c *Cursor) Advance() {
	c.pos++
}

// Position returns the number of times the cursor has advanced.
func (c *Cursor) Position() int {
	return c.pos
}

// Record is the mutable state of one live session. Records are only reachable
// through Manager.Update, which serializes access to them.
type Record struct {
	mu sync.Mutex

	id         string
	state      State
	cursor     Cursor
	deviations *deviation.Set
	magnitudes map[deviation.Label][]float64
	trajectory *deviation.Trajectory
	frames     int
	startedAt  time.Time
	lastSeen   time.Time
}

func newRecord(id string, now time.Time, trajectorySize int) *Record {
	return &Record{
		id:         id,
		state:      Created,
		deviations: &deviation.Set{},
		magnitudes: make(map[deviation.Label][]float64),
		trajectory: deviation.NewTrajectory(trajectorySize),
		startedAt:  now,
		lastSeen:   now,
	}
}

// ID returns the session identifier.
func (r *Record) ID() string {
	return r.id
}

// State returns the lifecycle state.
func (r *Record) State() State {
	return r.state
}

// Cursor returns the session's reference cursor.
func (r *Record) Cursor() *Cursor {
	return &r.cursor
}

// Frames returns the number of compared frames recorded.
func (r *Record) Frames() int {
	return r.frames
}

// Deviations returns the accumulated deviation set. The set must not be kept
// beyond the Update call that returned it.
func (r *Record) Deviations() *deviation.Set {
	return r.deviations
}

// Record merges the deviations of one compared frame into the session.
func (r *Record) Record(entries []deviation.Entry) {
	r.deviations.Merge(entries)
	for _, e := range entries {
		r.magnitudes[e.Label] = append(r.magnitudes[e.Label], e.Magnitude)
	}
	r.frames++
	r.state = Active
}

// Track adds the paired reference and live elbow angles of a compared frame to
// the session's trajectory.
func (r *Record) Track(refAngle, liveAngle float64) {
	r.trajectory.Add(refAngle, liveAngle)
}

func (r *Record) live() bool {
	return r.state == Created || r.state == Active
}
