// Package engine pairs live frames with the reference motion, scores them and
// feeds the results into per-session aggregation.
package engine

import (
	"github.com/ayusman/formcheck/internal/deviation"
	"github.com/ayusman/formcheck/internal/pose"
	"github.com/ayusman/formcheck/internal/reference"
	"github.com/ayusman/formcheck/internal/session"
)

// Result is the outcome of processing one live frame.
type Result struct {
	// Compared is false when no reference is loaded and the frame was not scored.
	Compared bool
	// RefIndex is the reference frame the live frame was paired with.
	RefIndex int
	// Deviations found in this frame, in rule order.
	Deviations []deviation.Entry
	// Total is the number of distinct deviations accumulated by the session so far.
	Total int
}

// Engine is safe for concurrent use. Frames of a single session must be
// submitted in order by one caller at a time.
type Engine struct {
	refs     *reference.Store
	detector *deviation.Detector
	sessions *session.Manager
}

// New creates an Engine.
func New(refs *reference.Store, detector *deviation.Detector, sessions *session.Manager) *Engine {
	return &Engine{
		refs:     refs,
		detector: detector,
		sessions: sessions,
	}
}

// StartSession creates a session. It reports false if the session already existed.
func (e *Engine) StartSession(id string) bool {
	return e.sessions.Start(id)
}

// ProcessFrame compares one live frame against the reference frame at the
// session's cursor, records the deviations and advances the cursor. The session
// is created on its first frame.
//
// Without a reference the frame is not compared and the cursor does not move.
func (e *Engine) ProcessFrame(id string, frame pose.Frame) (Result, error) {
	seq := e.refs.Current()

	var res Result
	err := e.sessions.Update(id, true, func(r *session.Record) error {
		if seq == nil {
			res.Total = r.Deviations().Len()
			return nil
		}

		cursor := r.Cursor()
		idx := cursor.Next(seq.Len())
		cursor.Advance()

		live := pose.Normalize(frame)
		ref := seq.Frame(idx)
		entries := e.detector.Detect(ref, &live)

		r.Record(entries)
		r.Track(deviation.LeftElbowAngle(ref), deviation.LeftElbowAngle(&live))

		res = Result{
			Compared:   true,
			RefIndex:   idx,
			Deviations: entries,
			Total:      r.Deviations().Len(),
		}
		return nil
	})
	return res, err
}

// Finalize ends a session and returns its summary.
func (e *Engine) Finalize(id, subjectID, programID string) (*session.Summary, error) {
	return e.sessions.Finalize(id, subjectID, programID)
}

// Abandon discards a session without a summary.
func (e *Engine) Abandon(id string) bool {
	return e.sessions.Abandon(id)
}

// References returns the reference store.
func (e *Engine) References() *reference.Store {
	return e.refs
}

// Sessions returns the session manager.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Detector returns the deviation detector.
func (e *Engine) Detector() *deviation.Detector {
	return e.detector
}
