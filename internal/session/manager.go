package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ayusman/formcheck/internal/deviation"
)

var (
	// ErrMissingSubjectID is returned by Finalize when no subject id was given.
	// The session is kept so the caller can retry.
	ErrMissingSubjectID = errors.New("user_id required")
	// ErrUnknownSession is returned for operations on a session with no live state.
	ErrUnknownSession = errors.New("unknown session")
)

// Defaults for Options.
const (
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultReapInterval = 30 * time.Second
)

// Options configures a Manager.
type Options struct {
	// Exercise is reported in every summary.
	Exercise string
	// IdleTimeout is how long a session may go without activity before it is reaped.
	IdleTimeout time.Duration
	// TrajectorySize bounds the per-session elbow angle history.
	TrajectorySize int
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Manager owns every live session record. Different sessions never block one
// another beyond a short map lookup; operations on one session are serialized.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Record
	opts     Options
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.Exercise == "" {
		opts.Exercise = deviation.ExerciseBicepCurl
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		sessions: make(map[string]*Record),
		opts:     opts,
	}
}

// Start creates a session if it does not exist yet. It reports whether a new
// session was created.
func (m *Manager) Start(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		return false
	}
	m.sessions[id] = newRecord(id, m.opts.Now(), m.opts.TrajectorySize)
	return true
}

// Update runs fn with exclusive access to a session's record. When create is
// true a missing session is started first; otherwise a missing session yields
// ErrUnknownSession. The error returned by fn is passed through.
func (m *Manager) Update(id string, create bool, fn func(r *Record) error) error {
	m.mu.Lock()
	r, ok := m.sessions[id]
	if !ok {
		if !create {
			m.mu.Unlock()
			return ErrUnknownSession
		}
		r = newRecord(id, m.opts.Now(), m.opts.TrajectorySize)
		m.sessions[id] = r
	}
	m.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Finalized or reaped between the lookup and the lock.
	if !r.live() {
		return ErrUnknownSession
	}
	r.lastSeen = m.opts.Now()
	return fn(r)
}

// Record merges the deviations of one compared frame into a session.
func (m *Manager) Record(id string, entries []deviation.Entry) error {
	return m.Update(id, false, func(r *Record) error {
		r.Record(entries)
		return nil
	})
}

// Finalize ends a session and returns its summary. An empty programID uses
// DefaultProgramID.
//
// Without a subject id it fails with ErrMissingSubjectID and leaves the session
// in place. Once a summary is produced the session is gone, and a second
// Finalize fails with ErrUnknownSession.
func (m *Manager) Finalize(id, subjectID, programID string) (*Summary, error) {
	if subjectID == "" {
		return nil, ErrMissingSubjectID
	}
	if programID == "" {
		programID = DefaultProgramID
	}

	r := m.remove(id)
	if r == nil {
		return nil, ErrUnknownSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.live() {
		return nil, ErrUnknownSession
	}
	r.state = Finalized
	return r.summarize(subjectID, programID, m.opts.Exercise, m.opts.Now()), nil
}

// Abandon discards a session without producing a summary. It reports whether
// the session existed.
func (m *Manager) Abandon(id string) bool {
	r := m.remove(id)
	if r == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.live() {
		return false
	}
	r.state = Abandoned
	return true
}

// Reap abandons every session idle for longer than the idle timeout and returns
// their ids.
func (m *Manager) Reap() []string {
	cutoff := m.opts.Now().Add(-m.opts.IdleTimeout)

	m.mu.Lock()
	var stale []*Record
	for id, r := range m.sessions {
		r.mu.Lock()
		if r.lastSeen.Before(cutoff) {
			r.state = Abandoned
			delete(m.sessions, id)
			stale = append(stale, r)
		}
		r.mu.Unlock()
	}
	m.mu.Unlock()

	ids := make([]string, len(stale))
	for i, r := range stale {
		ids[i] = r.id
	}
	return ids
}

// Run reaps idle sessions every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := m.Reap(); len(ids) > 0 {
				log.Printf("Reaped %d idle sessions", len(ids))
			}
		}
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Exercise returns the exercise reported in summaries.
func (m *Manager) Exercise() string {
	return m.opts.Exercise
}

func (m *Manager) remove(id string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	return r
}
