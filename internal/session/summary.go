package session

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/formcheck/internal/deviation"
)

// DefaultProgramID is used when a session is finalized without a program id.
const DefaultProgramID = "bicep_curl"

// Summary is the report of a finalized session.
type Summary struct {
	SessionID   string         `json:"session_id"`
	SubjectID   string         `json:"user_id"`
	ProgramID   string         `json:"program_id"`
	Exercise    string         `json:"exercise"`
	Deviations  *deviation.Set `json:"deviations"`
	TotalErrors int            `json:"total_errors"`
	StartedAt   time.Time      `json:"session_start_time"`
	EndedAt     time.Time      `json:"session_end_time"`

	// FramesProcessed counts the frames that were compared to the reference.
	FramesProcessed int `json:"frames_processed"`
	// Labels has one entry per label seen, sorted by label. Unlike Deviations it
	// counts every observation, including those lost to magnitude collisions.
	Labels []LabelStats `json:"labels"`
	// TrajectoryDistance is the DTW distance between the live and reference left
	// elbow angle series, in degrees per frame.
	TrajectoryDistance float64 `json:"trajectory_distance"`
}

// LabelStats describes every magnitude observed for one label.
type LabelStats struct {
	Label deviation.Label `json:"label"`
	Count int             `json:"count"`
	Mean  float64         `json:"mean"`
	Max   float64         `json:"max"`
}

func (r *Record) summarize(subjectID, programID, exercise string, now time.Time) *Summary {
	labels := make([]LabelStats, 0, len(r.magnitudes))
	for label, ms := range r.magnitudes {
		if len(ms) == 0 {
			continue
		}
		labels = append(labels, LabelStats{
			Label: label,
			Count: len(ms),
			Mean:  stat.Mean(ms, nil),
			Max:   floats.Max(ms),
		})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Label < labels[j].Label })

	return &Summary{
		SessionID:          r.id,
		SubjectID:          subjectID,
		ProgramID:          programID,
		Exercise:           exercise,
		Deviations:         r.deviations.Clone(),
		TotalErrors:        r.deviations.Len(),
		StartedAt:          r.startedAt,
		EndedAt:            now,
		FramesProcessed:    r.frames,
		Labels:             labels,
		TrajectoryDistance: r.trajectory.Distance(),
	}
}
