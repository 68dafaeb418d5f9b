package deviation

import "math"

// DefaultTrajectorySize is the number of most recent frames a Trajectory keeps.
const DefaultTrajectorySize = 600

// DTWDistance calculates the Dynamic Time Warping distance between two angle series.
// Returns infinity if either series is empty.
// The distance is normalized by the longer series length, so it reads as an
// average per-frame angle difference in degrees.
func DTWDistance(a, b []float64) float64 {
	n := len(a)
	m := len(b)

	if n == 0 || m == 0 {
		return math.Inf(1)
	}

	// Two rolling rows of the (n+1) x (m+1) cost matrix.
	prev := make([]float64, m+1)
	curr := make([]float64, m+1)
	for j := range prev {
		prev[j] = math.Inf(1)
	}
	prev[0] = 0

	for i := 1; i <= n; i++ {
		curr[0] = math.Inf(1)
		for j := 1; j <= m; j++ {
			cost := math.Abs(a[i-1] - b[j-1])
			curr[j] = cost + min(prev[j], curr[j-1], prev[j-1])
		}
		prev, curr = curr, prev
	}

	return prev[m] / float64(max(n, m))
}

// Trajectory records the left elbow angle of each processed live frame alongside
// the angle of the reference frame it was paired with. Only the most recent
// frames are kept.
type Trajectory struct {
	live []float64
	ref  []float64
	size int
}

// NewTrajectory creates a Trajectory keeping at most size frames.
// A size of 0 or less uses DefaultTrajectorySize.
func NewTrajectory(size int) *Trajectory {
	if size <= 0 {
		size = DefaultTrajectorySize
	}
	return &Trajectory{
		live: make([]float64, 0, size),
		ref:  make([]float64, 0, size),
		size: size,
	}
}

// Add appends one paired frame, dropping the oldest when full.
func (t *Trajectory) Add(refAngle, liveAngle float64) {
	if len(t.live) >= t.size {
		copy(t.live, t.live[1:])
		copy(t.ref, t.ref[1:])
		t.live = t.live[:t.size-1]
		t.ref = t.ref[:t.size-1]
	}
	t.live = append(t.live, liveAngle)
	t.ref = append(t.ref, refAngle)
}

// Len returns the number of frames held.
func (t *Trajectory) Len() int {
	return len(t.live)
}

// Distance returns the DTW distance between the live and reference series,
// or 0 when nothing has been recorded.
func (t *Trajectory) Distance() float64 {
	if len(t.live) == 0 {
		return 0
	}
	return DTWDistance(t.live, t.ref)
}
