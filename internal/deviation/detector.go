// Package deviation scores how far a live pose departs from a reference pose.
package deviation

import (
	"math"

	"github.com/ayusman/formcheck/internal/pose"
)

// Label names the body part a deviation refers to.
type Label string

const (
	// LeftElbow flags a left elbow angle mismatch, in degrees.
	LeftElbow Label = "left_elbow"
	// RightElbow flags a right elbow angle mismatch, in degrees.
	RightElbow Label = "right_elbow"
	// ShouldersTilted flags a shoulder tilt mismatch, in normalized units scaled by TiltScale.
	ShouldersTilted Label = "shoulders_tilted"
)

// Joints returns the keypoint indices implicated by a label.
func (l Label) Joints() []int {
	switch l {
	case LeftElbow:
		return []int{pose.LeftElbow}
	case RightElbow:
		return []int{pose.RightElbow}
	case ShouldersTilted:
		return []int{pose.LeftShoulder, pose.RightShoulder}
	}
	return nil
}

// Entry is a labeled deviation magnitude.
type Entry struct {
	Label     Label   `json:"label"`
	Magnitude float64 `json:"magnitude"`
}

// Default bicep curl thresholds. They are uncalibrated policy values.
const (
	DefaultElbowAngleDeg = 10.0
	DefaultShoulderTilt  = 0.1
	DefaultTiltScale     = 100.0
)

// ExerciseBicepCurl identifies the bicep curl rule set.
const ExerciseBicepCurl = "bicep_curl"

// Thresholds holds the policy constants of a rule set.
type Thresholds struct {
	// ElbowAngleDeg is the largest elbow angle difference still considered good form.
	ElbowAngleDeg float64
	// ShoulderTilt is the largest shoulder tilt difference, in normalized units.
	ShoulderTilt float64
	// TiltScale multiplies tilt magnitudes so they report on a scale comparable to degrees.
	TiltScale float64
}

// DefaultThresholds returns the bicep curl thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ElbowAngleDeg: DefaultElbowAngleDeg,
		ShoulderTilt:  DefaultShoulderTilt,
		TiltScale:     DefaultTiltScale,
	}
}

// Detector compares a live frame to a reference frame using the bicep curl rules.
// A Detector is immutable and safe for concurrent use.
type Detector struct {
	thresholds Thresholds
}

// NewDetector creates a Detector. Zero fields of t fall back to the defaults.
func NewDetector(t Thresholds) *Detector {
	d := DefaultThresholds()
	if t.ElbowAngleDeg > 0 {
		d.ElbowAngleDeg = t.ElbowAngleDeg
	}
	if t.ShoulderTilt > 0 {
		d.ShoulderTilt = t.ShoulderTilt
	}
	if t.TiltScale > 0 {
		d.TiltScale = t.TiltScale
	}
	return &Detector{thresholds: d}
}

// Thresholds returns the detector's thresholds.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// Exercise returns the name of the rule set.
func (d *Detector) Exercise() string {
	return ExerciseBicepCurl
}

// Detect returns the deviations of live from ref, in rule order: left elbow,
// right elbow, shoulder tilt. The result is empty when the form matches.
func (d *Detector) Detect(ref, live *pose.NormalizedFrame) []Entry {
	var entries []Entry

	if e, ok := d.ElbowDeviation(LeftElbow, LeftElbowAngle(ref), LeftElbowAngle(live)); ok {
		entries = append(entries, e)
	}
	if e, ok := d.ElbowDeviation(RightElbow, RightElbowAngle(ref), RightElbowAngle(live)); ok {
		entries = append(entries, e)
	}
	if e, ok := d.TiltDeviation(ShoulderTilt(ref), ShoulderTilt(live)); ok {
		entries = append(entries, e)
	}

	return entries
}

// ElbowDeviation checks one elbow. It reports an entry when the angles differ by
// strictly more than the elbow threshold. The difference is rounded to one
// decimal place, the resolution of the angles themselves.
func (d *Detector) ElbowDeviation(label Label, refAngle, liveAngle float64) (Entry, bool) {
	diff := roundAngle(math.Abs(refAngle - liveAngle))
	if diff > d.thresholds.ElbowAngleDeg {
		return Entry{Label: label, Magnitude: diff}, true
	}
	return Entry{}, false
}

// TiltDeviation checks shoulder tilt. The reported magnitude is scaled by TiltScale.
func (d *Detector) TiltDeviation(refTilt, liveTilt float64) (Entry, bool) {
	diff := math.Abs(refTilt - liveTilt)
	if diff > d.thresholds.ShoulderTilt {
		return Entry{Label: ShouldersTilted, Magnitude: diff * d.thresholds.TiltScale}, true
	}
	return Entry{}, false
}
