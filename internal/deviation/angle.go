package deviation

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/ayusman/formcheck/internal/pose"
)

// angleEpsilon keeps the cosine denominator non-zero when two joints coincide.
const angleEpsilon = 1e-6

// Rule angles are rounded to one decimal place.
const angleDecimalScale = 10

// JointAngle returns the angle in degrees at vertex b formed by the points a-b-c.
// The cosine is clamped to [-1, 1] so floating-point overshoot never leaves the
// domain of arccos. Coincident points yield 90 degrees rather than NaN.
func JointAngle(a, b, c pose.Point2D) float64 {
	ba := r2.Sub(a.Vec(), b.Vec())
	bc := r2.Sub(c.Vec(), b.Vec())

	cosine := r2.Dot(ba, bc) / (r2.Norm(ba)*r2.Norm(bc) + angleEpsilon)
	cosine = math.Max(-1, math.Min(1, cosine))

	return math.Acos(cosine) * 180 / math.Pi
}

func roundAngle(deg float64) float64 {
	return math.Round(deg*angleDecimalScale) / angleDecimalScale
}

// LeftElbowAngle returns the left shoulder-elbow-wrist angle of a frame,
// rounded to one decimal place.
func LeftElbowAngle(f *pose.NormalizedFrame) float64 {
	return roundAngle(JointAngle(f[pose.LeftShoulder], f[pose.LeftElbow], f[pose.LeftWrist]))
}

// RightElbowAngle returns the right shoulder-elbow-wrist angle of a frame,
// rounded to one decimal place.
func RightElbowAngle(f *pose.NormalizedFrame) float64 {
	return roundAngle(JointAngle(f[pose.RightShoulder], f[pose.RightElbow], f[pose.RightWrist]))
}

// ShoulderTilt returns the absolute vertical offset between the two shoulders.
func ShoulderTilt(f *pose.NormalizedFrame) float64 {
	return math.Abs(f[pose.LeftShoulder].Y - f[pose.RightShoulder].Y)
}
