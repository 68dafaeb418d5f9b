// Package pose provides the body keypoint schema, keypoint normalization and the
// pose estimator interface used to turn images into keypoint frames.
package pose

import "gonum.org/v1/gonum/spatial/r2"

// Body keypoint indices following the COCO 17-point convention used by YOLO pose models.
const (
	Nose          = 0
	LeftEye       = 1
	RightEye      = 2
	LeftEar       = 3
	RightEar      = 4
	LeftShoulder  = 5
	RightShoulder = 6
	LeftElbow     = 7
	RightElbow    = 8
	LeftWrist     = 9
	RightWrist    = 10
	LeftHip       = 11
	RightHip      = 12
	LeftKnee      = 13
	RightKnee     = 14
	LeftAnkle     = 15
	RightAnkle    = 16
	NumKeypoints  = 17
)

// ScaleEpsilon is added to the shoulder-hip distance so the normalization divisor
// is never zero, even when detection failed and every keypoint is at the origin.
const ScaleEpsilon = 1e-6

// Point2D represents a 2D point in image or normalized body space.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vec returns the point as a gonum r2 vector.
func (p Point2D) Vec() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// FromVec converts a gonum r2 vector back into a Point2D.
func FromVec(v r2.Vec) Point2D {
	return Point2D{X: v.X, Y: v.Y}
}

// Detected reports whether the point carries a real detection. The estimator
// reports missing joints as the zero position.
func (p Point2D) Detected() bool {
	return p.X > 0 && p.Y > 0
}

// Frame is one sampled set of keypoints from a single image, in pixel coordinates.
// Joints that were not detected are left at the zero position.
type Frame [NumKeypoints]Point2D

// NormalizedFrame is a Frame expressed in body-centered, scale-invariant coordinates.
type NormalizedFrame [NumKeypoints]Point2D

// HipCenter returns the midpoint of the left and right hip keypoints.
func (f *Frame) HipCenter() Point2D {
	return FromVec(r2.Scale(0.5, r2.Add(f[LeftHip].Vec(), f[RightHip].Vec())))
}

// Scale returns the distance from the left shoulder to the left hip plus ScaleEpsilon.
func (f *Frame) Scale() float64 {
	return r2.Norm(r2.Sub(f[LeftShoulder].Vec(), f[LeftHip].Vec())) + ScaleEpsilon
}

// Normalize translates every keypoint so the hip center is at the origin and divides
// by the shoulder-hip distance. The result is invariant to the subject's position in
// the image and distance from the camera, but not to camera rotation.
//
// Degenerate input (for example an all-zero frame from a failed detection) produces a
// degenerate but finite result.
func Normalize(f Frame) NormalizedFrame {
	center := f.HipCenter().Vec()
	inv := 1 / f.Scale()

	var out NormalizedFrame
	for i := 0; i < NumKeypoints; i++ {
		out[i] = FromVec(r2.Scale(inv, r2.Sub(f[i].Vec(), center)))
	}
	return out
}

// NormalizeAll normalizes a sequence of frames, preserving order.
func NormalizeAll(frames []Frame) []NormalizedFrame {
	out := make([]NormalizedFrame, len(frames))
	for i, f := range frames {
		out[i] = Normalize(f)
	}
	return out
}

// Empty reports whether no keypoint in the frame was detected.
func (f *Frame) Empty() bool {
	for _, p := range f {
		if p.Detected() {
			return false
		}
	}
	return true
}
