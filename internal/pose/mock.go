package pose

import (
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// MockEstimator is a test implementation of the Estimator interface.
// It allows tests to control the estimation results.
type MockEstimator struct {
	mu       sync.Mutex
	frames   []Frame
	next     int
	detected bool
	err      error
	calls    int
	closed   bool
}

// NewMockEstimator creates a new MockEstimator that reports no body.
func NewMockEstimator() *MockEstimator {
	return &MockEstimator{}
}

// SetFrame makes every subsequent Estimate return the given frame.
func (m *MockEstimator) SetFrame(f Frame) {
	m.SetSequence([]Frame{f})
}

// SetSequence makes Estimate return the given frames in order, repeating the last one.
func (m *MockEstimator) SetSequence(frames []Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = frames
	m.next = 0
	m.detected = len(frames) > 0
}

// SetError sets the error that will be returned by Estimate.
func (m *MockEstimator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Estimate has been called.
func (m *MockEstimator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close has been called.
func (m *MockEstimator) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Estimate returns the pre-configured frame or error.
func (m *MockEstimator) Estimate(img *gocv.Mat) (Frame, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return Frame{}, false, m.err
	}
	if !m.detected {
		return Frame{}, false, nil
	}

	f := m.frames[m.next]
	if m.next < len(m.frames)-1 {
		m.next++
	}
	return f, true, nil
}

// Close marks the mock as closed.
func (m *MockEstimator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ArmPoseKeypoints returns a preset standing body, in pixel coordinates, with the
// upper arms hanging straight down and each forearm bent so the shoulder-elbow-wrist
// angle equals the given value in degrees. 180 is a fully extended arm.
func ArmPoseKeypoints(leftElbowDeg, rightElbowDeg float64) Frame {
	var f Frame

	f[Nose] = Point2D{X: 350, Y: 120}
	f[LeftEye] = Point2D{X: 360, Y: 110}
	f[RightEye] = Point2D{X: 340, Y: 110}
	f[LeftEar] = Point2D{X: 372, Y: 115}
	f[RightEar] = Point2D{X: 328, Y: 115}

	f[LeftShoulder] = Point2D{X: 400, Y: 200}
	f[RightShoulder] = Point2D{X: 300, Y: 200}
	f[LeftHip] = Point2D{X: 390, Y: 400}
	f[RightHip] = Point2D{X: 310, Y: 400}
	f[LeftKnee] = Point2D{X: 390, Y: 550}
	f[RightKnee] = Point2D{X: 310, Y: 550}
	f[LeftAnkle] = Point2D{X: 390, Y: 700}
	f[RightAnkle] = Point2D{X: 310, Y: 700}

	// Upper arms point straight down from the shoulders.
	f[LeftElbow] = Point2D{X: 400, Y: 300}
	f[RightElbow] = Point2D{X: 300, Y: 300}

	f[LeftWrist] = forearm(f[LeftElbow], leftElbowDeg, 1)
	f[RightWrist] = forearm(f[RightElbow], rightElbowDeg, -1)

	return f
}

// forearm places a wrist 80px from the elbow, rotated from the elbow-to-shoulder
// direction (straight up) by the given angle.
func forearm(elbow Point2D, deg, side float64) Point2D {
	rad := deg * math.Pi / 180
	return Point2D{
		X: elbow.X + side*80*math.Sin(rad),
		Y: elbow.Y - 80*math.Cos(rad),
	}
}
