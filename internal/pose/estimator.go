package pose

import "gocv.io/x/gocv"

// Estimator defines the interface for pose estimation implementations.
type Estimator interface {
	// Estimate analyzes an image and returns the keypoints of the most prominent body.
	// When no body is detected it returns a zero Frame and detected=false.
	Estimate(img *gocv.Mat) (frame Frame, detected bool, err error)

	// Close releases any resources held by the estimator.
	Close() error
}

// Config holds configuration options for pose estimation.
type Config struct {
	// Python is the interpreter used to run the pose service. Empty means
	// search for a virtual environment, then fall back to python3.
	Python string

	// Script is the path of the pose service script. Empty means search the
	// default locations.
	Script string

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// IdleTimeoutSec shuts the service down after this many idle seconds.
	IdleTimeoutSec int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MinConfidence:  0.5,
		IdleTimeoutSec: 30,
	}
}
