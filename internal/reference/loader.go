package reference

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ayusman/formcheck/internal/pose"
)

// KeypointFile is the on-disk form of pre-extracted reference keypoints.
type KeypointFile struct {
	Source string       `json:"source"`
	Frames []pose.Frame `json:"frames"`
}

// ProgressFunc is called after each decoded frame with the number of frames
// processed so far and the total reported by the container (0 if unknown).
type ProgressFunc func(done, total int)

// LoadFile reads reference keypoints from path. Files ending in .json are read as
// a KeypointFile; anything else is decoded as video and passed through est frame
// by frame. Any failure is reported as ErrReferenceUnavailable.
func LoadFile(path string, est pose.Estimator, progress ProgressFunc) ([]pose.Frame, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no reference path configured", ErrReferenceUnavailable)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReferenceUnavailable, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ReadKeypointFile(path)
	}
	if est == nil {
		return nil, fmt.Errorf("%w: no pose estimator for video %s", ErrReferenceUnavailable, path)
	}
	return ExtractVideo(path, est, progress)
}

// ReadKeypointFile reads a KeypointFile from disk.
func ReadKeypointFile(path string) ([]pose.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReferenceUnavailable, err)
	}

	var kf KeypointFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrReferenceUnavailable, path, err)
	}
	if len(kf.Frames) == 0 {
		return nil, fmt.Errorf("%w: %s has no frames", ErrReferenceUnavailable, path)
	}

	return kf.Frames, nil
}

// WriteKeypointFile writes frames to path as a KeypointFile.
func WriteKeypointFile(path, source string, frames []pose.Frame) error {
	data, err := json.Marshal(KeypointFile{Source: source, Frames: frames})
	if err != nil {
		return fmt.Errorf("encode keypoints: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write keypoints: %w", err)
	}
	return nil
}

// ExtractVideo decodes every frame of a video file and estimates its keypoints.
// Frames without a detected body are kept as zero frames so the reference timing
// is preserved.
func ExtractVideo(path string, est pose.Estimator, progress ProgressFunc) ([]pose.Frame, error) {
	capture, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrReferenceUnavailable, path, err)
	}
	defer capture.Close()

	if !capture.IsOpened() {
		return nil, fmt.Errorf("%w: cannot open %s", ErrReferenceUnavailable, path)
	}

	total := int(capture.Get(gocv.VideoCaptureFrameCount))
	if total < 0 {
		total = 0
	}

	mat := gocv.NewMat()
	defer mat.Close()

	var frames []pose.Frame
	for {
		if ok := capture.Read(&mat); !ok || mat.Empty() {
			break
		}

		kp, _, err := est.Estimate(&mat)
		if err != nil {
			return nil, fmt.Errorf("%w: estimate frame %d: %v", ErrReferenceUnavailable, len(frames), err)
		}
		frames = append(frames, kp)

		if progress != nil {
			progress(len(frames), total)
		}
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames decoded from %s", ErrReferenceUnavailable, path)
	}

	return frames, nil
}

// IsUnavailable reports whether err means no reference could be loaded.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrReferenceUnavailable)
}
