package pose

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrServiceNotFound is returned when the pose service script cannot be located.
var ErrServiceNotFound = errors.New("pose_service.py not found")

// ServiceEstimator implements Estimator using a Python pose-model subprocess.
//
// Each request writes a 4-byte big-endian length followed by a JPEG image to the
// process stdin; the process answers with one JSON line:
//
//	{"detected": true, "keypoints": [[x, y], ...]}
type ServiceEstimator struct {
	config    Config
	script    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewServiceEstimator creates a new subprocess-backed estimator.
// The Python process is started lazily on first estimation.
func NewServiceEstimator(config Config) (*ServiceEstimator, error) {
	script := config.Script
	if script == "" {
		script = findServiceScript()
	}
	if script == "" {
		return nil, ErrServiceNotFound
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("pose service script: %w", err)
	}

	return &ServiceEstimator{
		config: config,
		script: script,
	}, nil
}

// Estimate sends a frame to the pose service and returns the parsed keypoints.
func (e *ServiceEstimator) Estimate(img *gocv.Mat) (Frame, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureStarted(); err != nil {
		return Frame{}, false, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *img)
	if err != nil {
		return Frame{}, false, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := e.stdin.Write(append(length, data...)); err != nil {
		e.shutdown()
		return Frame{}, false, fmt.Errorf("write frame: %w", err)
	}

	line, err := e.stdout.ReadString('\n')
	if err != nil {
		// A dead process is restarted on the next frame.
		e.shutdown()
		return Frame{}, false, fmt.Errorf("read response: %w", err)
	}

	frame, detected, err := parseServiceResponse([]byte(line))
	if err != nil {
		return Frame{}, false, err
	}

	e.resetIdleTimer()
	return frame, detected, nil
}

// Close shuts down the Python process.
func (e *ServiceEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown()
}

func (e *ServiceEstimator) ensureStarted() error {
	if e.started {
		return nil
	}

	python := e.config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	e.cmd = exec.Command(python, e.script,
		"--min-confidence", strconv.FormatFloat(e.config.MinConfidence, 'f', -1, 64))

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	e.cmd.Stderr = os.Stderr

	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("start pose service: %w", err)
	}

	e.stdin = stdin
	e.stdout = bufio.NewReader(stdout)
	e.started = true

	return nil
}

func (e *ServiceEstimator) shutdown() error {
	if !e.started {
		return nil
	}

	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}

	if e.stdin != nil {
		e.stdin.Close()
	}

	err := e.cmd.Wait()
	e.started = false
	e.cmd = nil
	e.stdin = nil
	e.stdout = nil

	return err
}

func (e *ServiceEstimator) resetIdleTimer() {
	if e.config.IdleTimeoutSec <= 0 {
		return
	}
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(time.Duration(e.config.IdleTimeoutSec)*time.Second, func() {
		e.idleExpired(t)
	})
	e.idleTimer = t
}

// idleExpired stops the process when t is still the current idle timer. A timer
// that fired while a frame was in flight has been replaced and is ignored.
func (e *ServiceEstimator) idleExpired(t *time.Timer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.idleTimer != t {
		return
	}
	e.idleTimer = nil
	e.shutdown()
}

// serviceResponse represents the JSON line written by the pose service.
type serviceResponse struct {
	Detected  bool        `json:"detected"`
	Keypoints [][]float64 `json:"keypoints"`
}

func parseServiceResponse(line []byte) (Frame, bool, error) {
	var resp serviceResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return Frame{}, false, fmt.Errorf("parse response: %w", err)
	}

	var frame Frame
	if !resp.Detected {
		return frame, false, nil
	}

	for i := 0; i < NumKeypoints && i < len(resp.Keypoints); i++ {
		kp := resp.Keypoints[i]
		if len(kp) < 2 {
			continue
		}
		frame[i] = Point2D{X: kp[0], Y: kp[1]}
	}

	return frame, true, nil
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/pose_service.py",
		"../scripts/pose_service.py",
		filepath.Join(execDir, "scripts/pose_service.py"),
		filepath.Join(os.Getenv("HOME"), ".formcheck/scripts/pose_service.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".formcheck/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
