package reference

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ayusman/formcheck/internal/pose"
)

func TestBuild(t *testing.T) {
	t.Run("normalizes frames in order", func(t *testing.T) {
		frames := []pose.Frame{
			pose.ArmPoseKeypoints(90, 90),
			pose.ArmPoseKeypoints(150, 150),
			pose.ArmPoseKeypoints(120, 120),
		}

		seq, err := Build(frames)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if seq.Len() != 3 {
			t.Fatalf("expected 3 frames, got %d", seq.Len())
		}
		for i, f := range frames {
			if *seq.Frame(i) != pose.Normalize(f) {
				t.Errorf("frame %d is not the normalized source frame", i)
			}
		}
	})

	t.Run("empty source is unavailable", func(t *testing.T) {
		seq, err := Build(nil)
		if !errors.Is(err, ErrReferenceUnavailable) {
			t.Errorf("expected ErrReferenceUnavailable, got %v", err)
		}
		if seq != nil {
			t.Error("expected nil sequence")
		}
	})

	t.Run("frame index wraps around", func(t *testing.T) {
		seq, err := Build([]pose.Frame{pose.ArmPoseKeypoints(90, 90), pose.ArmPoseKeypoints(150, 150)})
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if seq.Frame(5) != seq.Frame(1) {
			t.Error("expected position 5 to map to frame 1")
		}
	})
}

func TestStore(t *testing.T) {
	t.Run("starts unavailable", func(t *testing.T) {
		s := NewStore()
		if s.Available() || s.Current() != nil {
			t.Error("expected empty store")
		}
	})

	t.Run("failed load leaves the store untouched", func(t *testing.T) {
		s := NewStore()
		if _, err := s.Load("empty", nil); !errors.Is(err, ErrReferenceUnavailable) {
			t.Fatalf("expected ErrReferenceUnavailable, got %v", err)
		}
		if s.Available() {
			t.Fatal("store should still be unavailable")
		}

		first, err := s.Load("good", []pose.Frame{pose.ArmPoseKeypoints(90, 90)})
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if _, err := s.Load("empty", []pose.Frame{}); err == nil {
			t.Fatal("expected error for empty reload")
		}
		if s.Current() != first {
			t.Error("failed reload replaced the current sequence")
		}
		if s.Current().Source() != "good" {
			t.Errorf("unexpected source %q", s.Current().Source())
		}
	})

	t.Run("concurrent readers see whole sequences", func(t *testing.T) {
		s := NewStore()
		short, _ := Build([]pose.Frame{pose.ArmPoseKeypoints(90, 90)})
		long, _ := Build([]pose.Frame{pose.ArmPoseKeypoints(90, 90), pose.ArmPoseKeypoints(150, 150)})
		s.Set(short)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 1000; j++ {
					seq := s.Current()
					if n := seq.Len(); n != 1 && n != 2 {
						t.Errorf("unexpected length %d", n)
						return
					}
					_ = seq.Frame(j)
				}
			}()
		}
		for j := 0; j < 100; j++ {
			if j%2 == 0 {
				s.Set(long)
			} else {
				s.Set(short)
			}
		}
		wg.Wait()
	})
}

func TestLoadFile(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.mp4"), pose.NewMockEstimator(), nil)
		if !IsUnavailable(err) {
			t.Errorf("expected unavailable error, got %v", err)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := LoadFile("", nil, nil); !IsUnavailable(err) {
			t.Errorf("expected unavailable error, got %v", err)
		}
	})

	t.Run("keypoint file round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reference.json")
		frames := []pose.Frame{pose.ArmPoseKeypoints(90, 90), pose.ArmPoseKeypoints(150, 150)}
		if err := WriteKeypointFile(path, "bicep_correct.mp4", frames); err != nil {
			t.Fatalf("WriteKeypointFile() error = %v", err)
		}

		got, err := LoadFile(path, nil, nil)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if len(got) != 2 || got[1] != frames[1] {
			t.Errorf("unexpected frames %v", got)
		}
	})

	t.Run("keypoint file without frames", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.json")
		if err := os.WriteFile(path, []byte(`{"source":"x","frames":[]}`), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFile(path, nil, nil); !IsUnavailable(err) {
			t.Errorf("expected unavailable error, got %v", err)
		}
	})

	t.Run("corrupt keypoint file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(path, []byte(`{"frames":`), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFile(path, nil, nil); !IsUnavailable(err) {
			t.Errorf("expected unavailable error, got %v", err)
		}
	})

	t.Run("video without estimator", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ref.mp4")
		if err := os.WriteFile(path, []byte("not a video"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFile(path, nil, nil); !IsUnavailable(err) {
			t.Errorf("expected unavailable error, got %v", err)
		}
	})
}
