package render

import (
	"encoding/base64"
	"errors"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/formcheck/internal/deviation"
	"github.com/ayusman/formcheck/internal/pose"
)

func TestBadJoints(t *testing.T) {
	bad := BadJoints([]deviation.Entry{
		{Label: deviation.LeftElbow, Magnitude: 50},
		{Label: deviation.ShouldersTilted, Magnitude: 20},
	})

	for _, j := range []int{pose.LeftElbow, pose.LeftShoulder, pose.RightShoulder} {
		if !bad[j] {
			t.Errorf("expected joint %d to be bad", j)
		}
	}
	if bad[pose.RightElbow] {
		t.Error("right elbow should not be bad")
	}
	if len(BadJoints(nil)) != 0 {
		t.Error("expected no bad joints")
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name    string
		overlay Overlay
		want    string
	}{
		{"no reference", Overlay{}, "NO REFERENCE"},
		{"good form", Overlay{Compared: true}, "GOOD FORM!"},
		{"errors", Overlay{Compared: true, Deviations: []deviation.Entry{
			{Label: deviation.LeftElbow, Magnitude: 50},
			{Label: deviation.RightElbow, Magnitude: 12},
		}}, "ERRORS: 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.overlay); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnnotate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	img := gocv.NewMatWithSize(800, 800, gocv.MatTypeCV8UC3)
	defer img.Close()

	kp := pose.ArmPoseKeypoints(100, 90)
	Annotate(&img, Overlay{
		Keypoints:  kp,
		Deviations: []deviation.Entry{{Label: deviation.LeftElbow, Magnitude: 50}},
		Compared:   true,
	})

	// Vecb is in BGR order.
	left := img.GetVecbAt(int(kp[pose.LeftElbow].Y), int(kp[pose.LeftElbow].X))
	if left[2] != 255 || left[1] != 0 {
		t.Errorf("left elbow should be red, got %v", left)
	}
	right := img.GetVecbAt(int(kp[pose.RightElbow].Y), int(kp[pose.RightElbow].X))
	if right[1] != 255 || right[2] != 0 {
		t.Errorf("right elbow should be green, got %v", right)
	}
}

func TestAnnotate_SkipsUndetected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	img := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()

	var kp pose.Frame
	kp[pose.LeftElbow] = pose.Point2D{X: 50, Y: 0}
	Annotate(&img, Overlay{Keypoints: kp, Compared: true})

	px := img.GetVecbAt(0, 50)
	if px[0] != 0 || px[1] != 0 || px[2] != 0 {
		t.Errorf("undetected joint was drawn: %v", px)
	}
}

func TestCodec(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	t.Run("round trip", func(t *testing.T) {
		img := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
		defer img.Close()
		img.SetTo(gocv.NewScalar(40, 80, 120, 0))

		encoded, err := EncodeBase64(img)
		if err != nil {
			t.Fatalf("EncodeBase64() error = %v", err)
		}

		decoded, err := DecodeBase64("data:image/jpeg;base64," + encoded)
		if err != nil {
			t.Fatalf("DecodeBase64() error = %v", err)
		}
		defer decoded.Close()

		if decoded.Rows() != 120 || decoded.Cols() != 160 {
			t.Errorf("unexpected size %dx%d", decoded.Cols(), decoded.Rows())
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		img, err := DecodeBase64("!!not base64!!")
		defer img.Close()
		if !errors.Is(err, ErrInvalidImage) {
			t.Errorf("expected ErrInvalidImage, got %v", err)
		}
	})

	t.Run("not an image", func(t *testing.T) {
		img, err := DecodeBase64(base64.StdEncoding.EncodeToString([]byte("hello")))
		defer img.Close()
		if !errors.Is(err, ErrInvalidImage) {
			t.Errorf("expected ErrInvalidImage, got %v", err)
		}
	})
}
