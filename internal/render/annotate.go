// Package render draws form feedback onto camera frames and converts frames to
// and from the base64 JPEG form used on the session socket.
package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/formcheck/internal/deviation"
	"github.com/ayusman/formcheck/internal/pose"
)

// Colors are RGBA; gocv converts them to the BGR order OpenCV expects.
var (
	colorBad  = color.RGBA{R: 255}
	colorGood = color.RGBA{G: 255}
	colorIdle = color.RGBA{R: 255, G: 200}
)

const (
	lineThickness = 4
	focusRadius   = 12
	jointRadius   = 6
	textScale     = 1.5
	textThickness = 3
)

var textOrigin = image.Point{X: 50, Y: 100}

// Skeleton lists the keypoint pairs connected in the overlay.
var Skeleton = [][2]int{
	{pose.LeftShoulder, pose.RightShoulder},
	{pose.LeftShoulder, pose.LeftElbow},
	{pose.LeftElbow, pose.LeftWrist},
	{pose.RightShoulder, pose.RightElbow},
	{pose.RightElbow, pose.RightWrist},
	{pose.LeftShoulder, pose.LeftHip},
	{pose.RightShoulder, pose.RightHip},
	{pose.LeftHip, pose.RightHip},
}

// FocusJoints are the joints the bicep curl rules look at. They are drawn larger.
var FocusJoints = map[int]bool{
	pose.LeftShoulder:  true,
	pose.RightShoulder: true,
	pose.LeftElbow:     true,
	pose.RightElbow:    true,
}

// Overlay describes what to draw on one frame.
type Overlay struct {
	Keypoints  pose.Frame
	Deviations []deviation.Entry
	// Compared is false when no reference was available for the frame.
	Compared bool
}

// BadJoints returns the joints implicated by a set of deviations.
func BadJoints(entries []deviation.Entry) map[int]bool {
	bad := make(map[int]bool)
	for _, e := range entries {
		for _, j := range e.Label.Joints() {
			bad[j] = true
		}
	}
	return bad
}

// Text returns the status line drawn on a frame.
func Text(o Overlay) string {
	switch {
	case !o.Compared:
		return "NO REFERENCE"
	case len(o.Deviations) > 0:
		return fmt.Sprintf("ERRORS: %d", len(o.Deviations))
	default:
		return "GOOD FORM!"
	}
}

// Annotate draws the skeleton, joints and status text onto img in place.
// Joints that were not detected are skipped.
func Annotate(img *gocv.Mat, o Overlay) {
	bad := BadJoints(o.Deviations)
	kp := o.Keypoints

	for _, pair := range Skeleton {
		a, b := kp[pair[0]], kp[pair[1]]
		if a.X <= 0 || b.X <= 0 {
			continue
		}
		c := colorGood
		if bad[pair[0]] || bad[pair[1]] {
			c = colorBad
		}
		gocv.Line(img, point(a), point(b), c, lineThickness)
	}

	for idx, p := range kp {
		if !p.Detected() {
			continue
		}
		c := colorGood
		if bad[idx] {
			c = colorBad
		}
		radius := jointRadius
		if FocusJoints[idx] {
			radius = focusRadius
		}
		gocv.Circle(img, point(p), radius, c, -1)
	}

	c := colorGood
	if !o.Compared {
		c = colorIdle
	} else if len(o.Deviations) > 0 {
		c = colorBad
	}
	gocv.PutText(img, Text(o), textOrigin, gocv.FontHersheySimplex, textScale, c, textThickness)
}

func point(p pose.Point2D) image.Point {
	return image.Point{X: int(p.X), Y: int(p.Y)}
}
